package fakeprofilerepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/primehr-session/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

// FakeProfileRepo is an in-memory profiles.Repo. Reads can be made to fail or block
// to exercise the passive fetch path.
type FakeProfileRepo struct {
	profiles map[string]*profiles.Profile
	lock     sync.RWMutex

	getErr  error
	getHook func(ctx context.Context, userID string)
	gets    int
}

func NewFakeProfileRepo() *FakeProfileRepo {
	return &FakeProfileRepo{
		profiles: make(map[string]*profiles.Profile),
	}
}

// FailGets makes every subsequent Get return err. A nil err restores normal behaviour.
func (r *FakeProfileRepo) FailGets(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.getErr = err
}

// OnGet installs a hook that runs at the start of every Get, outside the lock.
func (r *FakeProfileRepo) OnGet(hook func(ctx context.Context, userID string)) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.getHook = hook
}

// Gets returns how many times Get has been called.
func (r *FakeProfileRepo) Gets() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.gets
}

// Count returns the number of stored profiles.
func (r *FakeProfileRepo) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.profiles)
}

func (r *FakeProfileRepo) Get(ctx context.Context, userID string) (*profiles.Profile, error) {
	r.lock.Lock()
	r.gets++
	hook := r.getHook
	r.lock.Unlock()

	if hook != nil {
		hook(ctx, userID)
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.getErr != nil {
		return nil, r.getErr
	}
	p, ok := r.profiles[userID]
	if !ok {
		return nil, profiles.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *FakeProfileRepo) Upsert(ctx context.Context, p *profiles.Profile) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	cp := *p
	r.profiles[p.ID] = &cp
	return nil
}

func (r *FakeProfileRepo) Delete(ctx context.Context, userID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.profiles[userID]; !ok {
		return profiles.ErrNotFound
	}
	delete(r.profiles, userID)
	return nil
}
