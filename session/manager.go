// Package session tracks the signed-in user of one application instance: the
// provider session, the user derived from it and the application profile.
//
// A Manager is an actor. Provider notifications land in an unbounded mailbox
// and a single goroutine applies them one at a time, fetching the profile
// before moving to the next event, so a slow fetch for an old session can
// never overwrite the state of a newer one.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/primehr-session/notify"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const dashboardPath = "/dashboard"

// Manager owns the session state of one application instance.
type Manager struct {
	client         provider.Client
	profiles       profiles.Reader
	logger         zerolog.Logger
	notifier       notify.Notifier
	recorder       Recorder
	siteURL        string
	profileTimeout time.Duration

	lifecycleMu sync.Mutex
	initialized bool
	disposed    atomic.Bool
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	box         *mailbox
	done        chan struct{}

	// providerEvents counts notifications received from the provider.
	providerEvents atomic.Uint64

	stateMu sync.RWMutex
	state   State
	subs    map[int]chan State
	nextSub int
}

// New builds a Manager. It does nothing until Init is called.
func New(client provider.Client, profileReader profiles.Reader, options ...Option) (*Manager, error) {
	if client == nil {
		return nil, errors.New("[session.New] provider client is required")
	}
	if profileReader == nil {
		return nil, errors.New("[session.New] profile reader is required")
	}

	m := &Manager{
		client:   client,
		profiles: profileReader,
		logger:   log.Logger.With().Str("component", "session").Logger(),
		notifier: notify.LogNotifier{},
		recorder: nopRecorder{},
		siteURL:  "http://localhost:8080",
		state:    State{IsLoading: true},
		subs:     make(map[int]chan State),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Init subscribes to the provider and loads the current session. The
// subscription is held until Dispose.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.disposed.Load() {
		m.lifecycleMu.Unlock()
		return ErrDisposed
	}
	if m.initialized {
		m.lifecycleMu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initialized = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.box = newMailbox()
	m.done = make(chan struct{})
	m.unsubscribe = m.client.OnAuthStateChange(m.receive)
	go m.run()
	m.lifecycleMu.Unlock()

	seen := m.providerEvents.Load()
	session, err := m.client.GetSession(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to load current session")
		session = nil
	}
	m.box.put(envelope{
		event: provider.AuthEvent{Type: provider.EventInitialSession, Session: session},
		stale: m.providerEvents.Load() != seen,
	})
	return nil
}

// Dispose unsubscribes from the provider, stops the consumer and closes every
// subscription channel. Notifications arriving afterwards are ignored.
func (m *Manager) Dispose() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.disposed.Swap(true) {
		return
	}

	if m.initialized {
		m.unsubscribe()
		m.cancel()
		m.box.close()
		<-m.done
	}

	m.stateMu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.stateMu.Unlock()

	m.logger.Debug().Msg("session manager disposed")
}

// State returns a copy of the current snapshot.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state.clone()
}

// Subscribe returns a channel of snapshots. The current snapshot is delivered
// straight away; a slow reader only ever sees the latest one. The returned
// func cancels the subscription.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.stateMu.Lock()
	if m.disposed.Load() {
		m.stateMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.state.clone()
	m.stateMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.stateMu.Lock()
			defer m.stateMu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// Settle returns once every notification queued before the call has been applied.
func (m *Manager) Settle(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}

	barrier := make(chan struct{})
	if !m.box.put(envelope{barrier: barrier}) {
		return ErrDisposed
	}

	select {
	case <-barrier:
		if m.disposed.Load() {
			return ErrDisposed
		}
		return nil
	case <-m.done:
		return ErrDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) ready() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.disposed.Load() {
		return ErrDisposed
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// receive is the provider listener. It must not block.
func (m *Manager) receive(evt provider.AuthEvent) {
	if m.disposed.Load() {
		return
	}
	m.providerEvents.Add(1)
	m.box.put(envelope{event: evt})
}

func (m *Manager) run() {
	defer close(m.done)

	for range m.box.signal {
		batch, closed := m.box.drain()
		for _, e := range batch {
			if e.barrier != nil {
				close(e.barrier)
				continue
			}
			if m.box.isClosed() {
				continue
			}
			m.handle(e)
		}
		if closed {
			return
		}
	}
}

func (m *Manager) handle(e envelope) {
	evt := e.event
	if e.stale {
		m.logger.Debug().Msg("initial session lookup superseded by a provider event")
		return
	}
	m.recorder.SessionEvent(evt.Type)

	session := evt.Session
	if session == nil {
		m.commit(func(s *State) {
			s.Session = nil
			s.User = nil
			s.Profile = nil
			s.IsLoading = false
		})
		m.logger.Debug().Str("event", string(evt.Type)).Msg("session cleared")
		return
	}

	userID := session.User.ID
	m.commit(func(s *State) {
		if s.Profile != nil && s.Profile.ID != userID {
			s.Profile = nil
		}
		s.Session = session
		s.User = &session.User
	})

	profile := m.fetchProfile(userID)

	m.commit(func(s *State) {
		s.Profile = profile
		s.IsLoading = false
	})
	m.logger.Debug().Str("event", string(evt.Type)).Str("user_id", userID).Bool("has_profile", profile != nil).Msg("session applied")
}

// fetchProfile never fails: a missing or unreadable profile is reported as nil.
func (m *Manager) fetchProfile(userID string) *profiles.Profile {
	ctx := m.ctx
	if m.profileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.profileTimeout)
		defer cancel()
	}

	profile, err := m.profiles.Get(ctx, userID)
	if err != nil {
		m.recorder.ProfileFetchFailed()
		if errors.Is(err, profiles.ErrNotFound) {
			m.logger.Info().Str("user_id", userID).Msg("no profile for user")
		} else {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to fetch profile")
		}
		return nil
	}
	return profile
}

// commit applies fn to the state and publishes the result. It is a no-op once
// the manager is disposed.
func (m *Manager) commit(fn func(s *State)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.disposed.Load() {
		return
	}

	fn(&m.state)
	if m.state.Session == nil {
		m.state.User = nil
		m.state.Profile = nil
	}
	m.state.Version++

	snapshot := m.state.clone()
	for _, ch := range m.subs {
		select {
		case ch <- snapshot:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
