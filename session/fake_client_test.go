package session_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/primehr-session/provider"
)

// fakeClient is a scriptable provider. Tests drive it with Emit.
type fakeClient struct {
	mu            sync.Mutex
	listeners     map[int]func(provider.AuthEvent)
	next          int
	session       *provider.Session
	signInErr     error
	signOutErr    error
	getSessionErr error
	onGetSession  func()
	signUpResp    *provider.SignUpResponse
	oauthRequests []provider.OAuthRequest
	// keepListeners makes unsubscribe a no-op to model late deliveries.
	keepListeners bool
}

var _ provider.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{listeners: make(map[int]func(provider.AuthEvent))}
}

func fakeSession(userID string) *provider.Session {
	return &provider.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         provider.User{ID: userID, Email: userID + "@example.com", Provider: "email"},
	}
}

func (f *fakeClient) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Emit sets the session and notifies listeners in registration order.
func (f *fakeClient) Emit(eventType provider.EventType, session *provider.Session) {
	f.mu.Lock()
	f.session = session
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(provider.AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(provider.AuthEvent{Type: eventType, Session: session})
	}
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := fakeSession(email)
	f.Emit(provider.EventSignedIn, s)
	return s, nil
}

func (f *fakeClient) SignUp(ctx context.Context, req provider.SignUpRequest) (*provider.SignUpResponse, error) {
	if f.signUpResp == nil {
		return &provider.SignUpResponse{User: &provider.User{ID: "new", Email: req.Email}}, nil
	}
	if f.signUpResp.Session != nil {
		f.Emit(provider.EventSignedIn, f.signUpResp.Session)
	}
	return f.signUpResp, nil
}

func (f *fakeClient) SignInWithOAuth(ctx context.Context, req provider.OAuthRequest) (*provider.OAuthRedirect, error) {
	f.mu.Lock()
	f.oauthRequests = append(f.oauthRequests, req)
	f.mu.Unlock()
	return &provider.OAuthRedirect{Provider: req.Provider, URL: "https://idp.test/authorize"}, nil
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	f.Emit(provider.EventSignedOut, nil)
	return f.signOutErr
}

func (f *fakeClient) GetSession(ctx context.Context) (*provider.Session, error) {
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	f.mu.Lock()
	var cp *provider.Session
	if f.session != nil {
		s := *f.session
		cp = &s
	}
	f.mu.Unlock()

	// The hook runs after the lookup so it can model a result that is already stale.
	if f.onGetSession != nil {
		f.onGetSession()
	}
	return cp, nil
}

func (f *fakeClient) OnAuthStateChange(listener func(provider.AuthEvent)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = listener
	keep := f.keepListeners
	f.mu.Unlock()

	return func() {
		if keep {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}
