package local

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/primehr-session/provider"
	"github.com/rs/zerolog/log"
)

var _ provider.Client = (*Client)(nil)

// Client is one browser's view of the backend. State-changing calls are
// serialised by mu, and each change is broadcast to listeners before mu is
// released, so listeners observe events in the order the session changed.
// Listeners must not call back into the Client synchronously.
type Client struct {
	backend *Backend

	mu      sync.Mutex
	session *provider.Session

	listenersMu sync.RWMutex
	listeners   map[int]func(provider.AuthEvent)
	nextID      int
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.backend.signInWithPassword(email, password)
	if err != nil {
		return nil, err
	}
	c.setLocked(provider.EventSignedIn, session)
	return copySession(session), nil
}

func (c *Client) SignUp(ctx context.Context, req provider.SignUpRequest) (*provider.SignUpResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.backend.signUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Session != nil {
		c.setLocked(provider.EventSignedIn, resp.Session)
	}
	return resp, nil
}

// SignInWithOAuth only builds the redirect. The session arrives through
// ExchangeCodeForSession once the provider calls back.
func (c *Client) SignInWithOAuth(ctx context.Context, req provider.OAuthRequest) (*provider.OAuthRedirect, error) {
	return c.backend.authorizeURL(req)
}

// ExchangeCodeForSession completes an OAuth flow started by SignInWithOAuth and
// returns the session and the redirect target given when the flow started.
func (c *Client) ExchangeCodeForSession(ctx context.Context, state, code string) (*provider.Session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, redirectTo, err := c.backend.exchange(ctx, state, code)
	if err != nil {
		return nil, "", err
	}
	c.setLocked(provider.EventSignedIn, session)
	return copySession(session), redirectTo, nil
}

// SignOut revokes the refresh token. The local session is dropped and
// SIGNED_OUT emitted whatever the revocation outcome.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.session != nil {
		err = c.backend.revoke(c.session.RefreshToken)
	}
	c.setLocked(provider.EventSignedOut, nil)
	return err
}

// GetSession returns the current session, refreshing it first when the access
// token has expired. A failed refresh signs the client out.
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, nil
	}
	if !c.session.Expired(c.backend.nowTime()) {
		return copySession(c.session), nil
	}
	return c.refreshLocked()
}

// RefreshSession exchanges the refresh token for a new session regardless of expiry.
func (c *Client) RefreshSession(ctx context.Context) (*provider.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, provider.ErrSessionNotFound
	}
	return c.refreshLocked()
}

func (c *Client) refreshLocked() (*provider.Session, error) {
	session, err := c.backend.refreshSession(c.session.RefreshToken)
	if err != nil {
		log.Debug().Err(err).Str("user_id", c.session.User.ID).Msg("session refresh failed, signing out")
		c.setLocked(provider.EventSignedOut, nil)
		return nil, err
	}
	c.setLocked(provider.EventTokenRefreshed, session)
	return copySession(session), nil
}

func (c *Client) OnAuthStateChange(listener func(provider.AuthEvent)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// setLocked stores the session and broadcasts the event. c.mu must be held.
func (c *Client) setLocked(eventType provider.EventType, session *provider.Session) {
	c.session = copySession(session)
	c.emit(provider.AuthEvent{Type: eventType, Session: copySession(session)})
}

func (c *Client) emit(evt provider.AuthEvent) {
	c.listenersMu.RLock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(provider.AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

func copySession(s *provider.Session) *provider.Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.User.Metadata != nil {
		cp.User.Metadata = make(map[string]string, len(s.User.Metadata))
		for k, v := range s.User.Metadata {
			cp.User.Metadata[k] = v
		}
	}
	return &cp
}
