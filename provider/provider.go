// Package provider defines the contract of the external auth backend that the
// session manager consumes: credential and OAuth sign-in, sign-up, sign-out,
// current session lookup and the session-change subscription.
package provider

import (
	"context"
	"time"

	"github.com/jrsteele09/primehr-session/profiles"
)

// OAuthProvider names a federated identity service.
type OAuthProvider string

const (
	OAuthGoogle   OAuthProvider = "google"
	OAuthLinkedIn OAuthProvider = "linkedin_oidc"
)

type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// User is the identity record owned by the provider.
type User struct {
	ID               string            `json:"id"`
	Email            string            `json:"email"`
	Provider         string            `json:"provider"`
	EmailConfirmedAt *time.Time        `json:"email_confirmed_at,omitempty"`
	Metadata         map[string]string `json:"user_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Session is the credential bundle issued by the provider. It is opaque to the
// session manager.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthEvent is one notification on the session-change channel. Session is nil
// when the event leaves the client signed out.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

type SignUpRequest struct {
	Email    string
	Password string
	Fields   profiles.Fields
	// EmailRedirectTo is where the confirmation link sends the user.
	EmailRedirectTo string
}

type SignUpResponse struct {
	User *User
	// Session is nil while email confirmation is pending.
	Session *Session
}

type OAuthRequest struct {
	Provider    OAuthProvider
	RedirectTo  string
	Scopes      []string
	QueryParams map[string]string
}

// OAuthRedirect is where the user agent must navigate to continue the login.
type OAuthRedirect struct {
	Provider OAuthProvider `json:"provider"`
	URL      string        `json:"url"`
}

// Client is the per-application handle on the auth backend.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignUp returns a response whose Session is nil while email
	// confirmation is pending.
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error)
	SignInWithOAuth(ctx context.Context, req OAuthRequest) (*OAuthRedirect, error)
	// SignOut drops the local session and emits SIGNED_OUT even when the
	// backend call fails.
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers a listener. Listeners are called in emission
	// order. The returned func removes the listener.
	OnAuthStateChange(listener func(AuthEvent)) (unsubscribe func())
}
