// Package local is a self-hosted implementation of the provider contract. A
// single Backend owns users, tokens and OAuth configuration; each browser gets
// its own Client holding that browser's current session.
package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
	"github.com/jrsteele09/primehr-session/internal/utils"
	"github.com/jrsteele09/primehr-session/mailer"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/provider/local/flowstate"
	"github.com/jrsteele09/primehr-session/token"
	"github.com/jrsteele09/primehr-session/token/refresh"
	"github.com/jrsteele09/primehr-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	tokenType              = "bearer"
	confirmationTokenBytes = 32
	defaultConfirmTimeout  = 24 * time.Hour
	defaultFlowTimeout     = 15 * time.Minute
)

// Repos holds all repository dependencies for the Backend
type Repos struct {
	Users    users.UserRepo // Identity records
	Flows    flowstate.Repo // Pending OAuth flows keyed by state
	Profiles profiles.Repo  // Profile rows created at sign-up
}

type confirmation struct {
	userID    string
	createdAt time.Time
}

// Backend is the server-wide half of the local provider.
type Backend struct {
	repos          Repos
	issuer         *token.Issuer
	refreshTokens  *refresh.Manager
	mailer         mailer.Mailer
	oauthProviders map[provider.OAuthProvider]*OAuthProvider
	appName        string
	siteURL        string
	autoConfirm    bool
	flowTimeout    time.Duration
	confirmTimeout time.Duration
	nowTime        func() time.Time

	// accountsMu makes the email lookup and insert of a new account atomic.
	accountsMu sync.Mutex

	confirmMu     sync.Mutex
	confirmations map[string]confirmation
}

// BackendOption defines a function type to modify the Backend instance.
type BackendOption func(*Backend)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BackendOption {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

func WithMailer(m mailer.Mailer) BackendOption {
	return func(b *Backend) {
		b.mailer = m
	}
}

// WithAutoConfirm skips the confirmation email and signs users in straight after sign-up.
func WithAutoConfirm(autoConfirm bool) BackendOption {
	return func(b *Backend) {
		b.autoConfirm = autoConfirm
	}
}

func WithOAuthProvider(p *OAuthProvider) BackendOption {
	return func(b *Backend) {
		b.oauthProviders[p.Name] = p
	}
}

func WithSiteURL(siteURL string) BackendOption {
	return func(b *Backend) {
		b.siteURL = siteURL
	}
}

func WithAppName(name string) BackendOption {
	return func(b *Backend) {
		b.appName = name
	}
}

// WithFlowTimeout bounds the time between the OAuth redirect and its callback.
func WithFlowTimeout(d time.Duration) BackendOption {
	return func(b *Backend) {
		b.flowTimeout = d
	}
}

// NewBackend initializes a Backend with required dependencies.
func NewBackend(repos Repos, issuer *token.Issuer, refreshTokens *refresh.Manager, options ...BackendOption) (*Backend, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewBackend] Users repo is required")
	}
	if repos.Flows == nil {
		return nil, errors.New("[NewBackend] Flows repo is required")
	}
	if repos.Profiles == nil {
		return nil, errors.New("[NewBackend] Profiles repo is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewBackend] issuer is required")
	}
	if refreshTokens == nil {
		return nil, errors.New("[NewBackend] refreshTokens is required")
	}

	b := &Backend{
		repos:          repos,
		issuer:         issuer,
		refreshTokens:  refreshTokens,
		mailer:         mailer.LogMailer{},
		oauthProviders: make(map[provider.OAuthProvider]*OAuthProvider),
		appName:        "PrimeHR",
		siteURL:        "http://localhost:8080",
		flowTimeout:    defaultFlowTimeout,
		confirmTimeout: defaultConfirmTimeout,
		nowTime:        time.Now,
		confirmations:  make(map[string]confirmation),
	}

	for _, opt := range options {
		opt(b)
	}

	return b, nil
}

// NewClient returns a signed-out client bound to this backend.
func (b *Backend) NewClient() *Client {
	return &Client{
		backend:   b,
		listeners: make(map[int]func(provider.AuthEvent)),
	}
}

// Issuer exposes the access token issuer so handlers can verify bearer tokens.
func (b *Backend) Issuer() *token.Issuer {
	return b.issuer
}

func (b *Backend) signInWithPassword(email, password string) (*provider.Session, error) {
	email, err := users.NormaliseEmail(email)
	if err != nil {
		return nil, provider.ErrInvalidCredentials
	}

	user, err := b.repos.Users.GetByEmail(email)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUserNotFound) {
			return nil, provider.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[Backend.signInWithPassword] user lookup")
	}

	if !users.CheckPasswordHash(password, user.PasswordHash) {
		return nil, provider.ErrInvalidCredentials
	}
	if user.Blocked {
		return nil, apperrors.ErrUserBlocked
	}
	if !user.Confirmed() {
		return nil, provider.ErrEmailNotConfirmed
	}

	return b.issueSession(user)
}

func (b *Backend) signUp(ctx context.Context, req provider.SignUpRequest) (*provider.SignUpResponse, error) {
	email, err := users.NormaliseEmail(req.Email)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.signUp]")
	}
	if err := users.ValidatePasswordStrength(req.Password); err != nil {
		return nil, errors.Wrap(provider.ErrWeakPassword, err.Error())
	}

	hash, err := users.HashPassword(req.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.signUp] hash password")
	}

	now := b.nowTime()
	user := &users.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     req.Fields.Metadata(),
		Identities: []users.Identity{{
			Provider: users.ProviderEmail, ProviderUserID: email, LinkedAt: now,
		}},
		DateJoined: now,
	}
	if b.autoConfirm {
		user.ConfirmedAt = &now
	}

	if err := b.createAccount(ctx, user, req.Fields); err != nil {
		if apperrors.Is(err, provider.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, errors.Wrap(err, "[Backend.signUp]")
	}

	if b.autoConfirm {
		session, err := b.issueSession(user)
		if err != nil {
			b.deleteAccount(ctx, user.ID)
			return nil, err
		}
		return &provider.SignUpResponse{User: &session.User, Session: session}, nil
	}

	if err := b.sendConfirmation(ctx, user, req.EmailRedirectTo); err != nil {
		b.deleteAccount(ctx, user.ID)
		return nil, errors.Wrap(err, "[Backend.signUp] error sending confirmation email")
	}

	pu := toProviderUser(user)
	return &provider.SignUpResponse{User: &pu}, nil
}

// createAccount stores a new user and its profile row. It fails with
// ErrUserAlreadyExists when the email is taken.
func (b *Backend) createAccount(ctx context.Context, user *users.User, fields profiles.Fields) error {
	b.accountsMu.Lock()
	defer b.accountsMu.Unlock()

	if _, err := b.repos.Users.GetByEmail(user.Email); err == nil {
		return provider.ErrUserAlreadyExists
	} else if !apperrors.Is(err, apperrors.ErrUserNotFound) {
		return errors.Wrap(err, "user lookup")
	}

	if err := b.repos.Users.Upsert(user); err != nil {
		return errors.Wrap(err, "store user")
	}
	if err := b.repos.Profiles.Upsert(ctx, profiles.New(user.ID, user.Email, fields, user.DateJoined)); err != nil {
		// Undo the user so the email can be registered again.
		_ = b.repos.Users.Delete(user.ID)
		return errors.Wrap(err, "create profile")
	}
	return nil
}

// deleteAccount rolls back a half-finished registration.
func (b *Backend) deleteAccount(ctx context.Context, userID string) {
	if err := b.repos.Profiles.Delete(ctx, userID); err != nil && !apperrors.Is(err, profiles.ErrNotFound) {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to roll back profile")
	}
	if err := b.repos.Users.Delete(userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to roll back user")
	}
	b.dropConfirmations(userID)
}

// dropConfirmations invalidates every pending confirmation link for the user.
func (b *Backend) dropConfirmations(userID string) {
	b.confirmMu.Lock()
	defer b.confirmMu.Unlock()
	for tok, c := range b.confirmations {
		if c.userID == userID {
			delete(b.confirmations, tok)
		}
	}
}

func (b *Backend) sendConfirmation(ctx context.Context, user *users.User, redirectTo string) error {
	tok, err := randomToken(confirmationTokenBytes)
	if err != nil {
		return err
	}

	b.confirmMu.Lock()
	b.confirmations[tok] = confirmation{userID: user.ID, createdAt: b.nowTime()}
	b.confirmMu.Unlock()

	q := url.Values{"token": {tok}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	link := b.siteURL + "/auth/confirm?" + q.Encode()

	return b.mailer.Send(ctx, mailer.ConfirmationMessage(b.appName, user.Email, link))
}

// ConfirmEmail consumes a confirmation token and marks its user confirmed.
func (b *Backend) ConfirmEmail(ctx context.Context, confirmationToken string) (*provider.User, error) {
	b.confirmMu.Lock()
	c, ok := b.confirmations[confirmationToken]
	delete(b.confirmations, confirmationToken)
	b.confirmMu.Unlock()

	if !ok || b.nowTime().Sub(c.createdAt) > b.confirmTimeout {
		return nil, apperrors.ErrInvalidToken
	}

	if err := b.repos.Users.SetConfirmed(c.userID, b.nowTime()); err != nil {
		return nil, errors.Wrap(err, "[Backend.ConfirmEmail] set confirmed")
	}
	user, err := b.repos.Users.GetByID(c.userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.ConfirmEmail] user lookup")
	}

	log.Info().Str("user_id", user.ID).Msg("email confirmed")
	pu := toProviderUser(user)
	return &pu, nil
}

func (b *Backend) issueSession(user *users.User) (*provider.Session, error) {
	sessionID := uuid.New().String()

	accessToken, expiresAt, err := b.issuer.Issue(user, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.issueSession] access token")
	}
	refreshToken, err := b.refreshTokens.Create(user.ID, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.issueSession] refresh token")
	}

	if err := b.repos.Users.SetLastLogin(user.ID, b.nowTime()); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	}

	return &provider.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		User:         toProviderUser(user),
	}, nil
}

func (b *Backend) refreshSession(refreshToken string) (*provider.Session, error) {
	rt, next, err := b.refreshTokens.Rotate(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := b.repos.Users.GetByID(rt.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.refreshSession] user lookup")
	}
	if user.Blocked {
		_ = b.refreshTokens.Revoke(next)
		return nil, apperrors.ErrUserBlocked
	}

	accessToken, expiresAt, err := b.issuer.Issue(user, rt.SessionID)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.refreshSession] access token")
	}

	return &provider.Session{
		AccessToken:  accessToken,
		RefreshToken: next,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		User:         toProviderUser(user),
	}, nil
}

func (b *Backend) revoke(refreshToken string) error {
	if err := b.refreshTokens.Revoke(refreshToken); err != nil {
		return errors.Wrap(err, "[Backend.revoke]")
	}
	return nil
}

func toProviderUser(u *users.User) provider.User {
	md := make(map[string]string, len(u.Metadata))
	for k, v := range u.Metadata {
		md[k] = v
	}
	return provider.User{
		ID:               u.ID,
		Email:            u.Email,
		Provider:         u.PrimaryProvider(),
		EmailConfirmedAt: utils.Clone(u.ConfirmedAt),
		Metadata:         md,
		CreatedAt:        u.DateJoined,
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// PruneExpired drops OAuth flows and confirmation tokens that can no longer be used.
func (b *Backend) PruneExpired() {
	now := b.nowTime()
	flows := b.repos.Flows.DeleteExpired(now.Add(-b.flowTimeout))

	b.confirmMu.Lock()
	confirmations := 0
	for tok, c := range b.confirmations {
		if now.Sub(c.createdAt) > b.confirmTimeout {
			delete(b.confirmations, tok)
			confirmations++
		}
	}
	b.confirmMu.Unlock()

	if flows > 0 || confirmations > 0 {
		log.Debug().Int("flows", flows).Int("confirmations", confirmations).Msg("pruned expired auth state")
	}
}
