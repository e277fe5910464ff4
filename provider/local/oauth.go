package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/provider/local/flowstate"
	"github.com/jrsteele09/primehr-session/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/linkedin"
)

const (
	googleIssuer   = "https://accounts.google.com"
	linkedInIssuer = "https://www.linkedin.com/oauth"
)

// OAuthProvider is an upstream identity service the backend federates to.
type OAuthProvider struct {
	Name   provider.OAuthProvider
	Config *oauth2.Config
	// Verifier checks the id_token returned with the access token. When nil the
	// backend falls back to UserInfoURL.
	Verifier    *oidc.IDTokenVerifier
	UserInfoURL string
}

// identityClaims covers the standard OIDC claims used to build a user.
type identityClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Nonce         string `json:"nonce"`
}

// NewGoogleProvider discovers Google's OIDC configuration and builds the provider.
func NewGoogleProvider(ctx context.Context, clientID, clientSecret, callbackURL string) (*OAuthProvider, error) {
	p, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, errors.Wrap(err, "[NewGoogleProvider] discovery")
	}
	return &OAuthProvider{
		Name: provider.OAuthGoogle,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  callbackURL,
			Scopes:       []string{oidc.ScopeOpenID},
		},
		Verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewLinkedInProvider discovers LinkedIn's OIDC configuration and builds the provider.
func NewLinkedInProvider(ctx context.Context, clientID, clientSecret, callbackURL string) (*OAuthProvider, error) {
	p, err := oidc.NewProvider(ctx, linkedInIssuer)
	if err != nil {
		return nil, errors.Wrap(err, "[NewLinkedInProvider] discovery")
	}
	return &OAuthProvider{
		Name: provider.OAuthLinkedIn,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     linkedin.Endpoint,
			RedirectURL:  callbackURL,
			Scopes:       []string{oidc.ScopeOpenID},
		},
		Verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (b *Backend) authorizeURL(req provider.OAuthRequest) (*provider.OAuthRedirect, error) {
	p, ok := b.oauthProviders[req.Provider]
	if !ok {
		return nil, errors.Wrap(provider.ErrUnknownOAuthProvider, string(req.Provider))
	}

	state, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	if err := b.repos.Flows.Upsert(state, &flowstate.AuthFlowState{
		Provider:     req.Provider,
		CodeVerifier: verifier,
		Nonce:        nonce,
		RedirectTo:   req.RedirectTo,
		CreatedAt:    b.nowTime(),
	}); err != nil {
		return nil, errors.Wrap(err, "[Backend.authorizeURL] store flow state")
	}

	cfg := *p.Config
	cfg.Scopes = mergeScopes(p.Config.Scopes, req.Scopes)

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if p.Verifier != nil {
		opts = append(opts, oidc.Nonce(nonce))
	}
	for k, v := range req.QueryParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return &provider.OAuthRedirect{
		Provider: req.Provider,
		URL:      cfg.AuthCodeURL(state, opts...),
	}, nil
}

// exchange completes an OAuth flow and returns the new session plus the
// redirect target recorded when the flow started.
func (b *Backend) exchange(ctx context.Context, state, code string) (*provider.Session, string, error) {
	flow, err := b.repos.Flows.Get(state)
	if err != nil {
		return nil, "", provider.ErrInvalidState
	}
	_ = b.repos.Flows.Delete(state)

	if b.nowTime().Sub(flow.CreatedAt) > b.flowTimeout {
		return nil, "", errors.Wrap(provider.ErrInvalidState, "flow expired")
	}

	p, ok := b.oauthProviders[flow.Provider]
	if !ok {
		return nil, "", provider.ErrUnknownOAuthProvider
	}

	tok, err := p.Config.Exchange(ctx, code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, "", errors.Wrap(err, "[Backend.exchange] code exchange")
	}

	claims, err := b.identity(ctx, p, tok, flow.Nonce)
	if err != nil {
		return nil, "", err
	}

	user, err := b.findOrCreateOAuthUser(ctx, p.Name, claims)
	if err != nil {
		return nil, "", err
	}
	if user.Blocked {
		return nil, "", apperrors.ErrUserBlocked
	}

	session, err := b.issueSession(user)
	if err != nil {
		return nil, "", err
	}
	return session, flow.RedirectTo, nil
}

func (b *Backend) identity(ctx context.Context, p *OAuthProvider, tok *oauth2.Token, nonce string) (*identityClaims, error) {
	claims := &identityClaims{}

	if p.Verifier != nil {
		rawIDToken, ok := tok.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return nil, errors.New("[Backend.identity] token response has no id_token")
		}
		idToken, err := p.Verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, errors.Wrap(err, "[Backend.identity] verify id_token")
		}
		if idToken.Nonce != nonce {
			return nil, errors.New("[Backend.identity] id_token nonce mismatch")
		}
		if err := idToken.Claims(claims); err != nil {
			return nil, errors.Wrap(err, "[Backend.identity] id_token claims")
		}
	} else {
		if p.UserInfoURL == "" {
			return nil, errors.New("[Backend.identity] provider has neither verifier nor userinfo endpoint")
		}
		resp, err := p.Config.Client(ctx, tok).Get(p.UserInfoURL)
		if err != nil {
			return nil, errors.Wrap(err, "[Backend.identity] userinfo")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("[Backend.identity] userinfo returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(claims); err != nil {
			return nil, errors.Wrap(err, "[Backend.identity] decode userinfo")
		}
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, errors.New("[Backend.identity] identity is missing sub or email")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, provider.ErrEmailNotConfirmed
	}
	return claims, nil
}

func (b *Backend) findOrCreateOAuthUser(ctx context.Context, name provider.OAuthProvider, claims *identityClaims) (*users.User, error) {
	providerName := string(name)

	user, err := b.repos.Users.GetByIdentity(providerName, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !apperrors.Is(err, apperrors.ErrUserNotFound) {
		return nil, errors.Wrap(err, "[Backend.findOrCreateOAuthUser] identity lookup")
	}

	email, err := users.NormaliseEmail(claims.Email)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.findOrCreateOAuthUser]")
	}
	now := b.nowTime()
	identity := users.Identity{Provider: providerName, ProviderUserID: claims.Subject, LinkedAt: now}

	fields := profiles.Fields{
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		AvatarURL: claims.Picture,
	}
	user = &users.User{
		ID:          uuid.New().String(),
		Email:       email,
		Metadata:    fields.Metadata(),
		Identities:  []users.Identity{identity},
		DateJoined:  now,
		ConfirmedAt: &now,
	}
	err = b.createAccount(ctx, user, fields)
	if err == nil {
		return user, nil
	}
	if !apperrors.Is(err, provider.ErrUserAlreadyExists) {
		return nil, errors.Wrap(err, "[Backend.findOrCreateOAuthUser]")
	}
	return b.linkIdentity(email, identity)
}

// linkIdentity attaches an OAuth identity to the account registered under
// email. An unconfirmed account was never proven to belong to the owner of
// the address, so its password and pending confirmation links are dropped
// before the identity provider's confirmation is applied.
func (b *Backend) linkIdentity(email string, identity users.Identity) (*users.User, error) {
	b.accountsMu.Lock()
	defer b.accountsMu.Unlock()

	user, err := b.repos.Users.GetByEmail(email)
	if err != nil {
		return nil, errors.Wrap(err, "[Backend.linkIdentity] email lookup")
	}

	if !user.Confirmed() {
		user.PasswordHash = ""
		kept := user.Identities[:0]
		for _, id := range user.Identities {
			if id.Provider != users.ProviderEmail {
				kept = append(kept, id)
			}
		}
		user.Identities = kept
		confirmedAt := identity.LinkedAt
		user.ConfirmedAt = &confirmedAt
		b.dropConfirmations(user.ID)
		log.Warn().Str("user_id", user.ID).Msg("discarded unconfirmed password credentials on oauth link")
	}
	user.Identities = append(user.Identities, identity)

	if err := b.repos.Users.Upsert(user); err != nil {
		return nil, errors.Wrap(err, "[Backend.linkIdentity] store user")
	}
	log.Info().Str("user_id", user.ID).Str("provider", identity.Provider).Msg("linked oauth identity")
	return user, nil
}

func mergeScopes(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string{}, base...), extra...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
