package local_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/jrsteele09/primehr-session/provider/local/localtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://idp.test"
	testClientID = "client-123"
)

// idp is a minimal authorization server. It issues an id_token when a
// signing key is set, and serves userinfo otherwise.
type idp struct {
	t      *testing.T
	key    *rsa.PrivateKey
	mu     sync.Mutex
	nonce  string
	claims map[string]any
}

func (p *idp) setNonce(n string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce = n
}

func (p *idp) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(p.t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" || r.PostForm.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		resp := map[string]any{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if p.key != nil {
			p.mu.Lock()
			claims := jwt.MapClaims{
				"iss":   testIssuer,
				"aud":   testClientID,
				"iat":   time.Now().Unix(),
				"exp":   time.Now().Add(time.Hour).Unix(),
				"nonce": p.nonce,
			}
			p.mu.Unlock()
			for k, v := range p.claims {
				claims[k] = v
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
			require.NoError(p.t, err)
			resp["id_token"] = signed
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.claims)
	})
	return mux
}

func newOAuthProvider(srvURL string, name provider.OAuthProvider, verifier *oidc.IDTokenVerifier) *local.OAuthProvider {
	p := &local.OAuthProvider{
		Name: name,
		Config: &oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:   srvURL + "/authorize",
				TokenURL:  srvURL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: "http://primehr.test/auth/callback",
			Scopes:      []string{oidc.ScopeOpenID},
		},
		Verifier: verifier,
	}
	if verifier == nil {
		p.UserInfoURL = srvURL + "/userinfo"
	}
	return p
}

func googleRequest() provider.OAuthRequest {
	return provider.OAuthRequest{
		Provider:    provider.OAuthGoogle,
		RedirectTo:  "http://primehr.test/dashboard",
		Scopes:      []string{"email", "profile"},
		QueryParams: map[string]string{"access_type": "offline", "prompt": "consent"},
	}
}

func TestSignInWithOAuthBuildsRedirect(t *testing.T) {
	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider("https://idp.test", provider.OAuthGoogle, nil)),
	}})
	c := env.Backend.NewClient()

	redirect, err := c.SignInWithOAuth(context.Background(), googleRequest())
	require.NoError(t, err)
	require.Equal(t, provider.OAuthGoogle, redirect.Provider)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "https://idp.test/authorize", u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, "openid email profile", q.Get("scope"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "consent", q.Get("prompt"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))

	flow, err := env.Flows.Get(q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, "http://primehr.test/dashboard", flow.RedirectTo)

	session, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, session, "the session arrives only after the callback")
}

func TestSignInWithOAuthUnknownProvider(t *testing.T) {
	env := localtest.New(t, localtest.Options{})
	_, err := env.Backend.NewClient().SignInWithOAuth(context.Background(), provider.OAuthRequest{Provider: "github"})
	require.ErrorIs(t, err, provider.ErrUnknownOAuthProvider)
}

func TestExchangeCodeWithUserInfo(t *testing.T) {
	ctx := context.Background()
	p := &idp{t: t, claims: map[string]any{
		"sub": "g-1", "email": "Jane@Example.com", "email_verified": true,
		"given_name": "Jane", "family_name": "Doe", "picture": "https://img.test/jane.png",
	}}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider(srv.URL, provider.OAuthGoogle, nil)),
	}})
	c := env.Backend.NewClient()

	var log eventLog
	c.OnAuthStateChange(log.add)

	redirect, err := c.SignInWithOAuth(ctx, googleRequest())
	require.NoError(t, err)
	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	session, redirectTo, err := c.ExchangeCodeForSession(ctx, state, "good-code")
	require.NoError(t, err)
	require.Equal(t, "http://primehr.test/dashboard", redirectTo)
	require.Equal(t, "jane@example.com", session.User.Email)
	require.Equal(t, "google", session.User.Provider)
	require.NotNil(t, session.User.EmailConfirmedAt)
	require.Equal(t, []provider.EventType{provider.EventSignedIn}, log.types())

	profile, err := env.Profiles.Get(ctx, session.User.ID)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", profile.FullName())
	require.Equal(t, "https://img.test/jane.png", profile.AvatarURL)

	// The state is single use.
	_, _, err = c.ExchangeCodeForSession(ctx, state, "good-code")
	require.ErrorIs(t, err, provider.ErrInvalidState)
}

func TestExchangeCodeLinksExistingAccount(t *testing.T) {
	ctx := context.Background()
	p := &idp{t: t, claims: map[string]any{"sub": "g-2", "email": "user@example.com"}}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider(srv.URL, provider.OAuthGoogle, nil)),
	}})
	env.ConfirmedUser(t, "user@example.com", profiles.Fields{FirstName: "Existing"})
	existing, err := env.Users.GetByEmail("user@example.com")
	require.NoError(t, err)

	c := env.Backend.NewClient()
	redirect, err := c.SignInWithOAuth(ctx, googleRequest())
	require.NoError(t, err)
	u, _ := url.Parse(redirect.URL)

	session, _, err := c.ExchangeCodeForSession(ctx, u.Query().Get("state"), "good-code")
	require.NoError(t, err)
	require.Equal(t, existing.ID, session.User.ID)

	linked, err := env.Users.GetByIdentity("google", "g-2")
	require.NoError(t, err)
	require.Equal(t, existing.ID, linked.ID)

	// A confirmed account keeps its password.
	_, err = env.Backend.NewClient().SignInWithPassword(ctx, "user@example.com", localtest.Password)
	require.NoError(t, err)
}

func TestExchangeCodeDiscardsUnconfirmedPassword(t *testing.T) {
	ctx := context.Background()
	p := &idp{t: t, claims: map[string]any{"sub": "g-9", "email": "victim@example.com", "email_verified": true}}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider(srv.URL, provider.OAuthGoogle, nil)),
	}})

	// Someone registers the address with their own password and never confirms it.
	squatter := env.Backend.NewClient()
	_, err := squatter.SignUp(ctx, provider.SignUpRequest{Email: "victim@example.com", Password: "Squatt3rPw"})
	require.NoError(t, err)
	sent := env.Mailer.Sent()
	require.Len(t, sent, 1)
	pendingToken := localtest.ConfirmationToken(t, sent[0].Text)

	_, err = squatter.SignInWithPassword(ctx, "victim@example.com", "Squatt3rPw")
	require.ErrorIs(t, err, provider.ErrEmailNotConfirmed)

	// The address owner signs in with Google.
	owner := env.Backend.NewClient()
	redirect, err := owner.SignInWithOAuth(ctx, googleRequest())
	require.NoError(t, err)
	u, _ := url.Parse(redirect.URL)
	session, _, err := owner.ExchangeCodeForSession(ctx, u.Query().Get("state"), "good-code")
	require.NoError(t, err)
	require.Equal(t, "victim@example.com", session.User.Email)
	require.Equal(t, "google", session.User.Provider)
	require.NotNil(t, session.User.EmailConfirmedAt)

	_, err = squatter.SignInWithPassword(ctx, "victim@example.com", "Squatt3rPw")
	require.ErrorIs(t, err, provider.ErrInvalidCredentials)

	_, err = env.Backend.ConfirmEmail(ctx, pendingToken)
	require.ErrorIs(t, err, provider.ErrInvalidToken)

	user, err := env.Users.GetByEmail("victim@example.com")
	require.NoError(t, err)
	require.Empty(t, user.PasswordHash)
	require.False(t, user.HasIdentity("email", "victim@example.com"))
	require.True(t, user.HasIdentity("google", "g-9"))
}

func TestExchangeCodeBadCodeLeavesClientSignedOut(t *testing.T) {
	ctx := context.Background()
	p := &idp{t: t, claims: map[string]any{"sub": "g-3", "email": "x@example.com"}}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider(srv.URL, provider.OAuthGoogle, nil)),
	}})
	c := env.Backend.NewClient()

	redirect, err := c.SignInWithOAuth(ctx, googleRequest())
	require.NoError(t, err)
	u, _ := url.Parse(redirect.URL)

	_, _, err = c.ExchangeCodeForSession(ctx, u.Query().Get("state"), "bad-code")
	require.Error(t, err)

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.Nil(t, session)

	_, _, err = c.ExchangeCodeForSession(ctx, "never-issued", "good-code")
	require.ErrorIs(t, err, provider.ErrInvalidState)
}

func TestExchangeCodeExpiredFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env := localtest.New(t, localtest.Options{
		Now: func() time.Time { return now },
		BackendOpts: []local.BackendOption{
			local.WithOAuthProvider(newOAuthProvider("https://idp.test", provider.OAuthGoogle, nil)),
			local.WithFlowTimeout(time.Minute),
		},
	})
	c := env.Backend.NewClient()

	redirect, err := c.SignInWithOAuth(ctx, googleRequest())
	require.NoError(t, err)
	u, _ := url.Parse(redirect.URL)

	now = now.Add(2 * time.Minute)
	_, _, err = c.ExchangeCodeForSession(ctx, u.Query().Get("state"), "good-code")
	require.ErrorIs(t, err, provider.ErrInvalidState)
}

func TestExchangeCodeVerifiesIDToken(t *testing.T) {
	ctx := context.Background()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &idp{t: t, key: key, claims: map[string]any{
		"sub": "li-1", "email": "lin@example.com", "email_verified": true, "given_name": "Lin",
	}}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	verifier := oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: testClientID})
	env := localtest.New(t, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(newOAuthProvider(srv.URL, provider.OAuthLinkedIn, verifier)),
	}})
	c := env.Backend.NewClient()

	redirect, err := c.SignInWithOAuth(ctx, provider.OAuthRequest{
		Provider: provider.OAuthLinkedIn,
		Scopes:   []string{"openid", "profile", "email"},
	})
	require.NoError(t, err)
	u, _ := url.Parse(redirect.URL)
	require.Equal(t, "openid profile email", u.Query().Get("scope"))
	require.NotEmpty(t, u.Query().Get("nonce"))

	// A token minted for another flow is rejected.
	p.setNonce("someone-else")
	_, _, err = c.ExchangeCodeForSession(ctx, u.Query().Get("state"), "good-code")
	require.Error(t, err)

	redirect, err = c.SignInWithOAuth(ctx, provider.OAuthRequest{Provider: provider.OAuthLinkedIn})
	require.NoError(t, err)
	u, _ = url.Parse(redirect.URL)
	p.setNonce(u.Query().Get("nonce"))

	session, _, err := c.ExchangeCodeForSession(ctx, u.Query().Get("state"), "good-code")
	require.NoError(t, err)
	require.Equal(t, "lin@example.com", session.User.Email)
	require.Equal(t, "linkedin_oidc", session.User.Provider)
}
