// Package localtest wires a local backend over in-memory repositories for tests.
package localtest

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/primehr-session/mailer/mailerfake"
	"github.com/jrsteele09/primehr-session/profiles"
	fakeprofilerepo "github.com/jrsteele09/primehr-session/profiles/repofake"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/jrsteele09/primehr-session/provider/local/flowstate"
	"github.com/jrsteele09/primehr-session/token"
	"github.com/jrsteele09/primehr-session/token/refresh"
	refreshrepofake "github.com/jrsteele09/primehr-session/token/refresh/repofake"
	"github.com/jrsteele09/primehr-session/users"
	fakeuserrepo "github.com/jrsteele09/primehr-session/users/repofake"
	"github.com/stretchr/testify/require"
)

const (
	Password = "Passw0rdOK"
	Secret   = "test-secret"
)

// Env is a backend plus handles on its fakes.
type Env struct {
	Backend  *local.Backend
	Users    users.UserRepo
	Profiles *fakeprofilerepo.FakeProfileRepo
	Mailer   *mailerfake.FakeMailer
	Flows    *flowstate.InMemoryRepo
}

// Options tweak the backend and issuer built by New.
type Options struct {
	Now          func() time.Time
	AccessExpiry time.Duration
	AutoConfirm  bool
	BackendOpts  []local.BackendOption
}

func New(t *testing.T, opts Options) *Env {
	t.Helper()

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AccessExpiry == 0 {
		opts.AccessExpiry = time.Hour
	}

	env := &Env{
		Users:    fakeuserrepo.NewFakeUserRepo(),
		Profiles: fakeprofilerepo.NewFakeProfileRepo(),
		Mailer:   mailerfake.NewFakeMailer(),
		Flows:    flowstate.NewInMemoryRepo(),
	}

	issuer := token.NewIssuer(Secret, "primehr-test", token.WithNowFunc(opts.Now), token.WithExpiry(opts.AccessExpiry))
	refreshTokens := refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo(), 32, 7*24*time.Hour)

	backendOpts := append([]local.BackendOption{
		local.WithNowTime(opts.Now),
		local.WithMailer(env.Mailer),
		local.WithAutoConfirm(opts.AutoConfirm),
		local.WithSiteURL("http://primehr.test"),
	}, opts.BackendOpts...)

	b, err := local.NewBackend(local.Repos{
		Users:    env.Users,
		Flows:    env.Flows,
		Profiles: env.Profiles,
	}, issuer, refreshTokens, backendOpts...)
	require.NoError(t, err)
	env.Backend = b
	return env
}

// ConfirmedUser signs up and confirms an account with Password.
func (e *Env) ConfirmedUser(t *testing.T, email string, fields profiles.Fields) {
	t.Helper()
	ctx := context.Background()

	c := e.Backend.NewClient()
	before := len(e.Mailer.Sent())
	_, err := c.SignUp(ctx, provider.SignUpRequest{Email: email, Password: Password, Fields: fields})
	require.NoError(t, err)

	sent := e.Mailer.Sent()
	if len(sent) == before {
		return // auto-confirmed
	}
	_, err = e.Backend.ConfirmEmail(ctx, ConfirmationToken(t, sent[len(sent)-1].Text))
	require.NoError(t, err)
}

// ConfirmationToken pulls the token out of a confirmation email body.
func ConfirmationToken(t *testing.T, body string) string {
	t.Helper()
	idx := strings.LastIndex(body, " ")
	require.True(t, idx >= 0, "no link in %q", body)
	u, err := url.Parse(body[idx+1:])
	require.NoError(t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(t, tok)
	return tok
}
