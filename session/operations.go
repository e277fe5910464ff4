package session

import (
	"context"

	"github.com/jrsteele09/primehr-session/notify"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
)

const (
	opSignIn      = "sign_in"
	opSignUp      = "sign_up"
	opSignInOAuth = "sign_in_oauth"
	opSignOut     = "sign_out"
)

// SignIn exchanges credentials for a session. On success it waits until the
// manager has applied the resulting SIGNED_IN, so State reflects the session
// when it returns. On failure the state is left untouched.
func (m *Manager) SignIn(ctx context.Context, email, password string) Result[*provider.Session] {
	if err := m.ready(); err != nil {
		return failed[*provider.Session](err)
	}

	session, err := m.client.SignInWithPassword(ctx, email, password)
	m.recorder.AuthOperation(opSignIn, err)
	if err != nil {
		m.logger.Debug().Err(err).Msg("sign in failed")
		return failed[*provider.Session](err)
	}

	m.settle(ctx, opSignIn)
	return Result[*provider.Session]{Data: session}
}

// SignUp creates an account and sends exactly one notification telling the
// user what happens next. No session is returned while email confirmation is
// pending.
func (m *Manager) SignUp(ctx context.Context, email, password string, fields profiles.Fields) Result[*provider.Session] {
	if err := m.ready(); err != nil {
		return failed[*provider.Session](err)
	}

	resp, err := m.client.SignUp(ctx, provider.SignUpRequest{
		Email:           email,
		Password:        password,
		Fields:          fields,
		EmailRedirectTo: m.siteURL + dashboardPath,
	})
	m.recorder.AuthOperation(opSignUp, err)
	if err != nil {
		m.logger.Debug().Err(err).Msg("sign up failed")
		return failed[*provider.Session](err)
	}

	if resp == nil || resp.Session == nil {
		m.notifier.Notify(ctx, notify.Notification{
			Kind:    notify.KindSuccess,
			Title:   "Check your email",
			Message: "We've sent you a confirmation link to complete your registration.",
		})
		return Result[*provider.Session]{}
	}

	m.notifier.Notify(ctx, notify.Notification{
		Kind:    notify.KindSuccess,
		Title:   "Account created",
		Message: "Your account is ready.",
	})
	m.settle(ctx, opSignUp)
	return Result[*provider.Session]{Data: resp.Session}
}

// SignInWithOAuth returns the URL the user agent must visit. The session
// arrives later through the provider once the callback completes.
func (m *Manager) SignInWithOAuth(ctx context.Context, p provider.OAuthProvider) Result[*provider.OAuthRedirect] {
	if err := m.ready(); err != nil {
		return failed[*provider.OAuthRedirect](err)
	}

	req := provider.OAuthRequest{
		Provider:   p,
		RedirectTo: m.siteURL + dashboardPath,
	}
	switch p {
	case provider.OAuthGoogle:
		req.Scopes = []string{"email", "profile"}
		req.QueryParams = map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		}
	case provider.OAuthLinkedIn:
		req.Scopes = []string{"openid", "profile", "email"}
	}

	redirect, err := m.client.SignInWithOAuth(ctx, req)
	m.recorder.AuthOperation(opSignInOAuth, err)
	if err != nil {
		m.logger.Debug().Err(err).Str("provider", string(p)).Msg("oauth sign in failed")
		return failed[*provider.OAuthRedirect](err)
	}
	return Result[*provider.OAuthRedirect]{Data: redirect}
}

// SignOut asks the provider to end the session. The provider drops its local
// session whatever the outcome, so the state is signed out on return.
func (m *Manager) SignOut(ctx context.Context) Result[struct{}] {
	if err := m.ready(); err != nil {
		return failed[struct{}](err)
	}

	err := m.client.SignOut(ctx)
	m.recorder.AuthOperation(opSignOut, err)
	if err != nil {
		m.logger.Warn().Err(err).Msg("sign out failed at provider")
	}

	m.settle(ctx, opSignOut)
	return Result[struct{}]{Err: err}
}

func (m *Manager) settle(ctx context.Context, op string) {
	if err := m.Settle(ctx); err != nil {
		m.logger.Debug().Err(err).Str("op", op).Msg("state not settled")
	}
}
