package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
	"github.com/jrsteele09/primehr-session/internal/metrics"
	"github.com/jrsteele09/primehr-session/notify"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/session"
	"github.com/rs/zerolog/log"
)

const settleTimeout = 5 * time.Second

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	profiles.Fields
}

type stateResponse struct {
	State         session.State         `json:"state"`
	Notifications []notify.Notification `json:"notifications"`
}

// instance resolves or creates the caller's instance, or writes an error
// response. Only routes that start a sign-in may create instances.
func (s *Server) instance(w http.ResponseWriter, r *http.Request) (*Instance, bool) {
	inst, err := s.instances.ForRequest(w, r)
	if apperrors.Is(err, ErrTooManyInstances) {
		log.Warn().Int("instances", s.instances.Len()).Msg("instance cap reached")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve browser instance")
		writeError(w, http.StatusInternalServerError, "could not start a session")
		return nil, false
	}
	return inst, true
}

// signedOutState is what a browser without an instance sees.
func signedOutState() stateResponse {
	return stateResponse{State: session.State{}, Notifications: []notify.Notification{}}
}

func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		inst, ok := s.instance(w, r)
		if !ok {
			return
		}

		res := inst.Manager.SignIn(r.Context(), req.Email, req.Password)
		writeJSON(w, statusFor(res.Err, http.StatusOK), res)
	}
}

func (s *Server) SignUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signUpRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		inst, ok := s.instance(w, r)
		if !ok {
			return
		}

		res := inst.Manager.SignUp(r.Context(), req.Email, req.Password, req.Fields)
		writeJSON(w, statusFor(res.Err, http.StatusCreated), res)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst := s.instances.Lookup(r)
		if inst == nil {
			writeJSON(w, http.StatusOK, session.Result[struct{}]{})
			return
		}

		res := inst.Manager.SignOut(r.Context())
		status := http.StatusOK
		if res.Err != nil {
			// The local session is gone either way; report the provider failure.
			status = http.StatusBadGateway
		}
		writeJSON(w, status, res)
	}
}

// OAuthStartHandler sends the browser to the identity provider.
func (s *Server) OAuthStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst, ok := s.instance(w, r)
		if !ok {
			return
		}

		res := inst.Manager.SignInWithOAuth(r.Context(), provider.OAuthProvider(r.PathValue("provider")))
		if res.Err != nil {
			writeJSON(w, statusFor(res.Err, http.StatusOK), res)
			return
		}
		http.Redirect(w, r, res.Data.URL, http.StatusSeeOther)
	}
}

// OAuthCallbackHandler completes the flow on the browser's own client and
// returns it to the page it started from.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if providerErr := q.Get("error"); providerErr != "" {
			log.Info().Str("error", providerErr).Str("description", q.Get("error_description")).Msg("oauth provider returned an error")
			writeError(w, http.StatusBadRequest, providerErr)
			return
		}
		state, code := q.Get("state"), q.Get("code")
		if state == "" || code == "" {
			writeError(w, http.StatusBadRequest, "missing state or code")
			return
		}

		inst := s.instances.Lookup(r)
		if inst == nil {
			writeError(w, http.StatusBadRequest, "no sign-in in progress")
			return
		}

		_, redirectTo, err := inst.Client.ExchangeCodeForSession(r.Context(), state, code)
		if err != nil {
			log.Warn().Err(err).Str("instance_id", inst.ID).Msg("oauth code exchange failed")
			inst.Notifications.Notify(r.Context(), notify.Notification{
				Kind:    notify.KindError,
				Title:   "Sign in failed",
				Message: "We couldn't complete sign in with your provider. Please try again.",
			})
			writeError(w, statusFor(err, http.StatusOK), err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
		defer cancel()
		if err := inst.Manager.Settle(ctx); err != nil {
			log.Debug().Err(err).Msg("state not settled after oauth callback")
		}

		http.Redirect(w, r, s.safeRedirect(redirectTo), http.StatusSeeOther)
	}
}

func (s *Server) ConfirmEmailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeError(w, http.StatusBadRequest, "missing token")
			return
		}

		user, err := s.backend.ConfirmEmail(r.Context(), token)
		if err != nil {
			writeJSON(w, statusFor(err, http.StatusOK), session.Result[*provider.User]{Err: err})
			return
		}

		if redirectTo := r.URL.Query().Get("redirect_to"); redirectTo != "" {
			http.Redirect(w, r, s.safeRedirect(redirectTo), http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, session.Result[*provider.User]{Data: user})
	}
}

// StateHandler returns the snapshot and hands over pending notifications.
func (s *Server) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inst := s.instances.Lookup(r)
		if inst == nil {
			writeJSON(w, http.StatusOK, signedOutState())
			return
		}

		notes := inst.Notifications.Drain()
		if notes == nil {
			notes = []notify.Notification{}
		}
		writeJSON(w, http.StatusOK, stateResponse{
			State:         inst.Manager.State(),
			Notifications: notes,
		})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"instances": s.instances.Len(),
		})
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler(s.gatherer)
}

// safeRedirect only follows targets on our own site.
func (s *Server) safeRedirect(target string) string {
	site := s.config.GetSiteURL()
	fallback := site + RouteDashboard
	if target == "" {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil {
		return fallback
	}
	if !u.IsAbs() {
		if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
			return site + target
		}
		return fallback
	}
	siteURL, err := url.Parse(site)
	if err != nil || u.Scheme != siteURL.Scheme || u.Host != siteURL.Host {
		return fallback
	}
	return target
}

// statusFor maps an operation error onto an HTTP status.
func statusFor(err error, okStatus int) int {
	switch {
	case err == nil:
		return okStatus
	case apperrors.Is(err, provider.ErrInvalidCredentials),
		apperrors.Is(err, provider.ErrEmailNotConfirmed),
		apperrors.Is(err, apperrors.ErrUserBlocked):
		return http.StatusUnauthorized
	case apperrors.Is(err, provider.ErrUserAlreadyExists):
		return http.StatusConflict
	case apperrors.Is(err, provider.ErrWeakPassword):
		return http.StatusUnprocessableEntity
	case apperrors.Is(err, provider.ErrUnknownOAuthProvider):
		return http.StatusNotFound
	case apperrors.Is(err, provider.ErrInvalidState),
		apperrors.Is(err, apperrors.ErrInvalidToken):
		return http.StatusBadRequest
	case apperrors.Is(err, session.ErrDisposed),
		apperrors.Is(err, session.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
