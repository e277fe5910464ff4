package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	// Credentials
	s.RegisterRouteHandler("POST "+RouteSignIn, ChainMiddleware(s.SignInHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSignUp, ChainMiddleware(s.SignUpHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))

	// OAuth
	s.RegisterRouteHandler("GET "+RouteOAuthStart, ChainMiddleware(s.OAuthStartHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteConfirm, ChainMiddleware(s.ConfirmEmailHandler(), s.APIMiddleware()...))

	// Session state
	s.RegisterRouteHandler("GET "+RouteState, ChainMiddleware(s.StateHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteEvents, ChainMiddleware(s.EventsHandler(), s.APIMiddleware()...))

	// Preflight for the JSON API
	s.RegisterRouteHandler("OPTIONS /auth/", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteMetrics, s.MetricsHandler())
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
