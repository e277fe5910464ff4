package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - Credentials
	RouteSignIn  = "/auth/signin"
	RouteSignUp  = "/auth/signup"
	RouteSignOut = "/auth/signout"

	// Auth Routes - OAuth
	RouteOAuthStart = "/auth/oauth/{provider}"
	RouteCallback   = "/auth/callback"

	// Auth Routes - Email Confirmation
	RouteConfirm = "/auth/confirm"

	// Session state
	RouteState  = "/auth/state"
	RouteEvents = "/auth/events"

	// Operational
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"

	// Landing page after sign-in
	RouteDashboard = "/dashboard"
)
