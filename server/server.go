package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/primehr-session/internal/config"
	"github.com/jrsteele09/primehr-session/internal/metrics"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Dependencies are the shared services every browser instance is built from.
type Dependencies struct {
	Backend  *local.Backend
	Profiles profiles.Reader
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	backend   *local.Backend
	instances *InstanceRegistry
	limiter   *RateLimiter
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
}

func New(cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Backend == nil {
		return nil, errors.New("[Server New] backend is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("[Server New] profile reader is required")
	}
	if deps.Metrics == nil || deps.Gatherer == nil {
		return nil, errors.New("[Server New] metrics collector and gatherer are required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		backend:  deps.Backend,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
	}
	s.instances = NewInstanceRegistry(cfg, deps.Backend, deps.Profiles, deps.Metrics)

	if cfg.GetEnableRateLimiting() {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			PerMinute:       cfg.GetAuthRatePerMinute(),
			CleanupInterval: defaultCleanupInterval,
			TrustedProxies:  cfg.GetTrustedProxies(),
		}, deps.Metrics)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disposes every browser instance and stops background loops.
func (s *Server) Close() {
	s.instances.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colouredMethod(method), path)
}

func colouredMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}
