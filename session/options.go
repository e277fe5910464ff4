package session

import (
	"time"

	"github.com/jrsteele09/primehr-session/notify"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/rs/zerolog"
)

// Recorder receives operational counters from the manager.
type Recorder interface {
	AuthOperation(op string, err error)
	SessionEvent(eventType provider.EventType)
	ProfileFetchFailed()
}

type nopRecorder struct{}

func (nopRecorder) AuthOperation(string, error)     {}
func (nopRecorder) SessionEvent(provider.EventType) {}
func (nopRecorder) ProfileFetchFailed()             {}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNotifier sets where user-facing notifications such as the sign-up
// confirmation prompt are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithSiteURL sets the base URL OAuth and confirmation redirects return to.
func WithSiteURL(siteURL string) Option {
	return func(m *Manager) {
		m.siteURL = siteURL
	}
}

// WithProfileTimeout bounds each profile fetch. Zero leaves the repository's own defaults.
func WithProfileTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.profileTimeout = d
	}
}
