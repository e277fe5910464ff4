package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jrsteele09/primehr-session/internal/config"
	"github.com/jrsteele09/primehr-session/internal/metrics"
	"github.com/jrsteele09/primehr-session/notify"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/jrsteele09/primehr-session/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrTooManyInstances is returned when the registry is at its configured cap.
var ErrTooManyInstances = errors.New("too many active sessions")

const (
	instanceCookieName = "primehr_instance"
	instanceIDKey      = "instance_id"
	instanceCookieAge  = 86400 * 30
)

// Instance is one browser's application state: its provider client, the
// session manager observing it and the notifications waiting to be shown.
type Instance struct {
	ID            string
	Client        *local.Client
	Manager       *session.Manager
	Notifications *notify.Queue

	mu       sync.Mutex
	lastSeen time.Time
}

func (i *Instance) touch(now time.Time) {
	i.mu.Lock()
	i.lastSeen = now
	i.mu.Unlock()
}

func (i *Instance) idleSince() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastSeen
}

// InstanceRegistry maps the browser cookie to its Instance and disposes
// instances that have been idle too long.
type InstanceRegistry struct {
	config   config.Config
	backend  *local.Backend
	profiles profiles.Reader
	metrics  *metrics.Collector
	store    *sessions.CookieStore
	nowTime  func() time.Time
	max      int

	mu        sync.Mutex
	instances map[string]*Instance
	closed    bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewInstanceRegistry(cfg config.Config, backend *local.Backend, profileReader profiles.Reader, collector *metrics.Collector) *InstanceRegistry {
	store := sessions.NewCookieStore([]byte(cfg.GetCookieSecret()))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   instanceCookieAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(cfg.GetSiteURL(), "https://"),
		SameSite: http.SameSiteLaxMode,
	}

	r := &InstanceRegistry{
		config:    cfg,
		backend:   backend,
		profiles:  profileReader,
		metrics:   collector,
		store:     store,
		nowTime:   time.Now,
		max:       cfg.GetMaxInstances(),
		instances: make(map[string]*Instance),
		stopCh:    make(chan struct{}),
	}

	if idle := cfg.GetInstanceIdleTimeout(); idle > 0 {
		r.wg.Add(1)
		go r.janitor(idle)
	}

	return r
}

// Lookup returns the caller's live instance, or nil when the browser has none.
// It never creates one.
func (r *InstanceRegistry) Lookup(req *http.Request) *Instance {
	cookie, err := r.store.Get(req, instanceCookieName)
	if err != nil {
		log.Debug().Err(err).Msg("discarding unreadable instance cookie")
	}
	id, ok := cookie.Values[instanceIDKey].(string)
	if !ok {
		return nil
	}
	inst := r.get(id)
	if inst != nil {
		inst.touch(r.nowTime())
	}
	return inst
}

// ForRequest returns the caller's instance, creating it and setting the
// cookie when the browser has none or its instance has been reaped.
func (r *InstanceRegistry) ForRequest(w http.ResponseWriter, req *http.Request) (*Instance, error) {
	if inst := r.Lookup(req); inst != nil {
		return inst, nil
	}

	cookie, err := r.store.Get(req, instanceCookieName)
	if err != nil {
		log.Debug().Err(err).Msg("discarding unreadable instance cookie")
	}

	inst, err := r.create(req.Context())
	if err != nil {
		return nil, err
	}

	cookie.Values[instanceIDKey] = inst.ID
	if err := cookie.Save(req, w); err != nil {
		r.remove(inst.ID)
		return nil, errors.Wrap(err, "[InstanceRegistry.ForRequest] save cookie")
	}
	return inst, nil
}

func (r *InstanceRegistry) get(id string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[id]
}

func (r *InstanceRegistry) create(ctx context.Context) (*Instance, error) {
	if r.max > 0 && r.Len() >= r.max {
		return nil, ErrTooManyInstances
	}
	id := uuid.New().String()
	client := r.backend.NewClient()
	queue := notify.NewQueue()

	manager, err := session.New(client, r.profiles,
		session.WithLogger(log.Logger.With().Str("component", "session").Str("instance_id", id).Logger()),
		session.WithNotifier(queue),
		session.WithRecorder(r.metrics),
		session.WithSiteURL(r.config.GetSiteURL()),
		session.WithProfileTimeout(r.config.GetProfileFetchTimeout()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[InstanceRegistry.create] session manager")
	}
	if err := manager.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "[InstanceRegistry.create] init")
	}

	inst := &Instance{
		ID:            id,
		Client:        client,
		Manager:       manager,
		Notifications: queue,
		lastSeen:      r.nowTime(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		manager.Dispose()
		return nil, errors.New("[InstanceRegistry.create] registry closed")
	}
	if r.max > 0 && len(r.instances) >= r.max {
		r.mu.Unlock()
		manager.Dispose()
		return nil, ErrTooManyInstances
	}
	r.instances[id] = inst
	r.mu.Unlock()

	r.metrics.InstanceOpened()
	log.Debug().Str("instance_id", id).Msg("instance created")
	return inst, nil
}

func (r *InstanceRegistry) remove(id string) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()

	if ok {
		inst.Manager.Dispose()
		r.metrics.InstanceClosed()
	}
}

// Len returns the number of live instances.
func (r *InstanceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Reap disposes instances not seen since before the cutoff.
func (r *InstanceRegistry) Reap(before time.Time) int {
	r.mu.Lock()
	var idle []string
	for id, inst := range r.instances {
		if inst.idleSince().Before(before) {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.remove(id)
	}
	if len(idle) > 0 {
		log.Debug().Int("count", len(idle)).Msg("reaped idle instances")
	}
	return len(idle)
}

func (r *InstanceRegistry) janitor(idle time.Duration) {
	defer r.wg.Done()

	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reap(r.nowTime().Add(-idle))
			r.backend.PruneExpired()
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the janitor and disposes every instance.
func (r *InstanceRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.remove(id)
	}
}
