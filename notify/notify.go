// Package notify carries user-facing notifications (toasts) raised by the session manager.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

type Notification struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// LogNotifier logs notifications. It is the default when no UI is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	log.Info().Str("kind", string(n.Kind)).Str("title", n.Title).Msg(n.Message)
}

// Queue buffers notifications until a UI drains them.
type Queue struct {
	mu      sync.Mutex
	pending []Notification
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Notify(ctx context.Context, n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, n)
}

// Drain returns and clears the pending notifications.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
