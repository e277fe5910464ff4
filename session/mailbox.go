package session

import (
	"sync"

	"github.com/jrsteele09/primehr-session/provider"
)

type envelope struct {
	event provider.AuthEvent
	// stale marks an initial lookup overtaken by a provider event.
	stale   bool
	barrier chan struct{}
}

// mailbox is an unbounded FIFO so producers never block on the consumer.
type mailbox struct {
	mu     sync.Mutex
	items  []envelope
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// put appends an envelope. It returns false once the mailbox is closed.
func (mb *mailbox) put(e envelope) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.items = append(mb.items, e)
	mb.mu.Unlock()

	mb.wake()
	return true
}

func (mb *mailbox) wake() {
	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

// drain takes everything queued so far.
func (mb *mailbox) drain() ([]envelope, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	items := mb.items
	mb.items = nil
	return items, mb.closed
}

func (mb *mailbox) isClosed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.wake()
}
