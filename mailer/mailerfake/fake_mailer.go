package mailerfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/primehr-session/mailer"
)

var _ mailer.Mailer = (*FakeMailer)(nil)

// FakeMailer records every message it is asked to send.
type FakeMailer struct {
	lock sync.Mutex
	sent []mailer.Message
	err  error
}

func NewFakeMailer() *FakeMailer {
	return &FakeMailer{}
}

// FailWith makes Send return err.
func (m *FakeMailer) FailWith(err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.err = err
}

func (m *FakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *FakeMailer) Sent() []mailer.Message {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}
