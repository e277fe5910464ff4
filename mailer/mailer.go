// Package mailer sends the transactional emails of the auth backend.
package mailer

import (
	"context"
	"fmt"
	"html"

	"github.com/rs/zerolog/log"
)

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ConfirmationMessage builds the "confirm your signup" email.
func ConfirmationMessage(appName, to, link string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Confirm your %s account", appName),
		HTML: fmt.Sprintf(`<h2>Confirm your signup</h2>
<p>Follow this link to confirm your %s account:</p>
<p><a href="%s">Confirm your email</a></p>`, html.EscapeString(appName), html.EscapeString(link)),
		Text: fmt.Sprintf("Confirm your %s account: %s", appName, link),
	}
}

// LogMailer writes messages to the log instead of sending them. Used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg(msg.Text)
	return nil
}
