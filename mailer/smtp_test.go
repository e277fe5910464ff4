package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSMTPMailer_BuildMsg(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{From: "no-reply@primehr.io"})

	msg, err := m.buildMsg(ConfirmationMessage("PrimeHR", "jane@example.com", "https://app.primehr.io/auth/confirm?token=abc"))
	require.NoError(t, err)
	require.Equal(t, []string{"<jane@example.com>"}, msg.GetToString())
}

func TestSMTPMailer_RejectsBadRecipient(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{From: "no-reply@primehr.io"})

	_, err := m.buildMsg(Message{To: "not an address", Subject: "x", HTML: "x"})
	require.Error(t, err)
}

func TestConfirmationMessage_EscapesLink(t *testing.T) {
	msg := ConfirmationMessage("PrimeHR", "jane@example.com", `https://x/confirm?token=a&b="c"`)
	require.Contains(t, msg.HTML, "&amp;b=&#34;c&#34;")
	require.Contains(t, msg.Text, `token=a&b="c"`)
}
