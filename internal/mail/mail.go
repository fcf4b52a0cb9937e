// Package mail is the interface boundary for outbound email. Actual
// delivery (SMTP, provider APIs) lives behind Mailer; the server only
// depends on the signature.
package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer sends a single mail. Either textBody or htmlBody may be empty.
type Mailer interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// LogMailer records outbound mail instead of delivering it. Used in
// development and tests.
type LogMailer struct {
	Logger zerolog.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, textBody, htmlBody string) error {
	m.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("text_len", len(textBody)).
		Int("html_len", len(htmlBody)).
		Msg("outbound mail")
	return nil
}
