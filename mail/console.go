package mail

import (
	"context"

	auth "github.com/goliatone/go-authcore"
)

// ConsoleSender logs messages instead of sending them. Development only:
// the body, and with it the code, is written at debug level.
type ConsoleSender struct {
	logger auth.Logger
}

var _ auth.EmailSender = (*ConsoleSender)(nil)

func NewConsoleSender(logger auth.Logger) *ConsoleSender {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(_ context.Context, msg auth.EmailMessage) error {
	s.logger.Info("mail/console: %s email to %s: %s", msg.Format, msg.To, msg.Subject)
	s.logger.Debug("mail/console: body:\n%s", msg.Body)
	return nil
}
