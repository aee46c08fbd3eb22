// Package mail is the outbound email boundary. Only a logging
// implementation ships; delivery is left to a real transport.
package mail

import (
	"context"
	"strings"

	"github.com/SspStark/adminsphere-server/internal/logger"
)

type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// ResetLink joins the frontend reset page and the token.
func ResetLink(base, token string) string {
	if base == "" {
		return token
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + token
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	logger.Info("password reset email", map[string]any{
		"to":   to,
		"link": link,
	})
	return nil
}
