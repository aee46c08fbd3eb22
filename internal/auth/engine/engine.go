// Package engine orchestrates the authentication flows: password and OAuth
// login, logout, password reset and change, and administrative session
// revocation. It owns no state of its own.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/auth/credentials"
	"github.com/SspStark/adminsphere-server/internal/auth/provider"
	"github.com/SspStark/adminsphere-server/internal/auth/resolver"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/mail"
	"github.com/SspStark/adminsphere-server/internal/metrics"
	"github.com/SspStark/adminsphere-server/internal/session"
)

// Notifier receives forced-logout notices. Implementations must not block.
type Notifier interface {
	SessionReplaced(userID string)
	SessionRevoked(userID string)
}

// Auditor records events. Implementations must not block or fail.
type Auditor interface {
	Record(e audit.Entry)
}

// AuditLog reads stored audit records back.
type AuditLog interface {
	Recent(ctx context.Context, userID string, limit int) ([]audit.Record, error)
}

// RequestMeta is the client context attached to audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginResult is what a successful login hands back to the transport.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Profile   identity.Profile
	// Degraded is true when the token carries no session id.
	Degraded bool
}

type Deps struct {
	Store     identity.Store
	Verifier  *credentials.Verifier
	Guard     *credentials.Guard
	Hasher    credentials.Hasher
	Sessions  *session.Registry
	Resets    *session.ResetStore
	Issuer    *token.Issuer
	Providers *provider.Registry
	Resolver  resolver.Resolver
	Notifier  Notifier
	Audit     Auditor
	// AuditLog serves the admin audit view. Nil disables it.
	AuditLog AuditLog
	Mailer   mail.Mailer
	Metrics  *metrics.Metrics

	// ResetURLBase is the frontend page the reset token is appended to.
	ResetURLBase string
}

type Engine struct {
	store     identity.Store
	verifier  *credentials.Verifier
	guard     *credentials.Guard
	hasher    credentials.Hasher
	sessions  *session.Registry
	resets    *session.ResetStore
	issuer    *token.Issuer
	providers *provider.Registry
	resolver  resolver.Resolver
	notifier  Notifier
	audit     Auditor
	auditLog  AuditLog
	mailer    mail.Mailer
	metrics   *metrics.Metrics
	resetBase string
}

func New(d Deps) *Engine {
	mailer := d.Mailer
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &Engine{
		store:     d.Store,
		verifier:  d.Verifier,
		guard:     d.Guard,
		hasher:    d.Hasher,
		sessions:  d.Sessions,
		resets:    d.Resets,
		issuer:    d.Issuer,
		providers: d.Providers,
		resolver:  d.Resolver,
		notifier:  d.Notifier,
		audit:     d.Audit,
		auditLog:  d.AuditLog,
		mailer:    mailer,
		metrics:   d.Metrics,
		resetBase: d.ResetURLBase,
	}
}

func (e *Engine) record(userID string, action audit.Action, provider string, meta RequestMeta) {
	e.audit.Record(audit.Entry{
		UserID:    userID,
		Action:    action,
		Provider:  provider,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// startSession replaces the identity's session and mints its token. A prior
// live session is announced to the notifier. The read of the previous value
// and the notification are not one atomic step: two racing logins both
// succeed, the last write wins in the cache, and the notice may be skipped
// or duplicated.
func (e *Engine) startSession(ctx context.Context, ident *identity.Identity, provider string, meta RequestMeta) (*LoginResult, error) {
	userID := ident.ID.String()

	rep, err := e.sessions.Set(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("start session: %w", err))
	}

	if rep.Degraded {
		e.metrics.DegradedLogin()
		logger.Warn("session enforcement disabled: cache unavailable", map[string]any{
			"user_id":  userID,
			"provider": provider,
			"ip":       meta.IP,
		})
	}

	if rep.Previous != "" {
		e.notifier.SessionReplaced(userID)
		e.metrics.SessionReplaced()
		e.record(userID, audit.ActionSessionReplaced, provider, meta)
	}

	signed, exp, err := e.issuer.Mint(userID, string(ident.Role), rep.Token, provider)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &LoginResult{
		Token:     signed,
		ExpiresAt: exp,
		Profile:   ident.Profile(),
		Degraded:  rep.Degraded,
	}, nil
}
