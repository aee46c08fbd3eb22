package engine

import (
	"context"
	"strings"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

// Login authenticates an email or username with a password. The lock is
// checked before the password so a locked account reveals nothing about it.
func (e *Engine) Login(ctx context.Context, identifier, password string, meta RequestMeta) (*LoginResult, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return nil, apperr.New(apperr.KindValidation, "Identifier and password are required")
	}

	ident, err := e.verifier.Lookup(ctx, identifier)
	if err != nil {
		e.loginFailed(ident, err, meta)
		return nil, err
	}

	if err := e.guard.Check(ctx, ident); err != nil {
		e.loginFailed(ident, err, meta)
		return nil, err
	}

	if err := e.verifier.CheckPassword(ident, password); err != nil {
		if apperr.Is(err, apperr.KindInvalidCredentials) {
			if lockErr := e.guard.RecordFailure(ctx, ident); lockErr != nil {
				err = lockErr
			}
		}
		e.loginFailed(ident, err, meta)
		return nil, err
	}

	if err := e.guard.RecordSuccess(ctx, ident); err != nil {
		return nil, err
	}

	res, err := e.startSession(ctx, ident, identity.ProviderLocal, meta)
	if err != nil {
		return nil, err
	}

	e.metrics.Login(identity.ProviderLocal, "success")
	e.record(ident.ID.String(), audit.ActionLoginSuccess, identity.ProviderLocal, meta)
	logger.Info("login succeeded", map[string]any{
		"user_id":  ident.ID.String(),
		"provider": identity.ProviderLocal,
		"ip":       meta.IP,
		"degraded": res.Degraded,
	})
	return res, nil
}

func (e *Engine) loginFailed(ident *identity.Identity, err error, meta RequestMeta) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindValidation {
		return
	}

	var userID string
	if ident != nil {
		userID = ident.ID.String()
	}
	e.metrics.Login(identity.ProviderLocal, strings.ToLower(string(kind)))
	e.record(userID, audit.ActionLoginFailed, identity.ProviderLocal, meta)
}

// OAuthLogin finishes an authorization-code flow: the code is exchanged,
// the assertion resolved to an identity, and a session started. Lockout does
// not apply to external logins.
func (e *Engine) OAuthLogin(ctx context.Context, providerName, code, codeVerifier string, meta RequestMeta) (*LoginResult, error) {
	p, err := e.providers.Get(providerName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Unknown OAuth provider", err)
	}
	if code == "" {
		return nil, apperr.New(apperr.KindValidation, "Authorization code is required")
	}

	ext, err := p.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		e.oauthFailed(p.Name(), err, meta)
		return nil, err
	}

	ident, outcome, err := e.resolver.Resolve(ctx, ext)
	if err != nil {
		e.oauthFailed(p.Name(), err, meta)
		return nil, err
	}

	res, err := e.startSession(ctx, ident, p.Name(), meta)
	if err != nil {
		return nil, err
	}

	e.metrics.Login(p.Name(), "success")
	e.record(ident.ID.String(), audit.ActionOAuthLogin, p.Name(), meta)
	logger.Info("oauth login succeeded", map[string]any{
		"user_id":  ident.ID.String(),
		"provider": p.Name(),
		"outcome":  string(outcome),
		"degraded": res.Degraded,
	})
	return res, nil
}

func (e *Engine) oauthFailed(providerName string, err error, meta RequestMeta) {
	e.metrics.Login(providerName, strings.ToLower(string(apperr.KindOf(err))))
	e.record("", audit.ActionLoginFailed, providerName, meta)
	logger.Warn("oauth login failed", map[string]any{
		"provider": providerName,
		"error":    err.Error(),
	})
}

// Logout ends the caller's session. With forceLogout the cache entry is left
// alone: the client is acknowledging that a newer login already replaced it.
// Tokens without a session id were never bound to an entry, so there is
// nothing to remove. Cache failures do not fail the logout.
func (e *Engine) Logout(ctx context.Context, claims *token.SessionClaims, forceLogout bool, meta RequestMeta) {
	if claims == nil {
		return
	}

	if !forceLogout && claims.SessionID != "" {
		if _, err := e.sessions.Revoke(ctx, claims.UserID, claims.SessionID); err != nil {
			logger.Warn("logout could not clear session", map[string]any{
				"user_id": claims.UserID,
				"error":   err.Error(),
			})
		}
	}

	provider := claims.Provider
	if provider == "" {
		provider = identity.ProviderLocal
	}
	e.record(claims.UserID, audit.ActionLogout, provider, meta)
}
