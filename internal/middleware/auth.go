package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/session"
)

const sessionInvalidMessage = "Session expired or logged in from another device"

// unexported, collision-proof context key
type principalContextKeyType struct{}

var principalKey = principalContextKeyType{}

// Principal is the authenticated caller.
type Principal struct {
	Claims   *token.SessionClaims
	Identity *identity.Identity
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the authenticated caller from context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return p.Identity.ID, true
}

type AuthMiddleware struct {
	Issuer   *token.Issuer
	Sessions *session.Registry
	Store    identity.Store
	Cookie   session.CookieOptions
}

func NewAuthMiddleware(issuer *token.Issuer, sessions *session.Registry, store identity.Store, cookie session.CookieOptions) *AuthMiddleware {
	return &AuthMiddleware{
		Issuer:   issuer,
		Sessions: sessions,
		Store:    store,
		Cookie:   cookie,
	}
}

// Authenticate verifies a session token, checks it is the identity's current
// session and loads the identity. Tokens without a session id, or any token
// while the cache is down, skip the session check.
func (a *AuthMiddleware) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := a.Issuer.Verify(raw)
	if err != nil {
		return nil, err
	}

	if claims.SessionID != "" {
		switch a.Sessions.Validate(ctx, claims.UserID, claims.SessionID) {
		case session.StateInvalid:
			return nil, apperr.New(apperr.KindUnauthorized, sessionInvalidMessage)
		case session.StateUnavailable:
			logger.Warn("session check skipped: cache unavailable", map[string]any{
				"user_id": claims.UserID,
			})
		}
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired token", err)
	}

	ident, err := a.Store.FindByID(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, apperr.New(apperr.KindUnauthorized, "User not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &Principal{Claims: claims, Identity: ident}, nil
}

// UserID authenticates raw and returns only the identity id. The realtime
// handshake uses it.
func (a *AuthMiddleware) UserID(ctx context.Context, raw string) (string, error) {
	p, err := a.Authenticate(ctx, raw)
	if err != nil {
		return "", err
	}
	return p.Identity.ID.String(), nil
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := session.TokenFromRequest(r)
		if raw == "" {
			writeError(w, apperr.New(apperr.KindUnauthorized, "No token provided"))
			return
		}

		p, err := a.Authenticate(r.Context(), raw)
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthorized) {
				session.ClearCookie(w, a.Cookie)
			}
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		logger.Error("auth middleware failed", map[string]any{"error": err.Error()})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(ae.Status())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": ae.Message,
		"code":    ae.Kind,
	})
}
