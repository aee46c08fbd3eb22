package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/auth/credentials"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/mail"
)

const invalidResetMessage = "Invalid or expired token"

// ForgotPassword sends a reset link when the email belongs to an identity.
// Known and unknown emails produce the same result. The cache is checked
// first so an outage answers every email alike.
func (e *Engine) ForgotPassword(ctx context.Context, email string, meta RequestMeta) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return apperr.New(apperr.KindValidation, "A valid email is required")
	}

	if !e.resets.Ready() {
		return apperr.New(apperr.KindServiceUnavailable, "Password reset is temporarily unavailable. Please try again later.")
	}

	ident, err := e.store.FindByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		logger.Debug("password reset requested for unknown email", map[string]any{"ip": meta.IP})
		return nil
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("find identity by email: %w", err))
	}

	// A cache failure after the lookup must look the same as an unknown email.
	signed, err := e.resets.Issue(ctx, ident.ID.String())
	if apperr.KindOf(err) == apperr.KindServiceUnavailable {
		logger.Warn("password reset not issued, cache unavailable", map[string]any{
			"user_id": ident.ID.String(),
			"error":   err.Error(),
		})
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.mailer.SendPasswordReset(ctx, ident.Email, mail.ResetLink(e.resetBase, signed)); err != nil {
		logger.Error("password reset email failed", map[string]any{
			"user_id": ident.ID.String(),
			"error":   err.Error(),
		})
		return nil
	}

	e.metrics.PasswordReset("requested")
	return nil
}

// ResetPassword sets a new password with a reset token. The marker is
// consumed before the store write, so each token works at most once even if
// the write then fails. A reset also clears any lockout, adds the local
// provider and ends the current session.
func (e *Engine) ResetPassword(ctx context.Context, raw, newPassword string, meta RequestMeta) error {
	if strings.TrimSpace(raw) == "" {
		return apperr.New(apperr.KindInvalidOrExpiredToken, invalidResetMessage)
	}
	if len(newPassword) < credentials.MinPasswordLength {
		return passwordTooShort()
	}

	claims, err := e.issuer.VerifyReset(raw)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidOrExpiredToken, invalidResetMessage, err)
	}

	ok, err := e.resets.Consume(ctx, claims.UserID, claims.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindInvalidOrExpiredToken, invalidResetMessage)
	}

	if err := e.setPassword(ctx, id, newPassword); err != nil {
		return err
	}

	if err := e.sessions.Clear(ctx, claims.UserID); err != nil {
		logger.Warn("password reset could not clear session", map[string]any{
			"user_id": claims.UserID,
			"error":   err.Error(),
		})
	}

	e.metrics.PasswordReset("completed")
	e.record(claims.UserID, audit.ActionPasswordReset, identity.ProviderLocal, meta)
	logger.Info("password reset", map[string]any{"user_id": claims.UserID})
	return nil
}

// ChangePassword updates the caller's password. Identities that already
// sign in locally must present the current one; OAuth-only identities set
// their first password, which enables password login. The caller's session
// stays valid.
func (e *Engine) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string, meta RequestMeta) error {
	if len(next) < credentials.MinPasswordLength {
		return passwordTooShort()
	}

	ident, err := e.store.FindByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("find identity: %w", err))
	}

	if ident.HasProvider(identity.ProviderLocal) {
		if err := e.verifier.CheckPassword(ident, current); err != nil {
			if apperr.Is(err, apperr.KindInvalidCredentials) {
				return apperr.New(apperr.KindInvalidCredentials, "Current password is incorrect")
			}
			return err
		}
		if current == next {
			return apperr.New(apperr.KindValidation, "New password must be different from the current one")
		}
	}

	if err := e.setPassword(ctx, ident.ID, next); err != nil {
		return err
	}

	e.record(ident.ID.String(), audit.ActionPasswordChanged, identity.ProviderLocal, meta)
	return nil
}

func (e *Engine) setPassword(ctx context.Context, id uuid.UUID, password string) error {
	hash, err := e.hasher.Hash(password)
	if errors.Is(err, credentials.ErrPasswordTooShort) {
		return passwordTooShort()
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	err = e.store.SetPassword(ctx, id, hash)
	if errors.Is(err, identity.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("set password: %w", err))
	}
	return nil
}

func passwordTooShort() error {
	return apperr.New(apperr.KindValidation,
		fmt.Sprintf("Password must be at least %d characters", credentials.MinPasswordLength))
}
