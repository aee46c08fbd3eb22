package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

// Me returns the public profile of an identity.
func (e *Engine) Me(ctx context.Context, userID uuid.UUID) (*identity.Profile, error) {
	ident, err := e.store.FindByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("find identity: %w", err))
	}
	p := ident.Profile()
	return &p, nil
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditTrail returns the latest audit records of an identity, newest first.
// limit is clamped to [1, 200]; zero or less means 50.
func (e *Engine) AuditTrail(ctx context.Context, actor *identity.Identity, targetID uuid.UUID, limit int) ([]audit.Record, error) {
	if actor == nil || (actor.Role != identity.RoleAdmin && !actor.Role.Privileged()) {
		return nil, apperr.New(apperr.KindForbidden, "Access denied")
	}
	if e.auditLog == nil {
		return nil, apperr.New(apperr.KindServiceUnavailable, "Audit log is not available")
	}

	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}

	if _, err := e.store.FindByID(ctx, targetID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, apperr.Internal(fmt.Errorf("find identity: %w", err))
	}

	records, err := e.auditLog.Recent(ctx, targetID.String(), limit)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("read audit log: %w", err))
	}
	if records == nil {
		records = []audit.Record{}
	}
	return records, nil
}

// RevokeSession ends another identity's session and tells its devices. A
// super-admin session can only be ended by a super-admin.
func (e *Engine) RevokeSession(ctx context.Context, actor *identity.Identity, targetID uuid.UUID, meta RequestMeta) error {
	if actor == nil || (actor.Role != identity.RoleAdmin && !actor.Role.Privileged()) {
		return apperr.New(apperr.KindForbidden, "Access denied")
	}

	target, err := e.store.FindByID(ctx, targetID)
	if errors.Is(err, identity.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "User not found")
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("find identity: %w", err))
	}

	if target.Role.Privileged() && !actor.Role.Privileged() {
		return apperr.New(apperr.KindForbidden, "Only a super-admin can end a super-admin session")
	}

	if err := e.sessions.Clear(ctx, target.ID.String()); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "Session store is temporarily unavailable", err)
	}

	e.notifier.SessionRevoked(target.ID.String())
	e.record(target.ID.String(), audit.ActionSessionRevoked, identity.ProviderLocal, meta)
	logger.Info("session revoked", map[string]any{
		"user_id":  target.ID.String(),
		"actor_id": actor.ID.String(),
	})
	return nil
}
