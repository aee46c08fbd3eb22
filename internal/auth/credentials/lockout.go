package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

const (
	DefaultLockThreshold = 5
	DefaultLockDuration  = 15 * time.Minute
)

// Guard tracks failed password attempts and locks an identity once the
// threshold is reached.
type Guard struct {
	store     identity.Store
	threshold int
	duration  time.Duration

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewGuard(store identity.Store, threshold int, duration time.Duration) *Guard {
	if threshold <= 0 {
		threshold = DefaultLockThreshold
	}
	if duration <= 0 {
		duration = DefaultLockDuration
	}
	return &Guard{
		store:     store,
		threshold: threshold,
		duration:  duration,
		Now:       time.Now,
	}
}

// Check rejects a locked identity. It never changes the counter of an
// active lock; an expired lock is cleared first.
func (g *Guard) Check(ctx context.Context, ident *identity.Identity) error {
	now := g.Now()

	if ident.LockedAt(now) {
		return apperr.New(apperr.KindAccountLocked, "Account temporarily locked. Try again later.")
	}

	if ident.LockExpiredAt(now) {
		if _, err := g.store.UnlockIfExpired(ctx, ident.ID, now); err != nil {
			return apperr.Internal(fmt.Errorf("unlock identity: %w", err))
		}
		ident.FailedLoginAttempts = 0
		ident.LockUntil = nil
	}

	return nil
}

// RecordFailure counts a failed password check. The failure that reaches
// the threshold returns AccountLocked.
func (g *Guard) RecordFailure(ctx context.Context, ident *identity.Identity) error {
	now := g.Now()

	updated, err := g.store.RecordLoginFailure(ctx, ident.ID, g.threshold, now.Add(g.duration))
	if err != nil {
		return apperr.Internal(fmt.Errorf("record login failure: %w", err))
	}

	ident.FailedLoginAttempts = updated.FailedLoginAttempts
	ident.LockUntil = updated.LockUntil

	if updated.LockedAt(now) {
		logger.Warn("account locked", map[string]any{
			"user_id":  ident.ID.String(),
			"attempts": updated.FailedLoginAttempts,
			"until":    updated.LockUntil,
		})
		return apperr.New(apperr.KindAccountLocked,
			fmt.Sprintf("Too many failed attempts. Account locked for %d minutes.", int(g.duration.Minutes())))
	}
	return nil
}

// RecordSuccess clears the counter and any lock.
func (g *Guard) RecordSuccess(ctx context.Context, ident *identity.Identity) error {
	if ident.FailedLoginAttempts == 0 && ident.LockUntil == nil {
		return nil
	}

	if err := g.store.ResetLoginFailures(ctx, ident.ID); err != nil {
		return apperr.Internal(fmt.Errorf("reset login failures: %w", err))
	}
	ident.FailedLoginAttempts = 0
	ident.LockUntil = nil
	return nil
}
