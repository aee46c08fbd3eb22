// Package identity holds user records and their persistence.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("identity: not found")
	// ErrConflict is returned when a unique email, username or provider
	// subject is taken.
	ErrConflict = errors.New("identity: conflict")
)

// LinkUpdate describes an external provider being attached to an identity.
// Subject is recorded together with Provider.
type LinkUpdate struct {
	Provider string
	Subject  string
	// AvatarURL only fills an empty avatar.
	AvatarURL string
}

// Store persists identities. Lookups by email and username are
// case-insensitive. Counter updates must be atomic per identity.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	// FindBySubject matches the subject only within the given provider.
	FindBySubject(ctx context.Context, provider, subject string) (*Identity, error)

	// Create inserts the identity and fills in ID and timestamps.
	Create(ctx context.Context, ident *Identity) error
	LinkProvider(ctx context.Context, id uuid.UUID, link LinkUpdate) (*Identity, error)
	// SetPassword stores a new hash and adds the local provider if missing.
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
	UsernameTaken(ctx context.Context, username string) (bool, error)

	// RecordLoginFailure increments the failure counter and, once it reaches
	// threshold, sets lock_until to lockUntil unless a lock is already set.
	// It returns the updated state.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*Identity, error)
	ResetLoginFailures(ctx context.Context, id uuid.UUID) error
	// UnlockIfExpired clears the counter and lock when lock_until <= now.
	UnlockIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}
