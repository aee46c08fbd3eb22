package session

import (
	"context"
	"time"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/redis"
)

const (
	resetKeyPrefix = "password_reset:"
	ResetTTL       = 10 * time.Minute
)

func ResetKey(identityID string) string {
	return resetKeyPrefix + identityID
}

// ResetStore issues reset tokens and holds the marker that makes each one
// usable once. The marker stores the token's JWT ID, so only the most
// recently issued token can be consumed.
type ResetStore struct {
	cache  *redis.Client
	issuer *token.Issuer
}

func NewResetStore(cache *redis.Client, issuer *token.Issuer) *ResetStore {
	return &ResetStore{cache: cache, issuer: issuer}
}

func unavailable(err error) error {
	return apperr.Wrap(apperr.KindServiceUnavailable,
		"Password reset is temporarily unavailable. Please try again later.", err)
}

// Ready reports whether resets can be issued right now.
func (s *ResetStore) Ready() bool {
	return s.cache.Available()
}

// Issue mints a reset token and records its marker. It fails closed when the
// cache is down.
func (s *ResetStore) Issue(ctx context.Context, identityID string) (string, error) {
	if !s.cache.Available() {
		return "", unavailable(ErrUnavailable)
	}

	signed, jti, err := s.issuer.MintReset(identityID)
	if err != nil {
		return "", apperr.Internal(err)
	}

	if err := s.cache.Set(ctx, ResetKey(identityID), jti, ResetTTL).Err(); err != nil {
		_ = s.cache.Observe(err)
		return "", unavailable(err)
	}
	return signed, nil
}

// Consume deletes the marker if it still holds jti and reports whether it did.
func (s *ResetStore) Consume(ctx context.Context, identityID, jti string) (bool, error) {
	if !s.cache.Available() {
		return false, unavailable(ErrUnavailable)
	}

	n, err := compareAndDelete.Run(ctx, s.cache.UniversalClient, []string{ResetKey(identityID)}, jti).Int()
	if err != nil {
		_ = s.cache.Observe(err)
		return false, unavailable(err)
	}
	return n == 1, nil
}
