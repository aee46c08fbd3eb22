// Package session keeps the single active session per identity and the
// single-use password reset markers in the shared cache.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/SspStark/adminsphere-server/internal/redis"
)

const (
	sessionKeyPrefix = "session:"
	SessionTTL       = 24 * time.Hour
)

// ErrUnavailable is returned when the cache cannot be reached.
var ErrUnavailable = errors.New("session: cache unavailable")

// compareAndDelete removes KEYS[1] only if it still holds ARGV[1].
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func SessionKey(identityID string) string {
	return sessionKeyPrefix + identityID
}

type State int

const (
	StateInvalid State = iota
	StateValid
	// StateUnavailable means the cache could not be consulted.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateUnavailable:
		return "unavailable"
	default:
		return "invalid"
	}
}

// Replacement is the outcome of Set.
type Replacement struct {
	// Token is empty when Degraded.
	Token string
	// Previous is the token that was evicted, if any.
	Previous string
	// Degraded means no session was recorded because the cache is down.
	Degraded bool
}

// Registry maps an identity to its one live session token.
type Registry struct {
	cache *redis.Client
	ttl   time.Duration
}

func NewRegistry(cache *redis.Client) *Registry {
	return &Registry{cache: cache, ttl: SessionTTL}
}

// Set writes a fresh token and returns the one it replaced in a single
// SET ... GET round trip.
func (r *Registry) Set(ctx context.Context, identityID string) (Replacement, error) {
	if !r.cache.Available() {
		return Replacement{Degraded: true}, nil
	}

	tok, err := GenerateID()
	if err != nil {
		return Replacement{}, err
	}

	prev, err := r.cache.SetArgs(ctx, SessionKey(identityID), tok, goredis.SetArgs{
		TTL: r.ttl,
		Get: true,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return Replacement{Token: tok}, nil
	}
	if err != nil {
		_ = r.cache.Observe(err)
		return Replacement{Degraded: true}, nil
	}

	return Replacement{Token: tok, Previous: prev}, nil
}

// Validate reports whether token is the identity's current session.
func (r *Registry) Validate(ctx context.Context, identityID, token string) State {
	if !r.cache.Available() {
		return StateUnavailable
	}

	current, err := r.cache.Get(ctx, SessionKey(identityID)).Result()
	if errors.Is(err, goredis.Nil) {
		return StateInvalid
	}
	if err != nil {
		_ = r.cache.Observe(err)
		return StateUnavailable
	}

	if subtle.ConstantTimeCompare([]byte(current), []byte(token)) == 1 {
		return StateValid
	}
	return StateInvalid
}

// Revoke deletes the session only if token is still the current one, so a
// stale logout cannot end a newer login.
func (r *Registry) Revoke(ctx context.Context, identityID, token string) (bool, error) {
	if !r.cache.Available() {
		return false, ErrUnavailable
	}

	n, err := compareAndDelete.Run(ctx, r.cache.UniversalClient, []string{SessionKey(identityID)}, token).Int()
	if err != nil {
		_ = r.cache.Observe(err)
		return false, ErrUnavailable
	}
	return n == 1, nil
}

// Clear deletes the identity's session unconditionally.
func (r *Registry) Clear(ctx context.Context, identityID string) error {
	if !r.cache.Available() {
		return ErrUnavailable
	}

	if err := r.cache.Del(ctx, SessionKey(identityID)).Err(); err != nil {
		_ = r.cache.Observe(err)
		return ErrUnavailable
	}
	return nil
}
