package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/identity"
)

var testHasher = Hasher{Cost: bcrypt.MinCost}

func seed(t *testing.T, store *identity.MemoryStore, ident *identity.Identity, password string) *identity.Identity {
	t.Helper()

	if password != "" {
		hash, err := testHasher.Hash(password)
		require.NoError(t, err)
		ident.PasswordHash = &hash
	}
	require.NoError(t, store.Create(context.Background(), ident))
	return ident
}

func TestHasherRejectsShortPassword(t *testing.T) {
	t.Parallel()

	_, err := testHasher.Hash("abc")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestLookupByEmailAndUsername(t *testing.T) {
	t.Parallel()

	store := identity.NewMemoryStore()
	alice := seed(t, store, &identity.Identity{Email: "alice@example.com", Username: "Alice", Providers: []string{"local"}}, "secret123")

	v, err := NewVerifier(store, testHasher)
	require.NoError(t, err)

	ctx := context.Background()
	got, err := v.Lookup(ctx, "  ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = v.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
}

func TestLookupUnknownMatchesWrongPasswordMessage(t *testing.T) {
	t.Parallel()

	store := identity.NewMemoryStore()
	alice := seed(t, store, &identity.Identity{Email: "alice@example.com", Username: "alice", Providers: []string{"local"}}, "secret123")

	v, err := NewVerifier(store, testHasher)
	require.NoError(t, err)

	_, unknownErr := v.Lookup(context.Background(), "nobody")
	wrongErr := v.CheckPassword(alice, "nope-nope")

	require.True(t, apperr.Is(unknownErr, apperr.KindInvalidCredentials))
	require.True(t, apperr.Is(wrongErr, apperr.KindInvalidCredentials))
	assert.Equal(t, apperr.From(unknownErr).Message, apperr.From(wrongErr).Message)

	assert.NoError(t, v.CheckPassword(alice, "secret123"))
}

func TestLookupWrongProvider(t *testing.T) {
	t.Parallel()

	store := identity.NewMemoryStore()
	seed(t, store, &identity.Identity{Email: "g@example.com", Username: "g", Providers: []string{"google"}}, "")

	v, err := NewVerifier(store, testHasher)
	require.NoError(t, err)

	_, err = v.Lookup(context.Background(), "g@example.com")
	require.True(t, apperr.Is(err, apperr.KindWrongProvider))
	assert.Contains(t, apperr.From(err).Message, "Google")
}

func TestLookupEmptyIdentifier(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(identity.NewMemoryStore(), testHasher)
	require.NoError(t, err)

	_, err = v.Lookup(context.Background(), "   ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestGuardLocksAtThresholdAndUnlocksAfterWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := identity.NewMemoryStore()
	ident := seed(t, store, &identity.Identity{Email: "a@x.test", Username: "a"}, "secret123")

	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(store, 5, 15*time.Minute)
	g.Now = clk.Now

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Check(ctx, ident))
		require.NoError(t, g.RecordFailure(ctx, ident))
	}
	require.NoError(t, g.Check(ctx, ident))
	err := g.RecordFailure(ctx, ident)
	require.True(t, apperr.Is(err, apperr.KindAccountLocked))

	// locked: Check rejects and leaves the counter alone
	clk.now = clk.now.Add(14 * time.Minute)
	err = g.Check(ctx, ident)
	require.True(t, apperr.Is(err, apperr.KindAccountLocked))

	stored, err := store.FindByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedLoginAttempts)

	// after the window the lock clears
	clk.now = clk.now.Add(2 * time.Minute)
	require.NoError(t, g.Check(ctx, ident))
	assert.Zero(t, ident.FailedLoginAttempts)

	stored, err = store.FindByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestGuardRecordSuccessResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := identity.NewMemoryStore()
	ident := seed(t, store, &identity.Identity{Email: "a@x.test", Username: "a"}, "secret123")

	g := NewGuard(store, 5, time.Minute)
	require.NoError(t, g.RecordFailure(ctx, ident))
	require.NoError(t, g.RecordFailure(ctx, ident))
	assert.Equal(t, 2, ident.FailedLoginAttempts)

	require.NoError(t, g.RecordSuccess(ctx, ident))

	stored, err := store.FindByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
}
