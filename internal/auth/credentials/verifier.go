package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/identity"
)

// Same message for unknown identifier and wrong password.
const invalidCredentialsMessage = "Invalid username/email or password"

// Verifier resolves an identifier to an identity and checks its password.
type Verifier struct {
	store     identity.Store
	hasher    Hasher
	dummyHash string
}

func NewVerifier(store identity.Store, hasher Hasher) (*Verifier, error) {
	// compared against when the identifier is unknown so both paths cost one bcrypt run
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), hasher.cost())
	if err != nil {
		return nil, fmt.Errorf("credentials: dummy hash: %w", err)
	}

	return &Verifier{
		store:     store,
		hasher:    hasher,
		dummyHash: string(dummy),
	}, nil
}

// Lookup finds the identity for an email (contains "@") or username.
// Unknown identifiers and identities without a local password are rejected.
func (v *Verifier) Lookup(ctx context.Context, identifier string) (*identity.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.New(apperr.KindValidation, "Username or email is required")
	}

	var (
		ident *identity.Identity
		err   error
	)
	if strings.Contains(identifier, "@") {
		ident, err = v.store.FindByEmail(ctx, identifier)
	} else {
		ident, err = v.store.FindByUsername(ctx, identifier)
	}

	if errors.Is(err, identity.ErrNotFound) {
		_ = v.hasher.Compare(v.dummyHash, identifier)
		return nil, apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("lookup identity: %w", err))
	}

	if !ident.HasProvider(identity.ProviderLocal) {
		return ident, apperr.New(apperr.KindWrongProvider, wrongProviderMessage(ident.ExternalProvider()))
	}

	return ident, nil
}

// CheckPassword compares password against the identity's stored hash.
func (v *Verifier) CheckPassword(ident *identity.Identity, password string) error {
	if ident.PasswordHash == nil || *ident.PasswordHash == "" {
		_ = v.hasher.Compare(v.dummyHash, password)
		return apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
	}

	if err := v.hasher.Compare(*ident.PasswordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
		}
		return apperr.Internal(fmt.Errorf("compare password: %w", err))
	}
	return nil
}

func wrongProviderMessage(provider string) string {
	name := "external"
	if provider != "" {
		name = strings.ToUpper(provider[:1]) + provider[1:]
	}
	return "Please login with your existing " + name + " account and create a password"
}
