package provider

import (
	"context"

	"github.com/SspStark/adminsphere-server/internal/auth"
)

// OAuthProvider defines the contract every external auth provider
// must implement. Implementations return identity facts only and
// must not perform user creation, linking, or session management.
type OAuthProvider interface {
	// Name returns the provider identifier (e.g. "google", "keycloak").
	Name() string

	// AuthCodeURL returns the authorization URL for the given state and
	// S256 PKCE challenge.
	AuthCodeURL(state string, codeChallenge string) string

	// ExchangeCode exchanges the authorization code and returns the
	// verified identity. Failures are OAuthFailed errors.
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*auth.ExternalIdentity, error)
}
