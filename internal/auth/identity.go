package auth

// ExternalIdentity is the verified assertion returned by an OAuth provider.
// It contains facts only, no decisions.
type ExternalIdentity struct {
	Provider      string // e.g. "google", "keycloak"
	Subject       string // provider-scoped unique user identifier (sub)
	Email         string
	EmailVerified bool

	Name       string
	GivenName  string
	FamilyName string
	Username   string // preferred_username, when the provider sends one
	Picture    string
}
