package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/SspStark/adminsphere-server/internal/auth/provider"
)

const providerName = "keycloak"

type Config struct {
	// Issuer is the realm issuer URL, e.g.
	// http://localhost:8081/realms/adminsphere
	Issuer      string
	ClientID    string
	RedirectURL string
	// PublicBaseURL replaces the host of the browser-facing authorization
	// endpoint when Keycloak is reached through a different address internally.
	PublicBaseURL string
}

// New initializes a Keycloak OIDC provider using discovery.
func New(ctx context.Context, cfg Config, opts provider.Options) (*provider.OIDCClient, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(opts.ClientContext(ctx), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	ep := oidcProvider.Endpoint()
	if cfg.PublicBaseURL != "" {
		authURL, err := rebase(ep.AuthURL, cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("keycloak public base url: %w", err)
		}
		ep.AuthURL = authURL
	}

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Endpoint:    ep,
		Scopes: []string{
			oidc.ScopeOpenID,
			"email",
			"profile",
		},
	}

	return provider.NewOIDCClient(providerName, oauthCfg, verifier, opts), nil
}

// rebase keeps the path of endpoint and swaps in the scheme and host of base.
func rebase(endpoint, base string) (string, error) {
	e, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	b, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", err
	}
	if b.Scheme == "" || b.Host == "" {
		return "", fmt.Errorf("%q is not an absolute url", base)
	}
	e.Scheme = b.Scheme
	e.Host = b.Host
	return e.String(), nil
}
