package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth"
	"github.com/SspStark/adminsphere-server/internal/logger"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRatePerSec = 20
)

type Options struct {
	// Timeout bounds discovery, the code exchange and id_token verification.
	Timeout time.Duration
	// RatePerSec caps outbound calls to the provider.
	RatePerSec float64
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = DefaultRatePerSec
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// ClientContext attaches the bounded HTTP client so that discovery also
// respects the timeout.
func (o Options) ClientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, o.withDefaults().HTTPClient)
}

// OIDCClient performs the PKCE code exchange and id_token verification
// shared by every OIDC provider.
type OIDCClient struct {
	name     string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	limiter  *rate.Limiter
	opts     Options
}

func NewOIDCClient(name string, cfg *oauth2.Config, verifier *oidc.IDTokenVerifier, opts Options) *OIDCClient {
	opts = opts.withDefaults()
	return &OIDCClient{
		name:     name,
		oauth:    cfg,
		verifier: verifier,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1),
		opts:     opts,
	}
}

// Name returns the provider identifier used by the registry.
func (c *OIDCClient) Name() string {
	return c.name
}

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (c *OIDCClient) AuthCodeURL(state string, codeChallenge string) string {
	return c.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (c *OIDCClient) fail(stage string, err error) error {
	logger.Error("oidc "+stage+" failed", map[string]any{
		"provider": c.name,
		"error":    err.Error(),
	})
	return apperr.Wrap(apperr.KindOAuthFailed, "OAuth authentication failed", fmt.Errorf("%s %s: %w", c.name, stage, err))
}

// ExchangeCode exchanges the authorization code and returns a normalized identity.
// This method MUST NOT create users, sessions, or perform linking logic.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code string, codeVerifier string) (*auth.ExternalIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail("rate limit", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.opts.HTTPClient)

	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, c.fail("token exchange", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, c.fail("token exchange", errors.New("no id_token in response"))
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, c.fail("id_token verification", err)
	}

	var claims struct {
		Subject           string `json:"sub"`
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		Name              string `json:"name"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
		PreferredUsername string `json:"preferred_username"`
		Picture           string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, c.fail("claims parse", err)
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, c.fail("claims parse", errors.New("id_token missing sub or email"))
	}

	logger.Info("oidc verified", map[string]any{
		"provider":       c.name,
		"issuer":         idToken.Issuer,
		"email_verified": claims.EmailVerified,
		"expiry_unix":    idToken.Expiry.Unix(),
	})

	return &auth.ExternalIdentity{
		Provider:      c.name,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		Username:      claims.PreferredUsername,
		Picture:       claims.Picture,
	}, nil
}
