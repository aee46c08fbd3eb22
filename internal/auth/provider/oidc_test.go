package provider

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/SspStark/adminsphere-server/internal/apperr"
)

const clientID = "client-1"

type fakeIdP struct {
	srv   *httptest.Server
	key   *rsa.PrivateKey
	delay time.Duration
	extra jwt.MapClaims
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &fakeIdP{key: key}
	idp.srv = httptest.NewServer(http.HandlerFunc(idp.token))
	t.Cleanup(idp.srv.Close)
	return idp
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(f.delay):
		}
	}

	if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") != "verifier" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	claims := jwt.MapClaims{
		"iss":            f.srv.URL,
		"aud":            clientID,
		"sub":            "subject-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"given_name":     "Alice",
		"family_name":    "Liddell",
		"picture":        "https://img.example.com/alice.png",
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range f.extra {
		claims[k] = v
	}

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "at",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (f *fakeIdP) client(opts Options) *OIDCClient {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	verifier := oidc.NewVerifier(f.srv.URL, keySet, &oidc.Config{ClientID: clientID})

	cfg := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: "http://localhost/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.srv.URL + "/auth",
			TokenURL: f.srv.URL + "/token",
		},
		Scopes: []string{oidc.ScopeOpenID, "email", "profile"},
	}
	return NewOIDCClient("google", cfg, verifier, opts)
}

func TestExchangeCodeReturnsVerifiedIdentity(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	c := idp.client(Options{})

	ident, err := c.ExchangeCode(context.Background(), "good-code", "verifier")
	require.NoError(t, err)

	assert.Equal(t, "google", ident.Provider)
	assert.Equal(t, "subject-1", ident.Subject)
	assert.Equal(t, "alice@example.com", ident.Email)
	assert.True(t, ident.EmailVerified)
	assert.Equal(t, "Alice", ident.GivenName)
	assert.Equal(t, "Liddell", ident.FamilyName)
	assert.Equal(t, "https://img.example.com/alice.png", ident.Picture)
}

func TestExchangeCodeRejectsBadCode(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	c := idp.client(Options{})

	_, err := c.ExchangeCode(context.Background(), "bad-code", "verifier")
	assert.True(t, apperr.Is(err, apperr.KindOAuthFailed))
}

func TestExchangeCodeRejectsWrongAudience(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	idp.extra = jwt.MapClaims{"aud": "someone-else"}
	c := idp.client(Options{})

	_, err := c.ExchangeCode(context.Background(), "good-code", "verifier")
	assert.True(t, apperr.Is(err, apperr.KindOAuthFailed))
}

func TestExchangeCodeTimesOut(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	idp.delay = 2 * time.Second
	c := idp.client(Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := c.ExchangeCode(context.Background(), "good-code", "verifier")
	assert.True(t, apperr.Is(err, apperr.KindOAuthFailed))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExchangeCodePassesUnverifiedEmailThrough(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	idp.extra = jwt.MapClaims{"email_verified": false}
	c := idp.client(Options{})

	ident, err := c.ExchangeCode(context.Background(), "good-code", "verifier")
	require.NoError(t, err)
	assert.False(t, ident.EmailVerified)
}

func TestAuthCodeURLCarriesPKCE(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	c := idp.client(Options{})

	raw := c.AuthCodeURL("state-1", "challenge-1")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
}

func TestRegistryDefault(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	reg := NewRegistry(idp.client(Options{}))

	p, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	_, err = reg.Get("myspace")
	assert.Error(t, err)
	assert.Error(t, reg.SetDefault("myspace"))
}
