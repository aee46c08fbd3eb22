// Package token mints and verifies the signed session and reset tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/SspStark/adminsphere-server/internal/apperr"
)

const (
	AudienceSession = "session"
	AudienceReset   = "password-reset"

	SessionTTL = 24 * time.Hour
	ResetTTL   = 10 * time.Minute
)

// SessionClaims identify the caller. SessionID is empty when the token was
// minted while the session cache was unavailable.
type SessionClaims struct {
	UserID    string `json:"id"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId,omitempty"`
	// Provider is how the session was established: local or the external
	// provider name.
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// ResetClaims authorise one password reset. The JWT ID binds the token to
// the reset marker.
type ResetClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte

	// Now is replaceable in tests.
	Now func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token: empty signing secret")
	}
	return &Issuer{secret: []byte(secret), Now: time.Now}, nil
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Mint issues a session token valid for SessionTTL.
func (i *Issuer) Mint(userID, role, sessionID, provider string) (string, time.Time, error) {
	now := i.Now()
	exp := now.Add(SessionTTL)

	signed, err := i.sign(SessionClaims{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		Provider:  provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{AudienceSession},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return signed, exp, err
}

// MintReset issues a reset token valid for ResetTTL and returns its JWT ID.
func (i *Issuer) MintReset(userID string) (signed string, jti string, err error) {
	now := i.Now()
	jti = uuid.NewString()

	signed, err = i.sign(ResetClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{AudienceReset},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ResetTTL)),
		},
	})
	return signed, jti, err
}

func (i *Issuer) parse(raw string, claims jwt.Claims, audience string) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.Now),
	)
	return err
}

// Verify checks signature, algorithm, audience and expiry of a session token.
func (i *Issuer) Verify(raw string) (*SessionClaims, error) {
	var claims SessionClaims
	if err := i.parse(raw, &claims, AudienceSession); err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired token", err)
	}
	if claims.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "Invalid or expired token")
	}
	return &claims, nil
}

// VerifyReset checks a reset token. It does not consult the reset marker.
func (i *Issuer) VerifyReset(raw string) (*ResetClaims, error) {
	var claims ResetClaims
	if err := i.parse(raw, &claims, AudienceReset); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidOrExpiredToken, "Invalid or expired token", err)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, apperr.New(apperr.KindInvalidOrExpiredToken, "Invalid or expired token")
	}
	return &claims, nil
}
