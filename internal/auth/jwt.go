// Package auth issues and verifies the bearer tokens that identify a user
// and one of their devices to the sync server.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the value placed in the iss claim.
const Issuer = "sprout-sync"

var (
	// ErrMissingToken means the request carried no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken means the token failed signature, expiry or claim checks.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the user in sub and the device in did.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Signer mints and validates HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer for secret. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for userID on deviceID, valid for ttl.
func (s *Signer) Issue(userID, deviceID string, ttl time.Duration) (string, error) {
	if userID == "" || deviceID == "" {
		return "", errors.New("auth: user and device are required")
	}
	now := s.now()
	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate parses token and returns its claims. Every failure wraps
// ErrInvalidToken.
func (s *Signer) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing did", ErrInvalidToken)
	}
	return claims, nil
}

// FromRequest validates the bearer token on r. Browsers cannot set headers
// on a websocket upgrade, so the access_token query parameter is accepted
// as a fallback.
func (s *Signer) FromRequest(r *http.Request) (*Claims, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.Validate(token)
}

// BearerToken extracts the token from the Authorization header or the
// access_token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

// Prefix returns at most the first 12 characters of token, for logs.
func Prefix(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
