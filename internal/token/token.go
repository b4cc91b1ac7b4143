// Package token issues and verifies the access/refresh JWT pair.
//
// Both tokens are HS256-signed with the same process-wide secret but
// carry independent lifetimes and a token_use claim, so an access token
// can never be replayed as a refresh token or vice versa.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors. ErrTokenExpired and ErrTokenInvalid are kept
// distinct so the refresh flow can report expiry separately when needed.
var (
	// ErrTokenExpired means the token was well-formed and correctly
	// signed, but its expiry has passed.
	ErrTokenExpired = errors.New("token: expired")

	// ErrTokenInvalid means the token failed signature, structure or
	// claim validation.
	ErrTokenInvalid = errors.New("token: invalid")
)

// Token use claim values.
const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims are the JWT claims carried by both token kinds.
// Subject holds the identity's email.
type Claims struct {
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// Email returns the identity email the token was issued for.
func (c *Claims) Email() string {
	return c.Subject
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Signer issues and verifies token pairs.
type Signer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewSigner creates a Signer with the given secret and lifetimes.
func NewSigner(secret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates a new access/refresh pair for an email.
//
// Issuance never reads state: any caller that has proven control of the
// email gets a fresh pair, and persistence of the refresh token is the
// caller's job.
func (s *Signer) Issue(email string) (Pair, error) {
	access, err := s.sign(email, useAccess, s.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("issuing access token: %w", err)
	}

	refresh, err := s.sign(email, useRefresh, s.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("issuing refresh token: %w", err)
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *Signer) VerifyAccess(tokenString string) (*Claims, error) {
	return s.verify(tokenString, useAccess)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *Signer) VerifyRefresh(tokenString string) (*Claims, error) {
	return s.verify(tokenString, useRefresh)
}

func (s *Signer) sign(email, use string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (s *Signer) verify(tokenString, use string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(_ *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.TokenUse != use {
		return nil, fmt.Errorf("%w: wrong token use %q", ErrTokenInvalid, claims.TokenUse)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
