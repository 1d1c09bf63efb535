package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/model"
)

// Claims is the token payload: sub is the identity, email rides along.
type Claims struct {
	Email string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}

// Issue signs an HS256 token for id. ttl <= 0 means no expiry.
func Issue(secret []byte, id model.Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("issue: empty secret")
	}
	if strings.TrimSpace(id.ID) == "" {
		return "", fmt.Errorf("issue: empty subject")
	}
	now := time.Now()
	claims := Claims{
		Email: id.Email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:  id.ID,
			IssuedAt: gojwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks the signature and expiry and returns the identity.
// Failures are errs.Authentication.
func Verify(token string, secret []byte) (*model.Identity, *Claims, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(stripBearer(token), claims, func(t *gojwt.Token) (any, error) {
		return secret, nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, nil, errs.Wrap(errs.Authentication, "verify token", err)
	}
	return identityOf(claims)
}

// ParseUnverified reads the claims without checking the signature. Clients
// use it to learn who they are; the server still verifies every request.
// An expired token is rejected.
func ParseUnverified(token string) (*model.Identity, *Claims, error) {
	claims := &Claims{}
	parser := gojwt.NewParser()
	if _, _, err := parser.ParseUnverified(stripBearer(token), claims); err != nil {
		return nil, nil, errs.Wrap(errs.Authentication, "parse token", err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, nil, errs.E(errs.Authentication, "parse token", "token is expired")
	}
	return identityOf(claims)
}

func identityOf(claims *Claims) (*model.Identity, *Claims, error) {
	if claims.Subject == "" {
		return nil, nil, errs.Wrap(errs.Authentication, "token", errors.New("missing sub claim"))
	}
	return &model.Identity{ID: claims.Subject, Email: claims.Email}, claims, nil
}

// Expiry returns the exp claim, if any.
func (c *Claims) Expiry() *time.Time {
	if c == nil || c.ExpiresAt == nil {
		return nil
	}
	t := c.ExpiresAt.Time
	return &t
}
