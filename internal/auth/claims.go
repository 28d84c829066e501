package auth

import (
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	claimSubject   = "sub"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
	claimID        = "jti"

	// ClaimRole carries the user's role as an extra claim.
	ClaimRole = "role"
)

var registeredClaims = map[string]struct{}{
	claimSubject:   {},
	claimIssuedAt:  {},
	claimExpiresAt: {},
	claimID:        {},
}

// Claims is the content of a token that passed signature verification.
type Claims struct {
	subject   string
	id        string
	issuedAt  time.Time
	expiresAt time.Time
	extra     map[string]any
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	subject, err := m.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}

	exp, err := m.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: missing expiration", ErrMalformed)
	}

	claims := &Claims{
		subject:   subject,
		expiresAt: exp.Time,
		extra:     make(map[string]any),
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		claims.issuedAt = iat.Time
	}
	if id, ok := m[claimID].(string); ok {
		claims.id = id
	}
	for k, v := range m {
		if _, ok := registeredClaims[k]; !ok {
			claims.extra[k] = v
		}
	}
	return claims, nil
}

// Subject returns the principal identifier.
func (c *Claims) Subject() string { return c.subject }

// ID returns the jti claim, empty if absent.
func (c *Claims) ID() string { return c.id }

// IssuedAt is zero when the token carries no iat claim.
func (c *Claims) IssuedAt() time.Time { return c.issuedAt }

func (c *Claims) ExpiresAt() time.Time { return c.expiresAt }

// Extra looks up a non-registered claim.
func (c *Claims) Extra(key string) (any, bool) {
	v, ok := c.extra[key]
	return v, ok
}

// Extras returns a copy of all non-registered claims.
func (c *Claims) Extras() map[string]any {
	out := make(map[string]any, len(c.extra))
	for k, v := range c.extra {
		out[k] = v
	}
	return out
}

// Role returns the role claim, empty if absent or not a string.
func (c *Claims) Role() string {
	role, _ := c.extra[ClaimRole].(string)
	return role
}

func (c *Claims) expiredAt(now time.Time) bool {
	return c.expiresAt.Before(now)
}
