package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the validity window applied when TokenConfig.TTL is unset.
const DefaultTokenTTL = 10 * time.Hour

const minKeyBytes = 32

var (
	ErrMissingKey       = errors.New("token signing key not configured")
	ErrInvalidKey       = errors.New("token signing key is not valid base64url")
	ErrWeakKey          = errors.New("token signing key must be at least 256 bits")
	ErrEmptySubject     = errors.New("token subject must not be empty")
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
)

// TokenConfig is the immutable input to NewTokenService.
type TokenConfig struct {
	// Secret is the base64url encoded HMAC key. Padding is optional.
	Secret string
	TTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Token is a freshly issued compact JWT.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues and verifies HMAC signed JWTs. It holds no mutable
// state and is safe for concurrent use.
type TokenService struct {
	key    []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService decodes the signing key once and picks the strongest HMAC
// algorithm the key length supports.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	key, err := decodeSigningKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	method := methodForKey(key)
	return &TokenService{
		key:    key,
		method: method,
		ttl:    ttl,
		now:    now,
		// Expiry is evaluated against the service clock, not by the parser.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the validity window of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Algorithm returns the JWS alg used for signing.
func (s *TokenService) Algorithm() string {
	return s.method.Alg()
}

// Issue builds and signs a token for subject. Registered claims (sub, iat,
// exp, jti) take precedence over entries of the same name in extra.
func (s *TokenService) Issue(subject string, extra map[string]any) (Token, error) {
	if subject == "" {
		return Token{}, ErrEmptySubject
	}

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	claims := make(jwt.MapClaims, len(extra)+4)
	for k, v := range extra {
		claims[k] = v
	}
	claims[claimSubject] = subject
	claims[claimIssuedAt] = jwt.NewNumericDate(issuedAt)
	claims[claimExpiresAt] = jwt.NewNumericDate(expiresAt)
	claims[claimID] = uuid.NewString()

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// ParseClaims verifies the signature and structure of tokenStr without
// looking at the clock.
func (s *TokenService) ParseClaims(tokenStr string) (*Claims, error) {
	mapClaims := jwt.MapClaims{}
	if _, err := s.parser.ParseWithClaims(tokenStr, mapClaims, s.keyFunc); err != nil {
		return nil, classifyParseError(err)
	}
	return claimsFromMap(mapClaims)
}

// Verify is ParseClaims plus the expiry check.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	claims, err := s.ParseClaims(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.expiredAt(s.now()) {
		return nil, ErrExpired
	}
	return claims, nil
}

// ExtractSubject returns the subject of a verified, unexpired token.
func (s *TokenService) ExtractSubject(tokenStr string) (string, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}

// IsExpired reports whether the token's expiration lies strictly before the
// current time. The signature is still verified.
func (s *TokenService) IsExpired(tokenStr string) (bool, error) {
	claims, err := s.ParseClaims(tokenStr)
	if err != nil {
		return false, err
	}
	return claims.expiredAt(s.now()), nil
}

// IsValid reports whether the token belongs to expectedSubject. Extraction
// failures, ErrExpired included, are returned rather than folded into false.
func (s *TokenService) IsValid(tokenStr, expectedSubject string) (bool, error) {
	subject, err := s.ExtractSubject(tokenStr)
	if err != nil {
		return false, err
	}
	return subject == expectedSubject, nil
}

func (s *TokenService) keyFunc(*jwt.Token) (interface{}, error) {
	return s.key, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func decodeSigningKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingKey
	}
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) < minKeyBytes {
		return nil, fmt.Errorf("%w: got %d bits", ErrWeakKey, len(key)*8)
	}
	return key, nil
}

func methodForKey(key []byte) *jwt.SigningMethodHMAC {
	switch {
	case len(key) >= 64:
		return jwt.SigningMethodHS512
	case len(key) >= 48:
		return jwt.SigningMethodHS384
	default:
		return jwt.SigningMethodHS256
	}
}
