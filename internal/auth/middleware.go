package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// UserLookup is the subset of the user repository the middleware needs.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *Claims
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenService
	users   UserLookup
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenService, users UserLookup, metrics *observability.Metrics, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, metrics: metrics, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return apperrors.NewUnauthorized("invalid authorization header")
	}
	raw := strings.TrimSpace(parts[1])

	claims, err := m.tokens.Verify(raw)
	if err != nil {
		return m.reject(err)
	}

	user, err := m.users.GetByUsername(c.UserContext(), claims.Subject())
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			m.metrics.RecordToken("verify", observability.TokenOutcomeSubjectMismatch)
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.NewInternalError(err)
	}

	valid, err := m.tokens.IsValid(raw, user.Username)
	if err != nil {
		return m.reject(err)
	}
	if !valid {
		m.metrics.RecordToken("verify", observability.TokenOutcomeSubjectMismatch)
		return apperrors.NewTokenRejected("TOKEN_INVALID", "token does not belong to user")
	}

	m.metrics.RecordToken("verify", observability.TokenOutcomeOK)
	c.Locals(principalKey, &Principal{User: user, Claims: claims})
	return c.Next()
}

func (m *AuthMiddleware) reject(err error) error {
	switch {
	case errors.Is(err, ErrExpired):
		m.metrics.RecordToken("verify", observability.TokenOutcomeExpired)
		return apperrors.NewTokenRejected("TOKEN_EXPIRED", "token expired")
	case errors.Is(err, ErrInvalidSignature):
		m.metrics.RecordToken("verify", observability.TokenOutcomeInvalidSignature)
		m.logger.Warn("rejected token with invalid signature", zap.Error(err))
		return apperrors.NewTokenRejected("TOKEN_INVALID", "invalid token signature")
	case errors.Is(err, ErrMalformed):
		m.metrics.RecordToken("verify", observability.TokenOutcomeMalformed)
		return apperrors.NewTokenRejected("TOKEN_MALFORMED", "malformed token")
	default:
		m.metrics.RecordToken("verify", observability.TokenOutcomeError)
		return apperrors.NewUnauthorized("invalid token")
	}
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
