package auth

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

type middlewareFixture struct {
	app    *fiber.App
	tokens *TokenService
	clock  *testClock
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	clock := &testClock{now: time.Now()}
	tokens := newTestTokenService(t, testKey, clock)

	users := repository.NewMemoryUserRepository()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &domain.User{ID: "1", Username: "alice", Role: domain.RoleUser}))
	require.NoError(t, users.Create(ctx, &domain.User{ID: "2", Username: "root", Role: domain.RoleAdmin}))

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
		},
	})
	mw := NewAuthMiddleware(tokens, users, nil, nil)
	app.Get("/me", mw.Handle, RequireAuthenticated(), func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.ErrInternalServerError
		}
		return c.SendString(p.User.Username)
	})
	app.Get("/admin", mw.Handle, RequireRole(domain.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/open", RequireAuthenticated(), func(c *fiber.Ctx) error {
		return c.SendString("unreachable")
	})

	return &middlewareFixture{app: app, tokens: tokens, clock: clock}
}

func (f *middlewareFixture) do(t *testing.T, path, authorization string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Code string `json:"code"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body.Code
	}
	return resp.StatusCode, ""
}

func (f *middlewareFixture) bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := f.tokens.Issue(subject, nil)
	require.NoError(t, err)
	return "Bearer " + token.Value
}

func TestAuthMiddleware(t *testing.T) {
	f := newMiddlewareFixture(t)

	t.Run("valid token", func(t *testing.T) {
		status, _ := f.do(t, "/me", f.bearer(t, "alice"))
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		token, err := f.tokens.Issue("alice", nil)
		require.NoError(t, err)
		status, _ := f.do(t, "/me", "bearer "+token.Value)
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("missing header", func(t *testing.T) {
		status, code := f.do(t, "/me", "")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		status, code := f.do(t, "/me", "Basic YWxpY2U6cGFzcw==")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", code)
	})

	t.Run("malformed token", func(t *testing.T) {
		status, code := f.do(t, "/me", "Bearer not-a-jwt")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_MALFORMED", code)
	})

	t.Run("foreign key", func(t *testing.T) {
		other := newTestTokenService(t, otherTestKey, nil)
		token, err := other.Issue("alice", nil)
		require.NoError(t, err)

		status, code := f.do(t, "/me", "Bearer "+token.Value)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_INVALID", code)
	})

	t.Run("unknown subject", func(t *testing.T) {
		status, code := f.do(t, "/me", f.bearer(t, "ghost"))
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", code)
	})

	t.Run("expired token", func(t *testing.T) {
		auth := f.bearer(t, "alice")
		f.clock.Advance(DefaultTokenTTL + time.Second)
		defer f.clock.Advance(-(DefaultTokenTTL + time.Second))

		status, code := f.do(t, "/me", auth)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_EXPIRED", code)
	})

	t.Run("role gate", func(t *testing.T) {
		status, code := f.do(t, "/admin", f.bearer(t, "alice"))
		assert.Equal(t, fiber.StatusForbidden, status)
		assert.Equal(t, "FORBIDDEN", code)

		status, _ = f.do(t, "/admin", f.bearer(t, "root"))
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("role claim is not trusted", func(t *testing.T) {
		token, err := f.tokens.Issue("alice", map[string]any{ClaimRole: "ADMIN"})
		require.NoError(t, err)

		status, _ := f.do(t, "/admin", "Bearer "+token.Value)
		assert.Equal(t, fiber.StatusForbidden, status)
	})

	t.Run("guard without middleware", func(t *testing.T) {
		status, _ := f.do(t, "/open", "")
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})
}
