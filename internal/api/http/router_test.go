package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/persistence"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestServer(t *testing.T) *fiber.App {
	t.Helper()
	ctx := context.Background()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	users := repository.NewMemoryUserRepository()

	authService := service.NewAuthService(config.AuthConfig{BcryptCost: bcrypt.MinCost}, service.AuthDependencies{
		UserRepo: users,
		Tokens:   tokens,
		Throttle: service.NewLoginThrottle(rdb, 3, time.Minute),
		Metrics:  metrics,
	})
	require.NoError(t, authService.EnsureAdmin(ctx, config.BootstrapAdminConfig{Username: "root", Password: "admin-password"}))

	return NewServer(ServerConfig{
		AppName:        "user-service-test",
		RequestTimeout: 5 * time.Second,
		Logger:         zap.NewNop(),
		Metrics:        metrics,
		Routes: RouteConfig{
			Health: handlers.NewHealthHandler("user-service", "test", map[string]handlers.Pinger{
				"postgres": &persistence.Postgres{},
				"redis":    &persistence.Redis{Client: rdb},
			}),
			Users:          handlers.NewUsersHandler(authService, service.NewUserService(users)),
			AuthMiddleware: auth.NewAuthMiddleware(tokens, users, metrics, zap.NewNop()),
			Gatherer:       registry,
		},
	})
}

func call(t *testing.T, app *fiber.App, method, path string, body any, token string) (int, envelope, string) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env, string(raw)
}

func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	status, env, raw := call(t, app, "POST", "/users/login", map[string]string{"username": username, "password": password}, "")
	require.Equal(t, fiber.StatusOK, status, raw)

	var data struct {
		Auth struct {
			Token     string    `json:"token"`
			TokenType string    `json:"token_type"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "Bearer", data.Auth.TokenType)
	return data.Auth.Token
}

func TestUserFlow(t *testing.T) {
	app := newTestServer(t)

	status, _, raw := call(t, app, "POST", "/users/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "alice-password",
	}, "")
	require.Equal(t, fiber.StatusCreated, status, raw)
	assert.NotContains(t, raw, "password")

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		status, env, _ := call(t, app, "POST", "/users/register", map[string]string{
			"username": "alice", "password": "another-password",
		}, "")
		assert.Equal(t, fiber.StatusConflict, status)
		assert.Equal(t, "CONFLICT", env.Error.Code)
	})

	t.Run("invalid registration payload", func(t *testing.T) {
		status, env, _ := call(t, app, "POST", "/users/register", map[string]string{
			"username": "x", "email": "nope", "password": "short",
		}, "")
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
		assert.Contains(t, env.Error.Details, "username")
		assert.Contains(t, env.Error.Details, "email")
		assert.Contains(t, env.Error.Details, "password")
	})

	t.Run("listing requires a token", func(t *testing.T) {
		status, env, _ := call(t, app, "GET", "/users", nil, "")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
	})

	t.Run("listing requires ADMIN", func(t *testing.T) {
		token := login(t, app, "alice", "alice-password")
		status, env, _ := call(t, app, "GET", "/users/getUsers", nil, token)
		assert.Equal(t, fiber.StatusForbidden, status)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("admin lists users", func(t *testing.T) {
		token := login(t, app, "root", "admin-password")
		for _, path := range []string{"/users", "/users/getUsers"} {
			status, env, raw := call(t, app, "GET", path, nil, token)
			require.Equal(t, fiber.StatusOK, status, raw)

			var users []struct {
				Username string `json:"username"`
				Role     string `json:"role"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &users))
			require.Len(t, users, 2)
			names := []string{users[0].Username, users[1].Username}
			assert.ElementsMatch(t, []string{"root", "alice"}, names)
		}
	})

	t.Run("malformed token", func(t *testing.T) {
		status, env, _ := call(t, app, "GET", "/users", nil, "a.b")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Equal(t, "TOKEN_MALFORMED", env.Error.Code)
	})

	t.Run("wrong password then throttled", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			status, env, _ := call(t, app, "POST", "/users/login", map[string]string{"username": "alice", "password": "wrong-password"}, "")
			assert.Equal(t, fiber.StatusUnauthorized, status)
			assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
		}

		status, env, _ := call(t, app, "POST", "/users/login", map[string]string{"username": "alice", "password": "alice-password"}, "")
		assert.Equal(t, fiber.StatusTooManyRequests, status)
		assert.Equal(t, "TOO_MANY_REQUESTS", env.Error.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestServer(t)

	status, _, raw := call(t, app, "GET", "/health/live", nil, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, raw, `"alive"`)

	status, _, raw = call(t, app, "GET", "/health/ready", nil, "")
	assert.Equal(t, fiber.StatusOK, status, raw)
	assert.Contains(t, raw, `"postgres":"disabled"`)
	assert.Contains(t, raw, `"redis":"ok"`)

	status, env, _ := call(t, app, "GET", "/no-such-route", nil, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, _, raw = call(t, app, "GET", "/metrics", nil, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.True(t, strings.Contains(raw, "userservice_http_requests_total"), raw)
}
