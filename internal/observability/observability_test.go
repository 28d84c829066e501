package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/user-service/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "DEBUG"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "X")
		m.RecordToken("verify", TokenOutcomeOK)
		m.RecordLogin("success")
	})
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordToken("verify", TokenOutcomeExpired)
	m.RecordToken("verify", TokenOutcomeExpired)
	m.RecordToken("issue", TokenOutcomeOK)
	m.RecordError("/users", "GET", "FORBIDDEN")
	m.RecordLogin("failure")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokens.WithLabelValues("verify", TokenOutcomeExpired)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokens.WithLabelValues("issue", TokenOutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("/users", "GET", "FORBIDDEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("failure")))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(RequestLogger(zap.New(core), metrics))
	app.Get("/users/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusTeapot)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/users/42", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/users/42", fields["path"])
	assert.Equal(t, "/users/:id", fields["route"])
	assert.EqualValues(t, fiber.StatusTeapot, fields["status"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("/users/:id", "GET", "418")))
}
