package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/observability"
)

// ServerConfig holds the inputs for NewServer.
type ServerConfig struct {
	AppName        string
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Routes         RouteConfig
}

// NewServer builds the fiber app with global middlewares and routes attached.
func NewServer(cfg ServerConfig) *fiber.App {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger, cfg.Metrics),
	})
	RegisterMiddlewares(app, logger, cfg.Metrics, cfg.RequestTimeout)
	RegisterRoutes(app, cfg.Routes)
	return app
}
