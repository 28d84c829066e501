package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/events"
)

// StartAuditWorker subscribes audit logging to authentication events.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil || logger == nil {
		return
	}
	audit := logger.Named("audit")

	for _, eventType := range []events.EventType{
		events.EventUserRegistered,
		events.EventUserLoggedIn,
		events.EventLoginFailed,
		events.EventLoginThrottled,
	} {
		dispatcher.Subscribe(eventType, auditHandler(audit))
	}
}

func auditHandler(logger *zap.Logger) events.EventHandler {
	return func(_ context.Context, event events.Event) error {
		level := zap.InfoLevel
		if event.Type == events.EventLoginFailed || event.Type == events.EventLoginThrottled {
			level = zap.WarnLevel
		}
		if ce := logger.Check(level, string(event.Type)); ce != nil {
			ce.Write(
				zap.String("event_id", event.ID),
				zap.String("username", event.Username),
				zap.Time("at", event.Timestamp),
				zap.Any("payload", event.Payload),
			)
		}
		return nil
	}
}
