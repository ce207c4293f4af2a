package observability

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// ActorIDFunc extracts the caller id for log lines; it returns "" for anonymous requests.
type ActorIDFunc func(c *fiber.Ctx) string

// RequestLogger logs every request and records it in metrics. It must run inside
// the error handling middleware so the final status is known.
func RequestLogger(logger *zap.Logger, metrics *Metrics, actorID ActorIDFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			status = fe.Code
		case err != nil:
			status = apperrors.ToDomainError(err).HTTPStatus
		}
		route := c.Route().Path
		metrics.RecordRequest(route, c.Method(), status, latency)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		}
		if actorID != nil {
			if id := actorID(c); id != "" {
				fields = append(fields, zap.String("actor_id", id))
			}
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Info("http request", fields...)
		return err
	}
}
