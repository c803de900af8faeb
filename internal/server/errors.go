package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cache-proxy/internal/logging"
	"github.com/any-hub/cache-proxy/internal/metrics"
)

// ErrorBoundary 是最后一道防线：记录错误并固定返回 500，不再尝试转发。
func ErrorBoundary(logger *logrus.Logger, recorder *metrics.Recorder) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		fields := logging.RequestFields("error", c.Method(), c.OriginalURL(), "", RequestID(c))
		if err != nil {
			fields["error"] = err.Error()
		}
		if logger != nil {
			logger.WithFields(fields).Error("[ERROR] unhandled proxy error")
		}
		recorder.RecordRequest("boundary", metrics.OutcomeInternal)

		c.Response().Header.Del("X-Cache")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal proxy error",
		})
	}
}
