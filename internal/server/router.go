package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cache-proxy/internal/metrics"
)

// ProxyHandler describes one stage of the proxy pipeline. A stage either
// writes the response or calls c.Next() to hand the request on.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions wires the pipeline stages into the Fiber application.
type AppOptions struct {
	Logger  *logrus.Logger
	Cache   ProxyHandler
	Forward ProxyHandler
	Metrics *metrics.Recorder
}

const contextKeyRequestID = "_cacheproxy_request_id"

// NewApp builds a Fiber application that runs the cache stage before the
// forward stage and routes every returned error or panic to ErrorBoundary.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache handler is required")
	}
	if opts.Forward == nil {
		return nil, errors.New("forward handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		StrictRouting: true,
		ErrorHandler:  ErrorBoundary(opts.Logger, opts.Metrics),
	})

	app.Use(fiber.Handler(recover.New()))
	app.Use(fiber.Handler(requestIDMiddleware))

	// 浏览器自动请求 favicon，直接 204，不进入缓存也不打日志。
	app.Get("/favicon.ico", func(c fiber.Ctx) error {
		c.Status(fiber.StatusNoContent)
		return nil
	})

	app.Use(fiber.Handler(opts.Cache.Handle))
	app.Use(fiber.Handler(opts.Forward.Handle))

	return app, nil
}

// NewMetricsApp 在独立端口上暴露 /metrics，避免与源站路径冲突。
func NewMetricsApp(recorder *metrics.Recorder) *fiber.App {
	app := fiber.New()
	app.Get("/metrics", adaptor.HTTPHandler(recorder.Handler()))
	return app
}

func requestIDMiddleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)
	return c.Next()
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
