package proxy

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cache-proxy/internal/logging"
	"github.com/any-hub/cache-proxy/internal/metrics"
	"github.com/any-hub/cache-proxy/internal/server"
)

// ForwardHandler 将请求原样转发给源站，并把状态码、body 与 Set-Cookie 原样带回。
type ForwardHandler struct {
	origin  *Origin
	logger  *logrus.Logger
	metrics *metrics.Recorder
}

// NewForwardHandler 创建转发阶段，origin 与 logger 不能为空。
func NewForwardHandler(origin *Origin, logger *logrus.Logger, recorder *metrics.Recorder) (*ForwardHandler, error) {
	if origin == nil {
		return nil, errors.New("origin is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &ForwardHandler{
		origin:  origin,
		logger:  logger,
		metrics: recorder,
	}, nil
}

// Handle 实现 server.ProxyHandler。未分类的错误直接返回，由错误边界统一处理。
func (f *ForwardHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	uri := c.OriginalURL()
	fields := logging.RequestFields("forward", c.Method(), uri, f.origin.Base(), server.RequestID(c))

	resp, err := f.origin.Do(requestContext(c), OriginRequest{
		Method:       c.Method(),
		PathAndQuery: uri,
		Header:       outboundHeaders(server.FilterHeaders(fiberHeadersAsHTTP(c))),
		Body:         c.BodyRaw(),
	})
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		return f.respondOriginError(c, fields, err)
	}

	for _, cookie := range resp.Header.Values(fiber.HeaderSetCookie) {
		c.Response().Header.Add(fiber.HeaderSetCookie, cookie)
	}
	if contentType := resp.Header.Get(fiber.HeaderContentType); contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}

	fields["status"] = resp.Status
	f.logger.WithFields(fields).Info("[FORWARD] request forwarded to origin")
	f.metrics.RecordRequest("forward", metrics.OutcomeForwarded)
	return c.Status(resp.Status).Send(resp.Body)
}

func (f *ForwardHandler) respondOriginError(c fiber.Ctx, fields logrus.Fields, err error) error {
	var originErr *OriginError
	if !errors.As(err, &originErr) {
		return err
	}

	fields["error"] = err.Error()
	fields["error_kind"] = originErr.Kind.String()

	switch originErr.Kind {
	case ErrorKindConnectionFailed:
		f.logger.WithFields(fields).Error("[FORWARD] origin unreachable")
		f.metrics.RecordRequest("forward", metrics.OutcomeBadGateway)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "Bad Gateway",
		})
	case ErrorKindOriginResponded:
		fields["status"] = originErr.Status
		f.logger.WithFields(fields).Error("[FORWARD] origin response failed")
		f.metrics.RecordRequest("forward", metrics.OutcomeOriginError)
		return c.Status(originErr.Status).JSON(fiber.Map{
			"success": false,
			"message": originErr.Error(),
		})
	default:
		return err
	}
}
