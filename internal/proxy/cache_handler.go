package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/cache-proxy/internal/cache"
	"github.com/any-hub/cache-proxy/internal/logging"
	"github.com/any-hub/cache-proxy/internal/metrics"
	"github.com/any-hub/cache-proxy/internal/server"
)

// CacheHandlerOptions 汇总缓存阶段依赖，均由进程入口显式注入。
type CacheHandlerOptions struct {
	Origin  *Origin
	Store   cache.Store
	Logger  *logrus.Logger
	Metrics *metrics.Recorder
	// CoalesceMisses 打开后，同一 key 的并发未命中只会回源一次。
	CoalesceMisses bool
}

// CacheHandler 负责 GET 请求的“查缓存 → 回源 → 写缓存”，其它方法直接交给下一阶段。
type CacheHandler struct {
	origin  *Origin
	store   cache.Store
	logger  *logrus.Logger
	metrics *metrics.Recorder
	flights *singleflight.Group
}

// NewCacheHandler constructs the GET caching stage.
func NewCacheHandler(opts CacheHandlerOptions) (*CacheHandler, error) {
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	h := &CacheHandler{
		origin:  opts.Origin,
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.CoalesceMisses {
		h.flights = &singleflight.Group{}
	}
	return h, nil
}

// originStatusError 表示源站返回了非 2xx；缓存路径与常见 HTTP 客户端一样把它当作失败。
type originStatusError struct {
	status int
}

func (e originStatusError) Error() string {
	return fmt.Sprintf("origin responded with status %d", e.status)
}

// Handle 实现 server.ProxyHandler。
func (h *CacheHandler) Handle(c fiber.Ctx) error {
	if c.Method() != fiber.MethodGet {
		return c.Next()
	}

	started := time.Now()
	uri := c.OriginalURL()
	key := cache.Key(c.Method(), h.origin.Base(), uri)
	ctx := requestContext(c)
	fields := logging.RequestFields("cache", c.Method(), uri, h.origin.Base(), server.RequestID(c))

	env, err := h.store.Get(ctx, key)
	switch {
	case err == nil:
		fields["cache"] = cacheStatusHit
		fields["status"] = env.Status
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		h.logger.WithFields(fields).Info("[CACHE] request served from cache")
		h.metrics.RecordRequest("cache", metrics.OutcomeHit)
		c.Set(headerCache, cacheStatusHit)
		return writeEnvelope(c, env)
	case errors.Is(err, cache.ErrNotFound):
	case errors.Is(err, cache.ErrMalformedEnvelope):
		h.logger.WithFields(fields).WithError(err).Warn("cache_entry_malformed")
	default:
		h.metrics.RecordStoreError("get")
		return fmt.Errorf("cache lookup %s: %w", key, err)
	}

	req := OriginRequest{
		Method:       fiber.MethodGet,
		PathAndQuery: uri,
		Header:       outboundHeaders(fiberHeadersAsHTTP(c)),
		Body:         c.BodyRaw(),
	}
	// Range 请求拿到的是片段，只回源不写缓存，也不与完整请求合并。
	if c.Get(fiber.HeaderRange) != "" {
		fields["range"] = c.Get(fiber.HeaderRange)
		env, err = h.fetchAndStore(ctx, key, req, false)
	} else {
		env, err = h.fetch(ctx, key, req)
	}
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("[ERROR] request failed to fetch data from origin")
		h.metrics.RecordRequest("cache", metrics.OutcomeOriginError)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": originFetchFailureMsg,
		})
	}

	fields["cache"] = cacheStatusMiss
	fields["status"] = env.Status
	h.logger.WithFields(fields).Info("[ORIGIN] request served from origin")
	h.metrics.RecordRequest("cache", metrics.OutcomeMiss)
	c.Set(headerCache, cacheStatusMiss)
	return writeEnvelope(c, env)
}

func (h *CacheHandler) fetch(ctx context.Context, key string, req OriginRequest) (cache.Envelope, error) {
	if h.flights == nil {
		return h.fetchAndStore(ctx, key, req, true)
	}
	value, err, _ := h.flights.Do(key, func() (interface{}, error) {
		return h.fetchAndStore(ctx, key, req, true)
	})
	if err != nil {
		return cache.Envelope{}, err
	}
	return value.(cache.Envelope), nil
}

// fetchAndStore 回源并写缓存。206 与 store=false 时只返回不写入；
// 写缓存失败只记录告警，本次响应照常返回。
func (h *CacheHandler) fetchAndStore(ctx context.Context, key string, req OriginRequest, store bool) (cache.Envelope, error) {
	resp, err := h.origin.Do(ctx, req)
	if err != nil {
		return cache.Envelope{}, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return cache.Envelope{}, originStatusError{status: resp.Status}
	}

	env := cache.Envelope{
		Status:      resp.Status,
		ContentType: resp.Header.Get(fiber.HeaderContentType),
	}
	if len(resp.Body) > 0 {
		env.Body = resp.Body
	}

	if !store || resp.Status == fiber.StatusPartialContent {
		return env, nil
	}
	if err := h.store.Set(ctx, key, env); err != nil {
		h.metrics.RecordStoreError("set")
		h.logger.WithError(err).WithField("key", key).Warn("cache_set_failed")
	}
	return env, nil
}

func writeEnvelope(c fiber.Ctx, env cache.Envelope) error {
	if env.ContentType != "" {
		c.Set(fiber.HeaderContentType, env.ContentType)
	}
	return c.Status(env.Status).Send(env.Body)
}
