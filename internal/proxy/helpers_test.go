package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cache-proxy/internal/cache"
	"github.com/any-hub/cache-proxy/internal/metrics"
	"github.com/any-hub/cache-proxy/internal/server"
)

type proxyEnv struct {
	app      *fiber.App
	origin   *httptest.Server
	mr       *miniredis.Miniredis
	store    cache.Store
	hits     *atomic.Int32
	logs     *bytes.Buffer
	recorder *metrics.Recorder
}

type envOptions struct {
	originURL string
	store     cache.Store
	coalesce  bool
}

// newProxyEnv wires the real pipeline against an httptest origin and a
// miniredis-backed store. The origin handler counts every request it sees.
func newProxyEnv(t *testing.T, handler http.HandlerFunc, opts envOptions) *proxyEnv {
	t.Helper()

	env := &proxyEnv{
		hits:     &atomic.Int32{},
		logs:     &bytes.Buffer{},
		recorder: metrics.NewRecorder(),
	}

	env.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(env.origin.Close)

	originURL := opts.originURL
	if originURL == "" {
		originURL = env.origin.URL
	}

	env.store = opts.store
	if env.store == nil {
		env.mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
		env.store = cache.NewRedisStoreFromClient(client, 300*time.Second)
		t.Cleanup(func() { _ = env.store.Close() })
	}

	logger := logrus.New()
	logger.SetOutput(env.logs)

	origin := NewOrigin(originURL, &http.Client{Timeout: 2 * time.Second}, env.recorder)
	cacheHandler, err := NewCacheHandler(CacheHandlerOptions{
		Origin:         origin,
		Store:          env.store,
		Logger:         logger,
		Metrics:        env.recorder,
		CoalesceMisses: opts.coalesce,
	})
	if err != nil {
		t.Fatalf("cache handler error: %v", err)
	}
	forwardHandler, err := NewForwardHandler(origin, logger, env.recorder)
	if err != nil {
		t.Fatalf("forward handler error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Cache:   cacheHandler,
		Forward: forwardHandler,
		Metrics: env.recorder,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	env.app = app
	return env
}

func (e *proxyEnv) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error: %v", err)
	}
	return resp, body
}

type errorBody struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeErrorBody(t *testing.T, body []byte) errorBody {
	t.Helper()
	var out errorBody
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid json body %q: %v", body, err)
	}
	return out
}

// closedOriginURL returns the address of a server that is no longer listening.
func closedOriginURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// failingStore fails every operation; used to reach the error boundary.
type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, string) (cache.Envelope, error) {
	return cache.Envelope{}, s.err
}
func (s failingStore) Set(context.Context, string, cache.Envelope) error { return s.err }
func (s failingStore) Clear(context.Context) error                      { return s.err }
func (s failingStore) Close() error                                     { return nil }
