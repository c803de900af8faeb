package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/any-hub/cache-proxy/internal/cache"
	"github.com/any-hub/cache-proxy/internal/config"
	"github.com/any-hub/cache-proxy/internal/logging"
	"github.com/any-hub/cache-proxy/internal/metrics"
	"github.com/any-hub/cache-proxy/internal/proxy"
	"github.com/any-hub/cache-proxy/internal/server"
	"github.com/any-hub/cache-proxy/internal/version"
)

const (
	cmdStart      = "start"
	cmdClearCache = "clear-cache"
	cmdVersion    = "version"

	// configEnv 可替代 --config 指定配置文件。
	configEnv = "CACHE_PROXY_CONFIG"

	storeConnectTimeout = 5 * time.Second
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	command    string
	configPath string
	flags      *pflag.FlagSet
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr

	// signalContext 在测试中被替换，以便不发送真实信号也能停止服务。
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 解析子命令并执行，返回进程退出码：参数错误为 2，配置或运行错误为 1。
func run(args []string) int {
	opts, err := parseCLIFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		printUsage(stdErr)
		return 2
	}

	switch opts.command {
	case cmdVersion:
		printVersion()
		return 0
	case cmdClearCache:
		return runClearCache(opts)
	default:
		return runStart(opts)
	}
}

// parseCLIFlags 解析 `<command> [flags]`，并结合环境变量计算配置文件路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	if len(args) == 0 {
		return cliOptions{}, errors.New("缺少子命令")
	}

	command := args[0]
	switch command {
	case "--version", "-v":
		command = cmdVersion
	case "--help", "-h", "help":
		printUsage(stdOut)
		return cliOptions{}, pflag.ErrHelp
	case cmdStart, cmdClearCache, cmdVersion:
	default:
		return cliOptions{}, fmt.Errorf("未知子命令: %s", command)
	}

	fs := newFlagSet(command)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fs.SetOutput(stdOut)
			fs.PrintDefaults()
			return cliOptions{}, err
		}
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("多余的参数: %v", fs.Args())
	}

	path := os.Getenv(configEnv)
	if value, _ := fs.GetString("config"); value != "" {
		path = value
	}

	return cliOptions{
		command:    command,
		configPath: path,
		flags:      fs,
	}, nil
}

func newFlagSet(command string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("cache-proxy "+command, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if command == cmdVersion {
		return fs
	}

	fs.String("config", "", "TOML 配置文件路径（可被 "+configEnv+" 指定）")
	fs.String("backend", config.BackendRedis, "缓存后端：redis|sqlite")
	fs.String("redis-url", "", "Redis 地址，例如 redis://localhost:6379/0")
	fs.String("sqlite-path", "", "SQLite 数据库文件路径")
	fs.String("log-level", "info", "日志级别")
	fs.String("log-format", "json", "日志格式：json|text")

	if command == cmdStart {
		fs.IntP("port", "p", 3000, "代理监听端口")
		fs.StringP("origin", "o", "", "源站地址，例如 http://dummyjson.com")
		fs.String("cache-ttl", "300", "缓存过期时间（秒或 Go duration）")
		fs.String("upstream-timeout", "30s", "回源超时")
		fs.Bool("coalesce-misses", false, "合并同一 key 的并发未命中")
		fs.Int("metrics-port", 0, "Prometheus /metrics 端口，0 表示关闭")
	}
	return fs
}

// runStart 遵循“配置 → 日志 → 缓存连接 → 源站客户端 → Fiber app → 监听”顺序。
func runStart(opts cliOptions) int {
	cfg, logger, code := loadRuntime(opts, config.ModeStart)
	if cfg == nil {
		return code
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithFields(logging.BaseFields("startup", opts.configPath)).WithError(err).Error("缓存后端连接失败")
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	recorder := metrics.NewRecorder()
	lifecycle, err := buildLifecycle(cfg, store, logger, recorder)
	if err != nil {
		_ = store.Close()
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.ListenPort
	fields["origin"] = cfg.Origin
	fields["backend"] = cfg.CacheBackend
	fields["ttl_seconds"] = int(cfg.CacheTTL.DurationValue().Seconds())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := lifecycle.Serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "服务异常退出: %v\n", err)
		return 1
	}
	return 0
}

func buildLifecycle(cfg *config.Config, store cache.Store, logger *logrus.Logger, recorder *metrics.Recorder) (*server.Lifecycle, error) {
	origin := proxy.NewOrigin(cfg.Origin, server.NewUpstreamClient(cfg), recorder)

	cacheHandler, err := proxy.NewCacheHandler(proxy.CacheHandlerOptions{
		Origin:         origin,
		Store:          store,
		Logger:         logger,
		Metrics:        recorder,
		CoalesceMisses: cfg.CoalesceMisses,
	})
	if err != nil {
		return nil, err
	}
	forwardHandler, err := proxy.NewForwardHandler(origin, logger, recorder)
	if err != nil {
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Cache:   cacheHandler,
		Forward: forwardHandler,
		Metrics: recorder,
	})
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		return nil, err
	}

	lifecycle := &server.Lifecycle{
		App:      app,
		Listener: ln,
		Store:    store,
		Logger:   logger,
	}
	if cfg.MetricsPort > 0 {
		metricsLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.MetricsPort))
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
		lifecycle.MetricsApp = server.NewMetricsApp(recorder)
		lifecycle.MetricsListener = metricsLn
	}
	return lifecycle, nil
}

// runClearCache 清空缓存后退出，不需要源站配置。
func runClearCache(opts cliOptions) int {
	cfg, logger, code := loadRuntime(opts, config.ModeClearCache)
	if cfg == nil {
		return code
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("clear_cache", opts.configPath)
	fields["backend"] = cfg.CacheBackend
	logger.WithFields(fields).Info("缓存已清空")
	fmt.Fprintln(stdOut, "Cache cleared successfully.")
	return 0
}

// loadRuntime 加载配置并初始化日志；失败时 cfg 为 nil，code 为退出码。
func loadRuntime(opts cliOptions, mode config.Mode) (*config.Config, *logrus.Logger, int) {
	cfg, err := config.Load(opts.configPath, opts.flags, mode)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return nil, nil, 1
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return nil, nil, 1
	}
	return cfg, logger, 0
}

func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()
	return cache.NewStore(ctx, cfg)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `用法:
  cache-proxy start --port <number> --origin <url> [--config file]
  cache-proxy clear-cache [--config file]
  cache-proxy version`)
}
