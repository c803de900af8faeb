package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 CACHE_PROXY_LISTEN_PORT。
const EnvPrefix = "CACHE_PROXY"

// flagBindings 将 CLI flag 名映射到配置键。
var flagBindings = map[string]string{
	"port":             "ListenPort",
	"origin":           "Origin",
	"redis-url":        "RedisURL",
	"backend":          "CacheBackend",
	"sqlite-path":      "SQLitePath",
	"cache-ttl":        "CacheTTL",
	"upstream-timeout": "UpstreamTimeout",
	"coalesce-misses":  "CoalesceMisses",
	"metrics-port":     "MetricsPort",
	"log-level":        "LogLevel",
	"log-format":       "LogFormat",
}

// envBindings 列出每个配置键可接受的环境变量。REDIS_HOST 沿用旧部署的命名。
var envBindings = map[string][]string{
	"ListenPort":      {EnvPrefix + "_LISTEN_PORT"},
	"Origin":          {EnvPrefix + "_ORIGIN"},
	"CacheBackend":    {EnvPrefix + "_CACHE_BACKEND"},
	"RedisURL":        {EnvPrefix + "_REDIS_URL", "REDIS_HOST"},
	"SQLitePath":      {EnvPrefix + "_SQLITE_PATH"},
	"CacheTTL":        {EnvPrefix + "_CACHE_TTL"},
	"UpstreamTimeout": {EnvPrefix + "_UPSTREAM_TIMEOUT"},
	"CoalesceMisses":  {EnvPrefix + "_COALESCE_MISSES"},
	"MetricsPort":     {EnvPrefix + "_METRICS_PORT"},
	"LogLevel":        {EnvPrefix + "_LOG_LEVEL"},
	"LogFormat":       {EnvPrefix + "_LOG_FORMAT"},
	"LogFilePath":     {EnvPrefix + "_LOG_FILE_PATH"},
}

// Load 合并默认值、可选的 TOML 配置文件、环境变量与 CLI flag，并完成校验。
// path 为空时不读取配置文件；flags 可以为 nil。
func Load(path string, flags *pflag.FlagSet, mode Mode) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagBindings {
			flag := flags.Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("绑定参数 %s 失败: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("CacheBackend", BackendRedis)
	v.SetDefault("RedisURL", "redis://localhost:6379/0")
	v.SetDefault("SQLitePath", "./cache-proxy.db")
	v.SetDefault("CacheTTL", 300)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CoalesceMisses", false)
	v.SetDefault("MetricsPort", 0)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyDefaults(cfg *Config) {
	cfg.Origin = strings.TrimSuffix(strings.TrimSpace(cfg.Origin), "/")
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.CacheTTL.DurationValue() == 0 {
		cfg.CacheTTL = Duration(300 * time.Second)
	}
	if cfg.UpstreamTimeout.DurationValue() == 0 {
		cfg.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
