package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// originPattern 与 CLI 文档一致：必须以 http:// 或 https:// 开头。
var originPattern = regexp.MustCompile(`^https?://.+`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate(mode Mode) error {
	if c == nil {
		return errors.New("配置为空")
	}

	if mode == ModeStart {
		if c.ListenPort <= 0 || c.ListenPort > 65535 {
			return newFieldError("ListenPort", "必须在 1-65535")
		}
		if err := ValidateOrigin(c.Origin); err != nil {
			return newFieldError("Origin", err.Error())
		}
		if c.UpstreamTimeout.DurationValue() <= 0 {
			return newFieldError("UpstreamTimeout", "必须大于 0")
		}
		if c.MetricsPort < 0 || c.MetricsPort > 65535 {
			return newFieldError("MetricsPort", "必须在 0-65535")
		}
		if c.MetricsPort != 0 && c.MetricsPort == c.ListenPort {
			return newFieldError("MetricsPort", "不能与 ListenPort 相同")
		}
	}

	if c.CacheTTL.DurationValue() <= 0 {
		return newFieldError("CacheTTL", "必须大于 0")
	}

	switch c.CacheBackend {
	case BackendRedis:
		if err := validateRedisURL(c.RedisURL); err != nil {
			return newFieldError("RedisURL", err.Error())
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return newFieldError("SQLitePath", "不能为空")
		}
	default:
		return newFieldError("CacheBackend", "仅支持 redis|sqlite")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", err.Error())
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return newFieldError("LogFormat", "仅支持 json|text")
	}

	return nil
}

// ValidateOrigin 校验源站地址：http/https 且包含 Host。
func ValidateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	if !originPattern.MatchString(raw) {
		return fmt.Errorf("必须以 http:// 或 https:// 开头: %s", raw)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

func validateRedisURL(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "redis", "rediss", "unix":
		return nil
	default:
		return fmt.Errorf("仅支持 redis://、rediss:// 或 unix://，得到 %s", raw)
	}
}
