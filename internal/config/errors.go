package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有校验失败的共同根因，调用方可用 errors.Is 与读取失败区分。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 指出出错的配置键（与 TOML 键、CACHE_PROXY_* 环境变量同名）及原因。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
