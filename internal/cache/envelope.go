package cache

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope 表示存储中的数据无法还原为 Envelope，调用方应按未命中处理。
var ErrMalformedEnvelope = errors.New("malformed cache envelope")

// Envelope 是缓存中保存的源站响应。Body 为 nil 表示源站没有返回内容，
// 与空切片（返回了空内容）区分开。
type Envelope struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

// EncodeEnvelope 将 Envelope 序列化为存储用的字符串。nil Body 编码为 JSON null。
func EncodeEnvelope(env Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope 还原 EncodeEnvelope 的输出，状态码不在 100-599 时视为损坏。
func DecodeEnvelope(raw string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Status < 100 || env.Status > 599 {
		return Envelope{}, fmt.Errorf("%w: status %d", ErrMalformedEnvelope, env.Status)
	}
	return env, nil
}
