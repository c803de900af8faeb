package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/any-hub/cache-proxy/internal/metrics"
)

// ErrorKind 是源站调用失败的封闭分类，处理器据此决定响应码。
type ErrorKind int

const (
	// ErrorKindOther 表示非传输层错误（例如无法构造请求），交给错误边界处理。
	ErrorKindOther ErrorKind = iota
	// ErrorKindConnectionFailed 表示没有拿到任何响应：连接拒绝、超时、DNS 失败等。
	ErrorKindConnectionFailed
	// ErrorKindOriginResponded 表示已收到状态行与响应头，但之后读取失败。
	ErrorKindOriginResponded
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnectionFailed:
		return "connection_failed"
	case ErrorKindOriginResponded:
		return "origin_responded"
	default:
		return "other"
	}
}

// OriginError 携带失败分类；Kind 为 ErrorKindOriginResponded 时 Status 为源站状态码。
type OriginError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *OriginError) Error() string {
	return e.Err.Error()
}

func (e *OriginError) Unwrap() error {
	return e.Err
}

// OriginRequest 描述一次发往源站的请求，PathAndQuery 直接拼接在源站地址之后。
type OriginRequest struct {
	Method       string
	PathAndQuery string
	Header       http.Header
	Body         []byte
}

// OriginResponse 是完整读取后的源站响应，Body 保留原始字节。
type OriginResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Origin 封装唯一的源站地址与共享 http.Client。
type Origin struct {
	base    string
	client  *http.Client
	metrics *metrics.Recorder
}

// NewOrigin 创建源站客户端，base 形如 http://host:port（不带末尾 /）。
func NewOrigin(base string, client *http.Client, recorder *metrics.Recorder) *Origin {
	if client == nil {
		client = http.DefaultClient
	}
	return &Origin{
		base:    base,
		client:  client,
		metrics: recorder,
	}
}

// Base 返回源站地址，用于拼接缓存键与日志字段。
func (o *Origin) Base() string {
	return o.base
}

// Do 发送请求并读取完整响应。任何状态码都视为有效响应；失败时返回 *OriginError。
func (o *Origin) Do(ctx context.Context, r OriginRequest) (*OriginResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, o.base+r.PathAndQuery, body)
	if err != nil {
		return nil, &OriginError{Kind: ErrorKindOther, Err: fmt.Errorf("build origin request: %w", err)}
	}
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	started := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		o.metrics.ObserveOrigin(r.Method, 0, time.Since(started))
		return nil, &OriginError{Kind: ErrorKindConnectionFailed, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	o.metrics.ObserveOrigin(r.Method, resp.StatusCode, time.Since(started))
	if err != nil {
		return nil, &OriginError{
			Kind:   ErrorKindOriginResponded,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("read origin response: %w", err),
		}
	}

	return &OriginResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
