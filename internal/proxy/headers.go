package proxy

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v3"
)

const (
	headerCache           = "X-Cache"
	headerAcceptEncoding  = "Accept-Encoding"
	cacheStatusHit        = "HIT"
	cacheStatusMiss       = "MISS"
	originFetchFailureMsg = "Error fetching data from origin server"
)

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// outboundHeaders 去掉由 transport 重新生成的字段：Host 按源站地址计算，
// Accept-Encoding 交给 transport 协商，这样读到的 body 已经解压。
func outboundHeaders(header http.Header) http.Header {
	header.Del(fiber.HeaderHost)
	header.Del(headerAcceptEncoding)
	return header
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
