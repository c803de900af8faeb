package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Lifecycle 持有运行中的 Fiber 应用、监听器与缓存连接，由进程入口创建并负责关闭。
type Lifecycle struct {
	App             *fiber.App
	Listener        net.Listener
	MetricsApp      *fiber.App
	MetricsListener net.Listener
	Store           io.Closer
	Logger          *logrus.Logger
}

// Serve 阻塞直到 ctx 结束或监听失败。退出时先关闭缓存连接，再关闭监听；
// 正在处理的请求不做额外等待。
func (l *Lifecycle) Serve(ctx context.Context) error {
	if l.App == nil || l.Listener == nil {
		return errors.New("app and listener are required")
	}

	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	errCh := make(chan error, 2)
	go func() {
		errCh <- l.App.Listener(l.Listener, listenCfg)
	}()
	if l.MetricsApp != nil && l.MetricsListener != nil {
		go func() {
			errCh <- l.MetricsApp.Listener(l.MetricsListener, listenCfg)
		}()
	}

	l.log().WithFields(logrus.Fields{
		"action": "listen",
		"addr":   l.Listener.Addr().String(),
	}).Info("Proxy server is running")

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	if err := l.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (l *Lifecycle) shutdown() error {
	var errs []error

	if l.Store != nil {
		if err := l.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := l.App.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown app: %w", err))
	}
	closeListener(l.Listener, &errs)
	if l.MetricsApp != nil {
		if err := l.MetricsApp.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
		closeListener(l.MetricsListener, &errs)
	}

	err := errors.Join(errs...)
	if err != nil {
		l.log().WithField("action", "shutdown").Error(err.Error())
		return err
	}
	l.log().WithField("action", "shutdown").Info("Server shut down successful")
	return nil
}

func closeListener(ln net.Listener, errs *[]error) {
	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		*errs = append(*errs, fmt.Errorf("close listener: %w", err))
	}
}

func (l *Lifecycle) log() *logrus.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return logrus.StandardLogger()
}
