// Package httpserver 控制面 HTTP 服务
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eifionsleith/Kittybyte-IoT/internal/api/middleware"
	cfgpkg "github.com/eifionsleith/Kittybyte-IoT/internal/config"
)

// Server HTTP 服务封装
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// Option 服务选项
type Option func(*options)

type options struct {
	log    *zap.Logger
	routes []func(*gin.Engine)
}

// WithLogger 访问日志
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRoutes 挂载业务路由
func WithRoutes(register func(*gin.Engine)) Option {
	return func(o *options) {
		if register != nil {
			o.routes = append(o.routes, register)
		}
	}
}

// New 创建并配置 Gin + HTTP Server，注册存活、就绪与指标路由
func New(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, readyFn func() bool, opts ...Option) *Server {
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestTracing(), middleware.AccessLog(o.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if metricsHandler != nil {
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}
	for _, register := range o.routes {
		register(r)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv, log: o.log}
}

// Handler 路由处理器
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start 启动 HTTP 服务（阻塞），正常关闭时返回 nil
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve 在已有监听上提供服务
func (s *Server) Serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
