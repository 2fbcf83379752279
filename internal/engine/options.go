package engine

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSettleDelay 打开串口后单片机复位所需时间
	DefaultSettleDelay  = 2 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultAwaitTimeout = 10 * time.Second
)

// Option 引擎选项
type Option func(*Engine)

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics 设置指标接收者
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSettleDelay 连接后等待时间，0 表示不等待
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.settle = d
		}
	}
}

// WithPollInterval SendAndAwait 与 Run 的轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithAwaitTimeout SendAndAwait 未指定超时时使用的默认值
func WithAwaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.awaitTimeout = d
		}
	}
}

// WithNow 替换时钟（注册表的发出时间与清扫）
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
