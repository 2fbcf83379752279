// Package events 命令结果事件发布（Redis Stream）
package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cfgpkg "github.com/eifionsleith/Kittybyte-IoT/internal/config"
)

// Event 一次执行器请求的结果
type Event struct {
	RequestID     string
	Command       string
	CorrelationID byte
	Status        string
	// Code 终态响应码，未收到响应时为 0
	Code     byte
	Value    string
	Error    string
	Duration time.Duration
	At       time.Time
}

// Fields 转为 XADD 字段
func (e Event) Fields() map[string]any {
	f := map[string]any{
		"request_id":     e.RequestID,
		"command":        e.Command,
		"correlation_id": strconv.Itoa(int(e.CorrelationID)),
		"status":         e.Status,
		"code":           fmt.Sprintf("0x%02X", e.Code),
		"duration_ms":    strconv.FormatInt(e.Duration.Milliseconds(), 10),
		"at":             e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Value != "" {
		f["value"] = e.Value
	}
	if e.Error != "" {
		f["error"] = e.Error
	}
	return f
}

// Publisher 事件发布者
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NewClient 创建 Redis 客户端并探活
func NewClient(cfg cfgpkg.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisPublisher 以 XADD 写入有长度上限的 Stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	log    *zap.Logger
}

// NewRedisPublisher 创建发布者；maxLen<=0 表示不裁剪
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, log *zap.Logger) *RedisPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: e.Fields(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.log.Debug("outcome event published",
		zap.String("stream", p.stream),
		zap.String("entry_id", id),
		zap.String("request_id", e.RequestID))
	return nil
}

// Nop 未启用 Redis 时使用
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
