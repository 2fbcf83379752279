package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker 事件流 Redis 健康检查器
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker 创建Redis健康检查器
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "events_redis" }

// Check 与数据库相同，失败只降级
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.PoolStats()
	status := StatusHealthy
	message := "ok"
	if stats.Timeouts > 0 && stats.Timeouts >= stats.Hits {
		status = StatusDegraded
		message = "pool timeouts exceed hits"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"hits":        stats.Hits,
			"misses":      stats.Misses,
			"timeouts":    stats.Timeouts,
		},
		Latency: time.Since(start),
	}
}
