package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"   // 命令可下发且无积压
	StatusDegraded  Status = "degraded"  // 链路可用但有积压或可选依赖异常
	StatusUnhealthy Status = "unhealthy" // 无法下发命令
)

// severity 用于聚合时取最差状态，未知状态按不健康处理
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse 返回两者中更差的状态
func Worse(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// 链路检查结果 Details 中的键，与 engine.Stats 字段一一对应
const (
	DetailPending         = "pending"
	DetailParserState     = "parser_state"
	DetailCommandsSent    = "commands_sent"
	DetailPacketsReceived = "packets_received"
	DetailBytesDiscarded  = "bytes_discarded"
	DetailOrphanResponses = "orphan_responses"
	DetailExpiredCommands = "expired_commands"
	DetailLastPollAgo     = "last_poll_ago"
)

// CheckResult 单个检查器的结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 健康检查器；串口链路之外的依赖（数据库、Redis）只会使服务降级
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
