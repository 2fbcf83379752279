package health

import (
	"context"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/engine"
)

// LinkSource 链路状态来源（*engine.Engine）
type LinkSource interface {
	IsConnected() bool
	Stats() engine.Stats
}

// LinkChecker 串口链路健康检查器
type LinkChecker struct {
	link LinkSource
	// maxPending 在途命令超过该值视为降级，0 不检查
	maxPending int
	// staleAfter 轮询停滞超过该时长视为不健康，0 不检查
	staleAfter time.Duration
	now        func() time.Time
}

// NewLinkChecker 创建链路检查器
func NewLinkChecker(link LinkSource, maxPending int, staleAfter time.Duration) *LinkChecker {
	return &LinkChecker{link: link, maxPending: maxPending, staleAfter: staleAfter, now: time.Now}
}

func (c *LinkChecker) Name() string { return "link" }

// Check 未连接或轮询停滞为不健康，积压过多为降级
func (c *LinkChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.link.Stats()

	details := map[string]any{
		DetailPending:         st.Pending,
		DetailParserState:     st.ParserState,
		DetailCommandsSent:    st.CommandsSent,
		DetailPacketsReceived: st.PacketsReceived,
		DetailBytesDiscarded:  st.BytesDiscarded,
		DetailOrphanResponses: st.OrphanResponses,
		DetailExpiredCommands: st.ExpiredCommands,
	}

	if !c.link.IsConnected() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "link not connected",
			Details: details,
			Latency: time.Since(start),
		}
	}

	status := StatusHealthy
	message := "ok"

	if c.maxPending > 0 && st.Pending > c.maxPending {
		status = StatusDegraded
		message = "too many pending commands"
	}

	if c.staleAfter > 0 && st.LastPollUnixMilli > 0 {
		idle := c.now().Sub(time.UnixMilli(st.LastPollUnixMilli))
		details[DetailLastPollAgo] = idle.String()
		if idle > c.staleAfter {
			status = StatusUnhealthy
			message = "poll loop stalled"
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
