package health

import (
	"context"
	"testing"
	"time"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
	delay  time.Duration
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Message: ctx.Err().Error()}
		}
	}
	return CheckResult{
		Status:  m.status,
		Message: "mock",
		Latency: time.Millisecond,
	}
}

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{name: "link", status: StatusHealthy},
			&mockChecker{name: "journal_db", status: StatusHealthy},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", status)
		}
		if !agg.Ready(context.Background()) {
			t.Error("全部健康时应该Ready")
		}
	})

	t.Run("可选依赖降级", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{name: "link", status: StatusHealthy},
			&mockChecker{name: "events_redis", status: StatusDegraded},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", status)
		}
		if !agg.Ready(context.Background()) {
			t.Error("降级状态应该仍然Ready")
		}
	})

	t.Run("链路不健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{name: "link", status: StatusUnhealthy},
			&mockChecker{name: "journal_db", status: StatusDegraded},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusUnhealthy {
			t.Errorf("期望StatusUnhealthy，实际: %v", status)
		}
		if agg.Ready(context.Background()) {
			t.Error("不健康状态不应该Ready")
		}
	})

	t.Run("检查器超时", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{name: "slow", status: StatusHealthy, delay: time.Second})
		agg.SetTimeout(10 * time.Millisecond)

		start := time.Now()
		results := agg.CheckAll(context.Background())
		if time.Since(start) > 500*time.Millisecond {
			t.Error("超时未生效")
		}
		if results["slow"].Status != StatusUnhealthy {
			t.Errorf("超时检查器期望StatusUnhealthy，实际: %v", results["slow"].Status)
		}
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{name: "initial", status: StatusHealthy})
		agg.AddChecker(&mockChecker{name: "added", status: StatusHealthy})

		report := agg.Report(context.Background())
		if len(report.Checks) != 2 {
			t.Errorf("期望2个结果，实际: %d", len(report.Checks))
		}
		if report.Status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", report.Status)
		}
	})

	t.Run("Alive始终返回true", func(t *testing.T) {
		if !NewAggregator().Alive() {
			t.Error("Alive应该始终返回true")
		}
	})
}
