package engine

import (
	"errors"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/frame"
)

// Metrics 引擎指标接收者，由 metrics.LinkMetrics 实现
type Metrics interface {
	PacketReceived(code string)
	BytesDiscarded(reason string, n int)
	CommandSent(kind string)
	CorrelationEvent(operation, status string)
	PendingCommands(n int)
	AwaitObserved(kind, result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) PacketReceived(string)                       {}
func (nopMetrics) BytesDiscarded(string, int)                  {}
func (nopMetrics) CommandSent(string)                          {}
func (nopMetrics) CorrelationEvent(string, string)             {}
func (nopMetrics) PendingCommands(int)                         {}
func (nopMetrics) AwaitObserved(string, string, time.Duration) {}

// observer 把解析器与注册表事件转成指标
type observer struct {
	e *Engine
}

func (o observer) OnPacket(p *frame.Packet) {
	o.e.stats.packets.Add(1)
	o.e.metrics.PacketReceived(command.CodeName(p.Code))
}

func (o observer) OnDiscard(reason error, dropped int) {
	o.e.stats.discarded.Add(uint64(dropped))
	o.e.metrics.BytesDiscarded(discardReason(reason), dropped)
}

func (o observer) Record(operation, status string) {
	if operation == "resolve" && status == "orphan" {
		o.e.stats.orphans.Add(1)
	}
	o.e.metrics.CorrelationEvent(operation, status)
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrNoise):
		return "noise"
	case errors.Is(err, frame.ErrOversizedLength):
		return "oversized_length"
	case errors.Is(err, frame.ErrChecksumMismatch):
		return "checksum"
	default:
		return "other"
	}
}
