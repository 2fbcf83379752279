// Package engine 主机侧协议引擎
// 负责连接生命周期、命令发送、响应轮询分发与超时清扫
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/correlation"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/frame"
	"github.com/eifionsleith/Kittybyte-IoT/internal/transport"
	"go.uber.org/zap"
)

// maxReadsPerPoll 单次 Poll 最多读取次数，避免持续来数据时 Poll 不返回
const maxReadsPerPoll = 64

// Stats 引擎运行快照
type Stats struct {
	Connected         bool   `json:"connected"`
	Pending           int    `json:"pending"`
	ParserState       string `json:"parser_state"`
	CommandsSent      uint64 `json:"commands_sent"`
	PacketsReceived   uint64 `json:"packets_received"`
	BytesDiscarded    uint64 `json:"bytes_discarded"`
	OrphanResponses   uint64 `json:"orphan_responses"`
	ExpiredCommands   uint64 `json:"expired_commands"`
	LastPollUnixMilli int64  `json:"last_poll_unix_ms"`
}

type counters struct {
	sent      atomic.Uint64
	packets   atomic.Uint64
	discarded atomic.Uint64
	orphans   atomic.Uint64
	expired   atomic.Uint64
	lastPoll  atomic.Int64
}

// Engine 协议引擎
// Send 可在多个 goroutine 并发调用；Poll 内部串行，分发在轮询锁之外进行
type Engine struct {
	t        transport.Transport
	registry *correlation.Registry
	parser   *frame.Parser

	log          *zap.Logger
	metrics      Metrics
	settle       time.Duration
	pollInterval time.Duration
	awaitTimeout time.Duration
	now          func() time.Time

	lifecycleMu sync.Mutex
	connected   atomic.Bool

	pollMu  sync.Mutex
	readBuf [frame.BufferCapacity]byte

	writeMu sync.Mutex

	stats counters
}

// New 创建引擎（未连接）
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		t:            t,
		log:          zap.NewNop(),
		metrics:      nopMetrics{},
		settle:       DefaultSettleDelay,
		pollInterval: DefaultPollInterval,
		awaitTimeout: DefaultAwaitTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	obs := observer{e: e}
	e.registry = correlation.NewRegistry(
		correlation.WithNow(e.now),
		correlation.WithLogger(e.log.Named("correlation")),
		correlation.WithObserver(obs),
	)
	e.parser = frame.NewParser(
		frame.WithLogger(e.log.Named("parser")),
		frame.WithObserver(obs),
	)
	return e
}

// Connect 打开传输，等待单片机复位后清空陈旧输入
// 重复调用无副作用；等待期间 ctx 取消会关闭传输并返回
func (e *Engine) Connect(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.connected.Load() {
		return nil
	}

	if err := e.t.Open(); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	if e.settle > 0 {
		e.log.Info("waiting for device to settle", zap.Duration("delay", e.settle))
		timer := time.NewTimer(e.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = e.t.Close()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := e.t.ResetInput(); err != nil {
		_ = e.t.Close()
		return fmt.Errorf("reset input: %w", err)
	}

	e.pollMu.Lock()
	e.parser.Reset()
	e.pollMu.Unlock()
	e.registry.Clear()

	e.connected.Store(true)
	e.metrics.PendingCommands(0)
	e.log.Info("device link connected")
	return nil
}

// Disconnect 关闭传输并重置解析器，在途命令以 correlation.ErrCleared 结束
func (e *Engine) Disconnect() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if !e.connected.Swap(false) {
		return nil
	}

	err := e.t.Close()
	e.pollMu.Lock()
	e.parser.Reset()
	e.pollMu.Unlock()
	cleared := e.registry.Clear()
	e.metrics.PendingCommands(0)
	e.log.Info("device link disconnected", zap.Int("cleared_pending", cleared))
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// IsConnected 是否已连接
func (e *Engine) IsConnected() bool {
	return e.connected.Load()
}

// Send 分配关联ID、登记处理函数并写出命令
// 登记先于写出，响应不会早于登记到达；写失败时移除登记
func (e *Engine) Send(cmd command.Command, h correlation.Handler) (byte, error) {
	if cmd == nil {
		return 0, ErrNilCommand
	}
	if !e.connected.Load() {
		return 0, ErrNotConnected
	}

	kind := cmd.Kind()
	id, err := e.registry.Reserve(kind, h)
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", kind, err)
	}
	buf, err := frame.Encode(id, cmd.ID(), cmd.Payload())
	if err != nil {
		e.registry.Forget(id)
		return 0, fmt.Errorf("encode %s: %w", kind, err)
	}

	e.writeMu.Lock()
	_, err = e.t.Write(buf)
	e.writeMu.Unlock()
	if err != nil {
		e.registry.Forget(id)
		e.log.Error("write command failed", zap.Uint8("id", id), zap.String("kind", kind), zap.Error(err))
		return 0, fmt.Errorf("write %s: %w", kind, err)
	}

	e.stats.sent.Add(1)
	e.metrics.CommandSent(kind)
	e.metrics.PendingCommands(e.registry.Len())
	e.log.Debug("command sent",
		zap.Uint8("id", id),
		zap.String("kind", kind),
		zap.String("frame", hex.EncodeToString(buf)))
	return id, nil
}

// Submit 发送命令并返回其 Future
func (e *Engine) Submit(cmd command.Command) (*correlation.Future, byte, error) {
	f := correlation.NewFuture()
	id, err := e.Send(cmd, f.Handle)
	if err != nil {
		return nil, 0, err
	}
	return f, id, nil
}

// Exchange 一次请求/响应往返的结果
type Exchange struct {
	// ID 本次使用的关联ID
	ID byte
	// Code 终态响应码；未收到终态响应时为 0
	Code byte
	// Acknowledged 是否收到过“已接收”确认
	Acknowledged bool
	Result       command.Result
}

// SendAndAwait 发送命令并驱动 Poll 直到收到终态响应
// 返回命令自身对终态响应的解释；“已接收”确认不会作为结果返回
// 超时后移除登记，迟到的响应按孤儿处理
func (e *Engine) SendAndAwait(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Result, error) {
	ex, err := e.Exchange(ctx, cmd, timeout)
	return ex.Result, err
}

// Exchange 与 SendAndAwait 相同，另外返回关联ID与响应码
// 发送成功后出错时 Exchange.ID 仍然有效
func (e *Engine) Exchange(ctx context.Context, cmd command.Command, timeout time.Duration) (Exchange, error) {
	if timeout <= 0 {
		timeout = e.awaitTimeout
	}
	start := time.Now()
	f, id, err := e.Submit(cmd)
	if err != nil {
		return Exchange{}, err
	}
	kind := cmd.Kind()
	ex := Exchange{ID: id}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := e.Poll(); err != nil && !errors.Is(err, ErrNotConnected) {
			e.registry.Forget(id)
			e.metrics.AwaitObserved(kind, "error", time.Since(start))
			ex.Acknowledged = f.Acknowledged()
			return ex, fmt.Errorf("poll while awaiting %s id=%d: %w", kind, id, err)
		}
		if resp, done := f.Result(); done {
			return e.interpret(cmd, f, resp, start)
		}

		select {
		case <-f.Done():
		case <-ticker.C:
		case <-waitCtx.Done():
			if resp, done := f.Result(); done {
				return e.interpret(cmd, f, resp, start)
			}
			e.registry.Forget(id)
			ex.Acknowledged = f.Acknowledged()
			if ctx.Err() != nil {
				e.metrics.AwaitObserved(kind, "canceled", time.Since(start))
				return ex, ctx.Err()
			}
			e.log.Warn("command timed out",
				zap.Uint8("id", id),
				zap.String("kind", kind),
				zap.Bool("acknowledged", ex.Acknowledged),
				zap.Duration("timeout", timeout))
			e.metrics.AwaitObserved(kind, "timeout", time.Since(start))
			return ex, fmt.Errorf("%w: %s id=%d after %s (acknowledged=%t)",
				ErrTimeout, kind, id, timeout, ex.Acknowledged)
		}
	}
}

func (e *Engine) interpret(cmd command.Command, f *correlation.Future, resp correlation.Response, start time.Time) (Exchange, error) {
	kind := cmd.Kind()
	ex := Exchange{ID: resp.ID, Acknowledged: f.Acknowledged()}
	if errors.Is(resp.Err, correlation.ErrExpired) {
		e.metrics.AwaitObserved(kind, "timeout", time.Since(start))
		return ex, fmt.Errorf("%w: %s id=%d swept while awaiting (acknowledged=%t): %w",
			ErrTimeout, kind, resp.ID, ex.Acknowledged, resp.Err)
	}
	if resp.Err != nil {
		e.metrics.AwaitObserved(kind, "aborted", time.Since(start))
		return ex, fmt.Errorf("%s id=%d: %w", kind, resp.ID, resp.Err)
	}
	ex.Code = resp.Code
	res, err := cmd.ParseResponse(resp.Code, resp.Payload)
	if err != nil {
		e.metrics.AwaitObserved(kind, "device_error", time.Since(start))
		return ex, err
	}
	ex.Result = res
	e.metrics.AwaitObserved(kind, "ok", time.Since(start))
	return ex, nil
}

// Poll 读取全部已到达字节，解析并分发完整的包，返回分发数量
func (e *Engine) Poll() (int, error) {
	if !e.connected.Load() {
		return 0, ErrNotConnected
	}

	e.pollMu.Lock()
	packets, err := e.drainLocked()
	e.pollMu.Unlock()
	e.stats.lastPoll.Store(e.now().UnixMilli())

	// 处理函数可能再次调用 Send/Poll，必须在轮询锁外分发
	for _, p := range packets {
		e.registry.Resolve(p.CorrelationID, p.Code, p.Payload)
	}
	if len(packets) > 0 {
		e.metrics.PendingCommands(e.registry.Len())
	}
	return len(packets), err
}

func (e *Engine) drainLocked() ([]*frame.Packet, error) {
	var packets []*frame.Packet
	for i := 0; i < maxReadsPerPoll; i++ {
		n, err := e.t.Available()
		if err != nil {
			return packets, fmt.Errorf("transport available: %w", err)
		}
		if n == 0 {
			return packets, nil
		}
		if n > len(e.readBuf) {
			n = len(e.readBuf)
		}
		n, err = e.t.Read(e.readBuf[:n])
		if n > 0 {
			packets = append(packets, e.parser.FeedBytes(e.readBuf[:n])...)
		}
		if err != nil {
			return packets, fmt.Errorf("transport read: %w", err)
		}
		if n == 0 {
			return packets, nil
		}
	}
	return packets, nil
}

// Sweep 清扫超过 timeout 未完成的在途命令
func (e *Engine) Sweep(timeout time.Duration) int {
	n := e.registry.Sweep(timeout)
	if n > 0 {
		e.stats.expired.Add(uint64(n))
		e.metrics.PendingCommands(e.registry.Len())
	}
	return n
}

// Run 轮询与定期清扫循环，直到 ctx 结束
// 未连接期间只跳过本轮，不退出
func (e *Engine) Run(ctx context.Context, sweepEvery, pendingTimeout time.Duration) {
	poll := time.NewTicker(e.pollInterval)
	defer poll.Stop()
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	e.log.Info("engine loop started",
		zap.Duration("poll_interval", e.pollInterval),
		zap.Duration("sweep_every", sweepEvery),
		zap.Duration("pending_timeout", pendingTimeout))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine loop stopped")
			return
		case <-poll.C:
			if _, err := e.Poll(); err != nil && !errors.Is(err, ErrNotConnected) {
				e.log.Error("poll failed", zap.Error(err))
			}
		case <-sweep.C:
			if pendingTimeout > 0 {
				e.Sweep(pendingTimeout)
			}
		}
	}
}

// Pending 在途命令数
func (e *Engine) Pending() int {
	return e.registry.Len()
}

// Stats 返回运行快照
func (e *Engine) Stats() Stats {
	e.pollMu.Lock()
	state := e.parser.State().String()
	e.pollMu.Unlock()
	return Stats{
		Connected:         e.connected.Load(),
		Pending:           e.registry.Len(),
		ParserState:       state,
		CommandsSent:      e.stats.sent.Load(),
		PacketsReceived:   e.stats.packets.Load(),
		BytesDiscarded:    e.stats.discarded.Load(),
		OrphanResponses:   e.stats.orphans.Load(),
		ExpiredCommands:   e.stats.expired.Load(),
		LastPollUnixMilli: e.stats.lastPoll.Load(),
	}
}
