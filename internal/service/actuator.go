package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eifionsleith/Kittybyte-IoT/internal/engine"
	"github.com/eifionsleith/Kittybyte-IoT/internal/events"
	"github.com/eifionsleith/Kittybyte-IoT/internal/journal"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/eifionsleith/Kittybyte-IoT/internal/tunes"
)

// 请求结果状态
const (
	StatusCompleted   = "completed"
	StatusDeviceError = "device_error"
	StatusTimeout     = "timeout"
	// StatusFailed 发送失败、连接断开或调用方取消
	StatusFailed = "failed"
	// StatusRejected 参数校验未通过，命令未发出
	StatusRejected = "rejected"
)

// Link 执行器依赖的协议引擎能力
type Link interface {
	Exchange(ctx context.Context, cmd command.Command, timeout time.Duration) (engine.Exchange, error)
	IsConnected() bool
}

// Journal 命令日志写入
type Journal interface {
	Record(ctx context.Context, rec *journal.CommandRecord) error
}

// Metrics 执行器指标
type Metrics interface {
	Outcome(command, status string)
	RateLimited()
}

type nopMetrics struct{}

func (nopMetrics) Outcome(string, string) {}
func (nopMetrics) RateLimited()           {}

// Outcome 一次执行器请求的结果
type Outcome struct {
	RequestID     string `json:"request_id"`
	Command       string `json:"command"`
	CorrelationID byte   `json:"correlation_id"`
	Status        string `json:"status"`
	// Code 终态响应码名称
	Code  string `json:"code,omitempty"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
	// Acknowledged 固件是否确认接收
	Acknowledged bool          `json:"acknowledged"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
}

// Actuator 蜂鸣器与出粮器的业务入口
// 每次请求：生成请求ID -> 限流 -> 发送并等待 -> 写日志 -> 发布事件
type Actuator struct {
	link    Link
	tunes   *tunes.Library
	limiter *rate.Limiter
	journal Journal
	events  events.Publisher
	metrics Metrics
	log     *zap.Logger
	timeout time.Duration
	newID   func() string
}

// Option 执行器选项
type Option func(*Actuator)

// WithTunes 旋律库
func WithTunes(lib *tunes.Library) Option {
	return func(a *Actuator) {
		if lib != nil {
			a.tunes = lib
		}
	}
}

// WithRateLimit 每秒发送数与突发容量；ratePerSec<=0 不限流
func WithRateLimit(ratePerSec float64, burst int) Option {
	return func(a *Actuator) {
		if ratePerSec <= 0 {
			a.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
}

// WithJournal 命令日志
func WithJournal(j Journal) Option {
	return func(a *Actuator) {
		if j != nil {
			a.journal = j
		}
	}
}

// WithPublisher 结果事件
func WithPublisher(p events.Publisher) Option {
	return func(a *Actuator) {
		if p != nil {
			a.events = p
		}
	}
}

// WithMetrics 指标
func WithMetrics(m Metrics) Option {
	return func(a *Actuator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.Logger) Option {
	return func(a *Actuator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTimeout 单次请求等待终态响应的时间
func WithTimeout(d time.Duration) Option {
	return func(a *Actuator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithIDGenerator 替换请求ID生成（测试用）
func WithIDGenerator(f func() string) Option {
	return func(a *Actuator) {
		if f != nil {
			a.newID = f
		}
	}
}

// NewActuator 创建执行器
func NewActuator(link Link, opts ...Option) *Actuator {
	a := &Actuator{
		link:    link,
		tunes:   tunes.Default(),
		journal: journal.Nop{},
		events:  events.Nop{},
		metrics: nopMetrics{},
		log:     zap.NewNop(),
		timeout: engine.DefaultAwaitTimeout,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connected 链路是否可用
func (a *Actuator) Connected() bool {
	return a.link.IsConnected()
}

// Tunes 当前旋律库
func (a *Actuator) Tunes() *tunes.Library {
	return a.tunes
}

// PlayTone 播放单音
func (a *Actuator) PlayTone(ctx context.Context, frequency, durationMs int) (*Outcome, error) {
	params := map[string]any{"frequency": frequency, "duration_ms": durationMs}
	cmd, err := command.NewSimpleTone(frequency, durationMs)
	if err != nil {
		return a.reject(command.KindSimpleTone, err), err
	}
	return a.execute(ctx, cmd, params)
}

// PlayMelody 播放旋律
func (a *Actuator) PlayMelody(ctx context.Context, tempo int, notes []int) (*Outcome, error) {
	params := map[string]any{"tempo": tempo, "notes": notes}
	cmd, err := command.NewMelody(tempo, notes)
	if err != nil {
		return a.reject(command.KindMelody, err), err
	}
	return a.execute(ctx, cmd, params)
}

// PlayTune 播放旋律库中的命名旋律
func (a *Actuator) PlayTune(ctx context.Context, name string) (*Outcome, error) {
	cmd, err := a.tunes.Melody(name)
	if err != nil {
		return a.reject(command.KindMelody, err), err
	}
	params := map[string]any{"tune": name, "tempo": cmd.Tempo(), "notes": cmd.Notes()}
	return a.execute(ctx, cmd, params)
}

// Dispense 出粮
func (a *Actuator) Dispense(ctx context.Context, quantity int) (*Outcome, error) {
	params := map[string]any{"quantity": quantity}
	cmd, err := command.NewDispense(quantity)
	if err != nil {
		return a.reject(command.KindDispense, err), err
	}
	return a.execute(ctx, cmd, params)
}

func (a *Actuator) reject(kind string, err error) *Outcome {
	a.metrics.Outcome(kind, StatusRejected)
	return &Outcome{
		RequestID: a.newID(),
		Command:   kind,
		Status:    StatusRejected,
		Error:     err.Error(),
	}
}

func (a *Actuator) execute(ctx context.Context, cmd command.Command, params map[string]any) (*Outcome, error) {
	out := &Outcome{RequestID: a.newID(), Command: cmd.Kind()}
	log := a.log.With(zap.String("request_id", out.RequestID), zap.String("command", out.Command))

	if err := a.wait(ctx); err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		a.metrics.Outcome(out.Command, out.Status)
		return out, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	ex, err := a.link.Exchange(ctx, cmd, a.timeout)
	out.Duration = time.Since(start)
	out.DurationMs = out.Duration.Milliseconds()
	out.CorrelationID = ex.ID
	out.Acknowledged = ex.Acknowledged
	if ex.Code != 0 {
		out.Code = command.CodeName(ex.Code)
	}
	out.Status = classify(err)
	if err != nil {
		out.Error = err.Error()
		log.Warn("actuator request failed", zap.String("status", out.Status), zap.Error(err))
	} else {
		out.Value = ex.Result.Value
		log.Info("actuator request completed",
			zap.Uint8("id", ex.ID),
			zap.Duration("duration", out.Duration))
	}
	a.metrics.Outcome(out.Command, out.Status)

	// 日志与事件失败不影响请求结果
	if !errors.Is(err, engine.ErrNotConnected) {
		a.record(ctx, out, ex.Code, params, log)
		a.publish(ctx, out, ex.Code, log)
	}
	return out, err
}

func (a *Actuator) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if a.limiter.Allow() {
		return nil
	}
	a.metrics.RateLimited()
	return a.limiter.Wait(ctx)
}

func classify(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case command.IsDeviceError(err):
		return StatusDeviceError
	case errors.Is(err, engine.ErrTimeout):
		return StatusTimeout
	default:
		return StatusFailed
	}
}

func (a *Actuator) record(ctx context.Context, out *Outcome, code byte, params map[string]any, log *zap.Logger) {
	p, err := json.Marshal(params)
	if err != nil {
		log.Warn("marshal command params failed", zap.Error(err))
	}
	rec := &journal.CommandRecord{
		RequestID:     out.RequestID,
		Command:       out.Command,
		CorrelationID: int16(out.CorrelationID),
		Params:        string(p),
		Status:        out.Status,
		DurationMs:    out.DurationMs,
	}
	if code != 0 {
		c := int16(code)
		rec.ResponseCode = &c
	}
	if v, ok := out.Value.(uint16); ok {
		n := int64(v)
		rec.Value = &n
	}
	if out.Error != "" {
		msg := out.Error
		rec.Error = &msg
	}
	if err := a.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("record command journal failed", zap.Error(err))
	}
}

func (a *Actuator) publish(ctx context.Context, out *Outcome, code byte, log *zap.Logger) {
	e := events.Event{
		RequestID:     out.RequestID,
		Command:       out.Command,
		CorrelationID: out.CorrelationID,
		Status:        out.Status,
		Code:          code,
		Error:         out.Error,
		Duration:      out.Duration,
		At:            time.Now(),
	}
	if v, ok := out.Value.(uint16); ok {
		e.Value = strconv.Itoa(int(v))
	}
	if err := a.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		log.Warn("publish outcome event failed", zap.Error(err))
	}
}
