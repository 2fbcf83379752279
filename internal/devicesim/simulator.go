// Package devicesim 在内存中模拟单片机固件，实现 transport.Transport
// 用于无硬件时的联调（serial.driver: sim）和引擎测试
package devicesim

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/frame"
	"github.com/eifionsleith/Kittybyte-IoT/internal/transport"
	"go.uber.org/zap"
)

// PortionDuration 出粮一份所需时间（舵机往返各 1 秒）
const PortionDuration = 2 * time.Second

type resource int

const (
	resBuzzer resource = iota
	resDispenser
)

type task struct {
	id       byte
	res      resource
	due      time.Time
	code     byte
	payload  []byte
	dropped  bool
	quantity uint16
}

// Simulator 固件模拟器
// 蜂鸣器与出粮器各自同一时间只能执行一个任务，忙时回复 0xE2
type Simulator struct {
	mu     sync.Mutex
	open   bool
	parser *frame.Parser
	out    []byte
	tasks  []*task
	busy   map[resource]bool

	// speed 任务时长倍率；0 表示任务在确认后立即完成
	speed float64
	now   func() time.Time
	log   *zap.Logger

	noise          []byte
	corruptNext    bool
	dropCompletion bool
	failNext       bool
	silent         bool

	received []frame.Packet
}

// Option 模拟器选项
type Option func(*Simulator)

// WithSpeed 任务时长倍率（1 为真实时长，0 为立即完成）
func WithSpeed(f float64) Option {
	return func(s *Simulator) {
		if f >= 0 {
			s.speed = f
		}
	}
}

// WithNow 替换时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// New 创建模拟器（未打开）
func New(opts ...Option) *Simulator {
	s := &Simulator{
		busy: make(map[resource]bool),
		now:  time.Now,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = frame.NewParser(frame.WithLogger(s.log.Named("parser")))
	return s
}

var _ transport.Transport = (*Simulator)(nil)

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		s.open = true
		s.log.Info("device simulator opened", zap.Float64("speed", s.speed))
	}
	return nil
}

// Close 关闭；进行中的任务一并丢弃（相当于单片机复位）
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.out = nil
	s.tasks = nil
	s.busy = make(map[resource]bool)
	s.parser.Reset()
	return nil
}

func (s *Simulator) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, transport.ErrNotOpen
	}
	s.releaseDueLocked()
	return len(s.out), nil
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, transport.ErrNotOpen
	}
	s.releaseDueLocked()
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// Write 接收主机字节；每个完整的包立即按固件逻辑处理
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, transport.ErrNotOpen
	}
	for _, pkt := range s.parser.FeedBytes(p) {
		s.received = append(s.received, *pkt)
		if s.silent {
			continue
		}
		s.handleLocked(pkt)
	}
	return len(p), nil
}

func (s *Simulator) ResetInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return transport.ErrNotOpen
	}
	s.out = nil
	return nil
}

// InjectNoise 在下一个响应之前插入噪声字节
func (s *Simulator) InjectNoise(b ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = append(s.noise, b...)
}

// CorruptNextResponse 翻转下一个响应的校验字节
func (s *Simulator) CorruptNextResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptNext = true
}

// DropCompletions 开启后任务完成时不再发送 0xA1/0xE3
func (s *Simulator) DropCompletions(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCompletion = drop
}

// FailNextTask 下一个被接受的任务以 0xE3 结束
func (s *Simulator) FailNextTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SetSilent 开启后不回复任何命令（模拟固件卡死）
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Emit 直接向主机发送一个包（用于构造孤儿响应等场景）
func (s *Simulator) Emit(id, code byte, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(id, code, payload)
}

// Received 已收到的主机命令
func (s *Simulator) Received() []frame.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame.Packet, len(s.received))
	copy(out, s.received)
	return out
}

// Busy 蜂鸣器或出粮器是否有进行中的任务
func (s *Simulator) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseDueLocked()
	return s.busy[resBuzzer] || s.busy[resDispenser]
}

func (s *Simulator) handleLocked(pkt *frame.Packet) {
	switch pkt.Code {
	case command.CmdBuzzerSimple:
		s.handleTone(pkt)
	case command.CmdBuzzerMelody:
		s.handleMelody(pkt)
	case command.CmdDispense:
		s.handleDispense(pkt)
	default:
		s.log.Debug("simulator received unknown command", zap.Uint8("cmd", pkt.Code))
		s.emitLocked(pkt.CorrelationID, command.RespUnknownCommand, []byte{pkt.Code})
	}
}

func (s *Simulator) handleTone(pkt *frame.Packet) {
	p := pkt.Payload
	if len(p) != 4 {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	freq := binary.BigEndian.Uint16(p[0:2])
	dur := binary.BigEndian.Uint16(p[2:4])
	if freq == 0 || dur == 0 {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	s.startLocked(pkt.CorrelationID, resBuzzer, time.Duration(dur)*time.Millisecond, 0)
}

func (s *Simulator) handleMelody(pkt *frame.Packet) {
	p := pkt.Payload
	if len(p) < 3 {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	tempo := binary.BigEndian.Uint16(p[0:2])
	count := int(p[2])
	if len(p) != 3+2*count || count == 0 || tempo == 0 {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	perNote := time.Minute / time.Duration(tempo)
	s.startLocked(pkt.CorrelationID, resBuzzer, perNote*time.Duration(count), 0)
}

func (s *Simulator) handleDispense(pkt *frame.Packet) {
	p := pkt.Payload
	if len(p) != 3 || p[0] != command.DispenseTypeTag {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	qty := binary.BigEndian.Uint16(p[1:3])
	if qty == 0 {
		s.emitLocked(pkt.CorrelationID, command.RespInvalidPayload, nil)
		return
	}
	s.startLocked(pkt.CorrelationID, resDispenser, PortionDuration*time.Duration(qty), qty)
}

// startLocked 资源空闲时接受任务：先回复已接收，再按时长排期完成
func (s *Simulator) startLocked(id byte, res resource, d time.Duration, qty uint16) {
	s.releaseDueLocked()
	if s.busy[res] {
		s.emitLocked(id, command.RespResourceBusy, nil)
		return
	}
	s.emitLocked(id, command.RespCommandReceived, nil)

	t := &task{id: id, res: res, code: command.RespTaskComplete, quantity: qty, dropped: s.dropCompletion}
	if qty > 0 {
		t.payload = binary.BigEndian.AppendUint16(nil, qty)
	}
	if s.failNext {
		t.code = command.RespTaskFailed
		t.payload = nil
		s.failNext = false
	}
	t.due = s.now().Add(time.Duration(float64(d) * s.speed))
	s.busy[res] = true
	s.tasks = append(s.tasks, t)
	s.releaseDueLocked()
}

// releaseDueLocked 到期任务发送完成响应并释放资源
func (s *Simulator) releaseDueLocked() {
	if len(s.tasks) == 0 {
		return
	}
	now := s.now()
	sort.SliceStable(s.tasks, func(i, j int) bool { return s.tasks[i].due.Before(s.tasks[j].due) })
	remaining := s.tasks[:0]
	for _, t := range s.tasks {
		if t.due.After(now) {
			remaining = append(remaining, t)
			continue
		}
		s.busy[t.res] = false
		if t.dropped {
			s.log.Debug("simulator dropped completion", zap.Uint8("id", t.id))
			continue
		}
		s.emitLocked(t.id, t.code, t.payload)
	}
	s.tasks = remaining
}

func (s *Simulator) emitLocked(id, code byte, payload []byte) {
	if len(s.noise) > 0 {
		s.out = append(s.out, s.noise...)
		s.noise = nil
	}
	b, err := frame.Encode(id, code, payload)
	if err != nil {
		s.log.Error("simulator failed to encode response", zap.Error(err))
		return
	}
	if s.corruptNext {
		b[len(b)-1] ^= 0xFF
		s.corruptNext = false
	}
	s.out = append(s.out, b...)
}
