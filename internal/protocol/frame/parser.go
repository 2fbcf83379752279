package frame

import (
	"encoding/hex"
	"errors"

	"go.uber.org/zap"
)

// ErrNoise 包外的非起始字节
var ErrNoise = errors.New("noise outside packet")

// State 解析状态机状态
type State int

const (
	StateAwaitingStart State = iota
	StateReadingCorrelationID
	StateReadingResponseCode
	StateReadingLength
	StateReadingPayload
	StateValidatingChecksum
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateReadingCorrelationID:
		return "reading_correlation_id"
	case StateReadingResponseCode:
		return "reading_response_code"
	case StateReadingLength:
		return "reading_length"
	case StateReadingPayload:
		return "reading_payload"
	case StateValidatingChecksum:
		return "validating_checksum"
	default:
		return "unknown"
	}
}

// Observer 解析事件观察者（指标上报用）
type Observer interface {
	OnPacket(p *Packet)
	OnDiscard(reason error, dropped int)
}

type nopObserver struct{}

func (nopObserver) OnPacket(*Packet)     {}
func (nopObserver) OnDiscard(error, int) {}

// Parser 逐字节解析的状态机
// 仅由驱动传输读取的单个 goroutine 持有，内部不加锁
// 候选包被丢弃时（长度非法或校验失败）不回退，从下一个起始字节重新同步：
// 紧贴在真实包前的噪声 0xAA 会连同该包一起被丢弃，之后的包不受影响
type Parser struct {
	state    State
	scratch  [BufferCapacity]byte
	n        int // scratch 中已记录的字节数
	length   int
	received int
	skipped  int // 连续丢弃的噪声字节

	log      *zap.Logger
	observer Observer
}

// ParserOption 解析器选项
type ParserOption func(*Parser)

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.log = l
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(o Observer) ParserOption {
	return func(p *Parser) {
		if o != nil {
			p.observer = o
		}
	}
}

// NewParser 创建解析器，初始状态为 AwaitingStart
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{log: zap.NewNop(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State 当前状态
func (p *Parser) State() State { return p.state }

// Reset 丢弃未完成的候选包并回到 AwaitingStart
func (p *Parser) Reset() {
	if p.n > 0 {
		p.log.Debug("parser reset with partial packet",
			zap.String("state", p.state.String()),
			zap.String("raw", hex.EncodeToString(p.scratch[:p.n])))
	}
	p.flushNoise()
	p.restart()
}

func (p *Parser) restart() {
	p.state = StateAwaitingStart
	p.n = 0
	p.length = 0
	p.received = 0
}

// Feed 输入一个字节；收到完整且校验通过的包时返回 (packet, true)
func (p *Parser) Feed(b byte) (*Packet, bool) {
	switch p.state {
	case StateAwaitingStart:
		if b != StartByte {
			p.skipped++
			return nil, false
		}
		p.flushNoise()
		p.n = 0
		p.record(b)
		p.state = StateReadingCorrelationID

	case StateReadingCorrelationID:
		p.record(b)
		p.state = StateReadingResponseCode

	case StateReadingResponseCode:
		p.record(b)
		p.state = StateReadingLength

	case StateReadingLength:
		p.record(b)
		if int(b) > MaxPayloadSize {
			// 长度非法：立即复位，后续字节不作为负载消费
			p.log.Warn("declared payload length exceeds limit, resyncing",
				zap.Int("length", int(b)),
				zap.Int("max", MaxPayloadSize),
				zap.String("raw", hex.EncodeToString(p.scratch[:p.n])))
			p.observer.OnDiscard(ErrOversizedLength, p.n)
			p.restart()
			return nil, false
		}
		p.length = int(b)
		p.received = 0
		if p.length == 0 {
			p.state = StateValidatingChecksum
		} else {
			p.state = StateReadingPayload
		}

	case StateReadingPayload:
		p.record(b)
		p.received++
		if p.received == p.length {
			p.state = StateValidatingChecksum
		}

	case StateValidatingChecksum:
		want := Checksum(p.scratch[:p.n])
		if b != want {
			p.log.Warn("checksum mismatch, discarding packet",
				zap.String("got", hexByte(b)),
				zap.String("want", hexByte(want)),
				zap.String("raw", hex.EncodeToString(p.scratch[:p.n])))
			p.observer.OnDiscard(ErrChecksumMismatch, p.n+1)
			p.restart()
			return nil, false
		}
		payload := make([]byte, p.length)
		copy(payload, p.scratch[HeaderSize:HeaderSize+p.length])
		pkt := &Packet{
			CorrelationID: p.scratch[1],
			Code:          p.scratch[2],
			Payload:       payload,
			Checksum:      b,
		}
		p.restart()
		p.observer.OnPacket(pkt)
		return pkt, true
	}
	return nil, false
}

// FeedBytes 批量输入，返回其中解析出的全部包
func (p *Parser) FeedBytes(data []byte) []*Packet {
	var out []*Packet
	for _, b := range data {
		if pkt, ok := p.Feed(b); ok {
			out = append(out, pkt)
		}
	}
	return out
}

func (p *Parser) record(b byte) {
	// 长度已在 ReadingLength 校验，scratch 不会越界
	p.scratch[p.n] = b
	p.n++
}

// flushNoise 把累计的噪声字节写入日志后清零
func (p *Parser) flushNoise() {
	if p.skipped == 0 {
		return
	}
	p.log.Debug("discarded bytes before start marker", zap.Int("count", p.skipped))
	p.observer.OnDiscard(ErrNoise, p.skipped)
	p.skipped = 0
}

func hexByte(b byte) string {
	return hex.EncodeToString([]byte{b})
}
