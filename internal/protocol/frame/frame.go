package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// 线路格式（主机与单片机双向一致）：
// [START=0xAA][correlation_id:u8][code:u8][payload_len:u8][payload][checksum:u8]
// 下行时 code 为命令ID，上行时 code 为响应码
const (
	StartByte      byte = 0xAA
	BufferCapacity      = 64
	HeaderSize          = 4 // start + correlation id + code + length
	TrailerSize         = 1 // checksum
	MaxPayloadSize      = BufferCapacity - HeaderSize - TrailerSize
)

var (
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrOversizedLength  = errors.New("declared length exceeds max payload size")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Packet 一个已通过校验的完整数据包
type Packet struct {
	CorrelationID byte
	Code          byte
	Payload       []byte
	Checksum      byte
}

// Valid 按协议不变式重新计算校验和
func (p *Packet) Valid() bool {
	return p.Checksum == checksumOf(p.CorrelationID, p.Code, p.Payload)
}

// Bytes 重新编码为线路字节（用于日志与模拟器回放）
func (p *Packet) Bytes() []byte {
	b, _ := Encode(p.CorrelationID, p.Code, p.Payload)
	return b
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet{id=%d code=0x%02X len=%d payload=%s}",
		p.CorrelationID, p.Code, len(p.Payload), hex.EncodeToString(p.Payload))
}

// Checksum 计算异或校验和
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

func checksumOf(id, code byte, payload []byte) byte {
	sum := StartByte ^ id ^ code ^ byte(len(payload))
	return sum ^ Checksum(payload)
}

// Encode 构造一帧：头部 + 负载 + 校验和
// 校验和覆盖校验字节之前的全部字节（包含起始字节）
func Encode(correlationID, code byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, 0, HeaderSize+len(payload)+TrailerSize)
	buf = append(buf, StartByte, correlationID, code, byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, Checksum(buf))
	return buf, nil
}
