package command

import (
	"encoding/binary"
	"fmt"
)

// DispenseTypeTag 出粮负载中数量字段的类型标记（uint16）
const DispenseTypeTag byte = 0x01

// Dispense 出粮命令
type Dispense struct {
	quantity uint16
}

// NewDispense 构造出粮命令，quantity 1-65535 份
func NewDispense(quantity int) (*Dispense, error) {
	if quantity < 1 || quantity > uint16Max {
		return nil, invalidParam("dispense quantity %d outside 1-%d", quantity, uint16Max)
	}
	return &Dispense{quantity: uint16(quantity)}, nil
}

func (c *Dispense) ID() byte     { return CmdDispense }
func (c *Dispense) Kind() string { return KindDispense }

// Quantity 请求份数
func (c *Dispense) Quantity() uint16 { return c.quantity }

// Payload type_tag:u8=0x01, quantity:u16
func (c *Dispense) Payload() []byte {
	return appendUint16([]byte{DispenseTypeTag}, c.quantity)
}

// ParseResponse 完成值为实际出粮份数（uint16）
// 完成包携带 2 字节时以固件上报为准，否则取请求值
func (c *Dispense) ParseResponse(code byte, payload []byte) (Result, error) {
	return parseCommon(KindDispense, code, payload, func(p []byte) any {
		if len(p) >= 2 {
			return binary.BigEndian.Uint16(p)
		}
		return c.quantity
	})
}

func (c *Dispense) String() string {
	return fmt.Sprintf("dispense{quantity=%d}", c.quantity)
}
