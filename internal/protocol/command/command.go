package command

import (
	"encoding/binary"
	"fmt"
)

const (
	KindSimpleTone = "simple_tone"
	KindMelody     = "melody"
	KindDispense   = "dispense"

	uint16Max = 0xFFFF
)

// Command 发往单片机的命令
// 实例构造后不可变，只负责自身的序列化与响应解释
type Command interface {
	// ID 命令ID（包头中的 code 字段）
	ID() byte
	// Kind 命令种类名称（日志/指标标签）
	Kind() string
	// Payload 参数序列化（大端）
	Payload() []byte
	// ParseResponse 解释该命令收到的响应
	ParseResponse(code byte, payload []byte) (Result, error)
}

// Status 成功响应的阶段
type Status int

const (
	// StatusAcknowledged 固件已接收，仍会有后续响应
	StatusAcknowledged Status = iota + 1
	// StatusCompleted 任务完成
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusAcknowledged:
		return "acknowledged"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result 成功解析的响应
type Result struct {
	Status Status
	// Value 命令相关的完成值（如出粮数量），可为 nil
	Value any
}

// Terminal 是否为终态结果
func (r Result) Terminal() bool { return r.Status == StatusCompleted }

// parseCommon 三个命令共用的响应码解释
// complete 在收到任务完成时生成完成值
func parseCommon(kind string, code byte, payload []byte, complete func([]byte) any) (Result, error) {
	switch code {
	case RespCommandReceived:
		return Result{Status: StatusAcknowledged}, nil
	case RespTaskComplete:
		var v any
		if complete != nil {
			v = complete(payload)
		}
		return Result{Status: StatusCompleted, Value: v}, nil
	case RespUnknownCommand:
		de := &DeviceError{Command: kind, Code: code}
		if len(payload) > 0 {
			de.Detail = fmt.Sprintf("device did not recognise command 0x%02X", payload[0])
		}
		return Result{}, de
	case RespInvalidPayload, RespResourceBusy, RespTaskFailed:
		return Result{}, &DeviceError{Command: kind, Code: code}
	default:
		return Result{}, &DeviceError{Command: kind, Code: code, Detail: "unexpected response code"}
	}
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func checkUint16(name string, v int) error {
	if v < 0 || v > uint16Max {
		return invalidParam("%s %d outside 0-%d", name, v, uint16Max)
	}
	return nil
}
