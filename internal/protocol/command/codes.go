package command

import "fmt"

// 命令ID（主机 -> 单片机）
const (
	CmdBuzzerSimple byte = 0x10
	CmdBuzzerMelody byte = 0x11
	CmdDispense     byte = 0x20
)

// 响应码（单片机 -> 主机）
const (
	RespCommandReceived byte = 0xA0 // 已接收（非终态）
	RespTaskComplete    byte = 0xA1 // 任务完成
	RespUnknownCommand  byte = 0xE0
	RespInvalidPayload  byte = 0xE1
	RespResourceBusy    byte = 0xE2
	RespTaskFailed      byte = 0xE3
)

// IsTerminal 该响应码之后是否不再有同一关联ID的响应
// 只有“已接收”是非终态，其余（含未知码）都视为终态
func IsTerminal(code byte) bool {
	return code != RespCommandReceived
}

// CodeName 响应码可读名称
func CodeName(code byte) string {
	switch code {
	case RespCommandReceived:
		return "command_received"
	case RespTaskComplete:
		return "task_complete"
	case RespUnknownCommand:
		return "unknown_command"
	case RespInvalidPayload:
		return "invalid_payload"
	case RespResourceBusy:
		return "resource_busy"
	case RespTaskFailed:
		return "task_failed"
	default:
		return fmt.Sprintf("unknown_0x%02X", code)
	}
}

// KindName 命令ID可读名称
func KindName(id byte) string {
	switch id {
	case CmdBuzzerSimple:
		return KindSimpleTone
	case CmdBuzzerMelody:
		return KindMelody
	case CmdDispense:
		return KindDispense
	default:
		return fmt.Sprintf("cmd_0x%02X", id)
	}
}
