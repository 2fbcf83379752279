package command

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter   = errors.New("invalid command parameter")
	ErrUnknownCommand     = errors.New("device reported unknown command")
	ErrInvalidPayload     = errors.New("device reported invalid payload")
	ErrResourceBusy       = errors.New("device resource busy")
	ErrTaskFailed         = errors.New("device task failed")
	ErrUnexpectedResponse = errors.New("unexpected response code")
)

// DeviceError 固件上报的失败结果
type DeviceError struct {
	// Command 发出的命令种类
	Command string
	// Code 固件响应码
	Code byte
	// Detail 附加信息（如未知命令回显的命令ID）
	Detail string
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s: device responded %s (0x%02X)", e.Command, CodeName(e.Code), e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is 使 errors.Is 能按响应码匹配哨兵错误
func (e *DeviceError) Is(target error) bool {
	return target == sentinelFor(e.Code)
}

func sentinelFor(code byte) error {
	switch code {
	case RespUnknownCommand:
		return ErrUnknownCommand
	case RespInvalidPayload:
		return ErrInvalidPayload
	case RespResourceBusy:
		return ErrResourceBusy
	case RespTaskFailed:
		return ErrTaskFailed
	default:
		return ErrUnexpectedResponse
	}
}

// IsDeviceError 判断是否为固件上报的错误
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

func invalidParam(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
