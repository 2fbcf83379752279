package engine

import "errors"

var (
	// ErrNotConnected 未连接时发送或轮询
	ErrNotConnected = errors.New("engine not connected")
	// ErrTimeout 在期限内未收到终态响应
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrNilCommand 命令为空
	ErrNilCommand = errors.New("nil command")
)
