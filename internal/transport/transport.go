package transport

import "errors"

// ErrNotOpen 传输未打开
var ErrNotOpen = errors.New("transport not open")

// Transport 引擎使用的字节通道
// Available/Read 必须是非阻塞的，以便由轮询循环驱动
type Transport interface {
	// Open 打开底层设备
	Open() error
	// Close 关闭底层设备，可重复调用
	Close() error
	// Available 当前可立即读取的字节数
	Available() (int, error)
	// Read 读取已到达的字节，没有数据时返回 0, nil
	Read(p []byte) (int, error)
	// Write 写出全部字节
	Write(p []byte) (int, error)
	// ResetInput 丢弃输入缓冲中的陈旧字节
	ResetInput() error
}
