package correlation

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future 单个命令的终态结果
// 作为 Handler 使用：非终态确认只做标记，终态响应或本地终止完成一次
type Future struct {
	done  chan struct{}
	once  sync.Once
	resp  Response
	acked atomic.Bool
}

// NewFuture 创建未完成的 Future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Handle 实现 Handler
func (f *Future) Handle(r Response) {
	if !r.Terminal() {
		f.acked.Store(true)
		return
	}
	f.once.Do(func() {
		f.resp = r
		close(f.done)
	})
}

// Done 完成时关闭
func (f *Future) Done() <-chan struct{} { return f.done }

// Acknowledged 是否收到过“已接收”确认
func (f *Future) Acknowledged() bool { return f.acked.Load() }

// Result 非阻塞读取结果
func (f *Future) Result() (Response, bool) {
	select {
	case <-f.done:
		return f.resp, true
	default:
		return Response{}, false
	}
}

// Wait 阻塞等待终态结果或 ctx 结束
func (f *Future) Wait(ctx context.Context) (Response, error) {
	select {
	case <-f.done:
		return f.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
