package correlation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"go.uber.org/zap"
)

// IDSpace 关联ID空间大小（单字节）
const IDSpace = 256

var (
	// ErrSaturated 256 个关联ID全部在途
	ErrSaturated = errors.New("correlation id space saturated")
	// ErrExpired 等待超时被清扫
	ErrExpired = errors.New("pending command expired")
	// ErrCleared 连接断开时清空
	ErrCleared = errors.New("pending command cleared")
)

// Response 投递给处理函数的响应
// Err 非空时表示本地终止（过期/清空），Code 与 Payload 无意义
type Response struct {
	ID      byte
	Code    byte
	Payload []byte
	Err     error
}

// Terminal 该响应之后是否不再有后续响应
func (r Response) Terminal() bool {
	return r.Err != nil || command.IsTerminal(r.Code)
}

// Handler 响应处理函数，总在注册表锁外调用
type Handler func(Response)

// Pending 在途命令
type Pending struct {
	ID       byte
	Kind     string
	IssuedAt time.Time
	// Acked 是否已收到“已接收”确认
	Acked bool

	handler Handler
}

// Observer 注册表事件观察者
type Observer interface {
	Record(operation, status string)
}

// ObserverFunc 函数适配
type ObserverFunc func(operation, status string)

func (f ObserverFunc) Record(operation, status string) {
	if f != nil {
		f(operation, status)
	}
}

// NopObserver 空观察者
func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

// Registry 关联ID -> 在途命令
// 发送方与轮询方可并发访问，互斥锁是唯一同步点
type Registry struct {
	mu      sync.Mutex
	entries map[byte]*Pending
	next    byte

	now      func() time.Time
	log      *zap.Logger
	observer Observer
}

// Option 注册表选项
type Option func(*Registry)

// WithNow 替换时钟（测试用）
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewRegistry 创建注册表
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[byte]*Pending),
		now:      time.Now,
		log:      zap.NewNop(),
		observer: NopObserver(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextID 循环计数器，255 之后回到 0
func (r *Registry) NextID() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Registry) nextLocked() byte {
	id := r.next
	r.next++ // byte 溢出自然回绕
	return id
}

// Register 登记在途命令；ID 已被占用时直接覆盖（旧处理函数不再被调用）
func (r *Registry) Register(id byte, kind string, h Handler) {
	r.mu.Lock()
	old, exists := r.entries[id]
	r.entries[id] = &Pending{ID: id, Kind: kind, IssuedAt: r.now(), handler: h}
	r.mu.Unlock()

	if exists {
		r.log.Warn("correlation id reused while still pending, previous command orphaned",
			zap.Uint8("id", id),
			zap.String("previous_kind", old.Kind),
			zap.String("kind", kind))
		r.observer.Record("register", "overwrite")
		return
	}
	r.observer.Record("register", "ok")
}

// Reserve 分配下一个空闲ID并登记
// 从循环计数器当前位置起跳过在途ID，全部占用时返回 ErrSaturated
func (r *Registry) Reserve(kind string, h Handler) (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < IDSpace; i++ {
		id := r.nextLocked()
		if _, busy := r.entries[id]; busy {
			continue
		}
		r.entries[id] = &Pending{ID: id, Kind: kind, IssuedAt: r.now(), handler: h}
		r.observer.Record("register", "ok")
		return id, nil
	}
	r.observer.Record("register", "saturated")
	return 0, fmt.Errorf("%w: %d commands in flight", ErrSaturated, len(r.entries))
}

// Resolve 将响应投递给对应的在途命令
// 非终态确认保留条目；终态响应先移除条目再在锁外调用处理函数
// 无匹配条目时记为孤儿响应并返回 false
func (r *Registry) Resolve(id, code byte, payload []byte) bool {
	r.mu.Lock()
	p, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("response without pending command",
			zap.Uint8("id", id),
			zap.String("code", command.CodeName(code)))
		r.observer.Record("resolve", "orphan")
		return false
	}
	terminal := command.IsTerminal(code)
	if terminal {
		delete(r.entries, id)
	} else {
		p.Acked = true
	}
	h := p.handler
	kind := p.Kind
	r.mu.Unlock()

	r.log.Debug("response dispatched",
		zap.Uint8("id", id),
		zap.String("kind", kind),
		zap.String("code", command.CodeName(code)),
		zap.Bool("terminal", terminal))
	if terminal {
		r.observer.Record("resolve", "terminal")
	} else {
		r.observer.Record("resolve", "ack")
	}
	r.invoke(h, Response{ID: id, Code: code, Payload: payload})
	return true
}

// Forget 移除条目且不通知处理函数
func (r *Registry) Forget(id byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.observer.Record("forget", "ok")
	return true
}

// Sweep 清除发出时间早于 now-timeout 的条目，返回清除数量
// 被清除条目的处理函数收到 ErrExpired；对已在线路上的数据无影响
func (r *Registry) Sweep(timeout time.Duration) int {
	cutoff := r.now().Add(-timeout)

	r.mu.Lock()
	var expired []*Pending
	for id, p := range r.entries {
		if p.IssuedAt.Before(cutoff) {
			expired = append(expired, p)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	for _, p := range expired {
		r.log.Warn("pending command timed out",
			zap.Uint8("id", p.ID),
			zap.String("kind", p.Kind),
			zap.Bool("acked", p.Acked),
			zap.Time("issued_at", p.IssuedAt))
		r.observer.Record("sweep", "expired")
		r.invoke(p.handler, Response{ID: p.ID, Err: ErrExpired})
	}
	return len(expired)
}

// Clear 清空全部条目，处理函数收到 ErrCleared
func (r *Registry) Clear() int {
	r.mu.Lock()
	all := make([]*Pending, 0, len(r.entries))
	for _, p := range r.entries {
		all = append(all, p)
	}
	r.entries = make(map[byte]*Pending)
	r.mu.Unlock()

	for _, p := range all {
		r.invoke(p.handler, Response{ID: p.ID, Err: ErrCleared})
	}
	if len(all) > 0 {
		r.log.Info("pending commands cleared", zap.Int("count", len(all)))
	}
	return len(all)
}

// Lookup 返回在途条目的快照
func (r *Registry) Lookup(id byte) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[id]
	if !ok {
		return Pending{}, false
	}
	snap := *p
	snap.handler = nil
	return snap, true
}

// Len 在途数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// invoke 调用处理函数，处理函数的 panic 只记录日志
func (r *Registry) invoke(h Handler, resp Response) {
	if h == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("response handler panicked",
				zap.Uint8("id", resp.ID),
				zap.Any("panic", rec))
			r.observer.Record("handler", "panic")
		}
	}()
	h(resp)
}
