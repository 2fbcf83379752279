package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) Record(op, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[op+"/"+status]++
}

func (o *countingObserver) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

func TestNextID_WrapsAround(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < IDSpace; i++ {
		assert.Equal(t, byte(i), r.NextID())
	}
	assert.Equal(t, byte(0), r.NextID())
}

func TestResolve_TwoPhaseCompletion(t *testing.T) {
	r := NewRegistry()
	var got []Response
	r.Register(7, command.KindSimpleTone, func(resp Response) { got = append(got, resp) })

	require.True(t, r.Resolve(7, command.RespCommandReceived, nil))
	p, ok := r.Lookup(7)
	require.True(t, ok, "ack must keep the entry")
	assert.True(t, p.Acked)
	assert.Len(t, got, 1)

	require.True(t, r.Resolve(7, command.RespTaskComplete, nil))
	_, ok = r.Lookup(7)
	assert.False(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, command.RespTaskComplete, got[1].Code)

	// 终态之后的重复响应是孤儿
	assert.False(t, r.Resolve(7, command.RespTaskComplete, nil))
	assert.Len(t, got, 2)
}

func TestResolve_ErrorCodeIsTerminal(t *testing.T) {
	for _, code := range []byte{command.RespUnknownCommand, command.RespInvalidPayload, command.RespResourceBusy, command.RespTaskFailed} {
		r := NewRegistry()
		var codes []byte
		r.Register(1, command.KindMelody, func(resp Response) {
			codes = append(codes, resp.Code)
		})
		require.True(t, r.Resolve(1, command.RespCommandReceived, nil))
		require.True(t, r.Resolve(1, code, nil))
		assert.Equal(t, 0, r.Len(), command.CodeName(code))
		assert.Equal(t, []byte{command.RespCommandReceived, code}, codes, command.CodeName(code))

		// 错误码之后的响应是孤儿
		assert.False(t, r.Resolve(1, command.RespTaskComplete, nil))
		assert.Len(t, codes, 2)
	}
}

func TestResolve_Orphan(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(WithObserver(obs))
	assert.False(t, r.Resolve(42, command.RespTaskComplete, nil))
	assert.Equal(t, 1, obs.get("resolve/orphan"))
}

func TestResolve_HandlerRunsOutsideLock(t *testing.T) {
	r := NewRegistry()
	done := make(chan struct{})
	r.Register(1, command.KindDispense, func(Response) {
		// 处理函数中再次发命令不能死锁
		_, err := r.Reserve(command.KindDispense, nil)
		assert.NoError(t, err)
		close(done)
	})
	r.Resolve(1, command.RespTaskComplete, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler deadlocked")
	}
	assert.Equal(t, 1, r.Len())
}

func TestResolve_HandlerPanicIsContained(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(WithObserver(obs))
	r.Register(3, command.KindSimpleTone, func(Response) { panic("boom") })
	assert.NotPanics(t, func() { r.Resolve(3, command.RespTaskComplete, nil) })
	assert.Equal(t, 1, obs.get("handler/panic"))
	assert.Equal(t, 0, r.Len())
}

func TestRegister_OverwriteReplacesHandler(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(WithObserver(obs))
	first, second := 0, 0
	r.Register(5, command.KindSimpleTone, func(Response) { first++ })
	r.Register(5, command.KindMelody, func(Response) { second++ })

	r.Resolve(5, command.RespTaskComplete, nil)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, obs.get("register/overwrite"))
}

func TestReserve_SkipsBusyIDsAndSaturates(t *testing.T) {
	r := NewRegistry()
	r.Register(0, command.KindSimpleTone, nil)

	id, err := r.Reserve(command.KindSimpleTone, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(1), id, "id 0 is busy")

	for r.Len() < IDSpace {
		_, err := r.Reserve(command.KindSimpleTone, nil)
		require.NoError(t, err)
	}
	_, err = r.Reserve(command.KindSimpleTone, nil)
	assert.True(t, errors.Is(err, ErrSaturated), "got %v", err)

	// 释放一个后可再次分配
	r.Resolve(200, command.RespTaskComplete, nil)
	id, err = r.Reserve(command.KindSimpleTone, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(200), id)
}

func TestSweep_RemovesExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithNow(clock.Now))

	var expired []byte
	h := func(resp Response) {
		if errors.Is(resp.Err, ErrExpired) {
			expired = append(expired, resp.ID)
		}
	}
	r.Register(1, command.KindSimpleTone, h)
	clock.Advance(30 * time.Second)
	r.Register(2, command.KindSimpleTone, h)
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, r.Sweep(time.Minute))
	assert.Equal(t, []byte{1}, expired)
	_, ok := r.Lookup(2)
	assert.True(t, ok)
}

func TestSweep_Idempotent(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithNow(clock.Now))
	r.Register(9, command.KindDispense, nil)
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, r.Sweep(time.Minute))
	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			assert.Equal(t, 0, r.Sweep(time.Minute))
		}
	})
	assert.Equal(t, 0, r.Len())
}

func TestClear_NotifiesHandlers(t *testing.T) {
	r := NewRegistry()
	f := NewFuture()
	r.Register(4, command.KindMelody, f.Handle)

	assert.Equal(t, 1, r.Clear())
	resp, ok := f.Result()
	require.True(t, ok)
	assert.True(t, errors.Is(resp.Err, ErrCleared))
	assert.Equal(t, 0, r.Len())
}

func TestForget_DoesNotNotify(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(8, command.KindSimpleTone, func(Response) { called = true })
	assert.True(t, r.Forget(8))
	assert.False(t, r.Forget(8))
	assert.False(t, r.Resolve(8, command.RespTaskComplete, nil))
	assert.False(t, called)
}

func TestFuture_CompletesOnTerminalOnly(t *testing.T) {
	r := NewRegistry()
	f := NewFuture()
	r.Register(7, command.KindSimpleTone, f.Handle)

	r.Resolve(7, command.RespCommandReceived, nil)
	_, done := f.Result()
	assert.False(t, done)
	assert.True(t, f.Acknowledged())

	r.Resolve(7, command.RespTaskComplete, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(7), resp.ID)
	assert.Equal(t, command.RespTaskComplete, resp.Code)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentReserveAndResolve(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	ids := make(chan byte, 128)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 32; j++ {
				id, err := r.Reserve(command.KindSimpleTone, nil)
				if err == nil {
					ids <- id
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[byte]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		r.Resolve(id, command.RespTaskComplete, nil)
	}
	assert.Len(t, seen, 128)
	assert.Equal(t, 0, r.Len())
}
