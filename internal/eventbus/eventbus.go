// Package eventbus dispatches typed in-process events. Handlers run
// synchronously on the publishing goroutine, in subscription order.
package eventbus

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

type subscription struct {
	id uint64
	fn func(context.Context, any)
}

// Bus routes events by their dynamic type. Handler lists are replaced on
// every change so dispatch never holds the lock while calling out.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	byType map[reflect.Type][]subscription
}

func New() *Bus { return &Bus{byType: make(map[reflect.Type][]subscription)} }

func (b *Bus) add(t reflect.Type, fn func(context.Context, any)) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.byType[t] = append(slices.Clip(b.byType[t]), subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { b.remove(t, id) }) }
}

func (b *Bus) remove(t reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(slices.Clone(b.byType[t]), func(s subscription) bool { return s.id == id })
	if len(subs) == 0 {
		delete(b.byType, t)
		return
	}
	b.byType[t] = subs
}

func (b *Bus) dispatch(ctx context.Context, e any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.byType[reflect.TypeOf(e)]
	b.mu.RUnlock()
	for _, s := range subs {
		s.fn(ctx, e)
	}
}

// On registers h with b. Calling unsubscribe more than once is harmless.
func On[T any](b *Bus, h Handler[T]) (unsubscribe func()) {
	return b.add(reflect.TypeFor[T](), func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Emit sends e through b.
func Emit[T any](ctx context.Context, b *Bus, e T) { b.dispatch(ctx, e) }

var global atomic.Pointer[Bus]

// Use installs b as the process bus. nil turns publishing off.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h with the process bus. Without one installed the
// subscription is a no-op.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	b := global.Load()
	if b == nil {
		return func() {}
	}
	return On(b, h)
}

// Publish sends e through the process bus, if any.
func Publish[T any](ctx context.Context, e T) { global.Load().dispatch(ctx, e) }
