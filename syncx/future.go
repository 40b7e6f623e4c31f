package syncx

import (
	"context"
	"sync"
	"time"
)

// Future is a value that is resolved asynchronously at a later time.
// Once resolved, the value is cached for every call to Await.
type Future[T any] interface {
	// Resolve sets the value of the [Future] so it can be resolved by consumers.
	// Only the first call to Resolve will set the result. Subsequent calls do nothing.
	Resolve(T)
	// Await blocks until the value is made available with [Future.Resolve], or until the timeout elapses if specified.
	// If the timeout limit is reached, then the [Future] type's zero value is returned.
	// If no timeout is given, then the function will wait indefinitely.
	Await(...time.Duration) T
	// AwaitContext blocks until the value is resolved or the context is done.
	// The context's error is returned if it finished first.
	AwaitContext(ctx context.Context) (T, error)
	// Done returns a channel that is closed once the value is resolved.
	Done() <-chan struct{}
}

func NewFuture[T any]() Future[T] {
	return &future[T]{
		done: make(chan struct{}),
	}
}

// Resolved returns a [Future] that is already resolved with val.
func Resolved[T any](val T) Future[T] {
	f := NewFuture[T]()
	f.Resolve(val)
	return f
}

type future[T any] struct {
	resolve sync.Once
	done    chan struct{}
	val     T
}

func (f *future[T]) Resolve(val T) {
	f.resolve.Do(func() {
		f.val = val
		close(f.done)
	})
}

func (f *future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *future[T]) Await(timeout ...time.Duration) T {
	var (
		ctx    = context.Background()
		cancel = func() {}
	)
	if len(timeout) > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout[0])
	}
	defer cancel()
	val, _ := f.AwaitContext(ctx)
	return val
}

func (f *future[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
