// Package syncx provides executors, futures, and helpers for running critical sections under a lock.
package syncx

import "sync"

// LockFunc runs fn while holding mux.
// The lock is released even if fn panics.
func LockFunc(mux sync.Locker, fn func()) {
	mux.Lock()
	defer mux.Unlock()
	fn()
}

// LockFuncT is [LockFunc] for a critical section that produces a value.
func LockFuncT[T any](mux sync.Locker, fn func() T) T {
	mux.Lock()
	defer mux.Unlock()
	return fn()
}

// LockFuncTErr is [LockFunc] for a critical section that may fail.
func LockFuncTErr[T any](mux sync.Locker, fn func() (T, error)) (T, error) {
	mux.Lock()
	defer mux.Unlock()
	return fn()
}

// RLocker is satisfied by [sync.RWMutex].
type RLocker interface {
	RLock()
	RUnlock()
}

// RLockFunc runs fn while holding a read lock on mux.
func RLockFunc(mux RLocker, fn func()) {
	mux.RLock()
	defer mux.RUnlock()
	fn()
}

// RLockFuncT is [RLockFunc] for a read that produces a value.
func RLockFuncT[T any](mux RLocker, fn func() T) T {
	mux.RLock()
	defer mux.RUnlock()
	return fn()
}
