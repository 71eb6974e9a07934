// Package syncutil holds locking helpers.
package syncutil

import "context"

// ContextMutex is a mutex whose waiters can give up when their context is
// cancelled. The zero value is not usable; call NewContextMutex.
type ContextMutex struct {
	ch chan struct{}
}

// NewContextMutex creates an unlocked mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{} // Start unlocked.
	return m
}

// Lock acquires the mutex, respecting context cancellation.
// On success, returns an unlock function that the caller MUST call.
// On context cancellation, returns nil and the context error.
func (m *ContextMutex) Lock(ctx context.Context) (func(), error) {
	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free.
func (m *ContextMutex) TryLock() (func(), bool) {
	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, true
	default:
		return nil, false
	}
}
