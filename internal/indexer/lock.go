package indexer

import "sync/atomic"

// buildLock provides non-blocking single-flight semantics for builds: one
// build or update per manager at a time.
type buildLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking. Returns true
// if the lock was successfully acquired.
func (l *buildLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Must only be called by the goroutine that
// successfully acquired it.
func (l *buildLock) Release() {
	l.state.Store(0)
}
