package lock

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// SpinLock 自旋锁, 零值可用, 只适合极短的临界区
type SpinLock struct {
	state atomic.Uint32
}

const maxBackoff = 16

func (sl *SpinLock) Lock() {
	backoff := 1
	for !sl.state.CompareAndSwap(0, 1) {
		// 指数退避
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff <<= 1
		}
	}
}

func (sl *SpinLock) TryLock() bool {
	return sl.state.CompareAndSwap(0, 1)
}

func (sl *SpinLock) Unlock() {
	sl.state.Store(0)
}

func NewSpinLock() sync.Locker {
	return new(SpinLock)
}
