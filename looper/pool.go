package looper

import (
	"github.com/fixkme/msgloop/ds/staticlist"
	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/lock"
)

const maxPoolSize = 50

var pool = struct {
	mu   lock.SpinLock
	free *staticlist.Stack[*Message]
}{
	free: staticlist.NewStack[*Message](maxPoolSize),
}

// Obtain returns a blank message, reusing a recycled one when available.
func Obtain() *Message {
	pool.mu.Lock()
	m, ok := pool.free.Pop()
	pool.mu.Unlock()
	if ok {
		m.inPool = false
		return m
	}
	return new(Message)
}

// ObtainCopy returns a new message with the same payload, target and callback as orig.
func ObtainCopy(orig *Message) *Message {
	m := Obtain()
	m.CopyFrom(orig)
	m.target = orig.target
	m.callback = orig.callback
	m.kind = orig.kind
	return m
}

// ObtainWithCallback returns a direct-call message for h.
func ObtainWithCallback(h *Handler, r Runnable) *Message {
	m := Obtain()
	m.target = h
	m.callback = r
	m.kind = kindDirectCall
	return m
}

// Recycle hands the message back to the pool. Recycling a message that is
// still queued, or one already back in the pool, fails with errs.MessageInUse.
func (m *Message) Recycle() error {
	if m.inUse {
		return errs.MessageInUse.Printf("message %v is still queued", m)
	}
	if m.inPool {
		return errs.MessageInUse.Printf("message already recycled")
	}
	m.recycleUnchecked()
	return nil
}

func (m *Message) recycleUnchecked() {
	if m.inPool {
		return
	}
	// 池满时丢弃，但仍标记为已回收
	*m = Message{inPool: true}
	pool.mu.Lock()
	pool.free.Push(m)
	pool.mu.Unlock()
}

func pooledMessages() int {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.free.Len()
}
