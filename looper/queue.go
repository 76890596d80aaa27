package looper

import (
	"math"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fixkme/msgloop/clock"
	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/mlog"
)

// IdleHandler is called when the queue runs out of due messages. Returning
// false unregisters it.
type IdleHandler interface {
	QueueIdle() bool
}

type idleFunc struct {
	fn func() bool
}

func (f *idleFunc) QueueIdle() bool { return f.fn() }

// NewIdleHandler wraps fn; keep the returned value to remove it later.
func NewIdleHandler(fn func() bool) IdleHandler {
	return &idleFunc{fn: fn}
}

// wait values longer than this are treated as "until woken"
const maxWaitMillis = int64(math.MaxInt64 / int64(time.Millisecond))

// MessageQueue holds the pending messages of one Looper, sorted by due time.
// Messages with the same due time keep their insertion order, except that
// front-of-queue sends (when == 0) go ahead of everything.
type MessageQueue struct {
	mu               sync.Mutex
	clock            clock.Clock
	messages         *Message
	idleHandlers     []IdleHandler
	pendingIdle      []IdleHandler
	quitAllowed      bool
	quitting         bool
	blocked          bool
	nextBarrierToken int
	wake             chan struct{}
}

func newMessageQueue(c clock.Clock, quitAllowed bool) *MessageQueue {
	return &MessageQueue{
		clock:       c,
		quitAllowed: quitAllowed,
		wake:        make(chan struct{}, 1),
	}
}

func (q *MessageQueue) wakeLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// enqueue inserts msg for target at uptime when, or ahead of everything when
// front is set. It returns false, and recycles msg, once the queue is quitting.
func (q *MessageQueue) enqueue(msg *Message, target *Handler, async bool, when int64, front bool) bool {
	if target == nil {
		panic(errs.InvalidArgument.Printf("message must have a target"))
	}
	q.mu.Lock()
	if msg.inUse {
		q.mu.Unlock()
		panic(errs.MessageInUse.Printf("message %v is already queued", msg))
	}
	if msg.inPool {
		q.mu.Unlock()
		panic(errs.MessageInUse.Printf("message was recycled"))
	}
	msg.target = target
	if async {
		msg.async = true
	}
	if q.quitting {
		q.mu.Unlock()
		mlog.Warnf("looper: drop %v, handler %s targets a quitting looper", msg, target.ID())
		msg.recycleUnchecked()
		return false
	}

	if front {
		when = 0
	}
	msg.inUse = true
	msg.when = when
	p := q.messages
	var needWake bool
	if p == nil || front || when < p.when {
		// 新的队头
		msg.next = p
		q.messages = msg
		needWake = q.blocked
	} else {
		// 只有队头是屏障且新消息是最早的异步消息时才需要唤醒
		needWake = q.blocked && p.kind == kindBarrier && msg.async
		var prev *Message
		for {
			prev = p
			p = p.next
			if p == nil || when < p.when {
				break
			}
			if needWake && p.async {
				needWake = false
			}
		}
		msg.next = p
		prev.next = msg
	}
	if needWake {
		q.wakeLocked()
	}
	q.mu.Unlock()
	return true
}

// peekDueLocked returns the next deliverable message and its predecessor when
// it is due at now. Otherwise it returns the milliseconds to wait, -1 meaning
// nothing is deliverable until the queue changes.
func (q *MessageQueue) peekDueLocked(now int64) (prev, msg *Message, wait int64) {
	msg = q.messages
	if msg != nil && msg.kind == kindBarrier {
		// 屏障挡住同步消息, 找屏障之后第一条异步消息
		for {
			prev = msg
			msg = msg.next
			if msg == nil || msg.async {
				break
			}
		}
	}
	if msg == nil {
		return nil, nil, -1
	}
	if now < msg.when {
		return nil, nil, msg.when - now
	}
	return prev, msg, 0
}

func (q *MessageQueue) unlinkLocked(prev, msg *Message) {
	if prev != nil {
		prev.next = msg.next
	} else {
		q.messages = msg.next
	}
	msg.next = nil
}

// takeDueLocked unlinks and returns the message due at now, if any.
func (q *MessageQueue) takeDueLocked(now int64) (*Message, int64) {
	prev, msg, wait := q.peekDueLocked(now)
	if msg == nil {
		return nil, wait
	}
	q.unlinkLocked(prev, msg)
	return msg, 0
}

// next blocks until a message is due and returns it, or returns nil once the
// queue has quit and holds nothing more to deliver.
func (q *MessageQueue) next() *Message {
	pendingIdleCount := -1
	var wait int64
	for {
		if wait != 0 {
			q.await(wait)
		}

		q.mu.Lock()
		now := q.clock.UptimeMillis()
		msg, w := q.takeDueLocked(now)
		if msg != nil {
			q.blocked = false
			q.mu.Unlock()
			return msg
		}
		if q.quitting && q.messages == nil {
			q.blocked = false
			q.mu.Unlock()
			return nil
		}

		// 每次next只跑一轮idle handler
		if pendingIdleCount < 0 && (q.messages == nil || now < q.messages.when) {
			pendingIdleCount = len(q.idleHandlers)
		}
		if pendingIdleCount <= 0 {
			q.blocked = true
			wait = w
			q.mu.Unlock()
			continue
		}
		pending := append(q.pendingIdle[:0], q.idleHandlers...)
		q.mu.Unlock()

		for i, idler := range pending {
			pending[i] = nil
			if !runIdle(idler) {
				q.RemoveIdleHandler(idler)
			}
		}
		q.mu.Lock()
		q.pendingIdle = pending[:0]
		q.mu.Unlock()

		pendingIdleCount = 0
		// idle handler可能投递了新消息, 不等待直接再检查一次
		wait = 0
	}
}

func runIdle(idler IdleHandler) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Errorf("looper: idle handler %T panic: %v\n%s", idler, r, debug.Stack())
			keep = false
		}
	}()
	return idler.QueueIdle()
}

func (q *MessageQueue) await(wait int64) {
	if wait < 0 || wait > maxWaitMillis {
		<-q.wake
		return
	}
	t := time.NewTimer(time.Duration(wait) * time.Millisecond)
	select {
	case <-q.wake:
	case <-t.C:
	}
	t.Stop()
}

func (q *MessageQueue) quit(safe bool) error {
	if !q.quitAllowed {
		return errs.QuitNotAllowed
	}
	q.forceQuit(safe)
	return nil
}

func (q *MessageQueue) forceQuit(safe bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.quitting {
		if !safe {
			q.removeIfLocked(func(*Message) bool { return true })
		}
		q.wakeLocked()
		return
	}
	q.quitting = true
	if safe {
		// 没有线程会再来移除屏障了
		q.removeIfLocked(func(m *Message) bool { return m.kind == kindBarrier })
	} else {
		q.removeIfLocked(func(*Message) bool { return true })
	}
	q.wakeLocked()
}

// PostSyncBarrier plants a barrier at the current uptime and returns its
// token. Synchronous messages due after the barrier are held back until
// RemoveSyncBarrier is called; asynchronous ones pass. It returns -1 when
// the queue is quitting.
func (q *MessageQueue) PostSyncBarrier() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.quitting {
		return -1
	}
	when := q.clock.UptimeMillis()
	token := q.nextBarrierToken
	q.nextBarrierToken++

	msg := Obtain()
	msg.inUse = true
	msg.kind = kindBarrier
	msg.when = when
	msg.Arg1 = token

	var prev *Message
	p := q.messages
	for p != nil && p.when <= when {
		prev = p
		p = p.next
	}
	msg.next = p
	if prev != nil {
		prev.next = msg
	} else {
		q.messages = msg
	}
	return token
}

// RemoveSyncBarrier removes the barrier posted with token.
func (q *MessageQueue) RemoveSyncBarrier(token int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var prev *Message
	p := q.messages
	for p != nil && !(p.kind == kindBarrier && p.Arg1 == token) {
		prev = p
		p = p.next
	}
	if p == nil {
		return errs.BarrierNotFound.Printf("token=%d", token)
	}
	var needWake bool
	if prev != nil {
		prev.next = p.next
	} else {
		q.messages = p.next
		needWake = q.messages == nil || q.messages.kind != kindBarrier
	}
	p.recycleUnchecked()
	if needWake && !q.quitting {
		q.wakeLocked()
	}
	return nil
}

// removeIfLocked drops every message matching fn and recycles it.
func (q *MessageQueue) removeIfLocked(fn func(*Message) bool) int {
	n := 0
	var prev *Message
	p := q.messages
	for p != nil {
		next := p.next
		if fn(p) {
			if prev != nil {
				prev.next = next
			} else {
				q.messages = next
			}
			p.recycleUnchecked()
			n++
		} else {
			prev = p
		}
		p = next
	}
	return n
}

func (q *MessageQueue) anyLocked(fn func(*Message) bool) bool {
	for p := q.messages; p != nil; p = p.next {
		if fn(p) {
			return true
		}
	}
	return false
}

func matchMessage(h *Handler, what int, object any) func(*Message) bool {
	return func(p *Message) bool {
		return p.target == h && p.kind == kindRouted && p.What == what &&
			(object == nil || sameObject(p.Obj, object))
	}
}

func matchCallback(h *Handler, r Runnable, object any) func(*Message) bool {
	return func(p *Message) bool {
		return p.target == h && p.kind == kindDirectCall && sameObject(p.callback, r) &&
			(object == nil || sameObject(p.Obj, object))
	}
}

func matchAny(h *Handler, object any) func(*Message) bool {
	return func(p *Message) bool {
		return p.target == h && (object == nil || sameObject(p.Obj, object))
	}
}

func (q *MessageQueue) remove(h *Handler, fn func(*Message) bool) (int, error) {
	if h == nil {
		return 0, errs.InvalidArgument.Printf("nil handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeIfLocked(fn), nil
}

// RemoveMessages removes routed messages of h with the given What whose Obj
// equals object. A nil object matches any Obj.
func (q *MessageQueue) RemoveMessages(h *Handler, what int, object any) (int, error) {
	return q.remove(h, matchMessage(h, what, object))
}

// RemoveCallbacks removes posts of r by h, optionally filtered by token.
func (q *MessageQueue) RemoveCallbacks(h *Handler, r Runnable, object any) (int, error) {
	if r == nil {
		return 0, nil
	}
	return q.remove(h, matchCallback(h, r, object))
}

// RemoveCallbacksAndMessages removes everything of h whose Obj equals
// object; a nil object removes all of h's messages.
func (q *MessageQueue) RemoveCallbacksAndMessages(h *Handler, object any) (int, error) {
	return q.remove(h, matchAny(h, object))
}

func (q *MessageQueue) HasMessages(h *Handler, what int, object any) bool {
	if h == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.anyLocked(matchMessage(h, what, object))
}

func (q *MessageQueue) HasCallbacks(h *Handler, r Runnable, object any) bool {
	if h == nil || r == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.anyLocked(matchCallback(h, r, object))
}

func (q *MessageQueue) AddIdleHandler(idler IdleHandler) error {
	if idler == nil {
		return errs.InvalidArgument.Printf("nil idle handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idleHandlers = append(q.idleHandlers, idler)
	return nil
}

func (q *MessageQueue) RemoveIdleHandler(idler IdleHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, h := range q.idleHandlers {
		if sameObject(h, idler) {
			q.idleHandlers = append(q.idleHandlers[:i], q.idleHandlers[i+1:]...)
			return
		}
	}
}

// IsIdle reports whether nothing is due right now.
func (q *MessageQueue) IsIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, msg, _ := q.peekDueLocked(q.clock.UptimeMillis())
	return msg == nil
}

// IsPolling reports whether the looper is blocked waiting for work.
func (q *MessageQueue) IsPolling() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.blocked && !q.quitting
}

func (q *MessageQueue) IsQuitting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quitting
}

// Len counts queued messages, barriers included.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for p := q.messages; p != nil; p = p.next {
		n++
	}
	return n
}

// sameObject compares identities without panicking on uncomparable values;
// maps, slices and funcs compare by their underlying pointer.
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	switch ta.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		if ta.Kind() == reflect.Slice && va.Len() != vb.Len() {
			return false
		}
		return va.Pointer() == vb.Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}
