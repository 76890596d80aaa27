// Package countdown schedules a countdown with periodic ticks on a Looper.
//
// Ticks and the final callback run on the looper goroutine. Each tick
// reschedules itself against the time the tick started, so a slow callback
// makes the timer skip ticks instead of firing late bursts, and the finish
// callback still happens near the original deadline.
package countdown

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/looper"
	"github.com/fixkme/msgloop/util"
)

const msgTick = 1

type Callbacks struct {
	// OnTick receives the time left until the deadline.
	OnTick func(remaining time.Duration)
	// OnFinish runs once the deadline has passed.
	OnFinish func()
}

type Timer struct {
	looper   *looper.Looper
	handler  *looper.Handler
	duration int64
	interval int64
	cb       Callbacks

	// cbMu is held while callbacks run so that Cancel can wait them out.
	// cbOwner is the goroutine holding it.
	cbMu    sync.Mutex
	cbOwner atomic.Uint64

	mu        sync.Mutex
	cancelled bool
	running   bool
	stopTime  int64
	gen       int
}

// New prepares a timer counting down millisInFuture with a tick every
// interval. The timer does not run until Start.
func New(l *looper.Looper, millisInFuture, interval time.Duration, cb Callbacks) (*Timer, error) {
	if l == nil {
		return nil, errs.InvalidArgument.Printf("countdown needs a looper")
	}
	if interval <= 0 {
		return nil, errs.InvalidArgument.Printf("interval %v must be positive", interval)
	}
	t := &Timer{
		looper:   l,
		duration: millisInFuture.Milliseconds(),
		interval: interval.Milliseconds(),
		cb:       cb,
	}
	if t.interval == 0 {
		t.interval = 1
	}
	// 队列里的消息只能弱引用timer, 否则timer无法被回收
	wp := weak.Make(t)
	t.handler = looper.NewHandler(l, looper.WithHandleFunc(func(msg *looper.Message) {
		if msg.What != msgTick {
			return
		}
		if timer := wp.Value(); timer != nil {
			timer.tick(msg.Arg1)
		}
	}))
	return t, nil
}

// Start (re)starts the countdown from now. A non-positive duration finishes
// immediately on the calling goroutine without any tick.
func (t *Timer) Start() *Timer {
	t.mu.Lock()
	t.gen++
	t.cancelled = false
	t.handler.RemoveMessages(msgTick)
	if t.duration <= 0 {
		t.running = false
		t.mu.Unlock()
		t.finishNow()
		return t
	}
	now := t.looper.Clock().UptimeMillis()
	t.stopTime = now + t.duration
	t.running = t.handler.SendMessageAtTime(t.handler.ObtainMessageArgs(msgTick, t.gen, 0, nil), now)
	t.mu.Unlock()
	return t
}

func (t *Timer) finishNow() {
	release := t.enterCallbacks()
	defer release()
	if t.cb.OnFinish != nil {
		t.cb.OnFinish()
	}
}

// inCallback reports whether the caller is already inside one of our callbacks.
func (t *Timer) inCallback() bool {
	owner := t.cbOwner.Load()
	return owner != 0 && owner == util.GoroutineID()
}

// enterCallbacks takes cbMu unless the caller already holds it, so a
// callback may call Start or Cancel again.
func (t *Timer) enterCallbacks() (release func()) {
	if t.inCallback() {
		return func() {}
	}
	t.cbMu.Lock()
	t.cbOwner.Store(util.GoroutineID())
	return func() {
		t.cbOwner.Store(0)
		t.cbMu.Unlock()
	}
}

// Cancel stops the countdown. Once it returns no callback of this run will
// be invoked; a callback already running on another goroutine is waited for.
func (t *Timer) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.running = false
	t.handler.RemoveMessages(msgTick)
	t.mu.Unlock()

	// 在回调中调用时不能等自己
	if !t.inCallback() {
		t.cbMu.Lock()
		t.cbMu.Unlock()
	}
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) tick(gen int) {
	release := t.enterCallbacks()
	defer release()

	c := t.looper.Clock()
	t.mu.Lock()
	if t.cancelled || gen != t.gen {
		t.mu.Unlock()
		return
	}
	remaining := t.stopTime - c.UptimeMillis()
	if remaining <= 0 {
		t.running = false
	}
	t.mu.Unlock()

	switch {
	case remaining <= 0:
		if t.cb.OnFinish != nil {
			t.cb.OnFinish()
		}
	case remaining < t.interval:
		// 剩余不足一个间隔, 不再回调tick, 直接等到结束
		t.schedule(gen, remaining)
	default:
		start := c.UptimeMillis()
		if t.cb.OnTick != nil {
			t.cb.OnTick(time.Duration(remaining) * time.Millisecond)
		}
		// 扣掉回调耗时, 超过一个间隔的跳过
		delay := t.interval - (c.UptimeMillis() - start)
		for delay < 0 {
			delay += t.interval
		}
		t.schedule(gen, delay)
	}
}

func (t *Timer) schedule(gen int, delay int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || gen != t.gen {
		return
	}
	if !t.handler.SendMessageDelayed(t.handler.ObtainMessageArgs(msgTick, gen, 0, nil), delay) {
		t.running = false
	}
}
