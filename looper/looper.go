// Package looper runs a message loop on a single goroutine.
//
// A Looper owns one MessageQueue. Any goroutine may send messages to it
// through a Handler; only the goroutine inside Loop delivers them, in due
// time order, one at a time. A slow handler therefore delays everything
// behind it on the same looper.
package looper

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/fixkme/msgloop/clock"
	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/mlog"
	"github.com/fixkme/msgloop/util"
)

type options struct {
	name           string
	clock          clock.Clock
	quitAllowed    bool
	slowDispatchMs int64
	slowDeliveryMs int64
}

type Option func(*options)

func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces the uptime source, chiefly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithQuitAllowed(false) makes Quit and QuitSafely fail, as for a main looper
// that must live as long as the process.
func WithQuitAllowed(allowed bool) Option {
	return func(o *options) { o.quitAllowed = allowed }
}

// WithSlowDispatchThreshold logs a warning when handling one message takes longer than d.
func WithSlowDispatchThreshold(d time.Duration) Option {
	return func(o *options) { o.slowDispatchMs = clock.Millis(d) }
}

// WithSlowDeliveryThreshold logs a warning when a message is delivered more
// than d after it was due.
func WithSlowDeliveryThreshold(d time.Duration) Option {
	return func(o *options) { o.slowDeliveryMs = clock.Millis(d) }
}

type Looper struct {
	id      string
	name    string
	clock   clock.Clock
	queue   *MessageQueue
	owner   atomic.Uint64
	running atomic.Bool
	done    chan struct{}
	endOnce sync.Once

	slowDispatchMs int64
	slowDeliveryMs int64
	slowLimiter    *rate.Limiter

	logMu   sync.RWMutex
	logging func(line string)
}

func New(opts ...Option) *Looper {
	o := options{
		clock:       clock.System(),
		quitAllowed: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	id := xid.New().String()
	if o.name == "" {
		o.name = "looper-" + id
	}
	return &Looper{
		id:             id,
		name:           o.name,
		clock:          o.clock,
		queue:          newMessageQueue(o.clock, o.quitAllowed),
		done:           make(chan struct{}),
		slowDispatchMs: o.slowDispatchMs,
		slowDeliveryMs: o.slowDeliveryMs,
		slowLimiter:    rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (l *Looper) Name() string { return l.name }

func (l *Looper) Queue() *MessageQueue { return l.queue }

func (l *Looper) Clock() clock.Clock { return l.clock }

// Done is closed once Loop has returned.
func (l *Looper) Done() <-chan struct{} { return l.done }

// IsCurrentThread reports whether the caller is the goroutine running Loop.
func (l *Looper) IsCurrentThread() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == util.GoroutineID()
}

// SetMessageLogging installs fn to receive a line before and after every
// dispatch. A nil fn turns logging off.
func (l *Looper) SetMessageLogging(fn func(line string)) {
	l.logMu.Lock()
	l.logging = fn
	l.logMu.Unlock()
}

func (l *Looper) printer() func(string) {
	l.logMu.RLock()
	defer l.logMu.RUnlock()
	return l.logging
}

// Loop delivers messages on the calling goroutine until the looper quits.
// A panic raised by handler code stops the loop: the queue is discarded and
// Loop returns an errs.DispatchPanic error describing it.
func (l *Looper) Loop() error {
	if !l.running.CompareAndSwap(false, true) {
		return errs.LoopRunning.Printf("looper %s", l.name)
	}
	l.owner.Store(util.GoroutineID())
	defer func() {
		l.owner.Store(0)
		l.running.Store(false)
		l.endOnce.Do(func() { close(l.done) })
	}()

	for {
		msg := l.queue.next()
		if msg == nil {
			return nil
		}
		if err := l.dispatch(msg); err != nil {
			l.queue.forceQuit(false)
			return err
		}
	}
}

// RunUntilIdle delivers, on the calling goroutine, every message that is due
// now and returns how many were delivered. It never blocks waiting for future
// messages and must not be used while Loop is running.
func (l *Looper) RunUntilIdle() (int, error) {
	if !l.running.CompareAndSwap(false, true) {
		return 0, errs.LoopRunning.Printf("looper %s", l.name)
	}
	l.owner.Store(util.GoroutineID())
	defer func() {
		l.owner.Store(0)
		l.running.Store(false)
	}()

	n := 0
	for {
		q := l.queue
		q.mu.Lock()
		msg, _ := q.takeDueLocked(q.clock.UptimeMillis())
		q.mu.Unlock()
		if msg == nil {
			return n, nil
		}
		n++
		if err := l.dispatch(msg); err != nil {
			q.forceQuit(false)
			return n, err
		}
	}
}

func (l *Looper) dispatch(msg *Message) (err error) {
	logging := l.printer()
	if logging != nil {
		logging(fmt.Sprintf(">>>>> Dispatching to %s %s", l.targetName(msg), msg))
	}
	slow := l.slowDispatchMs > 0 || l.slowDeliveryMs > 0
	var start int64
	if slow {
		start = l.clock.UptimeMillis()
	}
	when := msg.when
	desc := ""
	if logging != nil || slow {
		desc = l.targetName(msg)
	}

	defer func() {
		if r := recover(); r != nil {
			e := errs.DispatchPanic
			if cause, ok := r.(error); ok {
				e = e.Wrap(cause)
			}
			err = e.Printf("looper %s, %s: %v\n%s", l.name, l.targetName(msg), r, debug.Stack())
		}
		msg.recycleUnchecked()
	}()

	switch msg.kind {
	case kindDirectCall:
		msg.callback.Run()
	case kindRouted:
		msg.target.handleMessage(msg)
	}

	if slow {
		end := l.clock.UptimeMillis()
		if l.slowDeliveryMs > 0 && when > 0 && start-when > l.slowDeliveryMs {
			l.warnSlow("delivery", start-when, desc)
		}
		if l.slowDispatchMs > 0 && end-start > l.slowDispatchMs {
			l.warnSlow("dispatch", end-start, desc)
		}
	}
	if logging != nil {
		logging("<<<<< Finished to " + desc)
	}
	return nil
}

func (l *Looper) warnSlow(what string, took int64, desc string) {
	if !l.slowLimiter.Allow() {
		return
	}
	mlog.Warnf("looper %s: slow %s took %dms %s", l.name, what, took, desc)
}

func (l *Looper) targetName(msg *Message) string {
	if msg.target == nil {
		return "<barrier>"
	}
	return msg.target.ID() + " " + msg.target.MessageName(msg)
}

// Quit discards every pending message and ends Loop as soon as the current
// dispatch returns. Later sends fail.
func (l *Looper) Quit() error {
	return l.queue.quit(false)
}

// QuitSafely refuses new messages but lets Loop deliver everything already
// queued, future messages included, before it returns. Barriers are dropped.
func (l *Looper) QuitSafely() error {
	return l.queue.quit(true)
}

func (l *Looper) String() string {
	return fmt.Sprintf("Looper (%s, goroutine %d) {%s}", l.name, l.owner.Load(), l.id)
}
