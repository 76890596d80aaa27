package looper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/fixkme/msgloop/clock"
	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/util"
)

// Callback sees routed messages before the handler's own HandleFunc.
// Returning true marks the message as handled.
type Callback interface {
	HandleMessage(msg *Message) bool
}

type CallbackFunc func(msg *Message) bool

func (f CallbackFunc) HandleMessage(msg *Message) bool { return f(msg) }

// Handler sends messages to one Looper's queue and receives the routed ones
// addressed to it. Handlers are safe for concurrent use.
type Handler struct {
	id         string
	looper     *Looper
	queue      *MessageQueue
	callback   Callback
	handleFunc func(msg *Message)
	async      bool
}

type HandlerOption func(*Handler)

func WithCallback(cb Callback) HandlerOption {
	return func(h *Handler) { h.callback = cb }
}

func WithHandleFunc(fn func(msg *Message)) HandlerOption {
	return func(h *Handler) { h.handleFunc = fn }
}

// WithAsync makes every message sent through the handler asynchronous.
func WithAsync(async bool) HandlerOption {
	return func(h *Handler) { h.async = async }
}

// NewHandler binds a handler to l. It panics if l is nil.
func NewHandler(l *Looper, opts ...HandlerOption) *Handler {
	if l == nil {
		panic(errs.InvalidArgument.Printf("handler needs a looper"))
	}
	h := &Handler{
		id:     xid.New().String(),
		looper: l,
		queue:  l.queue,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ID() string { return h.id }

func (h *Handler) Looper() *Looper { return h.looper }

// DispatchMessage delivers msg on the calling goroutine.
func (h *Handler) DispatchMessage(msg *Message) {
	switch msg.kind {
	case kindDirectCall:
		msg.callback.Run()
	case kindRouted:
		h.handleMessage(msg)
	}
}

func (h *Handler) handleMessage(msg *Message) {
	if h.callback != nil && h.callback.HandleMessage(msg) {
		return
	}
	if h.handleFunc != nil {
		h.handleFunc(msg)
	}
}

// MessageName names msg for logs: the callback type for posts, the hex What otherwise.
func (h *Handler) MessageName(msg *Message) string {
	if msg.kind == kindDirectCall {
		return fmt.Sprintf("%T", msg.callback)
	}
	return fmt.Sprintf("0x%x", msg.What)
}

func (h *Handler) ObtainMessage(what int) *Message {
	m := Obtain()
	m.target = h
	m.What = what
	return m
}

func (h *Handler) ObtainMessageObj(what int, obj any) *Message {
	m := h.ObtainMessage(what)
	m.Obj = obj
	return m
}

func (h *Handler) ObtainMessageArgs(what, arg1, arg2 int, obj any) *Message {
	m := h.ObtainMessage(what)
	m.Arg1 = arg1
	m.Arg2 = arg2
	m.Obj = obj
	return m
}

func (h *Handler) postMessage(r Runnable, token any) *Message {
	if r == nil {
		panic(errs.InvalidArgument.Printf("nil runnable"))
	}
	m := ObtainWithCallback(h, r)
	m.Obj = token
	return m
}

func (h *Handler) Post(r Runnable) bool {
	return h.SendMessageDelayed(h.postMessage(r, nil), 0)
}

// PostFunc posts fn. The post can only be removed through RemoveCallbacksAndMessages.
func (h *Handler) PostFunc(fn func()) bool {
	return h.Post(NewRunnable(fn))
}

func (h *Handler) PostAtTime(r Runnable, uptimeMillis int64) bool {
	return h.SendMessageAtTime(h.postMessage(r, nil), uptimeMillis)
}

func (h *Handler) PostAtTimeWithToken(r Runnable, token any, uptimeMillis int64) bool {
	return h.SendMessageAtTime(h.postMessage(r, token), uptimeMillis)
}

func (h *Handler) PostDelayed(r Runnable, delay time.Duration) bool {
	return h.SendMessageDelayed(h.postMessage(r, nil), clock.Millis(delay))
}

func (h *Handler) PostAtFrontOfQueue(r Runnable) bool {
	return h.SendMessageAtFrontOfQueue(h.postMessage(r, nil))
}

func (h *Handler) SendMessage(msg *Message) bool {
	return h.SendMessageDelayed(msg, 0)
}

func (h *Handler) SendEmptyMessage(what int) bool {
	return h.SendEmptyMessageDelayed(what, 0)
}

func (h *Handler) SendEmptyMessageDelayed(what int, delayMillis int64) bool {
	return h.SendMessageDelayed(h.ObtainMessage(what), delayMillis)
}

func (h *Handler) SendEmptyMessageAtTime(what int, uptimeMillis int64) bool {
	return h.SendMessageAtTime(h.ObtainMessage(what), uptimeMillis)
}

// SendMessageDelayed queues msg at now+delayMillis. Negative delays count as
// zero. A false result means the looper is quitting and msg was dropped.
func (h *Handler) SendMessageDelayed(msg *Message, delayMillis int64) bool {
	if delayMillis < 0 {
		delayMillis = 0
	}
	return h.SendMessageAtTime(msg, util.SaturatingAdd(h.looper.clock.UptimeMillis(), delayMillis))
}

func (h *Handler) SendMessageAtTime(msg *Message, uptimeMillis int64) bool {
	return h.enqueue(msg, uptimeMillis, false)
}

// SendMessageAtFrontOfQueue puts msg ahead of everything already queued.
func (h *Handler) SendMessageAtFrontOfQueue(msg *Message) bool {
	return h.enqueue(msg, 0, true)
}

func (h *Handler) enqueue(msg *Message, when int64, front bool) bool {
	if msg == nil {
		panic(errs.InvalidArgument.Printf("nil message"))
	}
	return h.queue.enqueue(msg, h, h.async, when, front)
}

func (h *Handler) RemoveCallbacks(r Runnable) {
	h.queue.RemoveCallbacks(h, r, nil)
}

func (h *Handler) RemoveCallbacksWithToken(r Runnable, token any) {
	h.queue.RemoveCallbacks(h, r, token)
}

func (h *Handler) RemoveMessages(what int) {
	h.queue.RemoveMessages(h, what, nil)
}

func (h *Handler) RemoveMessagesWithObject(what int, obj any) {
	h.queue.RemoveMessages(h, what, obj)
}

// RemoveCallbacksAndMessages removes every post and message of h carrying
// token as Obj; a nil token removes all of them.
func (h *Handler) RemoveCallbacksAndMessages(token any) {
	h.queue.RemoveCallbacksAndMessages(h, token)
}

func (h *Handler) HasMessages(what int) bool {
	return h.queue.HasMessages(h, what, nil)
}

func (h *Handler) HasMessagesWithObject(what int, obj any) bool {
	return h.queue.HasMessages(h, what, obj)
}

func (h *Handler) HasCallbacks(r Runnable) bool {
	return h.queue.HasCallbacks(h, r, nil)
}

type blockingRunnable struct {
	task Runnable
	done chan struct{}
}

// done stays open when task panics.
func (b *blockingRunnable) Run() {
	b.task.Run()
	close(b.done)
}

// RunSync runs r on the looper and waits for it to finish. Called from the
// looper's own goroutine it runs r inline. A zero timeout waits forever.
//
// When the wait times out RunSync returns false, but r stays queued and may
// still run later. It also returns false if the looper refuses the post or
// stops before running it.
func (h *Handler) RunSync(r Runnable, timeout time.Duration) (bool, error) {
	if r == nil {
		return false, errs.InvalidArgument.Printf("nil runnable")
	}
	if timeout < 0 {
		return false, errs.InvalidArgument.Printf("negative timeout %v", timeout)
	}
	if h.looper.IsCurrentThread() {
		r.Run()
		return true, nil
	}
	br := &blockingRunnable{task: r, done: make(chan struct{})}
	if !h.Post(br) {
		return false, nil
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-br.done:
		return true, nil
	case <-expired:
		return false, nil
	case <-h.looper.done:
		return h.finished(br), nil
	}
}

// RunSyncContext is RunSync bounded by ctx instead of a timeout.
func (h *Handler) RunSyncContext(ctx context.Context, r Runnable) (bool, error) {
	if r == nil {
		return false, errs.InvalidArgument.Printf("nil runnable")
	}
	if h.looper.IsCurrentThread() {
		r.Run()
		return true, nil
	}
	br := &blockingRunnable{task: r, done: make(chan struct{})}
	if !h.Post(br) {
		return false, nil
	}
	select {
	case <-br.done:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-h.looper.done:
		return h.finished(br), nil
	}
}

func (h *Handler) finished(br *blockingRunnable) bool {
	select {
	case <-br.done:
		return true
	default:
		return false
	}
}

// Dump describes the handler and every message pending on its looper.
func (h *Handler) Dump(prefix string) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s%s @ %d\n", prefix, h, h.looper.clock.UptimeMillis())
	b.WriteString(h.looper.Dump(prefix + "  "))
	return b.String()
}

func (h *Handler) String() string {
	return fmt.Sprintf("Handler (%s) {%s}", h.looper.name, h.id)
}
