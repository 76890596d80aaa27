package looper

import (
	"fmt"
	"strings"
	"time"

	"github.com/fixkme/msgloop/errs"
)

// Runnable is work posted straight onto a queue. Removal by callback compares
// Runnable values with ==, so implementations should use pointer receivers.
type Runnable interface {
	Run()
}

type funcRunnable struct {
	fn func()
}

func (r *funcRunnable) Run() { r.fn() }

// NewRunnable wraps fn. Each call returns a distinct identity usable with
// RemoveCallbacks and HasCallbacks.
func NewRunnable(fn func()) Runnable {
	return &funcRunnable{fn: fn}
}

type kind uint8

const (
	kindRouted kind = iota
	kindDirectCall
	kindBarrier
)

func (k kind) String() string {
	switch k {
	case kindRouted:
		return "routed"
	case kindDirectCall:
		return "call"
	case kindBarrier:
		return "barrier"
	}
	return "unknown"
}

// Message is one scheduled unit of work. A message is either routed (What,
// Arg1, Arg2, Obj and Data delivered to its target Handler) or a direct call
// of a Runnable. Barriers are queue-internal messages without a target.
//
// A message belongs to its queue from the moment it is sent until it has been
// dispatched or removed; afterwards it returns to the recycle pool, so a
// handler must not keep the *Message past its dispatch call.
type Message struct {
	What int
	Arg1 int
	Arg2 int
	Obj  any
	Data map[string]any

	when     int64
	target   *Handler
	callback Runnable
	kind     kind
	async    bool
	inUse    bool
	inPool   bool
	next     *Message
}

// When is the absolute uptime, in milliseconds, at which the message is due.
func (m *Message) When() int64 { return m.when }

func (m *Message) Target() *Handler { return m.target }

func (m *Message) SetTarget(h *Handler) { m.target = h }

func (m *Message) Callback() Runnable { return m.callback }

func (m *Message) IsAsynchronous() bool { return m.async }

// SetAsynchronous marks the message as exempt from synchronization barriers.
func (m *Message) SetAsynchronous(async bool) { m.async = async }

func (m *Message) IsBarrier() bool { return m.kind == kindBarrier }

// SendToTarget sends the message to its target handler.
func (m *Message) SendToTarget() bool {
	if m.target == nil {
		panic(errs.InvalidArgument.Printf("message has no target"))
	}
	return m.target.SendMessage(m)
}

// CopyFrom copies the payload fields of o. The Data map is copied shallowly.
func (m *Message) CopyFrom(o *Message) {
	m.What = o.What
	m.Arg1 = o.Arg1
	m.Arg2 = o.Arg2
	m.Obj = o.Obj
	if o.Data != nil {
		m.Data = make(map[string]any, len(o.Data))
		for k, v := range o.Data {
			m.Data[k] = v
		}
	} else {
		m.Data = nil
	}
}

func (m *Message) String() string {
	return m.describe(0, false)
}

func (m *Message) describe(now int64, relative bool) string {
	b := strings.Builder{}
	b.WriteString("{ when=")
	if relative {
		b.WriteString(formatDelta(m.when - now))
	} else {
		fmt.Fprintf(&b, "%d", m.when)
	}
	switch m.kind {
	case kindBarrier:
		fmt.Fprintf(&b, " barrier=%d", m.Arg1)
	case kindDirectCall:
		fmt.Fprintf(&b, " callback=%T", m.callback)
	default:
		fmt.Fprintf(&b, " what=%d", m.What)
	}
	if m.Arg1 != 0 && m.kind != kindBarrier {
		fmt.Fprintf(&b, " arg1=%d", m.Arg1)
	}
	if m.Arg2 != 0 {
		fmt.Fprintf(&b, " arg2=%d", m.Arg2)
	}
	if m.Obj != nil {
		fmt.Fprintf(&b, " obj=%v", m.Obj)
	}
	if m.async {
		b.WriteString(" async")
	}
	if m.target != nil {
		fmt.Fprintf(&b, " target=%s", m.target.ID())
	}
	b.WriteString(" }")
	return b.String()
}

func formatDelta(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if ms > 0 {
		return "+" + d.String()
	}
	return d.String()
}
