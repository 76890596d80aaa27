package looper

import (
	"errors"
	"testing"

	"github.com/fixkme/msgloop/errs"
)

func TestPoolBounded(t *testing.T) {
	for i := 0; i < maxPoolSize*2; i++ {
		if err := new(Message).Recycle(); err != nil {
			t.Fatal(err)
		}
	}
	if n := pooledMessages(); n != maxPoolSize {
		t.Fatalf("pool holds %d, want %d", n, maxPoolSize)
	}
	m := Obtain()
	if m.What != 0 || m.target != nil || m.inUse || m.next != nil {
		t.Fatalf("obtained message not blank: %+v", m)
	}
	if n := pooledMessages(); n != maxPoolSize-1 {
		t.Fatalf("pool holds %d after Obtain", n)
	}
}

func TestRecycleQueuedMessage(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	msg := h.ObtainMessageArgs(1, 2, 3, "x")
	h.SendMessageDelayed(msg, 100)
	if err := msg.Recycle(); !errors.Is(err, errs.MessageInUse) {
		t.Fatalf("Recycle err = %v, want MessageInUse", err)
	}
	h.RemoveMessages(1)
	if l.Queue().Len() != 0 {
		t.Fatal("message not removed")
	}
}

func TestRecycleTwice(t *testing.T) {
	m := Obtain()
	if err := m.Recycle(); err != nil {
		t.Fatal(err)
	}
	if err := m.Recycle(); !errors.Is(err, errs.MessageInUse) {
		t.Fatalf("second Recycle err = %v, want MessageInUse", err)
	}
	a, b := Obtain(), Obtain()
	if a == b {
		t.Fatal("pool handed out the same message twice")
	}
}

func TestRecycleAfterRejectedSend(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	if err := l.Quit(); err != nil {
		t.Fatal(err)
	}
	m := h.ObtainMessage(1)
	if h.SendMessage(m) {
		t.Fatal("quitting looper accepted a message")
	}
	if err := m.Recycle(); !errors.Is(err, errs.MessageInUse) {
		t.Fatalf("Recycle after rejected send err = %v", err)
	}
	a, b := Obtain(), Obtain()
	if a == b {
		t.Fatal("pool handed out the same message twice")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("sending a recycled message did not panic")
		}
	}()
	l2, _ := newManualLooper(0)
	m2 := Obtain()
	m2.Recycle()
	NewHandler(l2).SendMessage(m2)
}

func TestRecycleAfterDispatch(t *testing.T) {
	l, _ := newManualLooper(0)
	var seen *Message
	h := NewHandler(l, WithHandleFunc(func(msg *Message) { seen = msg }))
	h.SendEmptyMessage(1)
	mustRun(t, l)
	if seen == nil {
		t.Fatal("not dispatched")
	}
	if err := seen.Recycle(); !errors.Is(err, errs.MessageInUse) {
		t.Fatalf("Recycle after dispatch err = %v", err)
	}
}

func TestObtainCopy(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	orig := h.ObtainMessageArgs(1, 2, 3, "x")
	orig.Data = map[string]any{"k": "v"}
	cp := ObtainCopy(orig)
	if cp.Target() != h || cp.What != 1 || cp.Arg1 != 2 || cp.Arg2 != 3 || cp.Obj != "x" {
		t.Fatalf("copy mismatch: %v", cp)
	}
	cp.Data["k"] = "changed"
	if orig.Data["k"] != "v" {
		t.Fatal("Data map shared between copies")
	}
}

func TestSendToTarget(t *testing.T) {
	l, _ := newManualLooper(0)
	got := 0
	h := NewHandler(l, WithHandleFunc(func(msg *Message) { got = msg.What }))
	if !h.ObtainMessage(9).SendToTarget() {
		t.Fatal("SendToTarget refused")
	}
	mustRun(t, l)
	if got != 9 {
		t.Fatalf("got %d", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("SendToTarget without target did not panic")
		}
	}()
	Obtain().SendToTarget()
}
