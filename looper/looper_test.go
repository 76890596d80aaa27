package looper

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fixkme/msgloop/errs"
)

// startLoop runs l on a new goroutine and returns the channel carrying Loop's result.
func startLoop(t *testing.T, l *Looper) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- l.Loop() }()
	// 等待loop协程进入运行
	ready := make(chan struct{})
	h := NewHandler(l)
	h.PostFunc(func() { close(ready) })
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("looper did not start")
	}
	return result
}

func waitLoop(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return")
	}
	return nil
}

func TestLooperWakesForEarlierMessage(t *testing.T) {
	l := New(WithName("wake"))
	got := make(chan int, 4)
	h := NewHandler(l, WithHandleFunc(func(msg *Message) { got <- msg.What }))
	result := startLoop(t, l)

	h.SendEmptyMessageDelayed(1, 10_000)
	time.Sleep(20 * time.Millisecond)
	if !l.Queue().IsPolling() {
		t.Fatal("looper should be blocked on the delayed message")
	}
	go h.SendEmptyMessage(2)
	select {
	case what := <-got:
		if what != 2 {
			t.Fatalf("delivered %d first, want 2", what)
		}
	case <-time.After(time.Second):
		t.Fatal("earlier message did not wake the looper")
	}

	if err := l.Quit(); err != nil {
		t.Fatal(err)
	}
	if err := waitLoop(t, result); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	select {
	case what := <-got:
		t.Fatalf("message %d delivered after quit", what)
	default:
	}
}

func TestLooperDelayedDeliveryNotEarly(t *testing.T) {
	l := New()
	fired := make(chan time.Time, 1)
	h := NewHandler(l)
	result := startLoop(t, l)

	start := time.Now()
	h.PostDelayed(NewRunnable(func() { fired <- time.Now() }), 50*time.Millisecond)
	select {
	case at := <-fired:
		if d := at.Sub(start); d < 45*time.Millisecond {
			t.Fatalf("fired after %v, want >= 50ms", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed post never ran")
	}
	l.Quit()
	waitLoop(t, result)
}

func TestLooperQuitSafelyDrainsFuture(t *testing.T) {
	l := New()
	var count atomic.Int32
	h := NewHandler(l, WithHandleFunc(func(*Message) { count.Add(1) }))
	h.SendEmptyMessage(1)
	h.SendEmptyMessageDelayed(2, 30)
	if err := l.QuitSafely(); err != nil {
		t.Fatal(err)
	}

	result := make(chan error, 1)
	go func() { result <- l.Loop() }()
	if err := waitLoop(t, result); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if count.Load() != 2 {
		t.Fatalf("delivered %d, want 2", count.Load())
	}
}

func TestLooperSecondLoopFails(t *testing.T) {
	l := New()
	result := startLoop(t, l)
	if err := l.Loop(); !errors.Is(err, errs.LoopRunning) {
		t.Fatalf("second Loop err = %v, want LoopRunning", err)
	}
	if _, err := l.RunUntilIdle(); !errors.Is(err, errs.LoopRunning) {
		t.Fatalf("RunUntilIdle err = %v, want LoopRunning", err)
	}
	l.Quit()
	waitLoop(t, result)
}

func TestLooperDispatchPanic(t *testing.T) {
	l := New()
	h := NewHandler(l)
	var after atomic.Bool
	h.PostFunc(func() { panic("boom") })
	h.PostFunc(func() { after.Store(true) })

	result := make(chan error, 1)
	go func() { result <- l.Loop() }()
	err := waitLoop(t, result)
	if !errors.Is(err, errs.DispatchPanic) {
		t.Fatalf("Loop err = %v, want DispatchPanic", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("panic value missing from %q", err)
	}
	if after.Load() {
		t.Fatal("message after the panic was delivered")
	}
	if h.PostFunc(func() {}) {
		t.Fatal("looper accepted work after a dispatch panic")
	}
}

func TestLooperDispatchPanicWrapsError(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	cause := errors.New("cause")
	h.PostFunc(func() { panic(cause) })
	_, err := l.RunUntilIdle()
	if !errors.Is(err, errs.DispatchPanic) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want DispatchPanic wrapping cause", err)
	}
}

func TestLooperIdleHandler(t *testing.T) {
	l := New()
	h := NewHandler(l)
	var once, always atomic.Int32
	l.Queue().AddIdleHandler(NewIdleHandler(func() bool {
		once.Add(1)
		return false
	}))
	l.Queue().AddIdleHandler(NewIdleHandler(func() bool {
		if always.Add(1) == 2 {
			h.PostFunc(func() { l.Quit() })
		}
		return true
	}))
	h.PostFunc(func() {})

	result := make(chan error, 1)
	go func() { result <- l.Loop() }()
	// the first idle pass triggers a second one via this post
	time.Sleep(20 * time.Millisecond)
	h.PostFunc(func() {})
	if err := waitLoop(t, result); err != nil {
		t.Fatal(err)
	}
	if once.Load() != 1 {
		t.Fatalf("one-shot idle handler ran %d times", once.Load())
	}
	if always.Load() < 2 {
		t.Fatalf("kept idle handler ran %d times", always.Load())
	}
}

func TestLooperIsCurrentThread(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	if l.IsCurrentThread() {
		t.Fatal("not inside the loop yet")
	}
	var inside bool
	h.PostFunc(func() { inside = l.IsCurrentThread() })
	mustRun(t, l)
	if !inside {
		t.Fatal("IsCurrentThread false inside dispatch")
	}
}

func TestLooperMessageLogging(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l, WithHandleFunc(func(*Message) {}))
	var lines []string
	l.SetMessageLogging(func(line string) { lines = append(lines, line) })
	h.SendEmptyMessage(0x2a)
	mustRun(t, l)

	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], ">>>>> Dispatching to "+h.ID()) || !strings.Contains(lines[0], "0x2a") {
		t.Errorf("bad dispatch line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "<<<<< Finished to "+h.ID()) {
		t.Errorf("bad finish line %q", lines[1])
	}

	l.SetMessageLogging(nil)
	h.SendEmptyMessage(1)
	mustRun(t, l)
	if len(lines) != 2 {
		t.Fatal("logging not turned off")
	}
}

func TestLooperDump(t *testing.T) {
	l, _ := newManualLooper(1000)
	h := NewHandler(l)
	h.SendEmptyMessageAtTime(7, 1500)
	l.Queue().PostSyncBarrier()

	out := h.Dump("")
	for _, want := range []string{"Message 0:", "barrier=0", "what=7", "+500ms", "Total messages: 2", "quitting=false"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}

	s, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	list := s.Fields["messages"].GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("snapshot has %d messages", len(list))
	}
	if kind := list[0].GetStructValue().Fields["kind"].GetStringValue(); kind != "barrier" {
		t.Errorf("first kind %q, want barrier", kind)
	}
	if what := list[1].GetStructValue().Fields["what"].GetNumberValue(); what != 7 {
		t.Errorf("what = %v, want 7", what)
	}

	raw, err := l.DumpProto()
	if err != nil {
		t.Fatal(err)
	}
	decoded := &structpb.Struct{}
	if err := proto.Unmarshal(raw, decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Fields["looper"].GetStringValue() != "test" {
		t.Errorf("looper name %v", decoded.Fields["looper"])
	}
}

func TestHandlerCallbackPrecedence(t *testing.T) {
	l, _ := newManualLooper(0)
	var viaCallback, viaFunc []int
	h := NewHandler(l,
		WithCallback(CallbackFunc(func(msg *Message) bool {
			viaCallback = append(viaCallback, msg.What)
			return msg.What == 1
		})),
		WithHandleFunc(func(msg *Message) { viaFunc = append(viaFunc, msg.What) }),
	)
	h.SendEmptyMessage(1)
	h.SendEmptyMessage(2)
	mustRun(t, l)
	if len(viaCallback) != 2 || len(viaFunc) != 1 || viaFunc[0] != 2 {
		t.Fatalf("callback saw %v, handle func saw %v", viaCallback, viaFunc)
	}
}

func TestHandlerMessageName(t *testing.T) {
	l, _ := newManualLooper(0)
	h := NewHandler(l)
	if got := h.MessageName(h.ObtainMessage(255)); got != "0xff" {
		t.Errorf("routed name %q", got)
	}
	if got := h.MessageName(ObtainWithCallback(h, NewRunnable(func() {}))); got != "*looper.funcRunnable" {
		t.Errorf("callback name %q", got)
	}
}

func TestHandlerNilLooperPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("NewHandler(nil) did not panic")
		}
	}()
	NewHandler(nil)
}

func TestRunSync(t *testing.T) {
	l := New()
	h := NewHandler(l)
	result := startLoop(t, l)

	var ran atomic.Bool
	ok, err := h.RunSync(NewRunnable(func() { ran.Store(true) }), 0)
	if err != nil || !ok || !ran.Load() {
		t.Fatalf("RunSync = %v, %v, ran=%v", ok, err, ran.Load())
	}

	// 在loop协程里同步调用直接执行
	inline := make(chan bool, 1)
	h.PostFunc(func() {
		executed := false
		ok, _ := h.RunSync(NewRunnable(func() { executed = true }), time.Second)
		inline <- ok && executed
	})
	if !<-inline {
		t.Fatal("RunSync on the loop goroutine did not run inline")
	}

	if _, err := h.RunSync(nil, 0); !errors.Is(err, errs.InvalidArgument) {
		t.Fatalf("nil runnable err = %v", err)
	}
	if _, err := h.RunSync(NewRunnable(func() {}), -time.Second); !errors.Is(err, errs.InvalidArgument) {
		t.Fatalf("negative timeout err = %v", err)
	}
	l.Quit()
	waitLoop(t, result)
}

func TestRunSyncTimeoutLeavesWorkQueued(t *testing.T) {
	l := New()
	h := NewHandler(l)
	result := startLoop(t, l)

	release := make(chan struct{})
	h.PostFunc(func() { <-release })
	ran := make(chan struct{})
	ok, err := h.RunSync(NewRunnable(func() { close(ran) }), 20*time.Millisecond)
	if ok || err != nil {
		t.Fatalf("RunSync = %v, %v, want timeout", ok, err)
	}
	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out work never ran")
	}
	l.Quit()
	waitLoop(t, result)
}

func TestRunSyncContext(t *testing.T) {
	l := New()
	h := NewHandler(l)
	result := startLoop(t, l)

	release := make(chan struct{})
	h.PostFunc(func() { <-release })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := h.RunSyncContext(ctx, NewRunnable(func() {}))
	if ok || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunSyncContext = %v, %v", ok, err)
	}
	close(release)
	l.Quit()
	waitLoop(t, result)

	if ok, err := h.RunSyncContext(context.Background(), NewRunnable(func() {})); ok || err != nil {
		t.Fatalf("after quit RunSyncContext = %v, %v", ok, err)
	}
}

func TestRunSyncLooperStops(t *testing.T) {
	l := New()
	h := NewHandler(l)
	result := startLoop(t, l)

	h.PostFunc(func() {
		time.Sleep(20 * time.Millisecond)
		l.Quit()
	})
	ok, err := h.RunSync(NewRunnable(func() {}), 0)
	if ok || err != nil {
		t.Fatalf("RunSync = %v, %v, want false once the looper stopped", ok, err)
	}
	waitLoop(t, result)
}

func TestRunSyncPanicReportsFalse(t *testing.T) {
	l := New()
	h := NewHandler(l)
	result := startLoop(t, l)

	ok, err := h.RunSync(NewRunnable(func() { panic("boom") }), 2*time.Second)
	if ok || err != nil {
		t.Fatalf("RunSync = %v, %v, want false for a panicking task", ok, err)
	}
	if err := waitLoop(t, result); !errors.Is(err, errs.DispatchPanic) {
		t.Fatalf("Loop err = %v, want DispatchPanic", err)
	}
}
