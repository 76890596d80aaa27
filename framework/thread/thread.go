// Package thread dedicates a goroutine to running one Looper.
package thread

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/looper"
	"github.com/fixkme/msgloop/mlog"
)

type Option func(*LooperThread)

// WithPanicHandler receives the error that stopped the loop, usually an
// errs.DispatchPanic.
func WithPanicHandler(f func(err error)) Option {
	return func(t *LooperThread) {
		if f != nil {
			t.panicHandler = f
		}
	}
}

func WithLooperOptions(opts ...looper.Option) Option {
	return func(t *LooperThread) { t.looperOpts = append(t.looperOpts, opts...) }
}

// LooperThread owns a Looper and the goroutine that runs it. It can be run
// directly with Start or handed to app.App as a Module.
type LooperThread struct {
	id           string
	name         string
	looperOpts   []looper.Option
	looper       *looper.Looper
	handler      *looper.Handler
	panicHandler func(err error)

	started  atomic.Bool
	mutex    sync.RWMutex
	isClosed bool
	err      error
	done     chan struct{}
}

func New(name string, opts ...Option) *LooperThread {
	t := &LooperThread{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
	t.panicHandler = func(err error) {
		mlog.Errorf("looper thread %s stopped: %v", t.name, err)
	}
	for _, opt := range opts {
		opt(t)
	}
	t.looper = looper.New(append([]looper.Option{looper.WithName(name)}, t.looperOpts...)...)
	t.handler = looper.NewHandler(t.looper)
	return t
}

func (t *LooperThread) ID() string { return t.id }

func (t *LooperThread) Name() string { return t.name }

func (t *LooperThread) Looper() *looper.Looper { return t.looper }

// Handler is bound to the thread's looper with no message handling of its
// own; it is meant for posting work.
func (t *LooperThread) Handler() *looper.Handler { return t.handler }

func (t *LooperThread) OnInit() error { return nil }

// Start runs the looper on a new goroutine. Only the first call has effect.
func (t *LooperThread) Start() {
	if t.started.CompareAndSwap(false, true) {
		go t.loop()
	}
}

// Run runs the looper on the calling goroutine until it quits.
func (t *LooperThread) Run() {
	if t.started.CompareAndSwap(false, true) {
		t.loop()
	}
}

func (t *LooperThread) loop() {
	defer close(t.done)
	mlog.Debugf("looper thread %s(%s) running", t.name, t.id)
	err := t.looper.Loop()

	t.mutex.Lock()
	t.isClosed = true
	t.err = err
	t.mutex.Unlock()

	if err != nil {
		t.panicHandler(err)
	}
	mlog.Debugf("looper thread %s(%s) exited", t.name, t.id)
}

// Destroy lets queued work finish, then stops the loop.
func (t *LooperThread) Destroy() {
	if err := t.QuitSafely(); err != nil {
		mlog.Warnf("looper thread %s destroy: %v", t.name, err)
	}
}

func (t *LooperThread) Quit() error {
	return t.quit(false)
}

func (t *LooperThread) QuitSafely() error {
	return t.quit(true)
}

func (t *LooperThread) quit(safe bool) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.isClosed {
		return nil
	}
	var err error
	if safe {
		err = t.looper.QuitSafely()
	} else {
		err = t.looper.Quit()
	}
	if err == nil {
		t.isClosed = true
	}
	return err
}

// Wait blocks until the loop has exited. It returns at once if the thread
// was never started.
func (t *LooperThread) Wait() {
	if !t.started.Load() {
		return
	}
	<-t.done
}

// Err is the error that ended the loop, nil after a normal quit.
func (t *LooperThread) Err() error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.err
}

func (t *LooperThread) closed() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.isClosed
}

// SyncRunFunc runs f on the thread and waits for it.
func (t *LooperThread) SyncRunFunc(f func()) error {
	if t.closed() {
		return errs.ThreadClosed
	}
	ok, err := t.handler.RunSync(looper.NewRunnable(f), 0)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ThreadClosed
	}
	return nil
}

// CtxRunFunc is SyncRunFunc bounded by ctx. f may still run after ctx ends.
func (t *LooperThread) CtxRunFunc(ctx context.Context, f func()) error {
	if t.closed() {
		return errs.ThreadClosed
	}
	ok, err := t.handler.RunSyncContext(ctx, looper.NewRunnable(f))
	if err != nil {
		return err
	}
	if !ok {
		return errs.ThreadClosed
	}
	return nil
}

// TryRunFunc posts f without waiting.
func (t *LooperThread) TryRunFunc(f func()) error {
	if t.closed() || !t.handler.PostFunc(f) {
		return errs.ThreadClosed
	}
	return nil
}
