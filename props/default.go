package props

import (
	"sync"

	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/looper"
)

var (
	defaultMu    sync.RWMutex
	defaultStore *Store
)

// Init installs the process-wide store, notifying on h. A store installed
// earlier is torn down first.
func Init(h *looper.Handler) error {
	s, err := New(h)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultStore
	defaultStore = s
	defaultMu.Unlock()
	if old != nil {
		old.clearWatchers()
	}
	return nil
}

func Default() (*Store, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultStore == nil {
		return nil, errs.NotInitialized.Printf("props")
	}
	return defaultStore, nil
}

// Teardown drops the process-wide store and all its watchers.
func Teardown() {
	defaultMu.Lock()
	old := defaultStore
	defaultStore = nil
	defaultMu.Unlock()
	if old != nil {
		old.clearWatchers()
	}
}

func Set(key, value string) error {
	s, err := Default()
	if err != nil {
		return err
	}
	return s.Set(key, value)
}

// Get reads from the process-wide store; def when it is not initialized.
func Get(key, def string) string {
	s, err := Default()
	if err != nil {
		return def
	}
	return s.Get(key, def)
}

func Watch(prefix string, fn func(key, value string)) (Unregister, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	return s.Watch(prefix, fn)
}
