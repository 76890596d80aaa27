// Package props is an in-memory property store whose change notifications
// are delivered on a Looper.
package props

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/armon/go-radix"

	"github.com/fixkme/msgloop/errs"
	"github.com/fixkme/msgloop/looper"
)

const (
	MaxKeyLen   = 31
	MaxValueLen = 91
)

// Unregister stops a watcher. Notifications already queued for it are dropped.
type Unregister func()

type watcher struct {
	prefix string
	fn     func(key, value string)
	active atomic.Bool
}

// Store maps keys to string values. Watchers registered by key prefix are
// called on the store's handler after each change.
type Store struct {
	mu       sync.RWMutex
	values   *radix.Tree
	watchers *radix.Tree // prefix -> []*watcher
	handler  *looper.Handler
}

func New(h *looper.Handler) (*Store, error) {
	if h == nil {
		return nil, errs.InvalidArgument.Printf("props needs a handler")
	}
	return &Store{
		values:   radix.New(),
		watchers: radix.New(),
		handler:  h,
	}, nil
}

// Set stores value under key and notifies matching watchers if it changed.
func (s *Store) Set(key, value string) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return errs.InvalidArgument.Printf("key %q length must be 1..%d", key, MaxKeyLen)
	}
	if len(value) > MaxValueLen {
		return errs.InvalidArgument.Printf("value for %s longer than %d", key, MaxValueLen)
	}

	s.mu.Lock()
	if old, ok := s.values.Get(key); ok && old.(string) == value {
		s.mu.Unlock()
		return nil
	}
	defer s.mu.Unlock()
	s.values.Insert(key, value)
	// 从根到key路径上的每个前缀都是匹配的watcher
	// 持锁投递, 通知顺序与写入顺序一致
	s.watchers.WalkPath(key, func(_ string, v any) bool {
		for _, w := range v.([]*watcher) {
			s.handler.PostFunc(func() {
				if w.active.Load() {
					w.fn(key, value)
				}
			})
		}
		return false
	})
	return nil
}

func (s *Store) lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Get returns the value of key, or def when it is unset or empty.
func (s *Store) Get(key, def string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (s *Store) GetInt(key string, def int) int {
	return int(s.GetInt64(key, int64(def)))
}

func (s *Store) GetInt64(key string, def int64) int64 {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool accepts 1, y, yes, on, true and 0, n, no, off, false.
func (s *Store) GetBool(key string, def bool) bool {
	v, _ := s.lookup(key)
	switch strings.ToLower(v) {
	case "1", "y", "yes", "on", "true":
		return true
	case "0", "n", "no", "off", "false":
		return false
	}
	return def
}

// Keys lists the set keys starting with prefix in lexical order.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	s.values.WalkPrefix(prefix, func(k string, _ any) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Watch calls fn on the store's looper for every change to a key starting
// with prefix. An empty prefix watches everything.
func (s *Store) Watch(prefix string, fn func(key, value string)) (Unregister, error) {
	if fn == nil {
		return nil, errs.InvalidArgument.Printf("nil watcher")
	}
	w := &watcher{prefix: prefix, fn: fn}
	w.active.Store(true)

	s.mu.Lock()
	list, _ := s.watchers.Get(prefix)
	ws, _ := list.([]*watcher)
	s.watchers.Insert(prefix, append(ws[:len(ws):len(ws)], w))
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unwatch(w) })
	}, nil
}

func (s *Store) unwatch(w *watcher) {
	w.active.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.watchers.Get(w.prefix)
	if !ok {
		return
	}
	ws := list.([]*watcher)
	kept := make([]*watcher, 0, len(ws))
	for _, x := range ws {
		if x != w {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		s.watchers.Delete(w.prefix)
	} else {
		s.watchers.Insert(w.prefix, kept)
	}
}

// Watchers counts registered watchers.
func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	s.watchers.Walk(func(_ string, v any) bool {
		n += len(v.([]*watcher))
		return false
	})
	return n
}

func (s *Store) clearWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers.Walk(func(_ string, v any) bool {
		for _, w := range v.([]*watcher) {
			w.active.Store(false)
		}
		return false
	})
	s.watchers = radix.New()
}
