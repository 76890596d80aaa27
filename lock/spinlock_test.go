package lock

import (
	"sync"
	"testing"
)

func TestSpinLockCounter(t *testing.T) {
	var sl SpinLock
	var wg sync.WaitGroup
	n := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sl.Lock()
				n++
				sl.Unlock()
			}
		}()
	}
	wg.Wait()
	if n != 8000 {
		t.Fatalf("lost updates: %d", n)
	}
}

func TestSpinLockTryLock(t *testing.T) {
	l := NewSpinLock().(*SpinLock)
	if !l.TryLock() {
		t.Fatal("fresh lock should be free")
	}
	if l.TryLock() {
		t.Fatal("held lock acquired twice")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatal("unlock did not release")
	}
}
