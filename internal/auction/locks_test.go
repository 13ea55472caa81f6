package auction

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocker_SerialisesSharedKeys(t *testing.T) {
	l := newKeyLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Alternate key order; sorting must prevent a deadlock.
			keys := []string{teamKey("a"), playerKey("p")}
			if i%2 == 0 {
				keys[0], keys[1] = keys[1], keys[0]
			}
			unlock := l.Lock(keys...)
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lockers deadlocked")
	}

	if maxSeen != 1 {
		t.Errorf("%d holders at once, want 1", maxSeen)
	}
	if n := len(l.locks); n != 0 {
		t.Errorf("%d locks left after release, want 0", n)
	}
}

func TestKeyLocker_DisjointKeysRunInParallel(t *testing.T) {
	l := newKeyLocker()

	unlockA := l.Lock(teamKey("a"))
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock(teamKey("b"), teamKey("b"))
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
}
