package auction

import (
	"slices"
	"sync"
)

// keyLocker hands out mutexes by name. Keys of one call are taken in
// sorted order so overlapping callers cannot deadlock.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until every key is held and returns the matching unlock.
func (l *keyLocker) Lock(keys ...string) (unlock func()) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, k := range keys {
		l.acquire(k)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			l.release(keys[i])
		}
	}
}

func (l *keyLocker) acquire(key string) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
}

func (l *keyLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func playerKey(id string) string { return "player:" + id }
func teamKey(id string) string   { return "team:" + id }

const ledgerKey = "ledger"
