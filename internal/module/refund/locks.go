package refund

import (
	"strconv"
	"sync"
)

// keyedMutex serializes mutations per key. One lock scope exists per refund
// reference (transitions, reissue) and one per payment+fee pair (ledger
// evaluation during submit), so concurrent callers cannot observe stale
// state or together exceed a fee's refundable balance.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key, blocking until it is free.
func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &lockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for key. Entries are dropped once no caller
// holds or waits on them, so the map does not grow unbounded.
func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	entry := km.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	entry.mu.Unlock()
}

// feeKey builds the lock key for a (paymentReference, feeID) pair.
func feeKey(paymentReference string, feeID int64) string {
	return paymentReference + "#" + strconv.FormatInt(feeID, 10)
}
