// keylock.go - Per-key mutual exclusion for index-consuming operations.
//
// Allocation and proof building both consume a nullifier derived from shared
// index state, so the system allows at most one in-flight operation per
// (accountKey, poolAddress). Concurrent callers are serialized, never
// merged: deduplicating two allocations would hand out the same index twice.

package keylock

import "sync"

// KeyedMutex provides one mutex per string key. Entries are retained for
// the process lifetime; the key space is bounded by accounts x pools.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
