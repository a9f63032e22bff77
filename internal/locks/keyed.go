package locks

import (
	"sync"
)

// KeyedMutex provides per-name mutual exclusion.
// Each key gets its own mutex, so work on different module names proceeds
// concurrently while work on the same name is serialized.
type KeyedMutex struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-key mutexes
}

// NewKeyedMutex creates a new KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for key, creating it on first access.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, exists := k.locks[key]
	if !exists {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	// Acquire outside the map lock to avoid contention between keys
	l.Lock()
}

// Unlock releases the mutex for key. Unlocking an unknown key is a no-op.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, exists := k.locks[key]
	k.mu.Unlock()

	if exists {
		l.Unlock()
	}
}

// With runs fn while holding the mutex for key.
func (k *KeyedMutex) With(key string, fn func()) {
	k.Lock(key)
	defer k.Unlock(key)
	fn()
}

// Len returns the number of keys that have been locked at least once.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
