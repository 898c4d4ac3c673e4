package registry

import "sync"

// keyMutex serializes writes per match key so two payloads claiming the
// same identity cannot interleave their read-classify-write sequences
// within this process. Cross-process races are arbitrated by the database
// unique constraints.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLock)}
}

// lock acquires the mutex for key and returns its release func. Lock
// entries are dropped once the last holder releases, so the map stays
// bounded by in-flight keys.
func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()

	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}

	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--

		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
