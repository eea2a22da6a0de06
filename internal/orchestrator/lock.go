package orchestrator

import "sync"

// contactLocks serializes pipeline runs per contact so rapid
// double-texting cannot race on the same cache key. Entries are
// reference-counted and removed once idle.
type contactLocks struct {
	mu    sync.Mutex
	locks map[string]*contactLock
}

type contactLock struct {
	mu   sync.Mutex
	refs int
}

func newContactLocks() *contactLocks {
	return &contactLocks{locks: make(map[string]*contactLock)}
}

// lock acquires the per-contact mutex and returns its release func.
func (c *contactLocks) lock(contactID string) func() {
	c.mu.Lock()
	entry, ok := c.locks[contactID]
	if !ok {
		entry = &contactLock{}
		c.locks[contactID] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		c.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(c.locks, contactID)
		}
		c.mu.Unlock()
	}
}
