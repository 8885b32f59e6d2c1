// Package lane provides keyed mutual exclusion: one mutex per string key,
// created on first use and dropped once the last holder releases it. The
// engine keys lanes by session ID so work on one session serializes while
// other sessions proceed in parallel.
package lane

import "sync"

// Lock is a set of keyed mutexes. A global mutex guards the map and is held
// only to look up or create an entry; the per-key lock is taken outside it.
type Lock struct {
	mu    sync.Mutex
	lanes map[string]*entry
}

// entry is one key's mutex. refs counts holders and waiters so the entry
// can be dropped from the map once the last one releases.
type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Lock.
func New() *Lock {
	return &Lock{lanes: make(map[string]*entry)}
}

// Acquire locks the key's lane, creating it on first use. Every Acquire
// must be paired with a Release of the same key.
func (l *Lock) Acquire(key string) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &entry{}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
}

// Release unlocks the key's lane and drops the map entry when nobody else
// holds or waits on it.
func (l *Lock) Release(key string) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}
