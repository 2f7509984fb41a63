package fsdaemon

import (
	"sync"
	"time"
)

// pendingWritesTTL is how long a path stays in the pending set after an
// inbound write, per spec.md §4.8's "~200 ms so the watcher suppresses the
// echo".
const pendingWritesTTL = 200 * time.Millisecond

// pendingSet tracks filesystem paths the daemon itself just wrote, so the
// watcher can tell its own echoes apart from genuine external edits. Entries
// expire on their own; callers never need to remove them explicitly.
type pendingSet struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func newPendingSet(now func() time.Time) *pendingSet {
	if now == nil {
		now = time.Now
	}
	return &pendingSet{expires: map[string]time.Time{}, now: now}
}

// Add marks path as pending for pendingWritesTTL.
func (p *pendingSet) Add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expires[path] = p.now().Add(pendingWritesTTL)
}

// Contains reports whether path is still within its pending window,
// lazily evicting it (and any other expired entries) while it holds the
// lock.
func (p *pendingSet) Contains(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	deadline, ok := p.expires[path]
	if !ok {
		return false
	}
	if now.After(deadline) {
		delete(p.expires, path)
		return false
	}
	return true
}

// sweep removes every expired entry; callers with a periodic loop (the
// scanner, say) can call this to bound map growth instead of waiting for
// Contains lookups to do it lazily.
func (p *pendingSet) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for path, deadline := range p.expires {
		if now.After(deadline) {
			delete(p.expires, path)
		}
	}
}
