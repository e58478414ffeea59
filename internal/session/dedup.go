package session

import "sync"

// dedupSet tracks message IDs this session originated, so the relay's echo
// of our own message is never displayed on top of the optimistic local copy.
// An ID moves from pending to seen the first time its echo is observed;
// repeat echoes of a seen ID are still dropped, so any number of echoes
// yields exactly one user-visible entry. IDs the relay never echoes simply
// stay pending for the life of the process; the set only guards against
// double-insertion, not loss.
type dedupSet struct {
	mu      sync.Mutex
	pending map[string]struct{}
	seen    map[string]struct{}
}

func newDedupSet() *dedupSet {
	return &dedupSet{
		pending: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

// add registers a locally-originated message ID before transmission.
func (d *dedupSet) add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = struct{}{}
}

// takeOwn reports whether id was originated locally and should be dropped
// from the inbound stream.
func (d *dedupSet) takeOwn(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; ok {
		delete(d.pending, id)
		d.seen[id] = struct{}{}
		return true
	}
	_, ok := d.seen[id]
	return ok
}
