package livereload

import "sync"

// peer is a roster member. *Connection is the only production
// implementation.
type peer interface {
	ID() string
	SendReload(path string, liveCSS bool) error
	Close() error
}

// roster holds admitted peers in registration order. Callers never hold
// the lock while writing to a peer.
type roster struct {
	mu     sync.Mutex
	peers  []peer
	closed bool
}

// add admits p. It reports false once the roster has been closed.
func (r *roster) add(p peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.peers = append(r.peers, p)
	return true
}

// remove drops p and reports whether it was present.
func (r *roster) remove(p peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.peers {
		if existing == p {
			r.peers = append(r.peers[:i:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (r *roster) snapshot() []peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]peer(nil), r.peers...)
}

func (r *roster) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// close refuses further peers and hands back the current ones.
func (r *roster) close() []peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	peers := r.peers
	r.peers = nil
	return peers
}
