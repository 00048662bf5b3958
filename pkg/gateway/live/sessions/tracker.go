// Package sessions tracks live peer connections so the relay hub can warn
// and close them on drain, then wait for them to finish.
package sessions

import (
	"context"
	"sync"
)

// Handle is how the tracker reaches a connection.
type Handle struct {
	RoomID string
	Cancel func()
	Warn   func(code, message string) error
}

type Tracker struct {
	mu    sync.Mutex
	peers map[string]*entry
	wg    sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]*entry)}
}

// Register adds a connection under peerID and returns the function that
// removes it. The returned function is safe to call more than once.
func (t *Tracker) Register(peerID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	e := &entry{handle: h}
	t.mu.Lock()
	if t.peers == nil {
		t.peers = make(map[string]*entry)
	}
	old := t.peers[peerID]
	t.peers[peerID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.remove(peerID, old)
	}
	return func() { t.remove(peerID, e) }
}

func (t *Tracker) remove(peerID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.peers[peerID] == e {
			delete(t.peers, peerID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Rooms returns the number of tracked connections per room.
func (t *Tracker) Rooms() map[string]int {
	out := make(map[string]int)
	if t == nil {
		return out
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.peers {
		out[e.handle.RoomID]++
	}
	return out
}

// WarnAll sends a warning to every connection and returns how many accepted it.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		if err := h.Warn(code, message); err == nil {
			sent++
		}
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

func (t *Tracker) handles() []Handle {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.peers))
	for _, e := range t.peers {
		out = append(out, e.handle)
	}
	return out
}

// Wait blocks until every registered connection has unregistered or ctx is
// done. It reports whether all connections finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
