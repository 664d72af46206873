// Package watermark implements the per-peer received/replicated/safe-commit
// triple of spec §3 and the table that tracks one per peer.
package watermark

import (
	"fmt"
	"sync"

	"leaderqueue/internal/opid"
)

// PeerWatermark is a peer's progress along the three axes the queue cares
// about. At rest, SafeCommit <= Replicated <= Received under opid.Less; all
// three advance monotonically for the lifetime of the peer's tracking.
type PeerWatermark struct {
	Received    opid.ID
	Replicated  opid.ID
	SafeCommit  opid.ID
}

func (w PeerWatermark) String() string {
	return fmt.Sprintf("received=%s replicated=%s safe_commit=%s", w.Received, w.Replicated, w.SafeCommit)
}

// PeerID names a tracked follower.
type PeerID string

// ErrAlreadyTracked is returned by Table.Track for a peer already present.
type ErrAlreadyTracked struct{ Peer PeerID }

func (e ErrAlreadyTracked) Error() string { return fmt.Sprintf("peer %q already tracked", e.Peer) }

// Table holds one PeerWatermark per tracked peer. The owning queue
// serializes access under its own lock (spec §5); the table also carries
// an internal mutex, so each method is safe to call on its own and the
// table can be exercised (and tested) standalone.
type Table struct {
	mu    sync.Mutex
	peers map[PeerID]PeerWatermark
}

// NewTable creates an empty watermark table.
func NewTable() *Table {
	return &Table{peers: make(map[PeerID]PeerWatermark)}
}

// Track inserts a fresh watermark for peer with all three fields equal to
// initial. Fails with ErrAlreadyTracked on duplicate insert (spec §4.7).
func (t *Table) Track(peer PeerID, initial opid.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[peer]; ok {
		return ErrAlreadyTracked{Peer: peer}
	}
	t.peers[peer] = PeerWatermark{Received: initial, Replicated: initial, SafeCommit: initial}
	return nil
}

// Untrack removes peer's watermark. Outstanding request batches referencing
// operations remain valid — OST references are shared, not owned by the
// table (spec §4.7).
func (t *Table) Untrack(peer PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}

// Get returns peer's current watermark and whether it is tracked.
func (t *Table) Get(peer PeerID) (PeerWatermark, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.peers[peer]
	return w, ok
}

// Set overwrites peer's watermark, field-by-field, as the response applier
// does after processing an ack range (spec §4.6 step 5). It is a
// programmer error to call Set for an untracked peer.
func (t *Table) Set(peer PeerID, w PeerWatermark) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peer] = w
}

// Peers returns the set of currently tracked peer ids, in no particular
// order.
func (t *Table) Peers() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerID, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Len returns the number of tracked peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}
