// Package statustracker implements the per-operation acknowledgement set
// and the majority / all-done predicates derived from it (spec §4.1).
package statustracker

import (
	"sync"

	"leaderqueue/internal/model"
	"leaderqueue/internal/opid"
)

// PeerID names a follower in the acknowledgement set.
type PeerID string

// Tracker owns one Operation plus the set of peers that have acknowledged
// it. It never emits events itself; callers snapshot IsDone/IsAllDone
// before and after AckPeer to detect transitions (spec §4.1).
type Tracker struct {
	mu         sync.Mutex
	operation  model.Operation
	ackedBy    map[PeerID]struct{}
	quorumSize int
	totalPeers int
}

// New creates a tracker for operation, requiring quorumSize acks for
// IsDone and totalPeers acks for IsAllDone. Both are fixed at creation.
func New(operation model.Operation, quorumSize, totalPeers int) *Tracker {
	return &Tracker{
		operation:  operation,
		ackedBy:    make(map[PeerID]struct{}),
		quorumSize: quorumSize,
		totalPeers: totalPeers,
	}
}

// AckPeer records p's acknowledgement. Idempotent: acking the same peer
// twice leaves the set unchanged.
func (t *Tracker) AckPeer(p PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ackedBy[p] = struct{}{}
}

// IsAcked reports whether p has already acknowledged.
func (t *Tracker) IsAcked(p PeerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ackedBy[p]
	return ok
}

// IsDone reports whether a majority (quorumSize peers) have acknowledged.
func (t *Tracker) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ackedBy) >= t.quorumSize
}

// IsAllDone reports whether every tracked peer has acknowledged.
func (t *Tracker) IsAllDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ackedBy) >= t.totalPeers
}

// AckCount returns the number of distinct peers that have acknowledged.
func (t *Tracker) AckCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ackedBy)
}

func (t *Tracker) OpID() opid.ID          { return t.operation.OpID() }
func (t *Tracker) Operation() model.Operation { return t.operation }
func (t *Tracker) ByteSize() uint32       { return t.operation.ByteSize() }

// Snapshot captures IsDone/IsAllDone atomically, for the before/after
// comparisons the response applier (spec §4.6) needs around AckPeer.
type Snapshot struct {
	Done    bool
	AllDone bool
}

func (t *Tracker) Snap() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Done:    len(t.ackedBy) >= t.quorumSize,
		AllDone: len(t.ackedBy) >= t.totalPeers,
	}
}
