// Package queue implements the leader-side replication queue: admission
// and trimming (spec §4.4), per-peer request construction (§4.5), response
// application (§4.6), peer tracking (§4.7), and introspection/shutdown
// (§4.8). It is the C6-C9 core the rest of this repository wires plumbing
// around.
package queue

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"leaderqueue/internal/errors"
	"leaderqueue/internal/memtracker"
	"leaderqueue/internal/metrics"
	"leaderqueue/internal/model"
	"leaderqueue/internal/opbuffer"
	"leaderqueue/internal/opid"
	"leaderqueue/internal/statustracker"
	"leaderqueue/internal/watermark"
)

// Config holds the per-queue admission knobs of spec §6, already converted
// to bytes by the config loader.
type Config struct {
	LocalSoftBytes  int64
	LocalHardBytes  int64
	MaxBatchBytes   int64
	DumpQueueOnFull bool
}

// Queue is the leader-side replication queue for one tablet/Raft group. A
// single sync.Mutex plays the role of the source's non-reentrant
// queue_lock (spec §5) — Go has no idiomatic spinlock in this pack's
// dependency stack, so a Mutex stands in for it; see DESIGN.md.
type Queue struct {
	mu sync.Mutex

	tabletID   string
	quorumSize int
	totalPeers int
	cfg        Config

	local  *memtracker.Tracker
	parent *memtracker.Tracker

	messages   *opbuffer.Buffer
	watermarks *watermark.Table
	state      model.QueueState

	metrics *metrics.Metrics
	logger  *zap.Logger

	totalOps      int64
	allDoneOps    int64
	majorityOps   int64
	inProgressOps int64
}

// New creates an open queue for tabletID, sized for a Raft group of
// totalPeers members needing quorumSize acks for majority-done. local is a
// tracker of its own creation, a child of parent (spec §4.3's hierarchy).
func New(tabletID string, quorumSize, totalPeers int, cfg Config, parent *memtracker.Tracker, m *metrics.Metrics, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		tabletID:   tabletID,
		quorumSize: quorumSize,
		totalPeers: totalPeers,
		cfg:        cfg,
		local:      memtracker.NewChild(cfg.LocalSoftBytes, cfg.LocalHardBytes, parent),
		parent:     parent,
		messages:   opbuffer.New(),
		watermarks: watermark.NewTable(),
		state:      model.QueueStateOpen,
		metrics:    m,
		logger:     logger.With(zap.String("tablet_id", tabletID)),
	}
}

// NewTracker constructs the OperationStatusTracker for op using this
// queue's fixed quorum/total-peer sizes (spec §3: both are fixed at OST
// creation). Callers append the result via Append.
func (q *Queue) NewTracker(op model.Operation) *statustracker.Tracker {
	return statustracker.New(op, q.quorumSize, q.totalPeers)
}

// Append is the admission path of spec §4.4. ost.OpID() must be strictly
// greater than every OpId already in the buffer — the caller enforces
// monotone enqueue. Only an OpId already present is detected, and it is
// rejected with a DuplicateOpID QueueError; a lower OpId that is not
// present is inserted at its ordered position without error.
func (q *Queue) Append(ost *statustracker.Tracker) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == model.QueueStateClosed {
		return errors.QueueClosed()
	}

	bytes := int64(ost.ByteSize())
	kind := ost.Operation().Kind()

	if q.local.AnySoftLimitExceeded() || q.parent.AnySoftLimitExceeded() {
		if err := q.trimForMessageLocked(bytes, kind); err != nil {
			if q.cfg.DumpQueueOnFull || q.logger.Core().Enabled(zap.DebugLevel) {
				q.logger.Info("queue full, dumping state", zap.String("dump", q.dumpStringLocked()))
			}
			return err
		}
	}

	q.local.Reserve(bytes)

	if err := q.messages.Insert(ost.OpID(), ost); err != nil {
		q.local.Release(bytes)
		return errors.DuplicateOpID(ost.OpID())
	}

	q.totalOps++
	switch {
	case ost.IsAllDone():
		q.allDoneOps++
	case ost.IsDone():
		q.majorityOps++
	default:
		q.inProgressOps++
	}

	if q.metrics != nil {
		q.metrics.SetQueueGauges(q.totalOps, q.allDoneOps, q.majorityOps, q.inProgressOps, q.local.Consumption())
	}

	return nil
}

// trimForMessageLocked implements TrimForMessage (spec §4.4), called with
// q.mu held.
func (q *Queue) trimForMessageLocked(bytes int64, kind model.Kind) error {
	cur := q.messages.Begin()

	for {
		if bytes <= q.local.SpareSoftCapacity() && bytes <= q.parent.SpareSoftCapacity() {
			return nil
		}

		if cur.End() || !cur.Value().IsAllDone() {
			if kind == model.KindCommit {
				return nil
			}
			if !q.local.WouldViolateHard(bytes) && !q.parent.WouldViolateHard(bytes) {
				return nil
			}
			return errors.QueueFull(bytes, kind.String())
		}

		evicted := cur
		cur = cur.Next()

		evictedBytes := int64(evicted.Value().ByteSize())
		q.local.Release(evictedBytes)
		q.totalOps--
		q.allDoneOps--
		q.messages.Erase(evicted)
	}
}

// TrackPeer inserts a fresh watermark for peer, all three fields equal to
// initial (spec §4.7).
func (q *Queue) TrackPeer(peer watermark.PeerID, initial opid.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.watermarks.Track(peer, initial); err != nil {
		return errors.AlreadyTracked(string(peer))
	}
	return nil
}

// UntrackPeer removes peer's watermark. Outstanding request batches
// referencing operations remain valid.
func (q *Queue) UntrackPeer(peer watermark.PeerID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.watermarks.Untrack(peer)
}

// BuildRequest is the request builder of spec §4.5: the next contiguous
// batch above peer's received watermark, bounded by maxBytes (soft — a
// singleton batch may exceed it). It never mutates the buffer, the OSTs,
// or peer's watermark.
func (q *Queue) BuildRequest(peer watermark.PeerID, maxBytes int64) ([]model.Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.watermarks.Get(peer)
	if !ok {
		return nil, errors.UnknownPeer(string(peer))
	}

	var batch []model.Operation
	var batchBytes int64

	for cur := q.messages.UpperBound(w.Received); !cur.End(); cur = cur.Next() {
		op := cur.Value().Operation()
		batch = append(batch, op)
		batchBytes += int64(op.ByteSize())

		if batchBytes > maxBytes {
			if len(batch) > 1 {
				batch = batch[:len(batch)-1]
			}
			break
		}
	}

	return batch, nil
}

// ApplyResponse is the response applier of spec §4.6. It advances peer's
// watermarks, acks the operations that newly fall in range, and reports
// whether the buffer holds anything beyond the peer's new received
// watermark. An unknown peer or a closed queue is logged and reported as
// no-more-pending, per spec §7's downgrade of UnknownPeer for this call.
func (q *Queue) ApplyResponse(peer watermark.PeerID, newStatus watermark.PeerWatermark) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == model.QueueStateClosed {
		q.logger.Warn("queue is closed, disregarding peer response", zap.String("peer", string(peer)))
		return false
	}

	cur, ok := q.watermarks.Get(peer)
	if !ok {
		q.logger.Warn("peer was untracked, disregarding peer response", zap.String("peer", string(peer)))
		return false
	}

	if opid.Less(newStatus.Received, cur.Received) || opid.Less(newStatus.Replicated, cur.Replicated) || opid.Less(newStatus.SafeCommit, cur.SafeCommit) {
		q.logger.Warn("peer watermark regressed, applying anyway",
			zap.String("peer", string(peer)),
			zap.Stringer("current", cur),
			zap.Stringer("reported", newStatus))
	}

	low := opid.Min(cur.Replicated, cur.SafeCommit)
	iter := q.messages.UpperBound(low)
	endIter := q.messages.UpperBound(newStatus.Received)

	for ; iter != endIter && !iter.End(); iter = iter.Next() {
		ost := iter.Value()
		before := ost.Snap()

		id := iter.OpID()
		op := ost.Operation()

		if op.Kind() == model.KindCommit && opid.Less(cur.SafeCommit, id) && !opid.Less(newStatus.SafeCommit, id) {
			ost.AckPeer(statustracker.PeerID(peer))
		} else if op.Kind() == model.KindReplicate && opid.Less(cur.Replicated, id) && !opid.Less(newStatus.Replicated, id) {
			ost.AckPeer(statustracker.PeerID(peer))
		}

		after := ost.Snap()
		if after.AllDone && !before.AllDone {
			q.allDoneOps++
			q.majorityOps--
		}
		if after.Done && !before.Done {
			q.majorityOps++
			q.inProgressOps--
		}
	}

	q.watermarks.Set(peer, newStatus)

	if q.metrics != nil {
		q.metrics.SetQueueGauges(q.totalOps, q.allDoneOps, q.majorityOps, q.inProgressOps, q.local.Consumption())
	}

	return !iter.End()
}

// GetOperationStatus looks up the tracker for id (spec §4.8).
func (q *Queue) GetOperationStatus(id opid.ID) (*statustracker.Tracker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ost, ok := q.messages.Find(id)
	if !ok {
		return nil, errors.NotFound(id)
	}
	return ost, nil
}

// QueueBytes returns the current local tracker consumption.
func (q *Queue) QueueBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.local.Consumption()
}

// SnapshotMetrics returns the five gauges of spec §6, consistent with the
// buffer as of the moment the lock was held.
func (q *Queue) SnapshotMetrics() model.QueueMetricsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.QueueMetricsSnapshot{
		TotalOps:        q.totalOps,
		AllDoneOps:      q.allDoneOps,
		MajorityDoneOps: q.majorityOps,
		InProgressOps:   q.inProgressOps,
		QueueBytes:      q.local.Consumption(),
	}
}

// Close transitions the queue to Closed: no further Append calls succeed,
// ApplyResponse calls are logged and dropped, and the watermark table is
// dropped. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == model.QueueStateClosed {
		return
	}
	q.state = model.QueueStateClosed
	q.watermarks = watermark.NewTable()
}

// TrackedPeers returns the peers currently tracked by the queue.
func (q *Queue) TrackedPeers() []watermark.PeerID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.watermarks.Peers()
}

// State reports whether the queue is Open or Closed.
func (q *Queue) State() model.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Summary is a one-line metrics dump, matching the original's ToString.
func (q *Queue) Summary() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return fmt.Sprintf(
		"Queue metrics: Total Ops: %d, All Done Ops: %d, Majority Done Ops: %d, In Progress Ops: %d, Queue Size (bytes): %d/%d",
		q.totalOps, q.allDoneOps, q.majorityOps, q.inProgressOps, q.local.Consumption(), q.local.HardLimit())
}

// Dump writes a textual dump of watermarks and messages to w, for
// diagnostics when the queue rejects an append (spec §4.8).
func (q *Queue) Dump(w io.Writer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fmt.Fprint(w, q.dumpStringLocked())
}

func (q *Queue) dumpStringLocked() string {
	var b []byte
	b = append(b, "Watermarks:\n"...)
	for _, p := range q.watermarks.Peers() {
		wm, _ := q.watermarks.Get(p)
		b = append(b, fmt.Sprintf("Peer: %s Watermark: %s\n", p, wm)...)
	}
	b = append(b, "Messages:\n"...)
	i := 0
	for cur := q.messages.Begin(); !cur.End(); cur = cur.Next() {
		ost := cur.Value()
		op := ost.Operation()
		id := cur.OpID()
		if op.Kind() == model.KindCommit {
			committed, _ := op.CommittedOpID()
			b = append(b, fmt.Sprintf("Message[%d] %s : COMMIT. Committed OpId: %s. Size: %d, Acks: %d\n",
				i, id, committed, op.ByteSize(), ost.AckCount())...)
		} else {
			b = append(b, fmt.Sprintf("Message[%d] %s : REPLICATE. Size: %d, Acks: %d\n",
				i, id, op.ByteSize(), ost.AckCount())...)
		}
		i++
	}
	return string(b)
}
