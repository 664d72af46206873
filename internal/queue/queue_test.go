package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"leaderqueue/internal/errors"
	"leaderqueue/internal/memtracker"
	"leaderqueue/internal/model"
	"leaderqueue/internal/opid"
	"leaderqueue/internal/queue"
	"leaderqueue/internal/watermark"
)

const unbounded = int64(1) << 40

func newQueue(t *testing.T, cfg queue.Config, quorum, total int) *queue.Queue {
	t.Helper()
	parent := memtracker.New(unbounded, unbounded)
	return queue.New("tablet-1", quorum, total, cfg, parent, nil, nil)
}

func newQueueWithObservedLogger(t *testing.T, cfg queue.Config, quorum, total int) (*queue.Queue, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	parent := memtracker.New(unbounded, unbounded)
	q := queue.New("tablet-1", quorum, total, cfg, parent, nil, zap.New(core))
	return q, logs
}

// sizedOp is a fixed-size stand-in Operation so byte-size assertions in
// these tests don't depend on protobuf wire-encoding overhead.
type sizedOp struct {
	id           opid.ID
	kind         model.Kind
	size         uint32
	committed    opid.ID
	hasCommitted bool
}

func (o sizedOp) OpID() opid.ID          { return o.id }
func (o sizedOp) Kind() model.Kind       { return o.kind }
func (o sizedOp) ByteSize() uint32       { return o.size }
func (o sizedOp) CommittedOpID() (opid.ID, bool) { return o.committed, o.hasCommitted }

func replicateOp(t *testing.T, idx uint64, size int) model.Operation {
	t.Helper()
	return sizedOp{id: opid.ID{Term: 1, Index: idx}, kind: model.KindReplicate, size: uint32(size)}
}

func commitOp(t *testing.T, idx uint64, committed uint64, size int) model.Operation {
	t.Helper()
	return sizedOp{
		id:           opid.ID{Term: 1, Index: idx},
		kind:         model.KindCommit,
		size:         uint32(size),
		committed:    opid.ID{Term: 1, Index: committed},
		hasCommitted: true,
	}
}

// S1 — majority then all.
func TestScenario_MajorityThenAll(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 2, 3)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Append(q.NewTracker(replicateOp(t, i, 100))))
	}

	require.NoError(t, q.TrackPeer("A", opid.Zero))
	require.NoError(t, q.TrackPeer("B", opid.Zero))
	require.NoError(t, q.TrackPeer("C", opid.Zero))

	last := opid.ID{Term: 1, Index: 5}
	w := watermark.PeerWatermark{Received: last, Replicated: last, SafeCommit: opid.Zero}

	q.ApplyResponse("A", w)
	m := q.SnapshotMetrics()
	assert.EqualValues(t, 5, m.InProgressOps)
	assert.EqualValues(t, 0, m.MajorityDoneOps)

	q.ApplyResponse("B", w)
	m = q.SnapshotMetrics()
	assert.EqualValues(t, 5, m.MajorityDoneOps)
	assert.EqualValues(t, 0, m.InProgressOps)

	q.ApplyResponse("C", w)
	m = q.SnapshotMetrics()
	assert.EqualValues(t, 5, m.AllDoneOps)
	assert.EqualValues(t, 0, m.MajorityDoneOps)
	assert.EqualValues(t, 500, m.QueueBytes)
}

// S2 — soft-limit trim.
func TestScenario_SoftLimitTrim(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: 1024, LocalHardBytes: 2048, MaxBatchBytes: unbounded}, 2, 3)

	require.NoError(t, q.TrackPeer("A", opid.Zero))
	require.NoError(t, q.TrackPeer("B", opid.Zero))
	require.NoError(t, q.TrackPeer("C", opid.Zero))

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, q.Append(q.NewTracker(replicateOp(t, i, 300))))
	}

	acked := opid.ID{Term: 1, Index: 2}
	w := watermark.PeerWatermark{Received: acked, Replicated: acked, SafeCommit: opid.Zero}
	q.ApplyResponse("A", w)
	q.ApplyResponse("B", w)
	q.ApplyResponse("C", w)

	require.NoError(t, q.Append(q.NewTracker(replicateOp(t, 5, 300))))

	_, err := q.GetOperationStatus(opid.ID{Term: 1, Index: 1})
	assert.Error(t, err)
	_, err = q.GetOperationStatus(opid.ID{Term: 1, Index: 2})
	assert.Error(t, err)

	for _, idx := range []uint64{3, 4, 5} {
		_, err := q.GetOperationStatus(opid.ID{Term: 1, Index: idx})
		assert.NoError(t, err)
	}

	assert.EqualValues(t, 900, q.QueueBytes())
}

// S3 — hard-limit rejection.
func TestScenario_HardLimitRejection(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: 1024, LocalHardBytes: 2048, MaxBatchBytes: unbounded}, 2, 3)

	for i := uint64(1); i <= 6; i++ {
		require.NoError(t, q.Append(q.NewTracker(replicateOp(t, i, 300))))
	}

	err := q.Append(q.NewTracker(replicateOp(t, 7, 300)))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueueFull, errors.GetCode(err))

	m := q.SnapshotMetrics()
	assert.EqualValues(t, 6, m.TotalOps)
}

// S4 — COMMIT bypass of a full queue.
func TestScenario_CommitBypass(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: 1024, LocalHardBytes: 2048, MaxBatchBytes: unbounded}, 2, 3)

	for i := uint64(1); i <= 6; i++ {
		require.NoError(t, q.Append(q.NewTracker(replicateOp(t, i, 300))))
	}

	commit := commitOp(t, 7, 6, 300)
	require.NoError(t, q.Append(q.NewTracker(commit)))

	assert.Greater(t, q.QueueBytes(), int64(2048))
}

// S5 — independent REPLICATE/COMMIT acks.
func TestScenario_IndependentReplicateCommitAcks(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)

	replicate := replicateOp(t, 1, 100)
	require.NoError(t, q.Append(q.NewTracker(replicate)))

	commit := commitOp(t, 2, 2, 100)
	require.NoError(t, q.Append(q.NewTracker(commit)))

	require.NoError(t, q.TrackPeer("A", opid.Zero))

	q.ApplyResponse("A", watermark.PeerWatermark{
		Received:   opid.ID{Term: 1, Index: 2},
		Replicated: opid.ID{Term: 1, Index: 1},
		SafeCommit: opid.Zero,
	})

	replicateOST, err := q.GetOperationStatus(opid.ID{Term: 1, Index: 1})
	require.NoError(t, err)
	assert.True(t, replicateOST.IsAcked("A"))

	commitOST, err := q.GetOperationStatus(opid.ID{Term: 1, Index: 2})
	require.NoError(t, err)
	assert.False(t, commitOST.IsAcked("A"))

	q.ApplyResponse("A", watermark.PeerWatermark{
		Received:   opid.ID{Term: 1, Index: 2},
		Replicated: opid.ID{Term: 1, Index: 1},
		SafeCommit: opid.ID{Term: 1, Index: 2},
	})

	commitOST, err = q.GetOperationStatus(opid.ID{Term: 1, Index: 2})
	require.NoError(t, err)
	assert.True(t, commitOST.IsAcked("A"))
}

// S6 — batch cap.
func TestScenario_BatchCap(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: 500}, 1, 1)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Append(q.NewTracker(replicateOp(t, i, 200))))
	}
	require.NoError(t, q.TrackPeer("A", opid.Zero))

	batch, err := q.BuildRequest("A", 500)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, opid.ID{Term: 1, Index: 1}, batch[0].OpID())
	assert.Equal(t, opid.ID{Term: 1, Index: 2}, batch[1].OpID())

	batch, err = q.BuildRequest("A", 500)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, opid.ID{Term: 1, Index: 1}, batch[0].OpID())
}

// B1 — COMMIT bypass even with both budgets exceeded is covered by S4.

// B2 — a REPLICATE bigger than max_batch_bytes is still delivered alone.
func TestBoundary_SingletonBatchExceedsCap(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: 100}, 1, 1)

	require.NoError(t, q.Append(q.NewTracker(replicateOp(t, 1, 300))))
	require.NoError(t, q.TrackPeer("A", opid.Zero))

	batch, err := q.BuildRequest("A", 100)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

// B3 — tracking a peer above every buffered OpId yields no batch.
func TestBoundary_PeerAheadOfBuffer(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)

	require.NoError(t, q.Append(q.NewTracker(replicateOp(t, 1, 100))))
	require.NoError(t, q.TrackPeer("A", opid.ID{Term: 5, Index: 0}))

	batch, err := q.BuildRequest("A", unbounded)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

// I6 — closing the queue rejects further appends.
func TestInvariant_CloseRejectsAppend(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)
	q.Close()

	err := q.Append(q.NewTracker(replicateOp(t, 1, 100)))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueueClosed, errors.GetCode(err))
}

// P1 — applying the same response twice is a no-op on acks and counters.
func TestProperty_ApplySameResponseTwiceIsNoOp(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 2)

	require.NoError(t, q.Append(q.NewTracker(replicateOp(t, 1, 100))))
	require.NoError(t, q.TrackPeer("A", opid.Zero))
	require.NoError(t, q.TrackPeer("B", opid.Zero))

	last := opid.ID{Term: 1, Index: 1}
	w := watermark.PeerWatermark{Received: last, Replicated: last, SafeCommit: opid.Zero}

	q.ApplyResponse("A", w)
	first := q.SnapshotMetrics()

	q.ApplyResponse("A", w)
	second := q.SnapshotMetrics()

	assert.Equal(t, first, second)
}

func TestTrackPeerDuplicateFails(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)
	require.NoError(t, q.TrackPeer("A", opid.Zero))

	err := q.TrackPeer("A", opid.Zero)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyTracked, errors.GetCode(err))
}

func TestBuildRequestUnknownPeer(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)

	_, err := q.BuildRequest("ghost", unbounded)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownPeer, errors.GetCode(err))
}

func TestApplyResponseUnknownPeerIsSafe(t *testing.T) {
	q := newQueue(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)

	more := q.ApplyResponse("ghost", watermark.PeerWatermark{})
	assert.False(t, more)
}

// Open question (response monotonicity): a regressing watermark is still
// applied, but logged.
func TestApplyResponseRegressionIsLoggedNotRejected(t *testing.T) {
	q, logs := newQueueWithObservedLogger(t, queue.Config{LocalSoftBytes: unbounded, LocalHardBytes: unbounded, MaxBatchBytes: unbounded}, 1, 1)

	require.NoError(t, q.TrackPeer("A", opid.Zero))

	advanced := opid.ID{Term: 1, Index: 5}
	q.ApplyResponse("A", watermark.PeerWatermark{Received: advanced, Replicated: advanced, SafeCommit: opid.Zero})

	stale := opid.ID{Term: 1, Index: 2}
	more := q.ApplyResponse("A", watermark.PeerWatermark{Received: stale, Replicated: stale, SafeCommit: opid.Zero})

	assert.False(t, more)
	assert.Equal(t, 1, logs.FilterMessage("peer watermark regressed, applying anyway").Len())
}
