package model

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"leaderqueue/internal/opid"
	"leaderqueue/internal/util"
)

// Kind distinguishes the two operation payloads the queue ever carries
// (spec §3).
type Kind int

const (
	// KindReplicate is a user write to be durably replicated.
	KindReplicate Kind = iota
	// KindCommit notifies that some previously replicated OpId is now
	// committed and may be applied.
	KindCommit
)

func (k Kind) String() string {
	switch k {
	case KindReplicate:
		return "REPLICATE"
	case KindCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// Operation is the opaque payload the queue measures and moves, but never
// interprets (spec §6). The queue only ever calls OpID, Kind, ByteSize and,
// for dumps, CommittedOpID.
type Operation interface {
	OpID() opid.ID
	Kind() Kind
	ByteSize() uint32
	// CommittedOpID returns the target OpId for a COMMIT operation. It is
	// meaningless (ok == false) for REPLICATE.
	CommittedOpID() (id opid.ID, ok bool)
}

// payloadOperation is the concrete Operation carried by this repo. The
// user write (or, for a COMMIT, the fact of a commit) is wrapped in a
// protobuf Any so byte size is a real serialized size (proto.Size), not an
// estimate — the "opaque payload whose byte size it can measure" of §1.
type payloadOperation struct {
	id            opid.ID
	kind          Kind
	payload       *anypb.Any
	committedID   opid.ID
	hasCommitted  bool
}

// NewReplicateOperation wraps an arbitrary user write. payload is typically
// produced by anypb.New on the caller's own proto.Message; callers with a
// plain []byte can use wrapperspb.Bytes.
func NewReplicateOperation(id opid.ID, payload *anypb.Any) Operation {
	return &payloadOperation{id: id, kind: KindReplicate, payload: payload}
}

// NewReplicateBytes is a convenience constructor for callers that only have
// raw bytes, wrapping them in a wrapperspb.BytesValue Any.
func NewReplicateBytes(id opid.ID, data []byte) (Operation, error) {
	any, err := anypb.New(wrapperspb.Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("wrap replicate payload: %w", err)
	}
	return NewReplicateOperation(id, any), nil
}

// NewReplicateBytesChecked wraps data the same way NewReplicateBytes does,
// but first appends a CRC32 checksum (spec §9's optional payload integrity
// check, carried over from the teacher's commit-log checksumming). Pair
// with VerifyReplicatePayload on the receiving side.
func NewReplicateBytesChecked(id opid.ID, data []byte) (Operation, error) {
	return NewReplicateBytes(id, util.AppendChecksum(data))
}

// VerifyReplicatePayload strips and validates the checksum appended by
// NewReplicateBytesChecked, returning the original payload and whether the
// checksum matched.
func VerifyReplicatePayload(checked []byte) ([]byte, bool) {
	return util.ValidateAndStripChecksum(checked)
}

// NewCommitOperation marks committedID as now safe to apply.
func NewCommitOperation(id, committedID opid.ID) Operation {
	any, _ := anypb.New(wrapperspb.String(committedID.String()))
	return &payloadOperation{
		id:           id,
		kind:         KindCommit,
		payload:      any,
		committedID:  committedID,
		hasCommitted: true,
	}
}

func (o *payloadOperation) OpID() opid.ID { return o.id }
func (o *payloadOperation) Kind() Kind    { return o.kind }

func (o *payloadOperation) ByteSize() uint32 {
	if o.payload == nil {
		return 0
	}
	return uint32(proto.Size(o.payload))
}

func (o *payloadOperation) CommittedOpID() (opid.ID, bool) {
	return o.committedID, o.hasCommitted
}
