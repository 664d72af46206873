package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderqueue/internal/model"
	"leaderqueue/internal/opid"
	"leaderqueue/internal/transport"
	"leaderqueue/internal/watermark"
)

func TestLoopbackTransportAcksWholeBatch(t *testing.T) {
	lt := transport.NewLoopbackTransport()

	op1, err := model.NewReplicateBytes(opid.ID{Term: 1, Index: 1}, []byte("a"))
	require.NoError(t, err)
	op2, err := model.NewReplicateBytes(opid.ID{Term: 1, Index: 2}, []byte("b"))
	require.NoError(t, err)

	resp, err := lt.SendRequest(context.Background(), watermark.PeerID("peer-a"), []model.Operation{op1, op2})
	require.NoError(t, err)

	want := opid.ID{Term: 1, Index: 2}
	assert.Equal(t, want, resp.Watermark.Received)
	assert.Equal(t, want, resp.Watermark.Replicated)
	assert.Equal(t, want, resp.Watermark.SafeCommit)
}

func TestLoopbackTransportRejectsEmptyBatch(t *testing.T) {
	lt := transport.NewLoopbackTransport()

	_, err := lt.SendRequest(context.Background(), watermark.PeerID("peer-a"), nil)
	assert.Error(t, err)
}
