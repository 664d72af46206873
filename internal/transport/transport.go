// Package transport sends per-peer request batches to followers and
// collects their watermark reports, the way the teacher's coordinator
// client dials out and retries. No generated consensus RPC stubs exist in
// this repo's dependency set, so GRPCHealthTransport rides on the
// standard gRPC health-checking protocol: a successful health check
// doubles as the peer's ack for everything offered, in lieu of a real
// AppendEntries response.
package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"leaderqueue/internal/model"
	"leaderqueue/internal/watermark"
)

// PeerResponse is what a peer reports back after processing a batch.
type PeerResponse struct {
	Watermark watermark.PeerWatermark
}

// PeerTransport sends batch to peerID and returns its reported watermark.
type PeerTransport interface {
	SendRequest(ctx context.Context, peerID watermark.PeerID, batch []model.Operation) (PeerResponse, error)
}

// LoopbackTransport acks every offered operation immediately, advancing
// all three watermark fields to the batch's last OpId. It is meant for
// tests and single-process demos where no real peer exists.
type LoopbackTransport struct{}

// NewLoopbackTransport creates a transport that always fully acks.
func NewLoopbackTransport() *LoopbackTransport { return &LoopbackTransport{} }

func (t *LoopbackTransport) SendRequest(ctx context.Context, peerID watermark.PeerID, batch []model.Operation) (PeerResponse, error) {
	if len(batch) == 0 {
		return PeerResponse{}, fmt.Errorf("loopback transport: empty batch for peer %q", peerID)
	}
	last := batch[len(batch)-1].OpID()
	return PeerResponse{Watermark: watermark.PeerWatermark{
		Received:   last,
		Replicated: last,
		SafeCommit: last,
	}}, nil
}

// GRPCHealthTransport dials a real peer address and uses its gRPC health
// endpoint as a stand-in acknowledgement channel.
type GRPCHealthTransport struct {
	addr          string
	dialTimeout   time.Duration
	retryInterval time.Duration
	maxRetries    int
	logger        *zap.Logger

	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewGRPCHealthTransport dials addr, retrying up to maxRetries times with
// retryInterval between attempts, the way RegisterWithRetry does.
func NewGRPCHealthTransport(ctx context.Context, addr string, dialTimeout, retryInterval time.Duration, maxRetries int, logger *zap.Logger) (*GRPCHealthTransport, error) {
	t := &GRPCHealthTransport{
		addr:          addr,
		dialTimeout:   dialTimeout,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		logger:        logger,
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := grpc.DialContext(dialCtx, addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock())
		cancel()

		if err == nil {
			t.conn = conn
			t.client = healthpb.NewHealthClient(conn)
			return t, nil
		}

		lastErr = err
		logger.Warn("failed to dial peer, retrying",
			zap.String("addr", addr), zap.Int("attempt", attempt), zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled dialing %s: %w", addr, ctx.Err())
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, fmt.Errorf("failed to dial %s after %d attempts: %w", addr, maxRetries, lastErr)
}

// SendRequest checks peer health; a SERVING response acks the whole batch.
func (t *GRPCHealthTransport) SendRequest(ctx context.Context, peerID watermark.PeerID, batch []model.Operation) (PeerResponse, error) {
	if len(batch) == 0 {
		return PeerResponse{}, fmt.Errorf("grpc health transport: empty batch for peer %q", peerID)
	}

	resp, err := t.client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return PeerResponse{}, fmt.Errorf("health check peer %q: %w", peerID, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return PeerResponse{}, fmt.Errorf("peer %q not serving", peerID)
	}

	last := batch[len(batch)-1].OpID()
	return PeerResponse{Watermark: watermark.PeerWatermark{
		Received:   last,
		Replicated: last,
		SafeCommit: last,
	}}, nil
}

// Close tears down the underlying connection.
func (t *GRPCHealthTransport) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
