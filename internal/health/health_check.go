// Package health runs the periodic liveness/readiness checks the teacher's
// storage node exposes for orchestrators, adapted to report queue state
// (open/closed) instead of disk and file-descriptor pressure — this
// process holds nothing on disk.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"leaderqueue/internal/model"
)

// StateProvider is the subset of *queue.Queue the health checker needs. It
// is an interface, not a concrete type, so tests can fake a closed queue
// without constructing a real one.
type StateProvider interface {
	State() model.QueueState
	SnapshotMetrics() model.QueueMetricsSnapshot
}

// HealthChecker polls a queue's state on an interval and serves the result
// over liveness/readiness HTTP handlers.
type HealthChecker struct {
	tabletID string
	queue    StateProvider
	logger   *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	livenessOK  bool
	readinessOK bool
}

// HealthCheckConfig names the tablet and the queue backing the checks.
type HealthCheckConfig struct {
	TabletID string
	Queue    StateProvider
}

// NewHealthChecker creates a checker for cfg.Queue.
func NewHealthChecker(cfg *HealthCheckConfig, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		tabletID:    cfg.TabletID,
		queue:       cfg.Queue,
		logger:      logger,
		livenessOK:  true,
		readinessOK: true,
	}
}

// Start runs checks on a 10-second interval until ctx is cancelled.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	h.runHealthCheck()

	for {
		select {
		case <-ticker.C:
			h.runHealthCheck()
		case <-ctx.Done():
			h.logger.Info("health checker stopped")
			return
		}
	}
}

func (h *HealthChecker) runHealthCheck() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	h.livenessOK = true
	h.readinessOK = h.queue.State() == model.QueueStateOpen

	h.logger.Debug("health check completed",
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

// IsLive reports the liveness probe result.
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady reports the readiness probe result.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns a full status snapshot for diagnostics.
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		TabletID:  h.tabletID,
		State:     h.queue.State(),
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.queue.SnapshotMetrics(),
	}
}

// SetLiveness manually overrides liveness, for tests.
func (h *HealthChecker) SetLiveness(live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessOK = live
}

// SetReadiness manually overrides readiness, for graceful-shutdown drains.
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler serves the liveness probe over HTTP.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"healthy": live})
}

// ReadinessHandler serves the readiness probe over HTTP.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !h.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready": h.IsReady(),
		"state": status.State,
	})
}
