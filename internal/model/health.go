package model

// QueueState is the lifecycle state of a replication queue (§3 Queue State).
type QueueState string

const (
	QueueStateOpen   QueueState = "open"
	QueueStateClosed QueueState = "closed"
)

// HealthStatus is a point-in-time snapshot of a queue's health, built by
// HealthChecker.GetStatus; the readiness endpoint reports its State.
type HealthStatus struct {
	TabletID  string
	State     QueueState
	Timestamp int64
	Metrics   QueueMetricsSnapshot
}

// QueueMetricsSnapshot mirrors the gauges of spec §6.
type QueueMetricsSnapshot struct {
	TotalOps        int64
	AllDoneOps      int64
	MajorityDoneOps int64
	InProgressOps   int64
	QueueBytes      int64
}
