// Package membership drives peer tracking from gossip membership churn,
// adapted from the teacher's GossipService: a memberlist.Delegate and
// EventDelegate pair that calls TrackPeer/UntrackPeer as followers join
// and leave the cluster, instead of gossiping a storage node's own
// health payload.
package membership

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"leaderqueue/internal/opid"
	"leaderqueue/internal/watermark"
)

// PeerTracker is the subset of *queue.Queue the roster drives.
type PeerTracker interface {
	TrackPeer(peer watermark.PeerID, initial opid.ID) error
	UntrackPeer(peer watermark.PeerID)
}

// Config holds the memberlist knobs needed to join a gossip cluster.
type Config struct {
	NodeID         string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Roster joins a memberlist cluster and keeps a PeerTracker's tracked-peer
// set synchronized with cluster membership.
type Roster struct {
	ml      *memberlist.Memberlist
	tracker PeerTracker
	logger  *zap.Logger
}

// NewRoster creates and joins a memberlist cluster, wiring membership
// events into tracker.
func NewRoster(cfg Config, tracker PeerTracker, logger *zap.Logger) (*Roster, error) {
	r := &Roster{tracker: tracker, logger: logger}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = r
	mlConfig.Events = &eventDelegate{roster: r}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	r.ml = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("failed to join some seed nodes", zap.Error(err))
		}
	}

	return r, nil
}

// Shutdown leaves the cluster and tears down the memberlist instance.
func (r *Roster) Shutdown() error {
	return r.ml.Shutdown()
}

// NodeMeta implements memberlist.Delegate. This roster carries no
// per-node payload beyond identity.
func (r *Roster) NodeMeta(limit int) []byte { return nil }

// NotifyMsg implements memberlist.Delegate. User messages are unused.
func (r *Roster) NotifyMsg(data []byte) {}

// GetBroadcasts implements memberlist.Delegate.
func (r *Roster) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate.
func (r *Roster) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate.
func (r *Roster) MergeRemoteState(buf []byte, join bool) {}

type eventDelegate struct {
	roster *Roster
}

// NotifyJoin starts tracking the newly joined peer at the zero OpId —
// what happens when a peer first attaches with operations already
// in-flight for it is left to the operator (see DESIGN.md).
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	peer := watermark.PeerID(node.Name)
	if err := d.roster.tracker.TrackPeer(peer, opid.Zero); err != nil {
		d.roster.logger.Warn("peer join: track failed", zap.String("peer", string(peer)), zap.Error(err))
		return
	}
	d.roster.logger.Info("peer joined", zap.String("peer", string(peer)), zap.String("addr", node.Addr.String()))
}

// NotifyLeave stops tracking the departed peer.
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	peer := watermark.PeerID(node.Name)
	d.roster.tracker.UntrackPeer(peer)
	d.roster.logger.Info("peer left", zap.String("peer", string(peer)))
}

// NotifyUpdate implements memberlist.EventDelegate. Metadata updates
// don't affect tracking.
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.roster.logger.Debug("peer updated", zap.String("peer", node.Name))
}
