package node

import (
	"context"
	"crypto/ecdsa"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shoplane/factsync/src/crypto/keys"
	"github.com/shoplane/factsync/src/discovery"
	"github.com/shoplane/factsync/src/net"
	"github.com/shoplane/factsync/src/peers"
)

// maxRecentSessions is the number of finished sessions kept for stats.
const maxRecentSessions = 16

// Node defines a factsync node
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	key *ecdsa.PrivateKey
	id  string

	core      *Core
	projector *Projector

	trans net.Transport
	netCh <-chan net.RPC

	disc discovery.Discovery

	peers        *peers.PeerSet
	peerSelector PeerSelector

	controlTimer *ControlTimer
	announcer    *rate.Limiter

	sessionLock    sync.Mutex
	activeSessions map[string]string
	recentSessions []SessionStats
	syncRequests   int
	syncErrors     int

	registry *prometheus.Registry
	metrics  *metrics

	shutdownCh chan struct{}

	start time.Time
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	key *ecdsa.PrivateKey,
	core *Core,
	peerSet *peers.PeerSet,
	trans net.Transport,
	disc discovery.Discovery,
) *Node {
	id := keys.DeviceID(&key.PublicKey)
	registry := prometheus.NewRegistry()

	burst := conf.AnnounceBurst
	if burst <= 0 {
		burst = 1
	}

	node := Node{
		conf:           conf,
		logger:         conf.Logger.WithField("this_id", id),
		key:            key,
		id:             id,
		core:           core,
		projector:      NewProjector(core),
		trans:          trans,
		netCh:          trans.Consumer(),
		disc:           disc,
		peers:          peerSet,
		peerSelector:   NewRandomPeerSelector(peerSet, id),
		controlTimer:   NewRandomControlTimer(),
		announcer:      rate.NewLimiter(rate.Every(conf.HeartbeatTimeout), burst),
		activeSessions: make(map[string]string),
		registry:       registry,
		metrics:        newMetrics(registry),
		shutdownCh:     make(chan struct{}),
	}

	return &node
}

// RunAsync calls Run as a separate thread. Shutdown waits for it to return.
func (n *Node) RunAsync() {
	n.goFunc(n.Run)
}

// Run invokes the main loop of the node. It returns after Shutdown.
func (n *Node) Run() {
	n.start = time.Now()
	n.setState(Running)

	n.logger.WithFields(logrus.Fields{
		"addr":     n.trans.AdvertiseAddr(),
		"facts":    n.core.Len(),
		"top_hash": n.core.TopHash(),
		"peers":    n.peers.Len(),
	}).Info("Node running")

	go n.trans.Listen()
	go n.disc.Listen()
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)
	n.goFunc(n.doBackgroundWork)

	// Joining the network is announced like a change.
	n.announce("join")

	announceTicker := time.NewTicker(n.conf.AnnounceInterval)
	defer announceTicker.Stop()

	pendingAnnounce := false

	for {
		select {
		case <-n.shutdownCh:
			return
		default:
		}

		select {
		case <-n.core.Changes():
			n.metrics.facts.Set(float64(n.core.Len()))
			if n.announcer.Allow() {
				n.announce("change")
				pendingAnnounce = false
			} else {
				pendingAnnounce = true
			}
		case <-n.controlTimer.tickCh:
			if pendingAnnounce && n.announcer.Allow() {
				n.announce("change")
				pendingAnnounce = false
			}
			n.heartbeat()
			n.controlTimer.Reset(n.conf.HeartbeatTimeout)
		case <-announceTicker.C:
			n.announce("interval")
			pendingAnnounce = false
			n.expirePeers()
			n.logStats()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case <-n.shutdownCh:
			return
		default:
		}

		select {
		case rpc := <-n.netCh:
			n.processRPC(rpc)
		case a := <-n.disc.Consumer():
			n.processAnnouncement(a)
		case <-n.shutdownCh:
			return
		}
	}
}

// announce broadcasts the top hash of the local tree.
func (n *Node) announce(reason string) {
	a := discovery.NewAnnouncement(
		&n.key.PublicKey,
		n.conf.Moniker,
		n.trans.AdvertiseAddr(),
		n.core.TopHash(),
		n.core.Len(),
	)

	if err := a.Sign(n.key); err != nil {
		n.logger.WithError(err).Error("Signing announcement")
		return
	}

	if err := n.disc.Announce(a); err != nil {
		n.logger.WithError(err).Debug("Announce")
		n.metrics.announcements.WithLabelValues("send_error").Inc()
		return
	}

	n.metrics.announcements.WithLabelValues("sent").Inc()

	n.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"top_hash": a.TopHash,
	}).Debug("Announced")
}

func (n *Node) processAnnouncement(a discovery.Announcement) {
	if a.DeviceID == n.id {
		return
	}

	logger := n.logger.WithFields(logrus.Fields{
		"peer":     a.DeviceID,
		"top_hash": a.TopHash,
	})

	if err := a.Verify(); err != nil {
		logger.WithError(err).Debug("Invalid announcement")
		n.metrics.announcements.WithLabelValues("invalid").Inc()
		return
	}

	if info, ok := n.peers.Get(a.DeviceID); ok && !a.Time().After(info.Announced) {
		n.metrics.announcements.WithLabelValues("stale").Inc()
		return
	}

	peer := peers.NewPeer(a.PubKey, a.NetAddr, a.Moniker)
	if n.peers.Observe(peer, a.TopHash, a.Count, a.Time(), time.Now()) {
		logger.WithField("addr", a.NetAddr).Info("Discovered peer")
		n.metrics.peers.Set(float64(n.peers.Len()))
	}

	if a.TopHash == n.core.TopHash() {
		n.metrics.announcements.WithLabelValues("in_sync").Inc()
		return
	}

	n.metrics.announcements.WithLabelValues("out_of_sync").Inc()
	n.StartSession(peer)
}

// heartbeat picks a peer that is not known to hold the local top hash and
// synchronizes with it. Static peers may not be heard from at all, so they are
// also polled once per announce interval.
func (n *Node) heartbeat() {
	top := n.core.TopHash()
	poll := time.Now().Add(-n.conf.AnnounceInterval)

	peer := n.peerSelector.Next(func(info peers.Info) bool {
		if info.TopHash != top {
			return true
		}
		return info.Static && info.LastSync.Before(poll)
	})
	if peer == nil {
		return
	}

	n.peerSelector.UpdateLast(peer.ID())
	n.StartSession(peer)
}

func (n *Node) expirePeers() {
	if n.conf.PeerExpiry <= 0 {
		return
	}
	for _, id := range n.peers.Expire(time.Now().Add(-n.conf.PeerExpiry)) {
		n.logger.WithField("peer", id).Info("Peer expired")
	}
	n.metrics.peers.Set(float64(n.peers.Len()))
}

// StartSession starts a background sync session with peer. It returns false
// if a session with that peer is already running, if MaxSessions sessions
// are running, or if the node is shutting down.
func (n *Node) StartSession(peer *peers.Peer) bool {
	if n.getState() != Running {
		return false
	}

	id := peer.ID()

	n.sessionLock.Lock()
	if _, busy := n.activeSessions[id]; busy || len(n.activeSessions) >= n.conf.MaxSessions {
		n.sessionLock.Unlock()
		return false
	}
	n.activeSessions[id] = peer.NetAddr
	n.sessionLock.Unlock()

	release := func() {
		n.sessionLock.Lock()
		delete(n.activeSessions, id)
		n.sessionLock.Unlock()
	}

	started := n.goFunc(func() {
		defer release()
		n.Sync(context.Background(), peer)
	})
	if !started {
		release()
	}

	return started
}

// Sync runs a session with peer and waits for it to finish.
func (n *Node) Sync(ctx context.Context, peer *peers.Peer) (SessionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, n.conf.SessionTimeout)
	defer cancel()

	session := NewSession(n.core, n.trans, n.id, peer.ID(), peer.NetAddr, n.conf.SyncLimit, n.logger)
	stats, err := session.Run(ctx)

	n.metrics.sessionRounds.Observe(float64(stats.Rounds))
	n.metrics.records.WithLabelValues("fetched").Add(float64(stats.Applied))
	n.metrics.records.WithLabelValues("sent").Add(float64(stats.Sent))

	logger := n.logger.WithFields(logrus.Fields{
		"session": stats.ID,
		"peer":    peer.ID(),
		"rounds":  stats.Rounds,
		"fetched": stats.Fetched,
		"applied": stats.Applied,
		"sent":    stats.Sent,
	})

	if err != nil {
		stats.Error = err.Error()
		n.metrics.sessions.WithLabelValues("aborted").Inc()
		logger.WithError(err).Debug("Session aborted")
	} else {
		n.metrics.sessions.WithLabelValues("completed").Inc()
		n.peers.MarkSynced(peer.ID(), n.core.TopHash(), time.Now())
		logger.Debug("Session completed")
	}

	n.recordSession(stats, err)

	return stats, err
}

func (n *Node) recordSession(stats SessionStats, err error) {
	n.sessionLock.Lock()
	defer n.sessionLock.Unlock()

	n.syncRequests++
	if err != nil {
		n.syncErrors++
	}

	n.recentSessions = append(n.recentSessions, stats)
	if len(n.recentSessions) > maxRecentSessions {
		n.recentSessions = n.recentSessions[len(n.recentSessions)-maxRecentSessions:]
	}
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)

		close(n.shutdownCh)

		n.controlTimer.Shutdown()

		// Running sessions end with a transport error once the transport is
		// closed.
		n.trans.Close()
		n.disc.Close()

		n.waitRoutines()

		n.core.Close()
	}
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.sessionLock.Lock()
	active := len(n.activeSessions)
	n.sessionLock.Unlock()

	s := map[string]string{
		"id":              n.id,
		"moniker":         n.conf.Moniker,
		"state":           n.getState().String(),
		"addr":            n.trans.AdvertiseAddr(),
		"facts":           strconv.Itoa(n.core.Len()),
		"top_hash":        n.core.TopHash(),
		"num_peers":       strconv.Itoa(n.peers.Len()),
		"active_sessions": strconv.Itoa(active),
		"sync_rate":       strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"uptime":          time.Since(n.start).Round(time.Second).String(),
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}

	n.logger.WithFields(fields).Debug("Stats")
}

// SyncRate returns the fraction of sessions that completed.
func (n *Node) SyncRate() float64 {
	n.sessionLock.Lock()
	defer n.sessionLock.Unlock()

	var syncErrorRate float64

	if n.syncRequests != 0 {
		syncErrorRate = float64(n.syncErrors) / float64(n.syncRequests)
	}

	return 1 - syncErrorRate
}

// RecentSessions returns the last finished sessions, oldest first.
func (n *Node) RecentSessions() []SessionStats {
	n.sessionLock.Lock()
	defer n.sessionLock.Unlock()

	return append([]SessionStats{}, n.recentSessions...)
}

// ID returns the device ID of the node.
func (n *Node) ID() string {
	return n.id
}

// GetState returns the state of the node.
func (n *Node) GetState() State {
	return n.getState()
}

// Core returns the fact set of the node.
func (n *Node) Core() *Core {
	return n.core
}

// Projector returns the time-travel projector of the node.
func (n *Node) Projector() *Projector {
	return n.projector
}

// GetPeers returns the known peers.
func (n *Node) GetPeers() []peers.Info {
	return n.peers.Infos()
}

// Registry returns the registry holding the node metrics.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}
