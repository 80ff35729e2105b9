package node

import (
	"math/rand"
	"sync"

	"github.com/shoplane/factsync/src/peers"
)

// PeerSelector chooses the peer to synchronize with on a heartbeat.
type PeerSelector interface {
	UpdateLast(peer string)
	Next(filter func(peers.Info) bool) *peers.Peer
}

// RandomPeerSelector picks a random peer among those accepted by the filter,
// avoiding the previous pick when there is a choice.
type RandomPeerSelector struct {
	sync.Mutex
	peers  *peers.PeerSet
	selfID string
	last   string
}

// NewRandomPeerSelector returns a RandomPeerSelector over a PeerSet. The
// device itself is never selected.
func NewRandomPeerSelector(peerSet *peers.PeerSet, selfID string) *RandomPeerSelector {
	return &RandomPeerSelector{
		peers:  peerSet,
		selfID: selfID,
	}
}

// UpdateLast sets the last peer
func (ps *RandomPeerSelector) UpdateLast(peer string) {
	ps.Lock()
	defer ps.Unlock()
	ps.last = peer
}

// Next returns a peer, or nil if no peer is eligible. A nil filter accepts
// every peer.
func (ps *RandomPeerSelector) Next(filter func(peers.Info) bool) *peers.Peer {
	ps.Lock()
	defer ps.Unlock()

	var selectable []*peers.Peer
	for _, info := range ps.peers.Infos() {
		if info.ID() == ps.selfID {
			continue
		}
		if filter == nil || filter(info) {
			selectable = append(selectable, info.Peer)
		}
	}

	if len(selectable) == 0 {
		return nil
	}

	if len(selectable) > 1 {
		_, selectable = peers.ExcludePeer(selectable, ps.last)
	}

	return selectable[rand.Intn(len(selectable))]
}
