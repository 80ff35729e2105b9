package peers

import (
	"sort"
	"sync"
	"time"
)

// Info is what a node knows about a peer. Announced is the timestamp carried
// by the peer's latest announcement, on the peer's clock. LastSeen is when that
// announcement was received, on the local clock, and drives expiry.
type Info struct {
	*Peer
	TopHash   string
	Count     int
	Static    bool
	Announced time.Time
	LastSeen  time.Time
	LastSync  time.Time
}

// PeerSet is the set of peers known to a node. It is safe for concurrent use.
type PeerSet struct {
	sync.RWMutex
	byID map[string]*Info
}

// NewPeerSet creates a PeerSet from static peers. Static peers never expire.
func NewPeerSet(static []*Peer) *PeerSet {
	ps := &PeerSet{
		byID: make(map[string]*Info),
	}
	for _, p := range static {
		if id := p.ID(); id != "" {
			ps.byID[id] = &Info{Peer: p, Static: true}
		}
	}
	return ps
}

// Observe records an announcement stamped announced by the peer and received
// locally at seen. It returns true if the peer was not known before. The
// address and moniker of a known peer are updated.
func (ps *PeerSet) Observe(peer *Peer, topHash string, count int, announced, seen time.Time) bool {
	id := peer.ID()
	if id == "" {
		return false
	}

	ps.Lock()
	defer ps.Unlock()

	info, ok := ps.byID[id]
	if !ok {
		ps.byID[id] = &Info{
			Peer:      peer,
			TopHash:   topHash,
			Count:     count,
			Announced: announced,
			LastSeen:  seen,
		}
		return true
	}

	info.Peer = &Peer{
		NetAddr:   peer.NetAddr,
		PubKeyHex: peer.PubKeyHex,
		Moniker:   peer.Moniker,
		id:        id,
	}
	info.TopHash = topHash
	info.Count = count
	info.Announced = announced
	info.LastSeen = seen
	return false
}

// MarkSynced records a completed session with the peer. The peer's top hash
// becomes the hash both sides agreed on.
func (ps *PeerSet) MarkSynced(id, topHash string, at time.Time) {
	ps.Lock()
	defer ps.Unlock()

	if info, ok := ps.byID[id]; ok {
		info.LastSync = at
		if topHash != "" {
			info.TopHash = topHash
		}
	}
}

// Get returns a copy of what is known about a peer.
func (ps *PeerSet) Get(id string) (Info, bool) {
	ps.RLock()
	defer ps.RUnlock()

	info, ok := ps.byID[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Remove forgets a peer.
func (ps *PeerSet) Remove(id string) {
	ps.Lock()
	defer ps.Unlock()
	delete(ps.byID, id)
}

// Expire forgets the discovered peers whose last announcement was received
// before since, on the local clock, and returns their IDs.
func (ps *PeerSet) Expire(since time.Time) []string {
	ps.Lock()
	defer ps.Unlock()

	expired := []string{}
	for id, info := range ps.byID {
		if !info.Static && info.LastSeen.Before(since) {
			delete(ps.byID, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// Peers returns the known peers sorted by device ID.
func (ps *PeerSet) Peers() []*Peer {
	infos := ps.Infos()
	res := make([]*Peer, len(infos))
	for i, info := range infos {
		res[i] = info.Peer
	}
	return res
}

// Infos returns copies of the peer infos sorted by device ID.
func (ps *PeerSet) Infos() []Info {
	ps.RLock()
	defer ps.RUnlock()

	res := make([]Info, 0, len(ps.byID))
	for _, info := range ps.byID {
		res = append(res, *info)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID() < res[j].ID()
	})
	return res
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.RLock()
	defer ps.RUnlock()
	return len(ps.byID)
}
