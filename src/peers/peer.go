package peers

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shoplane/factsync/src/crypto/keys"
)

// Peer is a device a node can synchronize with.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id string
}

// NewPeer creates a Peer and derives its device ID.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	p := &Peer{
		NetAddr:   netAddr,
		PubKeyHex: pubKeyHex,
		Moniker:   moniker,
	}
	p.cleanse()
	return p
}

// cleanse standardises the public key string to the format derived from a
// private key.
func (p *Peer) cleanse() {
	p.PubKeyHex = "0X" + strings.TrimPrefix(strings.ToUpper(p.PubKeyHex), "0X")
}

// ID returns the device ID of the peer, or an empty string if the public key
// is malformed.
func (p *Peer) ID() string {
	if p.id == "" {
		pub, err := keys.PublicKeyFromHex(p.PubKeyHex)
		if err != nil {
			return ""
		}
		p.id = keys.DeviceID(pub)
	}
	return p.id
}

// PubKeyBytes decodes the public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	if len(p.PubKeyHex) < 2 {
		return nil, fmt.Errorf("public key too short: %q", p.PubKeyHex)
	}
	return hex.DecodeString(p.PubKeyHex[2:])
}

func (p *Peer) String() string {
	if p.Moniker != "" {
		return fmt.Sprintf("%s(%s)", p.Moniker, p.ID())
	}
	return p.ID()
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, id string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.ID() != id {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
