package peers

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/crypto/keys"
)

func newTestPeers(t *testing.T, n int) ([]*Peer, map[string]*ecdsa.PrivateKey) {
	privs := map[string]*ecdsa.PrivateKey{}
	peers := []*Peer{}
	for i := 0; i < n; i++ {
		key, err := keys.GenerateECDSAKey()
		require.NoError(t, err)
		peer := NewPeer(keys.PublicKeyHex(&key.PublicKey), fmt.Sprintf("addr%d", i), fmt.Sprintf("peer%d", i))
		peers = append(peers, peer)
		privs[peer.NetAddr] = key
	}
	return peers, privs
}

func TestPeerID(t *testing.T) {
	peers, privs := newTestPeers(t, 1)
	p := peers[0]

	assert.Equal(t, keys.DeviceID(&privs[p.NetAddr].PublicKey), p.ID())
	assert.Len(t, p.ID(), keys.DeviceIDLen)

	lower := NewPeer(strings.ToLower(strings.TrimPrefix(p.PubKeyHex, "0X")), p.NetAddr, "")
	assert.Equal(t, p.PubKeyHex, lower.PubKeyHex)
	assert.Equal(t, p.ID(), lower.ID())

	bad := NewPeer("0X00", "addr", "")
	assert.Equal(t, "", bad.ID())
}

func TestJSONPeers(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONPeers(dir)

	// No file means no peers.
	ps, err := store.Peers()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("peers: %v", ps)
	}

	peers, privs := newTestPeers(t, 3)
	if err := store.Write(peers); err != nil {
		t.Fatalf("err: %v", err)
	}

	ps, err = store.Peers()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(ps) != 3 {
		t.Fatalf("peers: %v", ps)
	}

	for i := 0; i < 3; i++ {
		if ps[i].NetAddr != peers[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i, peers[i].NetAddr, ps[i].NetAddr)
		}
		if ps[i].Moniker != peers[i].Moniker {
			t.Fatalf("peers[%d] Moniker should be %s, not %s", i, peers[i].Moniker, ps[i].Moniker)
		}
		if ps[i].ID() != peers[i].ID() {
			t.Fatalf("peers[%d] ID should be %s, not %s", i, peers[i].ID(), ps[i].ID())
		}
		pubKeyBytes, err := ps[i].PubKeyBytes()
		if err != nil {
			t.Fatal(err)
		}
		pubKey := keys.ToPublicKey(pubKeyBytes)
		if !reflect.DeepEqual(*pubKey, privs[ps[i].NetAddr].PublicKey) {
			t.Fatalf("peers[%d] PublicKey not parsed correctly", i)
		}
	}
}

func TestJSONPeersMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonPeerPath), []byte("{not json"), 0600))

	_, err := NewJSONPeers(dir).Peers()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonPeerPath), []byte("  \n"), 0600))
	ps, err := NewJSONPeers(dir).Peers()
	assert.NoError(t, err)
	assert.Empty(t, ps)
}

func TestPeerSet(t *testing.T) {
	peers, _ := newTestPeers(t, 3)
	ps := NewPeerSet(peers[:1])
	assert.Equal(t, 1, ps.Len())

	now := time.Now()
	assert.True(t, ps.Observe(peers[1], "aa", 1, now, now))
	assert.False(t, ps.Observe(peers[1], "bb", 2, now.Add(time.Second), now.Add(time.Second)))
	assert.True(t, ps.Observe(peers[2], "cc", 3, now.Add(-time.Hour), now.Add(-time.Hour)))

	info, ok := ps.Get(peers[1].ID())
	require.True(t, ok)
	assert.Equal(t, "bb", info.TopHash)
	assert.Equal(t, 2, info.Count)
	assert.False(t, info.Static)

	ps.MarkSynced(peers[1].ID(), "dd", now)
	info, _ = ps.Get(peers[1].ID())
	assert.Equal(t, "dd", info.TopHash)
	assert.Equal(t, now, info.LastSync)

	infos := ps.Infos()
	require.Len(t, infos, 3)
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].ID(), infos[i].ID())
	}

	// The static peer has never been seen but does not expire.
	expired := ps.Expire(now.Add(-time.Minute))
	assert.Equal(t, []string{peers[2].ID()}, expired)
	assert.Equal(t, 2, ps.Len())

	_, ok = ps.Get(peers[0].ID())
	assert.True(t, ok)

	ps.Remove(peers[0].ID())
	assert.Equal(t, 1, ps.Len())
	assert.Len(t, ps.Peers(), 1)
}

func TestExpireUsesLocalClock(t *testing.T) {
	peers, _ := newTestPeers(t, 3)
	ps := NewPeerSet(nil)

	now := time.Now()
	expiry := 5 * time.Minute

	// Clock 10 minutes behind, heard just now.
	ps.Observe(peers[0], "aa", 1, now.Add(-10*time.Minute), now)
	// Clock a day ahead, last heard 10 minutes ago.
	ps.Observe(peers[1], "bb", 1, now.Add(24*time.Hour), now.Add(-10*time.Minute))
	// Accurate clock, heard a minute ago.
	ps.Observe(peers[2], "cc", 1, now.Add(-time.Minute), now.Add(-time.Minute))

	expired := ps.Expire(now.Add(-expiry))
	assert.Equal(t, []string{peers[1].ID()}, expired)

	info, ok := ps.Get(peers[0].ID())
	require.True(t, ok)
	assert.Equal(t, now.Add(-10*time.Minute), info.Announced)
	assert.Equal(t, now, info.LastSeen)

	_, ok = ps.Get(peers[2].ID())
	assert.True(t, ok)
}

func TestExcludePeer(t *testing.T) {
	peers, _ := newTestPeers(t, 3)
	index, others := ExcludePeer(peers, peers[1].ID())
	assert.Equal(t, 1, index)
	assert.Len(t, others, 2)

	index, others = ExcludePeer(peers, "unknown")
	assert.Equal(t, -1, index)
	assert.Len(t, others, 3)
}
