package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/crypto/keys"
)

func signedAnnouncement(t *testing.T, topHash string) *Announcement {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	a := NewAnnouncement(&key.PublicKey, "lane-tablet", "127.0.0.1:1337", topHash, 3)
	require.NoError(t, a.Sign(key))
	return a
}

func TestAnnouncementVerify(t *testing.T) {
	a := signedAnnouncement(t, "abc")
	require.NoError(t, a.Verify())

	tampered := *a
	tampered.TopHash = "def"
	assert.Error(t, tampered.Verify())

	other := signedAnnouncement(t, "abc")
	spoofed := *a
	spoofed.DeviceID = other.DeviceID
	assert.Error(t, spoofed.Verify())

	unsigned := *a
	unsigned.Signature = ""
	assert.Error(t, unsigned.Verify())

	badKey := *a
	badKey.PubKey = "0X00"
	assert.Error(t, badKey.Verify())
}

func TestInmemBus(t *testing.T) {
	bus := NewInmemBus()
	d1 := bus.Join()
	d2 := bus.Join()
	d3 := bus.Join()
	defer d1.Close()
	defer d2.Close()

	a := signedAnnouncement(t, "top")
	require.NoError(t, d1.Announce(a))

	for _, d := range []*InmemDiscovery{d2, d3} {
		select {
		case got := <-d.Consumer():
			assert.Equal(t, *a, got)
		case <-time.After(time.Second):
			t.Fatal("announcement not delivered")
		}
	}

	select {
	case <-d1.Consumer():
		t.Fatal("announcer should not receive its own announcement")
	default:
	}

	d3.Close()
	require.NoError(t, d1.Announce(a))
	select {
	case <-d3.Consumer():
		t.Fatal("closed member should not receive")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUDPDiscovery(t *testing.T) {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	receiver, err := NewUDPDiscovery("127.0.0.1:0", nil, logger)
	require.NoError(t, err)
	defer receiver.Close()
	go receiver.Listen()

	sender, err := NewUDPDiscovery("127.0.0.1:0", []string{receiver.LocalAddr()}, logger)
	require.NoError(t, err)
	defer sender.Close()

	a := signedAnnouncement(t, "cafebabe")
	require.NoError(t, sender.Announce(a))

	select {
	case got := <-receiver.Consumer():
		assert.Equal(t, *a, got)
		assert.NoError(t, got.Verify())
	case <-time.After(2 * time.Second):
		t.Fatal("announcement not received")
	}
}

func TestUDPDiscoveryBadTarget(t *testing.T) {
	_, err := NewUDPDiscovery("127.0.0.1:0", []string{"not an address"}, common.NewTestEntry(t, common.TestLogLevel))
	assert.Error(t, err)
}
