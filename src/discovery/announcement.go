package discovery

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shoplane/factsync/src/crypto/keys"
)

// Announcement is the discovery message a device broadcasts.
type Announcement struct {
	DeviceID  string
	PubKey    string
	Moniker   string
	NetAddr   string
	TopHash   string
	Count     int
	Timestamp int64
	Signature string
}

// NewAnnouncement returns an unsigned announcement stamped with the current
// time.
func NewAnnouncement(pub *ecdsa.PublicKey, moniker, netAddr, topHash string, count int) *Announcement {
	return &Announcement{
		DeviceID:  keys.DeviceID(pub),
		PubKey:    keys.PublicKeyHex(pub),
		Moniker:   moniker,
		NetAddr:   netAddr,
		TopHash:   topHash,
		Count:     count,
		Timestamp: time.Now().UnixNano(),
	}
}

func (a *Announcement) payload() []byte {
	return []byte(strings.Join([]string{
		a.DeviceID,
		a.PubKey,
		a.Moniker,
		a.NetAddr,
		a.TopHash,
		strconv.Itoa(a.Count),
		strconv.FormatInt(a.Timestamp, 10),
	}, "\n"))
}

// Sign sets the signature of the announcement.
func (a *Announcement) Sign(priv *ecdsa.PrivateKey) error {
	r, s, err := keys.Sign(priv, a.payload())
	if err != nil {
		return err
	}
	a.Signature = keys.EncodeSignature(r, s)
	return nil
}

// Verify checks that the announcement is signed by the key it carries and
// that the device ID belongs to that key.
func (a *Announcement) Verify() error {
	if a.Signature == "" {
		return errors.New("announcement is not signed")
	}

	pub, err := keys.PublicKeyFromHex(a.PubKey)
	if err != nil {
		return fmt.Errorf("announcement public key: %w", err)
	}

	if id := keys.DeviceID(pub); id != a.DeviceID {
		return fmt.Errorf("device ID %s does not match public key (%s)", a.DeviceID, id)
	}

	r, s, err := keys.DecodeSignature(a.Signature)
	if err != nil {
		return err
	}

	if !keys.Verify(pub, a.payload(), r, s) {
		return errors.New("invalid announcement signature")
	}

	return nil
}

// Time returns the time the announcement was made.
func (a *Announcement) Time() time.Time {
	return time.Unix(0, a.Timestamp)
}
