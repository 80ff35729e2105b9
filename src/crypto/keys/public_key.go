package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/crypto"
)

// DeviceIDLen is the number of hex characters in a device ID.
const DeviceIDLen = 16

// ToPublicKey parses the uncompressed form of a point on Curve(), as returned
// by FromPublicKey.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	x, y := elliptic.Unmarshal(Curve(), pub)
	if x == nil {
		return nil
	}
	return &ecdsa.PublicKey{Curve: Curve(), X: x, Y: y}
}

// FromPublicKey outputs the public key in uncompressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(Curve(), pub.X, pub.Y)
}

// PublicKeyHex returns the 0X-prefixed hex form of the uncompressed public
// key.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// PublicKeyFromHex parses the output of PublicKeyHex.
func PublicKeyFromHex(s string) (*ecdsa.PublicKey, error) {
	raw, err := common.DecodeFromString(s)
	if err != nil {
		return nil, err
	}
	pub := ToPublicKey(raw)
	if pub == nil {
		return nil, fmt.Errorf("not a point on the curve: %s", s)
	}
	return pub, nil
}

// DeviceID derives the stable identifier of a device from its public key: the
// first DeviceIDLen hex characters of the SHA256 of the uncompressed key.
func DeviceID(pub *ecdsa.PublicKey) string {
	digest := crypto.SHA256(FromPublicKey(pub))
	return common.EncodeHash(digest)[:DeviceIDLen]
}
