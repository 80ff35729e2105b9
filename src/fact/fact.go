package fact

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ugorji/go/codec"
	"golang.org/x/text/unicode/norm"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/crypto"
)

// hashDomain separates fact hashes from every other hash in the system.
const hashDomain = "factsync.fact.v1"

// Meta records who asserted a fact, from which device, and when. Timestamp is
// in Unix nanoseconds.
type Meta struct {
	Author    string `json:"author" yaml:"author" validate:"required,nfc,nocontrol"`
	Device    string `json:"device" yaml:"device" validate:"required,nfc,nocontrol"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp" validate:"gt=0"`
}

// NewMeta returns a Meta stamped with t.
func NewMeta(author, device string, t time.Time) Meta {
	return Meta{
		Author:    author,
		Device:    device,
		Timestamp: t.UnixNano(),
	}
}

// Time returns the timestamp as a time.Time.
func (m Meta) Time() time.Time {
	return time.Unix(0, m.Timestamp).UTC()
}

// Fact is an immutable statement about one property of one entity.
type Fact struct {
	Hash     string `json:"hash" yaml:"hash"`
	EntityID string `json:"entity_id" yaml:"entity_id" validate:"required,nfc,nocontrol"`
	Property string `json:"property" yaml:"property" validate:"required,nfc,nocontrol"`
	Value    string `json:"value" yaml:"value" validate:"nfc"`
	Meta     Meta   `json:"meta" yaml:"meta"`
}

// NewFact creates a Fact and computes its hash. Strings are normalized to NFC
// first so that visually identical input hashes identically on every device.
func NewFact(entityID, property, value string, meta Meta) (*Fact, error) {
	f := &Fact{
		EntityID: norm.NFC.String(entityID),
		Property: norm.NFC.String(property),
		Value:    norm.NFC.String(value),
		Meta: Meta{
			Author:    norm.NFC.String(meta.Author),
			Device:    norm.NFC.String(meta.Device),
			Timestamp: meta.Timestamp,
		},
	}

	if err := Validate(f); err != nil {
		return nil, err
	}

	h, err := f.ComputeHash()
	if err != nil {
		return nil, err
	}
	f.Hash = h

	return f, nil
}

// Canonical returns the canonical serialization the hash is computed over:
// JSON with sorted keys, excluding the hash itself. Strings are taken as they
// are, so a fact only verifies in the normalized form NewFact produces.
func (f *Fact) Canonical() ([]byte, error) {
	doc := map[string]interface{}{
		"entity_id": f.EntityID,
		"property":  f.Property,
		"value":     f.Value,
		"meta": map[string]interface{}{
			"author":    f.Meta.Author,
			"device":    f.Meta.Device,
			"timestamp": f.Meta.Timestamp,
		},
	}

	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(doc); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// ComputeHash returns the content hash of the fact without touching f.Hash.
func (f *Fact) ComputeHash() (string, error) {
	c, err := f.Canonical()
	if err != nil {
		return "", err
	}
	return common.EncodeHash(crypto.DomainHash(hashDomain, c)), nil
}

// Verify checks that the fact is valid and that f.Hash matches its content.
// Facts arriving from peers are verified before they are appended.
func (f *Fact) Verify() error {
	if err := Validate(f); err != nil {
		return err
	}
	if !common.ValidHash(f.Hash) {
		return fmt.Errorf("fact hash %q is not a hex SHA256 digest", f.Hash)
	}
	h, err := f.ComputeHash()
	if err != nil {
		return err
	}
	if h != f.Hash {
		return fmt.Errorf("fact hash mismatch: carried %s, computed %s", f.Hash, h)
	}
	return nil
}

// SameContent reports whether two facts carry identical content, independently
// of their Hash fields.
func (f *Fact) SameContent(o *Fact) bool {
	a, errA := f.Canonical()
	b, errB := o.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Key returns the (entity, property) key of the fact.
func (f *Fact) Key() Key {
	return Key{EntityID: f.EntityID, Property: f.Property}
}

func (f *Fact) String() string {
	return fmt.Sprintf("%s %s/%s=%q by %s@%s", shortHash(f.Hash), f.EntityID, f.Property, f.Value, f.Meta.Author, f.Meta.Device)
}

// Key identifies one property of one entity.
type Key struct {
	EntityID string
	Property string
}

func (k Key) String() string {
	return k.EntityID + "/" + k.Property
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
