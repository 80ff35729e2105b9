package fact

import (
	"bytes"
	"sort"

	"github.com/ugorji/go/codec"
)

// Record is a fact together with the hashes of the facts it obsoletes. It is
// the unit of storage and of transfer between peers.
type Record struct {
	Fact      Fact     `json:"fact" yaml:"fact"`
	Obsoletes []string `json:"obsoletes" yaml:"obsoletes"`
}

// NewRecord returns a record with a sorted, de-duplicated copy of obsoletes.
func NewRecord(f *Fact, obsoletes []string) Record {
	return Record{
		Fact:      *f,
		Obsoletes: NormalizeHashes(obsoletes),
	}
}

// Hash is the hash of the record's fact.
func (r *Record) Hash() string {
	return r.Fact.Hash
}

// SameEdges reports whether both records obsolete the same set of facts.
func (r *Record) SameEdges(o *Record) bool {
	a := NormalizeHashes(r.Obsoletes)
	b := NormalizeHashes(o.Obsoletes)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Marshal returns the JSON encoding of a Record, as written by the durable
// stores.
func (r *Record) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a Record written by Marshal.
func (r *Record) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(r)
}

// NormalizeHashes returns a sorted copy of hashes without duplicates. A nil or
// empty input yields an empty, non-nil slice.
func NormalizeHashes(hashes []string) []string {
	res := make([]string, 0, len(hashes))
	seen := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		res = append(res, h)
	}
	sort.Strings(res)
	return res
}
