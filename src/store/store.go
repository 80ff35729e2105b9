package store

import (
	"sort"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
)

// Store is an interface for backend fact stores.
type Store interface {
	// Append inserts a record. Re-appending an identical record is a no-op.
	// It fails with DuplicateHash if the fact exists with different edges,
	// with UnknownReference if an obsoleted hash is not in the store, and with
	// HashCollision if a different fact already holds the hash.
	Append(rec fact.Record) error
	// GetRecord returns a fact and its obsoletion edges by hash.
	GetRecord(hash string) (*fact.Record, error)
	// Has reports whether a fact with the hash is stored.
	Has(hash string) (bool, error)
	// Current returns the facts of a key that no stored fact obsoletes,
	// sorted by hash.
	Current(entityID, property string) ([]*fact.Fact, error)
	// History returns all facts of a key with a timestamp <= asOf, sorted by
	// timestamp then hash.
	History(entityID, property string, asOf int64) ([]*fact.Fact, error)
	// Properties returns the sorted properties known for an entity.
	Properties(entityID string) ([]string, error)
	// Entities returns the sorted IDs of all entities.
	Entities() ([]string, error)
	// AllHashes returns every fact hash in ascending order.
	AllHashes() ([]string, error)
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}

// checkAppend validates rec against the record already stored under the same
// hash, if any. It returns done=true when rec is an exact replay.
func checkAppend(existing *fact.Record, rec *fact.Record) (done bool, err error) {
	if err := fact.ValidateRecord(rec); err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if !existing.Fact.SameContent(&rec.Fact) {
		return false, common.NewStoreErr("Fact", common.HashCollision, rec.Fact.Hash)
	}
	if !existing.SameEdges(rec) {
		return false, common.NewStoreErr("Fact", common.DuplicateHash, rec.Fact.Hash)
	}
	return true, nil
}

func unknownReference(hash string) error {
	return common.NewStoreErr("Fact", common.UnknownReference, hash)
}

func notFound(hash string) error {
	return common.NewStoreErr("Fact", common.KeyNotFound, hash)
}

func sortByHash(facts []*fact.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].Hash < facts[j].Hash
	})
}

func sortByTime(facts []*fact.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Meta.Timestamp != facts[j].Meta.Timestamp {
			return facts[i].Meta.Timestamp < facts[j].Meta.Timestamp
		}
		return facts[i].Hash < facts[j].Hash
	})
}
