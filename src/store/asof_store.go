package store

import (
	"fmt"

	"github.com/shoplane/factsync/src/fact"
)

// NewAsOfStore returns an InmemStore loaded with the facts of entityID whose
// timestamp is <= asOf, read from src. Obsoletion edges are kept only when
// both ends are part of the loaded set, so the current facts of the returned
// store are exactly the facts that were current at asOf.
func NewAsOfStore(src Store, entityID string, asOf int64) (*InmemStore, error) {
	props, err := src.Properties(entityID)
	if err != nil {
		return nil, err
	}

	var records []fact.Record
	included := make(map[string]bool)

	for _, p := range props {
		facts, err := src.History(entityID, p, asOf)
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			rec, err := src.GetRecord(f.Hash)
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
			included[f.Hash] = true
		}
	}

	for i := range records {
		var kept []string
		for _, o := range records[i].Obsoletes {
			if included[o] {
				kept = append(kept, o)
			}
		}
		records[i].Obsoletes = fact.NormalizeHashes(kept)
	}

	res := NewInmemStore()
	for _, rec := range fact.SortRecords(records) {
		if err := res.Append(rec); err != nil {
			return nil, fmt.Errorf("loading %s as of %d: %w", entityID, asOf, err)
		}
	}

	return res, nil
}
