package store

import (
	"sort"
	"sync"

	"github.com/shoplane/factsync/src/fact"
)

// InmemStore implements the Store interface with maps guarded by a RWMutex.
type InmemStore struct {
	sync.RWMutex

	records map[string]*fact.Record
	// key -> fact hashes
	byKey map[fact.Key][]string
	// obsoleted hash -> hashes of the facts that obsolete it
	obsoletedBy map[string][]string
	// entity -> property -> present
	properties map[string]map[string]bool
}

// NewInmemStore creates a new, empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		records:     make(map[string]*fact.Record),
		byKey:       make(map[fact.Key][]string),
		obsoletedBy: make(map[string][]string),
		properties:  make(map[string]map[string]bool),
	}
}

// Append implements the Store interface.
func (s *InmemStore) Append(rec fact.Record) error {
	rec.Obsoletes = fact.NormalizeHashes(rec.Obsoletes)

	s.Lock()
	defer s.Unlock()

	done, err := checkAppend(s.records[rec.Fact.Hash], &rec)
	if err != nil || done {
		return err
	}

	for _, o := range rec.Obsoletes {
		if _, ok := s.records[o]; !ok {
			return unknownReference(o)
		}
	}

	h := rec.Fact.Hash
	s.records[h] = &rec

	k := rec.Fact.Key()
	s.byKey[k] = append(s.byKey[k], h)

	for _, o := range rec.Obsoletes {
		s.obsoletedBy[o] = append(s.obsoletedBy[o], h)
	}

	props, ok := s.properties[k.EntityID]
	if !ok {
		props = make(map[string]bool)
		s.properties[k.EntityID] = props
	}
	props[k.Property] = true

	return nil
}

// GetRecord implements the Store interface.
func (s *InmemStore) GetRecord(hash string) (*fact.Record, error) {
	s.RLock()
	defer s.RUnlock()

	rec, ok := s.records[hash]
	if !ok {
		return nil, notFound(hash)
	}
	cp := *rec
	cp.Obsoletes = append([]string{}, rec.Obsoletes...)
	return &cp, nil
}

// Has implements the Store interface.
func (s *InmemStore) Has(hash string) (bool, error) {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.records[hash]
	return ok, nil
}

// Current implements the Store interface.
func (s *InmemStore) Current(entityID, property string) ([]*fact.Fact, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*fact.Fact{}
	for _, h := range s.byKey[fact.Key{EntityID: entityID, Property: property}] {
		if len(s.obsoletedBy[h]) > 0 {
			continue
		}
		f := s.records[h].Fact
		res = append(res, &f)
	}
	sortByHash(res)
	return res, nil
}

// History implements the Store interface.
func (s *InmemStore) History(entityID, property string, asOf int64) ([]*fact.Fact, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*fact.Fact{}
	for _, h := range s.byKey[fact.Key{EntityID: entityID, Property: property}] {
		f := s.records[h].Fact
		if f.Meta.Timestamp <= asOf {
			res = append(res, &f)
		}
	}
	sortByTime(res)
	return res, nil
}

// Properties implements the Store interface.
func (s *InmemStore) Properties(entityID string) ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	res := []string{}
	for p := range s.properties[entityID] {
		res = append(res, p)
	}
	sort.Strings(res)
	return res, nil
}

// Entities implements the Store interface.
func (s *InmemStore) Entities() ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	res := []string{}
	for e := range s.properties {
		res = append(res, e)
	}
	sort.Strings(res)
	return res, nil
}

// AllHashes implements the Store interface.
func (s *InmemStore) AllHashes() ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]string, 0, len(s.records))
	for h := range s.records {
		res = append(res, h)
	}
	sort.Strings(res)
	return res, nil
}

// Len returns the number of stored facts.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.records)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface. InmemStore has no file.
func (s *InmemStore) StorePath() string {
	return ""
}
