package node

import (
	"errors"
	"sort"

	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/resolver"
	"github.com/shoplane/factsync/src/store"
)

// ErrNothingToRestore is returned by RestoreProperty when the key had no value
// at the requested time, or when its present value already equals it.
var ErrNothingToRestore = errors.New("nothing to restore")

// Projector computes past states and restores them as new facts.
type Projector struct {
	core *Core
}

// NewProjector returns a Projector over the facts of core.
func NewProjector(core *Core) *Projector {
	return &Projector{core: core}
}

// Snapshot returns the state every property of an entity had at asOf.
func (p *Projector) Snapshot(entityID string, asOf int64) (map[string]resolver.State, error) {
	past, err := store.NewAsOfStore(p.core.Store(), entityID, asOf)
	if err != nil {
		return nil, err
	}
	defer past.Close()

	return entityState(past, entityID)
}

// SnapshotProperty returns the state one key had at asOf.
func (p *Projector) SnapshotProperty(entityID, property string, asOf int64) (resolver.State, error) {
	past, err := store.NewAsOfStore(p.core.Store(), entityID, asOf)
	if err != nil {
		return resolver.State{}, err
	}
	defer past.Close()

	return keyState(past, entityID, property)
}

// Restore brings an entity back to the values it had at asOf. For every
// property whose past value differs from its present value, or that is in
// conflict now, it asserts the past value. Properties that had no value at
// asOf are left alone. The new records are returned sorted by property.
func (p *Projector) Restore(entityID string, asOf int64, meta fact.Meta) ([]fact.Record, error) {
	past, err := p.Snapshot(entityID, asOf)
	if err != nil {
		return nil, err
	}

	props := make([]string, 0, len(past))
	for prop := range past {
		props = append(props, prop)
	}
	sort.Strings(props)

	res := []fact.Record{}
	for _, prop := range props {
		rec, err := p.restore(entityID, prop, past[prop], meta)
		if errors.Is(err, ErrNothingToRestore) {
			continue
		}
		if err != nil {
			return res, err
		}
		res = append(res, *rec)
	}

	return res, nil
}

// RestoreProperty brings a single key back to the value it had at asOf.
func (p *Projector) RestoreProperty(entityID, property string, asOf int64, meta fact.Meta) (*fact.Record, error) {
	past, err := p.SnapshotProperty(entityID, property, asOf)
	if err != nil {
		return nil, err
	}
	return p.restore(entityID, property, past, meta)
}

func (p *Projector) restore(entityID, property string, past resolver.State, meta fact.Meta) (*fact.Record, error) {
	value, ok := past.Value()
	if !ok {
		return nil, ErrNothingToRestore
	}

	present, err := p.core.State(entityID, property)
	if err != nil {
		return nil, err
	}
	if present.Kind == resolver.Good {
		if v, _ := present.Value(); v == value {
			return nil, ErrNothingToRestore
		}
	}

	return p.core.Assert(entityID, property, value, meta)
}
