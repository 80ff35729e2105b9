package node

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/common"
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/merkle"
	"github.com/shoplane/factsync/src/resolver"
	"github.com/shoplane/factsync/src/store"
)

// ErrNoConflict is returned by Resolve when the key is not in conflict.
var ErrNoConflict = errors.New("no conflict to resolve")

// Core is the local fact set of a device: the store, the hash tree over it,
// and the read path that classifies current facts.
type Core struct {
	// assertLock serializes local writes that read the current facts before
	// obsoleting them.
	assertLock sync.Mutex

	deviceID string
	store    store.Store
	tree     *merkle.Tree

	changeCh chan struct{}

	logger *logrus.Entry
}

// NewCore builds the tree of the facts already in the store.
func NewCore(deviceID string, s store.Store, logger *logrus.Entry) (*Core, error) {
	hashes, err := s.AllHashes()
	if err != nil {
		return nil, fmt.Errorf("listing stored facts: %w", err)
	}

	tree, err := merkle.Build(hashes)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	c := &Core{
		deviceID: deviceID,
		store:    s,
		tree:     tree,
		changeCh: make(chan struct{}, 1),
		logger:   logger,
	}

	logger.WithFields(logrus.Fields{
		"facts":    tree.Len(),
		"top_hash": tree.TopHash(),
	}).Debug("Loaded fact set")

	return c, nil
}

// DeviceID returns the ID stamped on the facts this device creates.
func (c *Core) DeviceID() string {
	return c.deviceID
}

// Store returns the underlying store.
func (c *Core) Store() store.Store {
	return c.store
}

// Tree returns the live hash tree. Sessions work on a Clone.
func (c *Core) Tree() *merkle.Tree {
	return c.tree
}

// TopHash returns the root hash of the tree, empty when there are no facts.
func (c *Core) TopHash() string {
	return c.tree.TopHash()
}

// Len returns the number of stored facts.
func (c *Core) Len() int {
	return c.tree.Len()
}

// Changes delivers a signal after the fact set grew. Signals coalesce.
func (c *Core) Changes() <-chan struct{} {
	return c.changeCh
}

// Meta returns the metadata of a fact created now by author on this device.
func (c *Core) Meta(author string) fact.Meta {
	return fact.NewMeta(author, c.deviceID, time.Now())
}

// Append stores a record and adds it to the tree. It returns true if the
// record was new.
func (c *Core) Append(rec fact.Record) (bool, error) {
	if err := c.store.Append(rec); err != nil {
		if common.IsStore(err, common.HashCollision) {
			c.logger.WithField("hash", rec.Hash()).Error("Hash collision")
		}
		return false, err
	}

	added, err := c.tree.Insert(rec.Hash())
	if err != nil {
		return false, err
	}

	if added {
		c.notify()
	}

	return added, nil
}

func (c *Core) notify() {
	select {
	case c.changeCh <- struct{}{}:
	default:
	}
}

// ApplyFetched appends records received from a peer. Records are put in
// dependency order first; a record whose obsoleted fact is still missing is
// retried after the others, and returned in deferred if it still cannot be
// applied. Other failures are collected and do not stop the batch.
func (c *Core) ApplyFetched(records []fact.Record) (applied int, deferred []fact.Record, err error) {
	pending := fact.SortRecords(records)
	var errs []error

	for len(pending) > 0 {
		var retry []fact.Record
		progress := false

		for _, rec := range pending {
			added, aerr := c.Append(rec)
			switch {
			case aerr == nil:
				progress = true
				if added {
					applied++
				}
			case common.IsStore(aerr, common.UnknownReference):
				retry = append(retry, rec)
			default:
				errs = append(errs, aerr)
			}
		}

		pending = retry
		if !progress {
			break
		}
	}

	return applied, pending, errors.Join(errs...)
}

// Records returns the stored records of hashes, in dependency order.
func (c *Core) Records(hashes []string) ([]fact.Record, error) {
	records := make([]fact.Record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := c.store.GetRecord(h)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return fact.SortRecords(records), nil
}

// Assert records a new value for a key. The new fact obsoletes every fact
// that is current for the key, which is everything this device knows about
// it at write time.
func (c *Core) Assert(entityID, property, value string, meta fact.Meta) (*fact.Record, error) {
	c.assertLock.Lock()
	defer c.assertLock.Unlock()

	current, err := c.store.Current(entityID, property)
	if err != nil {
		return nil, err
	}

	return c.write(entityID, property, value, meta, current)
}

// Resolve settles a conflict with a chosen value. It works like Assert but is
// refused with ErrNoConflict unless the key is in conflict.
func (c *Core) Resolve(entityID, property, value string, meta fact.Meta) (*fact.Record, error) {
	c.assertLock.Lock()
	defer c.assertLock.Unlock()

	current, err := c.store.Current(entityID, property)
	if err != nil {
		return nil, err
	}
	if resolver.Classify(current).Kind != resolver.Conflict {
		return nil, ErrNoConflict
	}

	return c.write(entityID, property, value, meta, current)
}

func (c *Core) write(entityID, property, value string, meta fact.Meta, current []*fact.Fact) (*fact.Record, error) {
	if meta.Device == "" {
		meta.Device = c.deviceID
	}

	f, err := fact.NewFact(entityID, property, value, meta)
	if err != nil {
		return nil, err
	}

	obsoletes := make([]string, 0, len(current))
	for _, cf := range current {
		obsoletes = append(obsoletes, cf.Hash)
	}

	rec := fact.NewRecord(f, obsoletes)
	if _, err := c.Append(rec); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"key":       f.Key().String(),
		"hash":      f.Hash,
		"obsoletes": len(rec.Obsoletes),
	}).Debug("Asserted fact")

	return &rec, nil
}

// State returns the classified state of a key.
func (c *Core) State(entityID, property string) (resolver.State, error) {
	return keyState(c.store, entityID, property)
}

// Entity returns the classified state of every property of an entity.
func (c *Core) Entity(entityID string) (map[string]resolver.State, error) {
	return entityState(c.store, entityID)
}

// History returns the facts of a key up to asOf, oldest first.
func (c *Core) History(entityID, property string, asOf int64) ([]*fact.Fact, error) {
	return c.store.History(entityID, property, asOf)
}

// Close closes the store.
func (c *Core) Close() error {
	return c.store.Close()
}

func keyState(s store.Store, entityID, property string) (resolver.State, error) {
	current, err := s.Current(entityID, property)
	if err != nil {
		return resolver.State{}, err
	}
	return resolver.Classify(current), nil
}

func entityState(s store.Store, entityID string) (map[string]resolver.State, error) {
	props, err := s.Properties(entityID)
	if err != nil {
		return nil, err
	}

	res := make(map[string]resolver.State, len(props))
	for _, p := range props {
		st, err := keyState(s, entityID, p)
		if err != nil {
			return nil, err
		}
		res[p] = st
	}
	return res, nil
}
