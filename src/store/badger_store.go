package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/fact"
)

// Key layout. Components are separated by a zero byte.
//
//	f<hash>                       -> JSON record
//	o<obsoleted><hash>            -> (empty) obsoletion index
//	k<entity><property><hash>     -> (empty) key index
//	e<entity><property>           -> (empty) property index
const (
	factPrefix      = "f"
	obsoletedPrefix = "o"
	keyPrefix       = "k"
	entityPrefix    = "e"

	sep = "\x00"

	appendRetries = 5
)

// BadgerStore implements the Store interface on top of a Badger database.
type BadgerStore struct {
	db     *badger.DB
	path   string
	logger *logrus.Entry

	gcStop chan struct{}
	gcDone sync.WaitGroup
}

// NewBadgerStore opens, or creates, a Badger database in path. When
// gcInterval is positive, value-log garbage collection runs in the background
// until Close.
func NewBadgerStore(path string, syncWrites bool, gcInterval time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(syncWrites).
		WithLogger(badgerLogger{logger})

	return openBadger(opts, path, gcInterval, logger)
}

// NewInmemBadgerStore opens a Badger database that lives in memory only.
func NewInmemBadgerStore(logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{logger})

	return openBadger(opts, "", 0, logger)
}

func openBadger(opts badger.Options, path string, gcInterval time.Duration, logger *logrus.Entry) (*BadgerStore, error) {
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		db:     handle,
		path:   path,
		logger: logger,
		gcStop: make(chan struct{}),
	}

	if gcInterval > 0 {
		store.gcDone.Add(1)
		go store.gcLoop(gcInterval)
	}

	return store, nil
}

// Append implements the Store interface. The checks and the writes happen in
// one transaction; a transaction that loses a race with a concurrent append is
// retried.
func (s *BadgerStore) Append(rec fact.Record) error {
	rec.Obsoletes = fact.NormalizeHashes(rec.Obsoletes)

	val, err := rec.Marshal()
	if err != nil {
		return err
	}

	for i := 0; ; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.appendTxn(txn, &rec, val)
		})
		if !errors.Is(err, badger.ErrConflict) || i >= appendRetries {
			return err
		}
		s.logger.WithField("hash", rec.Fact.Hash).Debug("Append conflict, retrying")
	}
}

func (s *BadgerStore) appendTxn(txn *badger.Txn, rec *fact.Record, val []byte) error {
	h := rec.Fact.Hash

	existing, err := getRecordTxn(txn, h)
	if err != nil && !isDBKeyNotFound(err) {
		return err
	}

	done, err := checkAppend(existing, rec)
	if err != nil || done {
		return err
	}

	for _, o := range rec.Obsoletes {
		if _, err := txn.Get(factKey(o)); err != nil {
			if isDBKeyNotFound(err) {
				return unknownReference(o)
			}
			return err
		}
	}

	if err := txn.Set(factKey(h), val); err != nil {
		return err
	}
	for _, o := range rec.Obsoletes {
		if err := txn.Set(obsoletedKey(o, h), nil); err != nil {
			return err
		}
	}
	if err := txn.Set(indexKey(rec.Fact.EntityID, rec.Fact.Property, h), nil); err != nil {
		return err
	}
	return txn.Set(propertyKey(rec.Fact.EntityID, rec.Fact.Property), nil)
}

// GetRecord implements the Store interface.
func (s *BadgerStore) GetRecord(hash string) (*fact.Record, error) {
	var rec *fact.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecordTxn(txn, hash)
		return err
	})
	if isDBKeyNotFound(err) {
		return nil, notFound(hash)
	}
	return rec, err
}

// Has implements the Store interface.
func (s *BadgerStore) Has(hash string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(factKey(hash))
		return err
	})
	if isDBKeyNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Current implements the Store interface.
func (s *BadgerStore) Current(entityID, property string) ([]*fact.Fact, error) {
	res := []*fact.Fact{}
	err := s.db.View(func(txn *badger.Txn) error {
		hashes := scanSuffixes(txn, indexPrefix(entityID, property))
		for _, h := range hashes {
			if hasPrefix(txn, []byte(obsoletedPrefix+h+sep)) {
				continue
			}
			rec, err := getRecordTxn(txn, h)
			if err != nil {
				return err
			}
			res = append(res, &rec.Fact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByHash(res)
	return res, nil
}

// History implements the Store interface.
func (s *BadgerStore) History(entityID, property string, asOf int64) ([]*fact.Fact, error) {
	res := []*fact.Fact{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, h := range scanSuffixes(txn, indexPrefix(entityID, property)) {
			rec, err := getRecordTxn(txn, h)
			if err != nil {
				return err
			}
			if rec.Fact.Meta.Timestamp <= asOf {
				res = append(res, &rec.Fact)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByTime(res)
	return res, nil
}

// Properties implements the Store interface.
func (s *BadgerStore) Properties(entityID string) ([]string, error) {
	var res []string
	err := s.db.View(func(txn *badger.Txn) error {
		res = scanSuffixes(txn, []byte(entityPrefix+entityID+sep))
		return nil
	})
	if res == nil {
		res = []string{}
	}
	return res, err
}

// Entities implements the Store interface.
func (s *BadgerStore) Entities() ([]string, error) {
	res := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, rest := range scanSuffixes(txn, []byte(entityPrefix)) {
			e := rest
			if i := strings.IndexByte(rest, 0); i >= 0 {
				e = rest[:i]
			}
			if len(res) == 0 || res[len(res)-1] != e {
				res = append(res, e)
			}
		}
		return nil
	})
	return res, err
}

// AllHashes implements the Store interface. Badger iterates keys in order, so
// the result is sorted.
func (s *BadgerStore) AllHashes() ([]string, error) {
	var res []string
	err := s.db.View(func(txn *badger.Txn) error {
		res = scanSuffixes(txn, []byte(factPrefix))
		return nil
	})
	if res == nil {
		res = []string{}
	}
	return res, err
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	close(s.gcStop)
	s.gcDone.Wait()
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func (s *BadgerStore) gcLoop(interval time.Duration) {
	defer s.gcDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.WithError(err).Warn("Value log GC")
					}
					break
				}
			}
		case <-s.gcStop:
			return
		}
	}
}

/*******************************************************************************
DB helpers
*******************************************************************************/

func factKey(hash string) []byte {
	return []byte(factPrefix + hash)
}

func obsoletedKey(obsoleted, by string) []byte {
	return []byte(obsoletedPrefix + obsoleted + sep + by)
}

func indexPrefix(entityID, property string) []byte {
	return []byte(keyPrefix + entityID + sep + property + sep)
}

func indexKey(entityID, property, hash string) []byte {
	return append(indexPrefix(entityID, property), hash...)
}

func propertyKey(entityID, property string) []byte {
	return []byte(entityPrefix + entityID + sep + property)
}

func getRecordTxn(txn *badger.Txn, hash string) (*fact.Record, error) {
	item, err := txn.Get(factKey(hash))
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	rec := new(fact.Record)
	if err := rec.Unmarshal(val); err != nil {
		return nil, err
	}
	return rec, nil
}

// scanSuffixes returns, in key order, the part after prefix of every key that
// starts with prefix.
func scanSuffixes(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var res []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().Key()
		res = append(res, string(k[len(prefix):]))
	}
	return res
}

func hasPrefix(txn *badger.Txn, prefix []byte) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

func isDBKeyNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

// badgerLogger routes Badger's own logging to logrus, one level down so that
// database chatter stays out of info output.
type badgerLogger struct {
	*logrus.Entry
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}
