package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/fact"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - facts, obsoletions, current_facts view
const currentSchemaVersion = 1

const factColumns = "hash, entity_id, property, value, author, device, timestamp"

// SQLiteStore implements the Store interface on the relational layout: a
// facts table keyed by hash, an obsoletions table indexed on the obsoleted
// hash, and a current_facts view.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *logrus.Entry
}

// NewSQLiteStore opens, or creates, the database file at path and applies the
// schema.
func NewSQLiteStore(path string, logger *logrus.Entry) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection serializes writers, which is what SQLite wants anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.WithField("path", path).Debug("Opened SQLite store")

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// Append implements the Store interface.
func (s *SQLiteStore) Append(rec fact.Record) error {
	rec.Obsoletes = fact.NormalizeHashes(rec.Obsoletes)

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getRecord(ctx, tx, rec.Fact.Hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	done, err := checkAppend(existing, &rec)
	if err != nil || done {
		return err
	}

	for _, o := range rec.Obsoletes {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM facts WHERE hash = ?", o).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return unknownReference(o)
		}
		if err != nil {
			return err
		}
	}

	f := rec.Fact
	_, err = tx.ExecContext(ctx, `
		INSERT INTO facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, f.Hash, f.EntityID, f.Property, f.Value, f.Meta.Author, f.Meta.Device, f.Meta.Timestamp)
	if err != nil {
		return fmt.Errorf("insert fact %s: %w", f.Hash, err)
	}

	for _, o := range rec.Obsoletes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO obsoletions (fact_hash, obsoleted_hash)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, f.Hash, o)
		if err != nil {
			return fmt.Errorf("insert obsoletion %s -> %s: %w", f.Hash, o, err)
		}
	}

	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) getRecord(ctx context.Context, q queryer, hash string) (*fact.Record, error) {
	row := q.QueryRowContext(ctx, "SELECT "+factColumns+" FROM facts WHERE hash = ?", hash)

	f := new(fact.Fact)
	if err := row.Scan(&f.Hash, &f.EntityID, &f.Property, &f.Value, &f.Meta.Author, &f.Meta.Device, &f.Meta.Timestamp); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT obsoleted_hash FROM obsoletions WHERE fact_hash = ? ORDER BY obsoleted_hash", hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	obsoletes := []string{}
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		obsoletes = append(obsoletes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &fact.Record{Fact: *f, Obsoletes: obsoletes}, nil
}

// GetRecord implements the Store interface.
func (s *SQLiteStore) GetRecord(hash string) (*fact.Record, error) {
	rec, err := s.getRecord(context.Background(), s.db, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(hash)
	}
	return rec, err
}

// Has implements the Store interface.
func (s *SQLiteStore) Has(hash string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM facts WHERE hash = ?", hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Current implements the Store interface.
func (s *SQLiteStore) Current(entityID, property string) ([]*fact.Fact, error) {
	return s.queryFacts(`
		SELECT `+factColumns+` FROM current_facts
		WHERE entity_id = ? AND property = ?
		ORDER BY hash
	`, entityID, property)
}

// History implements the Store interface.
func (s *SQLiteStore) History(entityID, property string, asOf int64) ([]*fact.Fact, error) {
	return s.queryFacts(`
		SELECT `+factColumns+` FROM facts
		WHERE entity_id = ? AND property = ? AND timestamp <= ?
		ORDER BY timestamp, hash
	`, entityID, property, asOf)
}

func (s *SQLiteStore) queryFacts(query string, args ...any) ([]*fact.Fact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []*fact.Fact{}
	for rows.Next() {
		f := new(fact.Fact)
		if err := rows.Scan(&f.Hash, &f.EntityID, &f.Property, &f.Value, &f.Meta.Author, &f.Meta.Device, &f.Meta.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// Properties implements the Store interface.
func (s *SQLiteStore) Properties(entityID string) ([]string, error) {
	return s.queryStrings("SELECT DISTINCT property FROM facts WHERE entity_id = ? ORDER BY property", entityID)
}

// Entities implements the Store interface.
func (s *SQLiteStore) Entities() ([]string, error) {
	return s.queryStrings("SELECT DISTINCT entity_id FROM facts ORDER BY entity_id")
}

// AllHashes implements the Store interface.
func (s *SQLiteStore) AllHashes() ([]string, error) {
	return s.queryStrings("SELECT hash FROM facts ORDER BY hash")
}

func (s *SQLiteStore) queryStrings(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// Close implements the Store interface.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *SQLiteStore) StorePath() string {
	return s.path
}
