// Package store implements the fact repository.
//
// A Store is append-only: facts are added together with the hashes of the
// facts they obsolete and are never updated or deleted. Every query is
// answered from the indexed records, there is no maintained projection of the
// current state that could drift from the facts under concurrent sync.
//
// Four implementations are provided. InmemStore keeps everything in maps and is
// used in tests and for time travel. BadgerStore and SQLiteStore are durable.
// NewAsOfStore builds an InmemStore holding only the facts of one entity with
// a timestamp up to a given instant, so that reading the past is the same code
// path as reading the present, run against a different store.
package store
