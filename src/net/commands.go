package net

import (
	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/merkle"
)

// TreeRequest asks a peer for one level of its hash tree: the children of
// every listed prefix. Level is the depth of the requested children and only
// serves logging. An empty Prefixes list asks for the root alone.
type TreeRequest struct {
	FromID   string
	Level    int
	Prefixes []string
}

// TreeResponse carries the responder's root summary and the children of the
// requested prefixes. SyncLimit is the largest batch of prefixes, hashes or
// records the responder accepts in one request.
type TreeResponse struct {
	FromID    string
	Root      merkle.Node
	Children  map[string][]merkle.Node
	SyncLimit int
}

// FetchRequest asks a peer for the records of the listed facts.
type FetchRequest struct {
	FromID string
	Hashes []string
}

// FetchResponse returns the requested records, ordered so that every record
// follows the records it obsoletes.
type FetchResponse struct {
	FromID  string
	Records []fact.Record
}

// PushRequest hands records to a peer, in the same order as FetchResponse.
type PushRequest struct {
	FromID  string
	Records []fact.Record
}

// PushResponse reports how many pushed records were new to the receiver.
type PushResponse struct {
	FromID  string
	Success bool
	Applied int
}
