// Package node implements the reactive component of a factsync device.
//
// # Core
//
// Core owns the fact store and the hash tree derived from it. Every append
// goes through Core so that the tree always covers the stored facts. Reads
// never use a cache: the state of a key is computed from the current facts of
// the store each time, and classified by the resolver package.
//
// # Synchronization
//
// Devices broadcast announcements carrying the top hash of their tree. When a
// node receives an announcement whose top hash differs from its own, it opens
// a session with the announcer. The session walks both trees breadth first,
// one level per TreeRequest, pruning the subtrees whose hashes match. The
// facts found only on the remote side are pulled with FetchRequests, and the
// facts found only locally are pushed with PushRequests. Both sides append
// through the idempotent store, so an aborted session leaves a valid subset
// and the next session completes the rest.
//
// Besides announcements, the node runs a randomized heartbeat. On every tick
// it picks a peer that is not known to be in sync, which covers static peers
// that broadcast does not reach.
//
// # Time travel
//
// Projector computes the state of an entity at a past time by loading the
// facts up to that time into an in-memory store and running the same read
// path as live queries. Restoring writes ordinary new facts that obsolete
// the present ones.
package node
