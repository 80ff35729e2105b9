// Package factsync assembles a complete device from its parts.
//
// NewFactsync takes a config.Config; Init then opens, in order, the device
// key, the fact store, the merkle tree, the static peers from peers.json, the
// TCP sync transport, UDP discovery, the node and the HTTP service. Run drives
// the node and the service until its context is cancelled.
package factsync
