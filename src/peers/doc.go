// Package peers defines the devices a node synchronizes with and keeps track
// of what is known about them.
//
// A peer is identified by its device ID, which is derived from its public
// key. Peers are learned from discovery announcements, or listed statically
// in a peers.json file in the data directory for networks where broadcast
// does not reach every device. A static entry only needs an address and a
// public key:
//
//	[
//	  {
//	    "NetAddr": "10.0.0.12:1337",
//	    "PubKeyHex": "0X04...",
//	    "Moniker": "lane-3"
//	  }
//	]
package peers
