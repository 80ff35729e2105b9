// Package keys implements the device identity used by factsync.
//
// Every device owns a secp256k1 key-pair. The public key determines the
// device ID written into the meta of every fact the device creates, and the
// private key signs the discovery announcements the device broadcasts, so that
// a peer can check that an announced top hash really comes from the device it
// names before opening a sync session with it.
package keys
