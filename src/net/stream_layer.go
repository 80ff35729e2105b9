package net

import (
	"net"
	"time"
)

// StreamLayer is the connection layer under NetworkTransport: it accepts
// inbound sync connections and dials peers.
type StreamLayer interface {
	net.Listener

	// Dial opens a connection to a peer's sync address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address peers should dial.
	AdvertiseAddr() string
}
