package net

import (
	"net"
	"time"
)

// keepAlive is the TCP keep-alive period of sync connections. Wireless links
// drop without a FIN, and pooled connections must notice.
const keepAlive = 15 * time.Second

// TCPStreamLayer is the StreamLayer of the sync transport on a shop LAN.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial opens a sync connection to a peer.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout, KeepAlive: keepAlive}
	return dialer.Dial("tcp", address)
}

// Accept waits for the next inbound sync connection.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	conn, err := t.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(keepAlive)
	return conn, nil
}

// Close stops listening.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr is the bound address.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr is the address announced to peers: the configured advertise
// address, or else the bound one.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}
