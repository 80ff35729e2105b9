package discovery

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const maxDatagram = 8 * 1024

var msgpackHandle = new(codec.MsgpackHandle)

// UDPDiscovery implements Discovery with UDP datagrams. Targets are usually
// the broadcast address of the shop network, but unicast addresses work too.
type UDPDiscovery struct {
	conn    net.PacketConn
	targets []*net.UDPAddr
	logger  *logrus.Entry

	consumerCh chan Announcement

	closeOnce sync.Once
	closed    chan struct{}
}

// NewUDPDiscovery binds bindAddr and prepares to send announcements to every
// target.
func NewUDPDiscovery(bindAddr string, targets []string, logger *logrus.Entry) (*UDPDiscovery, error) {
	resolved := make([]*net.UDPAddr, 0, len(targets))
	for _, t := range targets {
		addr, err := net.ResolveUDPAddr("udp4", t)
		if err != nil {
			return nil, fmt.Errorf("resolving discovery target %s: %w", t, err)
		}
		resolved = append(resolved, addr)
	}

	conn, err := net.ListenPacket("udp4", bindAddr)
	if err != nil {
		return nil, err
	}

	return &UDPDiscovery{
		conn:       conn,
		targets:    resolved,
		logger:     logger,
		consumerCh: make(chan Announcement, consumerBuffer),
		closed:     make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound address.
func (d *UDPDiscovery) LocalAddr() string {
	return d.conn.LocalAddr().String()
}

// Announce implements Discovery. It fails only if every target failed.
func (d *UDPDiscovery) Announce(a *Announcement) error {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, msgpackHandle).Encode(a); err != nil {
		return err
	}
	if buf.Len() > maxDatagram {
		return fmt.Errorf("announcement too large: %d bytes", buf.Len())
	}

	var lastErr error
	sent := 0
	for _, t := range d.targets {
		if _, err := d.conn.WriteTo(buf.Bytes(), t); err != nil {
			d.logger.WithError(err).WithField("target", t.String()).Debug("Announce")
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Consumer implements Discovery.
func (d *UDPDiscovery) Consumer() <-chan Announcement {
	return d.consumerCh
}

// Listen implements Discovery.
func (d *UDPDiscovery) Listen() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := d.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			d.logger.WithError(err).Error("Failed to read announcement")
			continue
		}

		var a Announcement
		if err := codec.NewDecoderBytes(buf[:n], msgpackHandle).Decode(&a); err != nil {
			d.logger.WithError(err).WithField("from", from.String()).Debug("Dropping malformed announcement")
			continue
		}

		select {
		case d.consumerCh <- a:
		default:
			d.logger.WithField("device", a.DeviceID).Debug("Announcement queue full")
		}
	}
}

// Close implements Discovery.
func (d *UDPDiscovery) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = d.conn.Close()
	})
	return err
}
