package discovery

import (
	"sync"
)

// InmemBus connects InmemDiscovery instances the way a shared broadcast
// domain connects devices.
type InmemBus struct {
	sync.RWMutex
	members map[*InmemDiscovery]bool
}

// NewInmemBus returns an empty bus.
func NewInmemBus() *InmemBus {
	return &InmemBus{
		members: make(map[*InmemDiscovery]bool),
	}
}

// Join returns a new Discovery attached to the bus.
func (b *InmemBus) Join() *InmemDiscovery {
	d := &InmemDiscovery{
		bus:        b,
		consumerCh: make(chan Announcement, consumerBuffer),
	}
	b.Lock()
	b.members[d] = true
	b.Unlock()
	return d
}

func (b *InmemBus) leave(d *InmemDiscovery) {
	b.Lock()
	delete(b.members, d)
	b.Unlock()
}

func (b *InmemBus) broadcast(from *InmemDiscovery, a Announcement) {
	b.RLock()
	defer b.RUnlock()

	for m := range b.members {
		if m == from {
			continue
		}
		select {
		case m.consumerCh <- a:
		default:
		}
	}
}

// InmemDiscovery implements Discovery over an InmemBus.
type InmemDiscovery struct {
	bus        *InmemBus
	consumerCh chan Announcement
}

// Announce implements Discovery.
func (d *InmemDiscovery) Announce(a *Announcement) error {
	d.bus.broadcast(d, *a)
	return nil
}

// Consumer implements Discovery.
func (d *InmemDiscovery) Consumer() <-chan Announcement {
	return d.consumerCh
}

// Listen implements Discovery. Delivery is done by the bus, so there is
// nothing to run.
func (d *InmemDiscovery) Listen() {}

// Close implements Discovery.
func (d *InmemDiscovery) Close() error {
	d.bus.leave(d)
	return nil
}
