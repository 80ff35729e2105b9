package discovery

// Discovery broadcasts this device's announcements and delivers the
// announcements of other devices.
type Discovery interface {
	// Announce broadcasts an announcement.
	Announce(a *Announcement) error

	// Consumer returns the channel on which received announcements are
	// delivered. Announcements are dropped when the channel is full.
	Consumer() <-chan Announcement

	// Listen receives announcements until Close is called.
	Listen()

	// Close stops the discovery and releases its resources.
	Close() error
}

const consumerBuffer = 64
