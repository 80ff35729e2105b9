package net

// Transport provides an interface for network transports
// to allow a device to run sync sessions with its peers.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Tree, Fetch and Push send the appropriate RPC to the target device.

	Tree(target string, args *TreeRequest, resp *TreeResponse) error

	Fetch(target string, args *FetchRequest, resp *FetchResponse) error

	Push(target string, args *PushRequest, resp *PushResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
