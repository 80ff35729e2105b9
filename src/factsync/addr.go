package factsync

import (
	"errors"
	stdnet "net"
)

var errNoLANAddress = errors.New("no LAN address to advertise, set advertise")

// advertiseAddr returns the address announced to other devices. An explicit
// advertise address wins. A bind address on a wildcard host is advertised on
// the first private IPv4 address of the machine, keeping the bound port.
func advertiseAddr(bind, advertise string) (string, error) {
	if advertise != "" {
		return advertise, nil
	}

	host, port, err := stdnet.SplitHostPort(bind)
	if err != nil {
		return "", err
	}

	if ip := stdnet.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return "", nil
	}

	addrs, err := stdnet.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	ip := lanIP(addrs)
	if ip == nil {
		return "", errNoLANAddress
	}

	return stdnet.JoinHostPort(ip.String(), port), nil
}

func lanIP(addrs []stdnet.Addr) stdnet.IP {
	var fallback stdnet.IP
	for _, a := range addrs {
		ipnet, ok := a.(*stdnet.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if ip.IsPrivate() {
			return ip
		}
		if fallback == nil {
			fallback = ip
		}
	}
	return fallback
}
