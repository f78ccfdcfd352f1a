package artnet

import (
	"fmt"
	"net"
)

// FindArtNetIP finds the first IPv4 interface address inside network (CIDR).
// It returns a nil IP when no interface matches.
func FindArtNetIP(network string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, fmt.Errorf("bad art-net network %q: %w", network, err)
	}
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		if cidrNet.Contains(ipNet.IP) {
			return ipNet.IP, nil
		}
	}

	return nil, nil
}
