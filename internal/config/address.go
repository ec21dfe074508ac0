package config

import (
	"fmt"
	"net"
	"strings"
)

// ParseAddress converts a listener address into a network and address pair
// for net.Listen. Accepted forms are host:port, inet:port@host,
// inet6:port@host and unix:/path.
func ParseAddress(addr string) (network, address string, err error) {
	proto, rest, found := strings.Cut(addr, ":")
	if !found {
		return "", "", fmt.Errorf("invalid listener address %q", addr)
	}

	switch proto {
	case "unix", "local":
		if rest == "" {
			return "", "", fmt.Errorf("invalid listener address %q: missing socket path", addr)
		}
		return "unix", rest, nil
	case "inet", "inet6":
		port, host, _ := strings.Cut(rest, "@")
		if port == "" {
			return "", "", fmt.Errorf("invalid listener address %q: missing port", addr)
		}
		network := "tcp4"
		if proto == "inet6" {
			network = "tcp6"
		}
		return network, net.JoinHostPort(host, port), nil
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", "", fmt.Errorf("invalid listener address %q: %w", addr, err)
	}
	return "tcp", addr, nil
}
