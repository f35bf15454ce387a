package hue

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// BridgeAddress locates a bridge on the local network.
// Port 0 means the protocol default.
type BridgeAddress struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// ParseAddress parses "host", "host:port" or "[v6]:port". A leading
// "http://" or trailing slash is tolerated.
func ParseAddress(s string) (BridgeAddress, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return BridgeAddress{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(raw) > 255 {
		return BridgeAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, Truncate(raw, 64))
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port; bare IPv6 may still be bracketed
		host = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		portStr = ""
	}

	if !validHost(host) {
		return BridgeAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, Truncate(raw, 64))
	}

	addr := BridgeAddress{Host: host}
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return BridgeAddress{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, Truncate(portStr, 16))
		}
		addr.Port = port
	}
	return addr, nil
}

// String renders the address as used in URLs.
func (a BridgeAddress) String() string {
	if a.Port != 0 {
		return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	}
	if strings.Contains(a.Host, ":") {
		return "[" + a.Host + "]"
	}
	return a.Host
}

// IsZero reports whether the address is unset.
func (a BridgeAddress) IsZero() bool {
	return a.Host == ""
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
