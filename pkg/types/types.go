package types

import (
	"fmt"
	"net/netip"
)

// FingerprintLength is the length of a hex encoded SHA-256 digest.
const FingerprintLength = 64

// Fingerprint is the lowercase hex SHA-256 digest identifying a byte sequence.
type Fingerprint string

// Valid reports whether f is 64 lowercase hex characters.
func (f Fingerprint) Valid() bool {
	if len(f) != FingerprintLength {
		return false
	}
	for i := 0; i < len(f); i++ {
		c := f[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short returns the first 12 characters, for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

type PeerEndpoint struct {
	Address netip.Addr `json:"address"`
	Port    uint16     `json:"port"`
}

func EndpointFromAddrPort(ap netip.AddrPort) PeerEndpoint {
	return PeerEndpoint{Address: ap.Addr().Unmap(), Port: ap.Port()}
}

// ParseEndpoint parses "host:port" into a PeerEndpoint.
func ParseEndpoint(s string) (PeerEndpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return PeerEndpoint{}, fmt.Errorf("invalid peer endpoint %q: %w", s, err)
	}
	return EndpointFromAddrPort(ap), nil
}

// SameHost compares endpoints by address only. The port is kept for display
// but two processes on one host collapse into a single peer.
func (e PeerEndpoint) SameHost(other PeerEndpoint) bool {
	return e.Address == other.Address
}

func (e PeerEndpoint) String() string {
	return netip.AddrPortFrom(e.Address, e.Port).String()
}

// Chunk is one fixed-size window of a file. Data aliases the reader's buffer
// and is only valid until the window is stored.
type Chunk struct {
	Index       int
	Fingerprint Fingerprint
	Size        int64
	Data        []byte
}
