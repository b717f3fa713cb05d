// Package transport carries manifest announcements as single datagrams over
// an unreliable, unordered group channel. There is no fragmentation, no
// retry and no acknowledgement.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

const (
	DefaultGroup       = "239.128.1.1"
	DefaultMaxDatagram = 4096
)

var (
	// ErrTruncated is returned with a datagram that did not fit the receive
	// buffer. Its payload is incomplete and will not parse.
	ErrTruncated = errors.New("datagram truncated")

	ErrClosed = errors.New("transport closed")
)

// Datagram is one received message and where it came from.
type Datagram struct {
	Payload []byte
	From    netip.AddrPort
}

type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type Receiver interface {
	// Receive blocks until a datagram arrives, ctx is done or the receiver
	// is closed.
	Receive(ctx context.Context) (Datagram, error)
	Close() error
}

// MessageTooLargeError is returned by Send when the payload exceeds the
// datagram bound. Oversized announcements are refused rather than sent and
// truncated on the wire.
type MessageTooLargeError struct {
	Size  int
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds datagram limit of %d bytes", e.Size, e.Limit)
}

// TransportError wraps a failed send or receive.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func checkSize(payload []byte, limit int) error {
	if limit > 0 && len(payload) > limit {
		return &MessageTooLargeError{Size: len(payload), Limit: limit}
	}
	return nil
}

// ParseGroup parses a multicast group address and port.
func ParseGroup(group string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(group)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid group address %q: %w", group, err)
	}
	if !addr.Is4() || !addr.IsMulticast() {
		return netip.AddrPort{}, fmt.Errorf("group address %s is not an IPv4 multicast address", addr)
	}
	if port <= 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("invalid port %d", port)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}
