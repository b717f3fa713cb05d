package transport

import (
	"context"
	"net/netip"
	"sync"
)

// Loopback is an in-process group channel. Every Sender created from it
// delivers to the one Receiver side, tagged with the sender's address.
type Loopback struct {
	ch          chan Datagram
	maxDatagram int

	closeOnce sync.Once
	closed    chan struct{}
}

func NewLoopback(buffer, maxDatagram int) *Loopback {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	return &Loopback{
		ch:          make(chan Datagram, buffer),
		maxDatagram: maxDatagram,
		closed:      make(chan struct{}),
	}
}

// SenderFrom returns a Sender whose datagrams appear to come from from.
func (l *Loopback) SenderFrom(from netip.AddrPort) Sender {
	return &loopbackSender{l: l, from: from}
}

func (l *Loopback) Receive(ctx context.Context) (Datagram, error) {
	select {
	case <-l.closed:
		return Datagram{}, ErrClosed
	default:
	}

	select {
	case dg := <-l.ch:
		return dg, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case <-l.closed:
		return Datagram{}, ErrClosed
	}
}

func (l *Loopback) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

type loopbackSender struct {
	l    *Loopback
	from netip.AddrPort
}

func (s *loopbackSender) Send(ctx context.Context, payload []byte) error {
	if err := checkSize(payload, s.l.maxDatagram); err != nil {
		return err
	}
	select {
	case <-s.l.closed:
		return &TransportError{Op: "send", Err: ErrClosed}
	default:
	}

	dg := Datagram{Payload: append([]byte(nil), payload...), From: s.from}
	select {
	case s.l.ch <- dg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.l.closed:
		return &TransportError{Op: "send", Err: ErrClosed}
	}
}

func (s *loopbackSender) Close() error {
	return nil
}
