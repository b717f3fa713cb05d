package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// pollInterval bounds how long Receive blocks in the kernel before it
// rechecks its context.
const pollInterval = 500 * time.Millisecond

type SenderOptions struct {
	MaxDatagram int
	TTL         int
	Loopback    bool
	Interface   string
}

// UDPSender writes datagrams to a fixed destination, normally a multicast group.
type UDPSender struct {
	conn        net.PacketConn
	dst         net.Addr
	maxDatagram int
}

// DialGroup opens an unbound UDP socket for sending to group.
func DialGroup(group netip.AddrPort, opts SenderOptions) (*UDPSender, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if opts.TTL > 0 {
		if err := pc.SetMulticastTTL(opts.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast TTL: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(opts.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast loopback: %w", err)
	}
	if opts.Interface != "" {
		iface, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("unknown interface %q: %w", opts.Interface, err)
		}
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	return NewUDPSender(conn, net.UDPAddrFromAddrPort(group), opts.MaxDatagram), nil
}

// NewUDPSender wraps an existing socket.
func NewUDPSender(conn net.PacketConn, dst net.Addr, maxDatagram int) *UDPSender {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	return &UDPSender{conn: conn, dst: dst, maxDatagram: maxDatagram}
}

func (s *UDPSender) Send(ctx context.Context, payload []byte) error {
	if err := checkSize(payload, s.maxDatagram); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	} else {
		s.conn.SetWriteDeadline(time.Time{})
	}

	n, err := s.conn.WriteTo(payload, s.dst)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if n != len(payload) {
		return &TransportError{Op: "send", Err: fmt.Errorf("short write: %d of %d bytes", n, len(payload))}
	}
	return nil
}

func (s *UDPSender) Close() error {
	return s.conn.Close()
}

// UDPReceiver reads one datagram at a time from a bound socket.
type UDPReceiver struct {
	conn        net.PacketConn
	maxDatagram int
	buf         []byte
}

// ListenGroup binds the group port and joins the group. With an empty
// interface name the group is joined on every multicast capable interface
// that is up.
func ListenGroup(group netip.AddrPort, ifaceName string, maxDatagram int, logger *zap.Logger) (*UDPReceiver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var iface *net.Interface
	if ifaceName != "" {
		var err error
		iface, err = net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("unknown interface %q: %w", ifaceName, err)
		}
	}

	// ListenMulticastUDP sets SO_REUSEADDR so several listeners can share
	// the port, and joins the group on iface (or the default interface).
	gaddr := net.UDPAddrFromAddrPort(group)
	conn, err := net.ListenMulticastUDP("udp4", iface, gaddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind group %s: %w", group, err)
	}

	if iface == nil {
		joined := joinAllInterfaces(ipv4.NewPacketConn(conn), gaddr, logger)
		logger.Debug("Joined multicast group",
			zap.String("group", group.String()),
			zap.Int("interfaces", joined))
	}

	return NewUDPReceiver(conn, maxDatagram), nil
}

func joinAllInterfaces(pc *ipv4.PacketConn, group *net.UDPAddr, logger *zap.Logger) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("Failed to list interfaces", zap.Error(err))
		return 0
	}

	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err != nil {
			// Already joined through the default interface.
			logger.Debug("Skipping interface", zap.String("interface", iface.Name), zap.Error(err))
			continue
		}
		joined++
	}
	return joined
}

// NewUDPReceiver wraps an existing socket, for example a unicast one in tests.
func NewUDPReceiver(conn net.PacketConn, maxDatagram int) *UDPReceiver {
	if maxDatagram <= 0 {
		maxDatagram = DefaultMaxDatagram
	}
	return &UDPReceiver{
		conn:        conn,
		maxDatagram: maxDatagram,
		buf:         make([]byte, maxDatagram+1),
	}
}

func (r *UDPReceiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Receive returns the next datagram. A datagram that fills the buffer past
// the bound is returned together with ErrTruncated.
func (r *UDPReceiver) Receive(ctx context.Context) (Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}

		r.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := r.conn.ReadFrom(r.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Datagram{}, ErrClosed
			}
			return Datagram{}, &TransportError{Op: "receive", Err: err}
		}

		dg := Datagram{From: addrPortOf(addr)}
		if n > r.maxDatagram {
			dg.Payload = append([]byte(nil), r.buf[:r.maxDatagram]...)
			return dg, ErrTruncated
		}
		dg.Payload = append([]byte(nil), r.buf[:n]...)
		return dg, nil
	}
}

func (r *UDPReceiver) Close() error {
	return r.conn.Close()
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if u, ok := addr.(*net.UDPAddr); ok {
		ap := u.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
