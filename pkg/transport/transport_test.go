package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unicastPair(t *testing.T, maxDatagram int) (*UDPSender, *UDPReceiver) {
	t.Helper()

	rconn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	receiver := NewUDPReceiver(rconn, maxDatagram)
	t.Cleanup(func() { receiver.Close() })

	sconn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	sender := NewUDPSender(sconn, rconn.LocalAddr(), maxDatagram)
	t.Cleanup(func() { sender.Close() })

	return sender, receiver
}

func TestUDPSendReceive(t *testing.T) {
	sender, receiver := unicastPair(t, DefaultMaxDatagram)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := []byte(`{"filename":"Agora.jpeg"}`)
	require.NoError(t, sender.Send(ctx, payload))

	dg, err := receiver.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, dg.Payload)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), dg.From.Addr())
	assert.Equal(t, uint16(sender.conn.LocalAddr().(*net.UDPAddr).Port), dg.From.Port())
}

func TestUDPSendRejectsOversized(t *testing.T) {
	sender, _ := unicastPair(t, 64)

	err := sender.Send(context.Background(), bytes.Repeat([]byte("x"), 65))
	var tooLarge *MessageTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 65, tooLarge.Size)
	assert.Equal(t, 64, tooLarge.Limit)

	assert.NoError(t, sender.Send(context.Background(), bytes.Repeat([]byte("x"), 64)))
}

func TestUDPReceiveDetectsTruncation(t *testing.T) {
	rconn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	receiver := NewUDPReceiver(rconn, 32)
	defer receiver.Close()

	// A sender with a larger bound than the receiver.
	sconn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	sender := NewUDPSender(sconn, rconn.LocalAddr(), 1024)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sender.Send(ctx, bytes.Repeat([]byte("y"), 100)))

	dg, err := receiver.Receive(ctx)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Len(t, dg.Payload, 32)
}

func TestUDPReceiveHonoursContext(t *testing.T) {
	_, receiver := unicastPair(t, DefaultMaxDatagram)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := receiver.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestUDPReceiveAfterClose(t *testing.T) {
	_, receiver := unicastPair(t, DefaultMaxDatagram)
	require.NoError(t, receiver.Close())

	_, err := receiver.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoopback(t *testing.T) {
	lb := NewLoopback(4, 16)
	from := netip.MustParseAddrPort("10.0.0.5:9000")
	sender := lb.SenderFrom(from)
	ctx := context.Background()

	require.NoError(t, sender.Send(ctx, []byte("hello")))
	dg, err := lb.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), dg.Payload)
	assert.Equal(t, from, dg.From)

	var tooLarge *MessageTooLargeError
	assert.True(t, errors.As(sender.Send(ctx, make([]byte, 17)), &tooLarge))

	require.NoError(t, lb.Close())
	_, err = lb.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	var terr *TransportError
	assert.True(t, errors.As(sender.Send(ctx, []byte("late")), &terr))
}

func TestParseGroup(t *testing.T) {
	g, err := ParseGroup(DefaultGroup, 5000)
	require.NoError(t, err)
	assert.Equal(t, "239.128.1.1:5000", g.String())

	_, err = ParseGroup("10.0.0.1", 5000)
	assert.Error(t, err, "unicast address")
	_, err = ParseGroup("ff02::1", 5000)
	assert.Error(t, err, "IPv6 group")
	_, err = ParseGroup(DefaultGroup, 0)
	assert.Error(t, err)
	_, err = ParseGroup("not-an-ip", 5000)
	assert.Error(t, err)
}
