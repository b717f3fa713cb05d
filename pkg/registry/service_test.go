package registry

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"testing"
	"time"

	"chunkcast/pkg/manifest"
	"chunkcast/pkg/storage"
	"chunkcast/pkg/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func encoded(t *testing.T, m *manifest.Manifest) []byte {
	t.Helper()
	data, err := manifest.Encode(m)
	require.NoError(t, err)
	return data
}

func runService(t *testing.T, svc *Service) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("service did not stop")
			return nil
		}
	}
}

func TestServiceHandle(t *testing.T) {
	reg := New()
	var changes []Announcement
	svc := NewService(reg, transport.NewLoopback(1, 0), ServiceOptions{
		OnChange: func(a Announcement) { changes = append(changes, a) },
	}, zaptest.NewLogger(t))

	m := testManifest("Agora.jpeg", []byte("agora"))
	from := netip.MustParseAddrPort("10.0.0.5:9000")

	a, err := svc.Handle(transport.Datagram{Payload: encoded(t, m), From: from})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegistered, a.Outcome)
	assert.Equal(t, m.FullFileHash, a.Manifest.FullFileHash)
	assert.Equal(t, "10.0.0.5:9000", a.From.String())

	a, err = svc.Handle(transport.Datagram{Payload: encoded(t, m), From: from})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, a.Outcome)

	require.Len(t, changes, 1, "duplicates do not trigger OnChange")
	assert.Equal(t, OutcomeRegistered, changes[0].Outcome)
}

func TestServiceHandleMappedAddress(t *testing.T) {
	reg := New()
	svc := NewService(reg, transport.NewLoopback(1, 0), ServiceOptions{}, nil)
	m := testManifest("a", []byte("a"))

	_, err := svc.Handle(transport.Datagram{Payload: encoded(t, m), From: netip.MustParseAddrPort("10.0.0.5:9000")})
	require.NoError(t, err)
	a, err := svc.Handle(transport.Datagram{Payload: encoded(t, m), From: netip.MustParseAddrPort("[::ffff:10.0.0.5]:9001")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, a.Outcome)
}

func TestServiceHandleMalformed(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := New(WithMetrics(metrics))
	svc := NewService(reg, transport.NewLoopback(1, 0), ServiceOptions{}, zaptest.NewLogger(t))
	from := netip.MustParseAddrPort("10.0.0.5:9000")

	payloads := [][]byte{
		nil,
		[]byte("not json"),
		[]byte(`{"filename":"x","fileSize":"big"}`),
		[]byte(`{"filename":"x","fileSize":10}`),
		[]byte(`{"fullFileHash":"short"}`),
	}
	for _, p := range payloads {
		_, err := svc.Handle(transport.Datagram{Payload: p, From: from})
		var parseErr *manifest.ParseError
		assert.True(t, errors.As(err, &parseErr), "payload %q: %v", p, err)
	}

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, float64(len(payloads)), testutil.ToFloat64(metrics.ParseFailures))
}

func TestServiceRunContinuesPastBadDatagrams(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := New(WithMetrics(metrics))
	lb := transport.NewLoopback(8, 0)

	svc := NewService(reg, lb, ServiceOptions{}, zaptest.NewLogger(t))
	stop := runService(t, svc)

	ctx := context.Background()
	tx := lb.SenderFrom(netip.MustParseAddrPort("10.0.0.5:9000"))
	require.NoError(t, tx.Send(ctx, []byte("{broken")))
	require.NoError(t, tx.Send(ctx, encoded(t, testManifest("a", []byte("a")))))

	require.Eventually(t, func() bool { return reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ParseFailures))

	assert.NoError(t, stop(), "cancellation is a clean shutdown")
}

func TestServiceRunReturnsWhenReceiverClosed(t *testing.T) {
	lb := transport.NewLoopback(1, 0)
	svc := NewService(New(), lb, ServiceOptions{}, nil)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	require.NoError(t, lb.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

type scriptedReceiver struct {
	mu      sync.Mutex
	results []error
	payload []byte
}

func (r *scriptedReceiver) Receive(ctx context.Context) (transport.Datagram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return transport.Datagram{}, transport.ErrClosed
	}
	err := r.results[0]
	r.results = r.results[1:]
	return transport.Datagram{Payload: r.payload, From: netip.MustParseAddrPort("10.0.0.9:1")}, err
}

func (r *scriptedReceiver) Close() error { return nil }

func TestServiceRunCountsReceiveErrors(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := New(WithMetrics(metrics))
	rx := &scriptedReceiver{
		results: []error{errors.New("connection refused"), transport.ErrTruncated, nil},
		payload: encoded(t, testManifest("a", []byte("a"))),
	}

	err := NewService(reg, rx, ServiceOptions{}, zaptest.NewLogger(t)).Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrClosed)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TransportErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ParseFailures), "truncated datagrams count as parse failures")
	assert.Equal(t, 1, reg.Len())
}

func TestServiceRunWorkers(t *testing.T) {
	reg := New(WithCapacity(10))
	lb := transport.NewLoopback(64, 0)

	var mu sync.Mutex
	changes := 0
	svc := NewService(reg, lb, ServiceOptions{
		Workers:  4,
		OnChange: func(Announcement) { mu.Lock(); changes++; mu.Unlock() },
	}, zaptest.NewLogger(t))
	stop := runService(t, svc)

	files := []*manifest.Manifest{
		testManifest("a", []byte("a")),
		testManifest("b", []byte("b")),
		testManifest("c", []byte("c")),
	}
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		tx := lb.SenderFrom(netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), 9000))
		for _, m := range files {
			require.NoError(t, tx.Send(ctx, encoded(t, m)))
		}
	}

	require.Eventually(t, func() bool {
		s := reg.Stats()
		return s.FullEntries == 3 && s.Dropped == 30
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 30, changes)
	assert.Equal(t, 30, reg.Stats().Peers)
}

// TestChunkAnnounceRegisterEndToEnd chunks a 1.2MiB file, sends its
// manifest from two hosts and checks the registry ends with one entry
// listing both.
func TestChunkAnnounceRegisterEndToEnd(t *testing.T) {
	store, err := storage.NewContentStore(t.TempDir(), storage.CompressionNone)
	require.NoError(t, err)
	cm := storage.NewChunkManager(store, zaptest.NewLogger(t))

	content := make([]byte, 1258291)
	rand.New(rand.NewSource(7)).Read(content)

	m, err := cm.ChunkReader(context.Background(), "SingaporeHarbor.jpeg", bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 3, m.NumberOfChunks)

	payload := encoded(t, m)
	require.LessOrEqual(t, len(payload), transport.DefaultMaxDatagram)

	reg := New(WithLogger(zaptest.NewLogger(t)))
	lb := transport.NewLoopback(4, 0)
	stop := runService(t, NewService(reg, lb, ServiceOptions{}, zaptest.NewLogger(t)))

	ctx := context.Background()
	require.NoError(t, lb.SenderFrom(netip.MustParseAddrPort("10.0.0.5:9000")).Send(ctx, payload))
	require.NoError(t, lb.SenderFrom(netip.MustParseAddrPort("10.0.0.6:9001")).Send(ctx, payload))

	require.Eventually(t, func() bool {
		e, ok := reg.Lookup(m.FullFileHash)
		return ok && len(e.Peers) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	entries := reg.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "SingaporeHarbor.jpeg", entries[0].Filename)
	assert.Equal(t, int64(1258291), entries[0].FileSize)
	assert.Equal(t, m.ChunkHashes, entries[0].ChunkHashes)
	assert.Equal(t, "10.0.0.5:9000", entries[0].Peers[0].String())
	assert.Equal(t, "10.0.0.6:9001", entries[0].Peers[1].String())
}
