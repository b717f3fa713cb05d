package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"chunkcast/pkg/manifest"
	"chunkcast/pkg/transport"
	"chunkcast/pkg/types"

	"go.uber.org/zap"
)

// errorBackoff spaces out retries after a receive error so a broken socket
// does not spin the loop.
const errorBackoff = 100 * time.Millisecond

// Announcement is one decoded datagram and what merging it did.
type Announcement struct {
	Manifest *manifest.Manifest
	From     types.PeerEndpoint
	Outcome  Outcome
}

type ServiceOptions struct {
	// Workers > 1 decodes and merges datagrams on a pool. Merges are still
	// serialized by the registry lock.
	Workers int

	// OnChange is called after every merge that changed the table.
	OnChange func(Announcement)
}

// Service feeds datagrams from a Receiver into a Registry.
type Service struct {
	registry *Registry
	receiver transport.Receiver
	workers  int
	onChange func(Announcement)
	logger   *zap.Logger
}

func NewService(reg *Registry, rx transport.Receiver, opts ServiceOptions, logger *zap.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: reg,
		receiver: rx,
		workers:  opts.Workers,
		onChange: opts.OnChange,
		logger:   logger,
	}
}

// Handle decodes and merges a single datagram.
func (s *Service) Handle(dg transport.Datagram) (Announcement, error) {
	from := types.EndpointFromAddrPort(dg.From)

	m, err := manifest.Decode(dg.Payload)
	if err != nil {
		s.registry.metrics.parseFailure()
		return Announcement{From: from}, err
	}

	outcome, err := s.registry.Announce(m, from)
	if err != nil {
		s.registry.metrics.parseFailure()
		return Announcement{Manifest: m, From: from}, err
	}

	a := Announcement{Manifest: m, From: from, Outcome: outcome}
	if outcome.Changed() && s.onChange != nil {
		s.onChange(a)
	}
	return a, nil
}

// Run receives until ctx is cancelled, returning nil, or the receiver is
// closed, returning transport.ErrClosed. Undecodable datagrams and receive
// errors are logged and counted; the loop keeps going.
func (s *Service) Run(ctx context.Context) error {
	if s.workers == 1 {
		for ctx.Err() == nil {
			dg, err := s.receive(ctx)
			if err != nil {
				return err
			}
			if dg != nil {
				s.handle(*dg)
			}
		}
		return nil
	}

	jobs := make(chan transport.Datagram, s.workers)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dg := range jobs {
				s.handle(dg)
			}
		}()
	}
	defer wg.Wait()
	defer close(jobs)

	for ctx.Err() == nil {
		dg, err := s.receive(ctx)
		if err != nil {
			return err
		}
		if dg == nil {
			continue
		}
		select {
		case jobs <- *dg:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// receive returns a datagram, nil for a recoverable error, or the error
// that ends Run.
func (s *Service) receive(ctx context.Context) (*transport.Datagram, error) {
	dg, err := s.receiver.Receive(ctx)
	switch {
	case err == nil:
		return &dg, nil
	case ctx.Err() != nil:
		return nil, nil
	case errors.Is(err, transport.ErrClosed):
		return nil, transport.ErrClosed
	case errors.Is(err, transport.ErrTruncated):
		s.registry.metrics.parseFailure()
		s.logger.Warn("Dropped truncated datagram",
			zap.Stringer("from", dg.From),
			zap.Int("size", len(dg.Payload)))
		return nil, nil
	default:
		s.registry.metrics.transportError()
		s.logger.Error("Failed to receive datagram", zap.Error(err))
		select {
		case <-time.After(errorBackoff):
		case <-ctx.Done():
		}
		return nil, nil
	}
}

func (s *Service) handle(dg transport.Datagram) {
	if _, err := s.Handle(dg); err != nil {
		s.logger.Warn("Ignored malformed announcement",
			zap.Stringer("from", dg.From),
			zap.Error(err))
	}
}
