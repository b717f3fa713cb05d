// Package registry keeps the in-memory table of announced files and the
// peers that hold them, keyed by whole-file fingerprint.
package registry

import (
	"fmt"
	"sync"
	"time"

	"chunkcast/pkg/manifest"
	"chunkcast/pkg/types"
	"chunkcast/pkg/utils"

	"go.uber.org/zap"
)

const DefaultCapacity = 100

// State of a registry entry. An absent entry is StateUnknown.
type State int

const (
	StateUnknown State = iota
	StateRegistered
	StateFull
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateFull:
		return "full"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "registered":
		*s = StateRegistered
	case "full":
		*s = StateFull
	case "unknown":
		*s = StateUnknown
	default:
		return fmt.Errorf("unknown entry state %q", text)
	}
	return nil
}

// Outcome describes what a single announcement did to the table.
type Outcome int

const (
	// OutcomeRegistered created a new entry.
	OutcomeRegistered Outcome = iota
	// OutcomePeerAdded appended a peer to an existing entry.
	OutcomePeerAdded
	// OutcomeDuplicate came from an address already listed.
	OutcomeDuplicate
	// OutcomeDropped came from a new address while the entry was full.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegistered:
		return "registered"
	case OutcomePeerAdded:
		return "peer_added"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Changed reports whether the outcome mutated the table.
func (o Outcome) Changed() bool {
	return o == OutcomeRegistered || o == OutcomePeerAdded
}

// Entry is a snapshot of one registered file.
type Entry struct {
	FullFileHash   types.Fingerprint    `json:"fullFileHash"`
	Filename       string               `json:"filename"`
	NumberOfChunks int                  `json:"numberOfChunks"`
	FileSize       int64                `json:"fileSize"`
	ChunkHashes    []types.Fingerprint  `json:"chunk_hashes,omitempty"`
	Peers          []types.PeerEndpoint `json:"peers"`
	Capacity       int                  `json:"capacity"`
	State          State                `json:"state"`
	FirstSeen      time.Time            `json:"firstSeen"`
	LastSeen       time.Time            `json:"lastSeen"`
}

type entry struct {
	hash           types.Fingerprint
	filename       string
	numberOfChunks int
	fileSize       int64
	chunkHashes    []types.Fingerprint
	peers          *utils.BoundedList[types.PeerEndpoint]
	firstSeen      time.Time
	lastSeen       time.Time
}

// hasHost reports whether a peer with the same address is already listed.
// Ports are ignored, so two processes on one host count once.
func (e *entry) hasHost(p types.PeerEndpoint) bool {
	for _, existing := range e.peers.Items() {
		if existing.SameHost(p) {
			return true
		}
	}
	return false
}

func (e *entry) state() State {
	if e.peers.Full() {
		return StateFull
	}
	return StateRegistered
}

func (e *entry) snapshot() Entry {
	return Entry{
		FullFileHash:   e.hash,
		Filename:       e.filename,
		NumberOfChunks: e.numberOfChunks,
		FileSize:       e.fileSize,
		ChunkHashes:    append([]types.Fingerprint(nil), e.chunkHashes...),
		Peers:          e.peers.Items(),
		Capacity:       e.peers.Cap(),
		State:          e.state(),
		FirstSeen:      e.firstSeen,
		LastSeen:       e.lastSeen,
	}
}

// Stats summarises the table.
type Stats struct {
	Entries     int    `json:"entries"`
	FullEntries int    `json:"fullEntries"`
	Peers       int    `json:"peers"`
	Dropped     uint64 `json:"dropped"`
}

type Option func(*Registry)

// WithCapacity sets the peer ceiling per entry.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry maps full-file fingerprints to entries. Entries are never
// removed and peers are never removed from an entry.
type Registry struct {
	mu       sync.RWMutex
	index    map[types.Fingerprint]*entry
	order    []*entry
	peers    int
	dropped  uint64
	capacity int

	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(opts ...Option) *Registry {
	r := &Registry{
		index:    make(map[types.Fingerprint]*entry),
		capacity: DefaultCapacity,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Capacity() int {
	return r.capacity
}

// requiredFields are the manifest fields an entry is built from.
var requiredFields = []string{
	manifest.FieldFullFileHash,
	manifest.FieldFilename,
	manifest.FieldNumberOfChunks,
}

// Announce merges one manifest received from a peer. The metadata of the
// first announcement is kept for the life of the entry.
func (r *Registry) Announce(m *manifest.Manifest, from types.PeerEndpoint) (Outcome, error) {
	if m == nil {
		return 0, &manifest.ParseError{Reason: "no manifest"}
	}
	for _, field := range requiredFields {
		if !m.Has(field) {
			return 0, &manifest.ParseError{Reason: "missing " + field}
		}
	}
	if !m.FullFileHash.Valid() {
		return 0, &manifest.ParseError{Reason: fmt.Sprintf("invalid %s %q", manifest.FieldFullFileHash, m.FullFileHash)}
	}

	r.mu.Lock()
	outcome, e := r.merge(m, from)
	// gauges are set under the lock so concurrent merges publish in order
	r.metrics.observe(outcome, len(r.order), r.peers)
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("file", e.filename),
		zap.String("hash", e.hash.Short()),
		zap.Stringer("peer", from),
		zap.Stringer("outcome", outcome),
	}
	switch outcome {
	case OutcomeDropped:
		r.logger.Warn("Peer list full, announcement dropped", append(fields, zap.Int("capacity", r.capacity))...)
	case OutcomeDuplicate:
		r.logger.Debug("Duplicate announcement", fields...)
	default:
		r.logger.Info("Announcement merged", fields...)
	}
	return outcome, nil
}

// merge must be called with mu held.
func (r *Registry) merge(m *manifest.Manifest, from types.PeerEndpoint) (Outcome, *entry) {
	now := r.now()

	e, ok := r.index[m.FullFileHash]
	if !ok {
		e = &entry{
			hash:           m.FullFileHash,
			filename:       m.Filename,
			numberOfChunks: m.NumberOfChunks,
			fileSize:       m.FileSize,
			chunkHashes:    append([]types.Fingerprint(nil), m.ChunkHashes...),
			peers:          utils.NewBoundedList[types.PeerEndpoint](r.capacity),
			firstSeen:      now,
			lastSeen:       now,
		}
		// capacity is at least 1, so the first peer always fits
		e.peers.Append(from)
		r.index[e.hash] = e
		r.order = append(r.order, e)
		r.peers++
		return OutcomeRegistered, e
	}

	e.lastSeen = now
	if e.hasHost(from) {
		return OutcomeDuplicate, e
	}
	if _, err := e.peers.Append(from); err != nil {
		r.dropped++
		return OutcomeDropped, e
	}
	r.peers++
	return OutcomePeerAdded, e
}

// Lookup returns a snapshot of the entry for hash.
func (r *Registry) Lookup(hash types.Fingerprint) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.index[hash]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// State returns the state of the entry for hash, StateUnknown if absent.
func (r *Registry) State(hash types.Fingerprint) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.index[hash]; ok {
		return e.state()
	}
	return StateUnknown
}

// Entries returns snapshots of every entry in first-seen order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.snapshot())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Entries: len(r.order),
		Peers:   r.peers,
		Dropped: r.dropped,
	}
	for _, e := range r.order {
		if e.peers.Full() {
			s.FullEntries++
		}
	}
	return s
}
