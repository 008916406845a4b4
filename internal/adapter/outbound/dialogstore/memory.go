// Package dialogstore holds live interaction contexts with an inactivity TTL.
// MemoryStore serves a single instance; RedisStore is shared across replicas.
package dialogstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonny/refundbot/internal/domain/model"
	"github.com/jonny/refundbot/internal/domain/port/outbound"
	"github.com/jonny/refundbot/internal/observability"
)

const DefaultTTL = 10 * time.Minute

type entry struct {
	ic        model.InteractionContext
	expiresAt time.Time
}

// MemoryStore is an in-process DialogStore. Expired entries behave as absent
// immediately and are physically removed by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithMetrics(m *observability.Metrics) MemoryOption {
	return func(s *MemoryStore) { s.metrics = m }
}

func WithLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ outbound.DialogStore = (*MemoryStore)(nil)

func (s *MemoryStore) Put(_ context.Context, ic model.InteractionContext) error {
	if ic.InteractionID == "" {
		return fmt.Errorf("put interaction: empty interaction id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ic.InteractionID] = entry{ic: ic, expiresAt: s.now().Add(s.ttl)}
	s.reportSize()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, interactionID string) (model.InteractionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(interactionID)
	if !ok {
		return model.InteractionContext{}, model.ErrInteractionNotFound
	}
	return e.ic, nil
}

func (s *MemoryStore) Remove(_ context.Context, interactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, interactionID)
	s.reportSize()
	return nil
}

// Update holds the store lock for the whole read-modify-write. Store-wide
// locking is fine here: fn never does I/O.
func (s *MemoryStore) Update(_ context.Context, interactionID string, fn outbound.UpdateFunc) (*model.InteractionContext, error) {
	if interactionID == "" {
		return nil, fmt.Errorf("update interaction: empty interaction id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *model.InteractionContext
	if e, ok := s.live(interactionID); ok {
		ic := e.ic
		current = &ic
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.entries, interactionID)
		s.reportSize()
		return nil, nil
	}
	next.InteractionID = interactionID
	s.entries[interactionID] = entry{ic: *next, expiresAt: s.now().Add(s.ttl)}
	s.reportSize()
	out := *next
	return &out, nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	s.reportSize()
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired dialog sessions swept", "count", n)
			}
		}
	}
}

// live must be called with mu held.
func (s *MemoryStore) live(id string) (entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		s.reportSize()
		return entry{}, false
	}
	return e, true
}

func (s *MemoryStore) reportSize() {
	if s.metrics != nil {
		s.metrics.DialogSessions.Set(float64(len(s.entries)))
	}
}
