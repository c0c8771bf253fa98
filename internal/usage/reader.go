// Package usage exposes the billing collaborator's message counters to
// the chat coordinator. The counters are written by billing alone; the
// planner only ever reads a snapshot.
package usage

import (
	"context"
	"sync"

	"github.com/venturekit/planner/internal/domain"
)

// Reader provides the current usage counters.
type Reader interface {
	Snapshot(ctx context.Context) (domain.UsageSnapshot, error)
}

// Static is a fixed-snapshot Reader for tests and offline use.
type Static struct {
	mu   sync.Mutex
	snap domain.UsageSnapshot
}

// NewStatic creates a Static reader with the given counters.
func NewStatic(snap domain.UsageSnapshot) *Static {
	return &Static{snap: snap}
}

func (s *Static) Snapshot(ctx context.Context) (domain.UsageSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

// Set replaces the counters, simulating a billing-side write.
func (s *Static) Set(snap domain.UsageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}
