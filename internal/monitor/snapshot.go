package monitor

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Snapshot holds the most recent cycle for readers such as the dashboard.
// Current never blocks on the network; Refresh runs a new cycle, and
// concurrent Refresh calls share one.
type Snapshot struct {
	collector *Collector
	tags      []string

	group singleflight.Group

	mu      sync.RWMutex
	last    *CycleResult
	lastErr error
}

// NewSnapshot creates a snapshot over the targets selected by tags. It is
// empty until the first Refresh.
func NewSnapshot(c *Collector, tags []string) *Snapshot {
	return &Snapshot{collector: c, tags: tags}
}

// Current returns a copy of the latest host statuses.
func (s *Snapshot) Current() []HostStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	out := make([]HostStatus, len(s.last.Hosts))
	copy(out, s.last.Hosts)
	return out
}

// LastCycle returns the latest cycle and the error it ended with. Both are
// nil before the first Refresh.
func (s *Snapshot) LastCycle() (*CycleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// Refresh runs a cycle now, or joins the one already running. A caller
// whose ctx ends stops waiting; the shared cycle carries on under the
// context of the caller that started it.
func (s *Snapshot) Refresh(ctx context.Context) (*CycleResult, error) {
	ch := s.group.DoChan("cycle", func() (interface{}, error) {
		res, err := s.collector.Collect(ctx, s.tags)

		s.mu.Lock()
		s.last, s.lastErr = res, err
		s.mu.Unlock()

		return res, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(*CycleResult)
		return res, r.Err
	}
}
