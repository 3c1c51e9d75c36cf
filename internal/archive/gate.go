// Package archive recovers dead links from a web-archive snapshot index
// under a strict global request-spacing contract.
package archive

import (
	"context"
	"sync"
	"time"

	"pocketrescue/internal/metrics"
)

// Gate serializes archive-bound requests so that consecutive requests are
// spaced at least the configured interval apart, no matter how many workers
// are running. It is a rate-limit contract with the archive service, not a
// performance knob.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewGate builds a Gate with the given minimum spacing.
func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Wait blocks until the caller may issue the next archive request. Each
// caller claims a slot under the mutex and then sleeps outside it, so the
// lock is never held across the wait and spacing stays global.
func (g *Gate) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return ctx.Err()
	}

	g.mu.Lock()
	now := time.Now()
	slot := g.next
	if slot.Before(now) {
		slot = now
	}
	g.next = slot.Add(g.interval)
	g.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return ctx.Err()
	}
	metrics.ObserveGateWait(delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
