package controller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// HasPending reports whether the endpoint holds queued requests.
func (e *Endpoint) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

// PendingCount returns the size of the pending set.
func (e *Endpoint) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// enqueue parks r in the pending set and returns the slot the caller waits
// on. The expiry was fixed when the request was built and is never
// extended.
func (e *Endpoint) enqueue(r *request) chan outcome {
	slot := make(chan outcome, 1)
	r.slots = append(r.slots, slot)
	e.mu.Lock()
	e.pending = append(e.pending, r)
	n := len(e.pending)
	e.mu.Unlock()
	zap.L().Debug("request queued",
		zap.Uint64("ieee", e.dev.IEEE),
		zap.Uint8("endpoint", e.ID),
		zap.Uint16("cluster", r.clusterID),
		zap.Int("pending", n))
	return slot
}

// await blocks until the slot settles. Cancelling the context releases the
// caller only: the queued request stays, bounded by its expiry.
func await(ctx context.Context, slot chan outcome) (*zcl.Frame, error) {
	select {
	case out := <-slot:
		return out.frame, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush drains the pending set: expired entries are evicted first, then the
// rest transmit in arrival order, each attempted at most once and removed
// whatever the outcome. fastPolling unlocks entries restricted to
// fast-poll windows. A flush already in progress makes the call a no-op,
// and requests enqueued while the transmission pass runs wait for the next
// one.
func (e *Endpoint) Flush(ctx context.Context, fastPolling bool) {
	e.mu.Lock()
	if len(e.pending) == 0 || e.flushing {
		e.mu.Unlock()
		return
	}
	e.flushing = true

	now := time.Now()
	live := e.pending[:0]
	expired := 0
	for _, r := range e.pending {
		if !r.expired(now) {
			live = append(live, r)
			continue
		}
		expired++
		r.settle(outcome{err: fmt.Errorf("%w: cluster 0x%04x", ErrRequestExpired, r.clusterID)})
	}

	batch := make([]*request, 0, len(live))
	rest := make([]*request, 0, len(live))
	for _, r := range live {
		if r.eligible(fastPolling) {
			batch = append(batch, r)
		} else {
			rest = append(rest, r)
		}
	}
	e.pending = rest
	e.mu.Unlock()

	if expired > 0 || len(batch) > 0 {
		zap.L().Debug("flushing endpoint",
			zap.Uint64("ieee", e.dev.IEEE),
			zap.Uint8("endpoint", e.ID),
			zap.Bool("fast_polling", fastPolling),
			zap.Int("expired", expired),
			zap.Int("batch", len(batch)))
	}
	for _, r := range batch {
		f, err := r.transmit(ctx)
		if err != nil {
			zap.L().Debug("flushed request failed",
				zap.Uint64("ieee", e.dev.IEEE),
				zap.Uint8("endpoint", e.ID),
				zap.Uint16("cluster", r.clusterID),
				zap.Error(err))
		}
		r.settle(outcome{frame: f, err: err})
	}

	e.mu.Lock()
	e.flushing = false
	e.mu.Unlock()
}
