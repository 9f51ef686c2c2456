package controller

import (
	"sync"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

// Matcher selects an incoming frame by addressing and header. All fields
// are exact except TransactionSequence, where zero matches any (issued
// sequence numbers run 1..255).
type Matcher struct {
	IEEE                uint64
	Endpoint            uint8
	Type                zcl.FrameType
	Cluster             uint16
	CommandID           uint8
	TransactionSequence uint8
}

func (m Matcher) matches(fe *adapter.FrameEvent) bool {
	if m.IEEE != fe.IEEE || m.Endpoint != fe.Endpoint || m.Cluster != fe.Cluster {
		return false
	}
	h := fe.Frame.Header
	if m.Type != h.Type || m.CommandID != h.CommandID {
		return false
	}
	return m.TransactionSequence == 0 || m.TransactionSequence == h.TransactionSequence
}

// WaitResult is what a settled waiter delivers: the matched frame, or the
// reason there is none.
type WaitResult struct {
	Frame *adapter.FrameEvent
	Err   error
}

// Waiter is one registered wait for an expected incoming frame.
type Waiter struct {
	ws    *Waitress
	id    uint64
	m     Matcher
	timer *time.Timer
	ch    chan WaitResult
}

// Result delivers exactly one WaitResult when the waiter settles.
func (w *Waiter) Result() <-chan WaitResult { return w.ch }

// Cancel settles the waiter as cancelled. A no-op once settled.
func (w *Waiter) Cancel() {
	w.ws.settle(w, WaitResult{Err: ErrWaitCancelled})
}

// Waitress matches incoming frames against registered waiters. The receive
// loop feeds it; callers expecting an out-of-band frame register with
// WaitFor.
type Waitress struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]*Waiter
}

func NewWaitress() *Waitress {
	return &Waitress{waiters: make(map[uint64]*Waiter)}
}

// WaitFor registers a waiter. A zero timeout waits until the frame arrives
// or Cancel is called.
func (ws *Waitress) WaitFor(m Matcher, timeout time.Duration) *Waiter {
	w := &Waiter{ws: ws, m: m, ch: make(chan WaitResult, 1)}
	ws.mu.Lock()
	ws.nextID++
	w.id = ws.nextID
	ws.waiters[w.id] = w
	ws.mu.Unlock()
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			ws.settle(w, WaitResult{Err: ErrWaitTimeout})
		})
	}
	return w
}

// settle delivers res unless the waiter already settled. Removal from the
// table under the lock is what makes settlement one-shot.
func (ws *Waitress) settle(w *Waiter, res WaitResult) bool {
	ws.mu.Lock()
	_, live := ws.waiters[w.id]
	delete(ws.waiters, w.id)
	ws.mu.Unlock()
	if !live {
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.ch <- res
	return true
}

// Resolve settles every waiter the frame matches and reports whether any
// did.
func (ws *Waitress) Resolve(fe *adapter.FrameEvent) bool {
	ws.mu.Lock()
	var matched []*Waiter
	for _, w := range ws.waiters {
		if w.m.matches(fe) {
			matched = append(matched, w)
		}
	}
	for _, w := range matched {
		delete(ws.waiters, w.id)
	}
	ws.mu.Unlock()
	for _, w := range matched {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.ch <- WaitResult{Frame: fe}
	}
	return len(matched) > 0
}
