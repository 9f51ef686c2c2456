// Package cache is a small in-memory key-value store with per-entry TTLs,
// used for short-lived protocol bookkeeping such as duplicate-delivery
// detection on the receive path.
package cache

import (
	"container/heap"
	"sync"
	"time"
)

const shardCount = 16

type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

// Store is a sharded TTL map. Expired entries are dropped by a background
// expirer and additionally filtered on read, so a stale value is never
// returned even before the sweep runs.
type Store struct {
	shards [shardCount]shard

	mu   sync.Mutex
	exp  expHeap
	wake chan struct{}
	done chan struct{}
}

// New creates a store and starts its expirer.
func New() *Store {
	s := &Store{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].items = make(map[string]entry)
	}
	go s.expire()
	return s
}

// Close stops the expirer. The store stays readable.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) shardFor(key string) *shard {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &s.shards[h%shardCount]
}

// Set stores a value. ttl <= 0 keeps the entry until deleted.
func (s *Store) Set(key string, v any, ttl time.Duration) {
	var at time.Time
	if ttl > 0 {
		at = time.Now().Add(ttl)
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = entry{value: v, expiresAt: at}
	sh.mu.Unlock()
	if !at.IsZero() {
		s.schedule(key, at)
	}
}

// Get returns the live value for key.
func (s *Store) Get(key string) (any, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.items[key]
	sh.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && !e.expiresAt.After(time.Now())) {
		return nil, false
	}
	return e.value, true
}

// Seen records key with the given ttl and reports whether it was already
// present and live. The check and the insert are atomic, which is what
// duplicate-delivery detection needs.
func (s *Store) Seen(key string, ttl time.Duration) bool {
	now := time.Now()
	at := now.Add(ttl)
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.items[key]
	if ok && (e.expiresAt.IsZero() || e.expiresAt.After(now)) {
		sh.mu.Unlock()
		return true
	}
	sh.items[key] = entry{expiresAt: at}
	sh.mu.Unlock()
	s.schedule(key, at)
	return false
}

// Delete removes key.
func (s *Store) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Len counts live entries.
func (s *Store) Len() int {
	now := time.Now()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.items {
			if e.expiresAt.IsZero() || e.expiresAt.After(now) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) schedule(key string, at time.Time) {
	s.mu.Lock()
	heap.Push(&s.exp, expEntry{key: key, at: at})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) expire() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		s.mu.Lock()
		wait := time.Hour
		now := time.Now()
		for len(s.exp) > 0 {
			next := s.exp[0]
			if next.at.After(now) {
				wait = time.Until(next.at)
				break
			}
			heap.Pop(&s.exp)
			s.dropExpired(next.key, now)
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// dropExpired removes key only if its current expiry is in the past: the
// entry may have been refreshed after this heap slot was pushed.
func (s *Store) dropExpired(key string, now time.Time) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	if e, ok := sh.items[key]; ok && !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
		delete(sh.items, key)
	}
	sh.mu.Unlock()
}

type expEntry struct {
	key string
	at  time.Time
}

type expHeap []expEntry

func (h expHeap) Len() int            { return len(h) }
func (h expHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expHeap) Push(x any)         { *h = append(*h, x.(expEntry)) }
func (h *expHeap) Pop() any           { old := *h; n := len(old); e := old[n-1]; *h = old[:n-1]; return e }
