package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery bounds how often idle callers are pruned from the map
const sweepEvery = time.Minute

type window struct {
	span time.Duration
	hits []time.Time
}

// Memory is an in-process sliding-window limiter for single-instance deployments
type Memory struct {
	mu        sync.Mutex
	limits    map[string]Limit
	windows   map[string]*window
	lastSweep time.Time
	now       func() time.Time
}

// NewMemory creates a limiter with per-bucket limits
func NewMemory(limits map[string]Limit) *Memory {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Memory{
		limits:  limits,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// AllowNamed records the request and reports whether it fits in the window
func (m *Memory) AllowNamed(bucket, key string) (bool, error) {
	if bucket == "" || key == "" {
		return false, errMissingKey
	}

	lim := lookup(m.limits, bucket)
	now := m.now()
	id := bucket + ":" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)

	w, ok := m.windows[id]
	if !ok {
		w = &window{span: lim.Window}
		m.windows[id] = w
	}
	w.hits = trim(w.hits, now.Add(-lim.Window))

	if len(w.hits) >= lim.Limit {
		if len(w.hits) == 0 {
			delete(m.windows, id)
		}
		return false, nil
	}

	w.hits = append(w.hits, now)
	return true, nil
}

// sweep drops callers whose newest hit has left their window. Caller holds mu.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now

	for id, w := range m.windows {
		if len(trim(w.hits, now.Add(-w.span))) == 0 {
			delete(m.windows, id)
		}
	}
}

func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
