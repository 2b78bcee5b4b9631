package rate

import (
	"sync"
	"time"
)

const memoryPruneThreshold = 10000

type memoryEntry struct {
	attempts int
	resetAt  time.Time
}

// Memory is the process-local counter store used while Redis is
// unreachable. It is best effort: counters live only as long as the process
// and are not shared between instances.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

// Hit applies the same window and backoff rules as the Redis script.
func (m *Memory) Hit(key string, p Policy, now time.Time) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > memoryPruneThreshold {
		m.pruneLocked(now)
	}

	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &memoryEntry{attempts: 1, resetAt: now.Add(p.Window)}
		m.entries[key] = e
	} else {
		e.attempts++
		if w, extend := p.backoffWindow(e.attempts); extend {
			if next := now.Add(w); next.After(e.resetAt) {
				e.resetAt = next
			}
		}
	}

	d := p.decide(e.attempts, e.resetAt, now)
	d.Degraded = true
	return d
}

// Clear removes counters.
func (m *Memory) Clear(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) pruneLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, k)
		}
	}
}
