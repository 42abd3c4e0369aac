package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process Cache backend, used for tests and single-node
// deployments. Expiry is lazy; there is no janitor goroutine.
type Memory struct {
	cfg Config

	mu          sync.Mutex
	workingSets map[string]*wsEntry
	searches    map[string]map[string]*scEntry // scope key -> fingerprint -> entry
	counters    map[string]int64
}

type wsEntry struct {
	ids       []string
	expiresAt time.Time
}

type scEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemory creates an in-process cache.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:         cfg.withDefaults(),
		workingSets: make(map[string]*wsEntry),
		searches:    make(map[string]map[string]*scEntry),
		counters:    make(map[string]int64),
	}
}

func wsKey(tenantID, scopeID string) string { return tenantID + ":" + scopeID }

func (m *Memory) PushWorkingSet(ctx context.Context, tenantID, scopeID, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wsKey(tenantID, scopeID)
	e := m.workingSets[key]
	if e == nil || time.Now().After(e.expiresAt) {
		e = &wsEntry{}
		m.workingSets[key] = e
	}

	// Most-recent-first with duplicates collapsed.
	ids := make([]string, 0, len(e.ids)+1)
	ids = append(ids, memoryID)
	for _, id := range e.ids {
		if id != memoryID {
			ids = append(ids, id)
		}
	}
	if len(ids) > m.cfg.WorkingSetMax {
		ids = ids[:m.cfg.WorkingSetMax] // oldest evicted
	}
	e.ids = ids
	e.expiresAt = time.Now().Add(m.cfg.WorkingSetTTL)
	return nil
}

func (m *Memory) WorkingSet(ctx context.Context, tenantID, scopeID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.workingSets[wsKey(tenantID, scopeID)]
	if e == nil || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	return append([]string(nil), e.ids...), nil
}

func (m *Memory) GetSearch(ctx context.Context, tenantID, scopeID, fingerprint string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := m.searches[wsKey(tenantID, scopeID)]
	if scope == nil {
		return nil, false, nil
	}
	e := scope[fingerprint]
	if e == nil || time.Now().After(e.expiresAt) {
		delete(scope, fingerprint)
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (m *Memory) SetSearch(ctx context.Context, tenantID, scopeID, fingerprint string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wsKey(tenantID, scopeID)
	scope := m.searches[key]
	if scope == nil {
		scope = make(map[string]*scEntry)
		m.searches[key] = scope
	}
	scope[fingerprint] = &scEntry{
		payload:   payload,
		expiresAt: time.Now().Add(m.cfg.SearchTTL),
	}
	return nil
}

func (m *Memory) InvalidateScope(ctx context.Context, tenantID, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.searches, wsKey(tenantID, scopeID))
	return nil
}

func (m *Memory) incr(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return nil
}

func (m *Memory) RecordWrite(ctx context.Context, tenantID string) error {
	return m.incr("writes:" + tenantID)
}

func (m *Memory) RecordSearch(ctx context.Context, tenantID string) error {
	return m.incr("searches:" + tenantID)
}

func (m *Memory) RecordDedupe(ctx context.Context, tenantID string) error {
	return m.incr("dedupes:" + tenantID)
}

func (m *Memory) RecordSearchCacheHit(ctx context.Context) error {
	return m.incr("hits")
}

func (m *Memory) RecordSearchCacheMiss(ctx context.Context) error {
	return m.incr("misses")
}

func (m *Memory) Stats(ctx context.Context, tenantID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Writes:            m.counters["writes:"+tenantID],
		Searches:          m.counters["searches:"+tenantID],
		Dedupes:           m.counters["dedupes:"+tenantID],
		SearchCacheHits:   m.counters["hits"],
		SearchCacheMisses: m.counters["misses"],
	}, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
