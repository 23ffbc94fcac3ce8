// Package observability — gate health indicators.
//
// Tracks the counters SPEC_FULL.md's Observability component calls for:
// permit/deny rates per action and cache staleness at lookup time.
package observability

import (
	"sync"
)

// HealthSource defines where an indicator draws its data from.
type HealthSource string

const (
	HealthSourceMetric HealthSource = "METRIC"
	HealthSourceLog    HealthSource = "LOG"
	HealthSourceTrace  HealthSource = "TRACE"
)

// DecisionCounts tallies pipeline outcomes for one action.
type DecisionCounts struct {
	Permits int64
	Denies  int64
	ByCode  map[string]int64
}

// CacheStaleness tallies cache lookups for one cache entry (catalog,
// revocations, issuer_keys), separating fresh hits from stale-but-served
// reads under a fail_open policy.
type CacheStaleness struct {
	Fresh int64
	Stale int64
}

// HealthRegistry aggregates gate health indicators in memory for a single
// process's lifetime; a metrics exporter or status endpoint reads from it.
type HealthRegistry struct {
	mu          sync.Mutex
	byAction    map[string]*DecisionCounts
	byCacheName map[string]*CacheStaleness
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{
		byAction:    make(map[string]*DecisionCounts),
		byCacheName: make(map[string]*CacheStaleness),
	}
}

// RecordDecision records a pipeline verdict for an action. denialCode is
// ignored (and may be empty) when permitted is true.
func (r *HealthRegistry) RecordDecision(action string, permitted bool, denialCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byAction[action]
	if !ok {
		c = &DecisionCounts{ByCode: make(map[string]int64)}
		r.byAction[action] = c
	}
	if permitted {
		c.Permits++
		return
	}
	c.Denies++
	if denialCode != "" {
		c.ByCode[denialCode]++
	}
}

// RecordCacheLookup records whether a cache read observed a fresh or stale
// entry (SPEC_FULL.md §4.2's fail_open/fail_closed staleness tracking).
func (r *HealthRegistry) RecordCacheLookup(cacheName string, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byCacheName[cacheName]
	if !ok {
		c = &CacheStaleness{}
		r.byCacheName[cacheName] = c
	}
	if fresh {
		c.Fresh++
	} else {
		c.Stale++
	}
}

// DecisionCountsFor returns a copy of the decision counts for an action.
func (r *HealthRegistry) DecisionCountsFor(action string) DecisionCounts {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byAction[action]
	if !ok {
		return DecisionCounts{ByCode: map[string]int64{}}
	}
	byCode := make(map[string]int64, len(c.ByCode))
	for k, v := range c.ByCode {
		byCode[k] = v
	}
	return DecisionCounts{Permits: c.Permits, Denies: c.Denies, ByCode: byCode}
}

// CacheStalenessFor returns a copy of the staleness counts for a cache entry.
func (r *HealthRegistry) CacheStalenessFor(cacheName string) CacheStaleness {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byCacheName[cacheName]
	if !ok {
		return CacheStaleness{}
	}
	return *c
}

// DenialRate returns the fraction of denied calls for an action, in [0,1].
// Returns 0 when no calls have been recorded.
func (r *HealthRegistry) DenialRate(action string) float64 {
	c := r.DecisionCountsFor(action)
	total := c.Permits + c.Denies
	if total == 0 {
		return 0
	}
	return float64(c.Denies) / float64(total)
}
