package constraints

import (
	"sync"
	"time"
)

// CumulativeTracker maintains the running per-(credential, action) cost
// total core:cost:max_cumulative is checked against. Per the Design Note in
// spec.md §9, this is modeled as a state-bearing tracker with the same
// process-local, eventually-consistent lifetime as the rate limiter — never
// as a field on the credential, which stays immutable after loading.
type CumulativeTracker struct {
	mu      sync.Mutex
	buckets map[string]*cumulativeBucket
	window  time.Duration
}

type cumulativeBucket struct {
	spent   int64
	resetAt time.Time
}

// NewCumulativeTracker returns a tracker whose buckets reset every window
// (e.g. 24h for a daily cumulative ceiling).
func NewCumulativeTracker(window time.Duration) *CumulativeTracker {
	return &CumulativeTracker{
		buckets: make(map[string]*cumulativeBucket),
		window:  window,
	}
}

func cumulativeKey(credentialID, action string) string {
	return credentialID + "\x00" + action
}

// Spent returns the current running total for (credentialID, action) at
// time now, resetting the bucket first if its window has elapsed.
func (t *CumulativeTracker) Spent(credentialID, action string, now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[cumulativeKey(credentialID, action)]
	if !ok || !now.Before(b.resetAt) {
		return 0
	}
	return b.spent
}

// Record adds amount to the running total for (credentialID, action),
// creating or resetting the bucket as needed.
func (t *CumulativeTracker) Record(credentialID, action string, amount int64, now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := cumulativeKey(credentialID, action)
	b, ok := t.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &cumulativeBucket{resetAt: now.Add(t.window)}
		t.buckets[key] = b
	}
	b.spent += amount
	return b.spent
}

// Reset clears the running total for (credentialID, action), e.g. on an
// explicit caller-initiated reset request.
func (t *CumulativeTracker) Reset(credentialID, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, cumulativeKey(credentialID, action))
}
