// Package cache implements the gate's Cache Store (SPEC_FULL.md §4.2): the
// three independently-refreshed, read-mostly snapshots the hot path
// consults — catalog, revocation set, and issuer keys. Public reads never
// block on a concurrent refresh; writers replace an entry wholesale via an
// atomic pointer swap, so a reader always observes either the full old
// snapshot or the full new one, never a mix (SPEC_FULL.md §5).
package cache

import (
	"sync/atomic"
	"time"

	"github.com/uniplexprotocol/gate/pkg/canonicalize"
	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
)

// FailMode controls what a stale cache entry does to pipeline decisions.
type FailMode string

const (
	FailOpen   FailMode = "fail_open"
	FailClosed FailMode = "fail_closed"
)

// FailModeOverride is the per-action freshness policy from SPEC_FULL.md §4.2.
type FailModeOverride struct {
	FailMode         FailMode
	RevocationMaxAge time.Duration
}

type catalogEntry struct {
	catalog     *contracts.Catalog
	fetchedAt   time.Time
	maxAge      time.Duration
}

type revocationEntry struct {
	ids       map[string]bool
	fetchedAt time.Time
	maxAge    time.Duration
}

type issuerKeysEntry struct {
	keyring   *crypto.IssuerKeyring
	fetchedAt time.Time
	maxAge    time.Duration
}

// Store holds the three cache entries behind atomic pointers so a hot-path
// read never takes a lock contended with the background refresher.
type Store struct {
	catalog       atomic.Pointer[catalogEntry]
	revocations   atomic.Pointer[revocationEntry]
	issuerKeys    atomic.Pointer[issuerKeysEntry]

	failModeOverrides map[string]FailModeOverride
	defaultFailMode   FailMode
}

// New returns an empty store; entries are populated by SetCatalog/
// SetRevocations/SetIssuerKeys, typically called by the background
// refresher on each successful fetch.
func New(defaultFailMode FailMode, overrides map[string]FailModeOverride) *Store {
	if overrides == nil {
		overrides = make(map[string]FailModeOverride)
	}
	return &Store{failModeOverrides: overrides, defaultFailMode: defaultFailMode}
}

// SetCatalog atomically replaces the cached catalog snapshot. The
// permission-by-key index is built once here, not on every read, and the
// catalog's ContentHash is set to the JCS canonical hash of its permissions.
func (s *Store) SetCatalog(c *contracts.Catalog, maxAge time.Duration, now time.Time) {
	c.BuildIndex()
	if hash, err := canonicalize.CanonicalHash(c.Permissions); err == nil {
		c.ContentHash = hash
	}
	s.catalog.Store(&catalogEntry{catalog: c, fetchedAt: now, maxAge: maxAge})
}

// Catalog returns the current catalog snapshot and whether it is fresh.
func (s *Store) Catalog(now time.Time) (*contracts.Catalog, bool) {
	e := s.catalog.Load()
	if e == nil {
		return nil, false
	}
	return e.catalog, now.Sub(e.fetchedAt) <= e.maxAge
}

// SetRevocations atomically replaces the revoked-credential-id set.
func (s *Store) SetRevocations(ids []string, maxAge time.Duration, now time.Time) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	s.revocations.Store(&revocationEntry{ids: set, fetchedAt: now, maxAge: maxAge})
}

// IsRevoked reports whether credentialID is in the revocation set, and
// whether that set is fresh for action. A per-action revocation_max_age
// override (SPEC_FULL.md §4.2/§6) replaces the entry's own maxAge when one
// is registered for action, so a sensitive action can demand a tighter
// staleness bound than the store's default fetch cadence provides.
func (s *Store) IsRevoked(action, credentialID string, now time.Time) (revoked bool, fresh bool) {
	e := s.revocations.Load()
	if e == nil {
		return false, false
	}
	maxAge := e.maxAge
	if override := s.RevocationMaxAgeFor(action); override > 0 {
		maxAge = override
	}
	return e.ids[credentialID], now.Sub(e.fetchedAt) <= maxAge
}

// SetIssuerKeys atomically replaces the issuer public-key map.
func (s *Store) SetIssuerKeys(ring *crypto.IssuerKeyring, maxAge time.Duration, now time.Time) {
	s.issuerKeys.Store(&issuerKeysEntry{keyring: ring, fetchedAt: now, maxAge: maxAge})
}

// IssuerKey looks up an issuer's verifier and reports freshness.
func (s *Store) IssuerKey(issuerID string, now time.Time) (v *crypto.Ed25519Verifier, found bool, fresh bool) {
	e := s.issuerKeys.Load()
	if e == nil {
		return nil, false, false
	}
	v, found = e.keyring.Lookup(issuerID)
	return v, found, now.Sub(e.fetchedAt) <= e.maxAge
}

// FailModeFor resolves the effective fail mode for an action, falling back
// to the store's configured default when no override is registered.
func (s *Store) FailModeFor(action string) FailMode {
	if o, ok := s.failModeOverrides[action]; ok {
		return o.FailMode
	}
	return s.defaultFailMode
}

// RevocationMaxAgeFor resolves a per-action revocation_max_age override, or
// zero (meaning "use the entry's own maxAge") if none is registered.
func (s *Store) RevocationMaxAgeFor(action string) time.Duration {
	if o, ok := s.failModeOverrides[action]; ok {
		return o.RevocationMaxAge
	}
	return 0
}
