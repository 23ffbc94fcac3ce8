package pipeline

import (
	"testing"
	"time"

	"github.com/uniplexprotocol/gate/pkg/cache"
	"github.com/uniplexprotocol/gate/pkg/constraints"
	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
	"github.com/uniplexprotocol/gate/pkg/ratelimit"
)

const testAction = "flights:book"

type harness struct {
	store    *cache.Store
	limiter  *ratelimit.Limiter
	cum      *constraints.CumulativeTracker
	signer   *crypto.Ed25519Signer
	issuerID string
	now      time.Time
}

func newHarness(t *testing.T, perm contracts.Permission) *harness {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	signer, err := crypto.NewEd25519Signer("issuer-key-1")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	ring, err := crypto.NewIssuerKeyringFromHex(map[string]string{"issuer-1": signer.PublicKey()})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}

	store := cache.New(cache.FailOpen, nil)
	store.SetIssuerKeys(ring, time.Hour, now)
	store.SetRevocations(nil, time.Hour, now)

	catalog := &contracts.Catalog{
		GateID:               "gate-1",
		Version:              1,
		MinCompatibleVersion: 1,
		Permissions:          []contracts.Permission{perm},
		PublishedAt:          now,
	}
	store.SetCatalog(catalog, time.Hour, now)

	return &harness{
		store:    store,
		limiter:  ratelimit.New(),
		cum:      constraints.NewCumulativeTracker(24 * time.Hour),
		signer:   signer,
		issuerID: "issuer-1",
		now:      now,
	}
}

func (h *harness) credential(t *testing.T, claims []contracts.Claim, expiresAt time.Time) *contracts.Credential {
	t.Helper()
	cred := &contracts.Credential{
		CredentialID: "cred-1",
		IssuerID:     h.issuerID,
		SubjectID:    "subject-1",
		GateID:       "gate-1",
		IssuedAt:     h.now.Add(-time.Hour),
		ExpiresAt:    expiresAt,
		Claims:       claims,
	}
	cred.BuildClaimsIndex()
	if err := h.signer.SignCredential(cred); err != nil {
		t.Fatalf("sign credential: %v", err)
	}
	return cred
}

func (h *harness) pipeline() *Pipeline {
	return New(h.store, h.limiter, h.cum, AnonymousPolicy{})
}

// TestScenarioA mirrors spec.md Scenario A: a valid, unexpired, unrevoked
// credential granting the requested action with no violated constraints
// permits the call.
func TestScenarioA_HappyPathPermit(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})

	if !result.Permit() {
		t.Fatalf("expected permit, got %+v", result)
	}
}

// TestScenarioB mirrors spec.md Scenario B: merging a catalog default cost
// ceiling with a credential's tighter claim-level ceiling takes the min, and
// a call under that ceiling permits while one over it blocks.
func TestScenarioB_CostCeilingMergeBlocksOverMax(t *testing.T) {
	perm := contracts.Permission{
		Key:                testAction,
		DefaultConstraints: contracts.ConstraintMap{contracts.KeyCostMaxPerAction: float64(50000)},
	}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{
		{PermissionKey: testAction, Constraints: contracts.ConstraintMap{contracts.KeyCostMaxPerAction: float64(30000)}},
	}, h.now.Add(time.Hour))

	over := int64(30001)
	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now, AmountCanonical: &over})
	if result.Permit() {
		t.Fatalf("expected block over merged max, got %+v", result)
	}
	if result.Denial.Code != contracts.CodeConstraintViolated {
		t.Errorf("expected constraint_violated, got %q", result.Denial.Code)
	}

	under := int64(30000)
	result = h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now, AmountCanonical: &under})
	if !result.Permit() {
		t.Fatalf("expected permit at merged max, got %+v", result)
	}
}

// TestCumulativeCeiling_AccumulatesAcrossCallsAndBlocks confirms the
// pipeline records each permitted call's amount into the cumulative
// tracker (not just reads it), so a per-credential max_cumulative ceiling
// is actually enforced across a sequence of calls rather than comparing
// every call against a perpetually-zero running total.
func TestCumulativeCeiling_AccumulatesAcrossCallsAndBlocks(t *testing.T) {
	perm := contracts.Permission{
		Key: testAction,
		DefaultConstraints: contracts.ConstraintMap{
			contracts.KeyCostCumulative: float64(50000),
		},
	}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))

	first := int64(30000)
	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now, AmountCanonical: &first})
	if !result.Permit() {
		t.Fatalf("expected first call to permit, got %+v", result)
	}

	second := int64(25000) // 30000 + 25000 = 55000 > 50000 ceiling
	result = h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now, AmountCanonical: &second})
	if result.Permit() {
		t.Fatalf("expected second call to block once cumulative spend exceeds the ceiling, got %+v", result)
	}
	if result.Denial.Code != contracts.CodeConstraintViolated {
		t.Errorf("expected constraint_violated, got %q", result.Denial.Code)
	}
}

// TestScenarioC mirrors spec.md Scenario C: an approval-required constraint
// produces a SUSPEND verdict that surfaces on the wire as a deny carrying
// the require_approval obligation (spec.md §9: SUSPEND maps to deny +
// reason_codes + obligations, distinguishing it from a hard BLOCK only by
// those reason codes and obligations).
func TestScenarioC_ApprovalRequiredSuspendsWithObligation(t *testing.T) {
	perm := contracts.Permission{
		Key:                testAction,
		DefaultConstraints: contracts.ConstraintMap{contracts.KeyApprovalRequired: true},
	}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() {
		t.Fatalf("expected deny-with-obligation, got %+v", result)
	}
	if result.ConstraintDecision != contracts.DecisionSuspend {
		t.Errorf("expected SUSPEND, got %s", result.ConstraintDecision)
	}
	if result.Denial == nil || result.Denial.Code != contracts.CodeApprovalRequired {
		t.Errorf("expected approval_required denial code, got %+v", result.Denial)
	}
	found := false
	for _, o := range result.Obligations {
		if o == contracts.ObligationRequireApproval {
			found = true
		}
	}
	if !found {
		t.Errorf("expected require_approval obligation, got %v", result.Obligations)
	}
}

// TestScenarioD mirrors spec.md Scenario D: an expired credential is denied,
// and the anti-downgrade invariant means that denial never falls back to
// anonymous access even when an anonymous policy would otherwise allow the
// action.
func TestScenarioD_ExpiredCredentialNeverDowngradesToAnonymous(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(-time.Minute))

	p := h.pipeline()
	p.Anonymous = AnonymousPolicy{Enabled: true, AllowedActions: map[string]bool{testAction: true}}

	result := p.Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() {
		t.Fatalf("expired credential must not permit, got %+v", result)
	}
	if result.Denial.Code != contracts.CodePassportExpired {
		t.Errorf("expected passport_expired, got %q", result.Denial.Code)
	}
}

// TestExpiresAtEqualNowIsExpired pins the boundary spec.md §8 calls out:
// a credential is valid only while now < expires_at, so expires_at == now
// must deny rather than permit.
func TestExpiresAtEqualNowIsExpired(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now)

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() {
		t.Fatalf("expected expires_at == now to deny, got %+v", result)
	}
	if result.Denial.Code != contracts.CodePassportExpired {
		t.Errorf("expected passport_expired, got %q", result.Denial.Code)
	}
}

// TestConfident_FalseWhenConsultedCacheEntryIsStale confirms VerifyResult.
// Confident reflects actual freshness of the cache entries consulted on the
// decision path, rather than always reporting true (spec.md §4.6, §9).
func TestConfident_FalseWhenConsultedCacheEntryIsStale(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if !result.Permit() || !result.Confident {
		t.Fatalf("expected confident permit with all-fresh caches, got %+v", result)
	}

	h.store.SetCatalog(&contracts.Catalog{
		GateID: "gate-1", Version: 1, MinCompatibleVersion: 1,
		Permissions: []contracts.Permission{perm}, PublishedAt: h.now,
	}, time.Hour, h.now.Add(-2*time.Hour))

	stale := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if !stale.Permit() {
		t.Fatalf("expected fail-open permit on stale catalog, got %+v", stale)
	}
	if stale.Confident {
		t.Errorf("expected Confident=false when the catalog entry consulted was stale, got %+v", stale)
	}
}

func TestUnknownIssuerBlocks(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))
	cred.IssuerID = "someone-else"
	if err := h.signer.SignCredential(cred); err != nil {
		t.Fatalf("sign: %v", err)
	}

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() || result.Denial.Code != contracts.CodeIssuerNotAllowed {
		t.Fatalf("expected issuer_not_allowed, got %+v", result)
	}
}

func TestTamperedSignatureDenies(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))
	cred.SubjectID = "attacker-controlled"

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() || result.Denial.Code != contracts.CodeInvalidSignature {
		t.Fatalf("expected invalid_signature, got %+v", result)
	}
}

func TestRevokedCredentialBlocks(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: testAction, Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))
	h.store.SetRevocations([]string{cred.CredentialID}, time.Hour, h.now)

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() || result.Denial.Code != contracts.CodePassportRevoked {
		t.Fatalf("expected passport_revoked, got %+v", result)
	}
}

func TestActionNotInCredentialClaimsDeniesWithUpgradeHint(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}, UpgradeTemplate: "ask-for-flights-book"}
	other := contracts.Permission{Key: "hotels:book", DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	h.store.SetCatalog(&contracts.Catalog{
		GateID: "gate-1", Version: 1, MinCompatibleVersion: 1,
		Permissions: []contracts.Permission{perm, other}, PublishedAt: h.now,
	}, time.Hour, h.now)
	cred := h.credential(t, []contracts.Claim{{PermissionKey: "hotels:book", Constraints: contracts.ConstraintMap{}}}, h.now.Add(time.Hour))

	result := h.pipeline().Verify(Request{Action: testAction, Credential: cred, Now: h.now})
	if result.Permit() || result.Denial.Code != contracts.CodePermissionDenied {
		t.Fatalf("expected permission_denied, got %+v", result)
	}
	if result.Denial.UpgradeTemplate != "ask-for-flights-book" {
		t.Errorf("expected upgrade template passed through, got %q", result.Denial.UpgradeTemplate)
	}
}

func TestAnonymousPermitsAllowlistedAction(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	p := h.pipeline()
	p.Anonymous = AnonymousPolicy{Enabled: true, AllowedActions: map[string]bool{testAction: true}}

	result := p.Verify(Request{Action: testAction, Now: h.now, SourceID: "source-a"})
	if !result.Permit() {
		t.Fatalf("expected anonymous permit, got %+v", result)
	}
}

func TestAnonymousDeniesUnlistedActionAsPassportMissing(t *testing.T) {
	perm := contracts.Permission{Key: testAction, DefaultConstraints: contracts.ConstraintMap{}}
	h := newHarness(t, perm)
	result := h.pipeline().Verify(Request{Action: testAction, Now: h.now, SourceID: "source-a"})
	if result.Permit() || result.Denial.Code != contracts.CodePassportMissing {
		t.Fatalf("expected passport_missing, got %+v", result)
	}
}
