// Package pipeline implements the gate's Verification Pipeline
// (SPEC_FULL.md §4.6): the single synchronous, side-effect-bounded decision
// point every tool call passes through. It is modeled directly on the
// numbered, fail-closed, early-return check sequence idiom used elsewhere in
// this codebase's authorization gates — each step either returns a terminal
// decision or falls through to the next. The pipeline itself performs no
// I/O: it only reads from the snapshots handed to it by the cache store and
// advances the rate limiter and cumulative tracker it is given.
package pipeline

import (
	"time"

	"github.com/uniplexprotocol/gate/pkg/cache"
	"github.com/uniplexprotocol/gate/pkg/constraints"
	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
	"github.com/uniplexprotocol/gate/pkg/ratelimit"
)

// AnonymousPolicy configures the optional "safe default" no-credential path
// (SPEC_FULL.md §4.6 step 1 / §6 "anonymous").
type AnonymousPolicy struct {
	Enabled        bool
	AllowedActions map[string]bool
	Constraints    contracts.ConstraintMap
}

// Request is everything the pipeline needs to reach a decision for one call.
type Request struct {
	Action     string
	Credential *contracts.Credential // nil for an unauthenticated call
	SourceID   string                // identity used for the anonymous rate limiter

	Now             time.Time
	AmountCanonical *int64
	DataIsPII       bool
	DataIsWrite     bool
}

// Pipeline holds the collaborators the verification steps consult. None of
// them are owned by the pipeline; it is safe to share one Pipeline across
// goroutines as long as its collaborators are themselves safe for
// concurrent use (cache.Store, ratelimit.Limiter, and
// constraints.CumulativeTracker all are).
type Pipeline struct {
	Cache      *cache.Store
	Limiter    *ratelimit.Limiter
	Cumulative *constraints.CumulativeTracker
	Anonymous  AnonymousPolicy
	Clock      func() time.Time
}

// New builds a Pipeline wired to its collaborators.
func New(c *cache.Store, limiter *ratelimit.Limiter, cumulative *constraints.CumulativeTracker, anon AnonymousPolicy) *Pipeline {
	return &Pipeline{Cache: c, Limiter: limiter, Cumulative: cumulative, Anonymous: anon, Clock: time.Now}
}

func (p *Pipeline) now(req Request) time.Time {
	if !req.Now.IsZero() {
		return req.Now
	}
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func deny(code, message string, constraintDecision contracts.ConstraintDecision, confident bool) contracts.VerifyResult {
	return contracts.VerifyResult{
		Decision:           "deny",
		ConstraintDecision: constraintDecision,
		Denial:             &contracts.Denial{Code: code, Message: message},
		ReasonCodes:        []string{code},
		Confident:          confident,
	}
}

func denyWithUpgrade(code, message, upgradeTemplate string, constraintDecision contracts.ConstraintDecision, confident bool) contracts.VerifyResult {
	r := deny(code, message, constraintDecision, confident)
	r.Denial.UpgradeTemplate = upgradeTemplate
	return r
}

// Verify runs the full step sequence for one request and returns a decision
// for every input; it never panics and never performs blocking I/O.
func (p *Pipeline) Verify(req Request) contracts.VerifyResult {
	now := p.now(req)

	// 1. No credential presented.
	if req.Credential == nil {
		return p.verifyAnonymous(req, now)
	}

	cred := req.Credential

	// 2. Issuer known. Anti-downgrade invariant: once a credential is
	// presented, a failure at any later step never falls back to the
	// anonymous path — it terminates here as a denial.
	issuerVerifier, issuerFound, issuerFresh := p.Cache.IssuerKey(cred.IssuerID, now)
	if !issuerFound {
		return deny(contracts.CodeIssuerNotAllowed, "issuer is not recognized by this gate", contracts.DecisionBlock, issuerFresh)
	}
	if !issuerFresh && p.Cache.FailModeFor(req.Action) == cache.FailClosed {
		return deny(contracts.CodeIssuerNotAllowed, "issuer key cache is stale and fail mode is closed", contracts.DecisionBlock, false)
	}

	// 3. Signature valid.
	payload, err := crypto.CredentialSignedBytes(cred.Payload())
	if err != nil || cred.Signature == "" {
		return deny(contracts.CodeInvalidSignature, "credential signature is malformed", contracts.DecisionBlock, issuerFresh)
	}
	sigBytes, err := decodeSignature(cred.Signature)
	if err != nil || !issuerVerifier.Verify(payload, sigBytes) {
		return deny(contracts.CodeInvalidSignature, "credential signature does not verify", contracts.DecisionBlock, issuerFresh)
	}

	// 4. Not expired. A credential whose expires_at exactly equals now is
	// treated as expired (spec.md §8: valid only while now < expires_at).
	if !cred.ExpiresAt.IsZero() && !now.Before(cred.ExpiresAt) {
		return deny(contracts.CodePassportExpired, "credential has expired", contracts.DecisionBlock, issuerFresh)
	}

	// 5. Not revoked.
	revoked, revocationFresh := p.Cache.IsRevoked(req.Action, cred.CredentialID, now)
	if revoked {
		return deny(contracts.CodePassportRevoked, "credential has been revoked", contracts.DecisionBlock, issuerFresh && revocationFresh)
	}
	if !revocationFresh && p.Cache.FailModeFor(req.Action) == cache.FailClosed {
		return deny(contracts.CodePassportRevoked, "revocation list is stale and fail mode is closed", contracts.DecisionBlock, false)
	}

	// 6. Catalog version resolved.
	catalog, catalogFresh := p.Cache.Catalog(now)
	if catalog == nil {
		return deny(contracts.CodeCatalogVersionUnknown, "no catalog is loaded", contracts.DecisionBlock, issuerFresh && revocationFresh)
	}
	if !catalogFresh && p.Cache.FailModeFor(req.Action) == cache.FailClosed {
		return deny(contracts.CodeCatalogVersionUnknown, "catalog cache is stale and fail mode is closed", contracts.DecisionBlock, false)
	}
	confident := issuerFresh && revocationFresh && catalogFresh

	pin := cred.CatalogVersionPin[req.Action]
	resolvedVersion, deprecated := catalog.ResolveCatalogVersion(pin)
	if deprecated {
		return deny(contracts.CodeCatalogDeprecated, "pinned catalog version is below the minimum compatible version", contracts.DecisionBlock, confident)
	}
	activeCatalog := catalog
	if resolvedVersion != catalog.Version {
		if older, ok := catalog.OlderVersions[resolvedVersion]; ok {
			activeCatalog = older
		}
	}

	// 7. Action in catalog.
	permission, inCatalog := activeCatalog.Permission(req.Action)
	if !inCatalog {
		return deny(contracts.CodePermissionDenied, "action is not published in the catalog", contracts.DecisionBlock, confident)
	}

	// 8. Action in credential claims.
	claim, claimed := cred.Claim(req.Action)
	if !claimed {
		return denyWithUpgrade(contracts.CodePermissionDenied, "credential does not grant this action", permission.UpgradeTemplate, contracts.DecisionBlock, confident)
	}

	// 9. Constraint evaluation.
	effective, err := constraints.Merge(permission.DefaultConstraints, claim.Constraints)
	if err != nil {
		return deny(contracts.CodeConstraintTypeError, err.Error(), contracts.DecisionBlock, confident)
	}

	var cumulativeSpent int64
	if p.Cumulative != nil {
		cumulativeSpent = p.Cumulative.Spent(cred.CredentialID, req.Action, now)
	}
	evalResult := constraints.Evaluate(effective, constraints.RequestContext{
		Action:          req.Action,
		Now:             now,
		AmountCanonical: req.AmountCanonical,
		CumulativeSpent: cumulativeSpent,
		DataIsPII:       req.DataIsPII,
		DataIsWrite:     req.DataIsWrite,
	})
	if evalResult.Decision == contracts.DecisionBlock {
		return contracts.VerifyResult{
			Decision:             "deny",
			ConstraintDecision:   contracts.DecisionBlock,
			EffectiveConstraints: effective,
			Denial:               &contracts.Denial{Code: contracts.CodeConstraintViolated, Message: "a constraint blocked this call"},
			ReasonCodes:          evalResult.ReasonCodes,
			Obligations:          evalResult.Obligations,
			Confident:            confident,
		}
	}
	// SUSPEND surfaces on the wire as deny + reason_codes + obligations
	// (spec.md §9): the caller must obtain approval and retry, so the call
	// does not proceed this time even though the underlying check is
	// recoverable rather than a hard block.
	if evalResult.Decision == contracts.DecisionSuspend {
		return contracts.VerifyResult{
			Decision:             "deny",
			ConstraintDecision:   contracts.DecisionSuspend,
			EffectiveConstraints: effective,
			Denial:               &contracts.Denial{Code: contracts.CodeApprovalRequired, Message: "this call requires approval before it can proceed"},
			ReasonCodes:          evalResult.ReasonCodes,
			Obligations:          evalResult.Obligations,
			Confident:            confident,
		}
	}

	// 10. Rate limit.
	if p.Limiter != nil && !p.Limiter.Allow(req.Action, cred.CredentialID, now) {
		return contracts.VerifyResult{
			Decision:           "deny",
			ConstraintDecision: contracts.DecisionBlock,
			Denial:             &contracts.Denial{Code: contracts.CodeRateLimited, Message: "rate limit exceeded for this credential and action"},
			ReasonCodes:        []string{contracts.CodeRateLimited},
			Confident:          confident,
		}
	}
	if p.Limiter != nil {
		p.Limiter.Increment(req.Action, cred.CredentialID, now)
	}
	if p.Cumulative != nil && req.AmountCanonical != nil {
		p.Cumulative.Record(cred.CredentialID, req.Action, *req.AmountCanonical, now)
	}

	return contracts.VerifyResult{
		Decision:             "permit",
		ConstraintDecision:   contracts.DecisionPermit,
		EffectiveConstraints: effective,
		ReasonCodes:          evalResult.ReasonCodes,
		Obligations:          evalResult.Obligations,
		Confident:            confident,
	}
}

// verifyAnonymous handles the no-credential path. No cache entry backing an
// issuer/revocation/catalog check is consulted here, so there is nothing
// that can be stale — the decision is always confident.
func (p *Pipeline) verifyAnonymous(req Request, now time.Time) contracts.VerifyResult {
	if !p.Anonymous.Enabled || !p.Anonymous.AllowedActions[req.Action] {
		return deny(contracts.CodePassportMissing, "this action requires a credential", contracts.DecisionBlock, true)
	}
	if p.Limiter != nil && !p.Limiter.Allow(req.Action, "anon:"+req.SourceID, now) {
		return contracts.VerifyResult{
			Decision:           "deny",
			ConstraintDecision: contracts.DecisionBlock,
			Denial:             &contracts.Denial{Code: contracts.CodeRateLimited, Message: "anonymous rate limit exceeded"},
			ReasonCodes:        []string{contracts.CodeRateLimited},
			Confident:          true,
		}
	}
	if p.Limiter != nil {
		p.Limiter.Increment(req.Action, "anon:"+req.SourceID, now)
	}
	return contracts.VerifyResult{
		Decision:             "permit",
		ConstraintDecision:   contracts.DecisionPermit,
		EffectiveConstraints: p.Anonymous.Constraints,
		Confident:            true,
	}
}

func decodeSignature(s string) ([]byte, error) {
	return crypto.DecodeSignatureHex(s)
}
