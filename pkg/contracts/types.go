// Package contracts defines the wire-level data model shared by every
// subsystem of the gate: credentials, catalogs, constraints, sessions, and
// receipts. Nothing in this package performs I/O or cryptography; it is the
// vocabulary the other packages operate on.
package contracts

import "time"

// ConstraintKind classifies a constraint key and determines how it merges.
type ConstraintKind string

const (
	ConstraintLimit  ConstraintKind = "limit"
	ConstraintTerm   ConstraintKind = "term"
	ConstraintPolicy ConstraintKind = "policy"
)

// Canonical limit key names. core:cost:max is the deprecated alias for
// core:cost:max_per_action (SPEC_FULL.md §3); the constraint engine's Merge
// rewrites it (normalizeAliases in pkg/constraints/merge.go).
const (
	KeyCostMaxPerAction = "core:cost:max_per_action"
	KeyCostMaxLegacy    = "core:cost:max"
	KeyCostCumulative   = "core:cost:max_cumulative"
	KeyRatePerMinute    = "core:rate:per_minute"
	KeyRatePerHour      = "core:rate:per_hour"
	KeyRatePerDay       = "core:rate:per_day"

	KeyPricingModel        = "core:pricing:model"
	KeyPricingPerCallCents = "core:pricing:per_call_cents"
	KeyPricingPerMinCents  = "core:pricing:per_minute_cents"
	KeyCurrency            = "core:pricing:currency"
	KeyFreeTierCalls       = "core:pricing:free_tier_calls"
	KeySLAUptime           = "core:sla:uptime"
	KeySLAResponseTime     = "core:sla:response_time_ms"
	KeyPlatformFeeBps      = "core:platform_fee:basis_points"

	KeyApprovalRequired  = "core:approval:required"
	KeyActionAllowlist   = "core:scope:action_allowlist"
	KeyActionBlocklist   = "core:scope:action_blocklist"
	KeyDomainAllowlist   = "core:scope:domain_allowlist"
	KeyDomainBlocklist   = "core:scope:domain_blocklist"
	KeyOperatingHours    = "core:temporal:operating_hours"
	KeyBlackoutWindows   = "core:temporal:blackout_windows"
	KeyDataReadOnly      = "core:data:read_only"
	KeyNoPIIExport       = "core:data:no_pii_export"
)

// Pricing models for the term key core:pricing:model.
const (
	PricingPerCall     = "per_call"
	PricingPerMinute   = "per_minute"
	PricingSubscription = "subscription"
	PricingUsage       = "usage"
)

// ConstraintMap is the typed {key -> value} mapping described in spec.md §3.
// Values are stored as `any` (decoded JSON) and type-asserted by the
// constraint engine per key.
type ConstraintMap map[string]any

// Clone returns a shallow copy safe to mutate independently.
func (m ConstraintMap) Clone() ConstraintMap {
	if m == nil {
		return nil
	}
	out := make(ConstraintMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Claim is a single permission grant inside a credential: a permission key
// paired with its per-claim constraint mapping.
type Claim struct {
	PermissionKey string        `json:"permission_key"`
	Constraints   ConstraintMap `json:"constraints"`
}

// Credential is the signed, bearer-presented authorization token (the
// "passport" of the glossary).
type Credential struct {
	CredentialID string `json:"credential_id"`
	IssuerID     string `json:"issuer_id"`
	SubjectID    string `json:"subject_id"`
	GateID       string `json:"gate_id"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Claims      []Claim       `json:"claims"`
	Constraints ConstraintMap `json:"constraints"`

	CatalogVersionPin map[string]int `json:"catalog_version_pin,omitempty"`

	Signature string `json:"signature"`

	// claimsByKey is derived at load time by BuildClaimsIndex; it is never
	// mutated independently of the claims slice it was built from.
	claimsByKey map[string]Claim
}

// BuildClaimsIndex rebuilds the permission-key -> claim index. It is a pure
// function of Claims: calling it twice on an unchanged credential produces
// an identical index (spec.md §8, idempotence property).
func (c *Credential) BuildClaimsIndex() {
	idx := make(map[string]Claim, len(c.Claims))
	for _, claim := range c.Claims {
		idx[claim.PermissionKey] = claim
	}
	c.claimsByKey = idx
}

// Claim returns the claim for a permission key and whether it was present.
// BuildClaimsIndex must have been called after the most recent mutation of
// Claims; if the index is nil it is built lazily.
func (c *Credential) Claim(permissionKey string) (Claim, bool) {
	if c.claimsByKey == nil {
		c.BuildClaimsIndex()
	}
	claim, ok := c.claimsByKey[permissionKey]
	return claim, ok
}

// SignedPayload returns the fields bound by the credential signature, in the
// exact order required by spec.md §4.4. Field order is load-bearing.
type SignedPayload struct {
	CredentialID      string
	IssuerID          string
	SubjectID         string
	GateID            string
	Claims            []Claim
	Constraints       ConstraintMap
	ExpiresAt         time.Time
	IssuedAt          time.Time
	CatalogVersionPin map[string]int
}

// Payload extracts the signed fields from the credential.
func (c *Credential) Payload() SignedPayload {
	return SignedPayload{
		CredentialID:      c.CredentialID,
		IssuerID:          c.IssuerID,
		SubjectID:         c.SubjectID,
		GateID:            c.GateID,
		Claims:            c.Claims,
		Constraints:       c.Constraints,
		ExpiresAt:         c.ExpiresAt,
		IssuedAt:          c.IssuedAt,
		CatalogVersionPin: c.CatalogVersionPin,
	}
}

// RiskLevel classifies the blast radius of a permission.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Permission is one entry in a Catalog.
type Permission struct {
	Key                string        `json:"key"`
	DisplayName        string        `json:"display_name"`
	Risk               RiskLevel     `json:"risk"`
	DefaultConstraints ConstraintMap `json:"default_constraints"`
	RequiredKeys       []string      `json:"required_constraint_keys,omitempty"`
	UpgradeTemplate    string        `json:"upgrade_template,omitempty"`
}

// Catalog is the gate's authoritative, signed declaration of recognized
// permissions (spec.md §3).
type Catalog struct {
	GateID               string                `json:"gate_id"`
	Version              int                   `json:"version"`
	MinCompatibleVersion int                   `json:"min_compatible_version"`
	Permissions          []Permission          `json:"permissions"`
	PublishedAt          time.Time             `json:"published_at"`
	ContentHash          string                `json:"content_hash,omitempty"`

	// OlderVersions retains prior catalog snapshots indexed by version, when
	// the refresher chooses to keep them (fall-forward is always permitted).
	OlderVersions map[int]*Catalog `json:"-"`

	byKey map[string]Permission
}

// BuildIndex builds the permission-by-key lookup table once, at parse time.
func (c *Catalog) BuildIndex() {
	idx := make(map[string]Permission, len(c.Permissions))
	for _, p := range c.Permissions {
		idx[p.Key] = p
	}
	c.byKey = idx
}

// Permission looks up a permission by key.
func (c *Catalog) Permission(key string) (Permission, bool) {
	if c.byKey == nil {
		c.BuildIndex()
	}
	p, ok := c.byKey[key]
	return p, ok
}

// DeprecatedVersion is the sentinel returned by ResolveCatalogVersion when a
// credential pins a version below the catalog's minimum compatible version.
const DeprecatedVersion = -1

// ResolveCatalogVersion implements spec.md §4.2's catalog version resolution
// rule for a given pin (0/absent means "no pin").
func (c *Catalog) ResolveCatalogVersion(pin int) (version int, deprecated bool) {
	if pin == 0 {
		return c.Version, false
	}
	if pin < c.MinCompatibleVersion {
		return DeprecatedVersion, true
	}
	if pin >= c.MinCompatibleVersion {
		if _, ok := c.OlderVersions[pin]; ok {
			return pin, false
		}
		return c.Version, false // fall-forward
	}
	return c.Version, false
}

// Session binds a session id to at most one credential at a time.
type Session struct {
	SessionID      string      `json:"session_id"`
	Credential     *Credential `json:"credential,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
}

// ConstraintDecision is the internal three-valued verdict (spec.md §9).
type ConstraintDecision string

const (
	DecisionPermit  ConstraintDecision = "PERMIT"
	DecisionSuspend ConstraintDecision = "SUSPEND"
	DecisionBlock   ConstraintDecision = "BLOCK"
)

// Rank orders PERMIT < SUSPEND < BLOCK so max(verdicts) picks the worst one.
func (d ConstraintDecision) Rank() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionSuspend:
		return 1
	default:
		return 0
	}
}

// Worse returns the more restrictive of two decisions.
func Worse(a, b ConstraintDecision) ConstraintDecision {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Denial codes (spec.md §7). Every one is a stable wire constant.
const (
	CodePassportMissing       = "passport_missing"
	CodeInvalidSignature      = "invalid_signature"
	CodePassportExpired       = "passport_expired"
	CodePassportRevoked       = "passport_revoked"
	CodeIssuerNotAllowed      = "issuer_not_allowed"
	CodeCatalogDeprecated     = "catalog_version_deprecated"
	CodeCatalogVersionUnknown = "catalog_version_unknown"
	CodePermissionDenied      = "permission_denied"
	CodeConstraintViolated    = "constraint_violated"
	CodeApprovalRequired      = "approval_required"
	CodeRateLimited           = "rate_limited"
	CodeSessionInvalid        = "session_invalid"
	CodeAntiDowngrade         = "anti_downgrade"

	CodeInvalidNumeric       = "invalid_numeric"
	CodePrecisionExceeded    = "precision_exceeded"
	CodeOverflow             = "overflow"
	CodeConstraintTypeError = "constraint_type_error"

	CodeNonceMismatch       = "nonce_mismatch"
	CodeCostMismatch        = "cost_mismatch"
	CodePlatformFeeMismatch = "platform_fee_mismatch"
	CodeSignatureMismatch   = "signature_mismatch"
)

// Denial carries the user-visible explanation of a deny decision.
type Denial struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	UpgradeTemplate string `json:"upgrade_template,omitempty"`
}

// VerifyResult is the output of the verification pipeline (spec.md §4.6).
type VerifyResult struct {
	Decision           string             `json:"decision"` // "permit" | "deny"
	ConstraintDecision ConstraintDecision `json:"constraint_decision"`
	EffectiveConstraints ConstraintMap    `json:"effective_constraints,omitempty"`
	Denial             *Denial            `json:"denial,omitempty"`
	ReasonCodes        []string           `json:"reason_codes,omitempty"`
	Obligations        []string           `json:"obligations,omitempty"`
	Confident          bool               `json:"confident"`
}

// Permit reports whether the result authorizes the call.
func (r VerifyResult) Permit() bool {
	return r.Decision == "permit"
}

// Obligation tokens (spec.md §9).
const (
	ObligationRequireApproval = "require_approval"
	ObligationLogAction       = "log_action"
	ObligationNotifyOwner     = "notify_owner"
)

// ConsumptionReceipt is the signed attestation of a billable call
// (spec.md §3 / §4.9).
type ConsumptionReceipt struct {
	Type          string `json:"type"` // always "consumption"
	ReceiptID     string `json:"receipt_id"`
	GateID        string `json:"gate_id"`
	SubjectID     string `json:"subject_id"`
	CredentialID  string `json:"credential_id"`
	PermissionKey string `json:"permission_key"`
	CatalogVersion int   `json:"catalog_version"`
	RequestNonce  string `json:"request_nonce,omitempty"`

	EffectiveConstraints ConstraintMap `json:"effective_constraints"`
	Consumption          Consumption   `json:"consumption"`
	Proof                Proof         `json:"proof"`
}

// Consumption records what was actually used/billed for a call.
type Consumption struct {
	Units            int64     `json:"units"`
	CostCents        int64     `json:"cost_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	Timestamp        time.Time `json:"timestamp"`
	DurationMs       *int64    `json:"duration_ms,omitempty"`
}

// Proof is the detached signature over the receipt's canonical payload.
type Proof struct {
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

// BillingPeriod is the output of the Billing Aggregator (spec.md §4.10).
type BillingPeriod struct {
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
	SubjectID             string    `json:"subject_id"`
	GateID                string    `json:"gate_id"`
	TotalCalls            int64     `json:"total_calls"`
	TotalCostCents        int64     `json:"total_cost_cents"`
	TotalPlatformFeeCents int64     `json:"total_platform_fee_cents"`
	ReceiptIDs            []string  `json:"receipt_ids"`
}
