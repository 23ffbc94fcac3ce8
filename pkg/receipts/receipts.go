// Package receipts implements the gate's Receipt Issuer and Verifier
// (SPEC_FULL.md §4.9): the signed proof of consumption handed back after a
// billable permit, and the round-trip check a downstream ledger runs before
// trusting one.
package receipts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
)

// IssueInput carries everything Issue needs to compute and sign a receipt.
// Cost is always derived from EffectiveConstraints' pricing terms per
// spec.md §4.9, never passed in pre-computed — that derivation is exactly
// what Verify reconstructs independently, so Issue and Verify can never
// silently disagree about how a cost was reached.
type IssueInput struct {
	GateID         string
	SubjectID      string
	CredentialID   string
	PermissionKey  string
	CatalogVersion int
	RequestNonce   string

	EffectiveConstraints contracts.ConstraintMap
	Units                int64 // defaults to 1
	Now                  time.Time
	DurationMs           *int64
}

// Issue computes cost and platform fee (both ceiling-rounded so the gate
// never under-collects a fractional cent) and signs the resulting receipt.
func Issue(signer crypto.Signer, keyID string, in IssueInput) (*contracts.ConsumptionReceipt, error) {
	if in.Units == 0 {
		in.Units = 1
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	receipt := &contracts.ConsumptionReceipt{
		Type:                 "consumption",
		ReceiptID:            uuid.New().String(),
		GateID:               in.GateID,
		SubjectID:            in.SubjectID,
		CredentialID:         in.CredentialID,
		PermissionKey:        in.PermissionKey,
		CatalogVersion:       in.CatalogVersion,
		RequestNonce:         in.RequestNonce,
		EffectiveConstraints: in.EffectiveConstraints,
		Consumption: contracts.Consumption{
			Units:      in.Units,
			Timestamp:  now,
			DurationMs: in.DurationMs,
		},
	}
	receipt.Consumption.CostCents = recomputeCostCents(receipt)
	receipt.Consumption.PlatformFeeCents = ceilDiv(receipt.Consumption.CostCents*platformFeeBps(in.EffectiveConstraints), 10000)

	if err := signer.SignReceipt(receipt); err != nil {
		return nil, fmt.Errorf("signing receipt: %w", err)
	}
	return receipt, nil
}

func ceilDiv(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	q := numerator / denominator
	if numerator%denominator != 0 {
		q++
	}
	return q
}

// VerifyInput is the expected receipt state an independent verifier (a
// ledger, a billing dispute handler) checks an incoming receipt against.
// ExpectedCostCents/ExpectedPlatformFee are optional extra cross-checks
// against a value the caller already tracked; they are not required, since
// Verify independently recomputes both from the receipt's own
// effective-constraints and consumption fields (spec.md §4.9) regardless of
// whether the caller supplies an expectation.
type VerifyInput struct {
	ExpectedNonce       string
	ExpectedCostCents   int64
	ExpectedPlatformFee int64
	GatePublicKeyHex    string
}

// Verify checks a receipt's signature, its nonce (if an expectation was
// given), and recomputes cost_cents/platform_fee_cents from the receipt's
// own effective-constraints and consumption fields, per spec.md §4.9 —
// a verifier never simply trusts the numbers a receipt carries. Any
// mismatch is reported via its own denial code so callers can distinguish
// forgery (signature_mismatch) from a billing computation error
// (cost_mismatch / platform_fee_mismatch).
func Verify(r *contracts.ConsumptionReceipt, in VerifyInput) *contracts.Denial {
	ok, err := crypto.VerifyReceiptSignature(r, in.GatePublicKeyHex)
	if err != nil || !ok {
		return &contracts.Denial{Code: contracts.CodeSignatureMismatch, Message: "receipt signature does not verify"}
	}
	if in.ExpectedNonce != "" && r.RequestNonce != in.ExpectedNonce {
		return &contracts.Denial{Code: contracts.CodeNonceMismatch, Message: "receipt nonce does not match the request that was issued"}
	}

	wantCost := recomputeCostCents(r)
	if wantCost != r.Consumption.CostCents {
		return &contracts.Denial{Code: contracts.CodeCostMismatch, Message: "receipt cost does not reconstruct from its own effective constraints"}
	}
	if in.ExpectedCostCents != 0 && r.Consumption.CostCents != in.ExpectedCostCents {
		return &contracts.Denial{Code: contracts.CodeCostMismatch, Message: "receipt cost does not match the expected amount"}
	}

	wantFee := ceilDiv(r.Consumption.CostCents*platformFeeBps(r.EffectiveConstraints), 10000)
	if wantFee != r.Consumption.PlatformFeeCents {
		return &contracts.Denial{Code: contracts.CodePlatformFeeMismatch, Message: "receipt platform fee does not reconstruct from its cost and basis points"}
	}
	if in.ExpectedPlatformFee != 0 && r.Consumption.PlatformFeeCents != in.ExpectedPlatformFee {
		return &contracts.Denial{Code: contracts.CodePlatformFeeMismatch, Message: "receipt platform fee does not match the expected amount"}
	}
	return nil
}

// recomputeCostCents reconstructs cost_cents from the receipt's own pricing
// terms and consumption, per spec.md §4.9: per-minute pricing bills
// ceil(duration_ms / 60_000) minutes at per_minute_cents; anything else
// bills units at per_call_cents, or zero if neither term is present.
func recomputeCostCents(r *contracts.ConsumptionReceipt) int64 {
	m := r.EffectiveConstraints
	model, _ := m[contracts.KeyPricingModel].(string)
	if model == contracts.PricingPerMinute && r.Consumption.DurationMs != nil {
		perMinute := intTerm(m, contracts.KeyPricingPerMinCents)
		minutes := ceilDiv(*r.Consumption.DurationMs, 60_000)
		return perMinute * minutes
	}
	perCall := intTerm(m, contracts.KeyPricingPerCallCents)
	if perCall == 0 {
		return 0
	}
	return perCall * r.Consumption.Units
}

func platformFeeBps(m contracts.ConstraintMap) int64 {
	return intTerm(m, contracts.KeyPlatformFeeBps)
}

func intTerm(m contracts.ConstraintMap, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
