package receipts

import (
	"testing"
	"time"

	"github.com/uniplexprotocol/gate/pkg/contracts"
	"github.com/uniplexprotocol/gate/pkg/crypto"
)

// TestScenarioE mirrors spec.md Scenario E: issuing a receipt then verifying
// it round-trips cleanly with the expected cost and ceiling-rounded fee.
// Tampering is covered by the TestVerify_* tests below.
func TestScenarioE_IssueVerifyRoundTrip(t *testing.T) {
	signer, err := crypto.NewEd25519Signer("gate-key-1")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := Issue(signer, "gate-key-1", IssueInput{
		GateID: "gate-1", SubjectID: "subject-1", CredentialID: "cred-1",
		PermissionKey: "flights:book", CatalogVersion: 1, RequestNonce: "nonce-1",
		Units: 1, Now: now,
		EffectiveConstraints: contracts.ConstraintMap{
			contracts.KeyPricingModel:        contracts.PricingPerCall,
			contracts.KeyPricingPerCallCents: int64(4250),
			contracts.KeyPlatformFeeBps:      int64(250),
		},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if r.Consumption.CostCents != 4250 {
		t.Fatalf("expected cost 4250, got %d", r.Consumption.CostCents)
	}
	// 2.5% of 4250 = 106.25, ceiling rounds to 107.
	if r.Consumption.PlatformFeeCents != 107 {
		t.Fatalf("expected platform fee 107, got %d", r.Consumption.PlatformFeeCents)
	}

	denial := Verify(r, VerifyInput{
		ExpectedNonce: "nonce-1", ExpectedCostCents: 4250, ExpectedPlatformFee: 107,
		GatePublicKeyHex: signer.PublicKey(),
	})
	if denial != nil {
		t.Fatalf("expected clean verify, got %+v", denial)
	}
}

func TestVerify_DetectsTamperedCost(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("gate-key-1")
	r, err := Issue(signer, "gate-key-1", IssueInput{
		GateID: "gate-1", SubjectID: "subject-1", CredentialID: "cred-1",
		PermissionKey: "flights:book", Units: 1,
		EffectiveConstraints: contracts.ConstraintMap{contracts.KeyPricingPerCallCents: int64(1000)},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	r.Consumption.CostCents = 1 // tamper after signing

	denial := Verify(r, VerifyInput{GatePublicKeyHex: signer.PublicKey()})
	if denial == nil || denial.Code != contracts.CodeSignatureMismatch {
		t.Fatalf("expected signature_mismatch, got %+v", denial)
	}
}

func TestVerify_DetectsNonceMismatch(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("gate-key-1")
	r, err := Issue(signer, "gate-key-1", IssueInput{
		GateID: "gate-1", SubjectID: "subject-1", CredentialID: "cred-1",
		PermissionKey: "flights:book", RequestNonce: "nonce-1", Units: 1,
		EffectiveConstraints: contracts.ConstraintMap{contracts.KeyPricingPerCallCents: int64(1000)},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	denial := Verify(r, VerifyInput{ExpectedNonce: "nonce-2", GatePublicKeyHex: signer.PublicKey()})
	if denial == nil || denial.Code != contracts.CodeNonceMismatch {
		t.Fatalf("expected nonce_mismatch, got %+v", denial)
	}
}

func TestIssue_PerMinutePricingCeilsPartialMinutes(t *testing.T) {
	signer, _ := crypto.NewEd25519Signer("gate-key-1")
	durationMs := int64(70_000) // 70s -> ceil(70000/60000) = 2 minutes
	r, err := Issue(signer, "gate-key-1", IssueInput{
		GateID: "gate-1", SubjectID: "subject-1", CredentialID: "cred-1",
		PermissionKey: "api:call", Units: 1, DurationMs: &durationMs,
		EffectiveConstraints: contracts.ConstraintMap{
			contracts.KeyPricingModel:       contracts.PricingPerMinute,
			contracts.KeyPricingPerMinCents: int64(100),
		},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if r.Consumption.CostCents != 200 {
		t.Fatalf("expected 200, got %d", r.Consumption.CostCents)
	}
}
