package obligations

import (
	"testing"
	"time"
)

func TestCreateAndApprove(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(5 * time.Minute).WithClock(func() time.Time { return now })

	o := tr.Create("cred-1", "subject-1", "flights:book", []string{"approval_required"})
	if o.Status != StatusPending {
		t.Fatalf("expected pending, got %s", o.Status)
	}

	approved, err := tr.Approve(o.ObligationID, "approver-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved || approved.ApproverID != "approver-1" {
		t.Fatalf("unexpected approved obligation: %+v", approved)
	}
}

func TestApprove_AfterExpiryFails(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	tr := NewTracker(time.Minute).WithClock(func() time.Time { return current })

	o := tr.Create("cred-1", "subject-1", "flights:book", nil)
	current = now.Add(2 * time.Minute)

	if _, err := tr.Approve(o.ObligationID, "approver-1"); err == nil {
		t.Fatal("expected approval after expiry to fail")
	}
	resolved, _ := tr.Get(o.ObligationID)
	if resolved.Status != StatusExpired {
		t.Fatalf("expected obligation to be marked expired, got %s", resolved.Status)
	}
}

func TestDeny(t *testing.T) {
	tr := NewTracker(time.Minute)
	o := tr.Create("cred-1", "subject-1", "flights:book", nil)

	denied, err := tr.Deny(o.ObligationID, "not authorized for this spend")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.Status != StatusDenied || denied.DenyReason == "" {
		t.Fatalf("unexpected denied obligation: %+v", denied)
	}
	if denial := ToDenial(denied); denial == nil || denial.Code != "approval_required" {
		t.Fatalf("expected approval_required denial, got %+v", denial)
	}
}

func TestCheckExpirations(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := now
	tr := NewTracker(time.Minute).WithClock(func() time.Time { return current })

	tr.Create("cred-1", "subject-1", "flights:book", nil)
	current = now.Add(2 * time.Minute)

	expired := tr.CheckExpirations()
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired obligation, got %d", len(expired))
	}
	if tr.PendingCount() != 0 {
		t.Fatalf("expected 0 pending after expiration sweep, got %d", tr.PendingCount())
	}
}

func TestApproveUnknownObligation(t *testing.T) {
	tr := NewTracker(time.Minute)
	if _, err := tr.Approve("does-not-exist", "approver-1"); err == nil {
		t.Fatal("expected an error for an unknown obligation id")
	}
}
