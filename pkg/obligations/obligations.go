// Package obligations tracks outstanding require_approval obligations
// created when the Constraint Engine returns a SUSPEND verdict
// (SPEC_FULL.md §4.3/§4.6). It is a slimmed adaptation of this codebase's
// escalation-intent lifecycle manager, narrowed to the single obligation
// kind the gate's constraint model produces.
package obligations

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// Status is the lifecycle state of an obligation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Obligation is a single outstanding require_approval hold on a call.
type Obligation struct {
	ObligationID  string
	CredentialID  string
	SubjectID     string
	Action        string
	ReasonCodes   []string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Status        Status
	ResolvedAt    time.Time
	ApproverID    string
	DenyReason    string
}

// Tracker holds outstanding obligations in memory, keyed by obligation id.
type Tracker struct {
	mu           sync.Mutex
	obligations  map[string]*Obligation
	clock        func() time.Time
	defaultTTL   time.Duration
}

// NewTracker returns an empty tracker. defaultTTL bounds how long an
// obligation may remain pending before CheckExpirations resolves it as
// expired.
func NewTracker(defaultTTL time.Duration) *Tracker {
	return &Tracker{
		obligations: make(map[string]*Obligation),
		clock:       time.Now,
		defaultTTL:  defaultTTL,
	}
}

// WithClock overrides the tracker's clock, for deterministic tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// Create opens a new pending obligation for a SUSPEND-verdict call.
func (t *Tracker) Create(credentialID, subjectID, action string, reasonCodes []string) *Obligation {
	now := t.clock()
	o := &Obligation{
		ObligationID: uuid.New().String(),
		CredentialID: credentialID,
		SubjectID:    subjectID,
		Action:       action,
		ReasonCodes:  reasonCodes,
		CreatedAt:    now,
		ExpiresAt:    now.Add(t.defaultTTL),
		Status:       StatusPending,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.obligations[o.ObligationID] = o

	cp := *o
	return &cp
}

// Approve resolves a pending obligation as approved.
func (t *Tracker) Approve(obligationID, approverID string) (*Obligation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.obligations[obligationID]
	if !ok {
		return nil, fmt.Errorf("obligation %q not found", obligationID)
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("obligation %q is not pending (status=%s)", obligationID, o.Status)
	}

	now := t.clock()
	if now.After(o.ExpiresAt) {
		o.Status = StatusExpired
		o.ResolvedAt = now
		return nil, fmt.Errorf("obligation %q expired before approval", obligationID)
	}

	o.Status = StatusApproved
	o.ApproverID = approverID
	o.ResolvedAt = now

	cp := *o
	return &cp, nil
}

// Deny resolves a pending obligation as denied.
func (t *Tracker) Deny(obligationID, reason string) (*Obligation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.obligations[obligationID]
	if !ok {
		return nil, fmt.Errorf("obligation %q not found", obligationID)
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("obligation %q is not pending (status=%s)", obligationID, o.Status)
	}

	o.Status = StatusDenied
	o.DenyReason = reason
	o.ResolvedAt = t.clock()

	cp := *o
	return &cp, nil
}

// Get returns a defensive copy of an obligation by id.
func (t *Tracker) Get(obligationID string) (*Obligation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.obligations[obligationID]
	if !ok {
		return nil, false
	}
	cp := *o
	return &cp, true
}

// CheckExpirations scans pending obligations and expires any past their
// deadline, returning the ones it resolved.
func (t *Tracker) CheckExpirations() []*Obligation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	var expired []*Obligation
	for _, o := range t.obligations {
		if o.Status != StatusPending {
			continue
		}
		if now.After(o.ExpiresAt) {
			o.Status = StatusExpired
			o.ResolvedAt = now
			cp := *o
			expired = append(expired, &cp)
		}
	}
	return expired
}

// PendingCount reports how many obligations are still awaiting resolution.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, o := range t.obligations {
		if o.Status == StatusPending {
			count++
		}
	}
	return count
}

// ToDenial converts a resolved-denied or expired obligation into the wire
// Denial a pipeline re-check should surface.
func ToDenial(o *Obligation) *contracts.Denial {
	switch o.Status {
	case StatusDenied:
		return &contracts.Denial{Code: contracts.CodeApprovalRequired, Message: "approval was denied: " + o.DenyReason}
	case StatusExpired:
		return &contracts.Denial{Code: contracts.CodeApprovalRequired, Message: "approval request expired before resolution"}
	default:
		return nil
	}
}
