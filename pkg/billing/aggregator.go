// Package billing implements the gate's Billing Aggregator (SPEC_FULL.md
// §4.10): summarizing a batch of consumption receipts for one subject and
// gate into a billing period, with an optional SQLite ledger for durable
// append-only storage across process restarts.
package billing

import (
	"fmt"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// Aggregate summarizes receipts into a single BillingPeriod. All receipts
// must share the same subject and gate id; Aggregate fails closed on a
// mixed batch rather than silently merging unrelated subjects' spend.
func Aggregate(receipts []*contracts.ConsumptionReceipt) (contracts.BillingPeriod, error) {
	if len(receipts) == 0 {
		return contracts.BillingPeriod{}, fmt.Errorf("cannot aggregate an empty receipt batch")
	}

	subjectID := receipts[0].SubjectID
	gateID := receipts[0].GateID
	period := contracts.BillingPeriod{
		SubjectID: subjectID,
		GateID:    gateID,
	}

	for i, r := range receipts {
		if r.SubjectID != subjectID || r.GateID != gateID {
			return contracts.BillingPeriod{}, fmt.Errorf("receipt %d (subject=%s gate=%s) does not match batch subject=%s gate=%s",
				i, r.SubjectID, r.GateID, subjectID, gateID)
		}

		ts := r.Consumption.Timestamp
		if period.PeriodStart.IsZero() || ts.Before(period.PeriodStart) {
			period.PeriodStart = ts
		}
		if ts.After(period.PeriodEnd) {
			period.PeriodEnd = ts
		}

		period.TotalCalls += r.Consumption.Units
		period.TotalCostCents += r.Consumption.CostCents
		period.TotalPlatformFeeCents += r.Consumption.PlatformFeeCents
		period.ReceiptIDs = append(period.ReceiptIDs, r.ReceiptID)
	}

	return period, nil
}
