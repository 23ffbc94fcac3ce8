package constraints

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

var foldCase = cases.Fold()

func fold(s string) string {
	return foldCase.String(s)
}

// RequestContext is the per-request value bag the evaluator consults,
// extracted from tool inputs by the Tool Wrapper (SPEC_FULL.md §4.8).
type RequestContext struct {
	Action          string
	Now             time.Time
	AmountCanonical *int64 // bound under "amount_canonical" by the wrapper
	CumulativeSpent int64  // running total so far this period, from the cumulative tracker
	DataIsPII       bool
	DataIsWrite     bool
}

// CategoryResult is the per-category verdict produced by Evaluate.
type CategoryResult struct {
	Category    string
	Decision    contracts.ConstraintDecision
	ReasonCodes []string
	Obligations []string
}

// EvaluateResult is the aggregate outcome of running all categories.
type EvaluateResult struct {
	Decision             contracts.ConstraintDecision
	ReasonCodes          []string
	Obligations          []string
	EffectiveConstraints contracts.ConstraintMap
	Categories           []CategoryResult
}

// Evaluate runs the fixed-order category checks over the effective
// constraints and a request context, aggregating via max(verdict) under
// BLOCK > SUSPEND > PERMIT.
func Evaluate(effective contracts.ConstraintMap, ctx RequestContext) EvaluateResult {
	categories := []func(contracts.ConstraintMap, RequestContext) CategoryResult{
		evalTemporal,
		evalScope,
		evalRate,
		evalCost,
		evalApproval,
		evalData,
	}

	result := EvaluateResult{
		Decision:             contracts.DecisionPermit,
		EffectiveConstraints: effective,
	}

	for _, fn := range categories {
		cr := fn(effective, ctx)
		result.Categories = append(result.Categories, cr)
		result.Decision = contracts.Worse(result.Decision, cr.Decision)
		result.ReasonCodes = append(result.ReasonCodes, cr.ReasonCodes...)
		result.Obligations = append(result.Obligations, dedupeAppend(result.Obligations, cr.Obligations)...)
	}

	return result
}

func dedupeAppend(existing []string, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	var out []string
	for _, a := range add {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}

func permit(category string) CategoryResult {
	return CategoryResult{Category: category, Decision: contracts.DecisionPermit}
}

// evalTemporal enforces operating-hours windows and blackout windows.
func evalTemporal(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	const category = "temporal"
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	if windows, ok := m[contracts.KeyOperatingHours]; ok {
		if !withinAnyWindow(windows, now) {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"outside_operating_hours"}}
		}
	}
	if windows, ok := m[contracts.KeyBlackoutWindows]; ok {
		if withinAnyWindow(windows, now) {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"blackout_window"}}
		}
	}
	return permit(category)
}

// withinAnyWindow accepts a []any of {"start": "HH:MM", "end": "HH:MM"}
// entries (decoded JSON) and reports whether now's time-of-day falls in any
// of them. Malformed entries inside the list are skipped. A value that is
// not a list matches no window, so under operating_hours it BLOCKs and
// under blackout_windows it PERMITs; an absent key PERMITs.
func withinAnyWindow(raw any, now time.Time) bool {
	windows, ok := raw.([]any)
	if !ok {
		return false
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	for _, w := range windows {
		entry, ok := w.(map[string]any)
		if !ok {
			continue
		}
		start, sok := parseClock(entry["start"])
		end, eok := parseClock(entry["end"])
		if !sok || !eok {
			continue
		}
		if start <= end {
			if nowMinutes >= start && nowMinutes < end {
				return true
			}
		} else {
			// window wraps midnight
			if nowMinutes >= start || nowMinutes < end {
				return true
			}
		}
	}
	return false
}

func parseClock(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	t, err := time.Parse("15:04", parts[0]+":"+parts[1])
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// evalScope enforces the action allow and block lists. Domain allow and
// block lists are not evaluated.
func evalScope(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	const category = "scope"
	action := fold(ctx.Action)

	if block, ok := m[contracts.KeyActionBlocklist]; ok {
		if containsFolded(block, action) {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"action_blocked"}}
		}
	}
	if allow, ok := m[contracts.KeyActionAllowlist]; ok {
		if !containsFolded(allow, action) {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"action_not_allowlisted"}}
		}
	}
	return permit(category)
}

func containsFolded(raw any, needle string) bool {
	list, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if fold(s) == needle {
			return true
		}
	}
	return false
}

// evalRate is a pass-through placeholder: the rate-limit category of §4.3
// is implemented by the dedicated rate limiter component (§4.5) invoked as
// pipeline step 10, not inside the constraint evaluator itself, because the
// limiter carries cross-call state the evaluator's pure functions do not.
// This category exists so the fixed six-category ordering is visible at
// the call site even though its verdict is always PERMIT here.
func evalRate(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	return permit("rate")
}

// evalCost enforces the per-action ceiling and the cumulative ceiling. No
// cost-based approval threshold is evaluated; approval comes only from
// core:approval:required in evalApproval.
func evalCost(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	const category = "cost"
	if ctx.AmountCanonical == nil {
		return permit(category)
	}
	amount := *ctx.AmountCanonical

	if maxRaw, ok := m[canonicalCostKey]; ok {
		if maxVal, ok := toFloat(maxRaw); ok && float64(amount) > maxVal {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"cost_exceeds_max_per_action"}}
		}
	}

	if cumMaxRaw, ok := m[contracts.KeyCostCumulative]; ok {
		if cumMax, ok := toFloat(cumMaxRaw); ok {
			projected := ctx.CumulativeSpent + amount
			if float64(projected) > cumMax {
				return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"cost_exceeds_cumulative_max"}}
			}
		}
	}

	return permit(category)
}

// evalApproval enforces an explicit approval-required flag.
func evalApproval(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	const category = "approval"
	if required, ok := m[contracts.KeyApprovalRequired]; ok {
		if b, ok := required.(bool); ok && b {
			return CategoryResult{
				Category:    category,
				Decision:    contracts.DecisionSuspend,
				ReasonCodes: []string{"approval_required"},
				Obligations: []string{contracts.ObligationRequireApproval},
			}
		}
	}
	return permit(category)
}

// evalData enforces read-only and no-PII-export constraints.
func evalData(m contracts.ConstraintMap, ctx RequestContext) CategoryResult {
	const category = "data"
	if ro, ok := m[contracts.KeyDataReadOnly]; ok {
		if b, ok := ro.(bool); ok && b && ctx.DataIsWrite {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"read_only_violation"}}
		}
	}
	if noPII, ok := m[contracts.KeyNoPIIExport]; ok {
		if b, ok := noPII.(bool); ok && b && ctx.DataIsPII {
			return CategoryResult{Category: category, Decision: contracts.DecisionBlock, ReasonCodes: []string{"pii_export_forbidden"}}
		}
	}
	return permit(category)
}
