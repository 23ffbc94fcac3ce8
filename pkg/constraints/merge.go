// Package constraints implements the gate's Constraint Engine: merging
// catalog-default constraints with credential-claim constraints, and
// evaluating the merged, effective constraint set against a request
// context (SPEC_FULL.md §4.3).
package constraints

import (
	"fmt"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

// legacyCostAlias maps the deprecated core:cost:max key onto its canonical
// replacement, per SPEC_FULL.md §3's resolved open question.
const legacyCostAlias = contracts.KeyCostMaxLegacy
const canonicalCostKey = contracts.KeyCostMaxPerAction

// limitKeys are the numeric keys merged by elementwise minimum. termKeys are
// resolved in favor of the catalog value. Every other key passes the
// credential's value through unchanged (forward-compatible).
var limitKeys = map[string]bool{
	contracts.KeyCostMaxPerAction: true,
	contracts.KeyCostCumulative:   true,
	contracts.KeyRatePerMinute:    true,
	contracts.KeyRatePerHour:      true,
	contracts.KeyRatePerDay:       true,
}

var termKeys = map[string]bool{
	contracts.KeyPricingModel:        true,
	contracts.KeyPricingPerCallCents: true,
	contracts.KeyPricingPerMinCents:  true,
	contracts.KeyCurrency:            true,
	contracts.KeyFreeTierCalls:       true,
	contracts.KeySLAUptime:           true,
	contracts.KeySLAResponseTime:     true,
	contracts.KeyPlatformFeeBps:      true,
}

// TypeError is returned when a limit key holds a non-numeric value.
type TypeError struct {
	Key string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("constraint_type_error: key %q must be numeric", e.Key)
}

// normalizeAliases rewrites the deprecated core:cost:max key in place onto
// its canonical name. Both catalog and credential maps are normalized
// before merge so the alias is never merged independently.
func normalizeAliases(m contracts.ConstraintMap) contracts.ConstraintMap {
	if m == nil {
		return m
	}
	if v, ok := m[legacyCostAlias]; ok {
		if _, hasCanonical := m[canonicalCostKey]; !hasCanonical {
			out := m.Clone()
			out[canonicalCostKey] = v
			delete(out, legacyCostAlias)
			return out
		}
		out := m.Clone()
		delete(out, legacyCostAlias)
		return out
	}
	return m
}

// Merge combines catalog-default constraints with a credential claim's
// per-claim constraints into the effective constraint set for a call.
func Merge(catalogDefaults, credentialConstraints contracts.ConstraintMap) (contracts.ConstraintMap, error) {
	catalogDefaults = normalizeAliases(catalogDefaults)
	credentialConstraints = normalizeAliases(credentialConstraints)

	effective := make(contracts.ConstraintMap, len(catalogDefaults)+len(credentialConstraints))
	for k, v := range catalogDefaults {
		effective[k] = v
	}

	for k, credVal := range credentialConstraints {
		catVal, inCatalog := catalogDefaults[k]
		switch {
		case limitKeys[k]:
			if !inCatalog {
				effective[k] = credVal
				continue
			}
			merged, err := minNumeric(k, catVal, credVal)
			if err != nil {
				return nil, err
			}
			effective[k] = merged
		case termKeys[k]:
			if inCatalog {
				effective[k] = catVal
			} else {
				effective[k] = credVal
			}
		default:
			// unknown keys pass the credential value through untouched
			effective[k] = credVal
		}
	}

	return effective, nil
}

func minNumeric(key string, a, b any) (any, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok {
		return nil, &TypeError{Key: key}
	}
	if !bok {
		return nil, &TypeError{Key: key}
	}
	if af < bf {
		return a, nil
	}
	return b, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, false
	default:
		return 0, false
	}
}
