package constraints

import (
	"testing"

	"github.com/uniplexprotocol/gate/pkg/contracts"
)

func TestMerge_LimitKeyTakesMin(t *testing.T) {
	catalog := contracts.ConstraintMap{contracts.KeyCostMaxPerAction: float64(500000)}
	credential := contracts.ConstraintMap{contracts.KeyCostMaxPerAction: float64(100000)}

	effective, err := Merge(catalog, credential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective[contracts.KeyCostMaxPerAction] != float64(100000) {
		t.Errorf("expected merged limit to be the min (100000), got %v", effective[contracts.KeyCostMaxPerAction])
	}
}

func TestMerge_TermKeyCatalogWins(t *testing.T) {
	catalog := contracts.ConstraintMap{contracts.KeyPricingPerCallCents: float64(10)}
	credential := contracts.ConstraintMap{contracts.KeyPricingPerCallCents: float64(999)}

	effective, err := Merge(catalog, credential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective[contracts.KeyPricingPerCallCents] != float64(10) {
		t.Errorf("expected catalog term value to win, got %v", effective[contracts.KeyPricingPerCallCents])
	}
}

func TestMerge_UnknownKeyPassesThrough(t *testing.T) {
	credential := contracts.ConstraintMap{"custom:future:key": "anything"}

	effective, err := Merge(nil, credential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effective["custom:future:key"] != "anything" {
		t.Errorf("expected unknown key to pass through unchanged")
	}
}

func TestMerge_NonNumericLimitFails(t *testing.T) {
	catalog := contracts.ConstraintMap{contracts.KeyCostMaxPerAction: "not-a-number"}
	credential := contracts.ConstraintMap{contracts.KeyCostMaxPerAction: float64(100)}

	_, err := Merge(catalog, credential)
	if err == nil {
		t.Fatal("expected constraint_type_error for non-numeric limit value")
	}
	if _, ok := err.(*TypeError); !ok {
		t.Errorf("expected *TypeError, got %T", err)
	}
}

func TestMerge_LegacyCostAliasRewritten(t *testing.T) {
	catalog := contracts.ConstraintMap{contracts.KeyCostMaxLegacy: float64(200000)}
	credential := contracts.ConstraintMap{}

	effective, err := Merge(catalog, credential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, stillPresent := effective[contracts.KeyCostMaxLegacy]; stillPresent {
		t.Error("legacy alias should never survive into the effective set")
	}
	if effective[contracts.KeyCostMaxPerAction] != float64(200000) {
		t.Errorf("expected legacy value mapped onto canonical key, got %v", effective[contracts.KeyCostMaxPerAction])
	}
}

// TestMerge_PropertyForAllNumericLimitKeys is the §8 universally quantified
// property: for every limit key present in both maps, merge = min.
func TestMerge_PropertyForAllNumericLimitKeys(t *testing.T) {
	pairs := [][2]float64{{10, 20}, {20, 10}, {0, 0}, {5.5, 5.4}, {-1, 1}}
	for _, p := range pairs {
		catalog := contracts.ConstraintMap{contracts.KeyRatePerMinute: p[0]}
		credential := contracts.ConstraintMap{contracts.KeyRatePerMinute: p[1]}
		effective, err := Merge(catalog, credential)
		if err != nil {
			t.Fatalf("unexpected error for pair %v: %v", p, err)
		}
		want := p[0]
		if p[1] < want {
			want = p[1]
		}
		if effective[contracts.KeyRatePerMinute] != want {
			t.Errorf("merge(%v,%v) = %v, want min %v", p[0], p[1], effective[contracts.KeyRatePerMinute], want)
		}
	}
}
