package ixsim

import "testing"

func TestDefaultResinSpecKnownVariants(t *testing.T) {
	for _, v := range []ResinVariant{SAC, WACNa, WACH} {
		spec, err := DefaultResinSpec(v)
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", v, err)
		}
		if spec.Variant != v {
			t.Errorf("%v: spec.Variant = %v", v, spec.Variant)
		}
		if spec.TotalCapacityEqL <= 0 {
			t.Errorf("%v: TotalCapacityEqL = %v, want > 0", v, spec.TotalCapacityEqL)
		}
	}
}

func TestDefaultResinSpecUnknownVariant(t *testing.T) {
	_, err := DefaultResinSpec(ResinVariant(99))
	if err == nil {
		t.Fatal("expected error for unrecognized resin variant")
	}
}

func TestCapabilitiesRegisteredForAllVariants(t *testing.T) {
	for _, v := range []ResinVariant{SAC, WACNa, WACH} {
		caps, err := capabilitiesFor(v)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if caps.buildScript == nil {
			t.Errorf("%v: buildScript not registered", v)
		}
		if caps.applyOverlay == nil {
			t.Errorf("%v: applyOverlay not registered", v)
		}
		if caps.deriveBreakthroughCriterion == nil {
			t.Errorf("%v: deriveBreakthroughCriterion not registered", v)
		}
	}
}

func TestRegisterResinMergesRatherThanOverwrites(t *testing.T) {
	const variant = ResinVariant(-1)
	registerResin(variant, resinCapabilities{
		deriveBreakthroughCriterion: func(Targets) (string, float64) { return "hardness", 5 },
	})
	registerResin(variant, resinCapabilities{
		applyOverlay: func(c BreakthroughCurve, n NormalizedWater, r ResinSpec, p RegenerationPlan, cal CalibrationParameters) (BreakthroughCurve, []string) {
			return c, nil
		},
	})
	caps, err := capabilitiesFor(variant)
	if err != nil {
		t.Fatal(err)
	}
	if caps.deriveBreakthroughCriterion == nil {
		t.Error("first registration's field was lost on merge")
	}
	if caps.applyOverlay == nil {
		t.Error("second registration's field was not merged")
	}
	delete(resinRegistry, variant)
}
