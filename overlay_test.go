package ixsim

import "testing"

func buildCurveWithEarlyMinimum(min float64) BreakthroughCurve {
	return BreakthroughCurve{
		BreakthroughIndex: 2,
		Samples: []CurveSample{
			{BV: 0.1, Phase: "service", HardnessMgLCaCO3: min, CaMgL: 30, MgMgL: 10},
			{BV: 0.3, Phase: "service", HardnessMgLCaCO3: min + 0.2, CaMgL: 30, MgMgL: 10},
			{BV: 1.0, Phase: "service", HardnessMgLCaCO3: min + 5, CaMgL: 35, MgMgL: 12},
		},
	}
}

func TestApplySACOverlayRaisesFloorWhenBelowIt(t *testing.T) {
	n := NormalizedWater{TDSMgL: 500}
	resin, _ := DefaultResinSpec(SAC)
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 100, SlowRinseBV: 2, FastRinseBV: 4}
	calib := defaultCalibration(SAC)

	curve := buildCurveWithEarlyMinimum(0.0)
	result, _ := applySACOverlay(curve, n, resin, regen, calib)

	if result.Samples[0].HardnessMgLCaCO3 <= 0 {
		t.Errorf("expected overlay to raise the leakage floor above zero, got %v", result.Samples[0].HardnessMgLCaCO3)
	}
}

func TestApplySACOverlayIsIdempotent(t *testing.T) {
	n := NormalizedWater{TDSMgL: 500}
	resin, _ := DefaultResinSpec(SAC)
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 100, SlowRinseBV: 2, FastRinseBV: 4}
	calib := defaultCalibration(SAC)

	curve := buildCurveWithEarlyMinimum(0.0)
	once, _ := applySACOverlay(curve, n, resin, regen, calib)
	twice, _ := applySACOverlay(once, n, resin, regen, calib)

	for i := range once.Samples {
		if once.Samples[i].HardnessMgLCaCO3 != twice.Samples[i].HardnessMgLCaCO3 {
			t.Errorf("sample %d changed on reapplication: %v -> %v", i, once.Samples[i].HardnessMgLCaCO3, twice.Samples[i].HardnessMgLCaCO3)
		}
	}
}

func TestApplySACOverlayNoOpWhenAlreadyAboveFloor(t *testing.T) {
	n := NormalizedWater{TDSMgL: 100}
	resin, _ := DefaultResinSpec(SAC)
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 200, SlowRinseBV: 4, FastRinseBV: 4}
	calib := defaultCalibration(SAC)

	curve := buildCurveWithEarlyMinimum(50)
	result, _ := applySACOverlay(curve, n, resin, regen, calib)

	if result.Samples[0].HardnessMgLCaCO3 != curve.Samples[0].HardnessMgLCaCO3 {
		t.Error("overlay should not lower a curve already above the computed floor")
	}
}

func TestApplyWACHOverlaySetsEffectiveCapacity(t *testing.T) {
	n := NormalizedWater{PH: 7.0, TemperatureC: 20, TemporaryHardnessMgL: 100, HardnessMgLCaCO3: 350}
	resin, _ := DefaultResinSpec(WACH)
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 80, SlowRinseBV: 2, FastRinseBV: 4}
	calib := defaultCalibration(WACH)

	curve := buildCurveWithEarlyMinimum(0)
	result, _ := applyWACHOverlay(curve, n, resin, regen, calib)

	if result.CapacityEffectiveEqL <= 0 {
		t.Error("expected CapacityEffectiveEqL to be set")
	}
}

func TestApplyWACHOverlayClipsHardnessRemovalBeyondTemporaryHardness(t *testing.T) {
	n := NormalizedWater{PH: 7.0, TemperatureC: 20, TemporaryHardnessMgL: 10, HardnessMgLCaCO3: 350}
	resin, _ := DefaultResinSpec(WACH)
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 80, SlowRinseBV: 2, FastRinseBV: 4}
	calib := defaultCalibration(WACH)

	curve := BreakthroughCurve{
		BreakthroughIndex: 0,
		Samples: []CurveSample{
			{BV: 1.0, Phase: "service", HardnessMgLCaCO3: 0},
		},
	}
	result, warnings := applyWACHOverlay(curve, n, resin, regen, calib)

	if result.Samples[0].HardnessMgLCaCO3 != n.HardnessMgLCaCO3-n.TemporaryHardnessMgL {
		t.Errorf("expected clipped hardness %v, got %v", n.HardnessMgLCaCO3-n.TemporaryHardnessMgL, result.Samples[0].HardnessMgLCaCO3)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning describing the clipping")
	}
}

func TestRegenerationEfficiencyBounded(t *testing.T) {
	regen := RegenerationPlan{Direction: CounterCurrent, DoseGPerL: 500, SlowRinseBV: 10, FastRinseBV: 10}
	eta, err := regenerationEfficiency(regen)
	if err != nil {
		t.Fatal(err)
	}
	if eta < 0 || eta > 1 {
		t.Errorf("eta = %v, want within [0,1]", eta)
	}
}
