package ixsim

import "testing"

func buildTestArtifacts() RunArtifacts {
	rows := []SelectedOutputRow{
		{Shift: 1, BV: 1, Phase: "-", HardnessMgLCaCO3: 1, PH: 7.5},
		{Shift: 2, BV: 2, Phase: "-", HardnessMgLCaCO3: 1, PH: 7.5},
		{Shift: 3, BV: 3, Phase: "-", HardnessMgLCaCO3: 2, PH: 7.5},
		{Shift: 4, BV: 4, Phase: "-", HardnessMgLCaCO3: 8, PH: 7.5},
		{Shift: 5, BV: 5, Phase: "-", HardnessMgLCaCO3: 20, PH: 7.5},
	}
	return RunArtifacts{SelectedOutput: rows}
}

func testPhases() []ScriptPhase {
	return []ScriptPhase{{Name: "service", FirstShift: 1, LastShift: 5}}
}

func TestParseDetectsBreakthroughWithInterpolation(t *testing.T) {
	curve, warnings, err := Parse(buildTestArtifacts(), "hardness_mg_L_CaCO3", 5.0, testPhases())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if !curve.BreakthroughReached {
		t.Fatal("expected breakthrough to be reached")
	}
	if curve.BreakthroughBV <= 3 || curve.BreakthroughBV >= 4 {
		t.Errorf("BreakthroughBV = %v, want between 3 and 4", curve.BreakthroughBV)
	}
}

func TestParseFallsBackToLastSampleWhenNotReached(t *testing.T) {
	curve, warnings, err := Parse(buildTestArtifacts(), "hardness_mg_L_CaCO3", 1000, testPhases())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if curve.BreakthroughReached {
		t.Error("should not report breakthrough reached")
	}
	if curve.BreakthroughBV != 5 {
		t.Errorf("BreakthroughBV = %v, want 5 (last sample)", curve.BreakthroughBV)
	}
	if len(warnings) == 0 {
		t.Error("expected a warning about breakthrough not being reached")
	}
}

func TestParseEmptyArtifactsIsMalformedOutput(t *testing.T) {
	_, _, err := Parse(RunArtifacts{}, "hardness_mg_L_CaCO3", 5, testPhases())
	var ixErr *Error
	if !asError(err, &ixErr) || ixErr.Kind != KindMalformedOutput {
		t.Fatalf("expected KindMalformedOutput, got %v", err)
	}
}

func TestDecimateKeepsBreakthroughSample(t *testing.T) {
	curve, _, err := Parse(buildTestArtifacts(), "hardness_mg_L_CaCO3", 5.0, testPhases())
	if err != nil {
		t.Fatal(err)
	}
	decimated := Decimate(curve)
	found := false
	for _, s := range decimated.Samples {
		if s.BV == curve.Samples[curve.BreakthroughIndex].BV {
			found = true
		}
	}
	if !found {
		t.Error("decimated curve is missing the breakthrough sample")
	}
}

func TestParseClipsPHSpikeAfterConditionToServiceSwitch(t *testing.T) {
	rows := []SelectedOutputRow{
		{Shift: 1, BV: 1, Phase: "-", HardnessMgLCaCO3: 300, PH: 7.0},
		{Shift: 2, BV: 2, Phase: "-", HardnessMgLCaCO3: 1, PH: 11.2},
		{Shift: 3, BV: 3.5, Phase: "-", HardnessMgLCaCO3: 1, PH: 10.5},
	}
	phases := []ScriptPhase{
		{Name: "condition", FirstShift: 1, LastShift: 1},
		{Name: "service", FirstShift: 2, LastShift: 3},
	}
	curve, warnings, err := Parse(RunArtifacts{SelectedOutput: rows}, "hardness_mg_L_CaCO3", 1000, phases)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if curve.Samples[1].PH != phSpikeThreshold {
		t.Errorf("spiking sample PH = %v, want clipped to %v", curve.Samples[1].PH, phSpikeThreshold)
	}
	if curve.Samples[2].PH == phSpikeThreshold {
		t.Error("sample outside the relaxation window should not be clipped")
	}
	found := false
	for _, w := range warnings {
		if contains(w, "pH spike") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning describing the pH spike clip, got %v", warnings)
	}
}

func TestParseDoesNotClipPHWithoutConditionPhase(t *testing.T) {
	rows := []SelectedOutputRow{
		{Shift: 1, BV: 1, Phase: "-", HardnessMgLCaCO3: 300, PH: 11.2},
	}
	curve, _, err := Parse(RunArtifacts{SelectedOutput: rows}, "hardness_mg_L_CaCO3", 1000, testPhases())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if curve.Samples[0].PH != 11.2 {
		t.Errorf("PH = %v, want unchanged at 11.2 without a condition phase", curve.Samples[0].PH)
	}
}

func TestServicePhaseMeanUsesSamplesUpToBreakthrough(t *testing.T) {
	curve, _, err := Parse(buildTestArtifacts(), "hardness_mg_L_CaCO3", 5.0, testPhases())
	if err != nil {
		t.Fatal(err)
	}
	mean := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.HardnessMgLCaCO3 })
	if mean <= 0 {
		t.Errorf("mean = %v, want > 0", mean)
	}
}
