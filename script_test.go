package ixsim

import "testing"

func testPlanFor(t *testing.T, resin ResinSpec) (NormalizedWater, CellPlan) {
	t.Helper()
	n := testFeed(t)
	vessel := Vessel{DiameterM: 1.2, BedDepthM: 1.5, NumberInService: 1}
	regen := RegenerationPlan{SlowRinseBV: 2, FastRinseBV: 4, DoseGPerL: 100, StrengthPctWt: 10, Stages: 2}
	plan, _, err := Plan(vessel, resin, n, regen)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return n, plan
}

func TestBuildIsDeterministic(t *testing.T) {
	resin, _ := DefaultResinSpec(SAC)
	n, plan := testPlanFor(t, resin)
	regen := RegenerationPlan{SlowRinseBV: 2, FastRinseBV: 4, DoseGPerL: 100, StrengthPctWt: 10, Stages: 2}
	vessel := Vessel{DiameterM: 1.2, BedDepthM: 1.5, NumberInService: 1}

	a, err := Build(n, vessel, resin, regen, plan)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(n, vessel, resin, regen, plan)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != b.Text {
		t.Error("Build should produce byte-identical decks for identical inputs")
	}
}

func TestBuildSACHasServiceAndRinsePhases(t *testing.T) {
	resin, _ := DefaultResinSpec(SAC)
	n, plan := testPlanFor(t, resin)
	regen := RegenerationPlan{SlowRinseBV: 2, FastRinseBV: 4, DoseGPerL: 100, StrengthPctWt: 10, Stages: 2}
	vessel := Vessel{DiameterM: 1.2, BedDepthM: 1.5, NumberInService: 1}

	script, err := Build(n, vessel, resin, regen, plan)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, p := range script.Phases {
		names[p.Name] = true
	}
	for _, want := range []string{"service", "regen-stage-1", "regen-stage-2", "slow-rinse", "fast-rinse"} {
		if !names[want] {
			t.Errorf("missing phase %q in %v", want, script.Phases)
		}
	}
}

func TestBuildWACNaHasConditionPhaseBeforeService(t *testing.T) {
	resin, _ := DefaultResinSpec(WACNa)
	n, plan := testPlanFor(t, resin)
	regen := RegenerationPlan{SlowRinseBV: 2, FastRinseBV: 4, DoseGPerL: 100, StrengthPctWt: 10, Stages: 1}
	vessel := Vessel{DiameterM: 1.2, BedDepthM: 1.5, NumberInService: 1}

	script, err := Build(n, vessel, resin, regen, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(script.Phases) < 2 {
		t.Fatalf("expected at least condition+service phases, got %v", script.Phases)
	}
	if script.Phases[0].Name != "condition" {
		t.Errorf("first phase = %q, want condition", script.Phases[0].Name)
	}
	if script.Phases[1].Name != "service" {
		t.Errorf("second phase = %q, want service", script.Phases[1].Name)
	}
}

func TestBuildWACHUsesSurfaceComplexation(t *testing.T) {
	resin, _ := DefaultResinSpec(WACH)
	n, _, err := Normalize(FeedWater{
		Ions:         map[string]float64{"Ca": 120, "Mg": 40, "Na": 30, "HCO3": 220, "Cl": 30},
		PH:           7.8,
		TemperatureC: 20,
		FlowM3H:      50,
	})
	if err != nil {
		t.Fatal(err)
	}
	vessel := Vessel{DiameterM: 1.2, BedDepthM: 1.5, NumberInService: 1}
	regen := RegenerationPlan{SlowRinseBV: 2, FastRinseBV: 4, DoseGPerL: 80, StrengthPctWt: 5, Stages: 1, Regenerant: HCl}
	plan, _, err := Plan(vessel, resin, n, regen)
	if err != nil {
		t.Fatal(err)
	}

	script, err := Build(n, vessel, resin, regen, plan)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(script.Text, "SURFACE_MASTER_SPECIES") {
		t.Error("WAC H-form deck should declare SURFACE_MASTER_SPECIES")
	}
	if !contains(script.Text, "-no_edl") {
		t.Error("WAC H-form deck should disable the electrostatic double layer")
	}
	if !contains(script.Text, "pitzer.dat") && !contains(script.Text, "phreeqc.dat") {
		t.Error("expected a DATABASE line")
	}
}

func TestSelectedDatabasePrefersPitzerAtHighIonicStrength(t *testing.T) {
	n := NormalizedWater{IonicStrengthMolL: 1.0}
	resin, _ := DefaultResinSpec(SAC)
	if got := selectedDatabase(n, resin); got != "pitzer.dat" {
		t.Errorf("selectedDatabase = %q, want pitzer.dat", got)
	}
}

func TestSelectedDatabaseAlwaysSurfaceCapableForWACH(t *testing.T) {
	n := NormalizedWater{IonicStrengthMolL: 1.0}
	resin, _ := DefaultResinSpec(WACH)
	if got := selectedDatabase(n, resin); got != "phreeqc.dat" {
		t.Errorf("selectedDatabase = %q, want phreeqc.dat even at high ionic strength", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
