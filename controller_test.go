package ixsim

import (
	"context"
	"testing"

	"github.com/puran-water/ix-design-sim/internal/cachekey"
)

type stubCalibrationStore struct {
	params CalibrationParameters
	hit    bool
	err    error
}

func (s stubCalibrationStore) Load(CalibrationKey) (CalibrationParameters, bool, error) {
	return s.params, s.hit, s.err
}

func TestSimulateCycleRejectsInvalidFeedBeforeRunningPhreeqc(t *testing.T) {
	c := NewController(nil, nil, nil, 0)
	feed := FeedWater{Ions: map[string]float64{"Xx": 10}, PH: 7, TemperatureC: 20, FlowM3H: 10}
	_, err := c.SimulateCycle(context.Background(), feed, Vessel{DiameterM: 1, BedDepthM: 1.5, NumberInService: 1}, ResinSpec{Variant: SAC}, RegenerationPlan{}, Targets{}, CalibrationKey{})
	var ixErr *Error
	if !asError(err, &ixErr) || ixErr.Kind != KindUnknownIon {
		t.Fatalf("expected KindUnknownIon before any PHREEQC invocation, got %v", err)
	}
}

func TestLoadCalibrationFallsBackToDefaultOnMiss(t *testing.T) {
	c := NewController(nil, stubCalibrationStore{hit: false}, nil, 0)
	params, warnings := c.loadCalibration(CalibrationKey{SiteID: "site-a"}, SAC)
	if params != defaultCalibration(SAC) {
		t.Error("expected default calibration on store miss")
	}
	if len(warnings) == 0 {
		t.Error("expected a CalibrationMissing-style warning on miss")
	}
}

func TestLoadCalibrationUsesStoreHit(t *testing.T) {
	custom := CalibrationParameters{FloorA0: 99}
	c := NewController(nil, stubCalibrationStore{hit: true, params: custom}, nil, 0)
	params, warnings := c.loadCalibration(CalibrationKey{SiteID: "site-a"}, SAC)
	if params != custom {
		t.Errorf("params = %+v, want %+v", params, custom)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings on store hit: %v", warnings)
	}
}

func TestBuildCacheKeyInputIsOrderIndependentOfIonInsertion(t *testing.T) {
	feedA := FeedWater{Ions: map[string]float64{"Ca": 100, "Na": 50, "Cl": 150}, PH: 7.5, TemperatureC: 20, FlowM3H: 10}
	feedB := FeedWater{Ions: map[string]float64{"Cl": 150, "Ca": 100, "Na": 50}, PH: 7.5, TemperatureC: 20, FlowM3H: 10}

	nA, _, err := Normalize(feedA)
	if err != nil {
		t.Fatal(err)
	}
	nB, _, err := Normalize(feedB)
	if err != nil {
		t.Fatal(err)
	}

	vessel := Vessel{DiameterM: 1, BedDepthM: 1.5, NumberInService: 1}
	resin, _ := DefaultResinSpec(SAC)
	regen := RegenerationPlan{}
	targets := Targets{}
	calibKey := CalibrationKey{}

	keyA := cachekey.Of(schemaVersion, buildCacheKeyInput(nA, vessel, resin, regen, targets, calibKey))
	keyB := cachekey.Of(schemaVersion, buildCacheKeyInput(nB, vessel, resin, regen, targets, calibKey))
	if keyA != keyB {
		t.Errorf("cache keys differ for logically identical inputs: %q vs %q", keyA, keyB)
	}
}

func TestCacheGetPutRoundTripsAndEvicts(t *testing.T) {
	c := NewController(nil, nil, nil, 2)
	c.cachePut("a", Result{SchemaVersion: "a"})
	c.cachePut("b", Result{SchemaVersion: "b"})

	if got, ok := c.cacheGet("a"); !ok || got.SchemaVersion != "a" {
		t.Fatalf("expected cache hit for key a, got %v, %v", got, ok)
	}

	c.cachePut("c", Result{SchemaVersion: "c"})
	if _, ok := c.cacheGet("b"); ok {
		t.Error("expected key b to be evicted as the least-recently-used entry")
	}
	if _, ok := c.cacheGet("a"); !ok {
		t.Error("key a should still be cached after being touched by cacheGet")
	}
	if _, ok := c.cacheGet("c"); !ok {
		t.Error("key c should be cached as the most recently inserted entry")
	}
}

func TestDefaultCalibrationDistinctPerVariant(t *testing.T) {
	if defaultCalibration(SAC) == defaultCalibration(WACNa) {
		t.Error("SAC and WAC Na-form should not share default calibration")
	}
	if defaultCalibration(WACH).PKaShift != pKaEffectiveShiftDefault {
		t.Errorf("WAC H-form default PKaShift = %v, want %v", defaultCalibration(WACH).PKaShift, pKaEffectiveShiftDefault)
	}
}
