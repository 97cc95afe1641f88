package ixsim

import (
	"fmt"
	"math"

	"github.com/ctessum/unit"
)

var (
	lengthDim = unit.Dimensions{unit.LengthDim: 1}
	volumeDim = unit.Dimensions{unit.LengthDim: 3}
)

const (
	nominalCells = 16
	minCells     = 10
	maxCells     = 1024

	// bedVoidFraction is the packed-bed porosity assumed for pore-volume
	// sizing; not a configuration surface, matches typical strong-acid
	// and weak-acid gel/macroporous resin beds.
	bedVoidFraction = 0.40

	waterDensityKgPerL = 1.0

	caco3EquivalentWeight = 50.0 // g/eq

	backwashBV = 2.0 // spec.md §4.2: co-current water rinse, 1-2 BV
)

// Plan implements CellPlanner's contract: chooses cell count and
// per-cell capacity, and computes pore volumes and shift counts from
// flow and bed geometry (spec.md §4.2).
func Plan(vessel Vessel, resin ResinSpec, water NormalizedWater, regen RegenerationPlan) (CellPlan, []string, error) {
	if vessel.BedDepthM < 0.75 {
		return CellPlan{}, nil, newErr(KindOutOfRange, "bed depth must be at least 0.75 m", "bed depth %.3f m below minimum", vessel.BedDepthM)
	}
	if vessel.DiameterM > 2.4 {
		return CellPlan{}, nil, newErr(KindOutOfRange, "bed diameter must not exceed 2.4 m; add vessels in parallel instead", "bed diameter %.3f m exceeds maximum", vessel.DiameterM)
	}
	if vessel.NumberInService < 1 {
		return CellPlan{}, nil, newErr(KindOutOfRange, "", "number-in-service must be at least 1, got %d", vessel.NumberInService)
	}
	if resin.Variant == WACH && water.AlkalinityMgLCaCO3 <= 0 {
		return CellPlan{}, nil, newErr(KindInconsistentResinVessel, "WAC H-form dealkalizes; feed must carry measurable alkalinity", "H-form resin requires feed alkalinity > 0")
	}

	var warnings []string

	bedVolumeM3 := unit.Mul(
		unit.New(vessel.DiameterM, lengthDim),
		unit.New(vessel.DiameterM, lengthDim),
		unit.New(vessel.BedDepthM, lengthDim),
		unit.New(math.Pi/4*float64(vessel.NumberInService), unit.Dimensions{}),
	)
	if err := bedVolumeM3.Check(volumeDim); err != nil {
		panic(fmt.Sprintf("bed volume formula drifted off volume dimensions: %v", err))
	}
	bedVolumeL := bedVolumeM3.Value() * 1000.0
	totalCapacityEq := resin.TotalCapacityEqL * bedVolumeL
	mobileTotal := totalCapacityEq * resin.MobileFraction
	immobileTotal := totalCapacityEq * (1 - resin.MobileFraction)

	n := nominalCells
	autoRefined := false
	capped := false
	if resin.Variant == WACNa {
		nNeeded := int(math.Ceil(math.Max(mobileTotal/1.0, immobileTotal/10.0)))
		if nNeeded > n {
			n = nNeeded
			autoRefined = true
		}
	}
	if n < minCells {
		n = minCells
	}
	if n > maxCells {
		n = maxCells
		capped = true
		warnings = append(warnings, "cell count capped at 1024; per-cell capacity bound could not be fully satisfied (OverRefinement)")
	}
	if autoRefined {
		warnings = append(warnings, "cell count auto-refined beyond nominal 16 to bound per-cell mobile/immobile capacity for WAC Na-form convergence")
	}

	totalPoreVolumeKg := bedVoidFraction * bedVolumeL * waterDensityKgPerL
	poreVolumePerCellKg := totalPoreVolumeKg / float64(n)

	dispersivity := math.Max(0.01, 0.005*vessel.BedDepthM)

	feedHardnessEqL := water.HardnessMgLCaCO3 / 1000.0 / caco3EquivalentWeight
	var serviceBV float64 = 50
	if feedHardnessEqL > 0 {
		bvTheoretical := resin.TotalCapacityEqL / feedHardnessEqL
		serviceBV = math.Max(50, 1.3*bvTheoretical)
	}
	// A shift advances the column by 1/NumCells of a pore volume
	// (script.go's userPunch: bv = STEP_NO/NumCells), so BV-denominated
	// targets below must be multiplied by NumCells to get shift counts.
	serviceShifts := int(math.Ceil(serviceBV * float64(n)))
	conditionShifts := int(math.Max(5, math.Ceil(0.1*float64(serviceShifts))))

	shiftsPerPhase := map[string]int{
		"service":    serviceShifts,
		"condition":  conditionShifts,
		"backwash":   int(math.Ceil(backwashBV * float64(n))),
		"slow-rinse": int(math.Ceil(regen.SlowRinseBV * float64(n))),
		"fast-rinse": int(math.Ceil(regen.FastRinseBV * float64(n))),
	}

	return CellPlan{
		NumCells:                  n,
		BedVolumeL:                bedVolumeL,
		MobileCapacityEqPerCell:   mobileTotal / float64(n),
		ImmobileCapacityEqPerCell: immobileTotal / float64(n),
		PoreVolumeKgPerCell:       poreVolumePerCellKg,
		TotalPoreVolumeKg:         totalPoreVolumeKg,
		ShiftsPerPhase:            shiftsPerPhase,
		DispersivityM:             dispersivity,
		DiffusionCoeffM2S:         1e-9,
		AutoRefined:               autoRefined,
		Capped:                    capped,
	}, warnings, nil
}
