package ixsim

import (
	"math"

	"github.com/Knetic/govaluate"
)

func init() {
	registerResin(SAC, resinCapabilities{applyOverlay: applySACOverlay})
	registerResin(WACNa, resinCapabilities{applyOverlay: applyWACNaOverlay})
	registerResin(WACH, resinCapabilities{applyOverlay: applyWACHOverlay})
}

// regenEfficiencyExpr is the piecewise correlation for regeneration
// efficiency η (spec.md §6, performance_metrics derivation), expressed
// as a guarded arithmetic expression evaluated by govaluate rather than
// hard-coded branching. The expression is fixed here; calibration files
// do not carry or override it.
const regenEfficiencyExpr = `min(1.0, dose_ratio) * (0.85 + 0.15*direction_factor) * (0.9 + 0.1*min(1.0, rinse_bv/4.0))`

var regenEfficiencyFunctions = map[string]govaluate.ExpressionFunction{
	"min": func(args ...interface{}) (interface{}, error) {
		a, b := args[0].(float64), args[1].(float64)
		if a < b {
			return a, nil
		}
		return b, nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		a, b := args[0].(float64), args[1].(float64)
		if a > b {
			return a, nil
		}
		return b, nil
	},
}

// regenerationEfficiency evaluates η given a regeneration plan. A
// stoichiometric dose (g/L resin) of 100 is used as the reference
// point for SAC/WAC-Na NaCl regeneration; direction_factor rewards
// counter-current polishing.
func regenerationEfficiency(regen RegenerationPlan) (float64, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(regenEfficiencyExpr, regenEfficiencyFunctions)
	if err != nil {
		return 0, wrapErr(KindCalibrationMissing, "", err, "failed to parse regeneration efficiency expression")
	}
	directionFactor := 0.0
	if regen.Direction == CounterCurrent {
		directionFactor = 1.0
	}
	doseRatio := 0.0
	if regen.DoseGPerL > 0 {
		doseRatio = regen.DoseGPerL / 100.0
	}
	params := map[string]interface{}{
		"dose_ratio":       doseRatio,
		"direction_factor": directionFactor,
		"rinse_bv":         regen.SlowRinseBV + regen.FastRinseBV,
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return 0, wrapErr(KindCalibrationMissing, "", err, "failed to evaluate regeneration efficiency expression")
	}
	eta, ok := result.(float64)
	if !ok {
		return 0, newErr(KindCalibrationMissing, "", "regeneration efficiency expression did not evaluate to a number")
	}
	return eta, nil
}

// applySACOverlay implements spec.md §4.6.1. The offset is recomputed
// from the curve's own early-service minimum, so re-applying the
// overlay with unchanged calibration is a no-op (idempotence).
func applySACOverlay(curve BreakthroughCurve, n NormalizedWater, resin ResinSpec, regen RegenerationPlan, calib CalibrationParameters) (BreakthroughCurve, []string) {
	var warnings []string
	eta, err := regenerationEfficiency(regen)
	if err != nil {
		warnings = append(warnings, "falling back to eta=0 after overlay expression failure: "+err.Error())
		eta = 0
	}
	floor := calib.FloorA0 + calib.TDSSlopeA1*n.TDSMgL/1000.0 + calib.RegenCoeffA2*math.Pow(1-eta, calib.Exponent)

	earlyMin, found := earlyServiceMinimum(curve, n)
	if !found {
		return curve, warnings
	}
	offset := floor - earlyMin
	if offset <= 0 {
		return curve, warnings
	}

	applyHardnessOffset(&curve, offset)
	return curve, warnings
}

// applyWACNaOverlay layers the same floor model with a smaller
// baseline and an Arrhenius-corrected mass-transfer coefficient
// (spec.md §4.6.2). The LDF correction widens the effective floor
// slightly at low temperature, reflecting slower WAC-Na kinetics.
func applyWACNaOverlay(curve BreakthroughCurve, n NormalizedWater, resin ResinSpec, regen RegenerationPlan, calib CalibrationParameters) (BreakthroughCurve, []string) {
	var warnings []string
	eta, err := regenerationEfficiency(regen)
	if err != nil {
		warnings = append(warnings, "falling back to eta=0 after overlay expression failure: "+err.Error())
		eta = 0
	}
	const refTempK = 298.15
	const gasConstant = 8.314
	tempK := n.TemperatureC + 273.15
	arrheniusFactor := math.Exp(-calib.ActivationEnergyJMol / gasConstant * (1/tempK - 1/refTempK))
	kLDFCorrected := calib.LDFCoeff * arrheniusFactor

	floor := calib.FloorA0 + calib.TDSSlopeA1*n.TDSMgL/1000.0 + calib.RegenCoeffA2*math.Pow(1-eta, calib.Exponent)
	if kLDFCorrected < calib.LDFCoeff {
		floor *= calib.LDFCoeff / math.Max(kLDFCorrected, 1e-9)
	}

	earlyMin, found := earlyServiceMinimum(curve, n)
	if !found {
		return curve, warnings
	}
	offset := floor - earlyMin
	if offset <= 0 {
		return curve, warnings
	}

	applyHardnessOffset(&curve, offset)
	return curve, warnings
}

// applyWACHOverlay implements spec.md §4.6.3: effective capacity from
// the kinetic-trap model, Na/K slip curves, and the temporary-hardness
// cap enforcement.
func applyWACHOverlay(curve BreakthroughCurve, n NormalizedWater, resin ResinSpec, regen RegenerationPlan, calib CalibrationParameters) (BreakthroughCurve, []string) {
	var warnings []string

	pKaEffective := resin.PKa - calib.PKaShift
	alphaEquilibrium := 1.0 / (1.0 + math.Pow(10, pKaEffective-n.PH))
	capacityKineticTrap := resin.TotalCapacityEqL * calib.KineticTrapFactor
	capacityEquilibrium := alphaEquilibrium * resin.TotalCapacityEqL
	curve.CapacityEffectiveEqL = math.Max(capacityEquilibrium, capacityKineticTrap)

	bvTheoretical := lastServiceBV(curve)
	clipped := 0
	for i := range curve.Samples {
		s := &curve.Samples[i]
		if s.Phase != "service" {
			continue
		}
		exhaustion := 0.0
		if bvTheoretical > 0 {
			exhaustion = s.BV / bvTheoretical
		}
		if exhaustion < 0 {
			exhaustion = 0
		}
		if exhaustion > 1 {
			exhaustion = 1
		}
		s.NaSlipFraction = calib.NaSlipBaseFraction * (1 + calib.ChannelingFactor*exhaustion)
		s.KSlipFraction = calib.KSlipBaseFraction * (1 + calib.ChannelingFactor*exhaustion)

		hardnessRemoved := n.HardnessMgLCaCO3 - s.HardnessMgLCaCO3
		if hardnessRemoved > n.TemporaryHardnessMgL+0.5 {
			s.HardnessMgLCaCO3 = n.HardnessMgLCaCO3 - n.TemporaryHardnessMgL
			clipped++
		}
	}
	if clipped > 0 {
		warnings = append(warnings, "clipped hardness removal exceeding feed temporary hardness on "+itoa(clipped)+" samples")
	}

	return curve, warnings
}

func lastServiceBV(curve BreakthroughCurve) float64 {
	var last float64
	for _, s := range curve.Samples {
		if s.Phase == "service" {
			last = s.BV
		}
	}
	return last
}

// earlyServiceMinimum returns the minimum hardness across the first
// 0.5 BV of service-phase samples (the transient window CurveParser
// also uses for breakthrough detection).
func earlyServiceMinimum(curve BreakthroughCurve, n NormalizedWater) (float64, bool) {
	start := firstServicePhaseBV(curve.Samples)
	min := math.Inf(1)
	found := false
	for _, s := range curve.Samples {
		if s.Phase != "service" {
			continue
		}
		if s.BV-start > breakthroughInitialTransientBV {
			break
		}
		if s.HardnessMgLCaCO3 < min {
			min = s.HardnessMgLCaCO3
			found = true
		}
	}
	return min, found
}

// applyHardnessOffset adds offset to the hardness column of the
// service phase, proportionally distributing it to Ca/Mg preserving
// their ratio (spec.md §4.6.1); BV, phase, pH, and alkalinity are
// never touched.
func applyHardnessOffset(curve *BreakthroughCurve, offset float64) {
	for i := range curve.Samples {
		s := &curve.Samples[i]
		if s.Phase != "service" {
			continue
		}
		total := s.CaMgL + s.MgMgL
		s.HardnessMgLCaCO3 += offset
		if total > 0 {
			caShare := s.CaMgL / total
			s.CaMgL += offset * caShare * (2.5 / 2.5)
			s.MgMgL += offset * (1 - caShare) * (4.1 / 4.1)
		}
	}
}
