package ixsim

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

const breakthroughInitialTransientBV = 0.5

// pH spikes above 10 immediately after the WAC Na-form condition-to-
// service feed switch are a known numerical artifact of the staged
// TRANSPORT carryover, not a real effluent excursion; accepted if they
// relax within one BV (spec.md §9 Open Questions).
const (
	phSpikeThreshold          = 10.0
	phSpikeRelaxationWindowBV = 1.0
)

// Parse implements CurveParser's contract: maps SELECTED_OUTPUT rows
// onto phases via the builder-recorded shift boundaries, detects
// breakthrough against the given criterion, and returns the full
// (undecimated) curve. Decimate() is applied separately by the
// Controller before externalizing the result (spec.md §4.5).
func Parse(artifacts RunArtifacts, criterionColumn string, criterionLimit float64, phases []ScriptPhase) (BreakthroughCurve, []string, error) {
	if len(artifacts.SelectedOutput) == 0 {
		return BreakthroughCurve{}, nil, newErr(KindMalformedOutput, "", "no rows parsed from SELECTED_OUTPUT")
	}

	phaseByShift := buildPhaseLookup(phases)

	samples := make([]CurveSample, 0, len(artifacts.SelectedOutput))
	for _, row := range artifacts.SelectedOutput {
		samples = append(samples, CurveSample{
			BV:               row.BV,
			Phase:            phaseByShift(row.Shift),
			CaMgL:            row.CaMgL,
			MgMgL:            row.MgMgL,
			NaMgL:            row.NaMgL,
			HardnessMgLCaCO3: row.HardnessMgLCaCO3,
			PH:               row.PH,
			AlkMgLCaCO3:      row.AlkMgLCaCO3,
			CO2MgL:           row.CO2MgL,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].BV < samples[j].BV })

	var warnings []string
	curve := BreakthroughCurve{Samples: samples, BreakthroughIndex: -1}

	serviceStartBV := firstServicePhaseBV(samples)

	if hasPhase(phases, "condition") {
		if n := clipPostSwitchPHSpikes(samples, serviceStartBV); n > 0 {
			warnings = append(warnings, "clipped "+itoa(n)+" numerical pH spike(s) above 10 within 1 BV of the Na-form feed switch")
		}
	}
	var lastBelow, firstAbove *CurveSample
	var lastBelowIdx, firstAboveIdx int
	for i := range samples {
		s := &samples[i]
		if s.Phase != "service" {
			continue
		}
		if s.BV-serviceStartBV < breakthroughInitialTransientBV {
			continue
		}
		value := criterionValue(*s, criterionColumn)
		if value <= criterionLimit {
			lastBelow = s
			lastBelowIdx = i
		} else {
			firstAbove = s
			firstAboveIdx = i
			break
		}
	}

	if firstAbove != nil {
		curve.BreakthroughReached = true
		if lastBelow != nil {
			curve.BreakthroughBV = interpolateBV(*lastBelow, *firstAbove, criterionColumn, criterionLimit)
			curve.BreakthroughIndex = firstAboveIdx
			_ = lastBelowIdx
		} else {
			curve.BreakthroughBV = firstAbove.BV
			curve.BreakthroughIndex = firstAboveIdx
		}
	} else {
		curve.BreakthroughReached = false
		if len(samples) > 0 {
			curve.BreakthroughBV = samples[len(samples)-1].BV
			curve.BreakthroughIndex = len(samples) - 1
		}
		warnings = append(warnings, "breakthrough not reached within simulated window; reporting last sample as a conservative estimate")
	}

	return curve, warnings, nil
}

func buildPhaseLookup(phases []ScriptPhase) func(shift int) string {
	return func(shift int) string {
		for _, p := range phases {
			if shift >= p.FirstShift && shift <= p.LastShift {
				return p.Name
			}
		}
		return "unknown"
	}
}

func hasPhase(phases []ScriptPhase, name string) bool {
	for _, p := range phases {
		if p.Name == name {
			return true
		}
	}
	return false
}

// clipPostSwitchPHSpikes clips service-phase pH samples above
// phSpikeThreshold back to the threshold within phSpikeRelaxationWindowBV
// of the feed switch, and returns how many samples were clipped.
func clipPostSwitchPHSpikes(samples []CurveSample, serviceStartBV float64) int {
	clipped := 0
	for i := range samples {
		s := &samples[i]
		if s.Phase != "service" {
			continue
		}
		if s.BV-serviceStartBV > phSpikeRelaxationWindowBV {
			continue
		}
		if s.PH > phSpikeThreshold {
			s.PH = phSpikeThreshold
			clipped++
		}
	}
	return clipped
}

func firstServicePhaseBV(samples []CurveSample) float64 {
	for _, s := range samples {
		if s.Phase == "service" {
			return s.BV
		}
	}
	return 0
}

func criterionValue(s CurveSample, column string) float64 {
	switch column {
	case "hardness_mg_L_CaCO3":
		return s.HardnessMgLCaCO3
	case "alk_mg_L_CaCO3":
		return s.AlkMgLCaCO3
	default:
		return s.HardnessMgLCaCO3
	}
}

// interpolateBV linearly interpolates the BV at which the criterion
// crosses its limit, between the last below-limit and first
// above-limit samples (spec.md §4.5).
func interpolateBV(below, above CurveSample, column string, limit float64) float64 {
	v0 := criterionValue(below, column)
	v1 := criterionValue(above, column)
	if v1 == v0 {
		return above.BV
	}
	frac := (limit - v0) / (v1 - v0)
	return below.BV + frac*(above.BV-below.BV)
}

// Decimate applies the smart decimation policy of spec.md §4.5: every
// sample within ±10 BV of breakthrough, every fifth in ±10-30 BV,
// every twentieth elsewhere. Internal analysis always uses the full
// table; this is applied only to the externalized curve.
func Decimate(curve BreakthroughCurve) BreakthroughCurve {
	if len(curve.Samples) == 0 {
		return curve
	}
	out := make([]CurveSample, 0, len(curve.Samples))
	for i, s := range curve.Samples {
		dist := absF(s.BV - curve.BreakthroughBV)
		keep := false
		switch {
		case dist <= 10:
			keep = true
		case dist <= 30:
			keep = i%5 == 0
		default:
			keep = i%20 == 0
		}
		if keep {
			out = append(out, s)
		}
	}
	// always keep the breakthrough sample itself and the final sample
	last := curve.Samples[len(curve.Samples)-1]
	if !containsSample(out, last) {
		out = append(out, last)
	}
	if curve.BreakthroughIndex >= 0 && curve.BreakthroughIndex < len(curve.Samples) {
		bt := curve.Samples[curve.BreakthroughIndex]
		if !containsSample(out, bt) {
			out = append(out, bt)
			sort.Slice(out, func(i, j int) bool { return out[i].BV < out[j].BV })
		}
	}
	curve.Samples = out
	return curve
}

func containsSample(samples []CurveSample, s CurveSample) bool {
	for _, e := range samples {
		if e.BV == s.BV && e.Phase == s.Phase {
			return true
		}
	}
	return false
}

// ServicePhaseMean computes the arithmetic mean of a field across the
// service-phase samples preceding breakthrough, using gonum/stat
// instead of hand-rolled summation (authoritative for
// operations/cost metrics per spec.md §4.5).
func ServicePhaseMean(curve BreakthroughCurve, field func(CurveSample) float64) float64 {
	var values []float64
	limit := len(curve.Samples) - 1
	if curve.BreakthroughReached && curve.BreakthroughIndex >= 0 {
		// the sample at BreakthroughIndex lies past the breakthrough BV
		limit = curve.BreakthroughIndex - 1
	}
	for i, s := range curve.Samples {
		if s.Phase != "service" {
			continue
		}
		if i > limit {
			break
		}
		values = append(values, field(s))
	}
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// ServicePhaseMinMax returns the minimum and maximum of a field across
// the service-phase samples preceding breakthrough, mirroring
// ServicePhaseMean's sample window.
func ServicePhaseMinMax(curve BreakthroughCurve, field func(CurveSample) float64) (min, max float64) {
	limit := len(curve.Samples) - 1
	if curve.BreakthroughReached && curve.BreakthroughIndex >= 0 {
		limit = curve.BreakthroughIndex - 1
	}
	first := true
	for i, s := range curve.Samples {
		if s.Phase != "service" {
			continue
		}
		if i > limit {
			break
		}
		v := field(s)
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
