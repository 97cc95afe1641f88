package ixsim

import "math"

func init() {
	registerResin(SAC, resinCapabilities{
		buildScript:                 buildSACScript,
		deriveBreakthroughCriterion: sacBreakthroughCriterion,
	})
}

func sacBreakthroughCriterion(targets Targets) (string, float64) {
	return "hardness_mg_L_CaCO3", targets.HardnessMgLCaCO3
}

// buildSACScript implements the SAC phase sequence of spec.md §4.3.2:
// preload exchanger with Na, run service to breakthrough, optional
// backwash, staged regeneration, then slow/fast rinse.
func buildSACScript(n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, plan CellPlan) (Script, error) {
	d := newDeckBuilder(plan)
	cells := plan.NumCells

	d.line("DATABASE %s", selectedDatabase(n, resin))
	d.knobs()
	d.exchangeMasterSpecies()
	d.exchangeSpecies(resin)
	d.userPunch(plan)

	// Preload: NaCl background water (2000 mg/L Na) with the exchanger
	// fully loaded in Na-form, so service does not have to establish
	// the exchanger environment from nothing.
	d.line("SOLUTION 1-%d", cells)
	d.line("    temp %.2f", n.TemperatureC)
	d.line("    pH 7.0")
	d.line("    units mg/L")
	d.line("    Na 2000")
	d.line("    Cl 3086")
	d.line("EXCHANGE 1-%d", cells)
	d.line("    X %.6g", plan.MobileCapacityEqPerCell)
	d.line("    -equilibrate 1")
	d.line("SAVE solution 1-%d", cells)
	d.line("SAVE exchange 1-%d", cells)
	d.line("END")

	d.feedSolution(0, n)
	d.line("END")

	d.runPhase("service", cells, plan.ShiftsPerPhase["service"], "forward",
		"    -punch_cells 1-"+itoa(cells))

	if regen.Backwash {
		d.runPhase("backwash", cells, plan.ShiftsPerPhase["backwash"], "forward")
	}

	stages := regen.Stages
	if stages < 1 {
		stages = 1
	}
	regenBV := regenerantTotalBV(regen)
	shiftsPerStage := int(math.Ceil(regenBV * float64(cells) / float64(stages)))
	flowDir := "forward"
	if regen.Direction == CounterCurrent {
		flowDir = "backward"
	}
	for k := 1; k <= stages; k++ {
		d.regenerantSolution(0, regen, n.TemperatureC)
		d.line("END")
		d.runPhase(phaseNameRegenStage(k), cells, shiftsPerStage, flowDir)
	}

	d.feedSolution(0, rinseWater(n))
	d.line("END")
	d.runPhase("slow-rinse", cells, plan.ShiftsPerPhase["slow-rinse"], "forward")
	d.runPhase("fast-rinse", cells, plan.ShiftsPerPhase["fast-rinse"], "forward")

	return Script{Text: d.text(), Phases: d.phases, BVPerShift: d.bvPerShift}, nil
}

func phaseNameRegenStage(k int) string {
	return "regen-stage-" + itoa(k)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// rinseWater is a low-TDS placeholder feed used for rinse phases: same
// temperature/pH as the feed but negligible ionic content.
func rinseWater(n NormalizedWater) NormalizedWater {
	r := n
	r.Ions = map[string]float64{}
	r.IonOrder = nil
	for _, ion := range n.IonOrder {
		r.Ions[ion] = 0
	}
	ord := make([]string, len(n.IonOrder))
	copy(ord, n.IonOrder)
	r.IonOrder = ord
	return r
}

// regenerantTotalBV derives the regenerant bed-volume requirement from
// dose (g/L resin), strength (%wt), and an assumed solution density
// (spec.md §4.3.5).
func regenerantTotalBV(regen RegenerationPlan) float64 {
	if regen.DoseGPerL <= 0 {
		return 0
	}
	density := densityForRegenerant(regen.Regenerant, regen.StrengthPctWt)
	gPerLSolution := regen.StrengthPctWt / 100.0 * density * 1000.0
	if gPerLSolution <= 0 {
		return 0
	}
	// liters of regenerant solution needed per liter of resin:
	litersPerLResin := regen.DoseGPerL / gPerLSolution
	return litersPerLResin // BV, since 1 BV = 1 L solution / L resin
}

func densityForRegenerant(kind RegenerantKind, pctWt float64) float64 {
	return 1.0 + 0.007*pctWt
}

// regenerantSolution emits a SOLUTION block approximating the named
// regenerant at the plan's strength; HCl/H2SO4 are represented via pH,
// NaCl/NaOH via explicit ion concentration.
func (d *deckBuilder) regenerantSolution(number int, regen RegenerationPlan, tempC float64) {
	density := densityForRegenerant(regen.Regenerant, regen.StrengthPctWt)
	gPerLSolution := regen.StrengthPctWt / 100.0 * density * 1000.0

	d.line("SOLUTION %d", number)
	d.line("    temp %.2f", tempC)
	d.line("    units mg/L")
	switch regen.Regenerant {
	case NaCl:
		na := gPerLSolution * (22.99 / 58.44)
		cl := gPerLSolution * (35.45 / 58.44)
		d.line("    pH 7.0")
		d.line("    Na %.6g", na)
		d.line("    Cl %.6g", cl)
	case HCl:
		cl := gPerLSolution * (35.45 / 36.46)
		d.line("    pH 0.3")
		d.line("    Cl %.6g", cl)
	case H2SO4:
		s := gPerLSolution * (96.06 / 98.08)
		d.line("    pH 0.3")
		d.line("    S(6) %.6g", s)
	case NaOH:
		na := gPerLSolution * (22.99 / 40.0)
		d.line("    pH 13.0")
		d.line("    Na %.6g", na)
	}
}
