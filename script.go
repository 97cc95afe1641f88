package ixsim

import (
	"fmt"
	"strings"
)

// Build dispatches to the resin-specific deck builder registered in
// resinRegistry (resin.go). It is a pure function of its arguments —
// no package-level state is read or written, so identical inputs
// always produce byte-identical output (spec.md §8 determinism).
func Build(n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, plan CellPlan) (Script, error) {
	caps, err := capabilitiesFor(resin.Variant)
	if err != nil {
		return Script{}, err
	}
	return caps.buildScript(n, vessel, resin, regen, plan)
}

// selectedDatabase picks the PHREEQC thermodynamic database per
// spec.md §4.3.1: pitzer.dat at or above 0.5 mol/L ionic strength, and always
// a surface-complexation-capable database for WAC H-form.
func selectedDatabase(n NormalizedWater, resin ResinSpec) string {
	if resin.Variant == WACH {
		return "phreeqc.dat" // ships SURFACE_MASTER_SPECIES support
	}
	if n.IonicStrengthMolL >= 0.5 {
		return "pitzer.dat"
	}
	return "phreeqc.dat"
}

// deckBuilder accumulates a PHREEQC input deck and its shift-to-phase
// table. A single deckBuilder is used for one Script; it is not safe
// for concurrent use and carries no state beyond one Build call.
type deckBuilder struct {
	buf          strings.Builder
	shift        int
	phases       []ScriptPhase
	bvPerShift   float64
}

func newDeckBuilder(plan CellPlan) *deckBuilder {
	return &deckBuilder{
		// one shift advances the column by one pore volume divided
		// across NumCells cells, so NumCells shifts make one BV.
		bvPerShift: 1.0 / float64(plan.NumCells),
	}
}

func (d *deckBuilder) line(format string, args ...interface{}) {
	fmt.Fprintf(&d.buf, format+"\n", args...)
}

func (d *deckBuilder) raw(s string) {
	d.buf.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		d.buf.WriteString("\n")
	}
}

// runPhase appends a TRANSPORT block advancing `shifts` shifts under
// name `name`, recording the phase's shift span for the CurveParser.
func (d *deckBuilder) runPhase(name string, cellCount, shifts int, flowDir string, extraTransportLines ...string) {
	first := d.shift + 1
	d.line("TRANSPORT")
	d.line("    -cells %d", cellCount)
	d.line("    -shifts %d", shifts)
	d.line("    -flow_direction %s", flowDir)
	d.line("    -boundary_conditions flux flux")
	d.line("    -lengths %d*1.0", cellCount)
	d.line("    -dispersivities %d*%.6g", cellCount, 0.0)
	for _, extra := range extraTransportLines {
		d.raw(extra)
	}
	d.line("END")
	d.shift += shifts
	d.phases = append(d.phases, ScriptPhase{Name: name, FirstShift: first, LastShift: d.shift})
}

func (d *deckBuilder) knobs() {
	d.line("KNOBS")
	d.line("    -iterations 400")
	d.line("    -convergence_tolerance 1e-8")
	d.line("    -step_size 5")
	d.line("    -diagonal_scale true")
}

func (d *deckBuilder) exchangeMasterSpecies() {
	d.line("EXCHANGE_MASTER_SPECIES")
	d.line("    X X-")
}

// exchangeSpecies emits EXCHANGE_SPECIES reactions with log_k taken
// from the resin's selectivity table (log K referenced to Na, with
// gamma parameters appropriate to each ion's charge).
func (d *deckBuilder) exchangeSpecies(resin ResinSpec) {
	d.line("EXCHANGE_SPECIES")
	d.line("    X- = X-")
	d.line("    log_k 0.0")
	d.line("    Na+ + X- = NaX")
	d.line("    log_k 0.0")
	d.line("    -gamma 4.0 0.075")
	d.line("    Ca+2 + 2X- = CaX2")
	d.line("    log_k %.4g", resin.Selectivity.CaNa)
	d.line("    -gamma 5.0 0.165")
	d.line("    Mg+2 + 2X- = MgX2")
	d.line("    log_k %.4g", resin.Selectivity.MgNa)
	d.line("    -gamma 5.5 0.2")
	d.line("    K+ + X- = KX")
	d.line("    log_k %.4g", resin.Selectivity.KNa)
	d.line("    -gamma 3.5 0.015")
	d.line("    H+ + X- = HX")
	d.line("    log_k %.4g", resin.Selectivity.HNa)
	d.line("    -gamma 9.0 0.0")
}

// userPunch emits the USER_PUNCH block. BV is computed per spec.md
// §4.3.1 as STEP_NO * water_per_cell_kg / total_pore_volume_kg, which
// collapses to STEP_NO / NumCells since water_per_cell is
// total_pore_volume divided by NumCells — one shift advances the whole
// column by one Nth of a pore volume, not a whole pore volume. The
// phase column is left as a placeholder ("-"): the authoritative
// shift-to-phase mapping is the Go-side Phases table the Controller
// carries alongside the script, not something PHREEQC's BASIC
// interpreter needs to compute.
//
// The co2_mg_L column punches the aqueous CO2 species directly (not
// TOT("C(4)"), which would also count HCO3-/CO3-2): WAC H-form converts
// bicarbonate alkalinity to carbonic acid as it protonates, so this
// column reads near-zero on SAC/WAC Na-form feed water and rises once
// the H-form bed pushes pH below the bicarbonate/CO2 crossover.
func (d *deckBuilder) userPunch(plan CellPlan) {
	d.line("USER_PUNCH")
	d.line("    -headings shift bv phase Ca_mg_L Mg_mg_L Na_mg_L K_mg_L pH alk_mg_L_CaCO3 hardness_mg_L_CaCO3 co2_mg_L")
	d.line("    -start")
	d.line("    10 water_per_cell = %.10g", plan.PoreVolumeKgPerCell)
	d.line("    20 total_pore_volume = %.10g", plan.TotalPoreVolumeKg)
	d.line("    30 bv = STEP_NO * water_per_cell / total_pore_volume")
	d.line("    40 PUNCH STEP_NO, bv, \"-\"")
	d.line("    50 PUNCH TOT(\"Ca\")*40078, TOT(\"Mg\")*24305, TOT(\"Na\")*22990, TOT(\"K\")*39098")
	d.line("    60 PUNCH -LA(\"H+\")")
	d.line("    70 alk = ALK * 50044")
	d.line("    80 hardness = TOT(\"Ca\")*100087 + TOT(\"Mg\")*100087")
	d.line("    90 PUNCH alk, hardness")
	d.line("    100 co2 = MOL(\"CO2\") * 44010")
	d.line("    110 PUNCH co2")
	d.line("    -end")
}

// feedSolution emits a SOLUTION block for a ion-mg/L water analysis,
// iterating ions in NormalizedWater.IonOrder for determinism.
func (d *deckBuilder) feedSolution(number int, n NormalizedWater) {
	d.line("SOLUTION %d", number)
	d.line("    temp %.2f", n.TemperatureC)
	d.line("    pH %.3f", n.PH)
	d.line("    units mg/L")
	for _, ion := range n.IonOrder {
		d.line("    %s %.6g", phreeqcElementName(ion), n.Ions[ion])
	}
}

func phreeqcElementName(ion string) string {
	switch ion {
	case "HCO3":
		return "Alkalinity as HCO3"
	default:
		return ion
	}
}

func (d *deckBuilder) text() string { return d.buf.String() }
