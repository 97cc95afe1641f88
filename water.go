package ixsim

import "sort"

// ionProps is the recognized-ion table: molar mass (g/mol) and signed
// charge. Concentrations outside this set are rejected rather than
// silently dropped (spec.md §4.1 UnknownIon).
type ionProps struct {
	MolarMass float64
	Charge    int
}

var recognizedIons = map[string]ionProps{
	"Ca":   {40.08, 2},
	"Mg":   {24.305, 2},
	"Na":   {22.99, 1},
	"K":    {39.098, 1},
	"HCO3": {61.02, -1},
	"Cl":   {35.45, -1},
	"SO4":  {96.06, -2},
	"NO3":  {62.00, -1},
}

// NormalizedWater is WaterModel's output: derived quantities plus a
// fixed iteration order over the ions actually present, so generated
// scripts are byte-identical for identical inputs.
type NormalizedWater struct {
	Ions                   map[string]float64 // mg/L, post charge-balance closure
	IonOrder               []string            // sorted keys of Ions
	PH                     float64
	TemperatureC           float64
	FlowM3H                float64
	HardnessMgLCaCO3       float64
	AlkalinityMgLCaCO3     float64
	TemporaryHardnessMgL   float64
	PermanentHardnessMgL   float64
	IonicStrengthMolL      float64
	TDSMgL                 float64
	ChargeImbalancePercent float64
	ClosedByClInflation    bool
}

// Normalize validates and derives the quantities WaterModel's contract
// promises. Returns advisory warnings (e.g. charge-balance auto-closure)
// alongside the result; returns an error for any of the documented
// failure modes.
func Normalize(feed FeedWater) (NormalizedWater, []string, error) {
	var warnings []string

	for ion := range feed.Ions {
		if _, ok := recognizedIons[ion]; !ok {
			return NormalizedWater{}, nil, newErr(KindUnknownIon, "remove or rename the unrecognized ion key", "unrecognized ion %q in feed water analysis", ion)
		}
	}
	if feed.PH < 4.0 || feed.PH > 10.0 {
		return NormalizedWater{}, nil, newErr(KindOutOfRange, "feed pH must be between 4.0 and 10.0", "feed pH %.2f out of range", feed.PH)
	}
	if feed.TemperatureC < 5 || feed.TemperatureC > 40 {
		return NormalizedWater{}, nil, newErr(KindOutOfRange, "feed temperature must be between 5 and 40 C", "feed temperature %.1f C out of range", feed.TemperatureC)
	}
	if feed.FlowM3H <= 0 {
		return NormalizedWater{}, nil, newErr(KindOutOfRange, "feed flow must be positive", "feed flow %.3f m3/h out of range", feed.FlowM3H)
	}
	for ion, conc := range feed.Ions {
		if conc < 0 {
			return NormalizedWater{}, nil, newErr(KindOutOfRange, "", "ion %s concentration %.3f mg/L is negative", ion, conc)
		}
	}

	ions := make(map[string]float64, len(feed.Ions))
	for k, v := range feed.Ions {
		ions[k] = v
	}

	cationsEq := meqPerL(ions, "Ca") + meqPerL(ions, "Mg") + meqPerL(ions, "Na") + meqPerL(ions, "K")
	anionsEq := meqPerL(ions, "HCO3") + meqPerL(ions, "Cl") + meqPerL(ions, "SO4") + meqPerL(ions, "NO3")

	closed := false
	if cationsEq > anionsEq {
		deficitEq := cationsEq - anionsEq
		deltaClMgL := deficitEq * recognizedIons["Cl"].MolarMass // charge magnitude 1
		ions["Cl"] = ions["Cl"] + deltaClMgL
		anionsEq += deficitEq
		closed = true
		warnings = append(warnings, "ion charge balance closed by increasing Cl to offset anion deficit")
	}

	var imbalancePct float64
	if cationsEq+anionsEq > 0 {
		imbalancePct = absF(cationsEq-anionsEq) / ((cationsEq + anionsEq) / 2) * 100
	}
	if !closed && imbalancePct > 15.0 {
		return NormalizedWater{}, nil, newErr(KindChargeImbalance, "supply additional anion data (Cl, SO4) or verify the analysis", "charge imbalance %.1f%% exceeds 15%% tolerance", imbalancePct)
	}

	order := make([]string, 0, len(ions))
	for k := range ions {
		order = append(order, k)
	}
	sort.Strings(order)

	hardness := 2.5*ions["Ca"] + 4.1*ions["Mg"]
	alkalinity := ions["HCO3"] * (50.04 / 61.02)
	tempHardness := hardness
	if alkalinity < tempHardness {
		tempHardness = alkalinity
	}
	permHardness := hardness - tempHardness

	var tds float64
	var ionicStrengthSum float64
	for _, ion := range order {
		c := ions[ion]
		tds += c
		p := recognizedIons[ion]
		molarConc := c / 1000.0 / p.MolarMass // mol/L
		ionicStrengthSum += molarConc * float64(p.Charge*p.Charge)
	}
	ionicStrength := 0.5 * ionicStrengthSum

	return NormalizedWater{
		Ions:                   ions,
		IonOrder:               order,
		PH:                     feed.PH,
		TemperatureC:           feed.TemperatureC,
		FlowM3H:                feed.FlowM3H,
		HardnessMgLCaCO3:       hardness,
		AlkalinityMgLCaCO3:     alkalinity,
		TemporaryHardnessMgL:   tempHardness,
		PermanentHardnessMgL:   permHardness,
		IonicStrengthMolL:      ionicStrength,
		TDSMgL:                 tds,
		ChargeImbalancePercent: imbalancePct,
		ClosedByClInflation:    closed,
	}, warnings, nil
}

func meqPerL(ions map[string]float64, ion string) float64 {
	c, ok := ions[ion]
	if !ok {
		return 0
	}
	p := recognizedIons[ion]
	eqWeight := p.MolarMass / absF(float64(p.Charge))
	return c / eqWeight
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
