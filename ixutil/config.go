package ixutil

import (
	"encoding/json"
	"fmt"

	ixsim "github.com/puran-water/ix-design-sim"
)

// ScenarioInput is the conceptual simulate_cycle input schema of
// spec.md §6.1, decoded from the scenario file the CLI is pointed at.
// Transport encoding beyond this file format is the enclosing server's
// concern.
type ScenarioInput struct {
	SchemaVersion string `json:"schema_version"`
	ResinType     string `json:"resin_type"`
	Water         struct {
		FlowM3H      float64            `json:"flow_m3_h"`
		TemperatureC float64            `json:"temperature_c"`
		PH           float64            `json:"pH"`
		IonsMgL      map[string]float64 `json:"ions_mg_l"`
	} `json:"water"`
	Vessel struct {
		DiameterM       float64 `json:"diameter_m"`
		BedDepthM       float64 `json:"bed_depth_m"`
		NumberInService int     `json:"number_in_service"`
	} `json:"vessel"`
	Targets struct {
		HardnessMgLCaCO3   float64 `json:"hardness_mg_l_caco3"`
		AlkalinityMgLCaCO3 float64 `json:"alkalinity_mg_l_caco3"`
	} `json:"targets"`
	Cycle struct {
		RegenerantType            string  `json:"regenerant_type"`
		RegenerantDoseGPerL       float64 `json:"regenerant_dose_g_per_l"`
		RegenerantConcentrationWt float64 `json:"regenerant_concentration_wt"`
		FlowDirection             string  `json:"flow_direction"`
		Backwash                  bool    `json:"backwash"`
		Mode                      string  `json:"mode"`
		Stages                    int     `json:"stages"`
		SlowRinseBV               float64 `json:"slow_rinse_bv"`
		FastRinseBV               float64 `json:"fast_rinse_bv"`
		FlowBVPerH                float64 `json:"flow_bv_per_h"`
		TargetRecovery            float64 `json:"target_recovery"`
	} `json:"cycle"`
	CalibrationKey *struct {
		SiteID string `json:"site_id"`
		Resin  string `json:"resin"`
	} `json:"calibration_key"`
}

// ParseScenario decodes a simulate_cycle scenario file and validates
// the fields that would otherwise surface as a confusing PHREEQC
// failure deep in the pipeline.
func ParseScenario(data []byte) (ScenarioInput, error) {
	var s ScenarioInput
	if err := json.Unmarshal(data, &s); err != nil {
		return ScenarioInput{}, fmt.Errorf("parsing scenario file: %w", err)
	}
	if s.SchemaVersion == "" {
		return ScenarioInput{}, fmt.Errorf("scenario file missing schema_version")
	}
	if _, err := parseResinVariant(s.ResinType); err != nil {
		return ScenarioInput{}, err
	}
	if s.Vessel.NumberInService == 0 {
		s.Vessel.NumberInService = 1
	}
	return s, nil
}

func parseResinVariant(s string) (ixsim.ResinVariant, error) {
	switch s {
	case "SAC":
		return ixsim.SAC, nil
	case "WAC_Na":
		return ixsim.WACNa, nil
	case "WAC_H":
		return ixsim.WACH, nil
	default:
		return 0, fmt.Errorf("unrecognized resin_type %q: must be one of SAC, WAC_Na, WAC_H", s)
	}
}

func parseRegenerant(s string) (ixsim.RegenerantKind, error) {
	switch s {
	case "", "NaCl":
		return ixsim.NaCl, nil
	case "HCl":
		return ixsim.HCl, nil
	case "H2SO4":
		return ixsim.H2SO4, nil
	case "NaOH":
		return ixsim.NaOH, nil
	default:
		return 0, fmt.Errorf("unrecognized regenerant_type %q", s)
	}
}

func parseDirection(s string) (ixsim.RegenerationDirection, error) {
	switch s {
	case "", "counter":
		return ixsim.CounterCurrent, nil
	case "co":
		return ixsim.CoCurrent, nil
	default:
		return 0, fmt.Errorf("unrecognized flow_direction %q: must be \"counter\" or \"co\"", s)
	}
}

func parseMode(s string) ixsim.RunMode {
	if s == "staged_optimize" {
		return ixsim.ModeStagedOptimize
	}
	return ixsim.ModeSingle
}

// ToDomain converts the decoded scenario into the typed arguments
// Controller.SimulateCycle expects.
func (s ScenarioInput) ToDomain() (ixsim.FeedWater, ixsim.Vessel, ixsim.ResinSpec, ixsim.RegenerationPlan, ixsim.Targets, ixsim.CalibrationKey, error) {
	var zero7 ixsim.CalibrationKey
	variant, err := parseResinVariant(s.ResinType)
	if err != nil {
		return ixsim.FeedWater{}, ixsim.Vessel{}, ixsim.ResinSpec{}, ixsim.RegenerationPlan{}, ixsim.Targets{}, zero7, err
	}
	resin, err := ixsim.DefaultResinSpec(variant)
	if err != nil {
		return ixsim.FeedWater{}, ixsim.Vessel{}, ixsim.ResinSpec{}, ixsim.RegenerationPlan{}, ixsim.Targets{}, zero7, err
	}

	feed := ixsim.FeedWater{
		Ions:         s.Water.IonsMgL,
		PH:           s.Water.PH,
		TemperatureC: s.Water.TemperatureC,
		FlowM3H:      s.Water.FlowM3H,
	}
	vessel := ixsim.Vessel{
		DiameterM:       s.Vessel.DiameterM,
		BedDepthM:       s.Vessel.BedDepthM,
		NumberInService: s.Vessel.NumberInService,
	}
	targets := ixsim.Targets{
		HardnessMgLCaCO3:   s.Targets.HardnessMgLCaCO3,
		AlkalinityMgLCaCO3: s.Targets.AlkalinityMgLCaCO3,
	}

	regenerant, err := parseRegenerant(s.Cycle.RegenerantType)
	if err != nil {
		return ixsim.FeedWater{}, ixsim.Vessel{}, ixsim.ResinSpec{}, ixsim.RegenerationPlan{}, ixsim.Targets{}, zero7, err
	}
	direction, err := parseDirection(s.Cycle.FlowDirection)
	if err != nil {
		return ixsim.FeedWater{}, ixsim.Vessel{}, ixsim.ResinSpec{}, ixsim.RegenerationPlan{}, ixsim.Targets{}, zero7, err
	}
	stages := s.Cycle.Stages
	if stages == 0 {
		stages = 1
	}
	regen := ixsim.RegenerationPlan{
		Regenerant:     regenerant,
		DoseGPerL:      s.Cycle.RegenerantDoseGPerL,
		StrengthPctWt:  s.Cycle.RegenerantConcentrationWt,
		FlowBVPerH:     s.Cycle.FlowBVPerH,
		Direction:      direction,
		Backwash:       s.Cycle.Backwash,
		SlowRinseBV:    s.Cycle.SlowRinseBV,
		FastRinseBV:    s.Cycle.FastRinseBV,
		Stages:         stages,
		Mode:           parseMode(s.Cycle.Mode),
		TargetRecovery: s.Cycle.TargetRecovery,
	}

	var calibKey ixsim.CalibrationKey
	if s.CalibrationKey != nil {
		calibKey = ixsim.CalibrationKey{SiteID: s.CalibrationKey.SiteID, Resin: variant}
	}

	return feed, vessel, resin, regen, targets, calibKey, nil
}
