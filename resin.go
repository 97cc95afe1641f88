package ixsim

// resinCapabilities is the function-pointer record replacing the
// source implementation's SAC/WAC-Na/WAC-H base-class hierarchy
// (spec.md §9, "Abstract inheritance across resin types"). Each
// resin-specific file (script_sac.go, script_wacna.go, script_wach.go)
// registers its functions for one ResinVariant, and overlay.go its
// overlay functions for all three, in init() functions; the Controller and ScriptBuilder dispatch through
// this record instead of a type switch scattered across the codebase.
type resinCapabilities struct {
	buildScript                 func(n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, plan CellPlan) (Script, error)
	applyOverlay                func(curve BreakthroughCurve, n NormalizedWater, resin ResinSpec, regen RegenerationPlan, calib CalibrationParameters) (BreakthroughCurve, []string)
	deriveBreakthroughCriterion func(targets Targets) (column string, limit float64)
}

var resinRegistry = make(map[ResinVariant]resinCapabilities)

// registerResin installs part of the capability record for one resin
// variant. script_*.go and overlay.go each contribute a subset of the
// record's fields for the same variant from separate init()
// functions, in file-name order that is not guaranteed relative to
// each other, so this merges into any existing entry rather than
// overwriting it.
func registerResin(v ResinVariant, c resinCapabilities) {
	existing := resinRegistry[v]
	if c.buildScript != nil {
		existing.buildScript = c.buildScript
	}
	if c.applyOverlay != nil {
		existing.applyOverlay = c.applyOverlay
	}
	if c.deriveBreakthroughCriterion != nil {
		existing.deriveBreakthroughCriterion = c.deriveBreakthroughCriterion
	}
	resinRegistry[v] = existing
}

func capabilitiesFor(v ResinVariant) (resinCapabilities, error) {
	c, ok := resinRegistry[v]
	if !ok {
		return resinCapabilities{}, newErr(KindInconsistentResinVessel, "", "no capability record registered for resin variant %s", v.String())
	}
	return c, nil
}

// DefaultResinSpec returns the built-in selectivity-database entry for
// a resin variant. Production deployments may override individual
// fields (capacity, pKa, selectivity) from a site-specific database;
// this is the fallback used when the caller supplies only resin_type.
func DefaultResinSpec(v ResinVariant) (ResinSpec, error) {
	switch v {
	case SAC:
		return ResinSpec{
			Variant:          SAC,
			TotalCapacityEqL: 2.0,
			MobileFraction:   1.0,
			Selectivity: SelectivityLogK{
				CaNa: 0.7,
				MgNa: 0.52,
				KNa:  0.2,
				HNa:  -0.5,
			},
		}, nil
	case WACNa:
		return ResinSpec{
			Variant:          WACNa,
			TotalCapacityEqL: 3.5,
			MobileFraction:   0.9,
			PKa:              4.8,
			Selectivity: SelectivityLogK{
				CaNa: 1.8,
				MgNa: 1.5,
				KNa:  0.4,
				HNa:  2.3,
			},
		}, nil
	case WACH:
		return ResinSpec{
			Variant:          WACH,
			TotalCapacityEqL: 3.5,
			MobileFraction:   0.9,
			PKa:              4.8,
			Selectivity: SelectivityLogK{
				CaNa: 1.8,
				MgNa: 1.5,
				KNa:  0.4,
				HNa:  2.3,
			},
		}, nil
	default:
		return ResinSpec{}, newErr(KindInconsistentResinVessel, "", "unrecognized resin variant %d", int(v))
	}
}
