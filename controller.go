package ixsim

import (
	"container/list"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/puran-water/ix-design-sim/internal/cachekey"
)

const schemaVersion = "1.0.0"

// CalibrationStore is the read-on-demand interface to the (out-of-scope)
// persisted calibration file store keyed by {site_id, resin_type}
// (spec.md §6.3). The core never writes to it.
type CalibrationStore interface {
	Load(key CalibrationKey) (CalibrationParameters, bool, error)
}

// cacheKeyInput is the canonical, map-free encoding of one
// simulate_cycle call's inputs. cachekey.Of falls back to gob
// encoding, whose map iteration order is not guaranteed stable across
// calls in the same process; ions are carried as a slice in the
// NormalizedWater's fixed sort order instead, so identical logical
// inputs always hash identically.
type cacheKeyInput struct {
	Ions    []ionAmount
	Water   NormalizedWater
	Vessel  Vessel
	Resin   ResinSpec
	Regen   RegenerationPlan
	Targets Targets
	Calib   CalibrationKey
}

type ionAmount struct {
	Name string
	MgL  float64
}

// Controller sequences WaterModel through EmpiricalOverlay and exposes
// the single simulate_cycle operation (spec.md §4.7). Each Controller
// owns its own bounded LRU cache — never a process-global one (spec.md
// §9, "Global caches") — so two Controllers never share cached results
// and a Controller is safe to use concurrently with no shared mutable
// state beyond that cache's own lock.
type Controller struct {
	Runner      *Runner
	Calibration CalibrationStore
	Log         *logrus.Logger

	cacheMu  sync.Mutex
	cacheCap int
	cacheMap map[string]*list.Element
	cacheLRU *list.List
}

type cacheEntry struct {
	key    string
	result Result
}

// NewController constructs a Controller with a bounded result cache of
// the given capacity (0 disables caching).
func NewController(runner *Runner, calib CalibrationStore, log *logrus.Logger, cacheCapacity int) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		Runner:      runner,
		Calibration: calib,
		Log:         log,
		cacheCap:    cacheCapacity,
		cacheMap:    make(map[string]*list.Element),
		cacheLRU:    list.New(),
	}
}

// SimulateCycle implements the Controller's single exposed operation
// (spec.md §4.7): normalize, plan, build, run, parse, overlay, derive
// result. If regen.Mode == ModeStagedOptimize, steps 3-5 are wrapped
// in a bracketed regenerant-dose search (spec.md §4.3.5, §4.7).
func (c *Controller) SimulateCycle(ctx context.Context, feed FeedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, targets Targets, calibKey CalibrationKey) (Result, error) {
	n, waterWarnings, err := Normalize(feed)
	if err != nil {
		return Result{}, err
	}

	var key string
	if c.cacheCap > 0 {
		key = cachekey.Of(schemaVersion, buildCacheKeyInput(n, vessel, resin, regen, targets, calibKey))
		if cached, ok := c.cacheGet(key); ok {
			return cached, nil
		}
	}

	plan, planWarnings, err := Plan(vessel, resin, n, regen)
	if err != nil {
		return Result{}, err
	}

	caps, err := capabilitiesFor(resin.Variant)
	if err != nil {
		return Result{}, err
	}

	calib, calibWarnings := c.loadCalibration(calibKey, resin.Variant)

	warnings := append(append([]string{}, waterWarnings...), planWarnings...)
	warnings = append(warnings, calibWarnings...)

	var result Result
	if regen.Mode == ModeStagedOptimize {
		result, err = c.runStagedOptimize(ctx, n, vessel, resin, regen, targets, plan, caps, calib)
	} else {
		result, err = c.runOnce(ctx, n, vessel, resin, regen, targets, plan, caps, calib)
	}
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) {
			switch typed.Kind {
			case KindNotConverged, KindNumericalFailure:
				result.Status = StatusWarning
				result.Warnings = append(warnings, "phreeqc convergence failure: "+typed.Error())
				return result, nil
			case KindTimeout:
				return Result{
					Status:        StatusTimeout,
					SchemaVersion: schemaVersion,
					Warnings:      append(warnings, "phreeqc run timed out: "+typed.Error()),
				}, nil
			}
		}
		return Result{}, err
	}

	result.Warnings = append(warnings, result.Warnings...)
	result.SchemaVersion = schemaVersion
	if result.Status == "" {
		result.Status = StatusSuccess
	}

	if c.cacheCap > 0 {
		c.cachePut(key, result)
	}
	return result, nil
}

func buildCacheKeyInput(n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, targets Targets, calibKey CalibrationKey) cacheKeyInput {
	ions := make([]ionAmount, 0, len(n.IonOrder))
	for _, name := range n.IonOrder {
		ions = append(ions, ionAmount{Name: name, MgL: n.Ions[name]})
	}
	sanitized := n
	sanitized.Ions = nil
	sanitized.IonOrder = nil
	return cacheKeyInput{Ions: ions, Water: sanitized, Vessel: vessel, Resin: resin, Regen: regen, Targets: targets, Calib: calibKey}
}

func (c *Controller) loadCalibration(key CalibrationKey, variant ResinVariant) (CalibrationParameters, []string) {
	if c.Calibration != nil {
		if params, ok, err := c.Calibration.Load(key); err == nil && ok {
			return params, nil
		}
	}
	return defaultCalibration(variant), []string{"calibration record not found; falling back to default parameters for " + variant.String()}
}

func (c *Controller) runOnce(ctx context.Context, n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, targets Targets, plan CellPlan, caps resinCapabilities, calib CalibrationParameters) (Result, error) {
	script, err := caps.buildScript(n, vessel, resin, regen, plan)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	artifacts, err := c.Runner.Run(ctx, script, selectedDatabase(n, resin))
	solveTime := time.Since(start).Seconds()
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) && typed.Kind == KindNotConverged && len(artifacts.SelectedOutput) > 0 {
			curve, parseWarnings, parseErr := c.parseAndOverlay(n, resin, regen, targets, calib, artifacts, script, caps)
			if parseErr == nil {
				res := c.deriveResult(n, vessel, resin, regen, targets, plan, artifacts, curve, solveTime)
				res.Status = StatusWarning
				res.Warnings = append(parseWarnings, "partial curve returned after convergence failure")
				return res, nil
			}
		}
		return Result{}, err
	}

	curve, curveWarnings, err := c.parseAndOverlay(n, resin, regen, targets, calib, artifacts, script, caps)
	if err != nil {
		return Result{}, err
	}

	result := c.deriveResult(n, vessel, resin, regen, targets, plan, artifacts, curve, solveTime)
	result.Warnings = curveWarnings
	return result, nil
}

func (c *Controller) parseAndOverlay(n NormalizedWater, resin ResinSpec, regen RegenerationPlan, targets Targets, calib CalibrationParameters, artifacts RunArtifacts, script Script, caps resinCapabilities) (BreakthroughCurve, []string, error) {
	column, limit := caps.deriveBreakthroughCriterion(targets)
	curve, parseWarnings, err := Parse(artifacts, column, limit, script.Phases)
	if err != nil {
		return BreakthroughCurve{}, nil, err
	}
	overlaid, overlayWarnings := caps.applyOverlay(curve, n, resin, regen, calib)
	return overlaid, append(parseWarnings, overlayWarnings...), nil
}

// runStagedOptimize implements the bracketed regenerant-dose search of
// spec.md §4.3.5/§4.7: evaluates at most 8 candidate doses between
// half and twice the heuristic dose, scored by final resin recovery,
// each in its own independent Runner invocation.
func (c *Controller) runStagedOptimize(ctx context.Context, n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, targets Targets, plan CellPlan, caps resinCapabilities, calib CalibrationParameters) (Result, error) {
	const maxEvaluations = 8
	baseDose := regen.DoseGPerL
	if baseDose <= 0 {
		baseDose = 100
	}

	var best Result
	var bestRecovery float64 = -1
	var trace []float64

	for i := 0; i < maxEvaluations; i++ {
		frac := 0.5 + float64(i)*(1.5/float64(maxEvaluations-1))
		candidate := regen
		candidate.DoseGPerL = baseDose * frac
		candidate.Mode = ModeSingle

		res, err := c.runOnce(ctx, n, vessel, resin, candidate, targets, plan, caps, calib)
		if err != nil {
			continue
		}
		recovery := res.RegenerationResults.FinalResinRecovery
		trace = append(trace, recovery)
		if recovery > bestRecovery {
			bestRecovery = recovery
			best = res
		}
		if recovery >= regen.TargetRecovery {
			break
		}
	}

	if bestRecovery < 0 {
		return Result{}, newErr(KindNonZeroExit, "", "all staged-optimize evaluations failed")
	}
	best.Artifacts = append(best.Artifacts, dosSearchTraceNote(trace))
	return best, nil
}

func dosSearchTraceNote(trace []float64) string {
	note := "dose-search recovery trace:"
	for _, r := range trace {
		note += " " + formatPercent(r)
	}
	return note
}

func formatPercent(v float64) string {
	return itoa(int(v*100)) + "%"
}

func (c *Controller) deriveResult(n NormalizedWater, vessel Vessel, resin ResinSpec, regen RegenerationPlan, targets Targets, plan CellPlan, artifacts RunArtifacts, curve BreakthroughCurve, solveTimeSeconds float64) Result {
	decimated := Decimate(curve)

	avgHardness := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.HardnessMgLCaCO3 })
	avgCa := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.CaMgL })
	avgMg := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.MgMgL })
	avgAlk := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.AlkMgLCaCO3 })
	avgPH := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.PH })
	avgCO2 := ServicePhaseMean(curve, func(s CurveSample) float64 { return s.CO2MgL })
	phMin, phMax := ServicePhaseMinMax(curve, func(s CurveSample) float64 { return s.PH })

	btIdx := curve.BreakthroughIndex
	var btCa, btMg, btHardness, btAlk, btPH float64
	if btIdx >= 0 && btIdx < len(curve.Samples) {
		bt := curve.Samples[btIdx]
		btCa, btMg, btHardness, btAlk, btPH = bt.CaMgL, bt.MgMgL, bt.HardnessMgLCaCO3, bt.AlkMgLCaCO3, bt.PH
	}

	bedVolumeM3 := plan.BedVolumeL / 1000.0
	regenerantKgCycle := regen.DoseGPerL * plan.BedVolumeL / 1000.0
	backwashM3 := float64(plan.ShiftsPerPhase["backwash"]) * bedVolumeM3 * bedVoidFraction
	rinseM3 := float64(plan.ShiftsPerPhase["slow-rinse"]+plan.ShiftsPerPhase["fast-rinse"]) * bedVolumeM3 * bedVoidFraction
	regenVolumeM3 := regenerantTotalBV(regen) * bedVolumeM3
	hardnessRemovedKg := (n.HardnessMgLCaCO3 - avgHardness) / 1000.0 * (curve.BreakthroughBV * bedVolumeM3 * 1000.0) / 1000.0

	peakWasteHardness, peakWasteTDS, wasteHardnessKg := wasteStreamAggregates(curve, plan)
	closurePercent := massBalanceClosurePercent(hardnessRemovedKg, wasteHardnessKg)

	recovery := 0.0
	if regen.DoseGPerL > 0 && hardnessRemovedKg > 0 {
		recovery = wasteHardnessKg / hardnessRemovedKg
		if recovery > 1 {
			recovery = 1
		}
	}

	ionTracking := map[string]IonTrackingEntry{}
	for _, ion := range n.IonOrder {
		feedVal := n.Ions[ion]
		var effluent float64
		switch ion {
		case "Ca":
			effluent = avgCa
		case "Mg":
			effluent = avgMg
		default:
			effluent = feedVal // only Ca and Mg effluent values are taken from the curve
		}
		removal := 0.0
		if feedVal > 0 {
			removal = (feedVal - effluent) / feedVal * 100
		}
		ionTracking[ion] = IonTrackingEntry{
			FeedMgL:        feedVal,
			EffluentMgL:    effluent,
			WasteMgL:       feedVal - effluent,
			RemovalPercent: removal,
		}
	}

	termination := "converged"
	if !curve.BreakthroughReached {
		termination = "window exhausted before breakthrough"
	}

	return Result{
		Status: StatusSuccess,
		Performance: Performance{
			ServiceBVToTarget:          curve.BreakthroughBV,
			ServiceHours:               curve.BreakthroughBV * plan.BedVolumeL / 1000.0 / n.FlowM3H,
			EffluentHardnessMgLCaCO3:   btHardness,
			EffluentAlkalinityMgLCaCO3: btAlk,
			EffluentPH:                 btPH,
			CapacityUtilizationPercent: capacityUtilization(resin, curve, n, plan, hardnessRemovedKg),
			DeltaPBar:                  pressureDropBar(vessel, n),
			BreakthroughReached:        curve.BreakthroughReached,
		},
		PerformanceMetrics: PerformanceMetrics{
			BreakthroughCaMgL:       btCa,
			BreakthroughMgMgL:       btMg,
			BreakthroughHardnessMgL: btHardness,
			BreakthroughAlkMgL:      btAlk,
			AvgCaMgL:                avgCa,
			AvgMgMgL:                avgMg,
			AvgHardnessMgL:          avgHardness,
			AvgAlkMgL:               avgAlk,
			PHMin:                   phMin,
			PHAvg:                   avgPH,
			PHMax:                   phMax,
			CO2GenerationMgL:        avgCO2,
		},
		IonTracking: ionTracking,
		MassBalance: MassBalance{
			RegenerantKgCycle:      regenerantKgCycle,
			BackwashM3Cycle:        backwashM3,
			RinseM3Cycle:           rinseM3,
			WasteM3Cycle:           backwashM3 + rinseM3,
			HardnessRemovedKgCaCO3: hardnessRemovedKg,
			ClosurePercent:         closurePercent,
		},
		RegenerationResults: RegenerationResults{
			ActualRegenerantBV:    regenerantTotalBV(regen),
			RegenerantConsumedKg:  regenerantKgCycle,
			PeakWasteTDSMgL:       peakWasteTDS,
			PeakWasteHardnessMgL:  peakWasteHardness,
			WasteVolumeM3:         backwashM3 + regenVolumeM3 + rinseM3,
			FinalResinRecovery:    recovery,
			RegenerationTimeHours: float64(regen.Stages) * regenerantTotalBV(regen) / maxF(regen.FlowBVPerH, 1),
			ReadyForService:       recovery > 0,
		},
		BreakthroughData: decimated,
		SolveInfo: SolveInfo{
			Engine:               "phreeqc",
			TerminationCondition: termination,
			SolveTimeSeconds:     solveTimeSeconds,
			PhreeqcDatabase:      selectedDatabase(n, resin),
			Cells:                plan.NumCells,
			AutoRefinedCells:     plan.AutoRefined,
		},
	}
}

// capacityUtilization reports the fraction of installed exchange
// capacity actually consumed by breakthrough. WAC_H is reported against
// CapacityEffectiveEqL, the Overlay's authoritative capacity (PHREEQC's
// equilibrium surface does not reproduce the kinetic trap — see
// script_wach.go); SAC and WAC Na-form have no such correction and are
// reported directly against the bed's installed exchange capacity.
func capacityUtilization(resin ResinSpec, curve BreakthroughCurve, n NormalizedWater, plan CellPlan, hardnessRemovedKg float64) float64 {
	capacityEqL := resin.TotalCapacityEqL
	if resin.Variant == WACH {
		capacityEqL = curve.CapacityEffectiveEqL
	}
	totalCapacityEq := capacityEqL * plan.BedVolumeL
	if totalCapacityEq <= 0 {
		return 0
	}
	hardnessRemovedEq := hardnessRemovedKg * 1000.0 / caco3EquivalentWeight
	pct := hardnessRemovedEq / totalCapacityEq * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// isWastePhase reports whether a ScriptPhase name corresponds to liquid
// that leaves the vessel to waste (backwash, regenerant stages, rinse)
// rather than treated effluent.
func isWastePhase(phase string) bool {
	switch phase {
	case "backwash", "slow-rinse", "fast-rinse":
		return true
	}
	return strings.HasPrefix(phase, "regen-stage-")
}

// wasteStreamAggregates integrates the curve's waste-phase samples
// (backwash, regenerant stages, rinse) into the quantities spec.md §6.1
// lists under regeneration_results, and the hardness mass the mass
// balance closure check reconciles against the feed-side removal
// (hardnessRemovedKg in deriveResult).
func wasteStreamAggregates(curve BreakthroughCurve, plan CellPlan) (peakHardnessMgL, peakTDSMgL, hardnessKg float64) {
	litersPerShift := plan.PoreVolumeKgPerCell / waterDensityKgPerL
	for _, s := range curve.Samples {
		if !isWastePhase(s.Phase) {
			continue
		}
		if s.HardnessMgLCaCO3 > peakHardnessMgL {
			peakHardnessMgL = s.HardnessMgLCaCO3
		}
		tds := s.CaMgL + s.MgMgL + s.NaMgL
		if tds > peakTDSMgL {
			peakTDSMgL = tds
		}
		hardnessKg += s.HardnessMgLCaCO3 * litersPerShift / 1e6
	}
	return peakHardnessMgL, peakTDSMgL, hardnessKg
}

// massBalanceClosurePercent reconciles two independently derived
// quantities: Ca+Mg mass removed from the feed during service
// (hardnessRemovedKg, integrated from curve.BreakthroughBV) and Ca+Mg
// mass recovered in the waste stream during regeneration
// (wasteStreamAggregates' hardnessKg, integrated over the backwash/
// regen/rinse phase samples). spec.md §8 requires these to agree within
// 1%; returning the ratio of the smaller to the larger makes a real
// divergence visible instead of reporting a fixed "closed" constant.
func massBalanceClosurePercent(feedRemovedKg, wasteRecoveredKg float64) float64 {
	if feedRemovedKg <= 0 && wasteRecoveredKg <= 0 {
		return 100
	}
	lo, hi := feedRemovedKg, wasteRecoveredKg
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= 0 {
		return 0
	}
	return lo / hi * 100
}

// pressureDropBar estimates service-phase hydraulic head loss across
// the resin bed from superficial velocity and bed depth. No particle-
// size/Ergun-equation inputs are in scope (ResinSpec carries selectivity
// and capacity, not mesh size), so this uses a single empirical
// resistance coefficient typical of 16-50 mesh gel/macroporous IX resin
// at normal service flow rates.
const headLossBarPerMPerMH = 0.02

func pressureDropBar(vessel Vessel, n NormalizedWater) float64 {
	area := math.Pi / 4 * vessel.DiameterM * vessel.DiameterM * float64(vessel.NumberInService)
	if area <= 0 || n.FlowM3H <= 0 {
		return 0
	}
	velocityMPerH := n.FlowM3H / area
	return headLossBarPerMPerMH * velocityMPerH * vessel.BedDepthM
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (c *Controller) cacheGet(key string) (Result, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	el, ok := c.cacheMap[key]
	if !ok {
		return Result{}, false
	}
	c.cacheLRU.MoveToFront(el)
	return el.Value.(*cacheEntry).result, true
}

func (c *Controller) cachePut(key string, result Result) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if el, ok := c.cacheMap[key]; ok {
		el.Value.(*cacheEntry).result = result
		c.cacheLRU.MoveToFront(el)
		return
	}
	el := c.cacheLRU.PushFront(&cacheEntry{key: key, result: result})
	c.cacheMap[key] = el
	if c.cacheLRU.Len() > c.cacheCap {
		oldest := c.cacheLRU.Back()
		if oldest != nil {
			c.cacheLRU.Remove(oldest)
			delete(c.cacheMap, oldest.Value.(*cacheEntry).key)
		}
	}
}

// defaultCalibration returns the built-in default calibration record
// for a resin variant, used when the calibration store has no entry
// for the requested key (spec.md §6.3, "default calibration exists for
// each resin type"; §7 CalibrationMissing is non-fatal).
func defaultCalibration(variant ResinVariant) CalibrationParameters {
	switch variant {
	case WACNa:
		return CalibrationParameters{
			FloorA0: 0.5, TDSSlopeA1: 0.5, RegenCoeffA2: 8.0, Exponent: 1.5,
			LDFCoeff: 0.8, ActivationEnergyJMol: 35000, ChannelingFactor: 0.1,
			KineticTrapFactor: 0.85, NaSlipBaseFraction: 0.01, KSlipBaseFraction: 0.01,
		}
	case WACH:
		return CalibrationParameters{
			PKaShift: pKaEffectiveShiftDefault, KineticTrapFactor: 0.85,
			NaSlipBaseFraction: 0.03, KSlipBaseFraction: 0.02, ChannelingFactor: 0.5,
		}
	default: // SAC
		return CalibrationParameters{
			FloorA0: 1.0, TDSSlopeA1: 0.3, RegenCoeffA2: 5.0, Exponent: 1.2,
			LDFCoeff: 2.0, KineticTrapFactor: 1.0,
		}
	}
}
