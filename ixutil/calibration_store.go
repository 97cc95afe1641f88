package ixutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	ixsim "github.com/puran-water/ix-design-sim"
)

// FileCalibrationStore implements ixsim.CalibrationStore by reading one
// TOML file per {site_id, resin_type} pair from a directory tree rooted
// at Root (spec.md §6.3): Root/<site_id>/<resin>.toml. A zero-value
// Root (no IX_DESIGN_MCP_ROOT configured) always reports a miss, which
// the Controller treats as non-fatal CalibrationMissing.
type FileCalibrationStore struct {
	Root string
}

// NewFileCalibrationStore constructs a store rooted at root. An empty
// root is valid and simply yields misses for every key.
func NewFileCalibrationStore(root string) *FileCalibrationStore {
	return &FileCalibrationStore{Root: root}
}

type calibrationFile struct {
	FloorA0              float64 `toml:"floor_a0"`
	TDSSlopeA1           float64 `toml:"tds_slope_a1"`
	RegenCoeffA2         float64 `toml:"regen_coeff_a2"`
	Exponent             float64 `toml:"exponent"`
	LDFCoeff             float64 `toml:"ldf_coeff"`
	ActivationEnergyJMol float64 `toml:"activation_energy_j_mol"`
	ChannelingFactor     float64 `toml:"channeling_factor"`
	AgingPerCycle        float64 `toml:"aging_per_cycle"`
	CyclesOperated       int     `toml:"cycles_operated"`
	PKaShift             float64 `toml:"pka_shift"`
	KineticTrapFactor    float64 `toml:"kinetic_trap_factor"`
	NaSlipBaseFraction   float64 `toml:"na_slip_base_fraction"`
	KSlipBaseFraction    float64 `toml:"k_slip_base_fraction"`
}

// Load implements ixsim.CalibrationStore.
func (s *FileCalibrationStore) Load(key ixsim.CalibrationKey) (ixsim.CalibrationParameters, bool, error) {
	if s.Root == "" || key.SiteID == "" {
		return ixsim.CalibrationParameters{}, false, nil
	}
	path := filepath.Join(s.Root, key.SiteID, key.Resin.String()+".toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ixsim.CalibrationParameters{}, false, nil
	}
	if err != nil {
		return ixsim.CalibrationParameters{}, false, fmt.Errorf("reading calibration file %s: %w", path, err)
	}

	var f calibrationFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return ixsim.CalibrationParameters{}, false, fmt.Errorf("parsing calibration file %s: %w", path, err)
	}

	return ixsim.CalibrationParameters{
		FloorA0:              f.FloorA0,
		TDSSlopeA1:           f.TDSSlopeA1,
		RegenCoeffA2:         f.RegenCoeffA2,
		Exponent:             f.Exponent,
		LDFCoeff:             f.LDFCoeff,
		ActivationEnergyJMol: f.ActivationEnergyJMol,
		ChannelingFactor:     f.ChannelingFactor,
		AgingPerCycle:        f.AgingPerCycle,
		CyclesOperated:       f.CyclesOperated,
		PKaShift:             f.PKaShift,
		KineticTrapFactor:    f.KineticTrapFactor,
		NaSlipBaseFraction:   f.NaSlipBaseFraction,
		KSlipBaseFraction:    f.KSlipBaseFraction,
	}, true, nil
}
