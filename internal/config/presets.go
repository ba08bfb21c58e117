package config

import (
	"sort"

	"github.com/san-kum/solvmd/internal/physics"
)

// Presets modify the default configuration. GetPreset builds a fresh Config
// each call so callers may change it freely.
var Presets = map[string]func(*Config){
	"solute-lj": func(c *Config) {},
	"solute-wca": func(c *Config) {
		c.Name = "solute-wca"
		c.Pair.Coeffs[1] = PairCoeff{I: 1, J: 2, Epsilon: 1, Sigma: 1, Cutoff: physics.WCACutoff, Style: "wca"}
	},
	"pure-solvent": func(c *Config) {
		c.Name = "pure-solvent"
		c.Species = c.Species[1:]
		c.Species[0].Type = 1
		c.Pair.Coeffs = []PairCoeff{{I: 1, J: 1, Epsilon: 1, Sigma: 1, Cutoff: DefaultCutoff, Style: "lj"}}
		c.Frozen = nil
	},
	"quick": func(c *Config) {
		c.Name = "quick"
		c.Minimize.MaxIter = 200
		c.Phases = PhasesConfig{Equilibrate: 2000, Produce: 2000}
		c.Output.DumpEvery = 500
		c.Output.ThermoEvery = 500
	},
	"e2e-full": func(c *Config) {
		c.Name = "e2e-full"
		c.Phases = PhasesConfig{Equilibrate: 25_000_000, Produce: 0}
		c.Output.DumpEvery = 100_000
		c.Output.DumpPhases = []string{"equilibrating"}
		c.Output.ThermoEvery = 100_000
		c.Output.Trajectory = "traj.lammpstrj.zst"
	},
}

func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
