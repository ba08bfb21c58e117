package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/solvmd/internal/dynamo"
	"github.com/san-kum/solvmd/internal/physics"
)

const (
	DefaultSeed        = 1234
	DefaultBoxLength   = 6.29
	DefaultDt          = 0.002
	DefaultTemperature = 1.0
	DefaultSolvent     = 125
	DefaultCutoff      = 2.5
	DefaultSkin        = 0.3
	DefaultDamp        = 1.0
	DefaultEtol        = 1e-4
	DefaultFtol        = 1e-6
	DefaultMaxIter     = 1000
	DefaultDmax        = 0.1
	DefaultEquilibrate = 20000
	DefaultProduce     = 50000
	DefaultDumpEvery   = 1000
	DefaultEnergyEvery = 100
	DefaultThermoEvery = 1000
	DefaultIORetries   = 3
	DefaultIOBackoff   = 50 * time.Millisecond
)

type Config struct {
	Name        string           `yaml:"name"`
	Seed        uint64           `yaml:"seed"`
	BoxLength   float64          `yaml:"box_length"`
	Dt          float64          `yaml:"dt"`
	Temperature float64          `yaml:"temperature"`
	Backend     string           `yaml:"backend"`
	Workers     int              `yaml:"workers"`
	Species     []SpeciesConfig  `yaml:"species"`
	Pair        PairConfig       `yaml:"pair"`
	Neighbor    NeighborConfig   `yaml:"neighbor"`
	Frozen      []string         `yaml:"frozen"`
	Thermostat  ThermostatConfig `yaml:"thermostat"`
	Velocity    VelocityConfig   `yaml:"velocity"`
	Minimize    MinimizeConfig   `yaml:"minimize"`
	Phases      PhasesConfig     `yaml:"phases"`
	Output      OutputConfig     `yaml:"output"`
}

type SpeciesConfig struct {
	Name  string       `yaml:"name"`
	Type  int          `yaml:"type"`
	Mass  float64      `yaml:"mass"`
	Count int          `yaml:"count"`
	Sites [][3]float64 `yaml:"sites,omitempty"`
}

type PairCoeff struct {
	I       int     `yaml:"i"`
	J       int     `yaml:"j"`
	Epsilon float64 `yaml:"epsilon"`
	Sigma   float64 `yaml:"sigma"`
	Cutoff  float64 `yaml:"cutoff"`
	Style   string  `yaml:"style"`
}

type PairConfig struct {
	Coeffs       []PairCoeff `yaml:"coeffs"`
	MixGeometric bool        `yaml:"mix_geometric"`
	MinDistance  float64     `yaml:"min_distance"`
}

type NeighborConfig struct {
	Skin  float64 `yaml:"skin"`
	Every int64   `yaml:"every"`
	Delay int64   `yaml:"delay"`
	Check bool    `yaml:"check"`
}

// ThermostatConfig drives a Langevin bath. A zero t_start falls back to the
// run temperature and a zero t_stop to t_start.
type ThermostatConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Group     string   `yaml:"group"`
	TStart    float64  `yaml:"t_start"`
	TStop     float64  `yaml:"t_stop"`
	Damp      float64  `yaml:"damp"`
	ZeroDrift bool     `yaml:"zero_drift"`
	Phases    []string `yaml:"phases"`
}

// VelocityConfig seeds velocities when equilibration starts. A zero
// temperature falls back to the run temperature.
type VelocityConfig struct {
	Group       string  `yaml:"group"`
	Temperature float64 `yaml:"temperature"`
}

type MinimizeConfig struct {
	Etol    float64 `yaml:"etol"`
	Ftol    float64 `yaml:"ftol"`
	MaxIter int64   `yaml:"max_iter"`
	Dmax    float64 `yaml:"dmax"`
}

type PhasesConfig struct {
	Equilibrate int64 `yaml:"equilibrate"`
	Produce     int64 `yaml:"produce"`
}

type OutputConfig struct {
	Trajectory   string        `yaml:"trajectory"`
	DumpEvery    int64         `yaml:"dump_every"`
	DumpPhases   []string      `yaml:"dump_phases"`
	Energy       string        `yaml:"energy"`
	EnergyEvery  int64         `yaml:"energy_every"`
	EnergyPhases []string      `yaml:"energy_phases"`
	ThermoEvery  int64         `yaml:"thermo_every"`
	IORetries    int           `yaml:"io_retries"`
	IOBackoff    time.Duration `yaml:"io_backoff"`
	BestEffort   bool          `yaml:"best_effort"`
}

func DefaultConfig() *Config {
	return &Config{
		Name:        "solute-lj",
		Seed:        DefaultSeed,
		BoxLength:   DefaultBoxLength,
		Dt:          DefaultDt,
		Temperature: DefaultTemperature,
		Species: []SpeciesConfig{
			{Name: "solute", Type: 1, Mass: 1, Count: 1, Sites: [][3]float64{{0, 0, 0}}},
			{Name: "solvent", Type: 2, Mass: 1, Count: DefaultSolvent},
		},
		Pair: PairConfig{
			Coeffs: []PairCoeff{
				{I: 1, J: 1, Style: "null"},
				{I: 1, J: 2, Epsilon: 1, Sigma: 1, Cutoff: DefaultCutoff, Style: "lj"},
				{I: 2, J: 2, Epsilon: 1, Sigma: 1, Cutoff: DefaultCutoff, Style: "lj"},
			},
		},
		Neighbor: NeighborConfig{Skin: DefaultSkin, Every: 1, Check: true},
		Frozen:   []string{"solute"},
		Thermostat: ThermostatConfig{
			Enabled:   true,
			Group:     "solvent",
			Damp:      DefaultDamp,
			ZeroDrift: true,
			Phases:    []string{"equilibrating", "producing"},
		},
		Velocity: VelocityConfig{Group: "solvent"},
		Minimize: MinimizeConfig{
			Etol:    DefaultEtol,
			Ftol:    DefaultFtol,
			MaxIter: DefaultMaxIter,
			Dmax:    DefaultDmax,
		},
		Phases: PhasesConfig{Equilibrate: DefaultEquilibrate, Produce: DefaultProduce},
		Output: OutputConfig{
			Trajectory:   "traj.lammpstrj",
			DumpEvery:    DefaultDumpEvery,
			DumpPhases:   []string{"producing"},
			Energy:       "energy.dat",
			EnergyEvery:  DefaultEnergyEvery,
			EnergyPhases: []string{"equilibrating", "producing"},
			ThermoEvery:  DefaultThermoEvery,
			IORetries:    DefaultIORetries,
			IOBackoff:    DefaultIOBackoff,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Lists in
// the document replace the default lists rather than extending them.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy through a YAML round trip.
func (c *Config) Clone() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

// VelocityGroup names the particles that move: they receive initial
// velocities and, without a thermostat, define the reported temperature.
func (c *Config) VelocityGroup() string {
	if c.Velocity.Group == "" {
		return "all"
	}
	return c.Velocity.Group
}

// VelocityTemperature is the temperature velocities are drawn at.
func (c *Config) VelocityTemperature() float64 {
	if c.Velocity.Temperature > 0 {
		return c.Velocity.Temperature
	}
	return c.Temperature
}

// ThermostatRange is the bath temperature at the start and end of a phase.
func (c *Config) ThermostatRange() (tstart, tstop float64) {
	tstart, tstop = c.Thermostat.TStart, c.Thermostat.TStop
	if tstart == 0 {
		tstart = c.Temperature
	}
	if tstop == 0 {
		tstop = tstart
	}
	return tstart, tstop
}

// NumTypes is the largest particle type in use.
func (c *Config) NumTypes() int {
	n := 0
	for _, sp := range c.Species {
		n = max(n, sp.Type)
	}
	return n
}

// PairTable builds the interaction table, mixing missing cross terms only
// when asked to.
func (c *Config) PairTable() (*physics.PairTable, error) {
	table := physics.NewPairTable(c.NumTypes())
	for _, pc := range c.Pair.Coeffs {
		style, err := physics.ParseStyle(pc.Style)
		if err != nil {
			return nil, &dynamo.ConfigError{Field: fmt.Sprintf("pair.coeffs[%d %d].style", pc.I, pc.J), Reason: err.Error()}
		}
		if err := table.Set(pc.I, pc.J, pc.Epsilon, pc.Sigma, pc.Cutoff, style); err != nil {
			return nil, err
		}
	}
	if c.Pair.MixGeometric {
		table.MixGeometric()
	}
	var types []int
	seen := map[int]bool{}
	for _, sp := range c.Species {
		if !seen[sp.Type] {
			seen[sp.Type] = true
			types = append(types, sp.Type)
		}
	}
	if err := table.Validate(types); err != nil {
		return nil, err
	}
	return table, nil
}

func positive(field string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("must be positive, got %g", v)}
	}
	return nil
}

func nonNegative(field string, v int64) error {
	if v < 0 {
		return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("must be non-negative, got %d", v)}
	}
	return nil
}

// Validate checks everything that can be checked without building the
// system. All errors are *dynamo.ConfigError.
func (c *Config) Validate() error {
	checks := []error{
		positive("box_length", c.BoxLength),
		positive("dt", c.Dt),
		positive("neighbor.skin", c.Neighbor.Skin),
		positive("minimize.dmax", c.Minimize.Dmax),
		nonNegative("phases.equilibrate", c.Phases.Equilibrate),
		nonNegative("phases.produce", c.Phases.Produce),
		nonNegative("minimize.max_iter", c.Minimize.MaxIter),
		nonNegative("neighbor.delay", c.Neighbor.Delay),
		nonNegative("output.dump_every", c.Output.DumpEvery),
		nonNegative("output.thermo_every", c.Output.ThermoEvery),
		nonNegative("output.io_retries", int64(c.Output.IORetries)),
		nonNegative("workers", int64(c.Workers)),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.Temperature < 0 || math.IsNaN(c.Temperature) {
		return &dynamo.ConfigError{Field: "temperature", Reason: fmt.Sprintf("must be non-negative, got %g", c.Temperature)}
	}
	if c.Neighbor.Every <= 0 {
		return &dynamo.ConfigError{Field: "neighbor.every", Reason: "must be positive"}
	}
	if c.Minimize.Etol < 0 || c.Minimize.Ftol < 0 {
		return &dynamo.ConfigError{Field: "minimize", Reason: "tolerances must be non-negative"}
	}
	if c.Pair.MinDistance < 0 {
		return &dynamo.ConfigError{Field: "pair.min_distance", Reason: "must be non-negative"}
	}
	if c.Output.Energy != "" && c.Output.EnergyEvery <= 0 {
		return &dynamo.ConfigError{Field: "output.energy_every", Reason: "must be positive when output.energy is set"}
	}

	if len(c.Species) == 0 {
		return &dynamo.ConfigError{Field: "species", Reason: "at least one species is required"}
	}
	groups := map[string]bool{"all": true}
	for k, sp := range c.Species {
		field := fmt.Sprintf("species[%d]", k)
		if sp.Name == "" {
			return &dynamo.ConfigError{Field: field + ".name", Reason: "required"}
		}
		if groups[sp.Name] {
			return &dynamo.ConfigError{Field: field + ".name", Reason: fmt.Sprintf("duplicate group %q", sp.Name)}
		}
		groups[sp.Name] = true
		if sp.Type < 1 {
			return &dynamo.ConfigError{Field: field + ".type", Reason: "types start at 1"}
		}
		if err := positive(field+".mass", sp.Mass); err != nil {
			return err
		}
		if sp.Count < 0 {
			return &dynamo.ConfigError{Field: field + ".count", Reason: "must be non-negative"}
		}
		if len(sp.Sites) > 0 && len(sp.Sites) != sp.Count {
			return &dynamo.ConfigError{Field: field + ".sites", Reason: fmt.Sprintf("%d sites for %d particles", len(sp.Sites), sp.Count)}
		}
	}

	for _, name := range c.Frozen {
		if !groups[name] {
			return &dynamo.ConfigError{Field: "frozen", Reason: fmt.Sprintf("unknown group %q", name)}
		}
	}
	if c.Thermostat.Enabled {
		th := c.Thermostat
		if !groups[th.Group] {
			return &dynamo.ConfigError{Field: "thermostat.group", Reason: fmt.Sprintf("unknown group %q", th.Group)}
		}
		if err := positive("thermostat.damp", th.Damp); err != nil {
			return err
		}
		if th.TStart < 0 || th.TStop < 0 {
			return &dynamo.ConfigError{Field: "thermostat", Reason: "temperatures must be non-negative"}
		}
		if err := checkPhases("thermostat.phases", th.Phases); err != nil {
			return err
		}
	}
	if c.Velocity.Group != "" && !groups[c.Velocity.Group] {
		return &dynamo.ConfigError{Field: "velocity.group", Reason: fmt.Sprintf("unknown group %q", c.Velocity.Group)}
	}
	if err := checkPhases("output.dump_phases", c.Output.DumpPhases); err != nil {
		return err
	}
	if err := checkPhases("output.energy_phases", c.Output.EnergyPhases); err != nil {
		return err
	}

	table, err := c.PairTable()
	if err != nil {
		return err
	}
	if reach := table.MaxCutoff() + c.Neighbor.Skin; reach > c.BoxLength/2 {
		return &dynamo.ConfigError{
			Field:  "neighbor.skin",
			Reason: fmt.Sprintf("cutoff+skin %.4g exceeds half the box length %.4g", reach, c.BoxLength/2),
		}
	}
	return nil
}

func checkPhases(field string, names []string) error {
	for _, n := range names {
		p, err := dynamo.ParsePhase(n)
		if err != nil || !p.Dynamic() {
			return &dynamo.ConfigError{Field: field, Reason: fmt.Sprintf("not a dynamics phase: %q", n)}
		}
	}
	return nil
}
