// Package runconfig provides loading and validation of siterun run
// configurations.
//
// A run configuration describes one batch: which sites to simulate, how the
// simulation executable is obtained and invoked, where its NetCDF outputs
// land, and which output variables were switched on for each time
// resolution.
//
// Example run configuration (YAML):
//
//	implementation: fortran
//	model: pmodel
//	ensemble: true
//	sitenames: [FR-Pue, CH-Lae, US-Ha1]
//	setup: site
//	dir_simulation: ./sim
//	path_output_nc: ./sim/output_nc
//	loutdgpp: true
//	loutwaterbal: true
//	loutagpp: true
package runconfig

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RunConfiguration describes one batch of simulation runs.
//
// A RunConfiguration is created once per invocation by Load and must not be
// mutated afterwards.
type RunConfiguration struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `mapstructure:"$schema" json:"$schema,omitempty"`

	// Implementation is the simulation implementation kind. Only "fortran"
	// (a native executable) is supported.
	Implementation string `mapstructure:"implementation" json:"implementation,omitempty"`

	// Model identifies the executable; the binary is named "run<model>".
	Model string `mapstructure:"model" json:"model"`

	// Ensemble runs every site as an independent invocation. When false the
	// executable is invoked once with RunName.
	Ensemble bool `mapstructure:"ensemble" json:"ensemble,omitempty"`

	// SiteNames is the ordered, duplicate-free list of site identifiers.
	SiteNames []string `mapstructure:"sitenames" json:"sitenames"`

	// RunName is the single run identifier used when Ensemble is false.
	RunName string `mapstructure:"runname" json:"runname,omitempty"`

	// Setup selects the output mode: "lonlat" is gridded, anything else is
	// per-site. Default: "site".
	Setup string `mapstructure:"setup" json:"setup,omitempty"`

	// SimulationDir is the directory the executable runs in.
	SimulationDir string `mapstructure:"dir_simulation" json:"dir_simulation,omitempty"`

	// OutputPath is the root directory of the NetCDF output files.
	OutputPath string `mapstructure:"path_output_nc" json:"path_output_nc,omitempty"`

	// DoCompile builds the executable before dispatching.
	DoCompile bool `mapstructure:"do_compile" json:"do_compile,omitempty"`

	// PrebuiltDir is the packaged location a prebuilt executable is copied
	// from when the simulation directory does not have one.
	PrebuiltDir string `mapstructure:"prebuilt_dir" json:"prebuilt_dir,omitempty"`

	// Flags holds every lout* output switch by name.
	Flags map[string]bool `mapstructure:"-" json:"-"`

	// Extra collects keys not bound to a field; Load moves lout* switches
	// into Flags and rejects anything else.
	Extra map[string]any `mapstructure:",remain" json:"-"`
}

// Supported implementation kinds.
const (
	ImplementationFortran = "fortran"
)

// Setup values.
const (
	SetupSite   = "site"
	SetupLonLat = "lonlat"
)

// Default values for optional fields.
const (
	DefaultImplementation = ImplementationFortran
	DefaultSetup          = SetupSite
	DefaultOutputDir      = "output_nc"
)

// ApplyDefaults fills in default values for optional fields.
func (c *RunConfiguration) ApplyDefaults() {
	if c.Implementation == "" {
		c.Implementation = DefaultImplementation
	}
	if c.Setup == "" {
		c.Setup = DefaultSetup
	}
	if c.SimulationDir == "" {
		c.SimulationDir = "."
	}
	if c.OutputPath == "" {
		c.OutputPath = filepath.Join(c.SimulationDir, DefaultOutputDir)
	}
	if c.Flags == nil {
		c.Flags = map[string]bool{}
	}
}

// ResolvePaths makes relative directories absolute against baseDir.
func (c *RunConfiguration) ResolvePaths(baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	c.SimulationDir = resolve(c.SimulationDir)
	c.OutputPath = resolve(c.OutputPath)
	c.PrebuiltDir = resolve(c.PrebuiltDir)
}

// Validate checks semantic constraints the schema cannot express.
func (c *RunConfiguration) Validate() error {
	if c.Implementation != ImplementationFortran {
		return fmt.Errorf("%w: %q", ErrUnsupportedImplementation, c.Implementation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return &ConfigError{Field: "model", Message: "model identifier is required"}
	}
	if len(c.SiteNames) == 0 {
		return &ConfigError{Field: "sitenames", Message: "at least one site is required"}
	}
	seen := make(map[string]struct{}, len(c.SiteNames))
	for _, s := range c.SiteNames {
		if strings.TrimSpace(s) == "" {
			return &ConfigError{Field: "sitenames", Message: "site names must not be empty"}
		}
		if strings.ContainsAny(s, `/\`) {
			return &ConfigError{Field: "sitenames", Message: fmt.Sprintf("site name %q must not contain path separators", s)}
		}
		if _, dup := seen[s]; dup {
			return &ConfigError{Field: "sitenames", Message: fmt.Sprintf("duplicate site %q", s)}
		}
		seen[s] = struct{}{}
	}
	if !c.Ensemble && strings.TrimSpace(c.RunName) == "" {
		return &ConfigError{Field: "runname", Message: "runname is required when ensemble is false"}
	}
	if strings.ContainsAny(c.RunName, `/\`) {
		return &ConfigError{Field: "runname", Message: fmt.Sprintf("run name %q must not contain path separators", c.RunName)}
	}
	return nil
}

// IsGridded reports whether outputs are spatially extensive (annual only).
func (c *RunConfiguration) IsGridded() bool {
	return c.Setup == SetupLonLat
}

// ExecutableName returns the simulation binary name.
func (c *RunConfiguration) ExecutableName() string {
	return "run" + c.Model
}

// Resolutions returns the resolutions read back for this configuration.
func (c *RunConfiguration) Resolutions() []Resolution {
	if c.IsGridded() {
		return []Resolution{Annual}
	}
	return []Resolution{Daily}
}

// Flag reports whether an output switch is on.
func (c *RunConfiguration) Flag(name string) bool {
	return c.Flags[name]
}
