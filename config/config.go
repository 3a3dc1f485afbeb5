// Package config handles strand.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/strand/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "strand.toml"

// Config represents a strand.toml file.
type Config struct {
	Stack Stack `toml:"stack"`
	Log   Log   `toml:"log"`
	Crash Crash `toml:"crash"`

	// Dir is the directory containing the strand.toml file (set at load time).
	Dir string `toml:"-"`
}

// Stack sizes the value and frame stacks of every context.
type Stack struct {
	InitialValues int     `toml:"initial-values"`
	InitialFrames int     `toml:"initial-frames"`
	Growth        float64 `toml:"growth"`
	MaxDepth      int     `toml:"max-depth"`
	MaxValues     int     `toml:"max-values"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"` // empty means stderr
}

// Crash configures uncaught-exception reports.
type Crash struct {
	Report string `toml:"report"` // CBOR report path, relative to Dir
}

// Default returns the configuration used when no strand.toml exists.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

// Load parses a strand.toml file from the given directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path. Relative paths inside
// it resolve against the file's directory.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes configuration text and fills defaults. Dir is left empty.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.fillDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a strand.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	s := c.Stack
	switch {
	case s.InitialValues < 0, s.InitialFrames < 0, s.MaxDepth < 0, s.MaxValues < 0:
		return fmt.Errorf("stack sizes must not be negative")
	case s.Growth != 0 && s.Growth <= 1:
		return fmt.Errorf("stack growth must be greater than 1, got %g", s.Growth)
	case s.MaxValues > 0 && s.InitialValues > s.MaxValues:
		return fmt.Errorf("initial-values %d exceeds max-values %d", s.InitialValues, s.MaxValues)
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.Stack.InitialValues == 0 {
		c.Stack.InitialValues = vm.DefaultInitialValues
	}
	if c.Stack.InitialFrames == 0 {
		c.Stack.InitialFrames = vm.DefaultInitialFrames
	}
	if c.Stack.Growth == 0 {
		c.Stack.Growth = vm.DefaultGrowth
	}
	if c.Stack.MaxDepth == 0 {
		c.Stack.MaxDepth = vm.DefaultMaxDepth
	}
	if c.Stack.MaxValues == 0 {
		c.Stack.MaxValues = vm.DefaultMaxValues
	}
}

// VMOptions returns interpreter options for the configured stack sizes.
func (c *Config) VMOptions() vm.Options {
	return vm.Options{
		InitialValues: c.Stack.InitialValues,
		InitialFrames: c.Stack.InitialFrames,
		Growth:        c.Stack.Growth,
		MaxDepth:      c.Stack.MaxDepth,
		MaxValues:     c.Stack.MaxValues,
	}
}

// CrashReportPath returns the absolute crash report path, or "" when
// reports are disabled.
func (c *Config) CrashReportPath() string {
	return c.resolve(c.Crash.Report)
}

// LogPath returns the absolute log file path, or "" for stderr.
func (c *Config) LogPath() string {
	return c.resolve(c.Log.Path)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
