// Package config loads the daemon configuration from YAML or TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/crystal-mush/mudscript/pkg/scripting/typecheck"
	"gopkg.in/yaml.v3"
)

// Conf holds the daemon configuration.
// Supports YAML (.yaml/.yml) and TOML (.toml) files.
type Conf struct {
	// --- Storage ---
	ScriptDir      string `yaml:"script_dir" toml:"script_dir"`
	StorePath      string `yaml:"store_path" toml:"store_path"`
	ReportsPath    string `yaml:"reports_path" toml:"reports_path"`
	ReportsTimeout int    `yaml:"reports_timeout" toml:"reports_timeout"` // seconds
	ReportsKeep    int    `yaml:"reports_keep" toml:"reports_keep"`       // days
	ArchiveDir     string `yaml:"archive_dir" toml:"archive_dir"`
	ArchiveKeep    int    `yaml:"archive_keep" toml:"archive_keep"` // archives kept by -archive

	// --- Scripts ---
	CheckTypes bool `yaml:"check_types" toml:"check_types"`
	MaxSteps   int  `yaml:"max_steps" toml:"max_steps"`
	Watch      bool `yaml:"watch" toml:"watch"`

	// --- Scheduler ---
	Workers     int `yaml:"workers" toml:"workers"`
	MaxPerOwner int `yaml:"max_per_owner" toml:"max_per_owner"`
	MaxPerTick  int `yaml:"max_per_tick" toml:"max_per_tick"`
	SlowAfter   int `yaml:"slow_after" toml:"slow_after"` // seconds

	// --- Console ---
	ConsoleEnabled bool   `yaml:"console_enabled" toml:"console_enabled"`
	ConsoleAddr    string `yaml:"console_addr" toml:"console_addr"`
	ConsoleSecret  string `yaml:"console_secret" toml:"console_secret"`
	TokenExpiry    int    `yaml:"token_expiry" toml:"token_expiry"` // seconds
	MetricsEnabled bool   `yaml:"metrics_enabled" toml:"metrics_enabled"`

	// --- Logging ---
	LogVerbosity int `yaml:"log_verbosity" toml:"log_verbosity"`

	Events []EventConf `yaml:"events" toml:"events"`
}

// EventConf declares an event scripts can be attached to.
type EventConf struct {
	Name      string         `yaml:"name" toml:"name"`
	Help      string         `yaml:"help" toml:"help"`
	Variables []VariableConf `yaml:"variables" toml:"variables"`
}

// VariableConf is a variable an event provides. Type is a type name (int,
// str, number...) or the name of an object representation (character).
type VariableConf struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
	Help string `yaml:"help" toml:"help"`
}

// Default returns a Conf with working defaults.
func Default() *Conf {
	return &Conf{
		ScriptDir:      "scripts",
		StorePath:      "data/scripts.db",
		ReportsPath:    "data/reports.db",
		ReportsTimeout: 5,
		ReportsKeep:    30,
		ArchiveDir:     "data/archive",
		ArchiveKeep:    7,
		CheckTypes:     true,
		MaxSteps:       100000,
		Watch:          true,
		Workers:        4,
		MaxPerOwner:    1000,
		MaxPerTick:     100,
		SlowAfter:      5,
		ConsoleEnabled: true,
		ConsoleAddr:    "127.0.0.1:4280",
		TokenExpiry:    86400,
		MetricsEnabled: true,
		LogVerbosity:   1,
		Events: []EventConf{
			{
				Name: "greet",
				Help: "A character greets the room.",
				Variables: []VariableConf{
					{Name: "character", Type: "character", Help: "The character who greets."},
				},
			},
			{
				Name: "say",
				Help: "A character says something.",
				Variables: []VariableConf{
					{Name: "character", Type: "character", Help: "The character who speaks."},
					{Name: "message", Type: "str", Help: "What was said."},
				},
			},
		},
	}
}

// Load loads a config file. Format is auto-detected by extension:
//   - .yaml / .yml -> YAML format
//   - .toml        -> TOML format
//
// Relative paths in the file are resolved against the directory of the
// file.
func Load(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c := Default()
	// Declared events replace the default ones instead of merging with them.
	defaults := c.Events
	c.Events = nil
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parsing TOML %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q for %s", ext, path)
	}

	if c.Events == nil {
		c.Events = defaults
	}

	baseDir := filepath.Dir(path)
	for _, p := range []*string{&c.ScriptDir, &c.StorePath, &c.ReportsPath, &c.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks values that would stop the daemon later.
func (c *Conf) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	case c.MaxSteps < 0:
		return fmt.Errorf("config: max_steps cannot be negative")
	case c.ConsoleEnabled && c.ConsoleAddr == "":
		return fmt.Errorf("config: console_addr is required when the console is enabled")
	}
	seen := make(map[string]bool)
	for _, e := range c.Events {
		if e.Name == "" {
			return fmt.Errorf("config: event without a name")
		}
		if seen[e.Name] {
			return fmt.Errorf("config: event %q is declared twice", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// BuildEvents turns the declared events into a registry. Object variables
// must name a representation of ns.
func (c *Conf) BuildEvents(ns *script.Namespace) (*script.Events, error) {
	reg := script.NewEvents()
	for _, ec := range c.Events {
		ev := script.NewEvent(ec.Name, ec.Help)
		for _, vc := range ec.Variables {
			v := script.Variable{Name: vc.Name, Help: vc.Help}
			if _, ok := ns.Representation(vc.Type); ok {
				v.Type = typecheck.TObject
				v.Object = vc.Type
			} else {
				t, err := typecheck.ParseType(vc.Type)
				if err != nil {
					return nil, fmt.Errorf("config: event %s, variable %s: %w", ec.Name, vc.Name, err)
				}
				v.Type = t
			}
			ev.Variables = append(ev.Variables, v)
		}
		if err := reg.Register(ev); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
