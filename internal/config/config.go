// Package config loads run configurations written in HCL.
//
// A run configuration names the network descriptions to build and the edit
// scripts to run afterwards:
//
//	log_level  = "info"
//	log_format = "text"
//	variables  = { hidden = 128 }
//
//	ndl "train" {
//	  file   = "net.ndl"
//	  output = "net.cnm"
//	}
//
//	mel "edit" {
//	  file = "edit.mel"
//	}
//
// Relative paths are resolved against the directory of the configuration
// file.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Defaults applied by NewConfig.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Build describes one network to build from a description file.
type Build struct {
	Name    string
	File    string
	Section string
	Output  string // model file written after the build, if set
	Dump    string // text dump written after the build, "-" for stdout
}

// Edit describes one edit script to run.
type Edit struct {
	Name string
	File string
}

// Config is a validated run configuration. Builds run first, in order,
// then edits; every built network is available to the edits under its
// build name.
type Config struct {
	LogLevel  string
	LogFormat string
	Variables map[string]string
	Builds    []Build
	Edits     []Edit
}

// hclFile is the decoding target for a configuration file.
type hclFile struct {
	LogLevel  *string    `hcl:"log_level,optional"`
	LogFormat *string    `hcl:"log_format,optional"`
	Variables *cty.Value `hcl:"variables,optional"`
	Builds    []hclBuild `hcl:"ndl,block"`
	Edits     []hclEdit  `hcl:"mel,block"`
}

type hclBuild struct {
	Name    string  `hcl:"name,label"`
	File    string  `hcl:"file"`
	Section *string `hcl:"section,optional"`
	Output  *string `hcl:"output,optional"`
	Dump    *string `hcl:"dump,optional"`
}

type hclEdit struct {
	Name string `hcl:"name,label"`
	File string `hcl:"file"`
}

// NewConfig applies defaults to cfg and validates it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if len(cfg.Builds) == 0 && len(cfg.Edits) == 0 {
		return nil, fmt.Errorf("nothing to run: no ndl or mel blocks")
	}

	seen := make(map[string]bool)
	for _, b := range cfg.Builds {
		if b.File == "" {
			return nil, fmt.Errorf("ndl %q: file is required", b.Name)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("ndl %q: defined twice", b.Name)
		}
		seen[b.Name] = true
	}
	for _, e := range cfg.Edits {
		if e.File == "" {
			return nil, fmt.Errorf("mel %q: file is required", e.Name)
		}
	}
	return &cfg, nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var raw hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	cfg, err := raw.config(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewConfig(*cfg)
}

func (f *hclFile) config(dir string) (*Config, error) {
	cfg := &Config{
		LogLevel:  deref(f.LogLevel),
		LogFormat: deref(f.LogFormat),
	}
	if f.Variables != nil {
		vars, err := Variables(*f.Variables)
		if err != nil {
			return nil, err
		}
		cfg.Variables = vars
	}
	for _, b := range f.Builds {
		cfg.Builds = append(cfg.Builds, Build{
			Name:    b.Name,
			File:    resolve(dir, b.File),
			Section: deref(b.Section),
			Output:  resolve(dir, deref(b.Output)),
			Dump:    resolve(dir, deref(b.Dump)),
		})
	}
	for _, e := range f.Edits {
		cfg.Edits = append(cfg.Edits, Edit{Name: e.Name, File: resolve(dir, e.File)})
	}
	return cfg, nil
}

// Variables converts an object or map of primitive values to the string
// form network descriptions use for constants.
func Variables(v cty.Value) (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("variables must be known")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("variables must be an object, got %s", ty.FriendlyName())
	}
	out := make(map[string]string)
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		s, err := scalar(val)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = s
	}
	return out, nil
}

func scalar(v cty.Value) (string, error) {
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("value must be known and not null")
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Number:
		return v.AsBigFloat().Text('f', -1), nil
	case cty.Bool:
		if v.True() {
			return "true", nil
		}
		return "false", nil
	}
	return "", fmt.Errorf("unsupported type %s", v.Type().FriendlyName())
}

// Names returns the variable names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Variables))
	for k := range c.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Build returns the build called name.
func (c *Config) Build(name string) (Build, bool) {
	i := slices.IndexFunc(c.Builds, func(b Build) bool { return b.Name == name })
	if i < 0 {
		return Build{}, false
	}
	return c.Builds[i], true
}

func resolve(dir, path string) string {
	if path == "" || path == "-" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
