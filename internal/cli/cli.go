// Package cli parses the cngraph command line into a run configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/born-ml/cngraph/internal/config"
)

// Version is printed by the version command.
const Version = "v0.1.0-dev"

// ExitError carries the exit code the process should end with.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns the run configuration,
// or true when the program should exit cleanly without running anything.
//
// Files given as arguments are dispatched by extension: .hcl is a run
// configuration, .ndl a network description and .mel an edit script.
func Parse(args []string, output io.Writer) (*config.Config, bool, error) {
	if len(args) > 0 && args[0] == "version" {
		fmt.Fprintf(output, "cngraph %s\n", Version)
		return nil, true, nil
	}

	fs := flag.NewFlagSet("cngraph", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
cngraph - build and edit computation networks.

Usage:
  cngraph [options] [FILE...]
  cngraph version

Arguments:
  FILE
    A run configuration (.hcl), network description (.ndl) or edit
    script (.mel). Descriptions are built before edit scripts run.

Options:
`)
		fs.PrintDefaults()
	}

	var (
		configPath = fs.String("config", "", "Path to an HCL run configuration.")
		cPath      = fs.String("c", "", "Path to an HCL run configuration (shorthand).")
		ndlPath    = fs.String("ndl", "", "Network description to build.")
		melPath    = fs.String("mel", "", "Edit script to run after the build.")
		section    = fs.String("section", "", "Build only this section of the network description.")
		outputPath = fs.String("output", "", "Write the built network to this model file.")
		dump       = fs.String("dump", "", "Write a text dump of the built network here, - for stdout.")
		logFormat  = fs.String("log-format", "", "Log output format. Options: 'text' or 'json'.")
		logLevel   = fs.String("log-level", "", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	)
	vars := make(map[string]string)
	fs.Func("var", "Define a description constant as name=value. May be repeated.", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("expected name=value, got %q", s)
		}
		vars[k] = v
		return nil
	})

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	cfgPath := first(*configPath, *cPath)
	ndlFile, melFiles := *ndlPath, []string{}
	if *melPath != "" {
		melFiles = append(melFiles, *melPath)
	}
	for _, arg := range fs.Args() {
		switch strings.ToLower(filepath.Ext(arg)) {
		case ".hcl":
			if cfgPath != "" {
				return nil, false, &ExitError{Code: 2, Message: "only one run configuration may be given"}
			}
			cfgPath = arg
		case ".ndl":
			if ndlFile != "" {
				return nil, false, &ExitError{Code: 2, Message: "only one network description may be given"}
			}
			ndlFile = arg
		case ".mel":
			melFiles = append(melFiles, arg)
		default:
			return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("%s: unknown file type, want .hcl, .ndl or .mel", arg)}
		}
	}

	if cfgPath == "" && ndlFile == "" && len(melFiles) == 0 {
		fs.Usage()
		return nil, true, nil
	}

	var cfg config.Config
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		cfg = *loaded
	}
	if ndlFile != "" {
		cfg.Builds = append(cfg.Builds, config.Build{
			Name:    modelName(ndlFile),
			File:    ndlFile,
			Section: *section,
			Output:  *outputPath,
			Dump:    *dump,
		})
	}
	for _, f := range melFiles {
		cfg.Edits = append(cfg.Edits, config.Edit{Name: modelName(f), File: f})
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if len(vars) > 0 {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]string)
		}
		for k, v := range vars {
			cfg.Variables[k] = v
		}
	}

	validated, err := config.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return validated, false, nil
}

// modelName derives a model name from a file name.
func modelName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
