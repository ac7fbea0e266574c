// Package app runs a cngraph configuration: it builds the configured
// networks and then runs the edit scripts against them.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/born-ml/cngraph/internal/config"
	"github.com/born-ml/cngraph/internal/ctxlog"
	"github.com/born-ml/cngraph/internal/graph"
	"github.com/born-ml/cngraph/internal/mel"
	"github.com/born-ml/cngraph/internal/ndl"
	"github.com/born-ml/cngraph/internal/netbuilder"
)

// App holds the state of one run.
type App struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
	macros *ndl.MacroRegistry
	editor *mel.Interpreter
}

// New returns an app for cfg. Dumps to "-" go to out, logs to logW.
func New(out, logW io.Writer, cfg *config.Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	macros := ndl.NewMacroRegistry()
	return &App{
		out:    out,
		cfg:    cfg,
		logger: logger,
		macros: macros,
		editor: mel.New(mel.WithMacros(macros), mel.WithOutput(out)),
	}
}

// Editor returns the interpreter the edit scripts run in. Built networks
// are registered in it under their build names.
func (a *App) Editor() *mel.Interpreter { return a.editor }

// Run builds every configured network, then runs every edit script.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	for _, b := range a.cfg.Builds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.build(b); err != nil {
			return errors.Wrapf(err, "ndl %q", b.Name)
		}
	}
	for _, e := range a.cfg.Edits {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.logger.Info("running edit script", "name", e.Name, "file", e.File)
		if err := a.editor.RunFile(ctx, e.File); err != nil {
			return errors.Wrapf(err, "mel %q", e.Name)
		}
	}
	return nil
}

func (a *App) build(b config.Build) error {
	logger := a.logger.With("build", b.Name)
	nn, err := netbuilder.BuildFromFile(b.File,
		netbuilder.WithVariables(a.cfg.Variables),
		netbuilder.WithSection(b.Section),
		netbuilder.WithMacros(a.macros),
		netbuilder.WithNetworkOptions(graph.WithLogger(logger)),
	)
	if err != nil {
		return err
	}

	if b.Output != "" {
		if dir := filepath.Dir(b.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return errors.Wrap(err, "creating output directory")
			}
		}
		if err := nn.Net.Save(b.Output); err != nil {
			return err
		}
		logger.Info("saved model", "path", b.Output)
	}
	if b.Dump != "" {
		if err := a.dump(nn.Net, b.Dump); err != nil {
			return err
		}
	}

	a.editor.AddModel(b.Name, nn.Net)
	return nil
}

func (a *App) dump(net *graph.Network, path string) (err error) {
	if path == "-" {
		return net.DumpAllNodes(a.out, false)
	}
	//nolint:gosec // G304: dump paths come from the run configuration
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close dump file: %w", cerr)
		}
	}()
	return net.DumpAllNodes(f, false)
}
