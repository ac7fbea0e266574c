package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cngraph/internal/cli"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	ndlFile := filepath.Join(dir, "tiny.ndl")
	require.NoError(t, os.WriteFile(ndlFile, []byte(`
x = Input(dim, 1, tag=feature)
W = Parameter(3, dim)
y = Times(W, x, tag=output)
`), 0o600))

	var out, logs bytes.Buffer
	err := run(context.Background(), &out, &logs, []string{"-var", "dim=2", "-dump", "-", ndlFile})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "y=Times(W, x)")
	assert.Contains(t, out.String(), "output: y")
}

func TestRunShouldExit(t *testing.T) {
	var out, logs bytes.Buffer
	require.NoError(t, run(context.Background(), &out, &logs, []string{"-h"}))
	assert.Contains(t, out.String(), "Usage:")
}

func TestRunParseError(t *testing.T) {
	var out, logs bytes.Buffer
	err := run(context.Background(), &out, &logs, []string{"--this-is-not-a-valid-flag"})
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunBuildError(t *testing.T) {
	var out, logs bytes.Buffer
	err := run(context.Background(), &out, &logs, []string{filepath.Join(t.TempDir(), "absent.ndl")})
	require.Error(t, err)
	var exitErr *cli.ExitError
	assert.NotErrorAs(t, err, &exitErr)
}
