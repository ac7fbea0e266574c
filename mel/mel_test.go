// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package mel_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cngraph/graph"
	"github.com/born-ml/cngraph/mel"
	"github.com/born-ml/cngraph/ndl"
)

func TestBuildEditSave(t *testing.T) {
	macros := ndl.NewMacroRegistry()
	nn, err := ndl.Build(`
x = Input(dim, 1, tag=feature)
W = Parameter(3, dim)
y = Times(W, x, tag=output)
`, ndl.WithMacros(macros), ndl.WithVariables(map[string]string{"dim": "2"}))
	require.NoError(t, err)

	var out bytes.Buffer
	in := mel.New(mel.WithMacros(macros), mel.WithOutput(&out))
	in.AddModel("m", nn.Net)

	path := filepath.Join(t.TempDir(), "edited.cnm")
	require.NoError(t, in.Run(context.Background(), `
Rename(m.y, m.logits)
SetProperty(m.W, ComputeGradient, false)
DumpNode(m.logits, "-")
SaveModel(m, "`+filepath.ToSlash(path)+`")
`))
	assert.Contains(t, out.String(), "logits="+graph.OpTimes+"(W, x)")

	net, err := graph.Load(path)
	require.NoError(t, err)
	assert.True(t, net.Exists("logits"))
	w, err := net.Node("W")
	require.NoError(t, err)
	assert.Equal(t, 2, w.Value().Cols())

	assert.ErrorIs(t, in.Run(context.Background(), `Rename(m.absent, m.other)`), mel.ErrNoMatch)
}
