package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryBuildsEveryOperation(t *testing.T) {
	r := DefaultRegistry()
	tags := r.Tags()
	assert.Len(t, tags, 19)
	assert.IsIncreasing(t, tags)

	for _, tag := range tags {
		n, err := r.New(tag, "n")
		require.NoError(t, err, tag)
		assert.Equal(t, tag, n.OperationName())
		assert.Equal(t, "n", n.Name())
	}
}

func TestRegistryIgnoresCase(t *testing.T) {
	r := DefaultRegistry()
	assert.True(t, r.Has("crossentropywithsoftmax"))
	assert.True(t, r.Has("MAXPOOLING"))
	assert.False(t, r.Has("MaxPool"))

	n, err := r.New("times", "t")
	require.NoError(t, err)
	assert.IsType(t, &Times{}, n)

	_, err = r.New("Softmax", "s")
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestCustomRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("Identity", func(name string) Node { return NewTanh(name) })
	r.Register("identity", func(name string) Node { return NewSigmoid(name) })
	assert.Equal(t, []string{"identity"}, r.Tags())

	n, err := r.New("IDENTITY", "id")
	require.NoError(t, err)
	assert.Equal(t, OpSigmoid, n.OperationName())

	net := New(WithRegistry(r))
	_, err = net.CreateNode(OpPlus, "p")
	require.ErrorIs(t, err, ErrUnknownOperation)
	_, err = net.CreateNode("identity", "i")
	require.NoError(t, err)
}
