package inline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolver(t *testing.T) {
	r35, err := NewResolver(35)
	require.NoError(t, err)
	assert.Equal(t, 35, r35.Version())
	assert.Equal(t, 14, r35.Len())

	r36, err := NewResolver(36)
	require.NoError(t, err)
	assert.Equal(t, 22, r36.Len())

	_, err = NewResolver(37)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r35, _ := NewResolver(35)
	r36, _ := NewResolver(36)

	m, err := r35.Resolve(4)
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/String;->length()I", m.String())
	assert.False(t, m.Static())

	m, err = r36.Resolve(4)
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/String;->fastIndexOf(II)I", m.String())
	assert.Equal(t, Direct, m.Kind)
	assert.Equal(t, []string{"I", "I"}, m.Params)

	m, err = r36.Resolve(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ljava/lang/String;"}, m.Params)

	m, err = r36.Resolve(21)
	require.NoError(t, err)
	assert.Equal(t, "Ljava/lang/Double;->longBitsToDouble(J)D", m.String())
	assert.True(t, m.Static())

	_, err = r35.Resolve(14)
	assert.Error(t, err)
	_, err = r35.Resolve(-1)
	assert.Error(t, err)
}
