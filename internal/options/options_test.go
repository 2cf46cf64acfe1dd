package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	o := Defaults()
	assert.False(t, o.Deodex)
	assert.False(t, o.ImplicitReferences)
	assert.True(t, o.ParameterRegisters)
	assert.True(t, o.LocalsDirective)
	assert.True(t, o.SequentialLabels)
	assert.Equal(t, buildDebugInfo, o.DebugInfo)
	assert.False(t, o.CodeOffsets)
	assert.False(t, o.AccessorComments)
	assert.Equal(t, RegisterInfoNone, o.RegisterInfo)
	assert.Nil(t, o.InlineResolver)
}

func TestRegisterInfo(t *testing.T) {
	assert.True(t, RegisterInfoAll.Has(RegisterInfoArgs))
	assert.True(t, RegisterInfoAll.Has(RegisterInfoDest))
	assert.False(t, RegisterInfoArgs.Has(RegisterInfoDest))
	assert.False(t, RegisterInfoNone.Has(RegisterInfoNone))
}
