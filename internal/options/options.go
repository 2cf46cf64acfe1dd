// Package options holds the smali emitter settings.
package options

import "github.com/apk-analysis/dexcatalog/internal/inline"

// RegisterInfo selects register annotations.
type RegisterInfo int

const (
	RegisterInfoArgs RegisterInfo = 1 << iota
	RegisterInfoDest

	RegisterInfoNone RegisterInfo = 0
	RegisterInfoAll               = RegisterInfoArgs | RegisterInfoDest
)

// Has reports whether every bit of flag is set.
func (r RegisterInfo) Has(flag RegisterInfo) bool { return r&flag == flag && flag != 0 }

// Options controls smali output.
type Options struct {
	Deodex             bool
	ImplicitReferences bool
	ParameterRegisters bool
	LocalsDirective    bool
	SequentialLabels   bool
	DebugInfo          bool
	CodeOffsets        bool
	AccessorComments   bool
	RegisterInfo       RegisterInfo
	InlineResolver     *inline.Resolver
}

// Defaults returns the baseline record; DebugInfo follows the debug build tag.
func Defaults() Options {
	return Options{
		ParameterRegisters: true,
		LocalsDirective:    true,
		SequentialLabels:   true,
		DebugInfo:          buildDebugInfo,
	}
}
