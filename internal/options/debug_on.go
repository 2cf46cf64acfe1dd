//go:build debug

package options

const buildDebugInfo = true
