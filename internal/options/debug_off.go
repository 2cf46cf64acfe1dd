//go:build !debug

package options

const buildDebugInfo = false
