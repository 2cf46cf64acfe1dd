package opcodes

import "strings"

type entry struct {
	value  byte
	name   string
	format Format
	ref    RefKind
}

func seq(start byte, format Format, ref RefKind, names ...string) []entry {
	out := make([]entry, len(names))
	for i, n := range names {
		out[i] = entry{start + byte(i), n, format, ref}
	}
	return out
}

func withSuffix(suffix string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n + suffix
	}
	return out
}

var binops = []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "ushr"}
var floatops = []string{"add", "sub", "mul", "div", "rem"}
var accessKinds = []string{"", "-wide", "-object", "-boolean", "-byte", "-char", "-short"}

func accessNames(prefix string) []string {
	out := make([]string, len(accessKinds))
	for i, k := range accessKinds {
		out[i] = prefix + k
	}
	return out
}

func standardEntries() []entry {
	var e []entry
	add := func(es ...entry) { e = append(e, es...) }

	add(entry{0x00, "nop", Format10x, RefNone})
	add(seq(0x01, Format12x, RefNone, "move")...)
	add(entry{0x02, "move/from16", Format22x, RefNone}, entry{0x03, "move/16", Format32x, RefNone})
	add(entry{0x04, "move-wide", Format12x, RefNone}, entry{0x05, "move-wide/from16", Format22x, RefNone}, entry{0x06, "move-wide/16", Format32x, RefNone})
	add(entry{0x07, "move-object", Format12x, RefNone}, entry{0x08, "move-object/from16", Format22x, RefNone}, entry{0x09, "move-object/16", Format32x, RefNone})
	add(seq(0x0a, Format11x, RefNone, "move-result", "move-result-wide", "move-result-object", "move-exception")...)
	add(entry{0x0e, "return-void", Format10x, RefNone})
	add(seq(0x0f, Format11x, RefNone, "return", "return-wide", "return-object")...)
	add(entry{0x12, "const/4", Format11n, RefNone},
		entry{0x13, "const/16", Format21s, RefNone},
		entry{0x14, "const", Format31i, RefNone},
		entry{0x15, "const/high16", Format21h, RefNone},
		entry{0x16, "const-wide/16", Format21s, RefNone},
		entry{0x17, "const-wide/32", Format31i, RefNone},
		entry{0x18, "const-wide", Format51l, RefNone},
		entry{0x19, "const-wide/high16", Format21h, RefNone},
		entry{0x1a, "const-string", Format21c, RefString},
		entry{0x1b, "const-string/jumbo", Format31c, RefString},
		entry{0x1c, "const-class", Format21c, RefType},
		entry{0x1d, "monitor-enter", Format11x, RefNone},
		entry{0x1e, "monitor-exit", Format11x, RefNone},
		entry{0x1f, "check-cast", Format21c, RefType},
		entry{0x20, "instance-of", Format22c, RefType},
		entry{0x21, "array-length", Format12x, RefNone},
		entry{0x22, "new-instance", Format21c, RefType},
		entry{0x23, "new-array", Format22c, RefType},
		entry{0x24, "filled-new-array", Format35c, RefType},
		entry{0x25, "filled-new-array/range", Format3rc, RefType},
		entry{0x26, "fill-array-data", Format31t, RefNone},
		entry{0x27, "throw", Format11x, RefNone},
		entry{0x28, "goto", Format10t, RefNone},
		entry{0x29, "goto/16", Format20t, RefNone},
		entry{0x2a, "goto/32", Format30t, RefNone},
		entry{0x2b, "packed-switch", Format31t, RefNone},
		entry{0x2c, "sparse-switch", Format31t, RefNone},
	)
	add(seq(0x2d, Format23x, RefNone, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")...)
	add(seq(0x32, Format22t, RefNone, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")...)
	add(seq(0x38, Format21t, RefNone, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")...)
	add(seq(0x44, Format23x, RefNone, accessNames("aget")...)...)
	add(seq(0x4b, Format23x, RefNone, accessNames("aput")...)...)
	add(seq(0x52, Format22c, RefField, accessNames("iget")...)...)
	add(seq(0x59, Format22c, RefField, accessNames("iput")...)...)
	add(seq(0x60, Format21c, RefField, accessNames("sget")...)...)
	add(seq(0x67, Format21c, RefField, accessNames("sput")...)...)
	invokes := []string{"invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface"}
	add(seq(0x6e, Format35c, RefMethod, invokes...)...)
	add(seq(0x74, Format3rc, RefMethod, withSuffix("/range", invokes...)...)...)
	add(seq(0x7b, Format12x, RefNone,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double",
		"long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double",
		"double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short")...)
	add(seq(0x90, Format23x, RefNone, withSuffix("-int", binops...)...)...)
	add(seq(0x9b, Format23x, RefNone, withSuffix("-long", binops...)...)...)
	add(seq(0xa6, Format23x, RefNone, withSuffix("-float", floatops...)...)...)
	add(seq(0xab, Format23x, RefNone, withSuffix("-double", floatops...)...)...)
	add(seq(0xb0, Format12x, RefNone, withSuffix("-int/2addr", binops...)...)...)
	add(seq(0xbb, Format12x, RefNone, withSuffix("-long/2addr", binops...)...)...)
	add(seq(0xc6, Format12x, RefNone, withSuffix("-float/2addr", floatops...)...)...)
	add(seq(0xcb, Format12x, RefNone, withSuffix("-double/2addr", floatops...)...)...)
	add(seq(0xd0, Format22s, RefNone,
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")...)
	add(seq(0xd8, Format22b, RefNone,
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8",
		"and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")...)
	return e
}

// dalvikOdexEntries are the optimized opcodes of the pre-ART runtime.
func dalvikOdexEntries(api int) []entry {
	e := []entry{
		{0xe3, "iget-volatile", Format22c, RefField},
		{0xe4, "iput-volatile", Format22c, RefField},
		{0xe5, "sget-volatile", Format21c, RefField},
		{0xe6, "sput-volatile", Format21c, RefField},
		{0xe7, "iget-object-volatile", Format22c, RefField},
		{0xe8, "iget-wide-volatile", Format22c, RefField},
		{0xe9, "iput-wide-volatile", Format22c, RefField},
		{0xea, "sget-wide-volatile", Format21c, RefField},
		{0xeb, "sput-wide-volatile", Format21c, RefField},
		{0xed, "throw-verification-error", Format20bc, RefVerificationError},
		{0xee, "execute-inline", Format35mi, RefInlineIndex},
		{0xef, "execute-inline/range", Format3rmi, RefInlineIndex},
		{0xf1, "return-void-barrier", Format10x, RefNone},
	}
	if api >= 14 {
		e = append(e, entry{0xf0, "invoke-object-init/range", Format3rc, RefMethod})
	} else {
		e = append(e, entry{0xf0, "invoke-direct-empty", Format35c, RefMethod})
	}
	e = append(e, seq(0xf2, Format22cs, RefFieldOffset,
		"iget-quick", "iget-wide-quick", "iget-object-quick",
		"iput-quick", "iput-wide-quick", "iput-object-quick")...)
	e = append(e,
		entry{0xf8, "invoke-virtual-quick", Format35ms, RefVtableIndex},
		entry{0xf9, "invoke-virtual-quick/range", Format3rms, RefVtableIndex},
		entry{0xfa, "invoke-super-quick", Format35ms, RefVtableIndex},
		entry{0xfb, "invoke-super-quick/range", Format3rms, RefVtableIndex},
		entry{0xfc, "iput-object-volatile", Format22c, RefField},
		entry{0xfd, "sget-object-volatile", Format21c, RefField},
		entry{0xfe, "sput-object-volatile", Format21c, RefField},
	)
	return e
}

// artOdexEntries are the quickened opcodes ART writes into oat-embedded dex code.
func artOdexEntries() []entry {
	e := []entry{{0x73, "return-void-no-barrier", Format10x, RefNone}}
	e = append(e, seq(0xe3, Format22cs, RefFieldOffset,
		"iget-quick", "iget-wide-quick", "iget-object-quick",
		"iput-quick", "iput-wide-quick", "iput-object-quick")...)
	e = append(e,
		entry{0xe9, "invoke-virtual-quick", Format35ms, RefVtableIndex},
		entry{0xea, "invoke-virtual-quick/range", Format3rms, RefVtableIndex},
	)
	e = append(e, seq(0xeb, Format22cs, RefFieldOffset,
		"iput-boolean-quick", "iput-byte-quick", "iput-char-quick", "iput-short-quick",
		"iget-boolean-quick", "iget-byte-quick", "iget-char-quick", "iget-short-quick")...)
	return e
}

func modernEntries(api int) []entry {
	var e []entry
	if api >= 26 {
		e = append(e,
			entry{0xfa, "invoke-polymorphic", Format45cc, RefMethod},
			entry{0xfb, "invoke-polymorphic/range", Format4rcc, RefMethod},
			entry{0xfc, "invoke-custom", Format35c, RefCallSite},
			entry{0xfd, "invoke-custom/range", Format3rc, RefCallSite},
		)
	}
	if api >= 28 {
		e = append(e,
			entry{0xfe, "const-method-handle", Format21c, RefMethodHandle},
			entry{0xff, "const-method-type", Format21c, RefProto},
		)
	}
	return e
}

var noDest = []string{
	"nop", "return", "monitor-", "fill-array-data", "throw", "goto", "packed-switch",
	"sparse-switch", "if-", "aput", "iput", "sput", "invoke", "execute-inline",
	"filled-new-array", "throw-verification-error", "breakpoint",
}

func flagsFor(e entry, odex bool) int {
	f := 0
	if odex {
		f |= flagOdex
	}
	dest := true
	for _, p := range noDest {
		if strings.HasPrefix(e.name, p) {
			dest = false
			break
		}
	}
	if dest {
		f |= flagSetsRegister
		if widens(e.name) {
			f |= flagSetsWide
		}
	}
	switch e.format {
	case Format10t, Format20t, Format30t, Format21t, Format22t:
		f |= flagBranch
	case Format31t:
		f |= flagSwitch
	}
	return f
}

func widens(name string) bool {
	if strings.HasPrefix(name, "cmp") {
		return false
	}
	return strings.Contains(name, "-wide") || strings.Contains(name, "-long") || strings.Contains(name, "-double")
}
