// Package opcodes holds the Dalvik opcode tables and the instruction decoder.
package opcodes

// Format is a Dalvik instruction format identifier such as "22c".
type Format string

const (
	Format10x  Format = "10x"
	Format12x  Format = "12x"
	Format11n  Format = "11n"
	Format11x  Format = "11x"
	Format10t  Format = "10t"
	Format20t  Format = "20t"
	Format20bc Format = "20bc"
	Format22x  Format = "22x"
	Format21t  Format = "21t"
	Format21s  Format = "21s"
	Format21h  Format = "21h"
	Format21c  Format = "21c"
	Format23x  Format = "23x"
	Format22b  Format = "22b"
	Format22t  Format = "22t"
	Format22s  Format = "22s"
	Format22c  Format = "22c"
	Format22cs Format = "22cs"
	Format30t  Format = "30t"
	Format32x  Format = "32x"
	Format31i  Format = "31i"
	Format31t  Format = "31t"
	Format31c  Format = "31c"
	Format35c  Format = "35c"
	Format35ms Format = "35ms"
	Format35mi Format = "35mi"
	Format3rc  Format = "3rc"
	Format3rms Format = "3rms"
	Format3rmi Format = "3rmi"
	Format45cc Format = "45cc"
	Format4rcc Format = "4rcc"
	Format51l  Format = "51l"
)

// Units is the instruction width in 16-bit code units.
func (f Format) Units() int {
	switch f {
	case Format10x, Format12x, Format11n, Format11x, Format10t:
		return 1
	case Format30t, Format32x, Format31i, Format31t, Format31c,
		Format35c, Format35ms, Format35mi, Format3rc, Format3rms, Format3rmi:
		return 3
	case Format45cc, Format4rcc:
		return 4
	case Format51l:
		return 5
	default:
		return 2
	}
}

// IsRange reports whether the format encodes a register range.
func (f Format) IsRange() bool {
	return f == Format3rc || f == Format3rms || f == Format3rmi || f == Format4rcc
}

// RefKind is the kind of pool item an instruction's index refers to.
type RefKind int

const (
	RefNone RefKind = iota
	RefString
	RefType
	RefField
	RefMethod
	RefProto
	RefCallSite
	RefMethodHandle
	RefFieldOffset
	RefVtableIndex
	RefInlineIndex
	RefVerificationError
)

const (
	flagOdex = 1 << iota
	flagSetsRegister
	flagSetsWide
	flagBranch
	flagSwitch
)

// Opcode describes one entry of an opcode table.
type Opcode struct {
	Value  byte
	Name   string
	Format Format
	Ref    RefKind
	flags  int
}

// Odex reports whether the opcode only appears in optimized dex code.
func (o *Opcode) Odex() bool { return o.flags&flagOdex != 0 }

// SetsRegister reports whether the first register operand is written.
func (o *Opcode) SetsRegister() bool { return o.flags&flagSetsRegister != 0 }

// SetsWideRegister reports whether the written register is a wide pair.
func (o *Opcode) SetsWideRegister() bool { return o.flags&flagSetsWide != 0 }

// Branch reports whether the instruction carries a branch target.
func (o *Opcode) Branch() bool { return o.flags&flagBranch != 0 }

// Switch reports whether the instruction references a payload.
func (o *Opcode) Switch() bool { return o.flags&flagSwitch != 0 }
