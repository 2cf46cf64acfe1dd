package opcodes

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Payload identifiers stored in the first code unit of a pseudo-instruction.
const (
	PackedSwitchPayload = 0x0100
	SparseSwitchPayload = 0x0200
	ArrayDataPayload    = 0x0300
)

var ErrTruncated = errors.New("instruction runs past end of code")

// Instruction is one decoded Dalvik instruction.
type Instruction struct {
	Op      *Opcode
	Raw     byte
	Offset  int
	Units   int
	Regs    []int
	Literal int64
	Index   uint32
	Index2  uint32
	Target  int
	Payload *Payload
}

// Unknown reports whether the opcode byte has no entry in the set.
func (i *Instruction) Unknown() bool { return i.Op == nil && i.Payload == nil }

// Payload is the body of a packed-switch, sparse-switch or fill-array-data pseudo-instruction.
type Payload struct {
	Kind         uint16
	FirstKey     int32
	Keys         []int32
	Targets      []int32
	ElementWidth int
	Elements     []int64
}

// Decode decodes the instruction at pc.
func Decode(insns []uint16, pc int, set *Set) (*Instruction, error) {
	if pc >= len(insns) {
		return nil, ErrTruncated
	}
	w := insns[pc]
	switch w {
	case PackedSwitchPayload, SparseSwitchPayload, ArrayDataPayload:
		return decodePayload(insns, pc)
	}

	inst := &Instruction{Raw: byte(w), Offset: pc, Units: 1}
	op := set.ByValue(byte(w))
	if op == nil {
		return inst, nil
	}
	inst.Op = op
	inst.Units = op.Format.Units()
	if pc+inst.Units > len(insns) {
		return nil, fmt.Errorf("%s at 0x%x: %w", op.Name, pc, ErrTruncated)
	}

	a := int(w >> 8)
	u := func(i int) uint16 { return insns[pc+i] }
	u32 := func(i int) uint32 { return uint32(u(i)) | uint32(u(i+1))<<16 }

	switch op.Format {
	case Format10x:
	case Format12x:
		inst.Regs = []int{a & 0xf, a >> 4}
	case Format11n:
		inst.Regs = []int{a & 0xf}
		inst.Literal = int64(int8(byte(a)) >> 4)
	case Format11x:
		inst.Regs = []int{a}
	case Format10t:
		inst.Target = pc + int(int8(byte(a)))
	case Format20t:
		inst.Target = pc + int(int16(u(1)))
	case Format20bc:
		inst.Literal = int64(a)
		inst.Index = uint32(u(1))
	case Format22x:
		inst.Regs = []int{a, int(u(1))}
	case Format21t:
		inst.Regs = []int{a}
		inst.Target = pc + int(int16(u(1)))
	case Format21s:
		inst.Regs = []int{a}
		inst.Literal = int64(int16(u(1)))
	case Format21h:
		inst.Regs = []int{a}
		if op.SetsWideRegister() {
			inst.Literal = int64(int16(u(1))) << 48
		} else {
			inst.Literal = int64(int32(uint32(u(1)) << 16))
		}
	case Format21c:
		inst.Regs = []int{a}
		inst.Index = uint32(u(1))
	case Format23x:
		inst.Regs = []int{a, int(u(1) & 0xff), int(u(1) >> 8)}
	case Format22b:
		inst.Regs = []int{a, int(u(1) & 0xff)}
		inst.Literal = int64(int8(byte(u(1) >> 8)))
	case Format22t:
		inst.Regs = []int{a & 0xf, a >> 4}
		inst.Target = pc + int(int16(u(1)))
	case Format22s:
		inst.Regs = []int{a & 0xf, a >> 4}
		inst.Literal = int64(int16(u(1)))
	case Format22c, Format22cs:
		inst.Regs = []int{a & 0xf, a >> 4}
		inst.Index = uint32(u(1))
	case Format30t:
		inst.Target = pc + int(int32(u32(1)))
	case Format32x:
		inst.Regs = []int{int(u(1)), int(u(2))}
	case Format31i:
		inst.Regs = []int{a}
		inst.Literal = int64(int32(u32(1)))
	case Format31t:
		inst.Regs = []int{a}
		inst.Target = pc + int(int32(u32(1)))
	case Format31c:
		inst.Regs = []int{a}
		inst.Index = u32(1)
	case Format35c, Format35ms, Format35mi, Format45cc:
		count := a >> 4
		if count > 5 {
			return nil, fmt.Errorf("%s at 0x%x: register count %d", op.Name, pc, count)
		}
		packed := u(2)
		all := []int{int(packed & 0xf), int(packed>>4) & 0xf, int(packed>>8) & 0xf, int(packed >> 12), a & 0xf}
		inst.Regs = all[:count]
		inst.Index = uint32(u(1))
		if op.Format == Format45cc {
			inst.Index2 = uint32(u(3))
		}
	case Format3rc, Format3rms, Format3rmi, Format4rcc:
		first := int(u(2))
		inst.Regs = make([]int, a)
		for i := range inst.Regs {
			inst.Regs[i] = first + i
		}
		inst.Index = uint32(u(1))
		if op.Format == Format4rcc {
			inst.Index2 = uint32(u(3))
		}
	case Format51l:
		inst.Regs = []int{a}
		inst.Literal = int64(uint64(u32(1)) | uint64(u32(3))<<32)
	default:
		return nil, fmt.Errorf("unhandled format %s", op.Format)
	}
	return inst, nil
}

func decodePayload(insns []uint16, pc int) (*Instruction, error) {
	w := insns[pc]
	need := func(n int) error {
		if pc+n > len(insns) {
			return fmt.Errorf("payload at 0x%x: %w", pc, ErrTruncated)
		}
		return nil
	}
	u32 := func(i int) uint32 { return uint32(insns[pc+i]) | uint32(insns[pc+i+1])<<16 }
	if err := need(2); err != nil {
		return nil, err
	}

	p := &Payload{Kind: w}
	inst := &Instruction{Offset: pc, Payload: p}
	switch w {
	case PackedSwitchPayload:
		size := int(insns[pc+1])
		inst.Units = 4 + size*2
		if err := need(inst.Units); err != nil {
			return nil, err
		}
		p.FirstKey = int32(u32(2))
		p.Targets = make([]int32, size)
		for i := range p.Targets {
			p.Targets[i] = int32(u32(4 + i*2))
		}
	case SparseSwitchPayload:
		size := int(insns[pc+1])
		inst.Units = 2 + size*4
		if err := need(inst.Units); err != nil {
			return nil, err
		}
		p.Keys = make([]int32, size)
		p.Targets = make([]int32, size)
		for i := 0; i < size; i++ {
			p.Keys[i] = int32(u32(2 + i*2))
			p.Targets[i] = int32(u32(2 + size*2 + i*2))
		}
	case ArrayDataPayload:
		if err := need(4); err != nil {
			return nil, err
		}
		width := int(insns[pc+1])
		size := int(u32(2))
		if width != 1 && width != 2 && width != 4 && width != 8 {
			return nil, fmt.Errorf("array payload at 0x%x: element width %d", pc, width)
		}
		inst.Units = 4 + (size*width+1)/2
		if err := need(inst.Units); err != nil {
			return nil, err
		}
		raw := make([]byte, (inst.Units-4)*2)
		for i := 0; i < len(raw)/2; i++ {
			binary.LittleEndian.PutUint16(raw[i*2:], insns[pc+4+i])
		}
		p.ElementWidth = width
		p.Elements = make([]int64, size)
		for i := range p.Elements {
			b := raw[i*width : (i+1)*width]
			switch width {
			case 1:
				p.Elements[i] = int64(int8(b[0]))
			case 2:
				p.Elements[i] = int64(int16(binary.LittleEndian.Uint16(b)))
			case 4:
				p.Elements[i] = int64(int32(binary.LittleEndian.Uint32(b)))
			case 8:
				p.Elements[i] = int64(binary.LittleEndian.Uint64(b))
			}
		}
	}
	return inst, nil
}

// DecodeAll decodes a whole instruction stream.
func DecodeAll(insns []uint16, set *Set) ([]*Instruction, error) {
	var out []*Instruction
	for pc := 0; pc < len(insns); {
		inst, err := Decode(insns, pc, set)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
		pc += inst.Units
	}
	return out, nil
}
