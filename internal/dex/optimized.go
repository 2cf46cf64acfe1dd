package dex

import (
	"fmt"

	"github.com/apk-analysis/dexcatalog/internal/opcodes"
)

// HasOptimizedOpcodes reports whether any method body uses an opcode the set
// marks as odex-only.
func (f *File) HasOptimizedOpcodes(set *opcodes.Set) (bool, error) {
	for _, cls := range f.classDefs {
		cd, err := cls.ClassData()
		if err != nil {
			return false, err
		}
		for _, group := range [][]EncodedMethod{cd.DirectMethods, cd.VirtualMethods} {
			for _, m := range group {
				ci, err := f.Code(m)
				if err != nil {
					return false, err
				}
				if ci == nil {
					continue
				}
				found, err := optimizedIn(ci.Insns, set)
				if err != nil {
					return false, fmt.Errorf("%s->%s: %w", m.Ref.Class, m.Ref.Name, err)
				}
				if found {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func optimizedIn(insns []uint16, set *opcodes.Set) (bool, error) {
	for pc := 0; pc < len(insns); {
		inst, err := opcodes.Decode(insns, pc, set)
		if err != nil {
			return false, err
		}
		if inst.Op != nil && inst.Op.Odex() {
			return true, nil
		}
		pc += inst.Units
	}
	return false, nil
}
