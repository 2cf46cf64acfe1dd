// Package inline maps execute-inline indices of Dalvik odex code back to the
// methods the VM inlined.
package inline

import (
	"fmt"
	"strings"
)

// Kind is how the inlined method is dispatched.
type Kind int

const (
	Static Kind = iota
	Virtual
	Direct
)

// Method is one entry of the VM's inline-native table.
type Method struct {
	Kind   Kind
	Class  string
	Name   string
	Params []string
	Return string
}

// Static reports whether the method takes no receiver.
func (m Method) Static() bool { return m.Kind == Static }

// String renders the method as a smali reference.
func (m Method) String() string {
	return m.Class + "->" + m.Name + "(" + strings.Join(m.Params, "") + ")" + m.Return
}

func method(kind Kind, class, name, params, ret string) Method {
	var ps []string
	for i := 0; i < len(params); i++ {
		start := i
		for params[i] == '[' {
			i++
		}
		if params[i] == 'L' {
			i = start + strings.IndexByte(params[start:], ';')
		}
		ps = append(ps, params[start:i+1])
	}
	return Method{Kind: kind, Class: class, Name: name, Params: ps, Return: ret}
}

const (
	str  = "Ljava/lang/String;"
	math = "Ljava/lang/Math;"
)

var version35 = []Method{
	method(Static, "Lorg/apache/harmony/dalvik/NativeTestTarget;", "emptyInlineMethod", "", "V"),
	method(Virtual, str, "charAt", "I", "C"),
	method(Virtual, str, "compareTo", str, "I"),
	method(Virtual, str, "equals", "Ljava/lang/Object;", "Z"),
	method(Virtual, str, "length", "", "I"),
	method(Static, math, "abs", "I", "I"),
	method(Static, math, "abs", "J", "J"),
	method(Static, math, "abs", "F", "F"),
	method(Static, math, "abs", "D", "D"),
	method(Static, math, "min", "II", "I"),
	method(Static, math, "max", "II", "I"),
	method(Static, math, "sqrt", "D", "D"),
	method(Static, math, "cos", "D", "D"),
	method(Static, math, "sin", "D", "D"),
}

var version36 = []Method{
	method(Static, "Lorg/apache/harmony/dalvik/NativeTestTarget;", "emptyInlineMethod", "", "V"),
	method(Virtual, str, "charAt", "I", "C"),
	method(Virtual, str, "compareTo", str, "I"),
	method(Virtual, str, "equals", "Ljava/lang/Object;", "Z"),
	method(Direct, str, "fastIndexOf", "II", "I"),
	method(Virtual, str, "isEmpty", "", "Z"),
	method(Virtual, str, "length", "", "I"),
	method(Static, math, "abs", "I", "I"),
	method(Static, math, "abs", "J", "J"),
	method(Static, math, "abs", "F", "F"),
	method(Static, math, "abs", "D", "D"),
	method(Static, math, "min", "II", "I"),
	method(Static, math, "max", "II", "I"),
	method(Static, math, "sqrt", "D", "D"),
	method(Static, math, "cos", "D", "D"),
	method(Static, math, "sin", "D", "D"),
	method(Static, "Ljava/lang/Float;", "floatToIntBits", "F", "I"),
	method(Static, "Ljava/lang/Float;", "floatToRawIntBits", "F", "I"),
	method(Static, "Ljava/lang/Float;", "intBitsToFloat", "I", "F"),
	method(Static, "Ljava/lang/Double;", "doubleToLongBits", "D", "J"),
	method(Static, "Ljava/lang/Double;", "doubleToRawLongBits", "D", "J"),
	method(Static, "Ljava/lang/Double;", "longBitsToDouble", "J", "D"),
}

// Resolver is the inline table of one odex version.
type Resolver struct {
	version int
	methods []Method
}

// NewResolver returns the table for a dexopt version.
func NewResolver(odexVersion int) (*Resolver, error) {
	switch odexVersion {
	case 35:
		return &Resolver{version: 35, methods: version35}, nil
	case 36:
		return &Resolver{version: 36, methods: version36}, nil
	}
	return nil, fmt.Errorf("no inline table for odex version %d", odexVersion)
}

// Version is the odex version the table belongs to.
func (r *Resolver) Version() int { return r.version }

// Len is the number of inline slots.
func (r *Resolver) Len() int { return len(r.methods) }

// Resolve returns the method at an execute-inline index.
func (r *Resolver) Resolve(index int) (Method, error) {
	if index < 0 || index >= len(r.methods) {
		return Method{}, fmt.Errorf("inline index %d out of range for odex version %d", index, r.version)
	}
	return r.methods[index], nil
}
