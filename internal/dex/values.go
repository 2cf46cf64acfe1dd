package dex

import (
	"fmt"
	"math"
)

// ValueKind is the value_type of an encoded_value.
type ValueKind byte

const (
	ValueByte         ValueKind = 0x00
	ValueShort        ValueKind = 0x02
	ValueChar         ValueKind = 0x03
	ValueInt          ValueKind = 0x04
	ValueLong         ValueKind = 0x06
	ValueFloat        ValueKind = 0x10
	ValueDouble       ValueKind = 0x11
	ValueMethodType   ValueKind = 0x15
	ValueMethodHandle ValueKind = 0x16
	ValueString       ValueKind = 0x17
	ValueType         ValueKind = 0x18
	ValueField        ValueKind = 0x19
	ValueMethod       ValueKind = 0x1a
	ValueEnum         ValueKind = 0x1b
	ValueArray        ValueKind = 0x1c
	ValueAnnotation   ValueKind = 0x1d
	ValueNull         ValueKind = 0x1e
	ValueBoolean      ValueKind = 0x1f
)

// Value is a decoded encoded_value. Which fields are set depends on Kind.
type Value struct {
	Kind       ValueKind
	Int        int64
	Float      float64
	Str        string
	Field      FieldRef
	Method     MethodRef
	Proto      Proto
	Handle     MethodHandle
	Array      []Value
	Annotation *EncodedAnnotation
}

// Bool returns the value of a ValueBoolean.
func (v Value) Bool() bool { return v.Int != 0 }

// EncodedAnnotation is an encoded_annotation.
type EncodedAnnotation struct {
	Type     string
	Elements []AnnotationElement
}

// AnnotationElement is a name/value pair of an annotation.
type AnnotationElement struct {
	Name  string
	Value Value
}

// Visibility of an annotation_item.
type Visibility byte

const (
	VisibilityBuild   Visibility = 0x00
	VisibilityRuntime Visibility = 0x01
	VisibilitySystem  Visibility = 0x02
)

func (v Visibility) String() string {
	switch v {
	case VisibilityBuild:
		return "build"
	case VisibilityRuntime:
		return "runtime"
	case VisibilitySystem:
		return "system"
	}
	return fmt.Sprintf("visibility-%d", byte(v))
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility Visibility
	EncodedAnnotation
}

// AnnotationsDirectory is a decoded annotations_directory_item keyed by id index.
type AnnotationsDirectory struct {
	Class      []Annotation
	Fields     map[uint32][]Annotation
	Methods    map[uint32][]Annotation
	Parameters map[uint32][][]Annotation
}

// maxDepth bounds nested arrays and annotations.
const maxDepth = 64

// EncodedArray decodes an encoded_array_item at off.
func (f *File) EncodedArray(off uint32) ([]Value, error) {
	return f.readArray(f.at(off), 0)
}

func (f *File) readArray(r *reader, depth int) ([]Value, error) {
	n, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(r.data)) {
		return nil, malformed(r.pos, "encoded array size %d", n)
	}
	out := make([]Value, n)
	for i := range out {
		if out[i], err = f.readValue(r, depth+1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *File) readAnnotation(r *reader, depth int) (*EncodedAnnotation, error) {
	typeIdx, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	size, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(len(r.data)) {
		return nil, malformed(r.pos, "annotation element count %d", size)
	}
	a := &EncodedAnnotation{Elements: make([]AnnotationElement, size)}
	if a.Type, err = f.Type(typeIdx); err != nil {
		return nil, err
	}
	for i := range a.Elements {
		nameIdx, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		if a.Elements[i].Name, err = f.String(nameIdx); err != nil {
			return nil, err
		}
		if a.Elements[i].Value, err = f.readValue(r, depth+1); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (f *File) readValue(r *reader, depth int) (Value, error) {
	var v Value
	if depth > maxDepth {
		return v, malformed(r.pos, "encoded value nesting deeper than %d", maxDepth)
	}
	tag, err := r.u8()
	if err != nil {
		return v, err
	}
	v.Kind = ValueKind(tag & 0x1f)
	arg := int(tag >> 5)
	size := arg + 1

	readRaw := func(maxSize int) (uint64, error) {
		if size > maxSize {
			return 0, malformed(r.pos, "value type 0x%02x with size %d", tag&0x1f, size)
		}
		b, err := r.bytes(size)
		if err != nil {
			return 0, err
		}
		var x uint64
		for i := size - 1; i >= 0; i-- {
			x = x<<8 | uint64(b[i])
		}
		return x, nil
	}
	signed := func(maxSize int) (int64, error) {
		x, err := readRaw(maxSize)
		shift := uint(64 - 8*size)
		return int64(x<<shift) >> shift, err
	}
	index := func() (uint32, error) {
		x, err := readRaw(4)
		return uint32(x), err
	}

	switch v.Kind {
	case ValueByte:
		v.Int, err = signed(1)
	case ValueShort:
		v.Int, err = signed(2)
	case ValueChar:
		var x uint64
		x, err = readRaw(2)
		v.Int = int64(x)
	case ValueInt:
		v.Int, err = signed(4)
	case ValueLong:
		v.Int, err = signed(8)
	case ValueFloat:
		var x uint64
		x, err = readRaw(4)
		v.Float = float64(math.Float32frombits(uint32(x << (8 * uint(4-size)))))
	case ValueDouble:
		var x uint64
		x, err = readRaw(8)
		v.Float = math.Float64frombits(x << (8 * uint(8-size)))
	case ValueMethodType:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Proto, err = f.Proto(idx)
		}
	case ValueMethodHandle:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Handle, err = f.MethodHandle(idx)
		}
	case ValueString:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Str, err = f.String(idx)
		}
	case ValueType:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Str, err = f.Type(idx)
		}
	case ValueField, ValueEnum:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Field, err = f.Field(idx)
		}
	case ValueMethod:
		var idx uint32
		if idx, err = index(); err == nil {
			v.Method, err = f.Method(idx)
		}
	case ValueArray:
		v.Array, err = f.readArray(r, depth)
	case ValueAnnotation:
		v.Annotation, err = f.readAnnotation(r, depth)
	case ValueNull:
	case ValueBoolean:
		v.Int = int64(arg)
	default:
		return v, malformed(r.pos-1, "unknown encoded value type 0x%02x", tag&0x1f)
	}
	return v, err
}

func (f *File) annotationSet(off uint32) ([]Annotation, error) {
	if off == 0 {
		return nil, nil
	}
	r := f.at(off)
	n, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("annotation set: %w", err)
	}
	if uint64(n)*4 > uint64(len(f.data)) {
		return nil, malformed(int(off), "annotation set size %d", n)
	}
	out := make([]Annotation, 0, n)
	for i := uint32(0); i < n; i++ {
		itemOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		ir := f.at(itemOff)
		vis, err := ir.u8()
		if err != nil {
			return nil, err
		}
		ea, err := f.readAnnotation(ir, 0)
		if err != nil {
			return nil, fmt.Errorf("annotation item at 0x%x: %w", itemOff, err)
		}
		out = append(out, Annotation{Visibility: Visibility(vis), EncodedAnnotation: *ea})
	}
	return out, nil
}

func (f *File) annotationsDirectory(off uint32) (*AnnotationsDirectory, error) {
	r := f.at(off)
	classOff, _ := r.u32()
	nFields, _ := r.u32()
	nMethods, _ := r.u32()
	nParams, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("annotations directory: %w", err)
	}
	if (uint64(nFields)+uint64(nMethods)+uint64(nParams))*8 > uint64(len(f.data)) {
		return nil, malformed(int(off), "annotations directory sizes %d/%d/%d", nFields, nMethods, nParams)
	}
	d := &AnnotationsDirectory{
		Fields:     make(map[uint32][]Annotation, nFields),
		Methods:    make(map[uint32][]Annotation, nMethods),
		Parameters: make(map[uint32][][]Annotation, nParams),
	}
	if d.Class, err = f.annotationSet(classOff); err != nil {
		return nil, err
	}
	pair := func() (uint32, uint32, error) {
		idx, _ := r.u32()
		o, err := r.u32()
		return idx, o, err
	}
	for i := uint32(0); i < nFields; i++ {
		idx, o, err := pair()
		if err != nil {
			return nil, err
		}
		if d.Fields[idx], err = f.annotationSet(o); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nMethods; i++ {
		idx, o, err := pair()
		if err != nil {
			return nil, err
		}
		if d.Methods[idx], err = f.annotationSet(o); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nParams; i++ {
		idx, o, err := pair()
		if err != nil {
			return nil, err
		}
		lr := f.at(o)
		n, err := lr.u32()
		if err != nil {
			return nil, err
		}
		if uint64(n)*4 > uint64(len(f.data)) {
			return nil, malformed(int(o), "parameter annotation list size %d", n)
		}
		sets := make([][]Annotation, n)
		for j := range sets {
			so, err := lr.u32()
			if err != nil {
				return nil, err
			}
			if sets[j], err = f.annotationSet(so); err != nil {
				return nil, err
			}
		}
		d.Parameters[idx] = sets
	}
	return d, nil
}
