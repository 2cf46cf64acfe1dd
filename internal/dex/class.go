package dex

import (
	"fmt"
	"strings"
)

// AccessFlags is the access_flags bitfield.
type AccessFlags uint32

const (
	AccPublic               AccessFlags = 0x1
	AccPrivate              AccessFlags = 0x2
	AccProtected            AccessFlags = 0x4
	AccStatic               AccessFlags = 0x8
	AccFinal                AccessFlags = 0x10
	AccSynchronized         AccessFlags = 0x20
	AccVolatile             AccessFlags = 0x40
	AccBridge               AccessFlags = 0x40
	AccTransient            AccessFlags = 0x80
	AccVarargs              AccessFlags = 0x80
	AccNative               AccessFlags = 0x100
	AccInterface            AccessFlags = 0x200
	AccAbstract             AccessFlags = 0x400
	AccStrict               AccessFlags = 0x800
	AccSynthetic            AccessFlags = 0x1000
	AccAnnotation           AccessFlags = 0x2000
	AccEnum                 AccessFlags = 0x4000
	AccConstructor          AccessFlags = 0x10000
	AccDeclaredSynchronized AccessFlags = 0x20000
)

// FlagTarget selects which keyword table applies to a flag set.
type FlagTarget int

const (
	TargetClass FlagTarget = iota
	TargetField
	TargetMethod
)

type flagName struct {
	flag AccessFlags
	name string
	on   []FlagTarget
}

// flagNames is ordered the way smali prints modifiers.
var flagNames = []flagName{
	{AccPublic, "public", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccPrivate, "private", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccProtected, "protected", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccStatic, "static", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccFinal, "final", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccSynchronized, "synchronized", []FlagTarget{TargetMethod}},
	{AccVolatile, "volatile", []FlagTarget{TargetField}},
	{AccBridge, "bridge", []FlagTarget{TargetMethod}},
	{AccTransient, "transient", []FlagTarget{TargetField}},
	{AccVarargs, "varargs", []FlagTarget{TargetMethod}},
	{AccNative, "native", []FlagTarget{TargetMethod}},
	{AccInterface, "interface", []FlagTarget{TargetClass}},
	{AccAbstract, "abstract", []FlagTarget{TargetClass, TargetMethod}},
	{AccStrict, "strictfp", []FlagTarget{TargetMethod}},
	{AccSynthetic, "synthetic", []FlagTarget{TargetClass, TargetField, TargetMethod}},
	{AccAnnotation, "annotation", []FlagTarget{TargetClass}},
	{AccEnum, "enum", []FlagTarget{TargetClass, TargetField}},
	{AccConstructor, "constructor", []FlagTarget{TargetMethod}},
	{AccDeclaredSynchronized, "declared-synchronized", []FlagTarget{TargetMethod}},
}

// Names returns the modifier keywords for the target, in smali order.
func (a AccessFlags) Names(target FlagTarget) []string {
	var out []string
	for _, fn := range flagNames {
		if a&fn.flag == 0 {
			continue
		}
		for _, t := range fn.on {
			if t == target {
				out = append(out, fn.name)
				break
			}
		}
	}
	return out
}

// Format joins Names with spaces.
func (a AccessFlags) Format(target FlagTarget) string {
	return strings.Join(a.Names(target), " ")
}

func (a AccessFlags) Has(flag AccessFlags) bool { return a&flag != 0 }

// ClassDef is a class_def_item; a borrowing view valid as long as its File.
type ClassDef struct {
	file            *File
	Index           int
	Descriptor      string
	AccessFlags     AccessFlags
	superIdx        uint32
	interfacesOff   uint32
	sourceFileIdx   uint32
	annotationsOff  uint32
	classDataOff    uint32
	staticValuesOff uint32
}

// File returns the owning DEX file.
func (c *ClassDef) File() *File { return c.file }

// Superclass returns the superclass descriptor, or "" for java.lang.Object.
func (c *ClassDef) Superclass() (string, error) {
	return c.file.OptionalType(c.superIdx)
}

// Interfaces returns the implemented interface descriptors.
func (c *ClassDef) Interfaces() ([]string, error) {
	return c.file.typeList(c.interfacesOff)
}

// SourceFile returns the recorded source file name, or "".
func (c *ClassDef) SourceFile() (string, error) {
	return c.file.OptionalString(c.sourceFileIdx)
}

// StaticValues returns the initial values of the leading static fields.
func (c *ClassDef) StaticValues() ([]Value, error) {
	if c.staticValuesOff == 0 {
		return nil, nil
	}
	return c.file.EncodedArray(c.staticValuesOff)
}

// Annotations returns the annotations directory, empty when the class has none.
func (c *ClassDef) Annotations() (*AnnotationsDirectory, error) {
	if c.annotationsOff == 0 {
		return &AnnotationsDirectory{}, nil
	}
	return c.file.annotationsDirectory(c.annotationsOff)
}

// EncodedField is one field entry of class_data_item.
type EncodedField struct {
	Index       uint32
	AccessFlags AccessFlags
	Ref         FieldRef
}

// EncodedMethod is one method entry of class_data_item.
type EncodedMethod struct {
	Index       uint32
	AccessFlags AccessFlags
	CodeOff     uint32
	Ref         MethodRef
}

// ClassData is a decoded class_data_item.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// ClassData decodes the class body; marker interfaces have an empty one.
func (c *ClassDef) ClassData() (*ClassData, error) {
	cd := &ClassData{}
	if c.classDataOff == 0 {
		return cd, nil
	}
	r := c.file.at(c.classDataOff)
	var counts [4]uint32
	for i := range counts {
		n, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("class data of %s: %w", c.Descriptor, err)
		}
		counts[i] = n
	}
	var err error
	if cd.StaticFields, err = c.readFields(r, counts[0]); err != nil {
		return nil, err
	}
	if cd.InstanceFields, err = c.readFields(r, counts[1]); err != nil {
		return nil, err
	}
	if cd.DirectMethods, err = c.readMethods(r, counts[2]); err != nil {
		return nil, err
	}
	if cd.VirtualMethods, err = c.readMethods(r, counts[3]); err != nil {
		return nil, err
	}
	return cd, nil
}

func (c *ClassDef) readFields(r *reader, n uint32) ([]EncodedField, error) {
	if uint64(n) > uint64(len(r.data)) {
		return nil, malformed(r.pos, "field count %d", n)
	}
	out := make([]EncodedField, n)
	var idx uint32
	for i := range out {
		diff, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("fields of %s: %w", c.Descriptor, err)
		}
		flags, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("fields of %s: %w", c.Descriptor, err)
		}
		idx += diff
		ref, err := c.file.Field(idx)
		if err != nil {
			return nil, err
		}
		out[i] = EncodedField{Index: idx, AccessFlags: AccessFlags(flags), Ref: ref}
	}
	return out, nil
}

func (c *ClassDef) readMethods(r *reader, n uint32) ([]EncodedMethod, error) {
	if uint64(n) > uint64(len(r.data)) {
		return nil, malformed(r.pos, "method count %d", n)
	}
	out := make([]EncodedMethod, n)
	var idx uint32
	for i := range out {
		diff, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("methods of %s: %w", c.Descriptor, err)
		}
		flags, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("methods of %s: %w", c.Descriptor, err)
		}
		codeOff, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("methods of %s: %w", c.Descriptor, err)
		}
		idx += diff
		ref, err := c.file.Method(idx)
		if err != nil {
			return nil, err
		}
		out[i] = EncodedMethod{Index: idx, AccessFlags: AccessFlags(flags), CodeOff: codeOff, Ref: ref}
	}
	return out, nil
}
