// Package dextest assembles small, valid DEX images for tests.
package dextest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/klauspost/compress/zip"
)

const noIndex = 0xffffffff

// Class describes one class_def and its body.
type Class struct {
	Descriptor     string
	Access         uint32
	Super          string
	Interfaces     []string
	SourceFile     string
	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method
	StaticValues   []Value
	Annotations    []Annotation
}

// Field is an encoded_field.
type Field struct {
	Name        string
	Type        string
	Access      uint32
	Annotations []Annotation
}

// Method is an encoded_method with an optional body.
type Method struct {
	Name        string
	Return      string
	Params      []string
	Access      uint32
	Code        *Code
	Annotations []Annotation
}

// Code is a code_item.
type Code struct {
	Registers int
	Ins       int
	Outs      int
	Insns     []uint16
	Tries     []Try
	Debug     *Debug
}

// Try is a try_item plus its handler.
type Try struct {
	Start       int
	Count       int
	Catches     []Catch
	CatchAll    int
	HasCatchAll bool
}

// Catch is one typed handler.
type Catch struct {
	Type string
	Addr int
}

// DebugKind selects a debug event.
type DebugKind int

const (
	DebugLine DebugKind = iota
	DebugStartLocal
	DebugEndLocal
	DebugPrologue
)

// DebugEvent is one entry of a debug_info_item, in ascending address order.
type DebugEvent struct {
	Kind DebugKind
	Addr int
	Line int
	Reg  int
	Name string
	Type string
}

// Debug is a debug_info_item.
type Debug struct {
	LineStart  int
	ParamNames []string
	Events     []DebugEvent
}

// Annotation is an annotation_item.
type Annotation struct {
	Visibility byte
	Type       string
	Elements   []Element
}

// Element is an annotation name/value pair.
type Element struct {
	Name  string
	Value Value
}

// Value is an encoded_value to be written.
type Value struct {
	kind  byte
	i     int64
	s     string
	field [3]string
	arr   []Value
	ann   *Annotation
}

func IntValue(v int32) Value      { return Value{kind: 0x04, i: int64(v)} }
func LongValue(v int64) Value     { return Value{kind: 0x06, i: v} }
func StringValue(s string) Value  { return Value{kind: 0x17, s: s} }
func TypeValue(desc string) Value { return Value{kind: 0x18, s: desc} }
func BoolValue(b bool) Value {
	if b {
		return Value{kind: 0x1f, i: 1}
	}
	return Value{kind: 0x1f}
}
func NullValue() Value              { return Value{kind: 0x1e} }
func ArrayValue(vs ...Value) Value  { return Value{kind: 0x1c, arr: vs} }
func EnumValue(class, name, typ string) Value {
	return Value{kind: 0x1b, field: [3]string{class, name, typ}}
}
func AnnotationValue(a Annotation) Value { return Value{kind: 0x1d, ann: &a} }

// Builder interns ids in insertion order and lays the file out on Bytes.
type Builder struct {
	Version string

	strings   []string
	stringIdx map[string]uint32
	types     []uint32
	typeIdx   map[string]uint32
	protos    [][3]uint32
	protoIdx  map[string]uint32
	protoArgs [][]string
	fields    [][3]uint32
	fieldIdx  map[string]uint32
	methods   [][3]uint32
	methodIdx map[string]uint32
	classes   []Class
}

// New returns an empty builder writing version 035.
func New() *Builder {
	return &Builder{
		Version:   "035",
		stringIdx: map[string]uint32{},
		typeIdx:   map[string]uint32{},
		protoIdx:  map[string]uint32{},
		fieldIdx:  map[string]uint32{},
		methodIdx: map[string]uint32{},
	}
}

// String interns s.
func (b *Builder) String(s string) uint32 {
	if i, ok := b.stringIdx[s]; ok {
		return i
	}
	i := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIdx[s] = i
	return i
}

// Type interns a type descriptor.
func (b *Builder) Type(desc string) uint32 {
	if i, ok := b.typeIdx[desc]; ok {
		return i
	}
	s := b.String(desc)
	i := uint32(len(b.types))
	b.types = append(b.types, s)
	b.typeIdx[desc] = i
	return i
}

func shorty(desc string) string {
	if strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[") {
		return "L"
	}
	return desc
}

// Proto interns a prototype.
func (b *Builder) Proto(ret string, params ...string) uint32 {
	key := "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.protoIdx[key]; ok {
		return i
	}
	sh := shorty(ret)
	for _, p := range params {
		sh += shorty(p)
		b.Type(p)
	}
	i := uint32(len(b.protos))
	b.protos = append(b.protos, [3]uint32{b.String(sh), b.Type(ret), 0})
	b.protoArgs = append(b.protoArgs, params)
	b.protoIdx[key] = i
	return i
}

// Field interns a field reference.
func (b *Builder) Field(class, name, typ string) uint32 {
	key := class + "->" + name + ":" + typ
	if i, ok := b.fieldIdx[key]; ok {
		return i
	}
	i := uint32(len(b.fields))
	b.fields = append(b.fields, [3]uint32{b.Type(class), b.Type(typ), b.String(name)})
	b.fieldIdx[key] = i
	return i
}

// Method interns a method reference.
func (b *Builder) Method(class, name, ret string, params ...string) uint32 {
	key := class + "->" + name + "(" + strings.Join(params, "") + ")" + ret
	if i, ok := b.methodIdx[key]; ok {
		return i
	}
	i := uint32(len(b.methods))
	b.methods = append(b.methods, [3]uint32{b.Type(class), b.Proto(ret, params...), b.String(name)})
	b.methodIdx[key] = i
	return i
}

// AddClass interns everything the class refers to and queues it for layout.
func (b *Builder) AddClass(c Class) {
	b.Type(c.Descriptor)
	if c.Super != "" {
		b.Type(c.Super)
	}
	for _, i := range c.Interfaces {
		b.Type(i)
	}
	if c.SourceFile != "" {
		b.String(c.SourceFile)
	}
	for _, fs := range [][]Field{c.StaticFields, c.InstanceFields} {
		for _, f := range fs {
			b.Field(c.Descriptor, f.Name, f.Type)
			b.internAnnotations(f.Annotations)
		}
	}
	for _, ms := range [][]Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range ms {
			b.Method(c.Descriptor, m.Name, m.Return, m.Params...)
			b.internAnnotations(m.Annotations)
			if m.Code == nil {
				continue
			}
			for _, t := range m.Code.Tries {
				for _, h := range t.Catches {
					b.Type(h.Type)
				}
			}
			if d := m.Code.Debug; d != nil {
				for _, n := range d.ParamNames {
					if n != "" {
						b.String(n)
					}
				}
				for _, e := range d.Events {
					if e.Kind == DebugStartLocal {
						b.String(e.Name)
						b.Type(e.Type)
					}
				}
			}
		}
	}
	for _, v := range c.StaticValues {
		b.internValue(v)
	}
	b.internAnnotations(c.Annotations)
	b.classes = append(b.classes, c)
}

func (b *Builder) internAnnotations(as []Annotation) {
	for _, a := range as {
		b.Type(a.Type)
		for _, e := range a.Elements {
			b.String(e.Name)
			b.internValue(e.Value)
		}
	}
}

func (b *Builder) internValue(v Value) {
	switch v.kind {
	case 0x17:
		b.String(v.s)
	case 0x18:
		b.Type(v.s)
	case 0x1b:
		b.Field(v.field[0], v.field[1], v.field[2])
	case 0x1c:
		for _, e := range v.arr {
			b.internValue(e)
		}
	case 0x1d:
		b.internAnnotations([]Annotation{*v.ann})
	}
}

type out struct {
	bytes.Buffer
	base int
}

func (o *out) off() uint32 { return uint32(o.base + o.Len()) }

func (o *out) align4() {
	for (o.base+o.Len())%4 != 0 {
		o.WriteByte(0)
	}
}

func (o *out) u16(v uint16) { _ = binary.Write(o, binary.LittleEndian, v) }
func (o *out) u32(v uint32) { _ = binary.Write(o, binary.LittleEndian, v) }

func (o *out) uleb(v uint32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			o.WriteByte(c | 0x80)
			continue
		}
		o.WriteByte(c)
		return
	}
}

func (o *out) sleb(v int32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			o.WriteByte(c)
			return
		}
		o.WriteByte(c | 0x80)
	}
}

func mutf8(s string) []byte {
	var buf []byte
	for _, u := range utf16.Encode([]rune(s)) {
		switch {
		case u != 0 && u < 0x80:
			buf = append(buf, byte(u))
		case u < 0x800:
			buf = append(buf, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
		default:
			buf = append(buf, 0xe0|byte(u>>12), 0x80|byte(u>>6&0x3f), 0x80|byte(u&0x3f))
		}
	}
	return buf
}

func (b *Builder) value(o *out, v Value) {
	switch v.kind {
	case 0x04, 0x06:
		size := 8
		if v.kind == 0x04 {
			size = 4
		}
		raw := make([]byte, 8)
		binary.LittleEndian.PutUint64(raw, uint64(v.i))
		o.WriteByte(byte(size-1)<<5 | v.kind)
		o.Write(raw[:size])
	case 0x17, 0x18, 0x1b:
		var idx uint32
		switch v.kind {
		case 0x17:
			idx = b.stringIdx[v.s]
		case 0x18:
			idx = b.typeIdx[v.s]
		default:
			idx = b.Field(v.field[0], v.field[1], v.field[2])
		}
		o.WriteByte(3<<5 | v.kind)
		o.u32(idx)
	case 0x1c:
		o.WriteByte(v.kind)
		o.uleb(uint32(len(v.arr)))
		for _, e := range v.arr {
			b.value(o, e)
		}
	case 0x1d:
		o.WriteByte(v.kind)
		b.encodedAnnotation(o, *v.ann)
	case 0x1e:
		o.WriteByte(v.kind)
	case 0x1f:
		o.WriteByte(byte(v.i)<<5 | v.kind)
	}
}

func (b *Builder) encodedAnnotation(o *out, a Annotation) {
	o.uleb(b.typeIdx[a.Type])
	o.uleb(uint32(len(a.Elements)))
	for _, e := range a.Elements {
		o.uleb(b.stringIdx[e.Name])
		b.value(o, e.Value)
	}
}

func (b *Builder) debugInfo(o *out, d *Debug) uint32 {
	off := o.off()
	o.uleb(uint32(d.LineStart))
	o.uleb(uint32(len(d.ParamNames)))
	for _, n := range d.ParamNames {
		if n == "" {
			o.uleb(0)
		} else {
			o.uleb(b.stringIdx[n] + 1)
		}
	}
	addr, line := 0, d.LineStart
	for _, e := range d.Events {
		if e.Addr > addr {
			o.WriteByte(0x01)
			o.uleb(uint32(e.Addr - addr))
			addr = e.Addr
		}
		switch e.Kind {
		case DebugLine:
			if e.Line != line {
				o.WriteByte(0x02)
				o.sleb(int32(e.Line - line))
				line = e.Line
			}
			// special opcode with line += 0, addr += 0
			o.WriteByte(0x0e)
		case DebugStartLocal:
			o.WriteByte(0x03)
			o.uleb(uint32(e.Reg))
			o.uleb(b.stringIdx[e.Name] + 1)
			o.uleb(b.typeIdx[e.Type] + 1)
		case DebugEndLocal:
			o.WriteByte(0x05)
			o.uleb(uint32(e.Reg))
		case DebugPrologue:
			o.WriteByte(0x07)
		}
	}
	o.WriteByte(0x00)
	return off
}

func (b *Builder) codeItem(o *out, c *Code, debugOff uint32) uint32 {
	o.align4()
	off := o.off()
	o.u16(uint16(c.Registers))
	o.u16(uint16(c.Ins))
	o.u16(uint16(c.Outs))
	o.u16(uint16(len(c.Tries)))
	o.u32(debugOff)
	o.u32(uint32(len(c.Insns)))
	for _, w := range c.Insns {
		o.u16(w)
	}
	if len(c.Tries) == 0 {
		return off
	}
	if len(c.Insns)%2 == 1 {
		o.u16(0)
	}
	var handlers out
	handlerOffs := make([]int, len(c.Tries))
	handlers.uleb(uint32(len(c.Tries)))
	for i, t := range c.Tries {
		handlerOffs[i] = handlers.Len()
		size := int32(len(t.Catches))
		if t.HasCatchAll {
			size = -size
		}
		handlers.sleb(size)
		for _, h := range t.Catches {
			handlers.uleb(b.typeIdx[h.Type])
			handlers.uleb(uint32(h.Addr))
		}
		if t.HasCatchAll {
			handlers.uleb(uint32(t.CatchAll))
		}
	}
	for i, t := range c.Tries {
		o.u32(uint32(t.Start))
		o.u16(uint16(t.Count))
		o.u16(uint16(handlerOffs[i]))
	}
	o.Write(handlers.Bytes())
	return off
}

func (b *Builder) annotationSet(o *out, items []uint32) uint32 {
	o.align4()
	off := o.off()
	o.u32(uint32(len(items)))
	for _, it := range items {
		o.u32(it)
	}
	return off
}

func (b *Builder) annotationItems(o *out, as []Annotation) []uint32 {
	var offs []uint32
	for _, a := range as {
		offs = append(offs, o.off())
		o.WriteByte(a.Visibility)
		b.encodedAnnotation(o, a)
	}
	return offs
}

// Bytes lays the file out and returns it with a valid checksum.
func (b *Builder) Bytes() []byte {
	const headerSize = 0x70
	nStrings, nTypes, nProtos := len(b.strings), len(b.types), len(b.protos)
	nFields, nMethods, nClasses := len(b.fields), len(b.methods), len(b.classes)

	stringIDsOff := headerSize
	typeIDsOff := stringIDsOff + 4*nStrings
	protoIDsOff := typeIDsOff + 4*nTypes
	fieldIDsOff := protoIDsOff + 12*nProtos
	methodIDsOff := fieldIDsOff + 8*nFields
	classDefsOff := methodIDsOff + 8*nMethods
	dataOff := classDefsOff + 32*nClasses
	for dataOff%4 != 0 {
		dataOff++
	}

	data := &out{base: dataOff}

	stringOffs := make([]uint32, nStrings)
	for i, s := range b.strings {
		stringOffs[i] = data.off()
		data.uleb(uint32(len(utf16.Encode([]rune(s)))))
		data.Write(mutf8(s))
		data.WriteByte(0)
	}

	typeList := func(ts []string) uint32 {
		if len(ts) == 0 {
			return 0
		}
		data.align4()
		off := data.off()
		data.u32(uint32(len(ts)))
		for _, t := range ts {
			data.u16(uint16(b.typeIdx[t]))
		}
		return off
	}
	for i := range b.protos {
		b.protos[i][2] = typeList(b.protoArgs[i])
	}

	type classOffs struct {
		interfaces, annotations, classData, staticValues uint32
	}
	offs := make([]classOffs, nClasses)
	for i, c := range b.classes {
		offs[i].interfaces = typeList(c.Interfaces)
	}

	codeOffs := map[string]uint32{}
	for _, c := range b.classes {
		for _, m := range append(append([]Method(nil), c.DirectMethods...), c.VirtualMethods...) {
			if m.Code == nil {
				continue
			}
			var debugOff uint32
			if m.Code.Debug != nil {
				debugOff = b.debugInfo(data, m.Code.Debug)
			}
			key := fmt.Sprintf("%s->%s%d", c.Descriptor, m.Name, b.Method(c.Descriptor, m.Name, m.Return, m.Params...))
			codeOffs[key] = b.codeItem(data, m.Code, debugOff)
		}
	}

	for i, c := range b.classes {
		if len(c.StaticValues) > 0 {
			offs[i].staticValues = data.off()
			data.uleb(uint32(len(c.StaticValues)))
			for _, v := range c.StaticValues {
				b.value(data, v)
			}
		}
	}

	for i, c := range b.classes {
		type member struct {
			idx uint32
			set uint32
		}
		var fieldSets, methodSets []member
		var classSet uint32
		if len(c.Annotations) > 0 {
			classSet = b.annotationSet(data, b.annotationItems(data, c.Annotations))
		}
		for _, fs := range [][]Field{c.StaticFields, c.InstanceFields} {
			for _, f := range fs {
				if len(f.Annotations) > 0 {
					set := b.annotationSet(data, b.annotationItems(data, f.Annotations))
					fieldSets = append(fieldSets, member{b.Field(c.Descriptor, f.Name, f.Type), set})
				}
			}
		}
		for _, ms := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range ms {
				if len(m.Annotations) > 0 {
					set := b.annotationSet(data, b.annotationItems(data, m.Annotations))
					methodSets = append(methodSets, member{b.Method(c.Descriptor, m.Name, m.Return, m.Params...), set})
				}
			}
		}
		if classSet == 0 && len(fieldSets) == 0 && len(methodSets) == 0 {
			continue
		}
		sort.Slice(fieldSets, func(i, j int) bool { return fieldSets[i].idx < fieldSets[j].idx })
		sort.Slice(methodSets, func(i, j int) bool { return methodSets[i].idx < methodSets[j].idx })
		data.align4()
		offs[i].annotations = data.off()
		data.u32(classSet)
		data.u32(uint32(len(fieldSets)))
		data.u32(uint32(len(methodSets)))
		data.u32(0)
		for _, m := range fieldSets {
			data.u32(m.idx)
			data.u32(m.set)
		}
		for _, m := range methodSets {
			data.u32(m.idx)
			data.u32(m.set)
		}
	}

	for i, c := range b.classes {
		empty := len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) == 0
		if empty {
			continue
		}
		offs[i].classData = data.off()
		data.uleb(uint32(len(c.StaticFields)))
		data.uleb(uint32(len(c.InstanceFields)))
		data.uleb(uint32(len(c.DirectMethods)))
		data.uleb(uint32(len(c.VirtualMethods)))
		for _, fs := range [][]Field{c.StaticFields, c.InstanceFields} {
			prev := uint32(0)
			for _, f := range fs {
				idx := b.Field(c.Descriptor, f.Name, f.Type)
				data.uleb(idx - prev)
				data.uleb(f.Access)
				prev = idx
			}
		}
		for _, ms := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			prev := uint32(0)
			for _, m := range ms {
				idx := b.Method(c.Descriptor, m.Name, m.Return, m.Params...)
				data.uleb(idx - prev)
				data.uleb(m.Access)
				data.uleb(codeOffs[fmt.Sprintf("%s->%s%d", c.Descriptor, m.Name, idx)])
				prev = idx
			}
		}
	}

	file := &out{}
	file.Write([]byte("dex\n" + b.Version + "\x00"))
	file.u32(0)
	file.Write(make([]byte, 20))
	fileSize := dataOff + data.Len()
	file.u32(uint32(fileSize))
	file.u32(headerSize)
	file.u32(0x12345678)
	file.u32(0)
	file.u32(0)
	file.u32(0)
	table := func(n, off int) {
		file.u32(uint32(n))
		if n == 0 {
			file.u32(0)
		} else {
			file.u32(uint32(off))
		}
	}
	table(nStrings, stringIDsOff)
	table(nTypes, typeIDsOff)
	table(nProtos, protoIDsOff)
	table(nFields, fieldIDsOff)
	table(nMethods, methodIDsOff)
	table(nClasses, classDefsOff)
	file.u32(uint32(data.Len()))
	file.u32(uint32(dataOff))

	for _, o := range stringOffs {
		file.u32(o)
	}
	for _, s := range b.types {
		file.u32(s)
	}
	for _, p := range b.protos {
		file.u32(p[0])
		file.u32(p[1])
		file.u32(p[2])
	}
	for _, f := range b.fields {
		file.u16(uint16(f[0]))
		file.u16(uint16(f[1]))
		file.u32(f[2])
	}
	for _, m := range b.methods {
		file.u16(uint16(m[0]))
		file.u16(uint16(m[1]))
		file.u32(m[2])
	}
	for i, c := range b.classes {
		file.u32(b.typeIdx[c.Descriptor])
		file.u32(c.Access)
		if c.Super == "" {
			file.u32(noIndex)
		} else {
			file.u32(b.typeIdx[c.Super])
		}
		file.u32(offs[i].interfaces)
		if c.SourceFile == "" {
			file.u32(noIndex)
		} else {
			file.u32(b.stringIdx[c.SourceFile])
		}
		file.u32(offs[i].annotations)
		file.u32(offs[i].classData)
		file.u32(offs[i].staticValues)
	}
	for file.Len() < dataOff {
		file.WriteByte(0)
	}
	file.Write(data.Bytes())

	raw := file.Bytes()
	binary.LittleEndian.PutUint32(raw[8:], adler32.Checksum(raw[12:]))
	return raw
}

// Odex wraps a DEX image in a dexopt header of the given version.
func Odex(version int, dexBytes []byte) []byte {
	o := &out{}
	o.Write([]byte(fmt.Sprintf("dey\n%03d\x00", version)))
	o.u32(40)
	o.u32(uint32(len(dexBytes)))
	o.u32(uint32(40 + len(dexBytes)))
	o.u32(0)
	o.u32(uint32(40 + len(dexBytes)))
	o.u32(0)
	o.u32(0)
	o.u32(0)
	o.Write(dexBytes)
	return o.Bytes()
}

// Entry is one archive member.
type Entry struct {
	Name string
	Data []byte
}

// Zip packs entries, in order, into a zip archive.
func Zip(entries ...Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
