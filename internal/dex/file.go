// Package dex parses Dalvik executable files.
//
// A File is a read-only view over its backing bytes: tables are decoded on
// access and nothing is mutated after Parse returns, so a File and every value
// derived from it may be shared between goroutines.
package dex

import (
	"fmt"
	"hash/adler32"
)

// File is a parsed DEX file.
type File struct {
	data        []byte
	Header      Header
	odexVersion int
	classDefs   []*ClassDef
	handles     []uint32
	callSites   []uint32
}

// Parse parses a DEX or ODEX image. The slice is retained, not copied.
func Parse(data []byte) (*File, error) {
	if IsOdex(data) {
		oh, err := parseOdexHeader(data)
		if err != nil {
			return nil, err
		}
		f, err := parseDex(data[oh.DexOffset : oh.DexOffset+oh.DexLength])
		if err != nil {
			return nil, fmt.Errorf("embedded dex: %w", err)
		}
		f.odexVersion = oh.Version
		return f, nil
	}
	return parseDex(data)
}

func parseDex(data []byte) (*File, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	f := &File{data: data, Header: h}
	if err := f.readMapList(); err != nil {
		return nil, err
	}
	if err := f.readClassDefs(); err != nil {
		return nil, err
	}
	return f, nil
}

// OdexVersion returns the dexopt version when the file came from an ODEX wrapper.
func (f *File) OdexVersion() (int, bool) {
	return f.odexVersion, f.odexVersion != 0
}

// Bytes returns the backing DEX bytes.
func (f *File) Bytes() []byte { return f.data }

// VerifyChecksum compares the header checksum with the adler32 of the file body.
func (f *File) VerifyChecksum() error {
	end := len(f.data)
	if int(f.Header.FileSize) <= end && f.Header.FileSize >= 12 {
		end = int(f.Header.FileSize)
	}
	sum := adler32.Checksum(f.data[12:end])
	if sum != f.Header.Checksum {
		return malformed(8, "checksum mismatch: header 0x%08x, computed 0x%08x", f.Header.Checksum, sum)
	}
	return nil
}

// ClassDefs returns the class definitions in file order.
func (f *File) ClassDefs() []*ClassDef { return f.classDefs }

const (
	mapTypeCallSiteID   = 0x0007
	mapTypeMethodHandle = 0x0008
)

func (f *File) readMapList() error {
	if f.Header.MapOff == 0 {
		return nil
	}
	r := f.at(f.Header.MapOff)
	n, err := r.u32()
	if err != nil {
		return fmt.Errorf("map list: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		typ, err := r.u16()
		if err != nil {
			return fmt.Errorf("map item %d: %w", i, err)
		}
		r.pos += 2
		size, err := r.u32()
		if err != nil {
			return fmt.Errorf("map item %d: %w", i, err)
		}
		off, err := r.u32()
		if err != nil {
			return fmt.Errorf("map item %d: %w", i, err)
		}
		switch typ {
		case mapTypeMethodHandle:
			if uint64(off)+uint64(size)*mhItemSize > uint64(len(f.data)) {
				return malformed(int(f.Header.MapOff), "method handle section of %d items at 0x%x outside file", size, off)
			}
			f.handles = make([]uint32, size)
			for j := range f.handles {
				f.handles[j] = off + uint32(j)*mhItemSize
			}
		case mapTypeCallSiteID:
			if uint64(off)+uint64(size)*4 > uint64(len(f.data)) {
				return malformed(int(f.Header.MapOff), "call site section of %d items at 0x%x outside file", size, off)
			}
			cr := f.at(off)
			f.callSites = make([]uint32, size)
			for j := range f.callSites {
				if f.callSites[j], err = cr.u32(); err != nil {
					return fmt.Errorf("call site id %d: %w", j, err)
				}
			}
		}
	}
	return nil
}

func (f *File) readClassDefs() error {
	h := f.Header
	f.classDefs = make([]*ClassDef, 0, h.ClassDefsSize)
	for i := uint32(0); i < h.ClassDefsSize; i++ {
		r := f.at(h.ClassDefsOff + i*classDefSize)
		var raw [8]uint32
		for j := range raw {
			v, err := r.u32()
			if err != nil {
				return fmt.Errorf("class_def %d: %w", i, err)
			}
			raw[j] = v
		}
		desc, err := f.Type(raw[0])
		if err != nil {
			return fmt.Errorf("class_def %d: %w", i, err)
		}
		f.classDefs = append(f.classDefs, &ClassDef{
			file:            f,
			Index:           int(i),
			Descriptor:      desc,
			AccessFlags:     AccessFlags(raw[1]),
			superIdx:        raw[2],
			interfacesOff:   raw[3],
			sourceFileIdx:   raw[4],
			annotationsOff:  raw[5],
			classDataOff:    raw[6],
			staticValuesOff: raw[7],
		})
	}
	return nil
}

// String returns string_ids[idx].
func (f *File) String(idx uint32) (string, error) {
	if idx >= f.Header.StringIDsSize {
		return "", malformed(int(f.Header.StringIDsOff), "string index %d out of range (%d)", idx, f.Header.StringIDsSize)
	}
	off, err := f.at(f.Header.StringIDsOff + idx*4).u32()
	if err != nil {
		return "", err
	}
	r := f.at(off)
	n, err := r.uleb128()
	if err != nil {
		return "", fmt.Errorf("string %d: %w", idx, err)
	}
	start := r.pos
	end := start
	for end < len(f.data) && f.data[end] != 0 {
		end++
	}
	if end >= len(f.data) {
		return "", malformed(start, "unterminated string %d", idx)
	}
	return decodeMUTF8(f.data[start:end], int(n)), nil
}

// OptionalString resolves idx, mapping NoIndex to "".
func (f *File) OptionalString(idx uint32) (string, error) {
	if idx == NoIndex {
		return "", nil
	}
	return f.String(idx)
}

// Type returns the descriptor of type_ids[idx].
func (f *File) Type(idx uint32) (string, error) {
	if idx >= f.Header.TypeIDsSize {
		return "", malformed(int(f.Header.TypeIDsOff), "type index %d out of range (%d)", idx, f.Header.TypeIDsSize)
	}
	sidx, err := f.at(f.Header.TypeIDsOff + idx*4).u32()
	if err != nil {
		return "", err
	}
	return f.String(sidx)
}

// OptionalType resolves idx, mapping NoIndex to "".
func (f *File) OptionalType(idx uint32) (string, error) {
	if idx == NoIndex {
		return "", nil
	}
	return f.Type(idx)
}

func (f *File) typeList(off uint32) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	r := f.at(off)
	n, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("type list: %w", err)
	}
	if uint64(n)*2 > uint64(len(f.data)) {
		return nil, malformed(int(off), "type list size %d", n)
	}
	out := make([]string, n)
	for i := range out {
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		if out[i], err = f.Type(uint32(idx)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Proto is a resolved proto_id_item.
type Proto struct {
	Shorty string
	Return string
	Params []string
}

// Descriptor renders the proto as `(params)return`.
func (p Proto) Descriptor() string {
	s := "("
	for _, t := range p.Params {
		s += t
	}
	return s + ")" + p.Return
}

// Proto resolves proto_ids[idx].
func (f *File) Proto(idx uint32) (Proto, error) {
	var p Proto
	if idx >= f.Header.ProtoIDsSize {
		return p, malformed(int(f.Header.ProtoIDsOff), "proto index %d out of range (%d)", idx, f.Header.ProtoIDsSize)
	}
	r := f.at(f.Header.ProtoIDsOff + idx*protoIDSize)
	shorty, _ := r.u32()
	ret, _ := r.u32()
	params, err := r.u32()
	if err != nil {
		return p, err
	}
	if p.Shorty, err = f.String(shorty); err != nil {
		return p, err
	}
	if p.Return, err = f.Type(ret); err != nil {
		return p, err
	}
	if p.Params, err = f.typeList(params); err != nil {
		return p, err
	}
	return p, nil
}

// FieldRef is a resolved field_id_item.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

// Field resolves field_ids[idx].
func (f *File) Field(idx uint32) (FieldRef, error) {
	var ref FieldRef
	if idx >= f.Header.FieldIDsSize {
		return ref, malformed(int(f.Header.FieldIDsOff), "field index %d out of range (%d)", idx, f.Header.FieldIDsSize)
	}
	r := f.at(f.Header.FieldIDsOff + idx*fieldIDSize)
	class, _ := r.u16()
	typ, _ := r.u16()
	name, err := r.u32()
	if err != nil {
		return ref, err
	}
	if ref.Class, err = f.Type(uint32(class)); err != nil {
		return ref, err
	}
	if ref.Type, err = f.Type(uint32(typ)); err != nil {
		return ref, err
	}
	if ref.Name, err = f.String(name); err != nil {
		return ref, err
	}
	return ref, nil
}

// MethodRef is a resolved method_id_item.
type MethodRef struct {
	Class string
	Name  string
	Proto Proto
}

// Method resolves method_ids[idx].
func (f *File) Method(idx uint32) (MethodRef, error) {
	var ref MethodRef
	if idx >= f.Header.MethodIDsSize {
		return ref, malformed(int(f.Header.MethodIDsOff), "method index %d out of range (%d)", idx, f.Header.MethodIDsSize)
	}
	r := f.at(f.Header.MethodIDsOff + idx*methodIDSize)
	class, _ := r.u16()
	proto, _ := r.u16()
	name, err := r.u32()
	if err != nil {
		return ref, err
	}
	if ref.Class, err = f.Type(uint32(class)); err != nil {
		return ref, err
	}
	if ref.Proto, err = f.Proto(uint32(proto)); err != nil {
		return ref, err
	}
	if ref.Name, err = f.String(name); err != nil {
		return ref, err
	}
	return ref, nil
}

// MethodHandleKind is method_handle_item.method_handle_type.
type MethodHandleKind uint16

var methodHandleKinds = []string{
	"static-put", "static-get", "instance-put", "instance-get",
	"invoke-static", "invoke-instance", "invoke-constructor", "invoke-direct", "invoke-interface",
}

func (k MethodHandleKind) String() string {
	if int(k) < len(methodHandleKinds) {
		return methodHandleKinds[k]
	}
	return fmt.Sprintf("method-handle-%d", uint16(k))
}

// IsField reports whether the handle targets a field accessor.
func (k MethodHandleKind) IsField() bool { return k <= 3 }

// MethodHandle is a resolved method_handle_item.
type MethodHandle struct {
	Kind   MethodHandleKind
	Field  FieldRef
	Method MethodRef
}

// MethodHandle resolves method handle idx from the map list.
func (f *File) MethodHandle(idx uint32) (MethodHandle, error) {
	var mh MethodHandle
	if int(idx) >= len(f.handles) {
		return mh, malformed(int(f.Header.MapOff), "method handle index %d out of range (%d)", idx, len(f.handles))
	}
	r := f.at(f.handles[idx])
	kind, _ := r.u16()
	r.pos += 2
	target, err := r.u16()
	if err != nil {
		return mh, err
	}
	mh.Kind = MethodHandleKind(kind)
	if mh.Kind.IsField() {
		mh.Field, err = f.Field(uint32(target))
	} else {
		mh.Method, err = f.Method(uint32(target))
	}
	return mh, err
}

// CallSite resolves call_site_ids[idx] into its encoded array.
func (f *File) CallSite(idx uint32) ([]Value, error) {
	if int(idx) >= len(f.callSites) {
		return nil, malformed(int(f.Header.MapOff), "call site index %d out of range (%d)", idx, len(f.callSites))
	}
	return f.EncodedArray(f.callSites[idx])
}
