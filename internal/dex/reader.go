package dex

import (
	"encoding/binary"
	"fmt"
)

// reader is a bounds-checked cursor over the file bytes.
type reader struct {
	data []byte
	pos  int
}

func (f *File) at(off uint32) *reader {
	return &reader{data: f.data, pos: int(off)}
}

func (r *reader) fail(what string) error {
	return &FormatError{Offset: r.pos, Msg: fmt.Sprintf("truncated %s", what)}
}

func (r *reader) u8() (byte, error) {
	if r.pos < 0 || r.pos+1 > len(r.data) {
		return 0, r.fail("u1")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.pos < 0 || r.pos+2 > len(r.data) {
		return 0, r.fail("u2")
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos < 0 || r.pos+4 > len(r.data) {
		return 0, r.fail("u4")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos < 0 || r.pos+n > len(r.data) {
		return nil, r.fail(fmt.Sprintf("%d bytes", n))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uleb128() (uint32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, &FormatError{Offset: r.pos, Msg: "uleb128 longer than 5 bytes"}
}

// uleb128p1 decodes a uleb128 value biased by one; NoIndex comes back for -1.
func (r *reader) uleb128p1() (uint32, error) {
	v, err := r.uleb128()
	return v - 1, err
}

func (r *reader) sleb128() (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, &FormatError{Offset: r.pos, Msg: "sleb128 longer than 5 bytes"}
}
