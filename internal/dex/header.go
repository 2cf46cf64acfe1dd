package dex

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

const (
	HeaderSize    = 0x70
	OdexHeaderLen = 40
	EndianConst   = 0x12345678
	ReverseEndian = 0x78563412
	NoIndex       = 0xffffffff

	classDefSize = 32
	protoIDSize  = 12
	fieldIDSize  = 8
	methodIDSize = 8
	mhItemSize   = 8

	minVersion = 35
	maxVersion = 41
)

var (
	dexMagic  = []byte("dex\n")
	odexMagic = []byte("dey\n")
)

// Header mirrors header_item.
type Header struct {
	Version       int
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// IsDex reports whether b starts with a DEX magic.
func IsDex(b []byte) bool {
	return len(b) >= 8 && bytes.Equal(b[:4], dexMagic) && validVersion(b[4:8]) > 0
}

// IsOdex reports whether b starts with an ODEX magic.
func IsOdex(b []byte) bool {
	return len(b) >= 8 && bytes.Equal(b[:4], odexMagic) && validVersion(b[4:8]) > 0
}

// validVersion parses the three digit version plus NUL, returning 0 when malformed.
func validVersion(b []byte) int {
	if len(b) != 4 || b[3] != 0 {
		return 0
	}
	v, err := strconv.Atoi(string(b[:3]))
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

func parseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, malformed(0, "file too short for header (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], dexMagic) {
		return h, &FormatError{Offset: 0, Msg: "bad magic", Err: ErrNotDex}
	}
	h.Version = validVersion(data[4:8])
	if h.Version < minVersion || h.Version > maxVersion {
		return h, malformed(4, "unsupported dex version %q", data[4:7])
	}

	le := binary.LittleEndian
	h.Checksum = le.Uint32(data[0x08:])
	copy(h.Signature[:], data[0x0c:0x20])
	h.FileSize = le.Uint32(data[0x20:])
	h.HeaderSize = le.Uint32(data[0x24:])
	h.EndianTag = le.Uint32(data[0x28:])
	if h.EndianTag == ReverseEndian {
		return h, malformed(0x28, "big-endian dex files are not supported")
	}
	if h.EndianTag != EndianConst {
		return h, malformed(0x28, "bad endian tag 0x%08x", h.EndianTag)
	}
	h.LinkSize = le.Uint32(data[0x2c:])
	h.LinkOff = le.Uint32(data[0x30:])
	h.MapOff = le.Uint32(data[0x34:])
	h.StringIDsSize = le.Uint32(data[0x38:])
	h.StringIDsOff = le.Uint32(data[0x3c:])
	h.TypeIDsSize = le.Uint32(data[0x40:])
	h.TypeIDsOff = le.Uint32(data[0x44:])
	h.ProtoIDsSize = le.Uint32(data[0x48:])
	h.ProtoIDsOff = le.Uint32(data[0x4c:])
	h.FieldIDsSize = le.Uint32(data[0x50:])
	h.FieldIDsOff = le.Uint32(data[0x54:])
	h.MethodIDsSize = le.Uint32(data[0x58:])
	h.MethodIDsOff = le.Uint32(data[0x5c:])
	h.ClassDefsSize = le.Uint32(data[0x60:])
	h.ClassDefsOff = le.Uint32(data[0x64:])
	h.DataSize = le.Uint32(data[0x68:])
	h.DataOff = le.Uint32(data[0x6c:])

	tables := []struct {
		name       string
		size, off  uint32
		entrySize  uint32
		headerSlot int
	}{
		{"string_ids", h.StringIDsSize, h.StringIDsOff, 4, 0x38},
		{"type_ids", h.TypeIDsSize, h.TypeIDsOff, 4, 0x40},
		{"proto_ids", h.ProtoIDsSize, h.ProtoIDsOff, protoIDSize, 0x48},
		{"field_ids", h.FieldIDsSize, h.FieldIDsOff, fieldIDSize, 0x50},
		{"method_ids", h.MethodIDsSize, h.MethodIDsOff, methodIDSize, 0x58},
		{"class_defs", h.ClassDefsSize, h.ClassDefsOff, classDefSize, 0x60},
	}
	for _, t := range tables {
		end := uint64(t.off) + uint64(t.size)*uint64(t.entrySize)
		if t.size > 0 && end > uint64(len(data)) {
			return h, malformed(t.headerSlot, "%s table [0x%x, 0x%x) outside file of %d bytes", t.name, t.off, end, len(data))
		}
	}
	return h, nil
}

// OdexHeader mirrors the dexopt wrapper header.
type OdexHeader struct {
	Version    int
	DexOffset  uint32
	DexLength  uint32
	DepsOffset uint32
	DepsLength uint32
	OptOffset  uint32
	OptLength  uint32
	Flags      uint32
}

func parseOdexHeader(data []byte) (OdexHeader, error) {
	var h OdexHeader
	if len(data) < OdexHeaderLen {
		return h, malformed(0, "file too short for odex header (%d bytes)", len(data))
	}
	h.Version = validVersion(data[4:8])
	le := binary.LittleEndian
	h.DexOffset = le.Uint32(data[8:])
	h.DexLength = le.Uint32(data[12:])
	h.DepsOffset = le.Uint32(data[16:])
	h.DepsLength = le.Uint32(data[20:])
	h.OptOffset = le.Uint32(data[24:])
	h.OptLength = le.Uint32(data[28:])
	h.Flags = le.Uint32(data[32:])
	if uint64(h.DexOffset)+uint64(h.DexLength) > uint64(len(data)) {
		return h, malformed(8, "embedded dex [0x%x, +0x%x) outside odex of %d bytes", h.DexOffset, h.DexLength, len(data))
	}
	return h, nil
}
