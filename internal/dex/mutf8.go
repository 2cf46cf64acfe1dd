package dex

import (
	"unicode/utf16"
	"unicode/utf8"
)

// decodeMUTF8 decodes modified UTF-8 (surrogates encoded separately, NUL as 0xC0 0x80).
func decodeMUTF8(b []byte, utf16Len int) string {
	// the declared length is untrusted; a unit never takes less than one byte
	units := make([]uint16, 0, min(utf16Len, len(b)))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0 && i+1 < len(b):
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < len(b):
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			units = append(units, utf8.RuneError)
			i++
		}
	}
	return string(utf16.Decode(units))
}
