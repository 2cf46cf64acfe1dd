package smali

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/apk-analysis/dexcatalog/internal/dex"
)

// Quote renders s as a smali string literal.
func Quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	writeEscaped(&sb, s)
	sb.WriteByte('"')
	return sb.String()
}

func writeEscaped(sb *strings.Builder, s string) {
	for _, c := range utf16.Encode([]rune(s)) {
		switch {
		case c >= ' ' && c < 0x7f:
			if c == '\'' || c == '"' || c == '\\' {
				sb.WriteByte('\\')
			}
			sb.WriteByte(byte(c))
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		default:
			fmt.Fprintf(sb, `\u%04x`, c)
		}
	}
}

func quoteChar(c rune) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	writeEscaped(&sb, string(c))
	sb.WriteByte('\'')
	return sb.String()
}

// Hex renders a signed value the way smali literals are written.
func Hex(v int64) string {
	if v < 0 {
		return "-0x" + strconv.FormatUint(uint64(-v), 16)
	}
	return "0x" + strconv.FormatInt(v, 16)
}

// JavaFloat renders f like Float.toString / Double.toString.
func JavaFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(f)
	if abs >= 1e-3 && abs < 1e7 {
		s := strconv.FormatFloat(f, 'f', -1, bitSize)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bitSize)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(exp, "+-0")
	if exp == "" {
		exp = "0"
	}
	if neg {
		exp = "-" + exp
	}
	return mant + "E" + exp
}

func fieldRef(f dex.FieldRef) string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

func methodRef(m dex.MethodRef) string {
	return m.Class + "->" + m.Name + m.Proto.Descriptor()
}

func methodHandle(h dex.MethodHandle) string {
	if h.Kind.IsField() {
		return h.Kind.String() + "@" + fieldRef(h.Field)
	}
	return h.Kind.String() + "@" + methodRef(h.Method)
}

// isDefaultValue reports whether v is the zero value a field starts with anyway.
func isDefaultValue(v dex.Value) bool {
	switch v.Kind {
	case dex.ValueByte, dex.ValueShort, dex.ValueChar, dex.ValueInt, dex.ValueLong, dex.ValueBoolean:
		return v.Int == 0
	case dex.ValueFloat, dex.ValueDouble:
		return v.Float == 0 && !math.Signbit(v.Float)
	case dex.ValueNull:
		return true
	}
	return false
}

func writeValue(w *indentWriter, v dex.Value) {
	switch v.Kind {
	case dex.ValueByte:
		w.write(Hex(v.Int) + "t")
	case dex.ValueShort:
		w.write(Hex(v.Int) + "s")
	case dex.ValueChar:
		w.write(quoteChar(rune(v.Int)))
	case dex.ValueInt:
		w.write(Hex(v.Int))
	case dex.ValueLong:
		w.write(Hex(v.Int) + "L")
	case dex.ValueFloat:
		w.write(JavaFloat(v.Float, 32) + "f")
	case dex.ValueDouble:
		w.write(JavaFloat(v.Float, 64))
	case dex.ValueMethodType:
		w.write(v.Proto.Descriptor())
	case dex.ValueMethodHandle:
		w.write(methodHandle(v.Handle))
	case dex.ValueString:
		w.write(Quote(v.Str))
	case dex.ValueType:
		w.write(v.Str)
	case dex.ValueField:
		w.write(fieldRef(v.Field))
	case dex.ValueEnum:
		w.write(".enum " + fieldRef(v.Field))
	case dex.ValueMethod:
		w.write(methodRef(v.Method))
	case dex.ValueArray:
		if len(v.Array) == 0 {
			w.write("{}")
			return
		}
		w.write("{\n")
		w.in(4)
		for i, e := range v.Array {
			if i > 0 {
				w.write(",\n")
			}
			writeValue(w, e)
		}
		w.out(4)
		w.write("\n}")
	case dex.ValueAnnotation:
		w.write(".subannotation " + v.Annotation.Type + "\n")
		w.in(4)
		writeElements(w, v.Annotation.Elements)
		w.out(4)
		w.write(".end subannotation")
	case dex.ValueNull:
		w.write("null")
	case dex.ValueBoolean:
		w.write(strconv.FormatBool(v.Bool()))
	default:
		w.write(fmt.Sprintf("# unknown value type 0x%02x", byte(v.Kind)))
	}
}

func writeElements(w *indentWriter, elems []dex.AnnotationElement) {
	for _, e := range elems {
		w.write(e.Name + " = ")
		writeValue(w, e.Value)
		w.write("\n")
	}
}

func writeAnnotations(w *indentWriter, as []dex.Annotation) {
	for i, a := range as {
		if i > 0 {
			w.write("\n")
		}
		w.write(".annotation " + a.Visibility.String() + " " + a.Type + "\n")
		w.in(4)
		writeElements(w, a.Elements)
		w.out(4)
		w.write(".end annotation\n")
	}
}
