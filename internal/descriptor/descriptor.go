// Package descriptor converts Dalvik type descriptors into source-form names.
package descriptor

import "strings"

// Normalize turns `Lcom/a/Outer$Inner;` into `com.a.Outer$Inner`.
//
// Primitive and array descriptors receive the same textual transforms and are
// returned as-is otherwise.
func Normalize(desc string) string {
	name := strings.TrimSuffix(desc, ";")
	if strings.HasPrefix(name, "L") {
		name = strings.ReplaceAll(name[1:], "/", ".")
	}
	return name
}

// OuterBase returns the part of name before the first '$'.
func OuterBase(name string) string {
	if i := strings.IndexByte(name, '$'); i >= 0 {
		return name[:i]
	}
	return name
}

// SimpleName returns the innermost segment of a normalized name.
func SimpleName(name string) string {
	if i := strings.LastIndexAny(name, ".$"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Package returns the dotted package of a normalized name, or "".
func Package(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

var primitives = map[byte]string{
	'V': "void",
	'Z': "boolean",
	'B': "byte",
	'S': "short",
	'C': "char",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

// JavaName renders any type descriptor the way Java source spells it.
func JavaName(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch {
	case len(base) == 1 && primitives[base[0]] != "":
		name = primitives[base[0]]
	case strings.HasPrefix(base, "L"):
		name = Normalize(base)
	default:
		name = base
	}
	return name + strings.Repeat("[]", dims)
}

// IsWide reports whether a descriptor occupies two registers.
func IsWide(desc string) bool {
	return desc == "J" || desc == "D"
}

// ToDescriptor converts a normalized class name back into a descriptor.
func ToDescriptor(name string) string {
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}
