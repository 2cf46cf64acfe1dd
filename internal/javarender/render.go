// Package javarender turns the classes of one outer class into Java-like
// source text.
package javarender

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apk-analysis/dexcatalog/internal/descriptor"
	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/opcodes"
	"github.com/apk-analysis/dexcatalog/internal/options"
	"github.com/apk-analysis/dexcatalog/internal/smali"
)

const objectType = "Ljava/lang/Object;"

// Decompiler renders an outer class and all of its nested classes.
type Decompiler interface {
	Decompile(defs []*dex.ClassDef, set *opcodes.Set) (string, error)
}

// Renderer is the built-in Decompiler. Method bodies are not decompiled; each
// one lists its disassembled instructions as comments.
type Renderer struct {
	Options options.Options
}

// New returns a Renderer with debug info off, so bodies hold instructions only.
func New() *Renderer {
	o := options.Defaults()
	o.DebugInfo = false
	return &Renderer{Options: o}
}

type node struct {
	def      *dex.ClassDef
	name     string
	children []*node
}

// Decompile renders defs as one compilation unit. The first class whose name
// has no '$' is the top level; the others are placed under their nearest
// enclosing class present in defs.
func (r *Renderer) Decompile(defs []*dex.ClassDef, set *opcodes.Set) (string, error) {
	if len(defs) == 0 {
		return "", fmt.Errorf("no classes to render")
	}
	roots := tree(defs)

	var sb strings.Builder
	if pkg := descriptor.Package(roots[0].name); pkg != "" {
		sb.WriteString("package " + pkg + ";\n\n")
	}
	for i, n := range roots {
		if i > 0 {
			sb.WriteString("\n")
		}
		if err := r.writeClass(&sb, n, set, 0); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func tree(defs []*dex.ClassDef) []*node {
	nodes := map[string]*node{}
	var order []*node
	for _, d := range defs {
		name := descriptor.Normalize(d.Descriptor)
		if _, dup := nodes[name]; dup {
			continue
		}
		n := &node{def: d, name: name}
		nodes[name] = n
		order = append(order, n)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return strings.Count(order[i].name, "$") < strings.Count(order[j].name, "$")
	})

	var roots []*node
	for _, n := range order {
		parent := enclosing(n.name, nodes)
		if parent == nil {
			roots = append(roots, n)
			continue
		}
		parent.children = append(parent.children, n)
	}
	return roots
}

func enclosing(name string, nodes map[string]*node) *node {
	for {
		i := strings.LastIndexByte(name, '$')
		if i < 0 {
			return nil
		}
		name = name[:i]
		if n, ok := nodes[name]; ok {
			return n
		}
	}
}

// javaType spells a descriptor with nested classes joined by '.'.
func javaType(desc string) string {
	return strings.ReplaceAll(descriptor.JavaName(desc), "$", ".")
}

func classModifiers(a dex.AccessFlags, nested bool) []string {
	var mods []string
	switch {
	case a.Has(dex.AccPublic):
		mods = append(mods, "public")
	case a.Has(dex.AccPrivate):
		mods = append(mods, "private")
	case a.Has(dex.AccProtected):
		mods = append(mods, "protected")
	}
	if nested && a.Has(dex.AccStatic) {
		mods = append(mods, "static")
	}
	if a.Has(dex.AccInterface) {
		return mods
	}
	if a.Has(dex.AccAbstract) {
		mods = append(mods, "abstract")
	}
	if a.Has(dex.AccFinal) && !a.Has(dex.AccEnum) {
		mods = append(mods, "final")
	}
	return mods
}

func memberModifiers(a dex.AccessFlags, method bool) []string {
	var mods []string
	for _, m := range []struct {
		flag dex.AccessFlags
		name string
	}{
		{dex.AccPublic, "public"},
		{dex.AccPrivate, "private"},
		{dex.AccProtected, "protected"},
		{dex.AccAbstract, "abstract"},
		{dex.AccStatic, "static"},
		{dex.AccFinal, "final"},
	} {
		if m.flag == dex.AccAbstract && !method {
			continue
		}
		if a.Has(m.flag) {
			mods = append(mods, m.name)
		}
	}
	if method {
		if a.Has(dex.AccSynchronized) || a.Has(dex.AccDeclaredSynchronized) {
			mods = append(mods, "synchronized")
		}
		if a.Has(dex.AccNative) {
			mods = append(mods, "native")
		}
		if a.Has(dex.AccStrict) {
			mods = append(mods, "strictfp")
		}
		return mods
	}
	if a.Has(dex.AccVolatile) {
		mods = append(mods, "volatile")
	}
	if a.Has(dex.AccTransient) {
		mods = append(mods, "transient")
	}
	return mods
}

func (r *Renderer) writeClass(sb *strings.Builder, n *node, set *opcodes.Set, depth int) error {
	def := n.def
	ind := strings.Repeat("    ", depth)
	super, err := def.Superclass()
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	ifaces, err := def.Interfaces()
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	data, err := def.ClassData()
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	statics, err := def.StaticValues()
	if err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}

	simple := descriptor.SimpleName(n.name)
	if _, err := strconv.Atoi(simple); err == nil {
		sb.WriteString(ind + "/* anonymous */\n")
	}
	kind := "class"
	a := def.AccessFlags
	switch {
	case a.Has(dex.AccAnnotation):
		kind = "@interface"
	case a.Has(dex.AccInterface):
		kind = "interface"
	case a.Has(dex.AccEnum):
		kind = "enum"
	}
	header := append(classModifiers(a, depth > 0), kind, simple)
	sb.WriteString(ind + strings.Join(header, " "))
	if super != "" && super != objectType && kind == "class" {
		sb.WriteString(" extends " + javaType(super))
	}
	if len(ifaces) > 0 {
		kw := " implements "
		if kind == "interface" {
			kw = " extends "
		}
		names := make([]string, len(ifaces))
		for i, t := range ifaces {
			names[i] = javaType(t)
		}
		sb.WriteString(kw + strings.Join(names, ", "))
	}
	sb.WriteString(" {\n")

	body := ind + "    "
	wrote := false
	sep := func() {
		if wrote {
			sb.WriteString("\n")
		}
		wrote = true
	}

	fields := append(append([]dex.EncodedField{}, data.StaticFields...), data.InstanceFields...)
	if len(fields) > 0 {
		sep()
	}
	for i, f := range fields {
		mods := memberModifiers(f.AccessFlags, false)
		line := strings.Join(append(mods, javaType(f.Ref.Type), f.Ref.Name), " ")
		if i < len(statics) && i < len(data.StaticFields) && f.AccessFlags.Has(dex.AccFinal) {
			if lit, ok := literal(statics[i]); ok {
				line += " = " + lit
			}
		}
		sb.WriteString(body + line + ";\n")
	}

	cd := smali.NewClassDefinition(r.Options, set, def)
	for _, m := range append(append([]dex.EncodedMethod{}, data.DirectMethods...), data.VirtualMethods...) {
		sep()
		if err := writeMethod(sb, cd, m, simple, body); err != nil {
			return fmt.Errorf("%s.%s: %w", n.name, m.Ref.Name, err)
		}
	}

	for _, c := range n.children {
		sep()
		if err := r.writeClass(sb, c, set, depth+1); err != nil {
			return err
		}
	}
	sb.WriteString(ind + "}\n")
	return nil
}

func writeMethod(sb *strings.Builder, cd *smali.ClassDefinition, m dex.EncodedMethod, simple, ind string) error {
	lines, err := cd.MethodBody(m)
	if err != nil {
		return err
	}
	if m.Ref.Name == "<clinit>" {
		sb.WriteString(ind + "static {\n")
		writeBody(sb, lines, ind)
		sb.WriteString(ind + "}\n")
		return nil
	}

	mods := memberModifiers(m.AccessFlags, true)
	var sig []string
	if m.Ref.Name == "<init>" {
		sig = append(mods, simple)
	} else {
		sig = append(mods, javaType(m.Ref.Proto.Return), m.Ref.Name)
	}
	reg := 0
	if !m.AccessFlags.Has(dex.AccStatic) {
		reg = 1
	}
	params := make([]string, len(m.Ref.Proto.Params))
	for i, p := range m.Ref.Proto.Params {
		t := javaType(p)
		if i == len(params)-1 && m.AccessFlags.Has(dex.AccVarargs) && strings.HasSuffix(t, "[]") {
			t = strings.TrimSuffix(t, "[]") + "..."
		}
		params[i] = t + " p" + strconv.Itoa(reg)
		reg++
		if descriptor.IsWide(p) {
			reg++
		}
	}
	sb.WriteString(ind + strings.Join(sig, " ") + "(" + strings.Join(params, ", ") + ")")
	if lines == nil {
		sb.WriteString(";\n")
		return nil
	}
	sb.WriteString(" {\n")
	writeBody(sb, lines, ind)
	sb.WriteString(ind + "}\n")
	return nil
}

func writeBody(sb *strings.Builder, lines []string, ind string) {
	for _, l := range lines {
		sb.WriteString(ind + "    // " + strings.TrimSpace(l) + "\n")
	}
}

// literal renders a static initial value as a Java expression.
func literal(v dex.Value) (string, bool) {
	switch v.Kind {
	case dex.ValueByte, dex.ValueShort, dex.ValueInt:
		return strconv.FormatInt(v.Int, 10), true
	case dex.ValueLong:
		return strconv.FormatInt(v.Int, 10) + "L", true
	case dex.ValueChar:
		return strconv.QuoteRuneToASCII(rune(v.Int)), true
	case dex.ValueFloat:
		return floatLiteral(v.Float, 32), true
	case dex.ValueDouble:
		return floatLiteral(v.Float, 64), true
	case dex.ValueBoolean:
		return strconv.FormatBool(v.Bool()), true
	case dex.ValueString:
		return smali.Quote(v.Str), true
	case dex.ValueType:
		return javaType(v.Str) + ".class", true
	case dex.ValueEnum:
		return javaType(v.Field.Class) + "." + v.Field.Name, true
	case dex.ValueNull:
		return "null", true
	}
	return "", false
}

func floatLiteral(f float64, bits int) string {
	s := smali.JavaFloat(f, bits)
	boxed := "Double"
	if bits == 32 {
		boxed = "Float"
	}
	switch s {
	case "NaN":
		return boxed + ".NaN"
	case "Infinity":
		return boxed + ".POSITIVE_INFINITY"
	case "-Infinity":
		return boxed + ".NEGATIVE_INFINITY"
	}
	if bits == 32 {
		s += "f"
	}
	return s
}
