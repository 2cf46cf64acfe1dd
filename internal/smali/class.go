// Package smali renders DEX classes in the baksmali textual grammar.
package smali

import (
	"fmt"
	"io"
	"strings"

	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/opcodes"
	"github.com/apk-analysis/dexcatalog/internal/options"
)

// ClassDefinition writes one class.
type ClassDefinition struct {
	opts options.Options
	set  *opcodes.Set
	def  *dex.ClassDef
}

// NewClassDefinition binds a class to the options and opcode set it is rendered with.
func NewClassDefinition(opts options.Options, set *opcodes.Set, def *dex.ClassDef) *ClassDefinition {
	if set == nil {
		set = opcodes.Default()
	}
	return &ClassDefinition{opts: opts, set: set, def: def}
}

// WriteTo writes the class. Output depends only on the class bytes and options.
func (c *ClassDefinition) WriteTo(w io.Writer) (int64, error) {
	iw := newIndentWriter(w)
	err := c.write(iw)
	if err == nil {
		err = iw.err
	}
	return iw.n, err
}

// Render returns the class text.
func (c *ClassDefinition) Render() (string, error) {
	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *ClassDefinition) write(w *indentWriter) error {
	def := c.def
	super, err := def.Superclass()
	if err != nil {
		return fmt.Errorf("superclass of %s: %w", def.Descriptor, err)
	}
	source, err := def.SourceFile()
	if err != nil {
		return fmt.Errorf("source file of %s: %w", def.Descriptor, err)
	}
	ifaces, err := def.Interfaces()
	if err != nil {
		return fmt.Errorf("interfaces of %s: %w", def.Descriptor, err)
	}
	annotations, err := def.Annotations()
	if err != nil {
		return fmt.Errorf("annotations of %s: %w", def.Descriptor, err)
	}
	data, err := def.ClassData()
	if err != nil {
		return err
	}
	statics, err := def.StaticValues()
	if err != nil {
		return fmt.Errorf("static values of %s: %w", def.Descriptor, err)
	}

	w.write(".class ")
	if flags := def.AccessFlags.Format(dex.TargetClass); flags != "" {
		w.write(flags + " ")
	}
	w.write(def.Descriptor + "\n")
	if super != "" {
		w.write(".super " + super + "\n")
	}
	if source != "" {
		w.write(".source " + Quote(source) + "\n")
	}

	if len(ifaces) > 0 {
		w.write("\n# interfaces\n")
		for _, i := range ifaces {
			w.write(".implements " + i + "\n")
		}
	}

	if len(annotations.Class) > 0 {
		w.write("\n\n# annotations\n")
		writeAnnotations(w, annotations.Class)
	}

	c.writeFields(w, "# static fields", data.StaticFields, statics, annotations)
	c.writeFields(w, "# instance fields", data.InstanceFields, nil, annotations)

	if err := c.writeMethods(w, "# direct methods", data.DirectMethods, annotations); err != nil {
		return err
	}
	return c.writeMethods(w, "# virtual methods", data.VirtualMethods, annotations)
}

func (c *ClassDefinition) writeFields(w *indentWriter, header string, fields []dex.EncodedField, values []dex.Value, dir *dex.AnnotationsDirectory) {
	for i, f := range fields {
		if i == 0 {
			w.write("\n\n" + header)
		}
		w.write("\n")
		w.write(".field ")
		if flags := f.AccessFlags.Format(dex.TargetField); flags != "" {
			w.write(flags + " ")
		}
		w.write(f.Ref.Name + ":" + f.Ref.Type)
		if i < len(values) && !isDefaultValue(values[i]) {
			w.write(" = ")
			writeValue(w, values[i])
		}
		w.write("\n")
		if as := dir.Fields[f.Index]; len(as) > 0 {
			w.in(4)
			writeAnnotations(w, as)
			w.out(4)
			w.write(".end field\n")
		}
	}
}

func (c *ClassDefinition) writeMethods(w *indentWriter, header string, methods []dex.EncodedMethod, dir *dex.AnnotationsDirectory) error {
	for i, m := range methods {
		if i == 0 {
			w.write("\n\n" + header)
		}
		w.write("\n")
		md := &methodDefinition{class: c, method: m, annotations: dir.Methods[m.Index], params: dir.Parameters[m.Index]}
		if err := md.write(w); err != nil {
			return fmt.Errorf("%s->%s%s: %w", m.Ref.Class, m.Ref.Name, m.Ref.Proto.Descriptor(), err)
		}
	}
	return nil
}

// fieldReference drops the class of members of the class being written when
// implicit references are on.
func (c *ClassDefinition) fieldReference(f dex.FieldRef) string {
	if c.opts.ImplicitReferences && f.Class == c.def.Descriptor {
		return f.Name + ":" + f.Type
	}
	return fieldRef(f)
}

func (c *ClassDefinition) methodReference(m dex.MethodRef) string {
	if c.opts.ImplicitReferences && m.Class == c.def.Descriptor {
		return m.Name + m.Proto.Descriptor()
	}
	return methodRef(m)
}

// accessorComment describes what a synthetic access$NNN method does by
// looking at the first member access in its body.
func (c *ClassDefinition) accessorComment(ref dex.MethodRef) string {
	file := c.def.File()
	for _, cd := range file.ClassDefs() {
		if cd.Descriptor != ref.Class {
			continue
		}
		data, err := cd.ClassData()
		if err != nil {
			return ""
		}
		for _, m := range data.DirectMethods {
			if m.Ref.Name != ref.Name || m.Ref.Proto.Descriptor() != ref.Proto.Descriptor() {
				continue
			}
			code, err := file.Code(m)
			if err != nil || code == nil {
				return ""
			}
			insts, err := opcodes.DecodeAll(code.Insns, c.set)
			if err != nil {
				return ""
			}
			for _, in := range insts {
				if in.Op == nil {
					continue
				}
				name := in.Op.Name
				switch {
				case in.Op.Ref == opcodes.RefField:
					f, err := file.Field(in.Index)
					if err != nil {
						return ""
					}
					if strings.HasPrefix(name, "iget") || strings.HasPrefix(name, "sget") {
						return "getter for: " + fieldRef(f)
					}
					return "setter for: " + fieldRef(f)
				case in.Op.Ref == opcodes.RefMethod:
					target, err := file.Method(in.Index)
					if err != nil {
						return ""
					}
					return "invokes: " + methodRef(target)
				}
			}
			return ""
		}
	}
	return ""
}
