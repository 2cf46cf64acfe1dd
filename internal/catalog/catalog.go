// Package catalog indexes the classes of a DEX container by source-form name
// and renders them as smali or Java-like text.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/descriptor"
	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/inline"
	"github.com/apk-analysis/dexcatalog/internal/javarender"
	"github.com/apk-analysis/dexcatalog/internal/loader"
	"github.com/apk-analysis/dexcatalog/internal/opcodes"
	"github.com/apk-analysis/dexcatalog/internal/options"
	"github.com/apk-analysis/dexcatalog/internal/smali"
)

// EntryInfo summarizes one DEX of the container.
type EntryInfo struct {
	Name        string `json:"name"`
	Classes     int    `json:"classes"`
	OdexVersion int    `json:"odex_version,omitempty"`
}

// Catalog is immutable after New; queries may run concurrently.
type Catalog struct {
	logger     *logrus.Logger
	set        *opcodes.Set
	opts       options.Options
	decompiler javarender.Decompiler

	container *loader.Container
	byName    map[string]*dex.ClassDef
	byOuter   map[string][]string
	origin    map[string]string
	entries   []EntryInfo

	mu     sync.RWMutex
	closed bool
}

type settings struct {
	logger     *logrus.Logger
	decompiler javarender.Decompiler
	present    []func(*options.Options)
}

// Option customizes New.
type Option func(*settings)

// WithLogger sets the logger; without one nothing is logged.
func WithLogger(l *logrus.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithDecompiler replaces the built-in Java renderer.
func WithDecompiler(d javarender.Decompiler) Option {
	return func(s *settings) { s.decompiler = d }
}

// present adjusts a presentation flag. Deodex and the inline resolver are
// owned by the catalog and have no option.
func present(f func(*options.Options)) Option {
	return func(s *settings) { s.present = append(s.present, f) }
}

func WithImplicitReferences(on bool) Option {
	return present(func(o *options.Options) { o.ImplicitReferences = on })
}

func WithParameterRegisters(on bool) Option {
	return present(func(o *options.Options) { o.ParameterRegisters = on })
}

func WithLocalsDirective(on bool) Option {
	return present(func(o *options.Options) { o.LocalsDirective = on })
}

func WithSequentialLabels(on bool) Option {
	return present(func(o *options.Options) { o.SequentialLabels = on })
}

func WithDebugInfo(on bool) Option {
	return present(func(o *options.Options) { o.DebugInfo = on })
}

func WithCodeOffsets(on bool) Option {
	return present(func(o *options.Options) { o.CodeOffsets = on })
}

func WithAccessorComments(on bool) Option {
	return present(func(o *options.Options) { o.AccessorComments = on })
}

func WithRegisterInfo(r options.RegisterInfo) Option {
	return present(func(o *options.Options) { o.RegisterInfo = r })
}

// New loads src and indexes its classes. api < 0 selects the default opcode set.
func New(src loader.Source, api int, opts ...Option) (*Catalog, error) {
	s := settings{}
	for _, o := range opts {
		o(&s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetOutput(io.Discard)
	}
	if s.decompiler == nil {
		s.decompiler = javarender.New()
	}

	c := &Catalog{
		logger:     s.logger,
		set:        opcodes.Resolve(api),
		opts:       options.Defaults(),
		decompiler: s.decompiler,
		byName:     map[string]*dex.ClassDef{},
		byOuter:    map[string][]string{},
		origin:     map[string]string{},
	}
	for _, f := range s.present {
		f(&c.opts)
	}
	c.opts.Deodex = false
	c.opts.InlineResolver = nil

	log := c.logger.WithFields(logrus.Fields{"source": fmt.Sprint(src), "opcodes": c.set.String()})
	container, err := loader.Load(src, api)
	if err != nil {
		log.WithError(err).Warn("Failed to load dex container")
		return nil, fromLoader(err)
	}
	c.container = container

	for _, e := range container.Entries {
		if err := c.index(e); err != nil {
			log.WithError(err).WithField("entry", e.Name).Warn("Refusing dex container")
			container.Close()
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"entries": len(c.entries),
		"classes": len(c.byName),
		"outer":   len(c.byOuter),
	}).Debug("Catalog built")
	return c, nil
}

func (c *Catalog) index(e *loader.Entry) error {
	defs := e.File.ClassDefs()
	for _, def := range defs {
		name := descriptor.Normalize(def.Descriptor)
		c.byName[name] = def
		c.origin[name] = e.Name
		base := descriptor.OuterBase(name)
		if !contains(c.byOuter[base], name) {
			c.byOuter[base] = append(c.byOuter[base], name)
		}
	}
	c.entries = append(c.entries, EntryInfo{Name: e.Name, Classes: len(defs), OdexVersion: e.OdexVersion})

	if e.HasOptimizedOpcodes {
		return &Error{Kind: UnsupportedInput, Err: errors.New(odexUnsupported)}
	}
	if e.IsOdex() {
		r, err := inline.NewResolver(e.OdexVersion)
		if err != nil {
			return &Error{Kind: UnsupportedInput, Err: err}
		}
		c.opts.InlineResolver = r
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (c *Catalog) acquire() error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// ClassNames returns every class name, sorted.
func (c *Catalog) ClassNames() ([]string, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	return sortedKeys(c.byName), nil
}

// OuterBaseNames returns every outer base name, sorted.
func (c *Catalog) OuterBaseNames() ([]string, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	return sortedKeys(c.byOuter), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the class named name.
func (c *Catalog) Get(name string) (*dex.ClassDef, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	return c.get(name)
}

func (c *Catalog) get(name string) (*dex.ClassDef, error) {
	def, ok := c.byName[name]
	if !ok {
		return nil, notFound(name, nil)
	}
	return def, nil
}

// Classes returns the names filed under an outer base, in insertion order.
func (c *Catalog) Classes(base string) ([]string, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	names, ok := c.byOuter[base]
	if !ok {
		return nil, notFound(base, nil)
	}
	return append([]string(nil), names...), nil
}

// EntryOf names the DEX entry the class was taken from.
func (c *Catalog) EntryOf(name string) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.mu.RUnlock()
	e, ok := c.origin[name]
	if !ok {
		return "", notFound(name, nil)
	}
	return e, nil
}

// Disassemble renders the named class as smali.
func (c *Catalog) Disassemble(name string) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.mu.RUnlock()
	def, err := c.get(name)
	if err != nil {
		return "", err
	}
	return c.disassemble(def)
}

// DisassembleClass renders a class handle obtained from Get. A nil handle or
// one not indexed by this catalog is reported as ClassNotFound.
func (c *Catalog) DisassembleClass(def *dex.ClassDef) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.mu.RUnlock()
	if def == nil {
		return "", notFound("", nil)
	}
	name := descriptor.Normalize(def.Descriptor)
	if c.byName[name] != def {
		return "", notFound(name, nil)
	}
	return c.disassemble(def)
}

func (c *Catalog) disassemble(def *dex.ClassDef) (string, error) {
	name := descriptor.Normalize(def.Descriptor)
	out, err := smali.NewClassDefinition(c.opts, c.set, def).Render()
	if err != nil {
		c.logger.WithError(err).WithField("class", name).Debug("Smali rendering failed")
		return "", notFound(name, err)
	}
	return out, nil
}

// RenderJava renders the outer class of name, with all its nested classes,
// through the configured decompiler.
func (c *Catalog) RenderJava(name string) (string, error) {
	if err := c.acquire(); err != nil {
		return "", err
	}
	defer c.mu.RUnlock()

	names := c.byOuter[descriptor.OuterBase(name)]
	if !contains(names, name) {
		return "", notFound(name, nil)
	}
	defs := make([]*dex.ClassDef, 0, len(names))
	for _, n := range names {
		def, err := c.get(n)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	out, err := c.decompiler.Decompile(defs, c.set)
	if err != nil {
		c.logger.WithError(err).WithField("class", name).Debug("Java rendering failed")
		return "", notFound(name, err)
	}
	return out, nil
}

// Options returns the effective emitter options.
func (c *Catalog) Options() options.Options { return c.opts }

// Opcodes returns the opcode set the catalog was built with.
func (c *Catalog) Opcodes() *opcodes.Set { return c.set }

// Entries describes the container's DEX files in load order.
func (c *Catalog) Entries() ([]EntryInfo, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()
	return append([]EntryInfo(nil), c.entries...), nil
}

// Close releases the container. Class handles must not be used afterwards.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.byName = nil
	c.byOuter = nil
	c.origin = nil
	return c.container.Close()
}

// String identifies the catalog in logs.
func (c *Catalog) String() string {
	var sb strings.Builder
	sb.WriteString("catalog(")
	if c.container != nil {
		sb.WriteString(c.container.Source.String())
	}
	sb.WriteString(")")
	return sb.String()
}
