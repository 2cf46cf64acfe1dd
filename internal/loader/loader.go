// Package loader opens DEX containers: APK/JAR archives, bare DEX or ODEX
// files, and in-memory DEX streams.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/opcodes"
)

var (
	// ErrInputIO marks failures reading the source.
	ErrInputIO = errors.New("input i/o error")
	// ErrUnsupportedInput marks sources that are neither archives nor DEX files.
	ErrUnsupportedInput = errors.New("unsupported input")
	// ErrMalformed marks DEX bytes that fail to parse.
	ErrMalformed = errors.New("malformed dex")
)

// maxEntrySize bounds a single archive member read into memory.
const maxEntrySize = 1 << 30

var zipMagic = []byte("PK\x03\x04")

// Source is where DEX bytes come from.
type Source interface {
	source()
	String() string
}

// ArchiveFile is a path to an APK/JAR/ZIP or a bare DEX/ODEX file.
type ArchiveFile struct {
	Path string
}

func (ArchiveFile) source()          {}
func (s ArchiveFile) String() string { return s.Path }

// RawStream holds the bytes of a single DEX or ODEX.
type RawStream struct {
	Data []byte
}

func (RawStream) source()          {}
func (s RawStream) String() string { return fmt.Sprintf("<stream %d bytes>", len(s.Data)) }

// NewRawStream drains r into a RawStream.
func NewRawStream(r io.Reader) (RawStream, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return RawStream{}, fmt.Errorf("%w: %v", ErrInputIO, err)
	}
	return RawStream{Data: data}, nil
}

// Entry is one DEX of a container.
type Entry struct {
	Name                string
	File                *dex.File
	HasOptimizedOpcodes bool
	OdexVersion         int
}

// IsOdex reports whether the entry came from an ODEX wrapper.
func (e *Entry) IsOdex() bool { return e.OdexVersion != 0 }

// Container is the ordered list of DEX entries of a source.
type Container struct {
	Source  Source
	Entries []*Entry
}

// Close drops the entries and their backing bytes.
func (c *Container) Close() error {
	c.Entries = nil
	return nil
}

// Load reads every DEX of src and parses it. Optimized opcodes are detected
// against the opcode set of api (-1 selects the default set).
func Load(src Source, api int) (*Container, error) {
	set := opcodes.Resolve(api)
	var raws []rawEntry
	var err error
	switch s := src.(type) {
	case ArchiveFile:
		raws, err = readPath(s.Path)
	case RawStream:
		if !dex.IsDex(s.Data) && !dex.IsOdex(s.Data) {
			return nil, fmt.Errorf("%w: stream does not start with a dex magic", ErrUnsupportedInput)
		}
		raws = []rawEntry{{name: "classes.dex", data: s.Data}}
	case nil:
		return nil, fmt.Errorf("%w: nil source", ErrUnsupportedInput)
	default:
		return nil, fmt.Errorf("%w: source type %T", ErrUnsupportedInput, src)
	}
	if err != nil {
		return nil, err
	}

	c := &Container{Source: src, Entries: make([]*Entry, 0, len(raws))}
	for _, r := range raws {
		e, err := parseEntry(r, set)
		if err != nil {
			return nil, err
		}
		c.Entries = append(c.Entries, e)
	}
	return c, nil
}

type rawEntry struct {
	name string
	data []byte
}

func parseEntry(r rawEntry, set *opcodes.Set) (*Entry, error) {
	f, err := dex.Parse(r.data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, r.name, err)
	}
	optimized, err := f.HasOptimizedOpcodes(set)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, r.name, err)
	}
	e := &Entry{Name: r.name, File: f, HasOptimizedOpcodes: optimized}
	if v, ok := f.OdexVersion(); ok {
		e.OdexVersion = v
	}
	return e, nil
}

func readPath(path string) ([]rawEntry, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputIO, err)
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputIO, err)
	}
	magic := make([]byte, 8)
	n, err := io.ReadFull(fh, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInputIO, err)
	}
	magic = magic[:n]

	switch {
	case dex.IsDex(magic) || dex.IsOdex(magic):
		if _, err := fh.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputIO, err)
		}
		data, err := io.ReadAll(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputIO, err)
		}
		return []rawEntry{{name: filepath.Base(path), data: data}}, nil
	case bytes.HasPrefix(magic, zipMagic):
		zr, err := zip.NewReader(fh, st.Size())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedInput, path, err)
		}
		return readArchive(zr)
	}
	return nil, fmt.Errorf("%w: %s is neither an archive nor a dex file", ErrUnsupportedInput, path)
}

// readArchive returns, in archive order, every member that carries a DEX or
// ODEX magic.
func readArchive(zr *zip.Reader) ([]rawEntry, error) {
	var out []rawEntry
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		ok, err := hasDexMagic(zf)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if zf.UncompressedSize64 > maxEntrySize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrUnsupportedInput, zf.Name, zf.UncompressedSize64)
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInputIO, zf.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInputIO, zf.Name, err)
		}
		out = append(out, rawEntry{name: zf.Name, data: data})
	}
	return out, nil
}

func hasDexMagic(zf *zip.File) (bool, error) {
	rc, err := zf.Open()
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInputIO, zf.Name, err)
	}
	defer rc.Close()
	magic := make([]byte, 8)
	n, err := io.ReadFull(rc, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("%w: %s: %v", ErrInputIO, zf.Name, err)
	}
	return dex.IsDex(magic[:n]) || dex.IsOdex(magic[:n]), nil
}
