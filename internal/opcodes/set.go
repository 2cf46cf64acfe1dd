package opcodes

import (
	"fmt"
	"sync"
)

const (
	// DefaultAPI is the API level used when the caller passes a negative level.
	DefaultAPI = 34
	// FirstARTAPI is the first API level whose optimized opcodes are ART quickened ones.
	FirstARTAPI = 21
)

// Set is an immutable opcode table for one API level.
type Set struct {
	api    int
	byByte [256]*Opcode
	byName map[string]*Opcode
}

var (
	setsMu sync.Mutex
	sets   = map[int]*Set{}
)

// ForAPI returns the opcode set valid for the given API level.
func ForAPI(api int) *Set {
	if api < 1 {
		api = 1
	}
	setsMu.Lock()
	defer setsMu.Unlock()
	if s, ok := sets[api]; ok {
		return s
	}
	s := build(api)
	sets[api] = s
	return s
}

// Default returns the set used when no API level was requested.
func Default() *Set {
	return ForAPI(DefaultAPI)
}

// Resolve maps the caller's API level to a set; negative levels select Default.
func Resolve(api int) *Set {
	if api < 0 {
		return Default()
	}
	return ForAPI(api)
}

func build(api int) *Set {
	s := &Set{api: api, byName: make(map[string]*Opcode)}
	put := func(es []entry, odex bool) {
		for _, e := range es {
			op := &Opcode{Value: e.value, Name: e.name, Format: e.format, Ref: e.ref, flags: flagsFor(e, odex)}
			s.byByte[e.value] = op
			s.byName[e.name] = op
		}
	}
	put(standardEntries(), false)
	if api < FirstARTAPI {
		put(dalvikOdexEntries(api), true)
	} else {
		put(artOdexEntries(), true)
	}
	put(modernEntries(api), false)
	return s
}

// API is the level the set was built for.
func (s *Set) API() int { return s.api }

// ByValue returns the opcode for an instruction byte, or nil when unassigned.
func (s *Set) ByValue(b byte) *Opcode { return s.byByte[b] }

// ByName looks an opcode up by mnemonic.
func (s *Set) ByName(name string) *Opcode { return s.byName[name] }

func (s *Set) String() string {
	return fmt.Sprintf("opcodes(api=%d)", s.api)
}
