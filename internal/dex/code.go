package dex

import (
	"fmt"
	"sort"
)

// CodeItem is a decoded code_item.
type CodeItem struct {
	Offset       uint32
	Registers    int
	Ins          int
	Outs         int
	DebugInfoOff uint32
	Insns        []uint16
	Tries        []TryBlock
}

// TryBlock covers [Start, Start+Count) code units.
type TryBlock struct {
	Start    int
	Count    int
	Handlers []Handler
	CatchAll int
}

// HasCatchAll reports whether the block ends in a catch-all handler.
func (t TryBlock) HasCatchAll() bool { return t.CatchAll >= 0 }

// Handler is one typed catch clause.
type Handler struct {
	Type string
	Addr int
}

// Code decodes the code_item of a method; nil for abstract and native methods.
func (f *File) Code(m EncodedMethod) (*CodeItem, error) {
	if m.CodeOff == 0 {
		return nil, nil
	}
	ci, err := f.codeItem(m.CodeOff)
	if err != nil {
		return nil, fmt.Errorf("code of %s->%s: %w", m.Ref.Class, m.Ref.Name, err)
	}
	return ci, nil
}

func (f *File) codeItem(off uint32) (*CodeItem, error) {
	r := f.at(off)
	regs, _ := r.u16()
	ins, _ := r.u16()
	outs, _ := r.u16()
	triesSize, _ := r.u16()
	debugOff, _ := r.u32()
	insnsSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	raw, err := r.bytes(int(insnsSize) * 2)
	if err != nil {
		return nil, err
	}
	ci := &CodeItem{
		Offset:       off,
		Registers:    int(regs),
		Ins:          int(ins),
		Outs:         int(outs),
		DebugInfoOff: debugOff,
		Insns:        make([]uint16, insnsSize),
	}
	if ci.Ins > ci.Registers {
		return nil, malformed(int(off), "ins %d exceeds registers %d", ins, regs)
	}
	for i := range ci.Insns {
		ci.Insns[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	if triesSize == 0 {
		return ci, nil
	}
	if insnsSize%2 == 1 {
		r.pos += 2
	}

	type rawTry struct {
		start      uint32
		count      uint16
		handlerOff uint16
	}
	tries := make([]rawTry, triesSize)
	for i := range tries {
		tries[i].start, _ = r.u32()
		tries[i].count, _ = r.u16()
		if tries[i].handlerOff, err = r.u16(); err != nil {
			return nil, fmt.Errorf("try item %d: %w", i, err)
		}
	}
	listOff := r.pos
	ci.Tries = make([]TryBlock, triesSize)
	for i, t := range tries {
		hr := &reader{data: f.data, pos: listOff + int(t.handlerOff)}
		handlers, catchAll, err := f.catchHandler(hr)
		if err != nil {
			return nil, fmt.Errorf("catch handler %d: %w", i, err)
		}
		ci.Tries[i] = TryBlock{Start: int(t.start), Count: int(t.count), Handlers: handlers, CatchAll: catchAll}
	}
	return ci, nil
}

func (f *File) catchHandler(r *reader) ([]Handler, int, error) {
	size, err := r.sleb128()
	if err != nil {
		return nil, -1, err
	}
	// each handler takes at least two bytes
	n := int64(size)
	if n < 0 {
		n = -n
	}
	if n*2 > int64(len(r.data)-r.pos) {
		return nil, -1, malformed(r.pos, "catch handler size %d", size)
	}
	handlers := make([]Handler, n)
	for i := range handlers {
		typeIdx, err := r.uleb128()
		if err != nil {
			return nil, -1, err
		}
		addr, err := r.uleb128()
		if err != nil {
			return nil, -1, err
		}
		typ, err := f.Type(typeIdx)
		if err != nil {
			return nil, -1, err
		}
		handlers[i] = Handler{Type: typ, Addr: int(addr)}
	}
	catchAll := -1
	if size <= 0 {
		addr, err := r.uleb128()
		if err != nil {
			return nil, -1, err
		}
		catchAll = int(addr)
	}
	return handlers, catchAll, nil
}

// DebugEventKind classifies a decoded debug_info_item event.
type DebugEventKind int

const (
	EventLine DebugEventKind = iota
	EventStartLocal
	EventEndLocal
	EventRestartLocal
	EventPrologueEnd
	EventEpilogueBegin
	EventSetFile
)

// DebugEvent is one position-bearing entry of the debug state machine.
type DebugEvent struct {
	Kind      DebugEventKind
	Addr      int
	Line      int
	Register  int
	Name      string
	Type      string
	Signature string
	File      string
}

// DebugInfo is a decoded debug_info_item.
type DebugInfo struct {
	LineStart  int
	ParamNames []string
	Events     []DebugEvent
}

const (
	dbgEndSequence = iota
	dbgAdvancePC
	dbgAdvanceLine
	dbgStartLocal
	dbgStartLocalExtended
	dbgEndLocal
	dbgRestartLocal
	dbgSetPrologueEnd
	dbgSetEpilogueBegin
	dbgSetFile
	dbgFirstSpecial
	dbgLineBase  = -4
	dbgLineRange = 15
)

// DebugInfo runs the debug state machine of a code item; nil when absent.
func (f *File) DebugInfo(ci *CodeItem) (*DebugInfo, error) {
	if ci == nil || ci.DebugInfoOff == 0 {
		return nil, nil
	}
	r := f.at(ci.DebugInfoOff)
	lineStart, err := r.uleb128()
	if err != nil {
		return nil, fmt.Errorf("debug info: %w", err)
	}
	nparams, err := r.uleb128()
	if err != nil {
		return nil, fmt.Errorf("debug info: %w", err)
	}
	if uint64(nparams) > uint64(len(f.data)) {
		return nil, malformed(r.pos, "debug info parameter count %d", nparams)
	}
	di := &DebugInfo{LineStart: int(lineStart), ParamNames: make([]string, nparams)}
	for i := range di.ParamNames {
		idx, err := r.uleb128p1()
		if err != nil {
			return nil, fmt.Errorf("debug info: %w", err)
		}
		if di.ParamNames[i], err = f.OptionalString(idx); err != nil {
			return nil, err
		}
	}

	addr, line := 0, int(lineStart)
	optString := func() (string, error) {
		idx, err := r.uleb128p1()
		if err != nil {
			return "", err
		}
		return f.OptionalString(idx)
	}
	optType := func() (string, error) {
		idx, err := r.uleb128p1()
		if err != nil {
			return "", err
		}
		return f.OptionalType(idx)
	}
	for {
		op, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("debug info: %w", err)
		}
		switch op {
		case dbgEndSequence:
			return di, nil
		case dbgAdvancePC:
			d, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			addr += int(d)
		case dbgAdvanceLine:
			d, err := r.sleb128()
			if err != nil {
				return nil, err
			}
			line += int(d)
		case dbgStartLocal, dbgStartLocalExtended:
			reg, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			ev := DebugEvent{Kind: EventStartLocal, Addr: addr, Register: int(reg)}
			if ev.Name, err = optString(); err != nil {
				return nil, err
			}
			if ev.Type, err = optType(); err != nil {
				return nil, err
			}
			if op == dbgStartLocalExtended {
				if ev.Signature, err = optString(); err != nil {
					return nil, err
				}
			}
			di.Events = append(di.Events, ev)
		case dbgEndLocal, dbgRestartLocal:
			reg, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			kind := EventEndLocal
			if op == dbgRestartLocal {
				kind = EventRestartLocal
			}
			di.Events = append(di.Events, DebugEvent{Kind: kind, Addr: addr, Register: int(reg)})
		case dbgSetPrologueEnd:
			di.Events = append(di.Events, DebugEvent{Kind: EventPrologueEnd, Addr: addr})
		case dbgSetEpilogueBegin:
			di.Events = append(di.Events, DebugEvent{Kind: EventEpilogueBegin, Addr: addr})
		case dbgSetFile:
			name, err := optString()
			if err != nil {
				return nil, err
			}
			di.Events = append(di.Events, DebugEvent{Kind: EventSetFile, Addr: addr, File: name})
		default:
			adj := int(op) - dbgFirstSpecial
			line += dbgLineBase + adj%dbgLineRange
			addr += adj / dbgLineRange
			di.Events = append(di.Events, DebugEvent{Kind: EventLine, Addr: addr, Line: line})
		}
	}
}

// SortedEvents returns events ordered by address, stable within an address.
func (d *DebugInfo) SortedEvents() []DebugEvent {
	out := append([]DebugEvent(nil), d.Events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
