package smali

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/apk-analysis/dexcatalog/internal/descriptor"
	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/opcodes"
	"github.com/apk-analysis/dexcatalog/internal/options"
)

// Items sharing a code address are written in this order.
const (
	orderCodeOffset = -1000
	orderPrologue   = -4
	orderSource     = -3
	orderLine       = -2
	orderLocal      = -1
	orderLabel      = 50
	orderArgsInfo   = 99
	orderInsn       = 100
	orderDestInfo   = 101
	orderTryEnd     = 102
	orderCatch      = 103
	orderBlank      = math.MaxInt32
)

type methodItem struct {
	addr  int
	order int
	text  func() string
}

type methodDefinition struct {
	class       *ClassDefinition
	method      dex.EncodedMethod
	annotations []dex.Annotation
	params      [][]dex.Annotation

	code   *dex.CodeItem
	debug  *dex.DebugInfo
	labels *labelCache
	// branch holds the target label of each jump, switch and fill-array-data.
	branch map[int]*label
	// cases holds the case labels of each payload.
	cases map[int][]*label
}

func (md *methodDefinition) opts() options.Options { return md.class.opts }

func (md *methodDefinition) load() error {
	file := md.class.def.File()
	code, err := file.Code(md.method)
	if err != nil {
		return err
	}
	md.code = code
	if code != nil {
		if md.debug, err = file.DebugInfo(code); err != nil {
			return err
		}
	}
	return nil
}

func (md *methodDefinition) write(w *indentWriter) error {
	m := md.method
	if err := md.load(); err != nil {
		return err
	}
	code := md.code

	w.write(".method ")
	if flags := m.AccessFlags.Format(dex.TargetMethod); flags != "" {
		w.write(flags + " ")
	}
	w.write(m.Ref.Name + m.Ref.Proto.Descriptor() + "\n")
	w.in(4)
	if code != nil {
		if md.opts().LocalsDirective {
			w.write(".locals " + strconv.Itoa(code.Registers-code.Ins) + "\n")
		} else {
			w.write(".registers " + strconv.Itoa(code.Registers) + "\n")
		}
	}
	md.writeParameters(w)
	writeAnnotations(w, md.annotations)
	if code != nil {
		w.write("\n")
		items, err := md.items()
		if err != nil {
			return err
		}
		for _, it := range items {
			if s := it.text(); s != "" || it.order == orderBlank {
				w.write(s + "\n")
			}
		}
	}
	w.out(4)
	w.write(".end method\n")
	return nil
}

// MethodBody returns the code lines of m, without the .method wrapper,
// directives or blank separators. Abstract and native methods have none.
func (c *ClassDefinition) MethodBody(m dex.EncodedMethod) ([]string, error) {
	md := &methodDefinition{class: c, method: m}
	if err := md.load(); err != nil {
		return nil, err
	}
	if md.code == nil {
		return nil, nil
	}
	items, err := md.items()
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, it := range items {
		s := it.text()
		if s == "" {
			continue
		}
		lines = append(lines, strings.Split(s, "\n")...)
	}
	return lines, nil
}

// paramRegisters returns the first register of each declared parameter, as a p-number.
func (md *methodDefinition) paramRegisters() []int {
	reg := 0
	if !md.method.AccessFlags.Has(dex.AccStatic) {
		reg = 1
	}
	out := make([]int, len(md.method.Ref.Proto.Params))
	for i, p := range md.method.Ref.Proto.Params {
		out[i] = reg
		reg++
		if descriptor.IsWide(p) {
			reg++
		}
	}
	return out
}

func (md *methodDefinition) writeParameters(w *indentWriter) {
	regs := md.paramRegisters()
	for i, p := range md.method.Ref.Proto.Params {
		name := ""
		if md.debug != nil && i < len(md.debug.ParamNames) {
			name = md.debug.ParamNames[i]
		}
		var anns []dex.Annotation
		if i < len(md.params) {
			anns = md.params[i]
		}
		if name == "" && len(anns) == 0 {
			continue
		}
		w.write(".param p" + strconv.Itoa(regs[i]))
		if name != "" {
			w.write(", " + Quote(name))
		}
		w.write("    # " + p + "\n")
		if len(anns) > 0 {
			w.in(4)
			writeAnnotations(w, anns)
			w.out(4)
			w.write(".end param\n")
		}
	}
}

// reg names a register, using p-numbers for the incoming arguments when enabled.
func (md *methodDefinition) reg(r int) string {
	first := md.code.Registers - md.code.Ins
	if md.opts().ParameterRegisters && r >= first {
		return "p" + strconv.Itoa(r-first)
	}
	return "v" + strconv.Itoa(r)
}

func (md *methodDefinition) regList(regs []int) string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = md.reg(r)
	}
	return strings.Join(names, ", ")
}

func (md *methodDefinition) items() ([]methodItem, error) {
	insts, err := opcodes.DecodeAll(md.code.Insns, md.class.set)
	if err != nil {
		return nil, err
	}
	md.labels = newLabelCache(md.opts().SequentialLabels)
	md.collectLabels(insts)

	var items []methodItem
	add := func(addr, order int, text func() string) {
		items = append(items, methodItem{addr: addr, order: order, text: text})
	}
	static := func(s string) func() string { return func() string { return s } }

	opts := md.opts()
	for i, in := range insts {
		in := in
		if opts.CodeOffsets {
			add(in.Offset, orderCodeOffset, static("#@"+strconv.FormatInt(int64(in.Offset), 16)))
		}
		add(in.Offset, orderInsn, func() string { return md.instruction(in) })
		if in.Op != nil && opts.RegisterInfo.Has(options.RegisterInfoArgs) {
			if args := sourceRegs(in); len(args) > 0 {
				add(in.Offset, orderArgsInfo, static("# args: "+md.regList(args)))
			}
		}
		if in.Op != nil && in.Op.SetsRegister() && len(in.Regs) > 0 && opts.RegisterInfo.Has(options.RegisterInfoDest) {
			dest := []int{in.Regs[0]}
			if in.Op.SetsWideRegister() {
				dest = append(dest, in.Regs[0]+1)
			}
			add(in.Offset, orderDestInfo, static("# dest: "+md.regList(dest)))
		}
		if i != len(insts)-1 {
			add(in.Offset, orderBlank, static(""))
		}
	}

	md.addTries(insts, add)
	if opts.DebugInfo && md.debug != nil {
		md.addDebugItems(add)
	}

	md.labels.number()
	for _, l := range md.labels.all() {
		if l.prefix == "try_end_" {
			continue
		}
		l := l
		add(l.addr, orderLabel, func() string { return md.labels.name(l) })
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].addr != items[j].addr {
			return items[i].addr < items[j].addr
		}
		return items[i].order < items[j].order
	})
	return items, nil
}

func sourceRegs(in *opcodes.Instruction) []int {
	if in.Op.SetsRegister() && len(in.Regs) > 0 {
		return in.Regs[1:]
	}
	return in.Regs
}

func (md *methodDefinition) collectLabels(insts []*opcodes.Instruction) {
	md.branch = map[int]*label{}
	md.cases = map[int][]*label{}
	owners := map[int]int{}
	for _, in := range insts {
		if in.Op == nil {
			continue
		}
		switch {
		case in.Op.Branch():
			prefix := "cond_"
			if strings.HasPrefix(in.Op.Name, "goto") {
				prefix = "goto_"
			}
			md.branch[in.Offset] = md.labels.get(prefix, in.Target)
		case in.Op.Format == opcodes.Format31t:
			prefix := "array_"
			switch in.Op.Name {
			case "packed-switch":
				prefix = "pswitch_data_"
			case "sparse-switch":
				prefix = "sswitch_data_"
			}
			md.branch[in.Offset] = md.labels.get(prefix, in.Target)
			owners[in.Target] = in.Offset
		}
	}
	for _, in := range insts {
		if in.Payload == nil {
			continue
		}
		owner, ok := owners[in.Offset]
		if !ok {
			continue
		}
		prefix := "pswitch_"
		switch in.Payload.Kind {
		case opcodes.SparseSwitchPayload:
			prefix = "sswitch_"
		case opcodes.ArrayDataPayload:
			continue
		}
		for _, t := range in.Payload.Targets {
			md.cases[in.Offset] = append(md.cases[in.Offset], md.labels.get(prefix, owner+int(t)))
		}
	}
}

// lastCovered is the address of the last instruction that starts before end.
func lastCovered(insts []*opcodes.Instruction, end int) int {
	last := 0
	for _, in := range insts {
		if in.Offset >= end {
			break
		}
		last = in.Offset
	}
	return last
}

func (md *methodDefinition) addTries(insts []*opcodes.Instruction, add func(int, int, func() string)) {
	endWritten := map[*label]bool{}
	for _, t := range md.code.Tries {
		start := md.labels.get("try_start_", t.Start)
		end := md.labels.get("try_end_", t.Start+t.Count)
		at := lastCovered(insts, t.Start+t.Count)
		if !endWritten[end] {
			endWritten[end] = true
			add(at, orderTryEnd, func() string { return md.labels.name(end) })
		}
		span := func() string {
			return "{" + md.labels.name(start) + " .. " + md.labels.name(end) + "} "
		}
		for _, h := range t.Handlers {
			typ, target := h.Type, md.labels.get("catch_", h.Addr)
			add(at, orderCatch, func() string { return ".catch " + typ + " " + span() + md.labels.name(target) })
		}
		if t.HasCatchAll() {
			target := md.labels.get("catchall_", t.CatchAll)
			add(at, orderCatch, func() string { return ".catchall " + span() + md.labels.name(target) })
		}
	}
}

type local struct {
	name, typ, sig string
}

func (l local) String() string {
	name := "null"
	if l.name != "" {
		name = Quote(l.name)
	}
	typ := "V"
	if l.typ != "" {
		typ = l.typ
	}
	s := name + ":" + typ
	if l.sig != "" {
		s += ", " + Quote(l.sig)
	}
	return s
}

func (md *methodDefinition) addDebugItems(add func(int, int, func() string)) {
	static := func(s string) func() string { return func() string { return s } }
	first := md.code.Registers - md.code.Ins
	locals := map[int]local{}
	for i, r := range md.paramRegisters() {
		l := local{typ: md.method.Ref.Proto.Params[i]}
		if i < len(md.debug.ParamNames) {
			l.name = md.debug.ParamNames[i]
		}
		locals[first+r] = l
	}
	if !md.method.AccessFlags.Has(dex.AccStatic) {
		locals[first] = local{name: "this", typ: md.method.Ref.Class}
	}
	comment := func(reg int) string {
		if l, ok := locals[reg]; ok {
			return "    # " + l.String()
		}
		return ""
	}

	for _, ev := range md.debug.SortedEvents() {
		switch ev.Kind {
		case dex.EventLine:
			add(ev.Addr, orderLine, static(".line "+strconv.Itoa(ev.Line)))
		case dex.EventStartLocal:
			l := local{name: ev.Name, typ: ev.Type, sig: ev.Signature}
			locals[ev.Register] = l
			s := ".local " + md.reg(ev.Register)
			if ev.Name != "" || ev.Type != "" || ev.Signature != "" {
				s += ", " + l.String()
			}
			add(ev.Addr, orderLocal, static(s))
		case dex.EventEndLocal:
			add(ev.Addr, orderLocal, static(".end local "+md.reg(ev.Register)+comment(ev.Register)))
		case dex.EventRestartLocal:
			add(ev.Addr, orderLocal, static(".restart local "+md.reg(ev.Register)+comment(ev.Register)))
		case dex.EventPrologueEnd:
			add(ev.Addr, orderPrologue, static(".prologue"))
		case dex.EventEpilogueBegin:
			add(ev.Addr, orderPrologue, static(".epilogue"))
		case dex.EventSetFile:
			if ev.File == "" {
				add(ev.Addr, orderSource, static(".source"))
			} else {
				add(ev.Addr, orderSource, static(".source "+Quote(ev.File)))
			}
		}
	}
}

var verificationErrors = map[int64]string{
	1: "generic-error",
	2: "no-such-class",
	3: "no-such-field",
	4: "no-such-method",
	5: "illegal-class-access",
	6: "illegal-field-access",
	7: "illegal-method-access",
	8: "class-change-error",
	9: "instantiation-error",
}

func (md *methodDefinition) instruction(in *opcodes.Instruction) string {
	if in.Payload != nil {
		return md.payload(in)
	}
	op := in.Op
	if op == nil {
		return fmt.Sprintf("# unknown opcode: 0x%02x", in.Raw)
	}

	var args []string
	switch op.Format {
	case opcodes.Format35c, opcodes.Format35ms, opcodes.Format35mi, opcodes.Format45cc:
		args = append(args, "{"+md.regList(in.Regs)+"}")
	case opcodes.Format3rc, opcodes.Format3rms, opcodes.Format3rmi, opcodes.Format4rcc:
		if len(in.Regs) == 0 {
			args = append(args, "{}")
		} else {
			args = append(args, "{"+md.reg(in.Regs[0])+" .. "+md.reg(in.Regs[len(in.Regs)-1])+"}")
		}
	case opcodes.Format20bc:
		kind := in.Literal & 0x3f
		name, ok := verificationErrors[kind]
		if !ok {
			name = "verification-error-" + strconv.FormatInt(kind, 10)
		}
		args = append(args, name)
	default:
		for _, r := range in.Regs {
			args = append(args, md.reg(r))
		}
	}

	comment := ""
	switch op.Format {
	case opcodes.Format11n, opcodes.Format21s, opcodes.Format31i, opcodes.Format22b,
		opcodes.Format22s, opcodes.Format51l, opcodes.Format21h:
		lit := Hex(in.Literal)
		if op.SetsWideRegister() {
			lit += "L"
		}
		args = append(args, lit)
		if op.Format == opcodes.Format21h {
			if op.SetsWideRegister() {
				comment = "    # " + JavaFloat(math.Float64frombits(uint64(in.Literal)), 64)
			} else {
				comment = "    # " + JavaFloat(float64(math.Float32frombits(uint32(in.Literal))), 32) + "f"
			}
		}
	}

	if l, ok := md.branch[in.Offset]; ok {
		args = append(args, md.labels.name(l))
	}

	if op.Ref != opcodes.RefNone {
		ref := md.reference(op.Ref, in.Index, in.Literal)
		args = append(args, ref)
		if op.Format == opcodes.Format45cc || op.Format == opcodes.Format4rcc {
			args = append(args, md.reference(opcodes.RefProto, in.Index2, 0))
		}
		comment += md.referenceComment(op, in.Index)
	}

	if len(args) == 0 {
		return op.Name + comment
	}
	return op.Name + " " + strings.Join(args, ", ") + comment
}

func (md *methodDefinition) referenceComment(op *opcodes.Opcode, idx uint32) string {
	opts := md.opts()
	switch {
	case op.Ref == opcodes.RefInlineIndex && opts.InlineResolver != nil:
		if m, err := opts.InlineResolver.Resolve(int(idx)); err == nil {
			return "    # " + m.String()
		}
	case op.Ref == opcodes.RefMethod && opts.AccessorComments && strings.HasPrefix(op.Name, "invoke-static"):
		ref, err := md.class.def.File().Method(idx)
		if err != nil || !strings.HasPrefix(ref.Name, "access$") {
			return ""
		}
		if c := md.class.accessorComment(ref); c != "" {
			return "\n# " + c
		}
	}
	return ""
}

func (md *methodDefinition) reference(kind opcodes.RefKind, idx uint32, lit int64) string {
	file := md.class.def.File()
	switch kind {
	case opcodes.RefString:
		if s, err := file.String(idx); err == nil {
			return Quote(s)
		}
		return fmt.Sprintf("string@0x%x", idx)
	case opcodes.RefType:
		if t, err := file.Type(idx); err == nil {
			return t
		}
		return fmt.Sprintf("type@0x%x", idx)
	case opcodes.RefField:
		if f, err := file.Field(idx); err == nil {
			return md.class.fieldReference(f)
		}
		return fmt.Sprintf("field@0x%x", idx)
	case opcodes.RefMethod:
		if m, err := file.Method(idx); err == nil {
			return md.class.methodReference(m)
		}
		return fmt.Sprintf("method@0x%x", idx)
	case opcodes.RefProto:
		if p, err := file.Proto(idx); err == nil {
			return p.Descriptor()
		}
		return fmt.Sprintf("proto@0x%x", idx)
	case opcodes.RefMethodHandle:
		if h, err := file.MethodHandle(idx); err == nil {
			return methodHandle(h)
		}
		return fmt.Sprintf("method_handle@0x%x", idx)
	case opcodes.RefCallSite:
		return md.callSite(idx)
	case opcodes.RefFieldOffset:
		return fmt.Sprintf("field@0x%x", idx)
	case opcodes.RefVtableIndex:
		return fmt.Sprintf("vtable@0x%x", idx)
	case opcodes.RefInlineIndex:
		return fmt.Sprintf("inline@0x%x", idx)
	case opcodes.RefVerificationError:
		switch lit >> 6 {
		case 1:
			return md.reference(opcodes.RefType, idx, 0)
		case 2:
			return md.reference(opcodes.RefField, idx, 0)
		case 3:
			return md.reference(opcodes.RefMethod, idx, 0)
		}
		return fmt.Sprintf("ref@0x%x", idx)
	}
	return fmt.Sprintf("ref@0x%x", idx)
}

// callSite renders call_site_N("name", (proto)ret, extra...)@bootstrap.
func (md *methodDefinition) callSite(idx uint32) string {
	vals, err := md.class.def.File().CallSite(idx)
	if err != nil || len(vals) < 3 || vals[0].Kind != dex.ValueMethodHandle {
		return fmt.Sprintf("call_site@0x%x", idx)
	}
	parts := []string{Quote(vals[1].Str), vals[2].Proto.Descriptor()}
	for _, v := range vals[3:] {
		parts = append(parts, valueString(v))
	}
	return fmt.Sprintf("call_site_%d(%s)@%s", idx, strings.Join(parts, ", "), methodRef(vals[0].Handle.Method))
}

func valueString(v dex.Value) string {
	var sb strings.Builder
	writeValue(newIndentWriter(&sb), v)
	return sb.String()
}

func (md *methodDefinition) payload(in *opcodes.Instruction) string {
	p := in.Payload
	var sb strings.Builder
	cases := md.cases[in.Offset]
	target := func(i int) string {
		if i < len(cases) {
			return md.labels.name(cases[i])
		}
		return "+" + Hex(int64(p.Targets[i]))
	}
	switch p.Kind {
	case opcodes.PackedSwitchPayload:
		sb.WriteString(".packed-switch " + Hex(int64(p.FirstKey)) + "\n")
		for i := range p.Targets {
			sb.WriteString("    " + target(i) + "\n")
		}
		sb.WriteString(".end packed-switch")
	case opcodes.SparseSwitchPayload:
		sb.WriteString(".sparse-switch\n")
		for i, k := range p.Keys {
			sb.WriteString("    " + Hex(int64(k)) + " -> " + target(i) + "\n")
		}
		sb.WriteString(".end sparse-switch")
	case opcodes.ArrayDataPayload:
		suffix := map[int]string{1: "t", 2: "s", 4: "", 8: "L"}[p.ElementWidth]
		sb.WriteString(".array-data " + strconv.Itoa(p.ElementWidth) + "\n")
		for _, e := range p.Elements {
			sb.WriteString("    " + Hex(e) + suffix + "\n")
		}
		sb.WriteString(".end array-data")
	}
	return sb.String()
}
