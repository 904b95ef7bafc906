// Package fixture assembles small linked modules for tests. A Program
// describes functions, data and split points by name; Build lowers it to a
// module with the linking, relocation and name sections a linker run with
// --emit-relocs would leave, or to the stripped-down shape an interop
// transform produces.
package fixture

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/wasm-split/wasm"
)

// DataBase is the linear memory address of the first data symbol.
const DataBase = 1024

// Import is a host function import.
type Import struct {
	Module  string
	Name    string
	Params  []wasm.ValType
	Results []wasm.ValType
}

// Func is a locally defined function. Calls, Data and Addrs name callees,
// data symbols whose address the body takes, and functions whose table
// slot the body takes.
type Func struct {
	Name    string
	Export  string
	Params  []wasm.ValType
	Results []wasm.ValType
	Calls   []string
	Data    []string
	Addrs   []string
}

// Data is a data symbol. Refs are data symbols whose addresses are stored
// as 32-bit pointers ahead of Bytes.
type Data struct {
	Name  string
	Bytes []byte
	Refs  []string
}

// SplitPoint marks Func as the body of a lazily loaded module.
type SplitPoint struct {
	Module    string
	Hash      string
	Component string
	Func      string
}

// ImportName is the name of the import callers use to reach the split.
func (s SplitPoint) ImportName() string {
	return fmt.Sprintf("__wasm_split_00___%s___00_import_%s_%s", s.Module, s.Hash, s.Component)
}

// ExportName is the name the split body is exported under.
func (s SplitPoint) ExportName() string {
	return fmt.Sprintf("__wasm_split_00___%s___00_export_%s_%s", s.Module, s.Hash, s.Component)
}

// Program is a whole test module.
type Program struct {
	Imports []Import
	Funcs   []Func
	Data    []Data
	Splits  []SplitPoint
	Start   string

	// NoTable omits the indirect function table even when slots are taken.
	NoTable bool
}

// Options selects the shape of the built module.
type Options struct {
	// Relocs keeps the linking and reloc.* sections.
	Relocs bool

	// Prepend adds a host import ahead of every other function, shifting
	// the function index space the way interop glue does.
	Prepend bool

	// Drop inlines the named functions into their callers.
	Drop []string

	// StripNames omits the name section.
	StripNames bool
}

// Original builds the relocation-bearing module.
func (p *Program) Original() ([]byte, error) {
	return p.Build(Options{Relocs: true})
}

// Bindgened builds the post-interop module.
func (p *Program) Bindgened(opts Options) ([]byte, error) {
	return p.Build(opts)
}

// MustOriginal is Original for test setup.
func (p *Program) MustOriginal() []byte {
	b, err := p.Original()
	if err != nil {
		panic(err)
	}
	return b
}

// MustBindgened is Bindgened for test setup.
func (p *Program) MustBindgened(opts Options) []byte {
	b, err := p.Bindgened(opts)
	if err != nil {
		panic(err)
	}
	return b
}

type fixup struct {
	body   int // local function index
	offset int // within the function's code bytes
	typ    wasm.RelocType
	target string
}

type dataFixup struct {
	sym    int // data index
	offset int // within the symbol's bytes
	target string
}

type builder struct {
	p        *Program
	opts     Options
	mod      *wasm.Module
	funcIdx  map[string]uint32
	funcType map[string]uint32
	dataAddr map[string]uint32
	dataOff  []uint32
	slots    map[string]uint32
	slotList []string
	dropped  map[string]bool
	byName   map[string]*Func
	fixups   []fixup
	dfixups  []dataFixup
	names    []wasm.NameAssoc
}

// Build lowers the program.
func (p *Program) Build(opts Options) ([]byte, error) {
	b := &builder{
		p:        p,
		opts:     opts,
		mod:      &wasm.Module{},
		funcIdx:  make(map[string]uint32),
		funcType: make(map[string]uint32),
		dataAddr: make(map[string]uint32),
		slots:    make(map[string]uint32),
		dropped:  make(map[string]bool),
		byName:   make(map[string]*Func),
	}
	for _, name := range opts.Drop {
		b.dropped[name] = true
	}
	for i := range p.Funcs {
		b.byName[p.Funcs[i].Name] = &p.Funcs[i]
	}
	if err := b.declare(); err != nil {
		return nil, err
	}
	b.layoutData()
	if err := b.bodies(); err != nil {
		return nil, err
	}
	b.tables()
	if err := b.exports(); err != nil {
		return nil, err
	}

	if !opts.Relocs && opts.StripNames {
		return b.mod.Encode(), nil
	}
	if !opts.StripNames {
		b.mod.CustomSections = append(b.mod.CustomSections, wasm.CustomSection{
			Name: wasm.NameSectionName,
			Data: (&wasm.Names{Functions: b.names}).Encode(),
		})
	}
	if !opts.Relocs {
		return b.mod.Encode(), nil
	}
	return b.relocate()
}

func (b *builder) declare() error {
	var fn uint32
	addImport := func(module, name string, params, results []wasm.ValType) {
		typeIdx := b.mod.AddType(wasm.FuncType{Params: params, Results: results})
		b.mod.Imports = append(b.mod.Imports, wasm.Import{
			Module: module,
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
		})
		b.funcIdx[name] = fn
		b.funcType[name] = typeIdx
		b.names = append(b.names, wasm.NameAssoc{Index: fn, Name: name})
		fn++
	}

	if b.opts.Prepend {
		addImport("__wbindgen_placeholder__", "__wbindgen_describe", []wasm.ValType{wasm.ValI32}, nil)
	}
	for _, imp := range b.p.Imports {
		addImport(imp.Module, imp.Name, imp.Params, imp.Results)
	}
	for _, sp := range b.p.Splits {
		target, ok := b.byName[sp.Func]
		if !ok {
			return fmt.Errorf("split %s: unknown function %q", sp.Component, sp.Func)
		}
		addImport("__wasm_split", sp.ImportName(), target.Params, target.Results)
	}
	for i := range b.p.Funcs {
		f := &b.p.Funcs[i]
		if b.dropped[f.Name] {
			continue
		}
		typeIdx := b.mod.AddType(wasm.FuncType{Params: f.Params, Results: f.Results})
		b.mod.Funcs = append(b.mod.Funcs, typeIdx)
		b.funcIdx[f.Name] = fn
		b.funcType[f.Name] = typeIdx
		b.names = append(b.names, wasm.NameAssoc{Index: fn, Name: f.Name})
		fn++
	}

	pages := uint64(1)
	b.mod.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &pages}}}
	b.mod.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.I32ConstExpr(65536),
	}}
	return nil
}

func (b *builder) layoutData() {
	off := uint32(0)
	b.dataOff = make([]uint32, len(b.p.Data))
	for i, d := range b.p.Data {
		off = (off + 3) &^ 3
		b.dataOff[i] = off
		b.dataAddr[d.Name] = DataBase + off
		off += uint32(4*len(d.Refs) + len(d.Bytes))
	}
	if len(b.p.Data) == 0 {
		return
	}

	init := make([]byte, off)
	for i, d := range b.p.Data {
		at := b.dataOff[i]
		for j, ref := range d.Refs {
			binary.LittleEndian.PutUint32(init[at+uint32(4*j):], b.dataAddr[ref])
			b.dfixups = append(b.dfixups, dataFixup{sym: i, offset: 4 * j, target: ref})
		}
		copy(init[at+uint32(4*len(d.Refs)):], d.Bytes)
	}
	b.mod.Data = []wasm.DataSegment{{
		Offset: wasm.I32ConstExpr(DataBase),
		Init:   init,
	}}
	count := uint32(1)
	b.mod.DataCount = &count
}

// calls expands dropped callees into their own callees.
func (b *builder) calls(f *Func, seen map[string]bool) []string {
	var out []string
	for _, c := range f.Calls {
		if !b.dropped[c] {
			out = append(out, c)
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		if inner, ok := b.byName[c]; ok {
			out = append(out, b.calls(inner, seen)...)
		}
	}
	return out
}

func (b *builder) slot(name string) uint32 {
	if s, ok := b.slots[name]; ok {
		return s
	}
	s := uint32(len(b.slotList) + 1)
	b.slots[name] = s
	b.slotList = append(b.slotList, name)
	return s
}

func zeroConst(c *wasm.CodeBuilder, vt wasm.ValType) {
	switch vt {
	case wasm.ValI64:
		c.Op(wasm.OpI64Const).Op(0)
	case wasm.ValF32:
		c.Op(wasm.OpF32Const).Op(0).Op(0).Op(0).Op(0)
	case wasm.ValF64:
		c.Op(wasm.OpF64Const).Op(0).Op(0).Op(0).Op(0).Op(0).Op(0).Op(0).Op(0)
	default:
		c.I32Const(0)
	}
}

func (b *builder) bodies() error {
	local := 0
	for i := range b.p.Funcs {
		f := &b.p.Funcs[i]
		if b.dropped[f.Name] {
			continue
		}
		c := wasm.NewCodeBuilder()
		for _, callee := range b.calls(f, map[string]bool{}) {
			idx, ok := b.funcIdx[callee]
			if !ok {
				return fmt.Errorf("%s: unknown callee %q", f.Name, callee)
			}
			ft := b.mod.Types[b.funcType[callee]]
			for _, p := range ft.Params {
				zeroConst(c, p)
			}
			at := c.CallPadded(idx)
			b.fixups = append(b.fixups, fixup{body: local, offset: at, typ: wasm.RelocFunctionIndexLEB, target: callee})
			for range ft.Results {
				c.Drop()
			}
		}
		for _, sym := range f.Data {
			addr, ok := b.dataAddr[sym]
			if !ok {
				return fmt.Errorf("%s: unknown data symbol %q", f.Name, sym)
			}
			at := c.I32ConstPadded(int32(addr))
			b.fixups = append(b.fixups, fixup{body: local, offset: at, typ: wasm.RelocMemoryAddrSLEB, target: sym})
			c.Drop()
		}
		for _, fn := range f.Addrs {
			if _, ok := b.funcIdx[fn]; !ok {
				return fmt.Errorf("%s: unknown function %q", f.Name, fn)
			}
			at := c.I32ConstPadded(int32(b.slot(fn)))
			b.fixups = append(b.fixups, fixup{body: local, offset: at, typ: wasm.RelocTableIndexSLEB, target: fn})
			c.Drop()
		}
		for _, r := range f.Results {
			zeroConst(c, r)
		}
		c.End()
		b.mod.Code = append(b.mod.Code, wasm.FuncBody{Code: c.Bytes()})
		local++
	}
	return nil
}

func (b *builder) tables() {
	if b.p.NoTable {
		return
	}
	size := uint64(len(b.slotList) + 1)
	limit := size
	b.mod.Tables = []wasm.TableType{{
		ElemType: wasm.ValFuncRef,
		Limits:   wasm.Limits{Min: size, Max: &limit},
	}}
	if len(b.slotList) == 0 {
		return
	}
	idxs := make([]uint32, len(b.slotList))
	for i, name := range b.slotList {
		idxs[i] = b.funcIdx[name]
	}
	b.mod.Elements = []wasm.Element{{
		Offset:   wasm.I32ConstExpr(1),
		FuncIdxs: idxs,
	}}
}

func (b *builder) exports() error {
	b.mod.Exports = append(b.mod.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory})
	for _, f := range b.p.Funcs {
		if f.Export == "" || b.dropped[f.Name] {
			continue
		}
		b.mod.Exports = append(b.mod.Exports, wasm.Export{Name: f.Export, Kind: wasm.KindFunc, Idx: b.funcIdx[f.Name]})
	}
	for _, sp := range b.p.Splits {
		idx, ok := b.funcIdx[sp.Func]
		if !ok {
			return fmt.Errorf("split %s: function %q was dropped", sp.Component, sp.Func)
		}
		b.mod.Exports = append(b.mod.Exports, wasm.Export{Name: sp.ExportName(), Kind: wasm.KindFunc, Idx: idx})
	}
	if b.p.Start != "" {
		idx, ok := b.funcIdx[b.p.Start]
		if !ok {
			return fmt.Errorf("unknown start function %q", b.p.Start)
		}
		b.mod.Start = &idx
	}
	return nil
}

// relocate encodes the module once to learn body and segment positions,
// then appends the linking and relocation sections. Custom sections are
// written after every known section, so positions do not move.
func (b *builder) relocate() ([]byte, error) {
	parsed, err := wasm.ParseModule(b.mod.Encode())
	if err != nil {
		return nil, fmt.Errorf("reparse fixture: %w", err)
	}

	linking := &wasm.Linking{Version: wasm.LinkingVersion}
	funcSym := make(map[string]uint32)
	dataSym := make(map[string]uint32)

	for _, na := range b.names {
		flags := uint32(0)
		if int(na.Index) < parsed.NumImportedFuncs() {
			flags = wasm.SymUndefined | wasm.SymExplicitName
		}
		funcSym[na.Name] = uint32(len(linking.Symbols))
		linking.Symbols = append(linking.Symbols, wasm.Symbol{
			Kind:  wasm.SymbolFunction,
			Name:  na.Name,
			Index: na.Index,
			Flags: flags,
		})
	}
	linking.Symbols = append(linking.Symbols, wasm.Symbol{
		Kind:  wasm.SymbolGlobal,
		Name:  "__stack_pointer",
		Flags: wasm.SymUndefined | wasm.SymExplicitName,
	})
	for i, d := range b.p.Data {
		dataSym[d.Name] = uint32(len(linking.Symbols))
		linking.Symbols = append(linking.Symbols, wasm.Symbol{
			Kind:   wasm.SymbolData,
			Name:   d.Name,
			Offset: uint64(b.dataOff[i]),
			Size:   uint64(4*len(d.Refs) + len(d.Bytes)),
		})
	}
	if len(b.p.Data) > 0 {
		linking.Segments = []wasm.SegmentInfo{{Name: ".data", Alignment: 2}}
	}

	code := &wasm.RelocSection{Section: uint32(parsed.Layout.CodeSection)}
	for _, fx := range b.fixups {
		body := parsed.Code[fx.body]
		// Bodies have no locals: one byte of local declarations.
		off := body.Offset + 1 + uint32(fx.offset)
		var idx uint32
		if fx.typ == wasm.RelocMemoryAddrSLEB {
			idx = dataSym[fx.target]
		} else {
			idx = funcSym[fx.target]
		}
		code.Entries = append(code.Entries, wasm.Relocation{Type: fx.typ, Offset: off, Index: idx})
	}

	sections := []wasm.CustomSection{{Name: wasm.LinkingSectionName, Data: linking.Encode()}}
	if len(code.Entries) > 0 {
		sections = append(sections, wasm.CustomSection{Name: "reloc.CODE", Data: code.Encode()})
	}
	if len(b.dfixups) > 0 {
		data := &wasm.RelocSection{Section: uint32(parsed.Layout.DataSection)}
		seg := parsed.Data[0]
		for _, fx := range b.dfixups {
			data.Entries = append(data.Entries, wasm.Relocation{
				Type:   wasm.RelocMemoryAddrI32,
				Offset: seg.InitOffset + b.dataOff[fx.sym] + uint32(fx.offset),
				Index:  dataSym[fx.target],
			})
		}
		sections = append(sections, wasm.CustomSection{Name: "reloc.DATA", Data: data.Encode()})
	}
	b.mod.CustomSections = append(b.mod.CustomSections, sections...)
	return b.mod.Encode(), nil
}
