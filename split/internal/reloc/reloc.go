// Package reloc reads the linker metadata a module keeps when it is linked
// with --emit-relocs: the symbol table, data symbol layout and the
// relocation entries for the code and data sections.
package reloc

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/wasm"
)

// FuncRange locates a local function body within the code section payload.
type FuncRange struct {
	Func  uint32 // function index, imports included
	Start uint32
	End   uint32
}

// DataSymbol is a defined, non-empty data symbol. Start and End are the
// byte range of the symbol relative to the data section payload; Offset is
// relative to the start of its segment's contents.
type DataSymbol struct {
	Name    string
	Offset  uint64
	Size    uint64
	Index   uint32 // symbol table index
	Segment uint32
	Start   uint32
	End     uint32
}

// Module is a decoded module together with its relocation metadata.
type Module struct {
	Wasm        *wasm.Module
	Linking     *wasm.Linking
	Names       *wasm.Names
	Funcs       []FuncRange
	DataSymbols []DataSymbol
	Code        []wasm.Relocation
	Data        []wasm.Relocation

	dataByIndex map[uint32]int
}

// Read decodes data and its linking and relocation sections. A module
// without a linking section cannot be split and is rejected.
func Read(data []byte) (*Module, error) {
	mod, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.ParseFailed("module", err)
	}

	cs := mod.Custom(wasm.LinkingSectionName)
	if cs == nil {
		return nil, errors.InvalidData(errors.PhaseParse,
			"module has no linking section; link with --emit-relocs", nil)
	}
	linking, err := wasm.ParseLinking(cs.Data)
	if err != nil {
		return nil, errors.ParseFailed("linking section", err)
	}

	names, err := LoadNames(mod)
	if err != nil {
		return nil, err
	}

	m := &Module{
		Wasm:    mod,
		Linking: linking,
		Names:   names,
	}

	numImported := uint32(mod.NumImportedFuncs())
	m.Funcs = make([]FuncRange, len(mod.Code))
	for i, body := range mod.Code {
		m.Funcs[i] = FuncRange{
			Func:  numImported + uint32(i),
			Start: body.Offset,
			End:   body.Offset + body.Size,
		}
	}

	if m.DataSymbols, err = CollectDataSymbols(mod, linking); err != nil {
		return nil, err
	}
	m.index()

	for _, cs := range mod.CustomSections {
		if !wasm.IsRelocSection(cs.Name) {
			continue
		}
		rs, err := wasm.ParseRelocSection(cs.Data)
		if err != nil {
			return nil, errors.ParseFailed(cs.Name, err)
		}
		if err := m.checkSymbols(rs); err != nil {
			return nil, err
		}
		entries := sortedEntries(rs.Entries)
		switch int(rs.Section) {
		case mod.Layout.CodeSection:
			m.Code = append(m.Code, entries...)
		case mod.Layout.DataSection:
			m.Data = append(m.Data, entries...)
		}
	}
	m.Code = sortedEntries(m.Code)
	m.Data = sortedEntries(m.Data)

	return m, nil
}

func (m *Module) index() {
	m.dataByIndex = make(map[uint32]int, len(m.DataSymbols))
	for i, ds := range m.DataSymbols {
		m.dataByIndex[ds.Index] = i
	}
}

func (m *Module) checkSymbols(rs *wasm.RelocSection) error {
	count := uint32(len(m.Linking.Symbols))
	for _, e := range rs.Entries {
		if e.Type == wasm.RelocTypeIndexLEB {
			continue
		}
		if e.Index >= count {
			return errors.MissingSymbol(e.Index, count)
		}
	}
	return nil
}

func sortedEntries(entries []wasm.Relocation) []wasm.Relocation {
	out := append([]wasm.Relocation(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Symbol returns the linking symbol at index.
func (m *Module) Symbol(index uint32) (*wasm.Symbol, bool) {
	if int(index) >= len(m.Linking.Symbols) {
		return nil, false
	}
	return &m.Linking.Symbols[index], true
}

// DataSymbol returns the tracked data symbol with the given symbol index.
func (m *Module) DataSymbol(index uint32) (*DataSymbol, bool) {
	i, ok := m.dataByIndex[index]
	if !ok {
		return nil, false
	}
	return &m.DataSymbols[i], true
}

// CollectDataSymbols returns the defined, non-empty data symbols of mod,
// sorted by position in the data section.
func CollectDataSymbols(mod *wasm.Module, linking *wasm.Linking) ([]DataSymbol, error) {
	var out []DataSymbol
	for i, sym := range linking.Symbols {
		if sym.Kind != wasm.SymbolData || !sym.Defined() || sym.Size == 0 {
			continue
		}
		if int(sym.Segment) >= len(mod.Data) {
			return nil, errors.InvalidData(errors.PhaseParse,
				fmt.Sprintf("data symbol %q refers to segment %d of %d", sym.Name, sym.Segment, len(mod.Data)), nil)
		}
		seg := &mod.Data[sym.Segment]
		if sym.Offset+sym.Size > uint64(len(seg.Init)) {
			return nil, errors.InvalidData(errors.PhaseParse,
				fmt.Sprintf("data symbol %q [%d, %d) exceeds segment %d of %d bytes",
					sym.Name, sym.Offset, sym.Offset+sym.Size, sym.Segment, len(seg.Init)), nil)
		}
		start := seg.InitOffset + uint32(sym.Offset)
		out = append(out, DataSymbol{
			Index:   uint32(i),
			Name:    sym.Name,
			Segment: sym.Segment,
			Offset:  sym.Offset,
			Size:    sym.Size,
			Start:   start,
			End:     start + uint32(sym.Size),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// LoadNames decodes the name section of mod, if any.
func LoadNames(mod *wasm.Module) (*wasm.Names, error) {
	cs := mod.Custom(wasm.NameSectionName)
	if cs == nil {
		return nil, nil
	}
	names, err := wasm.ParseNames(cs.Data)
	if err != nil {
		return nil, errors.ParseFailed("name section", err)
	}
	return names, nil
}

// FunctionNames resolves a name for every function that has one. Sources
// in priority order: the name section, the linking symbol name, the first
// export, and the import field name.
func FunctionNames(mod *wasm.Module, names *wasm.Names, linking *wasm.Linking) map[uint32]string {
	out := make(map[uint32]string)
	set := func(idx uint32, name string) {
		if name == "" {
			return
		}
		if _, ok := out[idx]; !ok {
			out[idx] = name
		}
	}

	if names != nil {
		for _, na := range names.Functions {
			set(na.Index, na.Name)
		}
	}
	if linking != nil {
		for _, sym := range linking.Symbols {
			if sym.Kind == wasm.SymbolFunction {
				set(sym.Index, sym.Name)
			}
		}
	}
	for _, exp := range mod.Exports {
		if exp.Kind == wasm.KindFunc {
			set(exp.Idx, exp.Name)
		}
	}
	var fn uint32
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		set(fn, imp.Name)
		fn++
	}
	return out
}

// HasDebugNames reports whether the module carries any function names in
// its name section or linking symbol table.
func HasDebugNames(names *wasm.Names, linking *wasm.Linking) bool {
	if names != nil && len(names.Functions) > 0 {
		return true
	}
	if linking == nil {
		return false
	}
	for _, sym := range linking.Symbols {
		if sym.Kind == wasm.SymbolFunction && sym.Name != "" {
			return true
		}
	}
	return false
}
