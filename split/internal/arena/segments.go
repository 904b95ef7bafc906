package arena

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-split/wasm"
)

// Import names for items shared through SplitModule.
const (
	IndirectTableName = "__indirect_function_table"
	tablePrefix       = "__imported_table_"
	memoryPrefix      = "__memory_"
	globalPrefix      = "__global__"
)

// TableName is the shared name of table idx. The split table is always
// shared as IndirectTableName.
func TableName(idx, splitTable uint32) string {
	if idx == splitTable {
		return IndirectTableName
	}
	return fmt.Sprintf("%s%d", tablePrefix, idx)
}

// MemoryName is the shared name of memory idx.
func MemoryName(idx uint32) string { return fmt.Sprintf("%s%d", memoryPrefix, idx) }

// GlobalName is the shared name of global idx.
func GlobalName(idx uint32) string { return fmt.Sprintf("%s%d", globalPrefix, idx) }

// table returns the type of table idx wherever it is declared.
func (m *Module) table(idx uint32) *wasm.TableType {
	var n uint32
	for i := range m.Wasm.Imports {
		imp := &m.Wasm.Imports[i]
		if imp.Desc.Kind != wasm.KindTable {
			continue
		}
		if n == idx {
			return imp.Desc.Table
		}
		n++
	}
	local := int(idx) - int(n)
	if local < 0 || local >= len(m.Wasm.Tables) {
		return nil
	}
	return &m.Wasm.Tables[local]
}

// NumTables returns the size of the table index space.
func (m *Module) NumTables() uint32 {
	return uint32(m.Wasm.NumImportedTables() + len(m.Wasm.Tables))
}

// SplitTable returns the index of the first funcref table, defining an
// empty one when the module has none.
func (m *Module) SplitTable() uint32 {
	for i := uint32(0); i < m.NumTables(); i++ {
		if m.table(i).ElemType == wasm.ValFuncRef {
			return i
		}
	}
	zero := uint64(0)
	m.Wasm.Tables = append(m.Wasm.Tables, wasm.TableType{
		ElemType: wasm.ValFuncRef,
		Limits:   wasm.Limits{Max: &zero},
	})
	return m.NumTables() - 1
}

// ExpandTable reserves n slots at the end of table idx and returns the
// first of them. The base is the declared maximum, or the minimum when
// the table is unbounded; both limits grow by n.
func (m *Module) ExpandTable(idx, n uint32) uint64 {
	t := m.table(idx)
	base := t.Limits.Min
	if t.Limits.Max != nil {
		base = *t.Limits.Max
		limit := *t.Limits.Max + uint64(n)
		t.Limits.Max = &limit
	}
	t.Limits.Min = base + uint64(n)
	return base
}

// Localize turns every table, memory and global into an import from
// SplitModule, in index order, so the module links against the instances
// main exports. Tags and function imports are left alone.
func (m *Module) Localize(splitTable uint32) {
	var imports []wasm.Import
	add := func(name string, desc wasm.ImportDesc) {
		imports = append(imports, wasm.Import{Module: SplitModule, Name: name, Desc: desc})
	}

	for i, t := range m.Wasm.AllTables() {
		add(TableName(uint32(i), splitTable), wasm.ImportDesc{Kind: wasm.KindTable, Table: &t})
	}
	for i, mem := range m.Wasm.AllMemories() {
		add(MemoryName(uint32(i)), wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &mem})
	}
	for i, g := range m.Wasm.AllGlobalTypes() {
		add(GlobalName(uint32(i)), wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &g})
	}
	for _, imp := range m.Wasm.Imports {
		if imp.Desc.Kind == wasm.KindTag {
			imports = append(imports, imp)
		}
	}

	m.Wasm.Imports = imports
	m.Wasm.Tables = nil
	m.Wasm.Memories = nil
	m.Wasm.Globals = nil
}

// Slot is a table entry initialized by an active element segment.
type Slot struct {
	Table uint32
	Index uint64
	Func  uint32
}

// Slots lists the function slots every active element segment fills.
// Segments with a non-constant offset are reported as an error.
func (m *Module) Slots() ([]Slot, error) {
	var out []Slot
	for i := range m.Wasm.Elements {
		e := &m.Wasm.Elements[i]
		if !e.Active() {
			continue
		}
		base, ok := wasm.ConstOffset(e.Offset)
		if !ok {
			return nil, fmt.Errorf("element segment %d: offset is not a constant", i)
		}
		if e.UsesExprs() {
			for j, expr := range e.Exprs {
				if id, ok := wasm.RefFuncTarget(expr); ok {
					out = append(out, Slot{Table: e.TableIdx, Index: base + uint64(j), Func: id})
				}
			}
			continue
		}
		for j, id := range e.FuncIdxs {
			out = append(out, Slot{Table: e.TableIdx, Index: base + uint64(j), Func: id})
		}
	}
	return out, nil
}

// ReplaceElementFuncs rewrites every function referenced by an element
// segment through replace.
func (m *Module) ReplaceElementFuncs(replace func(uint32) uint32) {
	for i := range m.Wasm.Elements {
		e := &m.Wasm.Elements[i]
		if e.UsesExprs() {
			for j, expr := range e.Exprs {
				e.Exprs[j] = wasm.RemapRefFunc(expr, replace)
			}
			continue
		}
		for j, id := range e.FuncIdxs {
			e.FuncIdxs[j] = replace(id)
		}
	}
}

// ClearElements replaces every element segment with an empty passive one
// of the same reference type, keeping segment indices valid for
// table.init and elem.drop.
func (m *Module) ClearElements() {
	for i := range m.Wasm.Elements {
		e := &m.Wasm.Elements[i]
		if e.UsesExprs() {
			*e = wasm.Element{Flags: 5, Type: e.Type}
		} else {
			*e = wasm.Element{Flags: 1, ElemKind: wasm.ElemKindFunc}
		}
	}
}

// AddSlots appends active element segments filling the given slots. Runs
// of consecutive slots in the same table share a segment.
func (m *Module) AddSlots(slots []Slot) {
	sorted := append([]Slot(nil), slots...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Table != sorted[j].Table {
			return sorted[i].Table < sorted[j].Table
		}
		return sorted[i].Index < sorted[j].Index
	})

	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Table == sorted[i].Table && sorted[j].Index == sorted[j-1].Index+1 {
			j++
		}
		ids := make([]uint32, 0, j-i)
		for _, s := range sorted[i:j] {
			ids = append(ids, s.Func)
		}
		m.addSegment(sorted[i].Table, sorted[i].Index, ids)
		i = j
	}
}

func (m *Module) addSegment(table uint32, offset uint64, ids []uint32) {
	is64 := false
	if t := m.table(table); t != nil {
		is64 = t.Limits.Memory64
	}
	e := wasm.Element{
		Offset:   wasm.OffsetExpr(offset, is64),
		FuncIdxs: ids,
		TableIdx: table,
	}
	if table != 0 {
		e.Flags = 2
		e.ElemKind = wasm.ElemKindFunc
	}
	m.Wasm.Elements = append(m.Wasm.Elements, e)
}

// ClearData empties the data section. With a DataCount section the
// segments are kept as empty passive placeholders so memory.init and
// data.drop indices stay valid.
func (m *Module) ClearData() {
	if m.Wasm.DataCount == nil {
		m.Wasm.Data = nil
		return
	}
	for i := range m.Wasm.Data {
		m.Wasm.Data[i] = wasm.DataSegment{Flags: 1}
	}
}

// AddData appends an active data segment writing init at offset in
// memory mem.
func (m *Module) AddData(mem uint32, offset uint64, init []byte) {
	is64 := false
	if mems := m.Wasm.AllMemories(); int(mem) < len(mems) {
		is64 = mems[mem].Limits.Memory64
	}
	seg := wasm.DataSegment{
		Offset: wasm.OffsetExpr(offset, is64),
		Init:   init,
		MemIdx: mem,
	}
	if mem != 0 {
		seg.Flags = 2
	}
	m.Wasm.Data = append(m.Wasm.Data, seg)
}
