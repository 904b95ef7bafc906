package wasm

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	Tags []TagType

	CustomSections []CustomSection

	// Layout is filled by ParseModule and ignored by Encode.
	Layout Layout
}

// Layout records section positions of a decoded binary. Section indices
// count every section, custom ones included, in file order; relocation
// sections refer to their target by that index.
type Layout struct {
	CodeSection int // -1 when absent
	DataSection int // -1 when absent
	NumSections int
}

// FuncType represents a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, global, or tag.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Tag     *TagType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including the end opcode
}

// TagType describes an exception handling tag type.
type TagType struct {
	Attribute byte
	TypeIdx   uint32
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// Active reports whether the segment initializes a table at instantiation.
func (e *Element) Active() bool { return e.Flags&0x01 == 0 }

// Declarative reports whether the segment only forward-declares references.
func (e *Element) Declarative() bool { return e.Flags&0x03 == 0x03 }

// UsesExprs reports whether items are constant expressions rather than indices.
func (e *Element) UsesExprs() bool { return e.Flags&0x04 != 0 }

// Len returns the number of items in the segment.
func (e *Element) Len() int {
	if e.UsesExprs() {
		return len(e.Exprs)
	}
	return len(e.FuncIdxs)
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode

	// Offset and Size locate the body (after its size prefix) relative to
	// the code section payload. Zero for bodies that were not decoded.
	Offset uint32
	Size   uint32
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32

	// InitOffset is the position of Init[0] relative to the data section
	// payload. Zero for segments that were not decoded.
	InitOffset uint32
}

// Passive reports whether the segment is only reachable through memory.init.
func (d *DataSegment) Passive() bool { return d.Flags == 1 }

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// Custom returns the first custom section with the given name.
func (m *Module) Custom(name string) *CustomSection {
	for i := range m.CustomSections {
		if m.CustomSections[i].Name == name {
			return &m.CustomSections[i]
		}
	}
	return nil
}

func (m *Module) numImported(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int { return m.numImported(KindFunc) }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int { return m.numImported(KindTable) }

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int { return m.numImported(KindMemory) }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int { return m.numImported(KindGlobal) }

// NumImportedTags returns the number of imported tags
func (m *Module) NumImportedTags() int { return m.numImported(KindTag) }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int { return m.NumImportedFuncs() + len(m.Funcs) }

// FuncImport returns the import backing funcIdx, or nil for a local function.
func (m *Module) FuncImport(funcIdx uint32) *Import {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return &m.Imports[i]
		}
		funcIdx--
	}
	return nil
}

// FuncTypeIdx returns the type index of a function.
func (m *Module) FuncTypeIdx(funcIdx uint32) (uint32, bool) {
	if imp := m.FuncImport(funcIdx); imp != nil {
		return imp.Desc.TypeIdx, true
	}
	local := int(funcIdx) - m.NumImportedFuncs()
	if local < 0 || local >= len(m.Funcs) {
		return 0, false
	}
	return m.Funcs[local], true
}

// GetFuncType returns the type of a function by its index
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	typeIdx, ok := m.FuncTypeIdx(funcIdx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AllTables returns the table index space, imported tables first.
func (m *Module) AllTables() []TableType {
	var out []TableType
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable && imp.Desc.Table != nil {
			out = append(out, *imp.Desc.Table)
		}
	}
	return append(out, m.Tables...)
}

// AllMemories returns the memory index space, imported memories first.
func (m *Module) AllMemories() []MemoryType {
	var out []MemoryType
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			out = append(out, *imp.Desc.Memory)
		}
	}
	return append(out, m.Memories...)
}

// AllGlobalTypes returns the global index space types, imported globals first.
func (m *Module) AllGlobalTypes() []GlobalType {
	var out []GlobalType
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal && imp.Desc.Global != nil {
			out = append(out, *imp.Desc.Global)
		}
	}
	for _, g := range m.Globals {
		out = append(out, g.Type)
	}
	return out
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}
