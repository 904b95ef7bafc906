package wasm

import "fmt"

// Page limits for linear memories.
const (
	MemoryMaxPages32 = 65536
	MemoryMaxPages64 = 1 << 48
)

// Validate checks the module for structural validity: every index the
// module carries outside of code bodies must resolve, and function bodies
// must reference existing functions. It is not a type checker; callers
// that need full validation compile the encoded module with a runtime.
func (m *Module) Validate() error {
	checks := []func() error{
		m.validateTypeIndices,
		m.validateFunctionIndices,
		m.validateTableIndices,
		m.validateMemoryIndices,
		m.validateGlobalIndices,
		m.validateTagIndices,
		m.validateExports,
		m.validateStart,
		m.validateDataCount,
		m.validateMemoryLimits,
		m.validateBodies,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
		if imp.Desc.Kind == KindTag && imp.Desc.Tag != nil && imp.Desc.Tag.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) tag references invalid type index %d", i, imp.Module, imp.Name, imp.Desc.Tag.TypeIdx)
		}
	}
	for i, tag := range m.Tags {
		if tag.TypeIdx >= numTypes {
			return fmt.Errorf("tag %d references invalid type index %d", i, tag.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	for i, elem := range m.Elements {
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= numFuncs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
		for j, expr := range elem.Exprs {
			if idx, ok := RefFuncTarget(expr); ok && idx >= numFuncs {
				return fmt.Errorf("element %d, expr %d references invalid function index %d", i, j, idx)
			}
		}
	}
	for i, g := range m.Globals {
		if idx, ok := RefFuncTarget(g.Init); ok && idx >= numFuncs {
			return fmt.Errorf("global %d references invalid function index %d", i, idx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Idx >= numFuncs {
			return fmt.Errorf("export %d (%s) references invalid function index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	for i, elem := range m.Elements {
		if elem.Active() && elem.TableIdx >= numTables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindTable && exp.Idx >= numTables {
			return fmt.Errorf("export %d (%s) references invalid table index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMemories := uint32(m.NumImportedMemories() + len(m.Memories))
	for i, data := range m.Data {
		if !data.Passive() && data.MemIdx >= numMemories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}
	for i, exp := range m.Exports {
		if exp.Kind == KindMemory && exp.Idx >= numMemories {
			return fmt.Errorf("export %d (%s) references invalid memory index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateGlobalIndices() error {
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	for i, exp := range m.Exports {
		if exp.Kind == KindGlobal && exp.Idx >= numGlobals {
			return fmt.Errorf("export %d (%s) references invalid global index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateTagIndices() error {
	numTags := uint32(m.NumImportedTags() + len(m.Tags))
	for i, exp := range m.Exports {
		if exp.Kind == KindTag && exp.Idx >= numTags {
			return fmt.Errorf("export %d (%s) references invalid tag index %d", i, exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature [] -> [], got [%d params] -> [%d results]",
			len(ft.Params), len(ft.Results))
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, mem := range m.AllMemories() {
		maxPages := uint64(MemoryMaxPages32)
		if mem.Limits.Memory64 {
			maxPages = MemoryMaxPages64
		}
		if mem.Limits.Shared && mem.Limits.Max == nil {
			return fmt.Errorf("memory %d: shared memory must have maximum limit", i)
		}
		if mem.Limits.Min > maxPages {
			return fmt.Errorf("memory %d: min pages %d exceeds maximum %d", i, mem.Limits.Min, maxPages)
		}
		if mem.Limits.Max != nil && *mem.Limits.Max > maxPages {
			return fmt.Errorf("memory %d: max pages %d exceeds maximum %d", i, *mem.Limits.Max, maxPages)
		}
	}
	return nil
}

func (m *Module) validateBodies() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d", len(m.Code), len(m.Funcs))
	}
	numFuncs := uint32(m.NumFuncs())
	for i := range m.Code {
		refs, err := FuncRefs(m.Code[i].Code)
		if err != nil {
			return fmt.Errorf("function %d: %w", m.NumImportedFuncs()+i, err)
		}
		for _, ref := range refs {
			if ref.Index >= numFuncs {
				return fmt.Errorf("function %d references invalid function index %d", m.NumImportedFuncs()+i, ref.Index)
			}
		}
	}
	return nil
}
