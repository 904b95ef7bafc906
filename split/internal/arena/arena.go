// Package arena holds a module in an editable form where functions keep
// stable IDs while they are converted between imports and local
// definitions, synthesized, or deleted. Encode compacts the result back
// into a binary, renumbering every function reference.
package arena

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wippyai/wasm-split/wasm"
)

// SplitModule is the import module every shared item is linked through.
const SplitModule = "__wasm_split"

// Func is one function of the arena. Exactly one of Import and Body is set.
type Func struct {
	Import  *wasm.Import
	Body    *wasm.FuncBody
	Name    string
	Locals  []wasm.NameAssoc
	ID      uint32
	TypeIdx uint32
	Deleted bool
}

// IsImport reports whether the function is imported.
func (f *Func) IsImport() bool { return f.Import != nil }

// Module is an editable module. Wasm holds everything except functions:
// its Imports only contain non-function imports and its Funcs and Code
// are unused until Encode.
type Module struct {
	Wasm       *wasm.Module
	Funcs      []*Func
	moduleName *string
}

// New takes ownership of mod. Function IDs equal the function indices of
// mod; names supplies debug names when present.
func New(mod *wasm.Module, names *wasm.Names) *Module {
	m := &Module{Wasm: mod}
	if names != nil {
		m.moduleName = names.Module
	}

	var other []wasm.Import
	for i := range mod.Imports {
		imp := mod.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			other = append(other, imp)
			continue
		}
		id := uint32(len(m.Funcs))
		m.Funcs = append(m.Funcs, &Func{ID: id, TypeIdx: imp.Desc.TypeIdx, Import: &imp})
	}
	for i, typeIdx := range mod.Funcs {
		body := mod.Code[i]
		id := uint32(len(m.Funcs))
		m.Funcs = append(m.Funcs, &Func{ID: id, TypeIdx: typeIdx, Body: &body})
	}
	mod.Imports = other
	mod.Funcs = nil
	mod.Code = nil

	if names != nil {
		for _, na := range names.Functions {
			if f := m.Func(na.Index); f != nil {
				f.Name = na.Name
			}
		}
		for _, l := range names.Locals {
			if f := m.Func(l.Index); f != nil {
				f.Locals = l.Names
			}
		}
	}
	return m
}

// Func returns the function with the given ID, or nil.
func (m *Module) Func(id uint32) *Func {
	if int(id) >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[id]
}

// Type returns the signature of a function.
func (m *Module) Type(id uint32) *wasm.FuncType {
	f := m.Func(id)
	if f == nil || int(f.TypeIdx) >= len(m.Wasm.Types) {
		return nil
	}
	return &m.Wasm.Types[f.TypeIdx]
}

// AddFunc appends a local function and returns its ID.
func (m *Module) AddFunc(typeIdx uint32, code []byte, name string) uint32 {
	id := uint32(len(m.Funcs))
	m.Funcs = append(m.Funcs, &Func{ID: id, TypeIdx: typeIdx, Body: &wasm.FuncBody{Code: code}, Name: name})
	return id
}

// Delete marks a function deleted.
func (m *Module) Delete(id uint32) {
	if f := m.Func(id); f != nil {
		f.Deleted = true
	}
}

// ToImport turns a function into an import, keeping its ID and type.
func (m *Module) ToImport(id uint32, module, name string) {
	f := m.Funcs[id]
	f.Body = nil
	f.Locals = nil
	f.Deleted = false
	f.Import = &wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: f.TypeIdx},
	}
}

// ToLocal gives a function a local body, replacing any import.
func (m *Module) ToLocal(id uint32, code []byte) {
	f := m.Funcs[id]
	f.Import = nil
	f.Deleted = false
	f.Body = &wasm.FuncBody{Code: code}
}

// Export adds an export unless one with the same name exists. It reports
// false when the name is already bound to a different item.
func (m *Module) Export(name string, kind byte, idx uint32) bool {
	for _, e := range m.Wasm.Exports {
		if e.Name == name {
			return e.Kind == kind && e.Idx == idx
		}
	}
	m.Wasm.Exports = append(m.Wasm.Exports, wasm.Export{Name: name, Kind: kind, Idx: idx})
	return true
}

// RemoveExports drops every export for which drop returns true.
func (m *Module) RemoveExports(drop func(wasm.Export) bool) {
	kept := m.Wasm.Exports[:0]
	for _, e := range m.Wasm.Exports {
		if !drop(e) {
			kept = append(kept, e)
		}
	}
	m.Wasm.Exports = kept
}

// Sweep marks every function reachable from the module's own roots
// (exports, start, element segments and global initializers) and from
// extra. Unreached functions are deleted. Reached functions that were
// marked deleted are restored; their IDs are returned in ascending order.
func (m *Module) Sweep(extra ...uint32) ([]uint32, error) {
	live := make([]bool, len(m.Funcs))
	var queue []uint32
	mark := func(id uint32) {
		if int(id) < len(live) && !live[id] {
			live[id] = true
			queue = append(queue, id)
		}
	}

	for _, id := range extra {
		mark(id)
	}
	for _, id := range m.rootIDs() {
		mark(id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		f := m.Funcs[id]
		if f.Body == nil {
			continue
		}
		refs, err := wasm.FuncRefs(f.Body.Code)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", id, err)
		}
		for _, ref := range refs {
			mark(ref.Index)
		}
	}

	var restored []uint32
	for i, f := range m.Funcs {
		switch {
		case live[i] && f.Deleted:
			f.Deleted = false
			restored = append(restored, f.ID)
		case !live[i]:
			f.Deleted = true
		}
	}
	return restored, nil
}

func (m *Module) rootIDs() []uint32 {
	var ids []uint32
	for _, e := range m.Wasm.Exports {
		if e.Kind == wasm.KindFunc {
			ids = append(ids, e.Idx)
		}
	}
	if m.Wasm.Start != nil {
		ids = append(ids, *m.Wasm.Start)
	}
	for i := range m.Wasm.Elements {
		ids = append(ids, elementFuncs(&m.Wasm.Elements[i])...)
	}
	for _, g := range m.Wasm.Globals {
		if id, ok := wasm.RefFuncTarget(g.Init); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func elementFuncs(e *wasm.Element) []uint32 {
	if !e.UsesExprs() {
		return e.FuncIdxs
	}
	var ids []uint32
	for _, expr := range e.Exprs {
		if id, ok := wasm.RefFuncTarget(expr); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Live returns the IDs of functions that are not deleted, ascending.
func (m *Module) Live() []uint32 {
	var ids []uint32
	for _, f := range m.Funcs {
		if !f.Deleted {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Encode compacts the arena into a module binary. Live imports come first,
// then live local functions, each group in ID order. Linking, relocation
// and DWARF sections are dropped and the name section is regenerated.
func (m *Module) Encode() ([]byte, error) {
	out, err := m.Compact()
	if err != nil {
		return nil, err
	}
	return out.Encode(), nil
}

// Compact builds the encoded form of the arena as a wasm.Module.
func (m *Module) Compact() (*wasm.Module, error) {
	src := m.Wasm
	newIdx := make(map[uint32]uint32, len(m.Funcs))
	var imports, locals []*Func
	for _, f := range m.Funcs {
		if f.Deleted {
			continue
		}
		if f.IsImport() {
			imports = append(imports, f)
		} else {
			locals = append(locals, f)
		}
	}
	order := make([]*Func, 0, len(imports)+len(locals))
	order = append(order, imports...)
	order = append(order, locals...)
	for i, f := range order {
		newIdx[f.ID] = uint32(i)
	}

	var dangling error
	remap := func(id uint32) uint32 {
		idx, ok := newIdx[id]
		if !ok && dangling == nil {
			dangling = fmt.Errorf("reference to deleted function %d", id)
		}
		return idx
	}

	out := &wasm.Module{
		Types:     src.Types,
		Tables:    src.Tables,
		Memories:  src.Memories,
		Tags:      src.Tags,
		Data:      src.Data,
		DataCount: src.DataCount,
	}
	for _, f := range imports {
		out.Imports = append(out.Imports, *f.Import)
	}
	out.Imports = append(out.Imports, src.Imports...)

	refFuncs := make(map[uint32]bool)
	for _, f := range locals {
		code, err := wasm.RemapFuncRefs(f.Body.Code, remap)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", f.ID, err)
		}
		if dangling != nil {
			return nil, fmt.Errorf("function %d: %w", f.ID, dangling)
		}
		refs, err := wasm.FuncRefs(code)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", f.ID, err)
		}
		for _, ref := range refs {
			if ref.Op == wasm.OpRefFunc {
				refFuncs[ref.Index] = true
			}
		}
		out.Funcs = append(out.Funcs, f.TypeIdx)
		out.Code = append(out.Code, wasm.FuncBody{Locals: f.Body.Locals, Code: code})
	}

	declared := make(map[uint32]bool)
	for _, g := range src.Globals {
		init := wasm.RemapRefFunc(g.Init, remap)
		if id, ok := wasm.RefFuncTarget(init); ok {
			declared[id] = true
		}
		out.Globals = append(out.Globals, wasm.Global{Type: g.Type, Init: init})
	}
	for _, e := range src.Exports {
		if e.Kind == wasm.KindFunc {
			e.Idx = remap(e.Idx)
			declared[e.Idx] = true
		}
		out.Exports = append(out.Exports, e)
	}
	if src.Start != nil {
		start := remap(*src.Start)
		out.Start = &start
	}
	for _, e := range src.Elements {
		if e.UsesExprs() {
			exprs := make([][]byte, len(e.Exprs))
			for i, expr := range e.Exprs {
				exprs[i] = wasm.RemapRefFunc(expr, remap)
			}
			e.Exprs = exprs
		} else {
			idxs := make([]uint32, len(e.FuncIdxs))
			for i, id := range e.FuncIdxs {
				idxs[i] = remap(id)
			}
			e.FuncIdxs = idxs
		}
		for _, id := range elementFuncs(&e) {
			declared[id] = true
		}
		out.Elements = append(out.Elements, e)
	}
	if dangling != nil {
		return nil, dangling
	}

	var undeclared []uint32
	for idx := range refFuncs {
		if !declared[idx] {
			undeclared = append(undeclared, idx)
		}
	}
	if len(undeclared) > 0 {
		sort.Slice(undeclared, func(i, j int) bool { return undeclared[i] < undeclared[j] })
		out.Elements = append(out.Elements, wasm.Element{
			Flags:    3,
			ElemKind: wasm.ElemKindFunc,
			FuncIdxs: undeclared,
		})
	}

	if out.DataCount != nil {
		count := uint32(len(out.Data))
		out.DataCount = &count
	}

	for _, cs := range src.CustomSections {
		if dropCustom(cs.Name) {
			continue
		}
		out.CustomSections = append(out.CustomSections, cs)
	}
	names := &wasm.Names{Module: m.moduleName}
	for _, f := range order {
		if f.Name != "" {
			names.Functions = append(names.Functions, wasm.NameAssoc{Index: newIdx[f.ID], Name: f.Name})
		}
		if len(f.Locals) > 0 {
			names.Locals = append(names.Locals, wasm.IndirectNameAssoc{Index: newIdx[f.ID], Names: f.Locals})
		}
	}
	if names.Module != nil || len(names.Functions) > 0 || len(names.Locals) > 0 {
		out.CustomSections = append(out.CustomSections, wasm.CustomSection{
			Name: wasm.NameSectionName,
			Data: names.Encode(),
		})
	}
	return out, nil
}

func dropCustom(name string) bool {
	return name == wasm.NameSectionName ||
		name == wasm.LinkingSectionName ||
		wasm.IsRelocSection(name) ||
		strings.HasPrefix(name, wasm.DebugSectionPrefix)
}
