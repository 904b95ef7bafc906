package arena

import (
	"reflect"
	"testing"

	"github.com/wippyai/wasm-split/wasm"
)

// testModule has one import and four local functions:
//
//	0 env.f (import)
//	1 calls 2        exported "one"
//	2 calls 0
//	3 calls 2        unreferenced
//	4 ref.func 1     exported "four"
func testModule() (*wasm.Module, *wasm.Names) {
	limit := uint64(2)
	mod := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Imports: []wasm.Import{{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc}}},
		Funcs:   []uint32{0, 0, 0, 0},
		Tables:  []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2, Max: &limit}}},
		Code: []wasm.FuncBody{
			{Code: wasm.NewCodeBuilder().Call(2).End().Bytes()},
			{Code: wasm.NewCodeBuilder().Call(0).End().Bytes()},
			{Code: wasm.NewCodeBuilder().Call(2).End().Bytes()},
			{Code: wasm.NewCodeBuilder().RefFunc(1).Drop().End().Bytes()},
		},
		Exports: []wasm.Export{
			{Name: "one", Kind: wasm.KindFunc, Idx: 1},
			{Name: "four", Kind: wasm.KindFunc, Idx: 4},
		},
		CustomSections: []wasm.CustomSection{
			{Name: "producers", Data: []byte{0}},
			{Name: wasm.LinkingSectionName, Data: []byte{2}},
			{Name: "reloc.CODE", Data: []byte{0, 0}},
			{Name: ".debug_info", Data: []byte{1}},
		},
	}
	names := &wasm.Names{Functions: []wasm.NameAssoc{
		{Index: 0, Name: "f"}, {Index: 1, Name: "one"}, {Index: 2, Name: "two"},
		{Index: 3, Name: "three"}, {Index: 4, Name: "four"},
	}}
	return mod, names
}

func callTargets(t *testing.T, body wasm.FuncBody) []uint32 {
	t.Helper()
	refs, err := wasm.FuncRefs(body.Code)
	if err != nil {
		t.Fatalf("FuncRefs: %v", err)
	}
	var out []uint32
	for _, r := range refs {
		out = append(out, r.Index)
	}
	return out
}

func decode(t *testing.T, m *Module) (*wasm.Module, *wasm.Names) {
	t.Helper()
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := wasm.ParseModuleValidate(data)
	if err != nil {
		t.Fatalf("encoded module is invalid: %v", err)
	}
	cs := out.Custom(wasm.NameSectionName)
	if cs == nil {
		return out, nil
	}
	names, err := wasm.ParseNames(cs.Data)
	if err != nil {
		t.Fatalf("ParseNames: %v", err)
	}
	return out, names
}

func TestNewSeparatesFunctions(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)

	if len(m.Funcs) != 5 {
		t.Fatalf("expected 5 functions, got %d", len(m.Funcs))
	}
	if !m.Funcs[0].IsImport() || m.Funcs[1].IsImport() {
		t.Error("import/local split is wrong")
	}
	if m.Funcs[3].Name != "three" {
		t.Errorf("name = %q", m.Funcs[3].Name)
	}
	if len(m.Wasm.Imports) != 0 || m.Wasm.Funcs != nil || m.Wasm.Code != nil {
		t.Error("function parts should move out of the wasm module")
	}
}

func TestEncodeDropsLinkerSections(t *testing.T) {
	mod, names := testModule()
	out, _ := decode(t, New(mod, names))

	var got []string
	for _, cs := range out.CustomSections {
		got = append(got, cs.Name)
	}
	want := []string{"producers", wasm.NameSectionName}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("custom sections = %v, want %v", got, want)
	}
}

func TestSweep(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	m.Delete(2)

	restored, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !reflect.DeepEqual(restored, []uint32{2}) {
		t.Errorf("restored = %v, want [2]", restored)
	}
	if !reflect.DeepEqual(m.Live(), []uint32{0, 1, 2, 4}) {
		t.Errorf("live = %v", m.Live())
	}

	out, names2 := decode(t, m)
	if len(out.Code) != 3 {
		t.Fatalf("expected 3 bodies, got %d", len(out.Code))
	}
	if name, _ := names2.FunctionName(3); name != "four" {
		t.Errorf("function 3 is %q, want four", name)
	}
	if got := callTargets(t, out.Code[2]); !reflect.DeepEqual(got, []uint32{1}) {
		t.Errorf("four references %v, want [1]", got)
	}
}

func TestSweepExtraRoots(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	if _, err := m.Sweep(3); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if m.Funcs[3].Deleted {
		t.Error("extra root was deleted")
	}
}

func TestToImportRenumbers(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	m.ToImport(2, SplitModule, "two")
	m.Delete(3)

	out, nm := decode(t, m)
	if len(out.Imports) != 2 || out.Imports[1].Name != "two" {
		t.Fatalf("imports = %+v", out.Imports)
	}
	// Order: f, two, one, four.
	if got := callTargets(t, out.Code[0]); !reflect.DeepEqual(got, []uint32{1}) {
		t.Errorf("one calls %v, want [1]", got)
	}
	if out.Exports[0].Idx != 2 || out.Exports[1].Idx != 3 {
		t.Errorf("exports = %+v", out.Exports)
	}
	if name, _ := nm.FunctionName(1); name != "two" {
		t.Errorf("function 1 is %q", name)
	}
}

func TestToLocal(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	m.ToLocal(0, wasm.NewCodeBuilder().Unreachable().End().Bytes())

	out, _ := decode(t, m)
	if len(out.Imports) != 0 || len(out.Code) != 5 {
		t.Fatalf("imports=%d bodies=%d", len(out.Imports), len(out.Code))
	}
}

func TestEncodeDangling(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	m.Delete(2)
	if _, err := m.Encode(); err == nil {
		t.Fatal("expected error for call to deleted function")
	}
}

func TestEncodeDeclaresRefFunc(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)
	m.RemoveExports(func(e wasm.Export) bool { return e.Name == "one" })

	out, _ := decode(t, m)
	if len(out.Elements) != 1 {
		t.Fatalf("expected a declarative segment, got %d segments", len(out.Elements))
	}
	e := out.Elements[0]
	if !e.Declarative() || !reflect.DeepEqual(e.FuncIdxs, []uint32{1}) {
		t.Errorf("segment = %+v", e)
	}
}

func TestExport(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)

	if !m.Export("one", wasm.KindFunc, 1) {
		t.Error("re-exporting the same item should succeed")
	}
	if m.Export("one", wasm.KindFunc, 2) {
		t.Error("exporting a different item under a taken name should fail")
	}
	if !m.Export("two", wasm.KindFunc, 2) {
		t.Error("new export rejected")
	}
	if len(m.Wasm.Exports) != 3 || m.Wasm.Exports[2] != (wasm.Export{Name: "two", Kind: wasm.KindFunc, Idx: 2}) {
		t.Errorf("exports = %+v", m.Wasm.Exports)
	}
}

func TestTables(t *testing.T) {
	mod, names := testModule()
	m := New(mod, names)

	idx := m.SplitTable()
	if idx != 0 {
		t.Fatalf("split table = %d", idx)
	}
	if base := m.ExpandTable(idx, 3); base != 2 {
		t.Errorf("base = %d, want 2", base)
	}
	tt := m.Wasm.Tables[0]
	if tt.Limits.Min != 5 || *tt.Limits.Max != 5 {
		t.Errorf("limits = %d/%d, want 5/5", tt.Limits.Min, *tt.Limits.Max)
	}

	bare := New(&wasm.Module{Types: []wasm.FuncType{{}}}, nil)
	idx = bare.SplitTable()
	if idx != 0 || len(bare.Wasm.Tables) != 1 {
		t.Fatalf("expected a created table, got %d tables", len(bare.Wasm.Tables))
	}
	if base := bare.ExpandTable(idx, 2); base != 0 {
		t.Errorf("base = %d", base)
	}

	unbounded := New(&wasm.Module{Tables: []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}}}, nil)
	if base := unbounded.ExpandTable(0, 1); base != 4 || unbounded.Wasm.Tables[0].Limits.Min != 5 {
		t.Errorf("unbounded base = %d", base)
	}
}

func TestLocalize(t *testing.T) {
	limit := uint64(1)
	mod := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "mem", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}}},
		},
		Tables: []wasm.TableType{
			{ElemType: wasm.ValExtern, Limits: wasm.Limits{Min: 1}},
			{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1, Max: &limit}},
		},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 2}}},
		Globals:  []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, Init: wasm.I32ConstExpr(0)}},
	}
	m := New(mod, nil)
	split := m.SplitTable()
	m.Localize(split)

	var got []string
	for _, imp := range m.Wasm.Imports {
		if imp.Module != SplitModule {
			t.Errorf("import %s from %s", imp.Name, imp.Module)
		}
		got = append(got, imp.Name)
	}
	want := []string{"__imported_table_0", IndirectTableName, "__memory_0", "__memory_1", "__global__0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("imports = %v, want %v", got, want)
	}
	if m.Wasm.Imports[3].Desc.Memory.Limits.Min != 2 {
		t.Error("memory type lost")
	}
	if len(m.Wasm.Tables)+len(m.Wasm.Memories)+len(m.Wasm.Globals) != 0 {
		t.Error("definitions should be gone")
	}
}

func TestSlots(t *testing.T) {
	mod, names := testModule()
	mod.Elements = []wasm.Element{
		{Offset: wasm.I32ConstExpr(0), FuncIdxs: []uint32{1, 2}},
		{Flags: 1, FuncIdxs: []uint32{3}},
	}
	m := New(mod, names)

	slots, err := m.Slots()
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{{Index: 0, Func: 1}, {Index: 1, Func: 2}}
	if !reflect.DeepEqual(slots, want) {
		t.Errorf("slots = %+v", slots)
	}

	m.ReplaceElementFuncs(func(id uint32) uint32 {
		if id == 2 {
			return 4
		}
		return id
	})
	if !reflect.DeepEqual(m.Wasm.Elements[0].FuncIdxs, []uint32{1, 4}) {
		t.Errorf("replaced = %v", m.Wasm.Elements[0].FuncIdxs)
	}

	m.ClearElements()
	m.AddSlots([]Slot{{Index: 1, Func: 4}, {Index: 0, Func: 1}, {Index: 5, Func: 3}})
	if len(m.Wasm.Elements) != 4 {
		t.Fatalf("expected 2 placeholders and 2 segments, got %d", len(m.Wasm.Elements))
	}
	if m.Wasm.Elements[0].Len() != 0 || m.Wasm.Elements[0].Active() {
		t.Error("placeholder should be empty and passive")
	}
	if got := m.Wasm.Elements[2].FuncIdxs; !reflect.DeepEqual(got, []uint32{1, 4}) {
		t.Errorf("coalesced = %v", got)
	}
	if off, _ := wasm.ConstOffset(m.Wasm.Elements[3].Offset); off != 5 {
		t.Errorf("offset = %d", off)
	}
	decode(t, m)

	bad := New(&wasm.Module{Elements: []wasm.Element{{
		Offset:   []byte{wasm.OpGlobalGet, 0, wasm.OpEnd},
		FuncIdxs: []uint32{0},
	}}}, nil)
	if _, err := bad.Slots(); err == nil {
		t.Error("expected error for a global-relative offset")
	}
}

func TestClearData(t *testing.T) {
	count := uint32(2)
	withCount := &wasm.Module{
		Memories:  []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data:      []wasm.DataSegment{{Offset: wasm.I32ConstExpr(0), Init: []byte{1}}, {Flags: 1, Init: []byte{2}}},
		DataCount: &count,
	}
	m := New(withCount, nil)
	m.ClearData()
	m.AddData(0, 16, []byte{9, 9})

	out, _ := decode(t, m)
	if len(out.Data) != 3 || *out.DataCount != 3 {
		t.Fatalf("data = %d, count = %d", len(out.Data), *out.DataCount)
	}
	if !out.Data[0].Passive() || len(out.Data[0].Init) != 0 {
		t.Error("placeholder should be empty and passive")
	}
	if off, _ := wasm.ConstOffset(out.Data[2].Offset); off != 16 {
		t.Errorf("offset = %d", off)
	}

	without := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data:     []wasm.DataSegment{{Offset: wasm.I32ConstExpr(0), Init: []byte{1}}},
	}
	m = New(without, nil)
	m.ClearData()
	if len(m.Wasm.Data) != 0 {
		t.Errorf("expected no segments, got %d", len(m.Wasm.Data))
	}
}
