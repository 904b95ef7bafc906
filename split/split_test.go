package split

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/arena"
	"github.com/wippyai/wasm-split/split/internal/fixture"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/wasm"
)

var (
	pageB  = fixture.SplitPoint{Module: "app", Hash: "b0", Component: "PageB", Func: "B"}
	pageX  = fixture.SplitPoint{Module: "app", Hash: "0a", Component: "X", Func: "X"}
	pageY  = fixture.SplitPoint{Module: "app", Hash: "0b", Component: "Y", Func: "Y"}
	pageZ  = fixture.SplitPoint{Module: "app", Hash: "0c", Component: "Z", Func: "Z"}
	sample = []byte("shared")
)

// scenarioA: main exports A, B calls only A and is split out as PageB.
//
//	0 import PageB, 1 A, 2 B, 3 app
func scenarioA() *fixture.Program {
	return &fixture.Program{
		Funcs: []fixture.Func{
			{Name: "A", Export: "A"},
			{Name: "B", Calls: []string{"A"}},
			{Name: "app", Export: "run", Calls: []string{pageB.ImportName()}},
		},
		Splits: []fixture.SplitPoint{pageB},
	}
}

// scenarioB: X and Y both call Shared, which main cannot reach.
//
//	0 import X, 1 import Y, 2 Shared, 3 X, 4 Y, 5 app
func scenarioB() *fixture.Program {
	return &fixture.Program{
		Funcs: []fixture.Func{
			{Name: "Shared", Data: []string{"SHARED_MSG"}},
			{Name: "X", Calls: []string{"Shared"}},
			{Name: "Y", Calls: []string{"Shared"}},
			{Name: "app", Export: "run", Calls: []string{pageX.ImportName(), pageY.ImportName()}},
		},
		Data:   []fixture.Data{{Name: "SHARED_MSG", Bytes: sample}},
		Splits: []fixture.SplitPoint{pageX, pageY},
	}
}

func runSplit(t *testing.T, p *fixture.Program, opts fixture.Options, cfg Config) *Output {
	t.Helper()
	out, err := Split(context.Background(), p.MustOriginal(), p.MustBindgened(opts), cfg)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return out
}

func parse(t *testing.T, b []byte) *wasm.Module {
	t.Helper()
	mod, err := wasm.ParseModuleValidate(b)
	if err != nil {
		t.Fatalf("parse emitted module: %v", err)
	}
	return mod
}

func exportNamesOf(mod *wasm.Module) map[string]byte {
	out := make(map[string]byte, len(mod.Exports))
	for _, e := range mod.Exports {
		out[e.Name] = e.Kind
	}
	return out
}

func funcImports(mod *wasm.Module) []string {
	var out []string
	for _, imp := range mod.Imports {
		if imp.Desc.Kind == wasm.KindFunc {
			out = append(out, imp.Module+"."+imp.Name)
		}
	}
	return out
}

func funcNames(t *testing.T, mod *wasm.Module) map[uint32]string {
	t.Helper()
	cs := mod.Custom(wasm.NameSectionName)
	if cs == nil {
		t.Fatalf("emitted module has no name section")
	}
	names, err := wasm.ParseNames(cs.Data)
	if err != nil {
		t.Fatalf("ParseNames: %v", err)
	}
	out := make(map[uint32]string)
	for _, na := range names.Functions {
		out[na.Index] = na.Name
	}
	return out
}

func splitTableOf(t *testing.T, mod *wasm.Module) wasm.TableType {
	t.Helper()
	for _, tt := range mod.AllTables() {
		if tt.ElemType == wasm.ValFuncRef {
			return tt
		}
	}
	t.Fatalf("module has no funcref table")
	return wasm.TableType{}
}

func TestAnalyzeScenarioA(t *testing.T) {
	p := scenarioA()
	plan, err := Analyze(p.MustOriginal(), p.MustBindgened(fixture.Options{}), DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if got := plan.Main.Sorted(); !reflect.DeepEqual(got, []graph.Node{graph.Func(0), graph.Func(1), graph.Func(3)}) {
		t.Errorf("main = %v", got)
	}
	if got := plan.Unused.Sorted(); !reflect.DeepEqual(got, []graph.Node{graph.Func(2)}) {
		t.Errorf("unused = %v", got)
	}
	if got := plan.Shared.Sorted(); !reflect.DeepEqual(got, []graph.Node{graph.Func(1)}) {
		t.Errorf("shared = %v", got)
	}
	if len(plan.Chunks) != 0 {
		t.Errorf("chunks = %v", plan.Chunks)
	}
	if got := plan.ExportName(1); got != "A" {
		t.Errorf("ExportName(1) = %q", got)
	}
	if got := plan.ExportName(0); got != "__wasm_split_unnamed_0" {
		t.Errorf("ExportName(0) = %q", got)
	}
	if got := plan.Targets(); !reflect.DeepEqual(got, []Target{MainTarget(), SplitTarget(0)}) {
		t.Errorf("targets = %v", got)
	}

	// Reachability always includes the roots.
	sp := plan.Splits[0]
	if !sp.Reachable.Has(graph.Func(sp.ExportFunc)) {
		t.Errorf("split reach misses its entry")
	}
}

func TestScenarioA(t *testing.T) {
	out := runSplit(t, scenarioA(), fixture.Options{}, DefaultConfig())

	main := parse(t, out.Main.Bytes)
	if out.Main.ModuleName != "main" {
		t.Errorf("main module name = %q", out.Main.ModuleName)
	}
	if imports := funcImports(main); len(imports) != 0 {
		t.Errorf("main imports %v", imports)
	}
	exports := exportNamesOf(main)
	for name, kind := range map[string]byte{
		"A":                     wasm.KindFunc,
		"run":                   wasm.KindFunc,
		arena.IndirectTableName: wasm.KindTable,
		arena.MemoryName(0):     wasm.KindMemory,
		arena.GlobalName(0):     wasm.KindGlobal,
	} {
		if got, ok := exports[name]; !ok || got != kind {
			t.Errorf("main export %q missing or wrong kind", name)
		}
	}
	if _, ok := exports[pageB.ExportName()]; ok {
		t.Errorf("main still exports the split body")
	}
	for _, name := range funcNames(t, main) {
		if name == "B" {
			t.Errorf("main still defines B")
		}
	}

	// Slot 1 is PageB's hole: the table grows, no segment fills it.
	table := splitTableOf(t, main)
	if table.Limits.Min != 2 || table.Limits.Max == nil || *table.Limits.Max != 2 {
		t.Errorf("main table limits = %+v", table.Limits)
	}
	for _, e := range main.Elements {
		if off, ok := wasm.ConstOffset(e.Offset); ok && e.Active() && off <= 1 && 1 < off+uint64(e.Len()) {
			t.Errorf("main fills PageB's slot")
		}
	}

	if len(out.Modules) != 1 {
		t.Fatalf("modules = %d, want 1", len(out.Modules))
	}
	sm := out.Modules[0]
	if sm.ModuleName != "app" || sm.Hash != "b0" || sm.ComponentName != "PageB" || len(sm.ReliesOnChunks) != 0 {
		t.Errorf("split module = %+v", sm)
	}
	side := parse(t, sm.Bytes)
	if got := funcImports(side); !reflect.DeepEqual(got, []string{"__wasm_split.A"}) {
		t.Errorf("split imports %v", got)
	}
	if len(side.Exports) != 1 || side.Exports[0].Name != pageB.ExportName() || side.Exports[0].Kind != wasm.KindFunc {
		t.Errorf("split exports %+v", side.Exports)
	}
	if len(side.Funcs) != 1 {
		t.Errorf("split defines %d functions, want 1", len(side.Funcs))
	}
	var state []string
	for _, imp := range side.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			state = append(state, imp.Name)
		}
	}
	if !reflect.DeepEqual(state, []string{arena.IndirectTableName, arena.MemoryName(0), arena.GlobalName(0)}) {
		t.Errorf("split state imports %v", state)
	}
	if side.Start != nil {
		t.Errorf("split keeps a start function")
	}
	for _, cs := range side.CustomSections {
		if cs.Name == wasm.LinkingSectionName || wasm.IsRelocSection(cs.Name) {
			t.Errorf("split keeps custom section %q", cs.Name)
		}
	}
}

func TestScenarioB(t *testing.T) {
	out := runSplit(t, scenarioB(), fixture.Options{}, DefaultConfig())

	plan := out.Plan
	if len(plan.Chunks) != 1 {
		t.Fatalf("chunks = %v, want one", plan.Chunks)
	}
	if plan.Chunks[0][0] != graph.Func(2) {
		t.Errorf("chunk 0 = %v", plan.Chunks[0])
	}
	if c, ok := plan.ChunkOf(graph.Func(2)); !ok || c != 0 {
		t.Errorf("ChunkOf(Shared) = %d, %v", c, ok)
	}

	for i, sm := range out.Modules {
		if !reflect.DeepEqual(sm.ReliesOnChunks, []int{0}) {
			t.Errorf("split %d relies on %v, want [0]", i, sm.ReliesOnChunks)
		}
		side := parse(t, sm.Bytes)
		if got := funcImports(side); !reflect.DeepEqual(got, []string{"__wasm_split.Shared"}) {
			t.Errorf("split %d imports %v", i, got)
		}
		for _, seg := range side.Data {
			if !seg.Passive() {
				t.Errorf("split %d seeds data owned by the chunk", i)
			}
		}
	}

	if len(out.Chunks) != 1 {
		t.Fatalf("chunk modules = %d", len(out.Chunks))
	}
	chunk := parse(t, out.Chunks[0].Bytes)
	if out.Chunks[0].ModuleName != "split" {
		t.Errorf("chunk module name = %q", out.Chunks[0].ModuleName)
	}
	if exports := exportNamesOf(chunk); len(exports) != 1 || exports["Shared"] != wasm.KindFunc {
		t.Errorf("chunk exports %v", exports)
	}
	if len(chunk.Funcs) != 1 || len(funcImports(chunk)) != 0 {
		t.Errorf("chunk defines %d and imports %d functions", len(chunk.Funcs), len(funcImports(chunk)))
	}
	var seeded []byte
	for _, seg := range chunk.Data {
		if seg.Passive() {
			continue
		}
		if off, _ := wasm.ConstOffset(seg.Offset); off != fixture.DataBase {
			t.Errorf("chunk seeds data at %d, want %d", off, fixture.DataBase)
		}
		seeded = append(seeded, seg.Init...)
	}
	if !bytes.Equal(seeded, sample) {
		t.Errorf("chunk data = %q, want %q", seeded, sample)
	}

	// Main keeps the layout but not the bytes.
	main := parse(t, out.Main.Bytes)
	if len(main.Data) != 1 || len(main.Data[0].Init) != len(sample) {
		t.Fatalf("main data = %+v", main.Data)
	}
	if !bytes.Equal(main.Data[0].Init, make([]byte, len(sample))) {
		t.Errorf("main data not zeroed: %q", main.Data[0].Init)
	}
	for _, name := range funcNames(t, main) {
		if name == "Shared" || name == "X" || name == "Y" {
			t.Errorf("main still defines %s", name)
		}
	}
}

func TestTableHoles(t *testing.T) {
	// 0 import X, 1 helper, 2 X, 3 app. X takes helper's table slot 1.
	p := &fixture.Program{
		Funcs: []fixture.Func{
			{Name: "helper"},
			{Name: "X", Addrs: []string{"helper"}},
			{Name: "app", Export: "run", Calls: []string{pageX.ImportName()}},
		},
		Splits: []fixture.SplitPoint{pageX},
	}
	out := runSplit(t, p, fixture.Options{}, DefaultConfig())

	main := parse(t, out.Main.Bytes)
	names := funcNames(t, main)
	var active []wasm.Element
	for _, e := range main.Elements {
		if e.Active() {
			active = append(active, e)
		}
	}
	if len(active) != 1 || len(active[0].FuncIdxs) != 1 {
		t.Fatalf("main elements = %+v", main.Elements)
	}
	if got := names[active[0].FuncIdxs[0]]; got != dummyName {
		t.Errorf("slot 1 holds %q, want %q", got, dummyName)
	}
	table := splitTableOf(t, main)
	if table.Limits.Min != 3 || *table.Limits.Max != 3 {
		t.Errorf("main table limits = %+v", table.Limits)
	}

	side := parse(t, out.Modules[0].Bytes)
	sideNames := funcNames(t, side)
	var filled []string
	for _, e := range side.Elements {
		if !e.Active() {
			if e.Len() != 0 {
				t.Errorf("placeholder segment is not empty")
			}
			continue
		}
		if off, _ := wasm.ConstOffset(e.Offset); off != 1 {
			t.Errorf("split segment at %d, want 1", off)
		}
		for _, idx := range e.FuncIdxs {
			filled = append(filled, sideNames[idx])
		}
	}
	if !reflect.DeepEqual(filled, []string{"helper", "X"}) {
		t.Errorf("split fills slots with %v, want [helper X]", filled)
	}
}

func TestTableShape(t *testing.T) {
	out := runSplit(t, scenarioB(), fixture.Options{}, DefaultConfig())

	// No table slots in the fixture: one reserved entry, plus two splits.
	modules := append([]*SplitModule{out.Main}, out.Modules...)
	modules = append(modules, out.Chunks...)
	for i, sm := range modules {
		table := splitTableOf(t, parse(t, sm.Bytes))
		if table.Limits.Max == nil || *table.Limits.Max != 3 || table.Limits.Min != 3 {
			t.Errorf("module %d table limits = %+v, want 3/3", i, table.Limits)
		}
	}
}

func TestChunkSizing(t *testing.T) {
	// X, Y and Z share two unrelated functions.
	p := &fixture.Program{
		Funcs: []fixture.Func{
			{Name: "S1"},
			{Name: "S2"},
			{Name: "X", Calls: []string{"S1", "S2"}},
			{Name: "Y", Calls: []string{"S1", "S2"}},
			{Name: "Z", Calls: []string{"S1", "S2"}},
			{Name: "app", Export: "run", Calls: []string{pageX.ImportName(), pageY.ImportName(), pageZ.ImportName()}},
		},
		Splits: []fixture.SplitPoint{pageX, pageY, pageZ},
	}

	tests := []struct {
		name   string
		cfg    Config
		chunks int
		relies []int
	}{
		{"merged", DefaultConfig(), 1, []int{0}},
		{"capped", DefaultConfig().WithMaxChunkSize(1), 2, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runSplit(t, p, fixture.Options{}, tt.cfg)
			if len(out.Chunks) != tt.chunks {
				t.Fatalf("chunks = %d, want %d", len(out.Chunks), tt.chunks)
			}
			for _, c := range out.Plan.Chunks {
				if len(c) > tt.cfg.MaxChunkSize {
					t.Errorf("chunk %v exceeds %d", c, tt.cfg.MaxChunkSize)
				}
			}
			for i, sm := range out.Modules {
				if !reflect.DeepEqual(sm.ReliesOnChunks, tt.relies) {
					t.Errorf("split %d relies on %v, want %v", i, sm.ReliesOnChunks, tt.relies)
				}
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	p := scenarioB()
	p.Funcs = append(p.Funcs, fixture.Func{Name: "Z", Calls: []string{"Shared", "X"}})
	p.Splits = append(p.Splits, pageZ)
	p.Funcs[3].Calls = append(p.Funcs[3].Calls, pageZ.ImportName())

	flatten := func(out *Output) [][]byte {
		all := [][]byte{out.Main.Bytes}
		for _, sm := range out.Modules {
			all = append(all, sm.Bytes)
		}
		for _, sm := range out.Chunks {
			all = append(all, sm.Bytes)
		}
		return all
	}

	want := flatten(runSplit(t, p, fixture.Options{}, DefaultConfig()))
	for _, workers := range []int{1, 4} {
		got := flatten(runSplit(t, p, fixture.Options{}, DefaultConfig().WithParallelism(workers)))
		if len(got) != len(want) {
			t.Fatalf("parallelism %d: %d modules, want %d", workers, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("parallelism %d: module %d differs", workers, i)
			}
		}
	}
}

func TestBuildTargetMatchesSplit(t *testing.T) {
	p := scenarioB()
	original, bindgened := p.MustOriginal(), p.MustBindgened(fixture.Options{})
	out, err := Split(context.Background(), original, bindgened, DefaultConfig())
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	tests := []struct {
		target Target
		want   *SplitModule
	}{
		{MainTarget(), out.Main},
		{SplitTarget(1), out.Modules[1]},
		{ChunkTarget(0), out.Chunks[0]},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			got, err := BuildTarget(original, bindgened, tt.target, DefaultConfig())
			if err != nil {
				t.Fatalf("BuildTarget: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BuildTarget differs from Split output")
			}
		})
	}

	_, err = BuildTarget(original, bindgened, SplitTarget(7), DefaultConfig())
	requireKind(t, err, errors.KindNotFound)
}

func TestTranslationAcrossInterop(t *testing.T) {
	// The interop build prepends an import and inlines mid into X, so the
	// original edge X -> mid -> leaf has no counterpart for mid.
	p := &fixture.Program{
		Funcs: []fixture.Func{
			{Name: "leaf"},
			{Name: "mid", Calls: []string{"leaf"}},
			{Name: "X", Calls: []string{"mid"}},
			{Name: "app", Export: "run", Calls: []string{pageX.ImportName()}},
		},
		Splits: []fixture.SplitPoint{pageX},
	}
	original := p.MustOriginal()
	bindgened := p.MustBindgened(fixture.Options{Prepend: true, Drop: []string{"mid"}})

	plan, err := Analyze(original, bindgened, DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Bindgened: 0 describe, 1 import X, 2 leaf, 3 X, 4 app.
	if !plan.Injected.Has(graph.Func(2)) || !plan.Main.Has(graph.Func(2)) {
		t.Errorf("leaf not injected into main: injected=%v", plan.Injected.Sorted())
	}
	if len(plan.Untranslated) != 1 {
		t.Errorf("untranslated = %v", plan.Untranslated)
	}

	out, err := plan.EmitAll(context.Background())
	if err != nil {
		t.Fatalf("EmitAll: %v", err)
	}
	main := parse(t, out.Main.Bytes)
	if _, ok := exportNamesOf(main)["leaf"]; !ok {
		t.Errorf("main does not export injected leaf")
	}
	// Nothing calls the prepended import, so the final sweep drops it.
	if got := funcImports(main); len(got) != 0 {
		t.Errorf("main imports %v", got)
	}
	// X calls leaf without a graph edge; the sweep keeps it alive.
	side := parse(t, out.Modules[0].Bytes)
	found := false
	for _, name := range funcNames(t, side) {
		if name == "leaf" {
			found = true
		}
	}
	if !found {
		t.Errorf("split lost leaf")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	p := scenarioA()
	original := p.MustOriginal()

	tests := []struct {
		name      string
		original  []byte
		bindgened []byte
		cfg       Config
		kind      errors.Kind
	}{
		{"names stripped", original, p.MustBindgened(fixture.Options{StripNames: true}), DefaultConfig(), errors.KindNamesStripped},
		{"no relocations", p.MustBindgened(fixture.Options{}), p.MustBindgened(fixture.Options{}), DefaultConfig(), errors.KindInvalidData},
		{"garbage bindgened", original, []byte("nope"), DefaultConfig(), errors.KindInvalidData},
		{"bad config", original, p.MustBindgened(fixture.Options{}), DefaultConfig().WithMaxChunkSize(0), errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.original, tt.bindgened, tt.cfg)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestEmitterConsumed(t *testing.T) {
	p := scenarioA()
	plan, err := Analyze(p.MustOriginal(), p.MustBindgened(fixture.Options{}), DefaultConfig())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	e, err := plan.newEmitter(MainTarget())
	if err != nil {
		t.Fatalf("newEmitter: %v", err)
	}
	if err := e.emitMain(); err != nil {
		t.Fatalf("emitMain: %v", err)
	}
	if _, err := e.finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, err = e.finish()
	se := requireKind(t, err, errors.KindConsumed)
	if se.Target != "main" {
		t.Errorf("target = %q", se.Target)
	}
}

func TestSplitCanceled(t *testing.T) {
	p := scenarioB()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Split(ctx, p.MustOriginal(), p.MustBindgened(fixture.Options{}), DefaultConfig())
	requireKind(t, err, errors.KindCanceled)
}

func TestLazyCallThroughSharedTable(t *testing.T) {
	ctx := context.Background()
	out := runSplit(t, scenarioA(), fixture.Options{}, DefaultConfig())

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	mainMod, err := r.InstantiateWithConfig(ctx, out.Main.Bytes, wazero.NewModuleConfig().WithName(arena.SplitModule))
	if err != nil {
		t.Fatalf("instantiate main: %v", err)
	}
	run := mainMod.ExportedFunction("run")
	if run == nil {
		t.Fatalf("main does not export run")
	}
	if _, err := run.Call(ctx); err == nil {
		t.Fatalf("call before the split is loaded should trap")
	}

	sm := out.Modules[0]
	if _, err := r.InstantiateWithConfig(ctx, sm.Bytes, wazero.NewModuleConfig().WithName(sm.ComponentName)); err != nil {
		t.Fatalf("instantiate split: %v", err)
	}
	if _, err := run.Call(ctx); err != nil {
		t.Fatalf("call after the split is loaded: %v", err)
	}
	if a := mainMod.ExportedFunction("A"); a == nil {
		t.Errorf("main does not export A")
	}
}
