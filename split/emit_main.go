package split

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/arena"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/wasm"
)

// dummyName names the placeholder main puts into table slots of functions
// it no longer carries.
const dummyName = "__wasm_split_dummy"

// emitMain strips everything only split points need from the module and
// routes calls to split points through the shared table.
func (e *emitter) emitMain() error {
	p := e.plan
	m := e.arena

	splitTable := m.SplitTable()
	base := m.ExpandTable(splitTable, uint32(len(p.Splits)))

	dummyType := m.Wasm.AddType(wasm.FuncType{})
	dummy := m.AddFunc(dummyType, wasm.NewCodeBuilder().Unreachable().End().Bytes(), dummyName)
	holes := 0
	m.ReplaceElementFuncs(func(id uint32) uint32 {
		if _, stub := p.splitFuncs[id]; !stub && p.Unused.Has(graph.Func(id)) {
			holes++
			return dummy
		}
		return id
	})

	for _, sp := range p.Splits {
		e.stub(sp.ImportFunc, sp, splitTable, base)
	}
	for _, id := range p.Unused.Funcs() {
		if _, ok := p.splitFuncs[id]; ok {
			continue
		}
		m.Delete(id)
	}
	e.zeroUnusedData()

	splitExports := make(map[string]bool, len(p.Splits))
	for _, sp := range p.Splits {
		splitExports[sp.ExportName] = true
	}
	m.RemoveExports(func(exp wasm.Export) bool {
		return exp.Kind == wasm.KindFunc && splitExports[exp.Name]
	})

	if err := e.exportState(splitTable); err != nil {
		return err
	}
	for _, id := range p.Shared.Funcs() {
		if f := m.Func(id); f == nil {
			continue
		}
		name := p.ExportName(id)
		if !m.Export(name, wasm.KindFunc, id) {
			return errors.New(errors.PhaseEmit, errors.KindInvalidData).
				Target(e.target.String()).
				Symbol(name).
				Detail("shared function %d collides with an existing export", id).
				Build()
		}
	}

	Logger().Debug("main rewritten",
		zap.Uint64("table_base", base),
		zap.Int("stubs", len(p.Splits)),
		zap.Int("holes", holes),
		zap.Int("shared", len(p.Shared)))
	return nil
}

// exportState exports every table, memory and global under the names side
// modules import them by.
func (e *emitter) exportState(splitTable uint32) error {
	m := e.arena
	for i := uint32(0); i < m.NumTables(); i++ {
		if err := e.export(arena.TableName(i, splitTable), wasm.KindTable, i); err != nil {
			return err
		}
	}
	for i := range m.Wasm.AllMemories() {
		if err := e.export(arena.MemoryName(uint32(i)), wasm.KindMemory, uint32(i)); err != nil {
			return err
		}
	}
	for i := range m.Wasm.AllGlobalTypes() {
		if err := e.export(arena.GlobalName(uint32(i)), wasm.KindGlobal, uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) export(name string, kind byte, idx uint32) error {
	if e.arena.Export(name, kind, idx) {
		return nil
	}
	return errors.New(errors.PhaseEmit, errors.KindInvalidData).
		Target(e.target.String()).
		Symbol(name).
		Detail("export name is already bound to another item").
		Build()
}

// zeroUnusedData clears the bytes of data symbols main no longer needs.
// The side module that owns a symbol writes it back when it loads.
func (e *emitter) zeroUnusedData() {
	segs := e.arena.Wasm.Data
	copied := make(map[uint32]bool)
	for _, n := range e.plan.Unused.Sorted() {
		if n.Kind != graph.Data {
			continue
		}
		ds, ok := e.plan.data[n.Index]
		if !ok || int(ds.Segment) >= len(segs) {
			continue
		}
		seg := &segs[ds.Segment]
		if seg.Passive() {
			continue
		}
		// Decoded segments alias the input bytes, which are shared.
		if !copied[ds.Segment] {
			seg.Init = append([]byte(nil), seg.Init...)
			copied[ds.Segment] = true
		}
		clear(seg.Init[ds.Offset : ds.Offset+ds.Size])
	}
}

func (e *emitter) warnRestored(id uint32) {
	f := e.arena.Func(id)
	fields := []zap.Field{
		zap.String("target", e.target.String()),
		zap.Uint32("func", id),
		zap.String("name", e.plan.FuncName(id)),
	}
	if f != nil && f.IsImport() {
		fields = append(fields, zap.String("import", fmt.Sprintf("%s.%s", f.Import.Module, f.Import.Name)))
	}
	Logger().Warn("restored function missing from the call graph", fields...)
}
