package split

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/arena"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/wasm"
)

// side holds what split and chunk emission share: the table layout, the
// original slots and data segments, and which nodes stay local.
type side struct {
	splitTable uint32
	base       uint64
	slots      []arena.Slot
	segments   []wasm.DataSegment
	local      graph.Set
}

// prepare expands the table and snapshots slots and data before the module
// is stripped.
func (e *emitter) prepare() (*side, error) {
	m := e.arena
	if len(m.Wasm.Tags) > 0 || m.Wasm.NumImportedTags() > 0 {
		return nil, errors.Unsupported(errors.PhaseEmit, e.target.String(), "exception tags in side modules")
	}

	s := &side{local: make(graph.Set)}
	s.splitTable = m.SplitTable()
	s.base = m.ExpandTable(s.splitTable, uint32(len(e.plan.Splits)))

	slots, err := m.Slots()
	if err != nil {
		return nil, errors.Unsupported(errors.PhaseEmit, e.target.String(), err.Error())
	}
	s.slots = slots
	s.segments = append([]wasm.DataSegment(nil), m.Wasm.Data...)
	return s, nil
}

// assign applies decide to every function. Local split imports become
// stubs, imported functions link against their shared name and the rest are
// deleted.
func (e *emitter) assign(s *side, decide func(graph.Node) fate) {
	m := e.arena
	for _, f := range m.Funcs {
		n := graph.Func(f.ID)
		switch decide(n) {
		case fateLocal:
			if sp, ok := e.plan.splitFuncs[f.ID]; ok {
				e.stub(f.ID, sp, s.splitTable, s.base)
			}
			s.local.Add(n)
		case fateImport:
			e.importShared(f.ID)
		default:
			m.Delete(f.ID)
		}
	}
}

type fate int

const (
	fateDelete fate = iota
	fateLocal
	fateImport
)

// strip removes the module's own exports and start, imports all state from
// main and rebuilds the element and data sections for the local nodes.
func (e *emitter) strip(s *side, extraSlots []arena.Slot, data []graph.Node) error {
	m := e.arena
	m.Wasm.Exports = nil
	m.Wasm.Start = nil
	m.Localize(s.splitTable)

	var slots []arena.Slot
	for _, slot := range s.slots {
		if s.local.Has(graph.Func(slot.Func)) {
			if _, stub := e.plan.splitFuncs[slot.Func]; !stub {
				slots = append(slots, slot)
			}
		}
	}
	slots = append(slots, extraSlots...)
	m.ClearElements()
	m.AddSlots(slots)

	m.ClearData()
	return e.seedData(s.segments, data)
}

// emitSplit keeps the code only sp reaches and imports everything else it
// needs from main or from chunks.
func (e *emitter) emitSplit(sp *SplitPoint) error {
	p := e.plan
	s, err := e.prepare()
	if err != nil {
		return err
	}

	entry := graph.Func(sp.ExportFunc)
	var data []graph.Node
	e.assign(s, func(n graph.Node) fate {
		switch {
		case n == entry:
			return fateLocal
		case !sp.Reachable.Has(n):
			return fateDelete
		case p.Main.Has(n):
			return fateImport
		}
		if c, ok := p.chunkOf[n]; ok {
			e.relies[c] = true
			return fateImport
		}
		return fateLocal
	})
	for _, n := range sp.Reachable.Sorted() {
		if n.Kind != graph.Data || p.Main.Has(n) {
			continue
		}
		if c, ok := p.chunkOf[n]; ok {
			e.relies[c] = true
			continue
		}
		data = append(data, n)
	}

	entrySlot := arena.Slot{Table: s.splitTable, Index: s.base + uint64(sp.Index), Func: sp.ExportFunc}
	if err := e.strip(s, []arena.Slot{entrySlot}, data); err != nil {
		return err
	}
	e.arena.Export(sp.ExportName, wasm.KindFunc, sp.ExportFunc)

	Logger().Debug("split rewritten",
		zap.String("module", sp.ModuleName),
		zap.String("component", sp.ComponentName),
		zap.Int("local", len(s.local)),
		zap.Int("data", len(data)),
		zap.Int("chunks", len(e.relies)))
	return nil
}

// emitChunk keeps the chunk's nodes local and exports each of its
// functions for the split points that import them.
func (e *emitter) emitChunk(index int) error {
	p := e.plan
	s, err := e.prepare()
	if err != nil {
		return err
	}

	members := graph.NewSet(p.Chunks[index]...)
	reach := graph.Reachable(p.Graph, p.Chunks[index], nil)
	e.assign(s, func(n graph.Node) fate {
		switch {
		case members.Has(n):
			return fateLocal
		case !reach.Has(n):
			return fateDelete
		case p.Main.Has(n):
			return fateImport
		}
		if c, ok := p.chunkOf[n]; ok {
			e.relies[c] = true
			return fateImport
		}
		return fateLocal
	})

	var data []graph.Node
	for _, n := range p.Chunks[index] {
		if n.Kind == graph.Data {
			data = append(data, n)
		}
	}
	if err := e.strip(s, nil, data); err != nil {
		return err
	}

	for _, id := range members.Funcs() {
		name := p.ExportName(id)
		if !e.arena.Export(name, wasm.KindFunc, id) {
			return errors.New(errors.PhaseEmit, errors.KindInvalidData).
				Target(e.target.String()).
				Symbol(name).
				Detail("chunk function %d collides with another export", id).
				Build()
		}
	}

	Logger().Debug("chunk rewritten",
		zap.Int("index", index),
		zap.Int("members", len(members)),
		zap.Int("local", len(s.local)),
		zap.Int("chunks", len(e.relies)))
	return nil
}
