package split

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/arena"
	"github.com/wippyai/wasm-split/split/internal/graph"
	"github.com/wippyai/wasm-split/split/internal/reloc"
	"github.com/wippyai/wasm-split/wasm"
)

// TargetKind selects an emission policy.
type TargetKind int

const (
	TargetMain TargetKind = iota
	TargetSplit
	TargetChunk
)

// Target names one emitted module.
type Target struct {
	Kind  TargetKind
	Index int
}

// MainTarget selects the main module.
func MainTarget() Target { return Target{Kind: TargetMain} }

// SplitTarget selects the module of split point i.
func SplitTarget(i int) Target { return Target{Kind: TargetSplit, Index: i} }

// ChunkTarget selects shared chunk i.
func ChunkTarget(i int) Target { return Target{Kind: TargetChunk, Index: i} }

func (t Target) String() string {
	switch t.Kind {
	case TargetMain:
		return "main"
	case TargetSplit:
		return fmt.Sprintf("split %d", t.Index)
	case TargetChunk:
		return fmt.Sprintf("chunk %d", t.Index)
	default:
		return fmt.Sprintf("target(%d,%d)", t.Kind, t.Index)
	}
}

// SplitModule is one emitted module.
type SplitModule struct {
	ModuleName    string
	Hash          string
	ComponentName string
	Bytes         []byte

	// ReliesOnChunks lists, ascending, the chunks that must be loaded
	// before this module is linked.
	ReliesOnChunks []int
}

// emitter rewrites a private copy of the bindgened module for one target.
type emitter struct {
	plan     *Plan
	target   Target
	arena    *arena.Module
	relies   map[int]bool
	consumed bool
}

func (p *Plan) newEmitter(t Target) (*emitter, error) {
	switch t.Kind {
	case TargetMain:
	case TargetSplit:
		if t.Index < 0 || t.Index >= len(p.Splits) {
			return nil, errors.NotFound(errors.PhaseEmit, "split", fmt.Sprint(t.Index))
		}
	case TargetChunk:
		if t.Index < 0 || t.Index >= len(p.Chunks) {
			return nil, errors.NotFound(errors.PhaseEmit, "chunk", fmt.Sprint(t.Index))
		}
	default:
		return nil, errors.InvalidInput(errors.PhaseEmit, fmt.Sprintf("unknown target kind %d", t.Kind))
	}

	mod, err := wasm.ParseModule(p.bindgened)
	if err != nil {
		return nil, errors.ParseFailed("bindgened module", err)
	}
	names, err := reloc.LoadNames(mod)
	if err != nil {
		return nil, err
	}
	return &emitter{
		plan:   p,
		target: t,
		arena:  arena.New(mod, names),
		relies: make(map[int]bool),
	}, nil
}

// Emit builds the module for t.
func (p *Plan) Emit(t Target) (*SplitModule, error) {
	e, err := p.newEmitter(t)
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case TargetMain:
		err = e.emitMain()
	case TargetSplit:
		err = e.emitSplit(p.Splits[t.Index])
	case TargetChunk:
		err = e.emitChunk(t.Index)
	}
	if err != nil {
		return nil, err
	}
	return e.finish()
}

// finish encodes the rewritten module. An emitter can finish only once.
func (e *emitter) finish() (*SplitModule, error) {
	if e.consumed {
		return nil, errors.Consumed(e.target.String())
	}
	e.consumed = true

	restored, err := e.arena.Sweep()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEmit, errors.KindInvalidData, err, e.target.String())
	}
	for _, id := range restored {
		e.warnRestored(id)
	}
	Logger().Debug("swept",
		zap.String("target", e.target.String()),
		zap.Int("live", len(e.arena.Live())),
		zap.Int("restored", len(restored)))

	bytes, err := e.arena.Encode()
	if err != nil {
		return nil, errors.Validation(e.target.String(), err)
	}

	out := &SplitModule{Bytes: bytes}
	switch e.target.Kind {
	case TargetMain:
		out.ModuleName = "main"
	case TargetSplit:
		sp := e.plan.Splits[e.target.Index]
		out.ModuleName = sp.ModuleName
		out.Hash = sp.Hash
		out.ComponentName = sp.ComponentName
	case TargetChunk:
		out.ModuleName = "split"
	}
	for i := range e.relies {
		out.ReliesOnChunks = append(out.ReliesOnChunks, i)
	}
	sort.Ints(out.ReliesOnChunks)
	e.arena = nil
	return out, nil
}

// stub gives function id a body that forwards its arguments to the table
// slot owned by split point sp.
func (e *emitter) stub(id uint32, sp *SplitPoint, splitTable uint32, base uint64) {
	f := e.arena.Func(id)
	ft := e.arena.Type(id)
	c := wasm.NewCodeBuilder()
	for i := range ft.Params {
		c.LocalGet(uint32(i))
	}
	c.I32Const(int32(base + uint64(sp.Index)))
	c.CallIndirect(f.TypeIdx, splitTable)
	c.End()
	e.arena.ToLocal(id, c.Bytes())
}

// importShared turns function id into an import of its shared name.
func (e *emitter) importShared(id uint32) {
	e.arena.ToImport(id, arena.SplitModule, e.plan.ExportName(id))
}

// seedData writes back the bytes of the given data symbols as active
// segments at their original addresses. Contiguous symbols share a
// segment. Symbols in passive segments are skipped.
func (e *emitter) seedData(segments []wasm.DataSegment, nodes []graph.Node) error {
	type piece struct {
		mem   uint32
		start uint64
		bytes []byte
	}
	var pieces []piece
	for _, n := range nodes {
		if n.Kind != graph.Data {
			continue
		}
		ds, ok := e.plan.data[n.Index]
		if !ok {
			continue
		}
		seg := &segments[ds.Segment]
		if seg.Passive() {
			continue
		}
		base, ok := wasm.ConstOffset(seg.Offset)
		if !ok {
			return errors.Unsupported(errors.PhaseEmit, e.target.String(),
				fmt.Sprintf("data segment %d has a non-constant offset", ds.Segment))
		}
		pieces = append(pieces, piece{
			mem:   seg.MemIdx,
			start: base + ds.Offset,
			bytes: seg.Init[ds.Offset : ds.Offset+ds.Size],
		})
	}
	sort.SliceStable(pieces, func(i, j int) bool {
		if pieces[i].mem != pieces[j].mem {
			return pieces[i].mem < pieces[j].mem
		}
		return pieces[i].start < pieces[j].start
	})

	var runs []piece
	for _, pc := range pieces {
		if k := len(runs) - 1; k >= 0 && runs[k].mem == pc.mem &&
			runs[k].start+uint64(len(runs[k].bytes)) == pc.start {
			runs[k].bytes = append(runs[k].bytes, pc.bytes...)
			continue
		}
		runs = append(runs, piece{mem: pc.mem, start: pc.start, bytes: append([]byte(nil), pc.bytes...)})
	}
	for _, r := range runs {
		e.arena.AddData(r.mem, r.start, r.bytes)
	}
	return nil
}
