package wasm

import (
	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// encoder frames sections onto an output writer.
type encoder struct {
	out *binary.Writer
}

// section writes one section whose payload is produced by body. Empty
// payloads are still framed; callers skip absent sections.
func (e encoder) section(id byte, body func(w *binary.Writer)) {
	w := binary.NewWriter()
	body(w)
	e.out.Byte(id)
	e.out.WriteU32(uint32(w.Len()))
	e.out.WriteBytes(w.Bytes())
}

// vec writes a counted vector section, or nothing when n is zero.
func (e encoder) vec(id byte, n int, item func(w *binary.Writer, i int)) {
	if n == 0 {
		return
	}
	e.section(id, func(w *binary.Writer) {
		w.WriteU32(uint32(n))
		for i := 0; i < n; i++ {
			item(w, i)
		}
	})
}

// Encode encodes the module to WebAssembly binary format. Known sections
// come in canonical order; custom sections follow them in stored order,
// so relocation sections always trail the sections they patch.
func (m *Module) Encode() []byte {
	out := binary.NewWriter()
	out.WriteU32LE(Magic)
	out.WriteU32LE(Version)
	e := encoder{out: out}

	e.vec(SectionType, len(m.Types), func(w *binary.Writer, i int) {
		w.Byte(FuncTypeByte)
		writeValTypes(w, m.Types[i].Params)
		writeValTypes(w, m.Types[i].Results)
	})
	e.vec(SectionImport, len(m.Imports), func(w *binary.Writer, i int) {
		imp := &m.Imports[i]
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		writeExternDesc(w, imp.Desc)
	})
	e.vec(SectionFunction, len(m.Funcs), func(w *binary.Writer, i int) {
		w.WriteU32(m.Funcs[i])
	})
	e.vec(SectionTable, len(m.Tables), func(w *binary.Writer, i int) {
		writeTableType(w, m.Tables[i])
	})
	e.vec(SectionMemory, len(m.Memories), func(w *binary.Writer, i int) {
		writeLimits(w, m.Memories[i].Limits)
	})
	e.vec(SectionTag, len(m.Tags), func(w *binary.Writer, i int) {
		writeTagType(w, m.Tags[i])
	})
	e.vec(SectionGlobal, len(m.Globals), func(w *binary.Writer, i int) {
		writeGlobalType(w, m.Globals[i].Type)
		w.WriteBytes(m.Globals[i].Init)
	})
	e.vec(SectionExport, len(m.Exports), func(w *binary.Writer, i int) {
		w.WriteName(m.Exports[i].Name)
		w.Byte(m.Exports[i].Kind)
		w.WriteU32(m.Exports[i].Idx)
	})
	if m.Start != nil {
		e.section(SectionStart, func(w *binary.Writer) { w.WriteU32(*m.Start) })
	}
	e.vec(SectionElement, len(m.Elements), func(w *binary.Writer, i int) {
		writeElement(w, &m.Elements[i])
	})
	if m.DataCount != nil {
		e.section(SectionDataCount, func(w *binary.Writer) { w.WriteU32(*m.DataCount) })
	}
	e.vec(SectionCode, len(m.Code), func(w *binary.Writer, i int) {
		writeBody(w, &m.Code[i])
	})
	e.vec(SectionData, len(m.Data), func(w *binary.Writer, i int) {
		writeData(w, &m.Data[i])
	})
	for i := range m.CustomSections {
		cs := &m.CustomSections[i]
		e.section(SectionCustom, func(w *binary.Writer) {
			w.WriteName(cs.Name)
			w.WriteBytes(cs.Data)
		})
	}

	return out.Bytes()
}

func writeExternDesc(w *binary.Writer, d ImportDesc) {
	w.Byte(d.Kind)
	switch d.Kind {
	case KindFunc:
		w.WriteU32(d.TypeIdx)
	case KindTable:
		writeTableType(w, *d.Table)
	case KindMemory:
		writeLimits(w, d.Memory.Limits)
	case KindGlobal:
		writeGlobalType(w, *d.Global)
	case KindTag:
		writeTagType(w, *d.Tag)
	}
}

// writeBody writes a size-prefixed function body.
func writeBody(w *binary.Writer, body *FuncBody) {
	b := binary.NewWriter()
	b.WriteU32(uint32(len(body.Locals)))
	for _, l := range body.Locals {
		b.WriteU32(l.Count)
		b.Byte(byte(l.ValType))
	}
	b.WriteBytes(body.Code)
	w.WriteU32(uint32(b.Len()))
	w.WriteBytes(b.Bytes())
}

// writeData writes a segment in flag form 0 (active, memory 0), 1
// (passive) or 2 (active, explicit memory).
func writeData(w *binary.Writer, d *DataSegment) {
	w.WriteU32(d.Flags)
	if d.Flags == 2 {
		w.WriteU32(d.MemIdx)
	}
	if d.Flags != 1 {
		w.WriteBytes(d.Offset)
	}
	w.WriteU32(uint32(len(d.Init)))
	w.WriteBytes(d.Init)
}

func writeElement(w *binary.Writer, elem *Element) {
	w.WriteU32(elem.Flags)
	if elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0 {
		w.WriteU32(elem.TableIdx)
	}
	if elem.Active() {
		w.WriteBytes(elem.Offset)
	}
	exprs := elem.UsesExprs()
	if elem.Flags&0x03 != 0 {
		if exprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(elem.ElemKind)
		}
	}
	if exprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(elem.FuncIdxs)))
	for _, idx := range elem.FuncIdxs {
		w.WriteU32(idx)
	}
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)
	w.WriteU64(l.Min)
	if l.Max != nil {
		w.WriteU64(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	var mut byte
	if g.Mutable {
		mut = 1
	}
	w.Byte(byte(g.ValType))
	w.Byte(mut)
}

func writeTagType(w *binary.Writer, t TagType) {
	w.Byte(t.Attribute)
	w.WriteU32(t.TypeIdx)
}
