package wasm

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// Custom section names used by relocatable objects and linked output kept
// with --emit-relocs.
const (
	LinkingSectionName = "linking"
	RelocSectionPrefix = "reloc."
	DebugSectionPrefix = ".debug_"
)

// LinkingVersion is the only metadata version understood by ParseLinking.
const LinkingVersion = 2

// Linking subsection IDs.
const (
	linkSegmentInfo byte = 5
	linkInitFuncs   byte = 6
	linkComdatInfo  byte = 7
	linkSymbolTable byte = 8
)

// SymbolKind identifies what a linking symbol refers to.
type SymbolKind byte

const (
	SymbolFunction SymbolKind = 0
	SymbolData     SymbolKind = 1
	SymbolGlobal   SymbolKind = 2
	SymbolSection  SymbolKind = 3
	SymbolTag      SymbolKind = 4
	SymbolTable    SymbolKind = 5
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolFunction:
		return "function"
	case SymbolData:
		return "data"
	case SymbolGlobal:
		return "global"
	case SymbolSection:
		return "section"
	case SymbolTag:
		return "tag"
	case SymbolTable:
		return "table"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Symbol flags.
const (
	SymWeak         uint32 = 0x01
	SymLocal        uint32 = 0x02
	SymHidden       uint32 = 0x04
	SymUndefined    uint32 = 0x10
	SymExported     uint32 = 0x20
	SymExplicitName uint32 = 0x40
	SymNoStrip      uint32 = 0x80
	SymTLS          uint32 = 0x100
	SymAbsolute     uint32 = 0x200
)

// Symbol is one entry of the linking symbol table. Index is used by
// function, global, tag, table and section symbols. Segment, Offset and
// Size locate a defined data symbol.
type Symbol struct {
	Name    string
	Offset  uint64
	Size    uint64
	Flags   uint32
	Index   uint32
	Segment uint32
	Kind    SymbolKind
}

// Defined reports whether the symbol has a definition in this module.
func (s *Symbol) Defined() bool { return s.Flags&SymUndefined == 0 }

// hasName reports whether an index-based symbol carries an explicit name.
func (s *Symbol) hasName() bool {
	return s.Flags&SymUndefined == 0 || s.Flags&SymExplicitName != 0
}

// SegmentInfo describes one data segment in the linking metadata.
type SegmentInfo struct {
	Name      string
	Alignment uint32
	Flags     uint32
}

// Linking is the decoded "linking" custom section.
type Linking struct {
	Symbols  []Symbol
	Segments []SegmentInfo
	Version  uint32
}

// ParseLinking decodes a linking section payload. Init function and comdat
// subsections are skipped.
func ParseLinking(data []byte) (*Linking, error) {
	r := binary.NewReader(data)
	version, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("linking", err)
	}
	if version != LinkingVersion {
		return nil, fmt.Errorf("linking version %d: %w", version, ErrUnsupported)
	}
	l := &Linking{Version: version}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("linking", err)
		}
		sub, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("linking", err)
		}
		switch id {
		case linkSymbolTable:
			if l.Symbols, err = readSymbolTable(sub); err != nil {
				return nil, sub.WrapError("symbol table", err)
			}
		case linkSegmentInfo:
			if l.Segments, err = readSegmentInfo(sub); err != nil {
				return nil, sub.WrapError("segment info", err)
			}
		case linkInitFuncs, linkComdatInfo:
		default:
			return nil, fmt.Errorf("unknown linking subsection %d", id)
		}
	}
	return l, nil
}

func readSymbolTable(r *binary.Reader) ([]Symbol, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	syms := make([]Symbol, count)
	for i := range syms {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		s := Symbol{Kind: SymbolKind(kind), Flags: flags}
		switch s.Kind {
		case SymbolFunction, SymbolGlobal, SymbolTag, SymbolTable:
			if s.Index, err = r.ReadU32(); err != nil {
				return nil, err
			}
			if s.hasName() {
				if s.Name, err = r.ReadName(); err != nil {
					return nil, err
				}
			}
		case SymbolData:
			if s.Name, err = r.ReadName(); err != nil {
				return nil, err
			}
			if s.Defined() {
				if s.Segment, err = r.ReadU32(); err != nil {
					return nil, err
				}
				if s.Offset, err = r.ReadU64(); err != nil {
					return nil, err
				}
				if s.Size, err = r.ReadU64(); err != nil {
					return nil, err
				}
			}
		case SymbolSection:
			if s.Index, err = r.ReadU32(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("symbol %d: unknown kind %d", i, kind)
		}
		syms[i] = s
	}
	return syms, nil
}

func readSegmentInfo(r *binary.Reader) ([]SegmentInfo, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	segs := make([]SegmentInfo, count)
	for i := range segs {
		if segs[i].Name, err = r.ReadName(); err != nil {
			return nil, err
		}
		if segs[i].Alignment, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if segs[i].Flags, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

// Encode returns the linking section payload.
func (l *Linking) Encode() []byte {
	w := binary.NewWriter()
	version := l.Version
	if version == 0 {
		version = LinkingVersion
	}
	w.WriteU32(version)

	if len(l.Segments) > 0 {
		sub := binary.NewWriter()
		sub.WriteU32(uint32(len(l.Segments)))
		for _, seg := range l.Segments {
			sub.WriteName(seg.Name)
			sub.WriteU32(seg.Alignment)
			sub.WriteU32(seg.Flags)
		}
		writeSubsection(w, linkSegmentInfo, sub)
	}

	if len(l.Symbols) > 0 {
		sub := binary.NewWriter()
		sub.WriteU32(uint32(len(l.Symbols)))
		for i := range l.Symbols {
			s := &l.Symbols[i]
			sub.Byte(byte(s.Kind))
			sub.WriteU32(s.Flags)
			switch s.Kind {
			case SymbolData:
				sub.WriteName(s.Name)
				if s.Defined() {
					sub.WriteU32(s.Segment)
					sub.WriteU64(s.Offset)
					sub.WriteU64(s.Size)
				}
			case SymbolSection:
				sub.WriteU32(s.Index)
			default:
				sub.WriteU32(s.Index)
				if s.hasName() {
					sub.WriteName(s.Name)
				}
			}
		}
		writeSubsection(w, linkSymbolTable, sub)
	}
	return w.Bytes()
}

// RelocType is a relocation entry type.
type RelocType byte

const (
	RelocFunctionIndexLEB    RelocType = 0
	RelocTableIndexSLEB      RelocType = 1
	RelocTableIndexI32       RelocType = 2
	RelocMemoryAddrLEB       RelocType = 3
	RelocMemoryAddrSLEB      RelocType = 4
	RelocMemoryAddrI32       RelocType = 5
	RelocTypeIndexLEB        RelocType = 6
	RelocGlobalIndexLEB      RelocType = 7
	RelocFunctionOffsetI32   RelocType = 8
	RelocSectionOffsetI32    RelocType = 9
	RelocTagIndexLEB         RelocType = 10
	RelocMemoryAddrRelSLEB   RelocType = 11
	RelocTableIndexRelSLEB   RelocType = 12
	RelocGlobalIndexI32      RelocType = 13
	RelocMemoryAddrLEB64     RelocType = 14
	RelocMemoryAddrSLEB64    RelocType = 15
	RelocMemoryAddrI64       RelocType = 16
	RelocMemoryAddrRelSLEB64 RelocType = 17
	RelocTableIndexSLEB64    RelocType = 18
	RelocTableIndexI64       RelocType = 19
	RelocTableNumberLEB      RelocType = 20
	RelocMemoryAddrTLSSLEB   RelocType = 21
	RelocFunctionOffsetI64   RelocType = 22
	RelocMemoryAddrLocRelI32 RelocType = 23
	RelocTableIndexRelSLEB64 RelocType = 24
	RelocMemoryAddrTLSSLEB64 RelocType = 25
	RelocFunctionIndexI32    RelocType = 26
	relocTypeCount           RelocType = 27
)

// HasAddend reports whether entries of this type carry a signed addend.
func (t RelocType) HasAddend() bool {
	switch t {
	case RelocMemoryAddrLEB, RelocMemoryAddrSLEB, RelocMemoryAddrI32,
		RelocFunctionOffsetI32, RelocSectionOffsetI32, RelocMemoryAddrRelSLEB,
		RelocMemoryAddrLEB64, RelocMemoryAddrSLEB64, RelocMemoryAddrI64,
		RelocMemoryAddrRelSLEB64, RelocMemoryAddrTLSSLEB, RelocFunctionOffsetI64,
		RelocMemoryAddrLocRelI32, RelocMemoryAddrTLSSLEB64:
		return true
	}
	return false
}

// Relocation is one entry of a reloc.* section. Offset is relative to the
// target section payload; Index is a symbol index for every type except
// RelocTypeIndexLEB, where it is a type index.
type Relocation struct {
	Addend int64
	Offset uint32
	Index  uint32
	Type   RelocType
}

// RelocSection is a decoded reloc.* custom section.
type RelocSection struct {
	Entries []Relocation
	Section uint32
}

// IsRelocSection reports whether a custom section name is a relocation
// section.
func IsRelocSection(name string) bool { return strings.HasPrefix(name, RelocSectionPrefix) }

// ParseRelocSection decodes a relocation section payload.
func ParseRelocSection(data []byte) (*RelocSection, error) {
	r := binary.NewReader(data)
	section, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("reloc", err)
	}
	count, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("reloc", err)
	}
	rs := &RelocSection{Section: section, Entries: make([]Relocation, count)}
	for i := range rs.Entries {
		typ, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("reloc", err)
		}
		if RelocType(typ) >= relocTypeCount {
			return nil, fmt.Errorf("relocation %d: unknown type %d", i, typ)
		}
		e := Relocation{Type: RelocType(typ)}
		if e.Offset, err = r.ReadU32(); err != nil {
			return nil, r.WrapError("reloc", err)
		}
		if e.Index, err = r.ReadU32(); err != nil {
			return nil, r.WrapError("reloc", err)
		}
		if e.Type.HasAddend() {
			if e.Addend, err = r.ReadS64(); err != nil {
				return nil, r.WrapError("reloc", err)
			}
		}
		rs.Entries[i] = e
	}
	return rs, nil
}

// Encode returns the relocation section payload.
func (rs *RelocSection) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32(rs.Section)
	w.WriteU32(uint32(len(rs.Entries)))
	for _, e := range rs.Entries {
		w.Byte(byte(e.Type))
		w.WriteU32(e.Offset)
		w.WriteU32(e.Index)
		if e.Type.HasAddend() {
			w.WriteS64(e.Addend)
		}
	}
	return w.Bytes()
}
