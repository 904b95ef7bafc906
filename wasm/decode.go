package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrUnsupported    = errors.New("unsupported wasm feature")
)

// ParseModule parses a WebAssembly binary module. Slices in the returned
// module (code, data, custom sections) alias data.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{Layout: Layout{CodeSection: -1, DataSection: -1}}

	var lastSectionOrder int
	for index := 0; r.Len() > 0; index++ {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		m.Layout.NumSections = index + 1

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			m.Layout.CodeSection = index
			err = parseCodeSection(sr, m)
		case SectionData:
			m.Layout.DataSection = index
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		case SectionTag:
			err = parseTagSection(sr, m)
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}
		if err != nil {
			return nil, sr.WrapError(sectionName(sectionID), err)
		}
		if sr.Len() != 0 {
			return nil, sr.WrapError(sectionName(sectionID), fmt.Errorf("%d trailing bytes", sr.Len()))
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 100
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom section"
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionTable:
		return "table section"
	case SectionMemory:
		return "memory section"
	case SectionGlobal:
		return "global section"
	case SectionExport:
		return "export section"
	case SectionStart:
		return "start section"
	case SectionElement:
		return "element section"
	case SectionCode:
		return "code section"
	case SectionData:
		return "data section"
	case SectionDataCount:
		return "data count section"
	case SectionTag:
		return "tag section"
	}
	return fmt.Sprintf("section %d", id)
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupported)
		}
		if m.Types[i].Params, err = readValTypes(r); err != nil {
			return err
		}
		if m.Types[i].Results, err = readValTypes(r); err != nil {
			return err
		}
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var table TableType
			table, err = readTableType(r)
			imp.Desc.Table = &table
		case KindMemory:
			var memory MemoryType
			memory, err = readMemoryType(r)
			imp.Desc.Memory = &memory
		case KindGlobal:
			var global GlobalType
			global, err = readGlobalType(r)
			imp.Desc.Global = &global
		case KindTag:
			var tag TagType
			tag, err = readTagType(r)
			imp.Desc.Tag = &tag
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		if m.Memories[i], err = readMemoryType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := range m.Elements {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}
		elem := Element{Flags: flags, Type: ValFuncRef}

		if flags&0x02 != 0 && flags&0x01 == 0 {
			if elem.TableIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if elem.Active() {
			if elem.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		if flags&0x03 != 0 {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			if elem.UsesExprs() {
				if err := checkValType(b); err != nil {
					return err
				}
				elem.Type = ValType(b)
			} else {
				elem.ElemKind = b
			}
		}

		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		if elem.UsesExprs() {
			elem.Exprs = make([][]byte, n)
			for j := range elem.Exprs {
				if elem.Exprs[j], err = readInitExpr(r); err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, n)
			for j := range elem.FuncIdxs {
				if elem.FuncIdxs[j], err = r.ReadU32(); err != nil {
					return err
				}
			}
		}
		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := range m.Code {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		offset := r.Position()
		br, err := r.Sub(int(bodySize))
		if err != nil {
			return err
		}

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := br.ReadByte()
			if err != nil {
				return err
			}
			if err := checkValType(t); err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: ValType(t)})
		}

		m.Code[i] = FuncBody{
			Locals: locals,
			Code:   br.ReadRemaining(),
			Offset: uint32(offset),
			Size:   bodySize,
		}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := range m.Data {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}
		seg := DataSegment{Flags: flags}
		if flags == 2 {
			if seg.MemIdx, err = r.ReadU32(); err != nil {
				return err
			}
		}
		if flags != 1 {
			if seg.Offset, err = readInitExpr(r); err != nil {
				return err
			}
		}
		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.InitOffset = uint32(r.Position())
		if seg.Init, err = r.ReadBytes(int(initLen)); err != nil {
			return err
		}
		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func parseTagSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tags = make([]TagType, count)
	for i := range m.Tags {
		if m.Tags[i], err = readTagType(r); err != nil {
			return err
		}
	}
	return nil
}

func checkValType(b byte) error {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return nil
	case valRefNull, valRef:
		return fmt.Errorf("typed reference 0x%02x: %w", b, ErrUnsupported)
	}
	return fmt.Errorf("invalid value type 0x%02x", b)
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]ValType, count)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if err := checkValType(b); err != nil {
			return nil, err
		}
		out[i] = ValType(b)
	}
	return out, nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}
	if l.Min, err = r.ReadU64(); err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}
	if !l.Memory64 && (l.Min > 0xFFFFFFFF || (l.Max != nil && *l.Max > 0xFFFFFFFF)) {
		return Limits{}, fmt.Errorf("32-bit limits out of range")
	}
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if b == 0x40 {
		return TableType{}, fmt.Errorf("table with init expression: %w", ErrUnsupported)
	}
	if err := checkValType(b); err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(b), Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if err := checkValType(b); err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: ValType(b), Mutable: mut != 0}, nil
}

func readTagType(r *binary.Reader) (TagType, error) {
	attribute, err := r.ReadByte()
	if err != nil {
		return TagType{}, err
	}
	typeIdx, err := r.ReadU32()
	if err != nil {
		return TagType{}, err
	}
	return TagType{Attribute: attribute, TypeIdx: typeIdx}, nil
}

// readInitExpr returns the raw bytes of a constant expression up to and
// including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if op == OpEnd {
			break
		}
		if err := skipInitExprImmediate(r, op); err != nil {
			return nil, err
		}
	}
	end := r.Position()
	if err := r.Seek(start); err != nil {
		return nil, err
	}
	return r.ReadBytes(end - start)
}

func skipInitExprImmediate(r *binary.Reader, op byte) error {
	switch op {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		return r.SkipLEB()
	case OpF32Const:
		_, err := r.ReadBytes(4)
		return err
	case OpF64Const:
		_, err := r.ReadBytes(8)
		return err
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		return nil
	case OpPrefixSIMD:
		sub, err := r.ReadU32()
		if err != nil {
			return err
		}
		if sub != SimdV128Const {
			return fmt.Errorf("simd op 0x%x in constant expression", sub)
		}
		_, err = r.ReadBytes(16)
		return err
	}
	return fmt.Errorf("opcode 0x%02x in constant expression: %w", op, ErrUnsupported)
}
