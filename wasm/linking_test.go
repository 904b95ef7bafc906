package wasm

import (
	"testing"
)

func TestLinkingRoundTrip(t *testing.T) {
	in := &Linking{
		Segments: []SegmentInfo{{Name: ".rodata.msg", Alignment: 2}},
		Symbols: []Symbol{
			{Kind: SymbolFunction, Index: 0, Flags: SymUndefined},
			{Kind: SymbolFunction, Index: 1, Name: "helper"},
			{Kind: SymbolFunction, Index: 2, Flags: SymUndefined | SymExplicitName, Name: "imported_explicit"},
			{Kind: SymbolData, Name: "msg", Segment: 0, Offset: 4, Size: 12},
			{Kind: SymbolData, Name: "extern_data", Flags: SymUndefined},
			{Kind: SymbolGlobal, Index: 0, Name: "__stack_pointer"},
			{Kind: SymbolSection, Index: 9},
			{Kind: SymbolTable, Index: 0, Flags: SymUndefined},
		},
	}

	out, err := ParseLinking(in.Encode())
	if err != nil {
		t.Fatalf("ParseLinking: %v", err)
	}
	if out.Version != LinkingVersion {
		t.Errorf("version = %d", out.Version)
	}
	if len(out.Segments) != 1 || out.Segments[0].Name != ".rodata.msg" || out.Segments[0].Alignment != 2 {
		t.Errorf("segments = %+v", out.Segments)
	}
	if len(out.Symbols) != len(in.Symbols) {
		t.Fatalf("got %d symbols, want %d", len(out.Symbols), len(in.Symbols))
	}
	for i := range in.Symbols {
		if out.Symbols[i] != in.Symbols[i] {
			t.Errorf("symbol %d = %+v, want %+v", i, out.Symbols[i], in.Symbols[i])
		}
	}
	if out.Symbols[0].Defined() || !out.Symbols[1].Defined() {
		t.Error("Defined flags wrong")
	}
}

func TestParseLinkingErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"version 1", []byte{0x01}},
		{"unknown subsection", []byte{0x02, 0x63, 0x00}},
		{"unknown symbol kind", []byte{0x02, linkSymbolTable, 0x03, 0x01, 0x09, 0x00}},
		{"truncated subsection", []byte{0x02, linkSymbolTable, 0x05, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLinking(tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRelocSectionRoundTrip(t *testing.T) {
	in := &RelocSection{
		Section: 10,
		Entries: []Relocation{
			{Type: RelocFunctionIndexLEB, Offset: 4, Index: 1},
			{Type: RelocMemoryAddrSLEB, Offset: 12, Index: 3, Addend: -8},
			{Type: RelocTableIndexSLEB, Offset: 20, Index: 1},
			{Type: RelocMemoryAddrI64, Offset: 28, Index: 3, Addend: 1 << 33},
			{Type: RelocFunctionIndexI32, Offset: 40, Index: 2},
		},
	}
	out, err := ParseRelocSection(in.Encode())
	if err != nil {
		t.Fatalf("ParseRelocSection: %v", err)
	}
	if out.Section != 10 || len(out.Entries) != len(in.Entries) {
		t.Fatalf("got section %d with %d entries", out.Section, len(out.Entries))
	}
	for i := range in.Entries {
		if out.Entries[i] != in.Entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, out.Entries[i], in.Entries[i])
		}
	}
}

func TestRelocHasAddend(t *testing.T) {
	with := []RelocType{3, 4, 5, 8, 9, 11, 14, 15, 16, 17, 21, 22, 23, 25}
	set := make(map[RelocType]bool)
	for _, typ := range with {
		set[typ] = true
	}
	for typ := RelocType(0); typ < relocTypeCount; typ++ {
		if typ.HasAddend() != set[typ] {
			t.Errorf("type %d HasAddend = %v", typ, typ.HasAddend())
		}
	}
}

func TestParseRelocSectionUnknownType(t *testing.T) {
	if _, err := ParseRelocSection([]byte{0x0A, 0x01, 0x40, 0x00, 0x00}); err == nil {
		t.Fatal("expected error for unknown relocation type")
	}
}

func TestIsRelocSection(t *testing.T) {
	if !IsRelocSection("reloc.CODE") || IsRelocSection("linking") {
		t.Fatal("IsRelocSection misclassified")
	}
}
