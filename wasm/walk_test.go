package wasm

import (
	"bytes"
	"errors"
	"testing"
)

func TestFuncRefs(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want []uint32
	}{
		{
			name: "call and ref.func",
			code: NewCodeBuilder().Call(3).RefFunc(200).Drop().End().Bytes(),
			want: []uint32{3, 200},
		},
		{
			name: "return_call",
			code: []byte{OpReturnCall, 0x05, OpEnd},
			want: []uint32{5},
		},
		{
			name: "block and br_table",
			code: []byte{
				OpBlock, 0x40,
				OpI32Const, 0x00,
				OpBrTable, 0x02, 0x00, 0x00, 0x00,
				OpEnd,
				OpCall, 0x01,
				OpEnd,
			},
			want: []uint32{1},
		},
		{
			name: "call_indirect is not a direct ref",
			code: NewCodeBuilder().I32Const(0).CallIndirect(1, 0).End().Bytes(),
		},
		{
			name: "memarg with memory index",
			code: []byte{OpI32Const, 0, OpI32Load, 0x42, 0x01, 0x08, OpDrop, OpCall, 0x07, OpEnd},
			want: []uint32{7},
		},
		{
			name: "misc and simd immediates",
			code: append(append([]byte{
				OpPrefixMisc, 0x08, 0x00, 0x00, // memory.init 0 0
				OpPrefixSIMD, 0x0C, // v128.const
			}, make([]byte, 16)...), OpDrop, OpRefFunc, 0x02, OpDrop, OpEnd),
			want: []uint32{2},
		},
		{
			name: "try_table catches",
			code: []byte{
				OpTryTable, 0x40, 0x02,
				CatchKindCatch, 0x00, 0x00,
				0x02, 0x00, // catch_all 0
				OpCall, 0x04,
				OpEnd,
				OpEnd,
			},
			want: []uint32{4},
		},
		{
			name: "atomic fence",
			code: []byte{OpPrefixAtomic, 0x03, 0x00, OpCall, 0x09, OpEnd},
			want: []uint32{9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := FuncRefs(tt.code)
			if err != nil {
				t.Fatalf("FuncRefs: %v", err)
			}
			if len(refs) != len(tt.want) {
				t.Fatalf("got %d refs, want %d", len(refs), len(tt.want))
			}
			for i, ref := range refs {
				if ref.Index != tt.want[i] {
					t.Errorf("ref %d = %d, want %d", i, ref.Index, tt.want[i])
				}
			}
		})
	}
}

func TestFuncRefsGCUnsupported(t *testing.T) {
	_, err := FuncRefs([]byte{OpPrefixGC, 0x00, 0x00, OpEnd})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
}

func TestFuncRefsUnknownOpcode(t *testing.T) {
	if _, err := FuncRefs([]byte{0x27, OpEnd}); err == nil {
		t.Fatal("expected error for reserved opcode")
	}
}

func TestRemapFuncRefs(t *testing.T) {
	b := NewCodeBuilder()
	b.CallPadded(1)
	b.RefFunc(2).Drop().End()
	code := b.Bytes()

	out, err := RemapFuncRefs(code, func(idx uint32) uint32 { return idx + 200 })
	if err != nil {
		t.Fatalf("RemapFuncRefs: %v", err)
	}
	want := NewCodeBuilder().Call(201).RefFunc(202).Drop().End().Bytes()
	if !bytes.Equal(out, want) {
		t.Fatalf("got %x, want %x", out, want)
	}

	plain := NewCodeBuilder().I32Const(5).Drop().End().Bytes()
	same, err := RemapFuncRefs(plain, func(uint32) uint32 { return 0 })
	if err != nil || !bytes.Equal(same, plain) {
		t.Fatalf("code without refs changed: %x, %v", same, err)
	}
}
