package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// FuncRef is a function index immediate found in a code body. Start and
// End delimit the encoded LEB128 within the body.
type FuncRef struct {
	Op    byte
	Index uint32
	Start int
	End   int
}

// FuncRefs returns every call, return_call and ref.func target in code.
func FuncRefs(code []byte) ([]FuncRef, error) {
	var refs []FuncRef
	err := walkCode(code, func(ref FuncRef) {
		refs = append(refs, ref)
	})
	return refs, err
}

// RemapFuncRefs returns a copy of code with every function index immediate
// replaced by remap(index). Other bytes are copied unchanged.
func RemapFuncRefs(code []byte, remap func(uint32) uint32) ([]byte, error) {
	refs, err := FuncRefs(code)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return code, nil
	}
	w := binary.NewWriter()
	last := 0
	for _, ref := range refs {
		w.WriteBytes(code[last:ref.Start])
		w.WriteU32(remap(ref.Index))
		last = ref.End
	}
	w.WriteBytes(code[last:])
	return w.Bytes(), nil
}

// walkCode decodes instruction boundaries well enough to find function
// index immediates. It does not validate operand types.
func walkCode(code []byte, visit func(FuncRef)) error {
	r := binary.NewReader(code)
	for r.Len() > 0 {
		at := r.Position()
		op, _ := r.ReadByte()
		if err := skipImmediates(r, op, visit); err != nil {
			return fmt.Errorf("opcode 0x%02x at %d: %w", op, at, err)
		}
	}
	return nil
}

func skipImmediates(r *binary.Reader, op byte, visit func(FuncRef)) error {
	switch {
	case op == OpCall || op == OpReturnCall || op == OpRefFunc:
		start := r.Position()
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		visit(FuncRef{Op: op, Index: idx, Start: start, End: r.Position()})
		return nil

	case op == OpBlock || op == OpLoop || op == OpIf || op == OpTry,
		op == OpCatch || op == OpThrow || op == OpRethrow || op == OpDelegate,
		op == OpBr || op == OpBrIf || op == OpBrOnNull || op == OpBrOnNonNull,
		op == OpCallRef || op == OpReturnCallRef,
		op >= OpLocalGet && op <= OpTableSet,
		op == OpMemorySize || op == OpMemoryGrow,
		op == OpI32Const || op == OpI64Const || op == OpRefNull:
		return r.SkipLEB()

	case op == OpCallIndirect || op == OpReturnCallIndirect:
		if err := r.SkipLEB(); err != nil {
			return err
		}
		return r.SkipLEB()

	case op == OpBrTable:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		return skipLEBs(r, int(n)+1)

	case op == OpTryTable:
		if err := r.SkipLEB(); err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			if kind == CatchKindCatch || kind == CatchKindCatchRef {
				if err := r.SkipLEB(); err != nil {
					return err
				}
			}
			if err := r.SkipLEB(); err != nil {
				return err
			}
		}
		return nil

	case op == OpSelectType:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		_, err = r.ReadBytes(int(n))
		return err

	case op >= OpI32Load && op <= OpI64Store32:
		return skipMemArg(r)

	case op == OpF32Const:
		_, err := r.ReadBytes(4)
		return err

	case op == OpF64Const:
		_, err := r.ReadBytes(8)
		return err

	case op == OpPrefixMisc:
		return skipMisc(r)

	case op == OpPrefixSIMD:
		return skipSIMD(r)

	case op == OpPrefixAtomic:
		sub, err := r.ReadU32()
		if err != nil {
			return err
		}
		if sub == AtomicFence {
			_, err := r.ReadByte()
			return err
		}
		return skipMemArg(r)

	case op == OpPrefixGC:
		return ErrUnsupported

	case op <= OpNop, op == OpElse, op == OpThrowRef, op == OpEnd, op == OpReturn,
		op == OpCatchAll, op == OpDrop, op == OpSelect,
		op >= 0x45 && op <= 0xC4,
		op == OpRefIsNull, op == OpRefAsNonNull, op == OpRefEq:
		return nil
	}
	return fmt.Errorf("unknown opcode")
}

func skipLEBs(r *binary.Reader, n int) error {
	for i := 0; i < n; i++ {
		if err := r.SkipLEB(); err != nil {
			return err
		}
	}
	return nil
}

func skipMemArg(r *binary.Reader) error {
	align, err := r.ReadU32()
	if err != nil {
		return err
	}
	if align&memArgMultiMemBit != 0 {
		if err := r.SkipLEB(); err != nil {
			return err
		}
	}
	return r.SkipLEB()
}

func skipMisc(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= MiscI64TruncSatF64U:
		return nil
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == MiscTableInit, sub == MiscTableCopy:
		return skipLEBs(r, 2)
	case sub == MiscDataDrop, sub == MiscMemoryFill, sub == MiscElemDrop,
		sub == MiscTableGrow, sub == MiscTableSize, sub == MiscTableFill, sub == MiscMemoryDiscard:
		return r.SkipLEB()
	}
	return fmt.Errorf("unknown misc op 0x%x", sub)
}

func skipSIMD(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= SimdV128Load64Splat || sub == SimdV128Store:
		return skipMemArg(r)
	case sub == SimdV128Const || sub == SimdI8x16Shuffle:
		_, err := r.ReadBytes(16)
		return err
	case sub >= SimdI8x16ExtractLaneS && sub <= SimdF64x2ReplaceLane:
		_, err := r.ReadByte()
		return err
	case sub >= SimdV128Load8Lane && sub <= SimdV128Store64Lane:
		if err := skipMemArg(r); err != nil {
			return err
		}
		_, err := r.ReadByte()
		return err
	case sub == SimdV128Load32Zero || sub == SimdV128Load64Zero:
		return skipMemArg(r)
	}
	return nil
}
