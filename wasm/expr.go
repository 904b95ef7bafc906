package wasm

import (
	"github.com/wippyai/wasm-split/wasm/internal/binary"
)

// I32ConstExpr encodes `i32.const v; end`.
func I32ConstExpr(v int32) []byte {
	w := binary.NewWriter()
	w.Byte(OpI32Const)
	w.WriteS64(int64(v))
	w.Byte(OpEnd)
	return w.Bytes()
}

// OffsetExpr encodes a constant segment offset for a 32 or 64 bit
// address space.
func OffsetExpr(v uint64, is64 bool) []byte {
	w := binary.NewWriter()
	if is64 {
		w.Byte(OpI64Const)
		w.WriteS64(int64(v))
	} else {
		w.Byte(OpI32Const)
		w.WriteS64(int64(int32(uint32(v))))
	}
	w.Byte(OpEnd)
	return w.Bytes()
}

// RefFuncExpr encodes `ref.func idx; end`.
func RefFuncExpr(idx uint32) []byte {
	w := binary.NewWriter()
	w.Byte(OpRefFunc)
	w.WriteU32(idx)
	w.Byte(OpEnd)
	return w.Bytes()
}

// ConstOffset evaluates a segment offset consisting of a single i32.const
// or i64.const. Offsets computed from globals or arithmetic report false.
func ConstOffset(expr []byte) (uint64, bool) {
	r := binary.NewReader(expr)
	op, err := r.ReadByte()
	if err != nil {
		return 0, false
	}
	var v uint64
	switch op {
	case OpI32Const:
		s, err := r.ReadS64()
		if err != nil {
			return 0, false
		}
		v = uint64(uint32(int32(s)))
	case OpI64Const:
		s, err := r.ReadS64()
		if err != nil {
			return 0, false
		}
		v = uint64(s)
	default:
		return 0, false
	}
	if end, err := r.ReadByte(); err != nil || end != OpEnd || r.Len() != 0 {
		return 0, false
	}
	return v, true
}

// RefFuncTarget returns the function index of a `ref.func idx; end`
// expression.
func RefFuncTarget(expr []byte) (uint32, bool) {
	r := binary.NewReader(expr)
	op, err := r.ReadByte()
	if err != nil || op != OpRefFunc {
		return 0, false
	}
	idx, err := r.ReadU32()
	if err != nil {
		return 0, false
	}
	if end, err := r.ReadByte(); err != nil || end != OpEnd {
		return 0, false
	}
	return idx, true
}

// RemapRefFunc rewrites the function index of a ref.func expression. Other
// expressions are returned unchanged.
func RemapRefFunc(expr []byte, remap func(uint32) uint32) []byte {
	idx, ok := RefFuncTarget(expr)
	if !ok {
		return expr
	}
	return RefFuncExpr(remap(idx))
}

// CodeBuilder assembles a function body instruction by instruction.
type CodeBuilder struct {
	w *binary.Writer
}

// NewCodeBuilder returns an empty builder.
func NewCodeBuilder() *CodeBuilder {
	return &CodeBuilder{w: binary.NewWriter()}
}

// Len returns the number of bytes emitted so far.
func (b *CodeBuilder) Len() int { return b.w.Len() }

// Bytes returns the assembled code.
func (b *CodeBuilder) Bytes() []byte { return b.w.Bytes() }

// Op emits an opcode without immediates.
func (b *CodeBuilder) Op(op byte) *CodeBuilder {
	b.w.Byte(op)
	return b
}

// Unreachable emits `unreachable`.
func (b *CodeBuilder) Unreachable() *CodeBuilder { return b.Op(OpUnreachable) }

// End emits `end`.
func (b *CodeBuilder) End() *CodeBuilder { return b.Op(OpEnd) }

// Drop emits `drop`.
func (b *CodeBuilder) Drop() *CodeBuilder { return b.Op(OpDrop) }

// LocalGet emits `local.get idx`.
func (b *CodeBuilder) LocalGet(idx uint32) *CodeBuilder {
	b.w.Byte(OpLocalGet)
	b.w.WriteU32(idx)
	return b
}

// I32Const emits `i32.const v`.
func (b *CodeBuilder) I32Const(v int32) *CodeBuilder {
	b.w.Byte(OpI32Const)
	b.w.WriteS64(int64(v))
	return b
}

// I32ConstPadded emits `i32.const v` with a five byte immediate and returns
// the offset of the immediate.
func (b *CodeBuilder) I32ConstPadded(v int32) int {
	b.w.Byte(OpI32Const)
	at := b.w.Len()
	b.w.WriteS32Padded(v)
	return at
}

// Call emits `call idx`.
func (b *CodeBuilder) Call(idx uint32) *CodeBuilder {
	b.w.Byte(OpCall)
	b.w.WriteU32(idx)
	return b
}

// CallPadded emits `call idx` with a five byte immediate and returns the
// offset of the immediate.
func (b *CodeBuilder) CallPadded(idx uint32) int {
	b.w.Byte(OpCall)
	at := b.w.Len()
	b.w.WriteU32Padded(idx)
	return at
}

// CallIndirect emits `call_indirect typeIdx tableIdx`.
func (b *CodeBuilder) CallIndirect(typeIdx, tableIdx uint32) *CodeBuilder {
	b.w.Byte(OpCallIndirect)
	b.w.WriteU32(typeIdx)
	b.w.WriteU32(tableIdx)
	return b
}

// RefFunc emits `ref.func idx`.
func (b *CodeBuilder) RefFunc(idx uint32) *CodeBuilder {
	b.w.Byte(OpRefFunc)
	b.w.WriteU32(idx)
	return b
}

// Load emits a memory access opcode with alignment and offset on memory 0.
func (b *CodeBuilder) Load(op byte, align, offset uint32) *CodeBuilder {
	b.w.Byte(op)
	b.w.WriteU32(align)
	b.w.WriteU32(offset)
	return b
}
