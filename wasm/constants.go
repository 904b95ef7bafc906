package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import/Export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// Value type encodings.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F

	// Typed references carry a heap type immediate and are not supported.
	valRefNull ValType = 0x63
	valRef     ValType = 0x64
)

// ElemKindFunc is the only elemkind defined for legacy element segments.
const ElemKindFunc byte = 0x00

// Control flow and call opcodes.
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
)

// Variable, table and memory access opcodes.
const (
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpLocalTee  byte = 0x22
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
	OpTableGet  byte = 0x25
	OpTableSet  byte = 0x26

	// Loads and stores occupy 0x28..0x3E and all take a memarg.
	OpI32Load    byte = 0x28
	OpI64Store32 byte = 0x3E

	OpMemorySize byte = 0x3F
	OpMemoryGrow byte = 0x40
)

// Constant opcodes.
const (
	OpI32Const byte = 0x41
	OpI64Const byte = 0x42
	OpF32Const byte = 0x43
	OpF64Const byte = 0x44
)

// Extended-const arithmetic allowed in constant expressions.
const (
	OpI32Add byte = 0x6A
	OpI32Sub byte = 0x6B
	OpI32Mul byte = 0x6C
	OpI64Add byte = 0x7C
	OpI64Sub byte = 0x7D
	OpI64Mul byte = 0x7E
)

// Reference opcodes.
const (
	OpRefNull      byte = 0xD0
	OpRefIsNull    byte = 0xD1
	OpRefFunc      byte = 0xD2
	OpRefAsNonNull byte = 0xD3
	OpRefEq        byte = 0xD4
	OpBrOnNull     byte = 0xD5
	OpBrOnNonNull  byte = 0xD6
)

// Multi-byte opcode prefixes, followed by a LEB128 sub-opcode.
const (
	OpPrefixGC     byte = 0xFB
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// Misc opcodes (0xFC prefix).
const (
	MiscI64TruncSatF64U uint32 = 0x07
	MiscMemoryInit      uint32 = 0x08
	MiscDataDrop        uint32 = 0x09
	MiscMemoryCopy      uint32 = 0x0A
	MiscMemoryFill      uint32 = 0x0B
	MiscTableInit       uint32 = 0x0C
	MiscElemDrop        uint32 = 0x0D
	MiscTableCopy       uint32 = 0x0E
	MiscTableGrow       uint32 = 0x0F
	MiscTableSize       uint32 = 0x10
	MiscTableFill       uint32 = 0x11
	MiscMemoryDiscard   uint32 = 0x12
)

// SIMD sub-opcode boundaries (0xFD prefix) that decide immediate layout.
const (
	SimdV128Load64Splat   uint32 = 0x0A
	SimdV128Store         uint32 = 0x0B
	SimdV128Const         uint32 = 0x0C
	SimdI8x16Shuffle      uint32 = 0x0D
	SimdI8x16ExtractLaneS uint32 = 0x15
	SimdF64x2ReplaceLane  uint32 = 0x22
	SimdV128Load8Lane     uint32 = 0x54
	SimdV128Store64Lane   uint32 = 0x5B
	SimdV128Load32Zero    uint32 = 0x5C
	SimdV128Load64Zero    uint32 = 0x5D
)

// AtomicFence is the only atomic op without a memarg (0xFE prefix).
const AtomicFence uint32 = 0x03

// Catch clause kinds for try_table.
const (
	CatchKindCatch    byte = 0x00
	CatchKindCatchRef byte = 0x01
)

// Limits flags.
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// FuncTypeByte introduces a function type in the type section.
const FuncTypeByte byte = 0x60

// memArgMultiMemBit marks a memarg that carries an explicit memory index.
const memArgMultiMemBit = 0x40
