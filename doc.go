// Package wasmsplit splits a WebAssembly application into a main module
// and lazily loaded side modules.
//
// Split points are marked in the source program by paired imports and
// exports following the __wasm_split naming scheme. The splitter reads
// the relocations of the linked binary to build a call graph, carries it
// over to the post-processed (bindgened) module by symbol name, and emits
// one main module, one module per split point and a set of shared chunks,
// plus the JavaScript glue that loads them on demand.
//
// # Architecture Overview
//
//	wasmsplit/
//	├── split/           Analysis, planning and module emission
//	│   └── internal/
//	│       ├── reloc/   Relocation and data symbol reader
//	│       ├── graph/   Call graph, reachability and symbol translation
//	│       ├── chunk/   Shared-code chunk partitioner
//	│       ├── arena/   Mutable module with index compaction
//	│       └── fixture/ Programmatic test programs
//	├── glue/            JavaScript loader generation and artifact output
//	├── wasm/            Core WASM binary parsing, encoding and custom sections
//	├── errors/          Structured error types
//	└── cmd/wasm-split/  Command line tool and interactive plan inspector
//
// # Quick Start
//
//	out, err := split.Split(ctx, original, bindgened, split.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	paths, err := glue.WriteFiles("dist", out, glue.DefaultOptions())
//
// # Inputs
//
// The original module must be linked with --emit-relocs and keep its
// linking section. The bindgened module is the same program after
// post-processing; it must retain function names in a name section or
// its own linking section.
package wasmsplit
