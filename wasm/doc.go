// Package wasm reads and writes WebAssembly binary modules, including the
// custom sections a linker leaves behind when asked to keep relocations.
//
// # Supported Features
//
//	WebAssembly 2.0 core, plus:
//	  - Exception handling (tags, try/catch, try_table)
//	  - Tail calls (return_call, return_call_indirect)
//	  - SIMD, threads and bulk memory instructions
//	  - Extended constant expressions
//	  - Multi-memory and memory64 limits
//
// Typed function references and GC types are rejected with ErrUnsupported.
//
// # Parsing and Encoding
//
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    return err
//	}
//	encoded := module.Encode()
//
// ParseModule keeps code bodies, constant expressions, data bytes and
// custom section payloads as slices of the input, and records where each
// body and data segment sits in its section (FuncBody.Offset,
// DataSegment.InitOffset). Relocation offsets are resolved against those
// positions.
//
// # Linking Metadata
//
// ParseLinking decodes the "linking" section (symbol table and segment
// info), ParseRelocSection decodes a "reloc.*" section, and ParseNames
// decodes the module, function and local subsections of "name". Each has
// a matching Encode.
//
// # Code Bodies
//
// FuncRefs walks a body and reports every call, return_call and ref.func
// target with its byte range; RemapFuncRefs rewrites those targets.
// CodeBuilder assembles small bodies such as stubs.
package wasm
