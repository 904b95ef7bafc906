// Package split divides a linked WebAssembly module into a main module,
// lazily loaded split modules and shared chunks.
//
// Two builds of the same program are required. The original module is
// linked with --emit-relocs, so its relocations describe every reference
// between functions and data symbols. The bindgened module is the same
// program after the interop transform and is what gets split; the call
// graph is carried into it by symbol name.
//
// Split points are pairs of functions following a naming contract:
//
//	__wasm_split_00<module>00_import_<hash>_<component>  (import, called by main)
//	__wasm_split_00<module>00_export_<hash>_<component>  (export, the real body)
//
// Main calls each split import through a stub that performs call_indirect
// on a table slot reserved for that split point. Loading the split module
// fills the slot. Every module imports its tables, memories and globals
// from the "__wasm_split" namespace, which the loader provides from the
// main instance's exports.
//
// Basic usage:
//
//	out, err := split.Split(ctx, original, bindgened, split.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	os.WriteFile("main.wasm", out.Main.Bytes, 0o644)
package split
