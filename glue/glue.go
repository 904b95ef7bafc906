// Package glue generates the JavaScript loader bindings for a split
// output and writes the artifacts to disk.
//
// The generated module exports one loader per chunk and one per split
// point. Loaders come from a makeLoad function supplied by the dynamic
// loading runtime; each split loader lists the chunk loaders that must
// finish before the split module is linked.
package glue

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split"
)

// File names of the emitted artifacts.
const (
	MainFile = "main.wasm"
	GlueFile = "__wasm_split.js"
)

// ModuleFile is the file name of split module i.
func ModuleFile(i int, sm *split.SplitModule) string {
	return fmt.Sprintf("module_%d_%s.wasm", i, sm.ComponentName)
}

// ChunkFile is the file name of chunk i.
func ChunkFile(i int, sm *split.SplitModule) string {
	return fmt.Sprintf("chunk_%d_%s.wasm", i, sm.ModuleName)
}

// ChunkLoader is the identifier of chunk i's loader.
func ChunkLoader(i int) string {
	return fmt.Sprintf("__wasm_split_load_chunk_%d", i)
}

// Options configures the generated JavaScript.
type Options struct {
	// RuntimeImport is the module specifier makeLoad is imported from.
	RuntimeImport string

	// BindingsImport is the module specifier the interop imports object
	// is imported from.
	BindingsImport string

	// MakeLoad names the loader factory.
	MakeLoad string

	// Imports names the interop imports object passed to every loader.
	Imports string

	// AssetPrefix is prepended to every artifact file name.
	AssetPrefix string

	// Preamble, when set, replaces the runtime import line. Use it to
	// inline the runtime's source.
	Preamble string
}

// DefaultOptions returns the names the loading runtime expects.
func DefaultOptions() Options {
	return Options{
		RuntimeImport:  "./__wasm_split_runtime.js",
		BindingsImport: "./bindings.js",
		MakeLoad:       "makeLoad",
		Imports:        "fusedImports",
		AssetPrefix:    split.DefaultAssetPrefix,
	}
}

// OptionsFor returns the default options with the asset prefix taken
// from cfg.
func OptionsFor(cfg split.Config) Options {
	opts := DefaultOptions()
	opts.AssetPrefix = cfg.AssetPrefix
	return opts
}

func (o Options) check() error {
	if !isIdentifier(o.MakeLoad) {
		return errors.InvalidInput(errors.PhaseGlue, fmt.Sprintf("MakeLoad %q is not a JavaScript identifier", o.MakeLoad))
	}
	if !isIdentifier(o.Imports) {
		return errors.InvalidInput(errors.PhaseGlue, fmt.Sprintf("Imports %q is not a JavaScript identifier", o.Imports))
	}
	if o.Preamble == "" && o.RuntimeImport == "" {
		return errors.InvalidInput(errors.PhaseGlue, "either RuntimeImport or Preamble is required")
	}
	if o.BindingsImport == "" {
		return errors.InvalidInput(errors.PhaseGlue, "BindingsImport is required")
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Generate returns the loader module for out. Chunks come first, by
// index, then splits by ordinal with their chunk dependencies ascending.
func Generate(out *split.Output, opts Options) (string, error) {
	var b strings.Builder
	if err := Write(&b, out, opts); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Write writes the loader module for out to w.
func Write(w io.Writer, out *split.Output, opts Options) error {
	if err := opts.check(); err != nil {
		return err
	}

	var b strings.Builder
	if opts.Preamble != "" {
		b.WriteString(opts.Preamble)
		if !strings.HasSuffix(opts.Preamble, "\n") {
			b.WriteByte('\n')
		}
	} else {
		fmt.Fprintf(&b, "import { %s } from %q;\n", opts.MakeLoad, opts.RuntimeImport)
	}
	fmt.Fprintf(&b, "import { %s } from %q;\n", opts.Imports, opts.BindingsImport)

	for i, sm := range out.Chunks {
		fmt.Fprintf(&b, "export const %s = %s(%q, [], %s);\n",
			ChunkLoader(i), opts.MakeLoad, opts.AssetPrefix+ChunkFile(i, sm), opts.Imports)
	}
	for i, sm := range out.Modules {
		deps := make([]string, len(sm.ReliesOnChunks))
		for j, c := range sm.ReliesOnChunks {
			deps[j] = ChunkLoader(c)
		}
		fmt.Fprintf(&b, "export const %s = %s(%q, [%s], %s);\n",
			out.Plan.Splits[i].LoaderName(), opts.MakeLoad, opts.AssetPrefix+ModuleFile(i, sm),
			strings.Join(deps, ", "), opts.Imports)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return errors.Wrap(errors.PhaseGlue, errors.KindInvalidData, err, "write glue")
	}
	return nil
}

type artifact struct {
	name string
	data []byte
}

// WriteFiles writes main, every split module, every chunk and the loader
// module into dir and returns the paths written.
func WriteFiles(dir string, out *split.Output, opts Options) ([]string, error) {
	glue, err := Generate(out, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseGlue, errors.KindInvalidInput, err, "create output directory")
	}

	files := []artifact{{MainFile, out.Main.Bytes}}
	for i, sm := range out.Modules {
		files = append(files, artifact{ModuleFile(i, sm), sm.Bytes})
	}
	for i, sm := range out.Chunks {
		files = append(files, artifact{ChunkFile(i, sm), sm.Bytes})
	}
	files = append(files, artifact{GlueFile, []byte(glue)})

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return nil, errors.Wrap(errors.PhaseGlue, errors.KindInvalidInput, err, "write "+f.name)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
