package glue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split"
)

func output() *split.Output {
	return &split.Output{
		Main: &split.SplitModule{ModuleName: "main", Bytes: []byte("main")},
		Modules: []*split.SplitModule{
			{ModuleName: "app", Hash: "0a", ComponentName: "X", Bytes: []byte("x"), ReliesOnChunks: []int{0, 1}},
			{ModuleName: "app", Hash: "0b", ComponentName: "Y", Bytes: []byte("y"), ReliesOnChunks: []int{1}},
			{ModuleName: "app", Hash: "b0", ComponentName: "PageB", Bytes: []byte("b")},
		},
		Chunks: []*split.SplitModule{
			{ModuleName: "split", Bytes: []byte("c0")},
			{ModuleName: "split", Bytes: []byte("c1")},
		},
		Plan: &split.Plan{Splits: []*split.SplitPoint{
			{ModuleName: "app", Hash: "0a", ComponentName: "X"},
			{ModuleName: "app", Hash: "0b", ComponentName: "Y"},
			{ModuleName: "app", Hash: "b0", ComponentName: "PageB"},
		}},
	}
}

func TestGenerate(t *testing.T) {
	got, err := Generate(output(), DefaultOptions())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := strings.Join([]string{
		`import { makeLoad } from "./__wasm_split_runtime.js";`,
		`import { fusedImports } from "./bindings.js";`,
		`export const __wasm_split_load_chunk_0 = makeLoad("/assets/chunk_0_split.wasm", [], fusedImports);`,
		`export const __wasm_split_load_chunk_1 = makeLoad("/assets/chunk_1_split.wasm", [], fusedImports);`,
		`export const __wasm_split_load_app_0a_X = makeLoad("/assets/module_0_X.wasm", [__wasm_split_load_chunk_0, __wasm_split_load_chunk_1], fusedImports);`,
		`export const __wasm_split_load_app_0b_Y = makeLoad("/assets/module_1_Y.wasm", [__wasm_split_load_chunk_1], fusedImports);`,
		`export const __wasm_split_load_app_b0_PageB = makeLoad("/assets/module_2_PageB.wasm", [], fusedImports);`,
		``,
	}, "\n")
	if got != want {
		t.Errorf("glue mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerateOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.AssetPrefix = ""
	opts.MakeLoad = "load"
	opts.Imports = "imports"
	opts.Preamble = "export function load(url, deps, imports) {}"
	got, err := Generate(output(), opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lines := strings.Split(got, "\n")
	if lines[0] != opts.Preamble {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != `import { imports } from "./bindings.js";` {
		t.Errorf("second line = %q", lines[1])
	}
	if !strings.Contains(got, `= load("chunk_0_split.wasm", [], imports);`) {
		t.Errorf("custom names not used:\n%s", got)
	}
}

func TestOptionsFor(t *testing.T) {
	if got := OptionsFor(split.DefaultConfig()); got != DefaultOptions() {
		t.Errorf("OptionsFor(default) = %+v", got)
	}

	opts := OptionsFor(split.DefaultConfig().WithAssetPrefix("https://cdn.example.com/app/"))
	if opts.MakeLoad != "makeLoad" || opts.Imports != "fusedImports" {
		t.Errorf("non-prefix options changed: %+v", opts)
	}
	got, err := Generate(output(), opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got, `makeLoad("https://cdn.example.com/app/module_2_PageB.wasm", [], fusedImports)`) {
		t.Errorf("asset prefix not applied:\n%s", got)
	}
}

func TestGenerateInvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"empty make load", func(o *Options) { o.MakeLoad = "" }},
		{"bad identifier", func(o *Options) { o.Imports = "fused-imports" }},
		{"leading digit", func(o *Options) { o.MakeLoad = "1load" }},
		{"no runtime", func(o *Options) { o.RuntimeImport = "" }},
		{"no bindings", func(o *Options) { o.BindingsImport = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			_, err := Generate(output(), opts)
			se, ok := err.(*errors.Error)
			if !ok || se.Kind != errors.KindInvalidInput || se.Phase != errors.PhaseGlue {
				t.Fatalf("err = %v, want glue invalid_input", err)
			}
		})
	}
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteFiles(dir, output(), DefaultOptions())
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}

	want := map[string]string{
		"main.wasm":           "main",
		"module_0_X.wasm":     "x",
		"module_1_Y.wasm":     "y",
		"module_2_PageB.wasm": "b",
		"chunk_0_split.wasm":  "c0",
		"chunk_1_split.wasm":  "c1",
	}
	if len(paths) != len(want)+1 {
		t.Fatalf("wrote %d files, want %d", len(paths), len(want)+1)
	}
	for name, content := range want {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", name, data, content)
		}
	}
	glue, err := os.ReadFile(filepath.Join(dir, GlueFile))
	if err != nil {
		t.Fatalf("read glue: %v", err)
	}
	if !strings.Contains(string(glue), "__wasm_split_load_app_b0_PageB") {
		t.Errorf("glue file incomplete:\n%s", glue)
	}
}
