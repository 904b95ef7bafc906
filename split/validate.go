package split

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/wasm"
)

// validator compiles emitted modules to catch anything the rewrite broke.
// Compilation runs wazero's full validation without instantiating, so
// modules importing from __wasm_split need no host.
type validator struct {
	runtime wazero.Runtime
}

func newValidator(ctx context.Context) *validator {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	return &validator{runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}
}

func (v *validator) check(ctx context.Context, t Target, bytes []byte) error {
	if _, err := wasm.ParseModuleValidate(bytes); err != nil {
		return errors.Validation(t.String(), err)
	}
	compiled, err := v.runtime.CompileModule(ctx, bytes)
	if err != nil {
		return errors.Validation(t.String(), err)
	}
	return compiled.Close(ctx)
}

func (v *validator) close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}
