package split

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-split/errors"
)

// Output is every module produced from one input pair.
type Output struct {
	Main    *SplitModule
	Modules []*SplitModule // one per split point, by ordinal
	Chunks  []*SplitModule // by chunk index
	Plan    *Plan
}

// Split analyses original and bindgened once and emits the main module,
// one module per split point and one per chunk. With cfg.Parallelism > 1
// targets are emitted concurrently; the output does not depend on it.
func Split(ctx context.Context, original, bindgened []byte, cfg Config) (*Output, error) {
	plan, err := Analyze(original, bindgened, cfg)
	if err != nil {
		return nil, err
	}
	return plan.EmitAll(ctx)
}

// EmitAll emits every target of the plan.
func (p *Plan) EmitAll(ctx context.Context) (*Output, error) {
	targets := p.Targets()
	results := make([]*SplitModule, len(targets))

	var v *validator
	if p.cfg.Validate {
		v = newValidator(ctx)
		defer v.close(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.workers())
	for i, t := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mod, err := p.Emit(t)
			if err != nil {
				return err
			}
			if v != nil {
				if err := v.check(gctx, t, mod.Bytes); err != nil {
					return err
				}
			}
			results[i] = mod
			Logger().Debug("target emitted", zap.Stringer("target", t), zap.Int("bytes", len(mod.Bytes)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, canceled(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.PhaseEmit, err)
	}

	out := &Output{
		Main:    results[0],
		Modules: results[1 : 1+len(p.Splits)],
		Chunks:  results[1+len(p.Splits):],
		Plan:    p,
	}
	Logger().Info("split complete",
		zap.Int("main_bytes", len(out.Main.Bytes)),
		zap.Int("modules", len(out.Modules)),
		zap.Int("chunks", len(out.Chunks)))
	return out, nil
}

func canceled(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		var se *errors.Error
		if !stderrors.As(err, &se) {
			return errors.Canceled(errors.PhaseEmit, err)
		}
	}
	return err
}

// BuildTarget analyses the inputs and emits a single target. It holds no
// state between calls.
func BuildTarget(original, bindgened []byte, t Target, cfg Config) (*SplitModule, error) {
	plan, err := Analyze(original, bindgened, cfg)
	if err != nil {
		return nil, err
	}
	mod, err := plan.Emit(t)
	if err != nil {
		return nil, err
	}
	if cfg.Validate {
		ctx := context.Background()
		v := newValidator(ctx)
		defer v.close(ctx)
		if err := v.check(ctx, t, mod.Bytes); err != nil {
			return nil, err
		}
	}
	return mod, nil
}
