package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-split/glue"
	"github.com/wippyai/wasm-split/split"
)

type options struct {
	original    string
	bindgened   string
	out         string
	assetPrefix string
	maxChunk    int
	parallel    int
	noValidate  bool
	verbose     bool
	report      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.original, "original", "", "Path to the linked module with relocations (--emit-relocs)")
	flag.StringVar(&opts.bindgened, "bindgened", "", "Path to the post-processed module to split")
	flag.StringVar(&opts.out, "out", "", "Output directory for modules and glue")
	flag.StringVar(&opts.assetPrefix, "asset-prefix", split.DefaultAssetPrefix, "Prefix for module URLs in the glue")
	flag.IntVar(&opts.maxChunk, "max-chunk", split.DefaultMaxChunkSize, "Maximum number of nodes per shared chunk")
	flag.IntVar(&opts.parallel, "parallel", 1, "Number of modules emitted concurrently")
	flag.BoolVar(&opts.noValidate, "no-validate", false, "Skip wazero validation of emitted modules")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose (development) logging")
	flag.BoolVar(&opts.report, "report", false, "Print a summary of the emitted modules")
	interactive := flag.Bool("i", false, "Interactive mode: inspect the split plan")
	flag.Parse()

	if opts.original == "" || opts.bindgened == "" || (opts.out == "" && !*interactive) {
		fmt.Fprintln(os.Stderr, "Usage: wasm-split -original <linked.wasm> -bindgened <app.wasm> -out <dir> [-report]")
		fmt.Fprintln(os.Stderr, "       wasm-split -original <linked.wasm> -bindgened <app.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	log, err := newLogger(opts.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	split.SetLogger(log)

	if *interactive {
		// The inspector owns the terminal; keep log lines off it.
		split.SetLogger(zap.NewNop())
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Error("split failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (o options) config() split.Config {
	return split.DefaultConfig().
		WithMaxChunkSize(o.maxChunk).
		WithParallelism(o.parallel).
		WithValidation(!o.noValidate).
		WithAssetPrefix(o.assetPrefix)
}

// load reads both inputs and splits them.
func load(ctx context.Context, o options) (*split.Output, error) {
	original, err := os.ReadFile(o.original)
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}
	bindgened, err := os.ReadFile(o.bindgened)
	if err != nil {
		return nil, fmt.Errorf("read bindgened: %w", err)
	}
	return split.Split(ctx, original, bindgened, o.config())
}

func run(ctx context.Context, o options) error {
	out, err := load(ctx, o)
	if err != nil {
		return err
	}

	paths, err := glue.WriteFiles(o.out, out, glue.OptionsFor(o.config()))
	if err != nil {
		return err
	}
	split.Logger().Info("wrote artifacts",
		zap.String("dir", o.out),
		zap.Int("files", len(paths)))

	fmt.Printf("Split %s into %d modules and %d chunks\n", o.bindgened, len(out.Modules), len(out.Chunks))
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}

	if !o.report {
		return nil
	}
	r, err := split.NewReport(out)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	fmt.Println()
	return printReport(os.Stdout, r)
}
