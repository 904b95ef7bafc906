package split

import (
	"fmt"

	"github.com/wippyai/wasm-split/errors"
	"github.com/wippyai/wasm-split/split/internal/chunk"
)

// Defaults for Config.
const (
	DefaultMaxChunkSize  = 1000
	DefaultMinChunkFloor = 40
	DefaultAssetPrefix   = "/assets/"
)

// Config controls analysis and emission.
type Config struct {
	// MaxChunkSize caps the number of nodes in a shared chunk.
	MaxChunkSize int

	// MinChunkFloor bounds the merge threshold from below; chunks smaller
	// than max(MaxChunkSize/2, MinChunkFloor)/2 are merged when possible.
	MinChunkFloor int

	// Parallelism is the number of targets emitted concurrently.
	Parallelism int

	// Validate compiles every emitted module with wazero.
	Validate bool

	// AssetPrefix is prepended to artifact file names in generated glue.
	AssetPrefix string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:  DefaultMaxChunkSize,
		MinChunkFloor: DefaultMinChunkFloor,
		Parallelism:   1,
		Validate:      true,
		AssetPrefix:   DefaultAssetPrefix,
	}
}

// WithMaxChunkSize returns a copy with the chunk cap set.
func (c Config) WithMaxChunkSize(n int) Config {
	c.MaxChunkSize = n
	return c
}

// WithParallelism returns a copy emitting n targets at a time.
func (c Config) WithParallelism(n int) Config {
	c.Parallelism = n
	return c
}

// WithValidation returns a copy with wazero validation toggled.
func (c Config) WithValidation(on bool) Config {
	c.Validate = on
	return c
}

// WithAssetPrefix returns a copy with the glue asset prefix set.
func (c Config) WithAssetPrefix(prefix string) Config {
	c.AssetPrefix = prefix
	return c
}

// Check reports configuration errors.
func (c Config) Check() error {
	if c.MaxChunkSize < 1 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("MaxChunkSize must be at least 1, got %d", c.MaxChunkSize))
	}
	if c.MinChunkFloor < 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("MinChunkFloor must not be negative, got %d", c.MinChunkFloor))
	}
	if c.Parallelism < 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("Parallelism must not be negative, got %d", c.Parallelism))
	}
	return nil
}

func (c Config) chunkConfig() chunk.Config {
	return chunk.Config{MaxSize: c.MaxChunkSize, MinFloor: c.MinChunkFloor}
}

func (c Config) workers() int {
	if c.Parallelism < 1 {
		return 1
	}
	return c.Parallelism
}
