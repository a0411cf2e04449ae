// Package host is the runtime composition and execution kernel. It compiles
// a guest component once, links the configured capability backends into its
// import namespace, and spawns one isolated execution per incoming trigger.
package host

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Engine wraps the WebAssembly virtual machine. Create once per process and
// share: compilation is the slow path, instantiation is the per-trigger one.
type Engine struct {
	rt    wazero.Runtime
	cache wazero.CompilationCache
}

// EngineOptions configures the virtual machine.
type EngineOptions struct {
	// CacheDir enables a persistent compilation cache. A warm cache skips
	// recompilation entirely, which is the pre-compiled-artifact path for
	// cutting cold-start latency.
	CacheDir string
}

// NewEngine creates the virtual machine and instantiates WASI so guests
// have the usual clock/random/stdio imports available.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	var cache wazero.CompilationCache
	if opts.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("%w: compilation cache at %s: %v", ErrConfig, opts.CacheDir, err)
		}
		cfg = cfg.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiating wasi: %w", err)
	}

	return &Engine{rt: rt, cache: cache}, nil
}

// Compile validates and compiles a guest binary. The result is cached for
// the process lifetime (and on disk when a cache dir is configured).
func (e *Engine) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := e.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return compiled, nil
}

// CompileFile reads and compiles a guest binary from disk.
func (e *Engine) CompileFile(ctx context.Context, path string) (wazero.CompiledModule, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCompile, path, err)
	}
	return e.Compile(ctx, wasm)
}

// Runtime exposes the underlying VM for capability host-module registration.
func (e *Engine) Runtime() wazero.Runtime { return e.rt }

// Close releases the virtual machine and compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	err := e.rt.Close(ctx)
	if e.cache != nil {
		_ = e.cache.Close(ctx)
	}
	return err
}
