package host

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/futureforging/omnia/capability"
)

func stubFactory() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return nil, nil
	}
}

// emptyWasm is the smallest valid component: header only, no imports.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// memImportWasm declares a single memory import, "mem" from module "env".
var memImportWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x02, 0x0c, 0x01,
	0x03, 'e', 'n', 'v',
	0x03, 'm', 'e', 'm',
	0x02, 0x00, 0x01,
}

// hostModCapability registers a real host module, unlike the no-op stubs.
type hostModCapability struct {
	name string
}

func (c *hostModCapability) Name() string { return c.name }

func (c *hostModCapability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + c.name).
		NewFunctionBuilder().WithFunc(func(ctx context.Context) uint32 { return 0 }).Export("ping").
		Instantiate(ctx)
	return err
}

func (c *hostModCapability) Close(ctx context.Context) error { return nil }

func TestRegistryResolution(t *testing.T) {
	reg := NewRegistry()
	reg.Register("keyvalue", "memory", stubFactory())
	reg.Register("keyvalue", "sqlite", stubFactory())

	if _, err := reg.Factory(capability.Spec{Name: "keyvalue", Backend: "memory"}); err != nil {
		t.Fatalf("expected registered pair to resolve: %v", err)
	}

	_, err := reg.Factory(capability.Spec{Name: "messaging", Backend: "memory"})
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected ErrLink for unknown capability, got %v", err)
	}

	_, err = reg.Factory(capability.Spec{Name: "keyvalue", Backend: "redis"})
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected ErrLink for unknown backend, got %v", err)
	}
}

func TestLinkTwiceYieldsEquivalentTemplate(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, EngineOptions{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close(ctx)

	compiled, err := engine.Compile(ctx, emptyWasm)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	caps := map[string]capability.Capability{
		"clock": &hostModCapability{name: "clock"},
	}

	first, err := Link(ctx, engine, compiled, caps)
	if err != nil {
		t.Fatalf("first link: %v", err)
	}
	if first == nil {
		t.Fatal("first link returned no template")
	}

	// Same inputs again: the already-instantiated host module is reused.
	second, err := Link(ctx, engine, compiled, caps)
	if err != nil {
		t.Fatalf("second link: %v", err)
	}
	if second == nil {
		t.Fatal("second link returned no template")
	}
}

func TestLinkValidatesMemoryImports(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, EngineOptions{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close(ctx)

	compiled, err := engine.Compile(ctx, memImportWasm)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	_, err = Link(ctx, engine, compiled, map[string]capability.Capability{})
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected ErrLink for unlinked memory import, got %v", err)
	}
}

func TestCheckImportsFailsClosed(t *testing.T) {
	linked := map[string]bool{
		"wasi_snapshot_preview1": true,
		"omnia:keyvalue":         true,
	}

	ok := []importRef{
		{Module: "wasi_snapshot_preview1", Name: "clock_time_get"},
		{Module: "omnia:keyvalue", Name: "get"},
	}
	if err := checkImports(ok, linked); err != nil {
		t.Fatalf("expected satisfied imports to pass: %v", err)
	}

	missing := append(ok, importRef{Module: "omnia:messaging", Name: "publish"})
	err := checkImports(missing, linked)
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected ErrLink for unlinked import, got %v", err)
	}
}
