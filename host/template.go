package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/capability"
)

// Guest entry-point exports. Each takes an input payload as (ptr, len) and
// returns a packed pointer/length result, or capability.None for no reply.
const (
	ExportHTTPHandle    = "omnia_http_handle"
	ExportMessageHandle = "omnia_message_handle"
	ExportSocketHandle  = "omnia_socket_handle"
)

// Guest is one live, isolated execution of the component. Not safe for
// concurrent use; each instance owns exactly one.
type Guest interface {
	// Call invokes an entry-point export with the given payload and
	// returns the guest's reply bytes (nil for "no reply").
	Call(ctx context.Context, export string, input []byte) ([]byte, error)

	// Close releases the execution's sandbox state.
	Close(ctx context.Context) error
}

// Template is the compiled, fully linked, not-yet-instantiated component.
// Produced once at startup; instantiation is cheap and happens per trigger.
type Template interface {
	Instantiate(ctx context.Context) (Guest, error)
}

// moduleTemplate is the wazero-backed Template produced by Link.
type moduleTemplate struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

func (t *moduleTemplate) Instantiate(ctx context.Context) (Guest, error) {
	// Anonymous module name: every instantiation is a distinct, unnamed
	// instance so concurrent executions cannot observe each other.
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")
	mod, err := t.rt.InstantiateModule(ctx, t.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiating component: %w", err)
	}
	return &guestModule{mod: mod}, nil
}

type guestModule struct {
	mod wazapi.Module
}

func (g *guestModule) Call(ctx context.Context, export string, input []byte) ([]byte, error) {
	fn := g.mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("component does not export %q", export)
	}

	packed, err := capability.WriteBytes(ctx, g.mod, input)
	if err != nil {
		return nil, fmt.Errorf("writing input: %w", err)
	}
	ptr, length := capability.Unpack(packed)

	results, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0] == capability.None {
		return nil, nil
	}

	outPtr, outLen := capability.Unpack(results[0])
	if outLen == 0 {
		return nil, nil
	}
	out, ok := g.mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("result out of range: ptr=%d len=%d", outPtr, outLen)
	}
	return append([]byte(nil), out...), nil
}

func (g *guestModule) Close(ctx context.Context) error {
	return g.mod.Close(ctx)
}
