package host

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"

	"github.com/futureforging/omnia/capability"
)

// Registry maps (capability name, backend kind) to the factory that
// connects it. Deployments declare a capability.Manifest; the registry
// resolves each entry to a factory at startup, before any connection is
// attempted.
type Registry struct {
	factories map[string]map[string]capability.Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]map[string]capability.Factory)}
}

// Register binds a factory to a capability name and backend kind.
// Re-registering the same pair overwrites the previous factory.
func (r *Registry) Register(name, backend string, f capability.Factory) {
	byBackend, ok := r.factories[name]
	if !ok {
		byBackend = make(map[string]capability.Factory)
		r.factories[name] = byBackend
	}
	byBackend[backend] = f
}

// Factory resolves a manifest entry. A declared capability with no
// registered implementation is a startup failure, not a degraded mode.
func (r *Registry) Factory(spec capability.Spec) (capability.Factory, error) {
	byBackend, ok := r.factories[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no implementation registered for capability %q", ErrLink, spec.Name)
	}
	f, ok := byBackend[spec.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: capability %q has no backend %q (have %v)",
			ErrLink, spec.Name, spec.Backend, keys(byBackend))
	}
	return f, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Link registers every connected capability's host functions into the
// sandbox import namespace, verifies the compiled component's imports are
// all satisfied, and returns the pre-instantiation template. Pure
// composition: no network I/O happens here. Relinking equal inputs yields
// an equivalent template: host modules already instantiated under a
// capability's name are reused rather than re-registered.
func Link(ctx context.Context, engine *Engine, compiled wazero.CompiledModule,
	caps map[string]capability.Capability) (Template, error) {

	// Deterministic registration order.
	names := keys(caps)
	linked := map[string]bool{
		// WASI is instantiated by the engine and always available.
		"wasi_snapshot_preview1": true,
	}
	for _, name := range names {
		modName := capability.Namespace + name
		if engine.Runtime().Module(modName) == nil {
			if err := caps[name].Register(ctx, engine.Runtime()); err != nil {
				return nil, fmt.Errorf("%w: registering %q: %v", ErrLink, name, err)
			}
		}
		linked[modName] = true
	}

	if err := checkImports(moduleImports(compiled), linked); err != nil {
		return nil, err
	}

	return &moduleTemplate{rt: engine.Runtime(), compiled: compiled}, nil
}

// moduleImports lists the component's function and memory imports. Table
// and global imports are not surfaced by the compiler API; an unlinked one
// fails at first instantiation rather than here.
func moduleImports(compiled wazero.CompiledModule) []importRef {
	var imports []importRef
	for _, def := range compiled.ImportedFunctions() {
		if mod, fn, isImport := def.Import(); isImport {
			imports = append(imports, importRef{Module: mod, Name: fn})
		}
	}
	for _, def := range compiled.ImportedMemories() {
		if mod, mem, isImport := def.Import(); isImport {
			imports = append(imports, importRef{Module: mod, Name: mem})
		}
	}
	return imports
}

// importRef is one function import declared by the compiled component.
type importRef struct {
	Module string
	Name   string
}

// checkImports fails closed: every import module the component declares
// must have been linked.
func checkImports(imports []importRef, linked map[string]bool) error {
	for _, imp := range imports {
		if !linked[imp.Module] {
			return fmt.Errorf("%w: component imports %s.%s but %q is not linked",
				ErrLink, imp.Module, imp.Name, imp.Module)
		}
	}
	return nil
}
