// Package capability defines the contract between the runtime kernel and
// the host-side services a guest component can import. A Capability is a
// named service surface backed by a concrete, already-connected backend;
// registering it installs its operations into the sandbox import namespace.
package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
)

// Namespace is the import-module prefix for all capability host modules.
// A capability named "keyvalue" is imported by guests as "omnia:keyvalue".
const Namespace = "omnia:"

// Spec declares one capability a deployment needs and which backend kind
// implements it.
type Spec struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
}

// Manifest is the full set of capabilities for a deployment. Declared once
// at startup and immutable afterwards.
type Manifest []Spec

// Validate rejects duplicate or empty capability names.
func (m Manifest) Validate() error {
	seen := make(map[string]bool, len(m))
	for _, spec := range m {
		if spec.Name == "" {
			return fmt.Errorf("capability with empty name (backend %q)", spec.Backend)
		}
		if seen[spec.Name] {
			return fmt.Errorf("capability %q declared twice", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// ParseManifest parses the compact manifest syntax used by the
// OMNIA_CAPABILITIES variable: comma-separated name=backend pairs, e.g.
// "keyvalue=sqlite,messaging=memory".
func ParseManifest(s string) (Manifest, error) {
	var m Manifest
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, backend, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("manifest entry %q is not name=backend", entry)
		}
		m = append(m, Spec{Name: strings.TrimSpace(name), Backend: strings.TrimSpace(backend)})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Capability is a connected backend exposed to guests under a stable name.
// Implementations are internally synchronized: a single Capability is shared
// by every concurrent instance for the process lifetime.
type Capability interface {
	// Name returns the stable capability name ("keyvalue", "messaging", ...).
	Name() string

	// Register installs the capability's host functions into the sandbox
	// import namespace under Namespace+Name(). Called once at link time;
	// performs no network I/O.
	Register(ctx context.Context, rt wazero.Runtime) error

	// Close releases the backend connection at process shutdown.
	Close(ctx context.Context) error
}

// Factory connects a backend and returns the capability it implements.
// Connection options are environment-sourced inside the factory; transient
// failures are retried by the runtime's connector, so factories should
// return the raw error.
type Factory func(ctx context.Context, logger zerolog.Logger) (Capability, error)
