// Package vault is the secrets capability: read-only access to named
// secrets sourced from the environment or a secrets file.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
)

// Name is the capability's stable import name.
const Name = "vault"

// envPrefix marks environment variables exposed as secrets:
// OMNIA_SECRET_API_KEY becomes secret "api_key".
const envPrefix = "OMNIA_SECRET_"

// Secrets is the backend-facing contract.
type Secrets interface {
	Get(ctx context.Context, name string) (string, bool, error)
	List(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Capability adapts a Secrets backend into the sandbox import namespace.
type Capability struct {
	secrets Secrets
	logger  zerolog.Logger
}

// New wraps a connected secrets backend.
func New(secrets Secrets, logger zerolog.Logger) *Capability {
	return &Capability{secrets: secrets, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.secrets.Close(ctx) }

// Register installs the secret operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.get).Export("get").
		NewFunctionBuilder().WithFunc(c.list).Export("list").
		Instantiate(ctx)
	return err
}

// get(name_ptr, name_len) -> packed secret value, None when absent.
func (c *Capability) get(ctx context.Context, mod wazapi.Module, ptr, length uint32) uint64 {
	name, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return capability.None
	}
	value, found, err := c.secrets.Get(ctx, name)
	if err != nil {
		c.logger.Warn().Str("secret", name).Err(err).Msg("get failed")
		return capability.None
	}
	if !found {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, []byte(value))
	if err != nil {
		return capability.None
	}
	return packed
}

// list() -> packed CBOR array of secret names. Names only, never values.
func (c *Capability) list(ctx context.Context, mod wazapi.Module) uint64 {
	names, err := c.secrets.List(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("list failed")
		return capability.None
	}
	encoded, err := api.Encode(names)
	if err != nil {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, encoded)
	if err != nil {
		return capability.None
	}
	return packed
}

// Env returns a factory for the environment-and-file backend. Secrets come
// from OMNIA_SECRET_* variables, merged with an optional JSON file named by
// OMNIA_SECRETS_FILE (file entries win).
func Env() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		store := &envSecrets{values: make(map[string]string)}
		for _, kv := range os.Environ() {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(name, envPrefix) {
				continue
			}
			store.values[strings.ToLower(strings.TrimPrefix(name, envPrefix))] = value
		}
		if path := os.Getenv("OMNIA_SECRETS_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading secrets file %s: %w", path, err)
			}
			var fromFile map[string]string
			if err := json.Unmarshal(data, &fromFile); err != nil {
				return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
			}
			for k, v := range fromFile {
				store.values[k] = v
			}
		}
		return New(store, logger), nil
	}
}

type envSecrets struct {
	values map[string]string // immutable after construction
}

func (s *envSecrets) Get(ctx context.Context, name string) (string, bool, error) {
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *envSecrets) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(s.values))
	for k := range s.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (s *envSecrets) Close(ctx context.Context) error { return nil }
