// Package guestconfig is the config capability: read-only string
// configuration exposed to guests, sourced from the host environment.
package guestconfig

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/capability"
)

// Name is the capability's stable import name.
const Name = "config"

// envPrefix marks variables visible to guests: OMNIA_GUEST_LOG_LEVEL is
// read by the guest as "log_level".
const envPrefix = "OMNIA_GUEST_"

// Provider is the backend-facing contract.
type Provider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Close(ctx context.Context) error
}

// Capability adapts a Provider into the sandbox import namespace.
type Capability struct {
	provider Provider
	logger   zerolog.Logger
}

// New wraps a provider.
func New(provider Provider, logger zerolog.Logger) *Capability {
	return &Capability{provider: provider, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.provider.Close(ctx) }

// Register installs the config operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.get).Export("get").
		Instantiate(ctx)
	return err
}

// get(key_ptr, key_len) -> packed value, None when unset.
func (c *Capability) get(ctx context.Context, mod wazapi.Module, ptr, length uint32) uint64 {
	key, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return capability.None
	}
	value, found, err := c.provider.Get(ctx, key)
	if err != nil || !found {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, []byte(value))
	if err != nil {
		return capability.None
	}
	return packed
}

// Env returns a factory for the environment-backed provider.
func Env() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return New(envProvider{}, logger), nil
	}
}

type envProvider struct{}

func (envProvider) Get(ctx context.Context, key string) (string, bool, error) {
	name := envPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	value, ok := os.LookupEnv(name)
	return value, ok, nil
}

func (envProvider) Close(ctx context.Context) error { return nil }
