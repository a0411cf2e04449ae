// Package blobstore is the blob storage capability: named containers of
// binary objects keyed by string.
package blobstore

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
	"github.com/futureforging/omnia/host"
)

// Name is the capability's stable import name.
const Name = "blobstore"

// Blobstore is the backend-facing contract.
type Blobstore interface {
	Container(ctx context.Context, name string) (Container, error)
	Close(ctx context.Context) error
}

// Container is one namespace of blobs.
type Container interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Capability adapts a Blobstore into the sandbox import namespace.
type Capability struct {
	store  Blobstore
	logger zerolog.Logger
}

// New wraps a connected blobstore.
func New(store Blobstore, logger zerolog.Logger) *Capability {
	return &Capability{store: store, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.store.Close(ctx) }

// Register installs the blobstore operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.container).Export("container").
		NewFunctionBuilder().WithFunc(c.put).Export("put").
		NewFunctionBuilder().WithFunc(c.get).Export("get").
		NewFunctionBuilder().WithFunc(c.del).Export("delete").
		NewFunctionBuilder().WithFunc(c.list).Export("list").
		Instantiate(ctx)
	return err
}

// container(name_ptr, name_len) -> container handle, 0 on failure.
func (c *Capability) container(ctx context.Context, mod wazapi.Module, ptr, length uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return 0
	}
	name, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return 0
	}
	container, err := c.store.Container(ctx, name)
	if err != nil {
		c.logger.Warn().Str("container", name).Err(err).Msg("container failed")
		return 0
	}
	return inst.Resources.Put(container)
}

func (c *Capability) put(ctx context.Context, mod wazapi.Module,
	handle, kptr, klen, vptr, vlen uint32) uint32 {

	container, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.ErrnoInvalid
	}
	data, err := capability.ReadBytes(mod, vptr, vlen)
	if err != nil {
		return capability.ErrnoInvalid
	}
	if err := container.Put(ctx, key, data); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("put failed")
		return capability.ErrnoBackend
	}
	return capability.ErrnoOK
}

func (c *Capability) get(ctx context.Context, mod wazapi.Module, handle, kptr, klen uint32) uint64 {
	container, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.None
	}
	data, found, err := container.Get(ctx, key)
	if err != nil || !found {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, data)
	if err != nil {
		return capability.None
	}
	return packed
}

func (c *Capability) del(ctx context.Context, mod wazapi.Module, handle, kptr, klen uint32) uint32 {
	container, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.ErrnoInvalid
	}
	if err := container.Delete(ctx, key); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("delete failed")
		return capability.ErrnoBackend
	}
	return capability.ErrnoOK
}

// list(container) -> packed CBOR array of keys.
func (c *Capability) list(ctx context.Context, mod wazapi.Module, handle uint32) uint64 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return capability.None
	}
	container, ok := host.ResourceAs[Container](inst.Resources, handle)
	if !ok {
		return capability.None
	}
	keys, err := container.List(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("list failed")
		return capability.None
	}
	encoded, err := api.Encode(keys)
	if err != nil {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, encoded)
	if err != nil {
		return capability.None
	}
	return packed
}

func (c *Capability) resolve(ctx context.Context, mod wazapi.Module,
	handle, kptr, klen uint32) (Container, string, bool) {

	inst, ok := host.FromContext(ctx)
	if !ok {
		return nil, "", false
	}
	container, ok := host.ResourceAs[Container](inst.Resources, handle)
	if !ok {
		return nil, "", false
	}
	key, err := capability.ReadString(mod, kptr, klen)
	if err != nil {
		return nil, "", false
	}
	return container, key, true
}
