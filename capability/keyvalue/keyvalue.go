// Package keyvalue is the key-value capability: named buckets of binary
// values with optional per-entry time-to-live.
package keyvalue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/capability"
	"github.com/futureforging/omnia/host"
)

// Name is the capability's stable import name.
const Name = "keyvalue"

// Store is the backend-facing contract. Implementations must be safe for
// concurrent use by many instances.
type Store interface {
	Open(ctx context.Context, name string) (Bucket, error)
	Close(ctx context.Context) error
}

// Bucket is one namespace of keys inside a store.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Capability adapts a Store into the sandbox import namespace.
type Capability struct {
	store  Store
	logger zerolog.Logger
}

// New wraps a connected store.
func New(store Store, logger zerolog.Logger) *Capability {
	return &Capability{store: store, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.store.Close(ctx) }

// Register installs the key-value operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.open).Export("open").
		NewFunctionBuilder().WithFunc(c.get).Export("get").
		NewFunctionBuilder().WithFunc(c.set).Export("set").
		NewFunctionBuilder().WithFunc(c.del).Export("delete").
		NewFunctionBuilder().WithFunc(c.exists).Export("exists").
		Instantiate(ctx)
	return err
}

// open(name_ptr, name_len) -> bucket handle, 0 on failure. The handle lives
// in the calling instance's resource table and dies with it.
func (c *Capability) open(ctx context.Context, mod wazapi.Module, ptr, length uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return 0
	}
	name, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return 0
	}
	bucket, err := c.store.Open(ctx, name)
	if err != nil {
		c.logger.Warn().Str("bucket", name).Err(err).Msg("open failed")
		return 0
	}
	return inst.Resources.Put(bucket)
}

// get(bucket, key_ptr, key_len) -> packed value, None when absent.
func (c *Capability) get(ctx context.Context, mod wazapi.Module, handle, kptr, klen uint32) uint64 {
	bucket, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.None
	}
	value, found, err := bucket.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("get failed")
		return capability.None
	}
	if !found {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, value)
	if err != nil {
		return capability.None
	}
	return packed
}

// set(bucket, key_ptr, key_len, val_ptr, val_len, ttl_ms) -> errno.
// ttl_ms of zero means no expiry.
func (c *Capability) set(ctx context.Context, mod wazapi.Module,
	handle, kptr, klen, vptr, vlen uint32, ttlMs uint64) uint32 {

	bucket, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.ErrnoInvalid
	}
	value, err := capability.ReadBytes(mod, vptr, vlen)
	if err != nil {
		return capability.ErrnoInvalid
	}
	ttl := time.Duration(ttlMs) * time.Millisecond
	if err := bucket.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("set failed")
		return capability.ErrnoBackend
	}
	return capability.ErrnoOK
}

func (c *Capability) del(ctx context.Context, mod wazapi.Module, handle, kptr, klen uint32) uint32 {
	bucket, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return capability.ErrnoInvalid
	}
	if err := bucket.Delete(ctx, key); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("delete failed")
		return capability.ErrnoBackend
	}
	return capability.ErrnoOK
}

// exists(bucket, key_ptr, key_len) -> 1 present, 0 absent or error.
func (c *Capability) exists(ctx context.Context, mod wazapi.Module, handle, kptr, klen uint32) uint32 {
	bucket, key, ok := c.resolve(ctx, mod, handle, kptr, klen)
	if !ok {
		return 0
	}
	_, found, err := bucket.Get(ctx, key)
	if err != nil || !found {
		return 0
	}
	return 1
}

func (c *Capability) resolve(ctx context.Context, mod wazapi.Module,
	handle, kptr, klen uint32) (Bucket, string, bool) {

	inst, ok := host.FromContext(ctx)
	if !ok {
		return nil, "", false
	}
	bucket, ok := host.ResourceAs[Bucket](inst.Resources, handle)
	if !ok {
		return nil, "", false
	}
	key, err := capability.ReadString(mod, kptr, klen)
	if err != nil {
		return nil, "", false
	}
	return bucket, key, true
}
