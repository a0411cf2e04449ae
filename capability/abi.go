package capability

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest-side ABI shared by all capability host modules. Byte payloads are
// passed as (ptr, len) pairs in guest linear memory; byte results are
// written into guest memory via the guest's exported allocator and returned
// as a packed u64.

// None is the packed result meaning "no value" (key absent, end of cursor,
// invalid token). Distinct from an empty value, which packs as ptr<<32|0.
const None = ^uint64(0)

// Errno values returned by capability operations that do not produce bytes.
const (
	ErrnoOK      = 0
	ErrnoInvalid = 1 // bad handle or malformed argument
	ErrnoBackend = 2 // backend operation failed
)

// Pack combines a guest pointer and length into a single u64 return value.
func Pack(ptr uint32, length int) uint64 {
	return uint64(ptr)<<32 | uint64(uint32(length))
}

// Unpack splits a packed u64 into pointer and length.
func Unpack(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// ReadBytes copies (ptr, len) out of guest memory. Returns an error when
// the range is out of bounds.
func ReadBytes(mod api.Module, ptr, length uint32) ([]byte, error) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("out of range read: ptr=%d len=%d", ptr, length)
	}
	// The view is only valid until the next guest call; copy out.
	return append([]byte(nil), buf...), nil
}

// ReadString copies a guest string.
func ReadString(mod api.Module, ptr, length uint32) (string, error) {
	buf, err := ReadBytes(mod, ptr, length)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteBytes allocates guest memory via the guest's "alloc" export, copies
// data into it, and returns the packed pointer/length. A nil or empty slice
// still allocates nothing and packs as (0, 0).
func WriteBytes(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if len(data) == 0 {
		return Pack(0, 0), nil
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, fmt.Errorf("guest does not export alloc")
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("out of range write: ptr=%d len=%d", ptr, len(data))
	}
	return Pack(ptr, len(data)), nil
}
