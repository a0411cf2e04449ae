package host

import (
	"errors"
	"fmt"
)

// Startup error classes. All of them abort the process before serving
// begins; none may leave the runtime partially started.
var (
	// ErrConfig marks missing or invalid required configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrConnect marks a backend that stayed unreachable after the retry
	// budget was exhausted.
	ErrConnect = errors.New("backend connect failed")

	// ErrLink marks a capability import with no matching registered
	// implementation. The runtime fails closed rather than let a guest
	// reach an unlinked import.
	ErrLink = errors.New("link failed")

	// ErrCompile marks a malformed or incompatible guest binary.
	ErrCompile = errors.New("compile failed")
)

// ErrInstantiate marks a failure to start the sandbox for an instance,
// before any guest code ran. Dispatchers use it to tell "spawning failed"
// (redeliverable) apart from "the guest failed" (reported per policy).
var ErrInstantiate = errors.New("instance start failed")

// GuestError is a failure isolated to a single instance: the guest trapped,
// returned an error, or ran past its execution deadline. It is reported
// through the trigger's native error channel and never unwinds into
// dispatcher state.
type GuestError struct {
	InstanceID string
	Timeout    bool
	Err        error
}

func (e *GuestError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("instance %s: execution deadline exceeded: %v", e.InstanceID, e.Err)
	}
	return fmt.Sprintf("instance %s: %v", e.InstanceID, e.Err)
}

func (e *GuestError) Unwrap() error { return e.Err }

// AsGuestError unwraps err to a *GuestError if one is in its chain.
func AsGuestError(err error) (*GuestError, bool) {
	var ge *GuestError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
