package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Instance is one isolated execution context, created per trigger and
// destroyed when the trigger's handling completes. It owns a fresh
// ResourceTable and a read-only view of the shared RuntimeContext; it is
// never shared across triggers.
type Instance struct {
	ID        string
	Resources *ResourceTable
	Runtime   *RuntimeContext
	SpawnedAt time.Time

	mu       sync.Mutex
	guest    Guest
	teardown sync.Once
}

type instanceKey struct{}

// WithInstance attaches an instance to a context so capability host
// functions can reach its resource table during a sandbox callback.
func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

// FromContext returns the instance carried by a capability call context.
func FromContext(ctx context.Context) (*Instance, bool) {
	inst, ok := ctx.Value(instanceKey{}).(*Instance)
	return inst, ok
}

// Teardown releases the instance's resources and sandbox state. It runs
// exactly once per instance no matter how many exit paths race to it.
func (inst *Instance) Teardown(ctx context.Context) {
	inst.teardown.Do(func() {
		inst.mu.Lock()
		guest := inst.guest
		inst.guest = nil
		inst.mu.Unlock()

		if guest != nil {
			// Teardown must proceed even if the trigger's context is
			// already cancelled.
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = guest.Close(closeCtx)
		}
		inst.Resources.Release(context.WithoutCancel(ctx))
		if inst.Runtime != nil && inst.Runtime.Metrics != nil {
			inst.Runtime.Metrics.RecordTeardown()
		}
	})
}

// Spawner creates instances from the shared runtime context.
type Spawner struct {
	rc *RuntimeContext
}

// NewSpawner creates a spawner bound to a runtime context.
func NewSpawner(rc *RuntimeContext) *Spawner {
	return &Spawner{rc: rc}
}

// Runtime returns the shared runtime context the spawner binds instances to.
func (s *Spawner) Runtime() *RuntimeContext { return s.rc }

// Spawn allocates a fresh instance. It never blocks on backend I/O: it only
// builds the resource table and binds the shared context by reference.
func (s *Spawner) Spawn() *Instance {
	inst := &Instance{
		ID:        uuid.NewString(),
		Resources: NewResourceTable(),
		Runtime:   s.rc,
		SpawnedAt: time.Now(),
	}
	s.rc.Metrics.RecordSpawn()
	return inst
}

// Run executes one entry-point call inside the instance, bounded by the
// configured execution deadline. The sandbox is instantiated lazily on the
// first call and reused for subsequent calls on the same instance (the
// websocket dispatcher routes a whole connection through one instance).
//
// Any guest trap, panic, or timeout is converted to a *GuestError; nothing
// from a single execution can unwind past here into dispatcher state.
func (s *Spawner) Run(ctx context.Context, inst *Instance, export string, input []byte) (out []byte, err error) {
	if s.rc.Config.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.rc.Config.ExecTimeout)
		defer cancel()
	}
	ctx = WithInstance(ctx, inst)

	defer func() {
		if r := recover(); r != nil {
			s.rc.Metrics.RecordGuestError()
			err = &GuestError{InstanceID: inst.ID, Err: fmt.Errorf("guest panic: %v", r)}
		}
	}()

	guest, err := inst.ensureGuest(ctx, s.rc.Template)
	if err != nil {
		s.rc.Metrics.RecordGuestError()
		return nil, &GuestError{InstanceID: inst.ID, Err: fmt.Errorf("%w: %v", ErrInstantiate, err)}
	}

	out, callErr := guest.Call(ctx, export, input)
	if callErr != nil {
		s.rc.Metrics.RecordGuestError()
		return nil, &GuestError{
			InstanceID: inst.ID,
			Timeout:    errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:        callErr,
		}
	}
	return out, nil
}

// Handle is the one-shot path for request/response triggers: spawn, run,
// tear down. Teardown is guaranteed on every exit path.
func (s *Spawner) Handle(ctx context.Context, export string, input []byte) ([]byte, error) {
	inst := s.Spawn()
	defer inst.Teardown(ctx)
	return s.Run(ctx, inst, export, input)
}

func (inst *Instance) ensureGuest(ctx context.Context, template Template) (Guest, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.guest != nil {
		return inst.guest, nil
	}
	g, err := template.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	inst.guest = g
	return g, nil
}
