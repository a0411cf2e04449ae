// Package telemetry is the tracing capability: guests open spans and attach
// events, exported through the process-wide OpenTelemetry tracer provider.
// Spans a guest forgets to end are ended at instance teardown.
package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/futureforging/omnia/capability"
	"github.com/futureforging/omnia/host"
)

// Name is the capability's stable import name.
const Name = "telemetry"

// Capability exports span operations backed by an otel tracer.
type Capability struct {
	tracer trace.Tracer
	logger zerolog.Logger
}

// Otel returns a factory using the global tracer provider (configured by
// host.InitTracer; a no-op tracer when no OTLP endpoint is set).
func Otel() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return &Capability{
			tracer: otel.Tracer("omnia/guest"),
			logger: logger.With().Str("capability", Name).Logger(),
		}, nil
	}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return nil }

// Register installs the span operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.spanStart).Export("span_start").
		NewFunctionBuilder().WithFunc(c.spanEnd).Export("span_end").
		NewFunctionBuilder().WithFunc(c.event).Export("event").
		Instantiate(ctx)
	return err
}

// spanResource ends the span on teardown when the guest never did.
type spanResource struct {
	span trace.Span
}

func (s *spanResource) Close(ctx context.Context) error {
	s.span.End()
	return nil
}

// span_start(name_ptr, name_len) -> span handle, 0 on failure.
func (c *Capability) spanStart(ctx context.Context, mod wazapi.Module, ptr, length uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return 0
	}
	name, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return 0
	}
	_, span := c.tracer.Start(ctx, name)
	return inst.Resources.Put(&spanResource{span: span})
}

// span_end(span) -> errno.
func (c *Capability) spanEnd(ctx context.Context, handle uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return capability.ErrnoInvalid
	}
	res, ok := inst.Resources.Remove(handle)
	if !ok {
		return capability.ErrnoInvalid
	}
	sr, ok := res.(*spanResource)
	if !ok {
		return capability.ErrnoInvalid
	}
	sr.span.End()
	return capability.ErrnoOK
}

// event(span, name_ptr, name_len) -> errno.
func (c *Capability) event(ctx context.Context, mod wazapi.Module, handle, ptr, length uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return capability.ErrnoInvalid
	}
	sr, ok := host.ResourceAs[*spanResource](inst.Resources, handle)
	if !ok {
		return capability.ErrnoInvalid
	}
	name, err := capability.ReadString(mod, ptr, length)
	if err != nil {
		return capability.ErrnoInvalid
	}
	sr.span.AddEvent(name)
	return capability.ErrnoOK
}
