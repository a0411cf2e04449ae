// Package messaging is the pub/sub capability. Guests publish through the
// capability import; inbound deliveries arrive through the messaging
// dispatcher, which subscribes to the deployment's configured topics.
package messaging

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
)

// Name is the capability's stable import name.
const Name = "messaging"

// Delivery is one inbound message plus its acknowledgement controls. The
// broker assumes at-least-once semantics: a Nack makes the message eligible
// for redelivery.
type Delivery struct {
	Msg  api.Message
	Ack  func()
	Nack func()
}

// Client is the backend-facing contract.
type Client interface {
	Publish(ctx context.Context, msg api.Message) error

	// Subscribe opens a delivery stream for the given topics. Delivery
	// stops when the context is cancelled; consumers select on the
	// context rather than waiting for channel close.
	Subscribe(ctx context.Context, topics []string) (<-chan Delivery, error)

	Close(ctx context.Context) error
}

// Capability adapts a Client into the sandbox import namespace.
type Capability struct {
	client Client
	logger zerolog.Logger
}

// New wraps a connected client.
func New(client Client, logger zerolog.Logger) *Capability {
	return &Capability{client: client, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.client.Close(ctx) }

// Client exposes the backend connection to the messaging dispatcher.
func (c *Capability) Client() Client { return c.client }

// Register installs the publish operation as a guest import.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.publish).Export("publish").
		Instantiate(ctx)
	return err
}

// publish(topic_ptr, topic_len, payload_ptr, payload_len) -> errno.
func (c *Capability) publish(ctx context.Context, mod wazapi.Module,
	tptr, tlen, pptr, plen uint32) uint32 {

	topic, err := capability.ReadString(mod, tptr, tlen)
	if err != nil {
		return capability.ErrnoInvalid
	}
	payload, err := capability.ReadBytes(mod, pptr, plen)
	if err != nil {
		return capability.ErrnoInvalid
	}
	if err := c.client.Publish(ctx, api.Message{Topic: topic, Payload: payload}); err != nil {
		c.logger.Warn().Str("topic", topic).Err(err).Msg("publish failed")
		return capability.ErrnoBackend
	}
	return capability.ErrnoOK
}
