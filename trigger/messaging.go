package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability/messaging"
	"github.com/futureforging/omnia/host"
)

// Messaging consumes deliveries from the messaging backend's subscribed
// topics, spawning one instance per message. A failed message is settled
// per the configured acknowledgement policy and never affects the handling
// of the next one.
type Messaging struct {
	client  messaging.Client
	spawner *host.Spawner
	logger  zerolog.Logger
}

// NewMessaging builds the messaging dispatcher over a connected client.
func NewMessaging(client messaging.Client, spawner *host.Spawner, logger zerolog.Logger) *Messaging {
	return &Messaging{
		client:  client,
		spawner: spawner,
		logger:  logger.With().Str("dispatcher", "messaging").Logger(),
	}
}

// Name implements Dispatcher.
func (m *Messaging) Name() string { return "messaging" }

// Run subscribes to the configured topics and handles deliveries until the
// context is cancelled. Each delivery is handled on its own goroutine so a
// slow guest never blocks the stream.
func (m *Messaging) Run(ctx context.Context) error {
	cfg := m.spawner.Runtime().Config
	if len(cfg.Topics) == 0 {
		m.logger.Info().Msg("no topics configured, messaging dispatcher idle")
		<-ctx.Done()
		return nil
	}

	deliveries, err := m.client.Subscribe(ctx, cfg.Topics)
	if err != nil {
		return err
	}
	m.logger.Info().Strs("topics", cfg.Topics).Msg("subscribed")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-deliveries:
			wg.Add(1)
			go func(d messaging.Delivery) {
				defer wg.Done()
				m.handle(ctx, d)
			}(d)
		}
	}
}

// handle runs one delivery through a fresh instance and settles it. A
// spawn failure means the message was never attempted, so it stays
// redeliverable; a guest failure is settled per policy.
func (m *Messaging) handle(ctx context.Context, d messaging.Delivery) {
	m.spawner.Runtime().Metrics.RecordTrigger("message")

	input, err := api.Encode(d.Msg)
	if err != nil {
		m.logger.Error().Str("topic", d.Msg.Topic).Err(err).Msg("encoding message")
		d.Nack()
		return
	}

	_, err = m.spawner.Handle(ctx, host.ExportMessageHandle, input)
	if err == nil {
		d.Ack()
		return
	}

	if errors.Is(err, host.ErrInstantiate) {
		m.logger.Warn().Str("topic", d.Msg.Topic).Err(err).Msg("instance start failed, nacking")
		d.Nack()
		return
	}

	if ge, ok := host.AsGuestError(err); ok {
		m.logger.Warn().
			Str("topic", d.Msg.Topic).
			Str("instance", ge.InstanceID).
			Bool("timeout", ge.Timeout).
			Err(ge.Err).
			Msg("guest handler failed")
	} else {
		m.logger.Warn().Str("topic", d.Msg.Topic).Err(err).Msg("guest handler failed")
	}

	if m.spawner.Runtime().Config.AckOnGuestError {
		d.Ack()
	} else {
		d.Nack()
	}
}
