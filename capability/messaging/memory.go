package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
)

// Memory returns a factory for the in-process broker. The default backend
// for single-process deployments and tests.
func Memory() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return New(NewBroker(), logger), nil
	}
}

// Broker is an in-process at-least-once pub/sub broker. Published messages
// fan out to every subscription whose topic set matches; a nacked delivery
// is redelivered to the same subscription.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscription)}
}

type subscription struct {
	topics map[string]bool
	ch     chan Delivery
	done   <-chan struct{}
}

// Publish implements Client.
func (b *Broker) Publish(ctx context.Context, msg api.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker closed")
	}
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.topics[msg.Topic] {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, msg)
	}
	return nil
}

// deliver queues one delivery, wiring Nack to requeue the same message.
func (b *Broker) deliver(sub *subscription, msg api.Message) {
	d := Delivery{
		Msg: msg,
		Ack: func() {},
		Nack: func() {
			// Redeliver asynchronously so a consumer can nack from its
			// own receive loop without deadlocking.
			go b.deliver(sub, msg)
		},
	}
	select {
	case sub.ch <- d:
	case <-sub.done:
	}
}

// Subscribe implements Client.
func (b *Broker) Subscribe(ctx context.Context, topics []string) (<-chan Delivery, error) {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}

	sub := &subscription{
		topics: set,
		ch:     make(chan Delivery, 64),
		done:   ctx.Done(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("broker closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		// The channel is left open; in-flight deliveries select on done
		// and give up. Consumers stop via their own context.
	}()

	return sub.ch, nil
}

// Close implements Client.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
