// Package trigger contains the protocol front ends: each dispatcher
// receives external events, spawns one instance per trigger through the
// kernel, and maps instance results back to protocol responses.
package trigger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Dispatcher is one protocol front end.
type Dispatcher interface {
	Name() string

	// Run serves until the context is cancelled. A returned error means
	// this dispatcher stopped; others keep running.
	Run(ctx context.Context) error
}

// Serve runs all dispatchers concurrently and blocks until the context is
// cancelled. A dispatcher failing is logged but never stops its siblings.
func Serve(ctx context.Context, logger zerolog.Logger, dispatchers ...Dispatcher) {
	var wg sync.WaitGroup
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d Dispatcher) {
			defer wg.Done()
			logger.Info().Str("dispatcher", d.Name()).Msg("dispatcher starting")
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Str("dispatcher", d.Name()).Err(err).Msg("dispatcher stopped")
			}
		}(d)
	}
	wg.Wait()
}
