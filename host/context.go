package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/capability"
)

// RuntimeContext is the process-wide, read-only state shared by every
// concurrent instance: the component template, one connected backend per
// configured capability, and global configuration. Built once at startup
// after all backends connect; never mutated afterwards. Backend-internal
// state may still change behind each backend's own synchronization.
type RuntimeContext struct {
	Template     Template
	Capabilities map[string]capability.Capability
	Config       Config
	Logger       zerolog.Logger
	Metrics      *Metrics
}

// Capability returns the connected backend for a capability name.
func (rc *RuntimeContext) Capability(name string) (capability.Capability, bool) {
	c, ok := rc.Capabilities[name]
	return c, ok
}

// Close shuts down all backend connections. Called once at process exit.
func (rc *RuntimeContext) Close(ctx context.Context) {
	for name, c := range rc.Capabilities {
		if err := c.Close(ctx); err != nil {
			rc.Logger.Warn().Str("capability", name).Err(err).Msg("closing backend")
		}
	}
}

// ConnectAll resolves every manifest entry to a factory and connects all
// backends concurrently, retrying each with exponential backoff up to the
// configured attempt ceiling. Either every backend connects or startup
// fails: a missing backend for a declared capability is a configuration
// error, never a degraded mode.
func ConnectAll(ctx context.Context, logger zerolog.Logger, manifest capability.Manifest,
	reg *Registry, cfg Config) (map[string]capability.Capability, error) {

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// Resolve all factories before dialing anything, so a manifest typo
	// fails fast without half-connecting.
	factories := make(map[string]capability.Factory, len(manifest))
	for _, spec := range manifest {
		f, err := reg.Factory(spec)
		if err != nil {
			return nil, err
		}
		factories[spec.Name] = f
	}

	type result struct {
		name string
		cap  capability.Capability
		err  error
	}

	results := make(chan result, len(manifest))
	var wg sync.WaitGroup
	for _, spec := range manifest {
		wg.Add(1)
		go func(spec capability.Spec) {
			defer wg.Done()
			c, err := connectOne(ctx, logger, spec, factories[spec.Name], cfg)
			results <- result{name: spec.Name, cap: c, err: err}
		}(spec)
	}
	wg.Wait()
	close(results)

	caps := make(map[string]capability.Capability, len(manifest))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		caps[res.name] = res.cap
	}
	if firstErr != nil {
		// Do not start partially connected; close what did come up.
		for _, c := range caps {
			_ = c.Close(ctx)
		}
		return nil, firstErr
	}
	return caps, nil
}

func connectOne(ctx context.Context, logger zerolog.Logger, spec capability.Spec,
	f capability.Factory, cfg Config) (capability.Capability, error) {

	attempt := 0
	op := func() (capability.Capability, error) {
		attempt++
		c, err := f(ctx, logger)
		if err != nil {
			logger.Warn().
				Str("capability", spec.Name).
				Str("backend", spec.Backend).
				Int("attempt", attempt).
				Err(err).
				Msg("backend connect failed")
		}
		return c, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ConnectBackoff
	bo.MaxInterval = 30 * time.Second

	c, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.ConnectAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: capability %q backend %q after %d attempts: %v",
			ErrConnect, spec.Name, spec.Backend, attempt, err)
	}
	logger.Info().
		Str("capability", spec.Name).
		Str("backend", spec.Backend).
		Int("attempts", attempt).
		Msg("backend connected")
	return c, nil
}
