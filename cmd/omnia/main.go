// Command omnia runs a WebAssembly component with its declared capability
// backends linked in. Usage:
//
//	omnia [flags] component.wasm
//
// The capability manifest comes from OMNIA_CAPABILITIES (name=backend
// pairs); everything else is configured through OMNIA_* variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/capability"
	"github.com/futureforging/omnia/capability/blobstore"
	"github.com/futureforging/omnia/capability/guestconfig"
	"github.com/futureforging/omnia/capability/identity"
	"github.com/futureforging/omnia/capability/keyvalue"
	"github.com/futureforging/omnia/capability/messaging"
	"github.com/futureforging/omnia/capability/sqldb"
	"github.com/futureforging/omnia/capability/telemetry"
	"github.com/futureforging/omnia/capability/vault"
	"github.com/futureforging/omnia/host"
	"github.com/futureforging/omnia/trigger"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("service", "omnia").Logger().
		Level(level)

	if flag.NArg() != 1 {
		logger.Fatal().Msg("usage: omnia [flags] component.wasm")
	}
	wasmPath := flag.Arg(0)

	if err := run(wasmPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("runtime exited")
	}
}

func run(wasmPath string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := host.ConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.Component == "" {
		cfg.Component = strings.TrimSuffix(filepath.Base(wasmPath), filepath.Ext(wasmPath))
	}
	logger = logger.With().Str("component", cfg.Component).Logger()
	logger.Info().Str("version", version).Str("commit", commit).Msg("starting")

	shutdownTracer, err := host.InitTracer(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	manifest, err := capability.ParseManifest(os.Getenv("OMNIA_CAPABILITIES"))
	if err != nil {
		return fmt.Errorf("%w: OMNIA_CAPABILITIES: %v", host.ErrConfig, err)
	}

	engine, err := host.NewEngine(ctx, host.EngineOptions{CacheDir: cfg.CacheDir})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close(context.Background()) }()

	compiled, err := engine.CompileFile(ctx, wasmPath)
	if err != nil {
		return err
	}

	caps, err := host.ConnectAll(ctx, logger, manifest, registry(), cfg)
	if err != nil {
		return err
	}

	template, err := host.Link(ctx, engine, compiled, caps)
	if err != nil {
		for _, c := range caps {
			_ = c.Close(ctx)
		}
		return err
	}

	rc := &host.RuntimeContext{
		Template:     template,
		Capabilities: caps,
		Config:       cfg,
		Logger:       logger,
		Metrics:      host.NewMetrics(),
	}
	defer rc.Close(context.Background())

	spawner := host.NewSpawner(rc)

	dispatchers := []trigger.Dispatcher{
		trigger.NewHTTP(spawner, logger),
		trigger.NewWebSocket(spawner, logger),
	}
	if c, ok := rc.Capability(messaging.Name); ok {
		mc, ok := c.(*messaging.Capability)
		if !ok {
			return errors.New("messaging capability has unexpected type")
		}
		dispatchers = append(dispatchers, trigger.NewMessaging(mc.Client(), spawner, logger))
	}

	trigger.Serve(ctx, logger, dispatchers...)
	logger.Info().Msg("shutting down")
	return nil
}

// registry lists every built-in backend. A deployment's manifest picks from
// these; unknown pairs fail at startup with a link error.
func registry() *host.Registry {
	reg := host.NewRegistry()
	reg.Register(keyvalue.Name, "memory", keyvalue.Memory())
	reg.Register(keyvalue.Name, "sqlite", keyvalue.SQLite())
	reg.Register(messaging.Name, "memory", messaging.Memory())
	reg.Register(blobstore.Name, "memory", blobstore.Memory())
	reg.Register(blobstore.Name, "fs", blobstore.Filesystem())
	reg.Register(sqldb.Name, "sqlite", sqldb.SQLite())
	reg.Register(vault.Name, "env", vault.Env())
	reg.Register(identity.Name, "jwt", identity.JWT())
	reg.Register(telemetry.Name, "otel", telemetry.Otel())
	reg.Register(guestconfig.Name, "env", guestconfig.Env())
	return reg
}
