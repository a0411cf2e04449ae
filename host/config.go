package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime's startup configuration. Every option has a
// default and an environment override; backend-specific options (connection
// URLs, credentials) are read by the backend factories themselves.
type Config struct {
	// Component is the service name used for logging and telemetry.
	// OMNIA_COMPONENT; defaults to the wasm file's base name.
	Component string

	// HTTPAddr is the HTTP dispatcher listen address. OMNIA_HTTP_ADDR.
	HTTPAddr string

	// SocketAddr is the websocket dispatcher listen address. OMNIA_WS_ADDR.
	SocketAddr string

	// ExecTimeout bounds each instance execution. OMNIA_EXEC_TIMEOUT.
	ExecTimeout time.Duration

	// ConnectAttempts is the per-backend connect retry ceiling.
	// OMNIA_CONNECT_ATTEMPTS.
	ConnectAttempts int

	// ConnectBackoff is the initial retry interval; subsequent retries
	// back off exponentially. OMNIA_CONNECT_BACKOFF.
	ConnectBackoff time.Duration

	// CacheDir enables the compilation cache used to cut cold-start
	// latency; compiled machine code is reused across processes.
	// OMNIA_CACHE_DIR; empty disables caching.
	CacheDir string

	// TraceEndpoint enables OTLP trace export when set. Read from the
	// standard OTEL_EXPORTER_OTLP_ENDPOINT variable; the exporter picks
	// up the rest of its options from the same family.
	TraceEndpoint string

	// Topics are the messaging subscriptions for this deployment.
	// OMNIA_TOPICS, comma-separated.
	Topics []string

	// AckOnGuestError controls the messaging failure policy: true
	// acknowledges messages whose guest handler failed (after logging),
	// false nacks them for redelivery. OMNIA_ACK_ON_GUEST_ERROR.
	AckOnGuestError bool
}

// ConfigFromEnv builds a Config from the environment, applying defaults.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Component:     os.Getenv("OMNIA_COMPONENT"),
		HTTPAddr:      envString("OMNIA_HTTP_ADDR", ":8080"),
		SocketAddr:    envString("OMNIA_WS_ADDR", ":8081"),
		CacheDir:      os.Getenv("OMNIA_CACHE_DIR"),
		TraceEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.ExecTimeout, err = envDuration("OMNIA_EXEC_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts, err = envInt("OMNIA_CONNECT_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.ConnectAttempts < 1 {
		return Config{}, fmt.Errorf("%w: OMNIA_CONNECT_ATTEMPTS must be >= 1", ErrConfig)
	}
	if cfg.ConnectBackoff, err = envDuration("OMNIA_CONNECT_BACKOFF", 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.AckOnGuestError, err = envBool("OMNIA_ACK_ON_GUEST_ERROR", true); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("OMNIA_TOPICS"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Topics = append(cfg.Topics, t)
			}
		}
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrConfig, key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrConfig, key, v)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrConfig, key, v)
	}
	return b, nil
}
