package host

import (
	"errors"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.SocketAddr != ":8081" {
		t.Fatalf("unexpected default addrs: %q %q", cfg.HTTPAddr, cfg.SocketAddr)
	}
	if cfg.ExecTimeout != 30*time.Second {
		t.Fatalf("unexpected default exec timeout: %v", cfg.ExecTimeout)
	}
	if cfg.ConnectAttempts != 5 {
		t.Fatalf("unexpected default connect attempts: %d", cfg.ConnectAttempts)
	}
	if !cfg.AckOnGuestError {
		t.Fatal("expected ack-on-guest-error to default on")
	}
}

func TestConfigOverrides(t *testing.T) {
	t.Setenv("OMNIA_HTTP_ADDR", ":9000")
	t.Setenv("OMNIA_EXEC_TIMEOUT", "5s")
	t.Setenv("OMNIA_CONNECT_ATTEMPTS", "2")
	t.Setenv("OMNIA_ACK_ON_GUEST_ERROR", "false")
	t.Setenv("OMNIA_TOPICS", "orders, payments ,")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("addr override ignored: %q", cfg.HTTPAddr)
	}
	if cfg.ExecTimeout != 5*time.Second {
		t.Fatalf("timeout override ignored: %v", cfg.ExecTimeout)
	}
	if cfg.ConnectAttempts != 2 {
		t.Fatalf("attempts override ignored: %d", cfg.ConnectAttempts)
	}
	if cfg.AckOnGuestError {
		t.Fatal("ack policy override ignored")
	}
	if len(cfg.Topics) != 2 || cfg.Topics[0] != "orders" || cfg.Topics[1] != "payments" {
		t.Fatalf("unexpected topics: %v", cfg.Topics)
	}
	if cfg.TraceEndpoint != "http://localhost:4318" {
		t.Fatalf("trace endpoint not picked up: %q", cfg.TraceEndpoint)
	}
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("OMNIA_EXEC_TIMEOUT", "soon")
	if _, err := ConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad duration, got %v", err)
	}
	t.Setenv("OMNIA_EXEC_TIMEOUT", "")

	t.Setenv("OMNIA_CONNECT_ATTEMPTS", "0")
	if _, err := ConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero attempts, got %v", err)
	}
}
