package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/futureforging/omnia/capability"
)

type stubCapability struct {
	name   string
	closed atomic.Int32
}

func (c *stubCapability) Name() string { return c.name }

func (c *stubCapability) Register(ctx context.Context, rt wazero.Runtime) error { return nil }

func (c *stubCapability) Close(ctx context.Context) error {
	c.closed.Add(1)
	return nil
}

func connectConfig(attempts int) Config {
	return Config{ConnectAttempts: attempts, ConnectBackoff: time.Millisecond}
}

func TestConnectAllRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	reg := NewRegistry()
	reg.Register("keyvalue", "flaky", func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return &stubCapability{name: "keyvalue"}, nil
	})

	manifest := capability.Manifest{{Name: "keyvalue", Backend: "flaky"}}
	caps, err := ConnectAll(context.Background(), zerolog.Nop(), manifest, reg, connectConfig(5))
	if err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected success on attempt 3, got %d attempts", attempts.Load())
	}
	if _, ok := caps["keyvalue"]; !ok {
		t.Fatal("expected keyvalue in connected set")
	}
}

func TestConnectAllExhaustsRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	reg := NewRegistry()
	reg.Register("keyvalue", "down", func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})

	manifest := capability.Manifest{{Name: "keyvalue", Backend: "down"}}
	_, err := ConnectAll(context.Background(), zerolog.Nop(), manifest, reg, connectConfig(3))
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts.Load())
	}
}

func TestConnectAllClosesPartialSetOnFailure(t *testing.T) {
	healthy := &stubCapability{name: "keyvalue"}
	reg := NewRegistry()
	reg.Register("keyvalue", "memory", func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return healthy, nil
	})
	reg.Register("messaging", "down", func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return nil, errors.New("connection refused")
	})

	manifest := capability.Manifest{
		{Name: "keyvalue", Backend: "memory"},
		{Name: "messaging", Backend: "down"},
	}
	_, err := ConnectAll(context.Background(), zerolog.Nop(), manifest, reg, connectConfig(2))
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if healthy.closed.Load() != 1 {
		t.Fatal("expected connected backend to be closed after sibling failure")
	}
}

func TestConnectAllFailsFastOnManifestTypo(t *testing.T) {
	var dialed atomic.Int32
	reg := NewRegistry()
	reg.Register("keyvalue", "memory", func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		dialed.Add(1)
		return &stubCapability{name: "keyvalue"}, nil
	})

	manifest := capability.Manifest{
		{Name: "keyvalue", Backend: "memory"},
		{Name: "keyvalue", Backend: "memory"},
	}
	_, err := ConnectAll(context.Background(), zerolog.Nop(), manifest, reg, connectConfig(2))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for duplicate manifest entry, got %v", err)
	}
	if dialed.Load() != 0 {
		t.Fatal("expected no dialing when the manifest is invalid")
	}

	manifest = capability.Manifest{{Name: "blobstore", Backend: "s3"}}
	_, err = ConnectAll(context.Background(), zerolog.Nop(), manifest, reg, connectConfig(2))
	if !errors.Is(err, ErrLink) {
		t.Fatalf("expected ErrLink for unregistered capability, got %v", err)
	}
	if dialed.Load() != 0 {
		t.Fatal("expected no dialing on resolution failure")
	}
}
