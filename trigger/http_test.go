package trigger

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/host"
)

type fakeGuest struct {
	call func(ctx context.Context, export string, input []byte) ([]byte, error)
}

func (g *fakeGuest) Call(ctx context.Context, export string, input []byte) ([]byte, error) {
	return g.call(ctx, export, input)
}

func (g *fakeGuest) Close(ctx context.Context) error { return nil }

type fakeTemplate struct {
	instantiate func(ctx context.Context) (host.Guest, error)
}

func (t *fakeTemplate) Instantiate(ctx context.Context) (host.Guest, error) {
	return t.instantiate(ctx)
}

func guestTemplate(call func(ctx context.Context, export string, input []byte) ([]byte, error)) *fakeTemplate {
	return &fakeTemplate{instantiate: func(ctx context.Context) (host.Guest, error) {
		return &fakeGuest{call: call}, nil
	}}
}

func newTestSpawner(template host.Template, cfg host.Config) *host.Spawner {
	return host.NewSpawner(&host.RuntimeContext{
		Template: template,
		Config:   cfg,
		Logger:   zerolog.Nop(),
		Metrics:  host.NewMetrics(),
	})
}

func TestHTTPTriggerRoundTrip(t *testing.T) {
	template := guestTemplate(func(ctx context.Context, export string, input []byte) ([]byte, error) {
		if export != host.ExportHTTPHandle {
			t.Errorf("unexpected export %q", export)
		}
		var req api.HTTPRequest
		if err := api.Decode(input, &req); err != nil {
			return nil, err
		}
		return api.Encode(api.HTTPResponse{
			Status:  http.StatusCreated,
			Headers: map[string][]string{"X-Echo-Path": {req.Path}},
			Body:    req.Body,
		})
	})
	h := NewHTTP(newTestSpawner(template, host.Config{ExecTimeout: time.Second}), zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/orders?verbose=1", bytes.NewReader([]byte("payload")))
	h.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Echo-Path"); got != "/orders" {
		t.Fatalf("expected echoed path header, got %q", got)
	}
	if rr.Body.String() != "payload" {
		t.Fatalf("expected body passthrough, got %q", rr.Body.String())
	}
}

func TestHTTPGuestErrorMapsTo500(t *testing.T) {
	template := guestTemplate(func(ctx context.Context, export string, input []byte) ([]byte, error) {
		return nil, errors.New("guest trapped")
	})
	h := NewHTTP(newTestSpawner(template, host.Config{ExecTimeout: time.Second}), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestHTTPTimeoutMapsTo504(t *testing.T) {
	template := guestTemplate(func(ctx context.Context, export string, input []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := NewHTTP(newTestSpawner(template, host.Config{ExecTimeout: 20 * time.Millisecond}), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/slow", nil))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
}

func TestHTTPInstantiateFailureMapsTo503(t *testing.T) {
	template := &fakeTemplate{instantiate: func(ctx context.Context) (host.Guest, error) {
		return nil, errors.New("out of memory")
	}}
	h := NewHTTP(newTestSpawner(template, host.Config{ExecTimeout: time.Second}), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHTTPManagementRoutes(t *testing.T) {
	template := guestTemplate(func(ctx context.Context, export string, input []byte) ([]byte, error) {
		return nil, nil
	})
	spawner := newTestSpawner(template, host.Config{ExecTimeout: time.Second})
	h := NewHTTP(spawner, zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}

	// Management routes never spawn instances.
	if snap := spawner.Runtime().Metrics.Snapshot(); snap.Spawns != 0 {
		t.Fatalf("health check spawned %d instances", snap.Spawns)
	}

	rr = httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/internal/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("metrics: expected json, got %q", ct)
	}
}

func TestHTTPNoReplyMapsTo204(t *testing.T) {
	template := guestTemplate(func(ctx context.Context, export string, input []byte) ([]byte, error) {
		return nil, nil
	})
	h := NewHTTP(newTestSpawner(template, host.Config{ExecTimeout: time.Second}), zerolog.Nop())

	rr := httptest.NewRecorder()
	h.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/fire-and-forget", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}
