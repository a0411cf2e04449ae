package host

import (
	"context"
	"testing"
)

func TestInitTracerNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(Config{Component: "demo"})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function even without an endpoint")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned %v", err)
	}
}
