package guestconfig

import (
	"context"
	"testing"
)

func TestEnvProviderKeyMapping(t *testing.T) {
	t.Setenv("OMNIA_GUEST_LOG_LEVEL", "debug")
	t.Setenv("OMNIA_GUEST_FEATURE_FLAGS", "a,b")

	p := envProvider{}
	ctx := context.Background()

	v, ok, err := p.Get(ctx, "log-level")
	if err != nil || !ok || v != "debug" {
		t.Fatalf("Get(log-level) = %q, %v, %v", v, ok, err)
	}

	// Underscore keys map the same way.
	v, ok, _ = p.Get(ctx, "feature_flags")
	if !ok || v != "a,b" {
		t.Fatalf("Get(feature_flags) = %q, %v", v, ok)
	}

	if _, ok, _ := p.Get(ctx, "unset"); ok {
		t.Fatal("expected miss for unset key")
	}
}
