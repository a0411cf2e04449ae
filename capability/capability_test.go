package capability

import (
	"testing"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest("keyvalue=sqlite, messaging=memory ,blobstore=fs")
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(m))
	}
	if m[0].Name != "keyvalue" || m[0].Backend != "sqlite" {
		t.Fatalf("unexpected first entry: %+v", m[0])
	}
	if m[1].Name != "messaging" || m[1].Backend != "memory" {
		t.Fatalf("unexpected second entry: %+v", m[1])
	}
}

func TestParseManifestEmpty(t *testing.T) {
	m, err := ParseManifest("")
	if err != nil {
		t.Fatalf("expected empty manifest to parse, got %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected no entries, got %v", m)
	}
}

func TestParseManifestRejectsMalformedEntries(t *testing.T) {
	if _, err := ParseManifest("keyvalue"); err == nil {
		t.Fatal("expected entry without backend to fail")
	}
	if _, err := ParseManifest("keyvalue=memory,keyvalue=sqlite"); err == nil {
		t.Fatal("expected duplicate capability to fail")
	}
	if _, err := ParseManifest("=memory"); err == nil {
		t.Fatal("expected empty name to fail")
	}
}

func TestPackUnpack(t *testing.T) {
	cases := []struct {
		ptr    uint32
		length int
	}{
		{0, 0},
		{1, 1},
		{4096, 512},
		{^uint32(0) - 1, int(^uint32(0) - 1)},
	}
	for _, c := range cases {
		ptr, length := Unpack(Pack(c.ptr, c.length))
		if ptr != c.ptr || int(length) != c.length {
			t.Fatalf("round trip of (%d, %d) gave (%d, %d)", c.ptr, c.length, ptr, length)
		}
	}

	// None is distinguishable from every real pointer/length pair.
	if ptr, length := Unpack(None); ptr != ^uint32(0) || length != ^uint32(0) {
		t.Fatalf("None unpacked to (%d, %d)", ptr, length)
	}
}
