package mqttserver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildTLSConfigEmpty(t *testing.T) {
	cfg, err := BuildTLSConfig("", "", "")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}

func TestBuildTLSConfigRequiresPair(t *testing.T) {
	if _, err := BuildTLSConfig("", "cert.pem", ""); err == nil {
		t.Fatalf("expected pair error")
	}
}

func TestBuildTLSConfigBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := BuildTLSConfig(path, "", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := truncatePayload([]byte(long))
	if len(got) != 2048+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation length %d", len(got))
	}
}
