package broker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"bind":"0.0.0.0","control":7000,"port-min":10000,"port-max":11000,"token":"secret","quiet":true,"chunk":8192}`)

	var cfg Config
	if err := ParseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("ParseJSONConfig returned error: %v", err)
	}

	if cfg.Bind != "0.0.0.0" || cfg.Control != 7000 {
		t.Fatalf("unexpected bind/control: %+v", cfg)
	}
	if cfg.PortMin != 10000 || cfg.PortMax != 11000 {
		t.Fatalf("unexpected port range: %+v", cfg)
	}
	if cfg.Token != "secret" || !cfg.Quiet || cfg.Chunk != 8192 {
		t.Fatalf("unexpected fields: %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := ParseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
