package agent

import "testing"

func TestSaveAndLoadConnectionExcludesToken(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Config{
		ServerHost: "vps.example.com",
		ServerPort: 7000,
		Token:      "super-secret",
		LocalHost:  "127.0.0.1",
		LocalPort:  8080,
	}

	if err := SaveConnection(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConnection()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ServerHost != cfg.ServerHost || loaded.ServerPort != cfg.ServerPort ||
		loaded.LocalHost != cfg.LocalHost || loaded.LocalPort != cfg.LocalPort {
		t.Fatalf("loaded config mismatch: %+v", loaded)
	}
	if loaded.Token != "" {
		t.Fatalf("expected token to not be persisted, got %q", loaded.Token)
	}
}

func TestLoadConnectionMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if _, err := LoadConnection(); err == nil {
		t.Fatalf("expected error when no connection file has been saved")
	}
}
