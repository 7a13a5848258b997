package bridged

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "upnpbridged.toml")
	data := []byte("" +
		"[server]\n" +
		"listen = \":9000\"\n" +
		"log_level = \"debug\"\n" +
		"\n" +
		"[discovery]\n" +
		"search_interval_s = 15\n" +
		"\n" +
		"[browse]\n" +
		"candidate_paths = [\"/custom/cd\"]\n" +
		"\n" +
		"[events]\n" +
		"enabled = true\n" +
		"broker = \"tcp://127.0.0.1:1883\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Fatalf("expected listen override, got %q", cfg.Server.Listen)
	}
	if cfg.Discovery.SearchIntervalS != 15 {
		t.Fatalf("expected search interval 15, got %d", cfg.Discovery.SearchIntervalS)
	}
	if len(cfg.Browse.CandidatePaths) != 1 || cfg.Browse.CandidatePaths[0] != "/custom/cd" {
		t.Fatalf("expected candidate path override, got %v", cfg.Browse.CandidatePaths)
	}
	if !cfg.Events.Enabled || cfg.Events.Broker != "tcp://127.0.0.1:1883" {
		t.Fatalf("unexpected events config: %+v", cfg.Events)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Listen != ":3847" {
		t.Fatalf("expected default listen, got %q", cfg.Server.Listen)
	}
	if cfg.Server.LogLevel != "info" || cfg.Server.LogFormat != "text" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Server)
	}
	if cfg.Discovery.SearchIntervalS != 30 {
		t.Fatalf("expected default search interval, got %d", cfg.Discovery.SearchIntervalS)
	}
	if cfg.EmbeddedMQTT.Listen != "127.0.0.1:1883" {
		t.Fatalf("expected default broker listen, got %q", cfg.EmbeddedMQTT.Listen)
	}
}

func TestListenHonorsBridgePortEnv(t *testing.T) {
	t.Setenv("BRIDGE_PORT", "9999")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Listen != ":9999" {
		t.Fatalf("expected BRIDGE_PORT to win, got %q", cfg.Server.Listen)
	}

	t.Setenv("BRIDGE_PORT", "not-a-port")
	cfg, err = LoadConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Listen != ":3847" {
		t.Fatalf("bad BRIDGE_PORT must fall back, got %q", cfg.Server.Listen)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path == "" {
		t.Fatalf("expected path")
	}
}
