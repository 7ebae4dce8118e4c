package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
gateway:
  url: ws://127.0.0.1:9000/ws
  country_code: "62"
  send_timeout: 10s
server:
  listen: 127.0.0.1:8077
history:
  path: /tmp/wablast-test.db
  retention: 24h
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Gateway.URL != "ws://127.0.0.1:9000/ws" || cfg.Gateway.CountryCode != "62" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Server.Listen != "127.0.0.1:8077" {
		t.Errorf("server = %+v", cfg.Server)
	}

	gw, err := cfg.Gateway.Wsgate()
	if err != nil {
		t.Fatal(err)
	}
	if gw.SendTimeout != 10*time.Second {
		t.Errorf("send timeout = %v, want 10s", gw.SendTimeout)
	}
	if gw.PingEvery != 25*time.Second {
		t.Errorf("ping default = %v, want 25s", gw.PingEvery)
	}

	h, err := cfg.History.History()
	if err != nil {
		t.Fatal(err)
	}
	if h.Path != "/tmp/wablast-test.db" || h.Retention != 24*time.Hour {
		t.Errorf("history = %+v", h)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "gateway": {"url": "ws://127.0.0.1:9000/ws"},
  "server": {"listen": "127.0.0.1:8077"}
}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.URL == "" {
		t.Error("gateway url not parsed")
	}
	if cfg.History != nil {
		t.Error("missing history section should stay nil")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
gatway:
  url: ws://127.0.0.1:9000/ws
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("misspelled section should be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
gateway:
  url: ws://127.0.0.1:9000/ws
  send_timeout: soon
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Gateway.Wsgate(); err == nil {
		t.Fatal("invalid duration should be rejected at conversion")
	}
}

func TestHistoryNilSection(t *testing.T) {
	t.Parallel()
	var h *HistoryConfig
	cfg, err := h.History()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Path != "" {
		t.Errorf("nil section should produce a disabled store config, got %+v", cfg)
	}
}
