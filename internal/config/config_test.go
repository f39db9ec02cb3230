package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"swarmline/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default("peer-3")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Agent.Name != "peer-3" || cfg.Agent.Endpoint != "127.0.0.1:9370" {
		t.Fatalf("bad agent defaults: %+v", cfg.Agent)
	}
	if cfg.Coordinator.MaxDepth != 8 {
		t.Fatalf("want max depth 8, got %d", cfg.Coordinator.MaxDepth)
	}
}

func TestDefaultPeers(t *testing.T) {
	peers := config.DefaultPeers()
	if len(peers) != 20 {
		t.Fatalf("want 20 candidate endpoints, got %d", len(peers))
	}
	if peers[0] != "127.0.0.1:9370" || peers[19] != "127.0.0.1:9408" {
		t.Fatalf("bad range: %s .. %s", peers[0], peers[19])
	}
	for _, p := range peers {
		if strings.HasSuffix(p, "1") || strings.HasSuffix(p, "3") || strings.HasSuffix(p, "5") || strings.HasSuffix(p, "7") || strings.HasSuffix(p, "9") {
			t.Fatalf("odd port in scan range: %s", p)
		}
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
agent:
  name: peer-2
  endpoint: 127.0.0.1:9372
peers:
  - 127.0.0.1:9370
  - 127.0.0.1:9372
coordinator:
  max_depth: 3
timing:
  settle_seconds: 2
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Agent.Endpoint != "127.0.0.1:9372" || len(cfg.Peers) != 2 || cfg.Coordinator.MaxDepth != 3 {
		t.Fatalf("bad config: %+v", cfg)
	}
	if got := config.Duration(cfg.Timing.SettleSeconds, 20*time.Second); got != 2*time.Second {
		t.Fatalf("timing override lost: %s", got)
	}
	if got := config.Duration(cfg.Timing.MonitorPollSeconds, 15*time.Second); got != 15*time.Second {
		t.Fatalf("unset timing must fall back: %s", got)
	}
}

func TestFromYAMLInvalid(t *testing.T) {
	if _, err := config.FromYAML([]byte("agent: [")); err == nil {
		t.Fatal("want parse error")
	}
	// Defaults fill name/endpoint/peers, but a bad explicit value still fails.
	if _, err := config.FromYAML([]byte("coordinator:\n  max_depth: -1\n")); err == nil {
		t.Fatal("want validation error for negative depth")
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default("peer-1")
	cfg.Peers = []string{"127.0.0.1:9370", "  "}
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank peer must fail validation")
	}
	cfg = config.Default("peer-1")
	cfg.Agent.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing name must fail validation")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir, "peer-9")
	if err != nil {
		t.Fatalf("missing file must yield defaults: %v", err)
	}
	if cfg.Agent.Name != "peer-9" {
		t.Fatalf("agent name not applied: %s", cfg.Agent.Name)
	}

	path := filepath.Join(dir, "swarmline.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("peer-5")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir, "ignored")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Name != "peer-5" {
		t.Fatalf("file config not honored: %s", cfg.Agent.Name)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	if _, err := config.FromYAML([]byte(config.GenerateDefault("peer-1"))); err != nil {
		t.Fatalf("generated config must parse: %v", err)
	}
}
