package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models swarmline.yml.
type Config struct {
	Agent struct {
		Name          string `yaml:"name"`
		Endpoint      string `yaml:"endpoint"`
		SigningSecret string `yaml:"signing_secret,omitempty"`
	} `yaml:"agent"`
	// Peers is the full candidate endpoint set for the multi-endpoint task
	// scan, in scan order. Assignment records propagate by best-effort
	// broadcast and may surface at any of these before the local one.
	Peers   []string `yaml:"peers"`
	Console struct {
		Addr   string `yaml:"addr,omitempty"`
		Secret string `yaml:"secret,omitempty"`
	} `yaml:"console"`
	Coordinator struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"coordinator"`
	Timing Timing `yaml:"timing,omitempty"`
}

// Timing overrides the driver's poll intervals and deadlines, in seconds.
// Zero means the built-in default (the protocol's historical values).
type Timing struct {
	StatusPollSeconds          int `yaml:"status_poll_seconds,omitempty"`
	SettleSeconds              int `yaml:"settle_seconds,omitempty"`
	MonitorPollSeconds         int `yaml:"monitor_poll_seconds,omitempty"`
	CycleDeadlineSeconds       int `yaml:"cycle_deadline_seconds,omitempty"`
	ExecutorDeadlineSeconds    int `yaml:"executor_deadline_seconds,omitempty"`
	CoordinatorDeadlineSeconds int `yaml:"coordinator_deadline_seconds,omitempty"`
	ScanTimeoutSeconds         int `yaml:"scan_timeout_seconds,omitempty"`
}

// Duration converts a seconds override, falling back to def when unset.
func Duration(seconds int, def time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Name) == "" {
		return fmt.Errorf("config.agent.name is required")
	}
	if strings.TrimSpace(c.Agent.Endpoint) == "" {
		return fmt.Errorf("config.agent.endpoint is required")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config.peers must list at least one endpoint")
	}
	for i, p := range c.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config.peers[%d] is empty", i)
		}
	}
	if c.Coordinator.MaxDepth < 1 {
		return fmt.Errorf("config.coordinator.max_depth must be >= 1")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "swarmline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sw config init", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when no file exists.
func LoadOptional(workspace, agentName string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(agentName), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config for an agent name: local connector on
// the first well-known port, the historical even-port scan range as peers.
func Default(agentName string) *Config {
	var cfg Config
	cfg.Agent.Name = agentName
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "agent"
	}
	if cfg.Agent.Endpoint == "" {
		cfg.Agent.Endpoint = "127.0.0.1:9370"
	}
	if len(cfg.Peers) == 0 {
		cfg.Peers = DefaultPeers()
	}
	if cfg.Coordinator.MaxDepth == 0 {
		cfg.Coordinator.MaxDepth = 8
	}
}

// DefaultPeers returns the even-numbered connector port range 9370-9408.
func DefaultPeers() []string {
	var peers []string
	for port := 9370; port < 9410; port += 2 {
		peers = append(peers, fmt.Sprintf("127.0.0.1:%d", port))
	}
	return peers
}

// GenerateDefault returns default config YAML for sw config init.
func GenerateDefault(agentName string) string {
	out, _ := yaml.Marshal(Default(agentName))
	return string(out)
}
