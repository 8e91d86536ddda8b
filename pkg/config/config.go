package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/igorsilveira/caremesh/pkg/router"
)

type Config struct {
	Gateway GatewayConfig          `toml:"gateway"`
	Store   StoreConfig            `toml:"store"`
	Log     LogConfig              `toml:"log"`
	Tracing TracingConfig          `toml:"tracing"`
	Metrics MetricsConfig          `toml:"metrics"`
	Backend BackendConfig          `toml:"backend"`
	Router  RouterConfig           `toml:"router"`
	Agents  map[string]AgentConfig `toml:"agents"`
}

type GatewayConfig struct {
	Bind        string `toml:"bind"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"`
	ExternalURL string `toml:"external_url"`
}

type StoreConfig struct {
	DSN string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// BackendConfig selects how the data agent reaches the record backend:
// "inprocess" shares the gateway's database, "http" dials a streamable
// HTTP endpoint and "command" spawns a stdio server.
type BackendConfig struct {
	Mode    string            `toml:"mode"`
	URL     string            `toml:"url"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Timeout string            `toml:"timeout"`
}

type RouterConfig struct {
	CallTimeout string        `toml:"call_timeout"`
	Fallback    string        `toml:"fallback"`
	Rules       []router.Rule `toml:"rules"`
}

// AgentConfig points the router at a remote agent. An agent without a URL
// runs in process.
type AgentConfig struct {
	URL       string `toml:"url"`
	AuthToken string `toml:"auth_token"`
}

const (
	BackendInProcess = "inprocess"
	BackendHTTP      = "http"
	BackendCommand   = "command"
)

func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Bind: "loopback",
			Port: 8010,
		},
		Store: StoreConfig{
			DSN: filepath.Join(DataDir(), "caremesh.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Backend: BackendConfig{
			Mode:    BackendInProcess,
			Timeout: "10s",
		},
		Router: RouterConfig{
			CallTimeout: "30s",
			Fallback:    router.AgentTriage,
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Store.DSN == "" {
		cfg.Store.DSN = filepath.Join(DataDir(), "caremesh.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendInProcess:
	case BackendHTTP:
		if c.Backend.URL == "" {
			return fmt.Errorf("config: backend mode http needs backend.url")
		}
	case BackendCommand:
		if c.Backend.Command == "" {
			return fmt.Errorf("config: backend mode command needs backend.command")
		}
	default:
		return fmt.Errorf("config: unknown backend mode %q", c.Backend.Mode)
	}
	if _, err := parseDuration(c.Backend.Timeout); err != nil {
		return fmt.Errorf("config: backend.timeout: %w", err)
	}
	if _, err := parseDuration(c.Router.CallTimeout); err != nil {
		return fmt.Errorf("config: router.call_timeout: %w", err)
	}
	return nil
}

func (c *Config) BackendTimeout() time.Duration {
	d, _ := parseDuration(c.Backend.Timeout)
	return d
}

func (c *Config) CallTimeout() time.Duration {
	d, _ := parseDuration(c.Router.CallTimeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("CAREMESH_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".caremesh"
	}
	return filepath.Join(home, ".caremesh")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "caremesh.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}
