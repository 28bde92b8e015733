// Package config carga la configuración de traderd desde un archivo YAML
// más overrides de variables de entorno, grounded en config/config.go del
// repo teacher (mismo patrón: gopkg.in/yaml.v3 + github.com/joho/godotenv,
// defaults aplicados después del override de entorno).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de traderd.
type Config struct {
	State     StateConfig     `yaml:"state"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Audit     AuditConfig     `yaml:"audit"`
	AdminIPC  AdminIPCConfig  `yaml:"admin_ipc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Venue     VenueConfig     `yaml:"venue"`
	Log       LogConfig       `yaml:"log"`
}

// StateConfig controla al state manager (§4.1).
type StateConfig struct {
	StaleAfterMs        int `yaml:"stale_after_ms"`
	SnapshotIntervalMs  int `yaml:"snapshot_interval_ms"`
	Workers             int `yaml:"workers"`
}

func (c StateConfig) StaleAfter() time.Duration       { return time.Duration(c.StaleAfterMs) * time.Millisecond }
func (c StateConfig) SnapshotInterval() time.Duration { return time.Duration(c.SnapshotIntervalMs) * time.Millisecond }

// ArbiterConfig controla al arbiter (§4.2).
type ArbiterConfig struct {
	LeaseDurationMs int `yaml:"lease_duration_ms"`
}

func (c ArbiterConfig) LeaseDuration() time.Duration { return time.Duration(c.LeaseDurationMs) * time.Millisecond }

// RiskConfig controla al risk governor (§4.3).
type RiskConfig struct {
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDrawdownUSD       float64 `yaml:"max_drawdown_usd"`
	CooldownSeconds      int     `yaml:"cooldown_seconds"`
	PerMarketCapUSD      float64 `yaml:"per_market_cap_usd"`
	PerStrategyCapUSD    float64 `yaml:"per_strategy_cap_usd"`
}

func (c RiskConfig) CooldownDuration() time.Duration { return time.Duration(c.CooldownSeconds) * time.Second }

// ExecutionConfig controla al execution manager (§4.4).
type ExecutionConfig struct {
	FeeRate float64 `yaml:"fee_rate"`
}

// AuditConfig controla al audit writer (§4.5).
type AuditConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// AdminIPCConfig controla el canal de administración (§6).
type AdminIPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// MetricsConfig controla el endpoint de métricas (§6).
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// VenueConfig controla la conexión al venue adapter.
type VenueConfig struct {
	WSURL   string `yaml:"ws_url"`
	RESTURL string `yaml:"rest_url"`
	APIKey  string `yaml:"api_key"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están
// presentes, siguiendo el esquema de nombres de original_source/services's
// DB_URL/ADMIN_SOCKET/METRICS_ADDR.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("ADMIN_SOCKET"); v != "" {
		cfg.AdminIPC.SocketPath = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos,
// replicando los defaults de original_source/services/traderd's clap Args
// (DEFAULT_SOCKET_PATH = /tmp/traderd.sock, METRICS_ADDR = 127.0.0.1:9109).
func setDefaults(cfg *Config) {
	if cfg.State.StaleAfterMs <= 0 {
		cfg.State.StaleAfterMs = 2000
	}
	if cfg.State.SnapshotIntervalMs <= 0 {
		cfg.State.SnapshotIntervalMs = 500
	}
	if cfg.Arbiter.LeaseDurationMs <= 0 {
		cfg.Arbiter.LeaseDurationMs = 3000
	}
	if cfg.Risk.MaxConsecutiveLosses <= 0 {
		cfg.Risk.MaxConsecutiveLosses = 5
	}
	if cfg.Risk.CooldownSeconds <= 0 {
		cfg.Risk.CooldownSeconds = 300
	}
	if cfg.Execution.FeeRate <= 0 {
		cfg.Execution.FeeRate = 0.02
	}
	if cfg.Audit.DSN == "" {
		cfg.Audit.DSN = "traderd.db"
	}
	if cfg.AdminIPC.SocketPath == "" {
		cfg.AdminIPC.SocketPath = "/tmp/traderd.sock"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9109"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
