package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Workforce Control Plane - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Budget    BudgetConfig    `yaml:"budget"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// StoreConfig selects the durable store's dialect and connection string.
type StoreConfig struct {
	Dialect string `yaml:"dialect"` // sqlite | postgres | mysql
	DSN     string `yaml:"dsn"`
}

// LifecycleConfig tunes the Agent Lifecycle Manager's Health Loop.
type LifecycleConfig struct {
	HealthCheckIntervalSec int `yaml:"health_check_interval_sec"`
	DegradedThreshold      int `yaml:"degraded_threshold"`
	UnhealthyThreshold     int `yaml:"unhealthy_threshold"`
}

// SchedulerConfig tunes the Workforce Scheduler's tick cadence.
type SchedulerConfig struct {
	TickIntervalSec int `yaml:"tick_interval_sec"`
}

// ApprovalConfig carries the Approval Workflow's fallback policy.
type ApprovalConfig struct {
	DefaultTimeoutMinutes int  `yaml:"default_timeout_minutes"`
	DefaultAutoDeny       bool `yaml:"default_auto_deny"`
}

// BudgetConfig carries the Budget Meter's alert threshold.
type BudgetConfig struct {
	WarningThresholdPct float64 `yaml:"warning_threshold_pct"`
}

// RedisConfig is optional — when Addr is empty the Event Bus runs
// in-process only, with no Redis bridge, matching the teacher's own
// "falling back to in-memory" startup pattern.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("WORKFORCE_ENV", c.Server.Env)
	c.Server.Interface = getEnv("WORKFORCE_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Store.Dialect = getEnv("STORE_DIALECT", c.Store.Dialect)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)

	if v := getEnvInt("HEALTH_CHECK_INTERVAL_SEC", 0); v > 0 {
		c.Lifecycle.HealthCheckIntervalSec = v
	}
	if v := getEnvInt("LIFECYCLE_DEGRADED_THRESHOLD", 0); v > 0 {
		c.Lifecycle.DegradedThreshold = v
	}
	if v := getEnvInt("LIFECYCLE_UNHEALTHY_THRESHOLD", 0); v > 0 {
		c.Lifecycle.UnhealthyThreshold = v
	}

	if v := getEnvInt("SCHEDULER_TICK_INTERVAL_SEC", 0); v > 0 {
		c.Scheduler.TickIntervalSec = v
	}

	if v := getEnvInt("APPROVAL_DEFAULT_TIMEOUT_MINUTES", 0); v > 0 {
		c.Approval.DefaultTimeoutMinutes = v
	}
	c.Approval.DefaultAutoDeny = getEnvBool("APPROVAL_DEFAULT_AUTO_DENY", c.Approval.DefaultAutoDeny)

	if v := getEnvFloat("BUDGET_WARNING_THRESHOLD_PCT", 0); v > 0 {
		c.Budget.WarningThresholdPct = v
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("METRICS_PATH", c.Metrics.Path)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}

	if c.Store.Dialect == "" {
		c.Store.Dialect = "sqlite"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "workforce.db"
	}

	if c.Lifecycle.HealthCheckIntervalSec == 0 {
		c.Lifecycle.HealthCheckIntervalSec = 30
	}
	if c.Lifecycle.DegradedThreshold == 0 {
		c.Lifecycle.DegradedThreshold = 2
	}
	if c.Lifecycle.UnhealthyThreshold == 0 {
		c.Lifecycle.UnhealthyThreshold = 5
	}

	if c.Scheduler.TickIntervalSec == 0 {
		c.Scheduler.TickIntervalSec = 60
	}

	if c.Approval.DefaultTimeoutMinutes == 0 {
		c.Approval.DefaultTimeoutMinutes = 30
	}

	if c.Budget.WarningThresholdPct == 0 {
		c.Budget.WarningThresholdPct = 0.8
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
