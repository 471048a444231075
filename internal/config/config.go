package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Verbosity levels for persisted macro events.
const (
	VerbosityMacros  = "macros"
	VerbosityMinimal = "minimal"
	VerbosityOff     = "off"
)

// Visibility policies for SW-only commands issued by players.
const (
	VisibilityReject = "reject"
	VisibilityIgnore = "ignore"
)

type ChatConfig struct {
	MacroThrottleMS        int    `yaml:"macro_throttle_ms"`
	LogVerbosity           string `yaml:"log_verbosity"`
	VisibilityPolicy       string `yaml:"visibility_policy"`
	AbilityMaxUsesPerLevel int    `yaml:"ability_max_uses_per_level"`
	HistoryLimit           int    `yaml:"history_limit"`
}

// MacroThrottle returns the per-(party,actor) minimum macro interval.
func (c ChatConfig) MacroThrottle() time.Duration {
	return time.Duration(c.MacroThrottleMS) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Chat.MacroThrottleMS == 0 {
		cfg.Chat.MacroThrottleMS = 700
	}
	if cfg.Chat.LogVerbosity == "" {
		cfg.Chat.LogVerbosity = VerbosityMacros
	}
	if cfg.Chat.VisibilityPolicy == "" {
		cfg.Chat.VisibilityPolicy = VisibilityReject
	}
	if cfg.Chat.AbilityMaxUsesPerLevel == 0 {
		cfg.Chat.AbilityMaxUsesPerLevel = 3
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 100
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MACRO_THROTTLE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.Chat.MacroThrottleMS = ms
		}
	}
	if v := os.Getenv("WS_LOG_VERBOSITY"); v != "" {
		cfg.Chat.LogVerbosity = v
	}
	if v := os.Getenv("VISIBILITY_POLICY"); v != "" {
		cfg.Chat.VisibilityPolicy = v
	}
	if v := os.Getenv("ABILITY_MAX_USES_PER_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Chat.AbilityMaxUsesPerLevel = n
		}
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		cfg.Database.MySQL.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Database.Redis.Password = v
	}
}
