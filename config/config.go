package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the copilot system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Session   SessionConfig   `mapstructure:"session"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // anthropic, openai
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model handles the analysis turns
type LLMRoutingConfig struct {
	Analysis string `mapstructure:"analysis"`
	Fallback string `mapstructure:"fallback"`
}

// MCPConfig describes the data-query tool backend the agent talks to.
// Per-request overrides may replace any of these values.
type MCPConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Tenant    string        `mapstructure:"tenant"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	EnvURL    string        `mapstructure:"env_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SessionConfig controls conversation history and prompt-cache behaviour
type SessionConfig struct {
	Backend       string        `mapstructure:"backend"` // inmemory, redis
	CacheValidity time.Duration `mapstructure:"cache_validity"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains redis connection settings for the session backend
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// StorageConfig contains persistence settings for run checkpoints
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig contains postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Normalize applies defaults for unset session values.
func (s SessionConfig) Normalize() SessionConfig {
	if strings.TrimSpace(s.Backend) == "" {
		s.Backend = "inmemory"
	}
	if s.CacheValidity <= 0 {
		s.CacheValidity = 5 * time.Minute
	}
	if s.MaxSessions <= 0 {
		s.MaxSessions = 1024
	}
	if s.Redis.TTL <= 0 {
		s.Redis.TTL = 24 * time.Hour
	}
	return s
}

// Validate ensures the session backend is one we know how to build.
func (s SessionConfig) Validate() error {
	switch s.Backend {
	case "inmemory", "redis":
		return nil
	default:
		return fmt.Errorf("session.backend must be inmemory or redis, got %q", s.Backend)
	}
}

// Normalize applies defaults for unset MCP values.
func (m MCPConfig) Normalize() MCPConfig {
	if m.Timeout <= 0 {
		m.Timeout = 60 * time.Second
	}
	return m
}

func (m MCPConfig) Validate() error {
	if strings.TrimSpace(m.ServerURL) == "" {
		return fmt.Errorf("mcp.server_url is required")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("general.default_timeout", "120s")
	viper.SetDefault("session.backend", "inmemory")
	viper.SetDefault("session.cache_validity", "5m")
	viper.SetDefault("session.max_sessions", 1024)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("GLANCE")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (GLANCE_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Session = config.Session.Normalize()
	config.MCP = config.MCP.Normalize()

	if err := config.Session.Validate(); err != nil {
		panic(err)
	}
	if err := config.MCP.Validate(); err != nil {
		panic(err)
	}

	return &config
}
