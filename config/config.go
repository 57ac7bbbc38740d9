package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address    string `mapstructure:"address"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	APIKeyHash string `mapstructure:"api_key_hash"` // bcrypt hash; empty disables key auth
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LLMConfig contains completion provider settings.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"` // openai
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Routing  RoutingConfig `mapstructure:"routing"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RoutingConfig defines which model handles each kind of call.
type RoutingConfig struct {
	Planning  string `mapstructure:"planning"`
	Synthesis string `mapstructure:"synthesis"`
	Analysis  string `mapstructure:"analysis"`
	Fallback  string `mapstructure:"fallback"`
}

// Model returns the routed model for a task kind, defaulting to the
// fallback entry.
func (r RoutingConfig) Model(kind string) string {
	var m string
	switch kind {
	case "planning":
		m = r.Planning
	case "synthesis":
		m = r.Synthesis
	case "analysis":
		m = r.Analysis
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	return nil
}

// OrchestratorConfig bounds the turn loop and the nested sub-agent loop.
type OrchestratorConfig struct {
	IterationCeiling  int           `mapstructure:"iteration_ceiling"`
	SubAgentCeiling   int           `mapstructure:"subagent_ceiling"`
	TurnTimeout       time.Duration `mapstructure:"turn_timeout"`
	CoverageThreshold float64       `mapstructure:"coverage_threshold"`
	MinUsableResults  int           `mapstructure:"min_usable_results"`
}

// Normalize applies defaults for unset orchestrator values.
func (o OrchestratorConfig) Normalize() OrchestratorConfig {
	if o.IterationCeiling <= 0 {
		o.IterationCeiling = 3
	}
	if o.SubAgentCeiling <= 0 {
		o.SubAgentCeiling = 3
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 3 * time.Minute
	}
	if o.CoverageThreshold <= 0 {
		o.CoverageThreshold = 0.4
	}
	if o.MinUsableResults <= 0 {
		o.MinUsableResults = 1
	}
	return o
}

// ToolsConfig contains external capability settings.
type ToolsConfig struct {
	WebSearch     WebSearchConfig `mapstructure:"web_search"`
	WebFetch      WebFetchConfig  `mapstructure:"web_fetch"`
	RatePerMinute int             `mapstructure:"rate_per_minute"`
}

// WebSearchConfig contains web search settings.
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WebFetchConfig contains page extraction settings.
type WebFetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	UseBrowser bool          `mapstructure:"use_browser"` // chromedp fallback for JS-heavy pages
	MaxBody    int64         `mapstructure:"max_body"`
}

// StreamConfig contains WebSocket session settings.
type StreamConfig struct {
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl"`
	JanitorCron    string        `mapstructure:"janitor_cron"`
}

// Normalize applies defaults for unset stream values.
func (s StreamConfig) Normalize() StreamConfig {
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 60 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.PingInterval <= 0 {
		s.PingInterval = 30 * time.Second
	}
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = 64 * 1024
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 256
	}
	if s.SessionIdleTTL <= 0 {
		s.SessionIdleTTL = 30 * time.Minute
	}
	if strings.TrimSpace(s.JanitorCron) == "" {
		s.JanitorCron = "*/5 * * * *"
	}
	return s
}

// ArtifactsConfig controls artifact rendering and storage.
type ArtifactsConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	MaxPoints int    `mapstructure:"max_points"`
}

// Normalize applies defaults for unset artifact values.
func (a ArtifactsConfig) Normalize() ArtifactsConfig {
	if strings.TrimSpace(a.DataDir) == "" {
		a.DataDir = "./data/artifacts"
	}
	if a.MaxPoints <= 0 {
		a.MaxPoints = 500
	}
	return a
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string from either the explicit URL or parts.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("storage.postgres.host/dbname or url required")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings. Optional: when host is
// empty the session lock falls back to in-process state.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"password"`
	DB   int    `mapstructure:"db"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// TelemetryConfig contains telemetry and cost tracking settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	LogFile      string `mapstructure:"log_file"`
}

// LoadConfig loads config from file, with PARALLAX_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("tools.web_search.provider", "serper")
	viper.SetDefault("tools.web_search.max_results", 8)
	viper.SetDefault("tools.web_search.timeout", 15*time.Second)
	viper.SetDefault("tools.web_fetch.timeout", 20*time.Second)
	viper.SetDefault("tools.rate_per_minute", 60)
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

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

	viper.SetEnvPrefix("PARALLAX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Orchestrator = config.Orchestrator.Normalize()
	config.Stream = config.Stream.Normalize()
	config.Artifacts = config.Artifacts.Normalize()

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	return &config
}
