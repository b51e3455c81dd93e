// Package config loads tabmacro settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. TABMACRO_LLM_PROVIDER
const EnvPrefix = "TABMACRO"

// Config is the root configuration
type Config struct {
	Logger      LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Bridge      BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Server      ServerConfig   `mapstructure:"server" yaml:"server"`
	LLM         LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Executor    ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Content     ContentConfig  `mapstructure:"content" yaml:"content"`
	Fetch       FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	Credentials []Credential   `mapstructure:"credentials" yaml:"credentials"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig drives the local Chromium performer
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	Bin         string        `mapstructure:"bin" yaml:"bin"`
	ProfileDir  string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// BridgeConfig drives the browser-extension performer. When enabled it
// replaces the local browser.
type BridgeConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	Token      string        `mapstructure:"token" yaml:"token"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig is the observer HTTP/WebSocket endpoint
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LLMConfig selects the model used by infer
type LLMConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
}

type ExecutorConfig struct {
	StepInterval time.Duration `mapstructure:"step_interval" yaml:"step_interval"`
	StepTimeout  time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	LoopLimit    int           `mapstructure:"loop_limit" yaml:"loop_limit"`
}

type ContentConfig struct {
	MaxTasks int `mapstructure:"max_tasks" yaml:"max_tasks"`
	MaxItems int `mapstructure:"max_items" yaml:"max_items"`
}

type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// Credential is a stored login for one host. Credentials are a list rather
// than a map because viper splits map keys on the dots of a host name.
type Credential struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tabmacro")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 800)
	v.SetDefault("browser.idle_timeout", "2s")

	// -- Bridge --
	v.SetDefault("bridge.enabled", false)
	v.SetDefault("bridge.listen_addr", "127.0.0.1:17333")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.timeout", "60s")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.allowed_origins", []string{})

	// -- LLM --
	v.SetDefault("llm.provider", "claude")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.api_key", "")

	// -- Executor --
	v.SetDefault("executor.step_interval", "0s")
	v.SetDefault("executor.step_timeout", "2m")
	v.SetDefault("executor.loop_limit", 10)

	// -- Content / Fetch --
	v.SetDefault("content.max_tasks", 64)
	v.SetDefault("content.max_items", 256)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.user_agent", "tabmacro/1.0")
}

// NewDefaultConfig returns the configuration with only defaults applied
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path (or ./tabmacro.yaml when path is empty and the file exists),
// applies TABMACRO_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tabmacro")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates an already-populated viper instance
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "", "claude", "anthropic", "openai", "gpt":
	default:
		return fmt.Errorf("llm.provider %q is not supported (use claude or openai)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be a positive integer")
	}
	if c.Executor.LoopLimit <= 0 {
		return fmt.Errorf("executor.loop_limit must be a positive integer")
	}
	if c.Executor.StepInterval < 0 || c.Executor.StepTimeout < 0 {
		return fmt.Errorf("executor durations must not be negative")
	}
	if c.Content.MaxTasks <= 0 || c.Content.MaxItems <= 0 {
		return fmt.Errorf("content.max_tasks and content.max_items must be positive integers")
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser.width and browser.height must be positive integers")
	}
	if c.Bridge.Enabled {
		host, _, err := net.SplitHostPort(c.Bridge.ListenAddr)
		if err != nil {
			return fmt.Errorf("bridge.listen_addr: %w", err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("bridge.listen_addr must be a loopback address, got %q", c.Bridge.ListenAddr)
		}
	}
	for i, cred := range c.Credentials {
		if cred.Host == "" || cred.Username == "" {
			return fmt.Errorf("credentials[%d]: host and username are required", i)
		}
	}
	return nil
}
