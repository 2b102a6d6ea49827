// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	Gating() GatingConfig
	Safety() SafetyConfig
	Sandbox() SandboxConfig
	Checkpoint() CheckpointConfig
	Store() StoreConfig
	LLM() LLMConfig

	// Setters used by CLI flag overrides.
	SetBrowserHeadless(bool)
	SetAgentMaxIterations(int)
	SetStoreType(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	GatingCfg     GatingConfig     `mapstructure:"gating" yaml:"gating"`
	SafetyCfg     SafetyConfig     `mapstructure:"safety" yaml:"safety"`
	SandboxCfg    SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	CheckpointCfg CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	LLMCfg        LLMConfig        `mapstructure:"llm" yaml:"llm"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Gating() GatingConfig         { return c.GatingCfg }
func (c *Config) Safety() SafetyConfig         { return c.SafetyCfg }
func (c *Config) Sandbox() SandboxConfig       { return c.SandboxCfg }
func (c *Config) Checkpoint() CheckpointConfig { return c.CheckpointCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) LLM() LLMConfig               { return c.LLMCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetAgentMaxIterations(n int)   { c.AgentCfg.MaxIterations = n }
func (c *Config) SetStoreType(storeType string) { c.StoreCfg.Type = storeType }

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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser.
type BrowserConfig struct {
	Headless           bool           `mapstructure:"headless" yaml:"headless"`
	DisableGPU         bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath           string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args               []string       `mapstructure:"args" yaml:"args"`
	Viewport           map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout  time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout      time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	CaptureScreenshots bool           `mapstructure:"capture_screenshots" yaml:"capture_screenshots"`
	MaxDOMSnapshot     int            `mapstructure:"max_dom_snapshot" yaml:"max_dom_snapshot"`
}

// AgentConfig tunes the ReAct controller.
type AgentConfig struct {
	MaxIterations          int            `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxConsecutiveFailures int            `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	ActionTimeout          time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	ObserveTimeout         time.Duration  `mapstructure:"observe_timeout" yaml:"observe_timeout"`
	SummaryActions         int            `mapstructure:"summary_actions" yaml:"summary_actions"`
	Recovery               RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Loop                   LoopConfig     `mapstructure:"loop" yaml:"loop"`
}

// RecoveryConfig controls the bounded retry strategies applied to failed actions.
type RecoveryConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Wait           time.Duration `mapstructure:"wait" yaml:"wait"`
	ScrollAmount   int           `mapstructure:"scroll_amount" yaml:"scroll_amount"`
	FuzzyThreshold float64       `mapstructure:"fuzzy_threshold" yaml:"fuzzy_threshold"`
}

// LoopConfig controls repeated-action detection.
type LoopConfig struct {
	Window          int `mapstructure:"window" yaml:"window"`
	RepeatThreshold int `mapstructure:"repeat_threshold" yaml:"repeat_threshold"`
}

// GatingConfig controls routing to the sandbox path.
type GatingConfig struct {
	Enabled                  bool `mapstructure:"enabled" yaml:"enabled"`
	DOMSizeThreshold         int  `mapstructure:"dom_size_threshold" yaml:"dom_size_threshold"`
	SelectorFailureThreshold int  `mapstructure:"selector_failure_threshold" yaml:"selector_failure_threshold"`
}

// SafetyConfig controls the danger detector and the confirmation gate.
type SafetyConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	AlwaysConfirm       []string      `mapstructure:"always_confirm" yaml:"always_confirm"`
	NeverConfirmTools   []string      `mapstructure:"never_confirm_tools" yaml:"never_confirm_tools"`
	BlockCritical       bool          `mapstructure:"block_critical" yaml:"block_critical"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout" yaml:"confirmation_timeout"`
}

// SandboxConfig bounds sandboxed script execution.
type SandboxConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// CheckpointConfig controls checkpoint frequency and retention.
type CheckpointConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	Interval     int  `mapstructure:"interval" yaml:"interval"`
	MaxAutoSaves int  `mapstructure:"max_auto_saves" yaml:"max_auto_saves"`
	CleanupKeep  int  `mapstructure:"cleanup_keep" yaml:"cleanup_keep"`
}

// Store backends.
const (
	StoreTypeFile     = "file"
	StoreTypePostgres = "postgres"
	StoreTypeMemory   = "memory"
)

// StoreConfig selects and configures the session store.
type StoreConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Dir      string         `mapstructure:"dir" yaml:"dir"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the session database connection details.
type PostgresConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Table string `mapstructure:"table" yaml:"table"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderNone   LLMProvider = "none"
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the optional reasoning model.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	FastModel         string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel     string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LLMModelConfig is the per-model view handed to a single client.
type LLMModelConfig struct {
	Provider          LLMProvider
	Model             string
	APIKey            string
	APITimeout        time.Duration
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}

// ModelConfig derives the configuration for one model of the given provider.
func (l LLMConfig) ModelConfig(model string) LLMModelConfig {
	return LLMModelConfig{
		Provider:          l.Provider,
		Model:             model,
		APIKey:            l.APIKey,
		APITimeout:        l.APITimeout,
		Temperature:       l.Temperature,
		MaxTokens:         l.MaxTokens,
		RequestsPerMinute: l.RequestsPerMinute,
	}
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 768})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.capture_screenshots", false)
	v.SetDefault("browser.max_dom_snapshot", 200000)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 20)
	v.SetDefault("agent.max_consecutive_failures", 3)
	v.SetDefault("agent.action_timeout", "30s")
	v.SetDefault("agent.observe_timeout", "15s")
	v.SetDefault("agent.summary_actions", 5)
	v.SetDefault("agent.recovery.enabled", true)
	v.SetDefault("agent.recovery.wait", "1s")
	v.SetDefault("agent.recovery.scroll_amount", 600)
	v.SetDefault("agent.recovery.fuzzy_threshold", 0.45)
	v.SetDefault("agent.loop.window", 3)
	v.SetDefault("agent.loop.repeat_threshold", 2)

	// -- Gating --
	v.SetDefault("gating.enabled", true)
	v.SetDefault("gating.dom_size_threshold", 10000)
	v.SetDefault("gating.selector_failure_threshold", 2)

	// -- Safety --
	v.SetDefault("safety.enabled", true)
	v.SetDefault("safety.always_confirm", []string{"payment", "delete"})
	v.SetDefault("safety.never_confirm_tools", []string{
		"observe", "getPageInfo", "screenshot", "scroll", "wait", "waitForSelector", "extract*",
	})
	v.SetDefault("safety.block_critical", false)
	v.SetDefault("safety.confirmation_timeout", "60s")

	// -- Sandbox --
	v.SetDefault("sandbox.timeout", "10s")
	v.SetDefault("sandbox.max_output_bytes", 65536)

	// -- Checkpoint --
	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.interval", 1)
	v.SetDefault("checkpoint.max_auto_saves", 10)
	v.SetDefault("checkpoint.cleanup_keep", 5)

	// -- Store --
	v.SetDefault("store.type", StoreTypeFile)
	v.SetDefault("store.dir", "~/.webpilot/sessions")
	v.SetDefault("store.postgres.table", "agent_sessions")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderNone))
	v.SetDefault("llm.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_minute", 30)
}

// NewConfigFromViper unmarshals and validates a configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY")
	v.BindEnv("store.postgres.url", "WEBPILOT_STORE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The Gemini SDK convention is honoured when no dedicated key is set.
	if cfg.LLMCfg.Provider == ProviderGemini && cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AgentCfg.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.AgentCfg.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be a positive integer")
	}
	if c.AgentCfg.Loop.Window < 2 {
		return fmt.Errorf("agent.loop.window must be at least 2")
	}
	if c.AgentCfg.Recovery.FuzzyThreshold < 0 || c.AgentCfg.Recovery.FuzzyThreshold > 1 {
		return fmt.Errorf("agent.recovery.fuzzy_threshold must be between 0.0 and 1.0")
	}
	if c.GatingCfg.DOMSizeThreshold <= 0 {
		return fmt.Errorf("gating.dom_size_threshold must be a positive integer")
	}
	if c.SafetyCfg.ConfirmationTimeout <= 0 {
		return fmt.Errorf("safety.confirmation_timeout must be positive")
	}
	if c.SandboxCfg.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if err := c.CheckpointCfg.Validate(); err != nil {
		return fmt.Errorf("checkpoint configuration invalid: %w", err)
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the checkpoint configuration.
func (cc *CheckpointConfig) Validate() error {
	if !cc.Enabled {
		return nil
	}
	if cc.Interval <= 0 {
		return fmt.Errorf("interval must be a positive integer")
	}
	if cc.MaxAutoSaves <= 0 {
		return fmt.Errorf("max_auto_saves must be a positive integer")
	}
	if cc.CleanupKeep <= 0 || cc.CleanupKeep > cc.MaxAutoSaves {
		return fmt.Errorf("cleanup_keep must be between 1 and max_auto_saves")
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Type) {
	case StoreTypeFile:
		if s.Dir == "" {
			return fmt.Errorf("dir is required for the file store")
		}
	case StoreTypePostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required (hint: check WEBPILOT_STORE_POSTGRES_URL)")
		}
	case StoreTypeMemory:
	default:
		return fmt.Errorf("unknown store type '%s'", s.Type)
	}
	return nil
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderNone, "":
		return nil
	case ProviderGemini:
		if l.APIKey == "" {
			return fmt.Errorf("api_key is required for provider '%s' (hint: check WEBPILOT_LLM_API_KEY)", l.Provider)
		}
		if l.FastModel == "" || l.PowerfulModel == "" {
			return fmt.Errorf("fast_model and powerful_model must be set")
		}
	default:
		return fmt.Errorf("unsupported provider '%s'", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	return nil
}
