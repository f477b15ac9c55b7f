// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Reasoning backend configuration
	AI AIConfig `yaml:"ai"`

	// Log processing configuration
	Processing ProcessingConfig `yaml:"processing"`

	Store     StoreConfig     `yaml:"store"`
	Predictor PredictorConfig `yaml:"predictor"`
	Generator GeneratorConfig `yaml:"generator"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Learning  LearningConfig  `yaml:"learning"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP port to listen on.
	Port string `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AIProvider represents the reasoning backend to use.
type AIProvider string

const (
	// AIProviderOpenAI uses OpenAI-compatible API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderGemini uses Google Gemini API.
	AIProviderGemini AIProvider = "gemini"

	// AIProviderNone uses the local rule-based reasoner.
	AIProviderNone AIProvider = "none"
)

// AIConfig contains reasoning backend settings.
type AIConfig struct {
	// Provider specifies which backend to use (openai, gemini, none).
	Provider AIProvider `yaml:"provider"`

	// APIKey is the authentication key for the provider.
	APIKey string `yaml:"api_key"`

	// BaseURL is the base URL for the API (optional, provider-specific defaults).
	BaseURL string `yaml:"base_url"`

	// Model is the model to use.
	Model string `yaml:"model"`

	// Timeout is the maximum time to wait for one HTTP exchange.
	Timeout time.Duration `yaml:"timeout"`

	// MaxTokens is the maximum tokens for the response.
	MaxTokens int `yaml:"max_tokens"`

	// MaxRetries is the number of retries on transient failures.
	MaxRetries int `yaml:"max_retries"`

	// MockMode enables canned responses for testing without API calls.
	MockMode bool `yaml:"mock_mode"`
}

// Enabled reports whether a remote backend is configured.
func (c AIConfig) Enabled() bool {
	return c.Provider != AIProviderNone && (c.MockMode || c.APIKey != "")
}

// ProcessingConfig contains log processing settings.
type ProcessingConfig struct {
	// MaxLogSize is the maximum allowed log size in bytes.
	MaxLogSize int `yaml:"max_log_size"`

	// EnableRules enables the local rule-based reasoner.
	EnableRules bool `yaml:"enable_rules"`

	// RuleConfidenceThreshold is the minimum rule confidence for a rule match
	// to be reported as a specific diagnosis.
	RuleConfidenceThreshold float64 `yaml:"rule_confidence_threshold"`
}

// StoreConfig locates the historical-record store.
type StoreConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// PredictorConfig configures the success predictor.
type PredictorConfig struct {
	// ModelPath is where the trained artifact is loaded from and saved to.
	// Empty disables persistence.
	ModelPath string `yaml:"model_path"`
}

// GeneratorConfig configures the fix generator.
type GeneratorConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	FingerprintPrefix int           `yaml:"fingerprint_prefix"`
	PatternWindowDays int           `yaml:"pattern_window_days"`
	BackendTimeout    time.Duration `yaml:"backend_timeout"`
}

// PatternsConfig configures the pattern analyzer.
type PatternsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LearningConfig configures the feedback loop.
type LearningConfig struct {
	// RetrainInterval schedules periodic retraining. Zero disables it.
	RetrainInterval time.Duration `yaml:"retrain_interval"`

	// RetrainOnFeedback enqueues a retrain after every recorded decision.
	RetrainOnFeedback bool `yaml:"retrain_on_feedback"`
}

// GitHubConfig configures the source-control integration.
type GitHubConfig struct {
	Token         string        `yaml:"token"`
	BaseURL       string        `yaml:"base_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Enabled reports whether a token is configured.
func (c GitHubConfig) Enabled() bool {
	return c.Token != ""
}

// Default returns the built-in configuration before any overlay.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		AI: AIConfig{
			Provider:   AIProviderOpenAI,
			Timeout:    30 * time.Second,
			MaxTokens:  1024,
			MaxRetries: 1,
		},
		Processing: ProcessingConfig{
			MaxLogSize:              200000,
			EnableRules:             true,
			RuleConfidenceThreshold: 0.8,
		},
		Store: StoreConfig{
			Path:    "data/cicd-fixer.db",
			Timeout: 5 * time.Second,
		},
		Predictor: PredictorConfig{
			ModelPath: "data/predictor-model.json",
		},
		Generator: GeneratorConfig{
			CacheTTL:          2 * time.Hour,
			FingerprintPrefix: 200,
			PatternWindowDays: 30,
			BackendTimeout:    15 * time.Second,
		},
		Patterns: PatternsConfig{
			CacheTTL: time.Hour,
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file named by CONFIG_FILE (if set)
// and then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", domain.ErrInvalidConfig, path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	provider := AIProvider(getEnvOrDefault("AI_PROVIDER", string(c.AI.Provider)))

	// Set provider-specific defaults
	var defaultBaseURL, defaultModel string
	switch provider {
	case AIProviderGemini:
		defaultBaseURL = "https://generativelanguage.googleapis.com"
		defaultModel = "gemini-2.0-flash"
	case AIProviderNone:
	default:
		provider = AIProviderOpenAI
		defaultBaseURL = "https://api.openai.com/v1"
		defaultModel = "gpt-4o-mini"
	}
	if c.AI.BaseURL != "" {
		defaultBaseURL = c.AI.BaseURL
	}
	if c.AI.Model != "" {
		defaultModel = c.AI.Model
	}

	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)

	c.AI.Provider = provider
	c.AI.APIKey = getEnvOrDefault("AI_API_KEY", c.AI.APIKey)
	c.AI.BaseURL = getEnvOrDefault("AI_BASE_URL", defaultBaseURL)
	c.AI.Model = getEnvOrDefault("AI_MODEL", defaultModel)
	c.AI.Timeout = getDurationOrDefault("AI_TIMEOUT", c.AI.Timeout)
	c.AI.MaxTokens = getIntOrDefault("AI_MAX_TOKENS", c.AI.MaxTokens)
	c.AI.MaxRetries = getIntOrDefault("AI_MAX_RETRIES", c.AI.MaxRetries)
	c.AI.MockMode = getBoolOrDefault("AI_MOCK_MODE", c.AI.MockMode)

	// No key and no mock means the local reasoner.
	if !c.AI.MockMode && c.AI.APIKey == "" {
		c.AI.Provider = AIProviderNone
	}

	c.Processing.MaxLogSize = getIntOrDefault("MAX_LOG_SIZE", c.Processing.MaxLogSize)
	c.Processing.EnableRules = getBoolOrDefault("ENABLE_RULES", c.Processing.EnableRules)
	c.Processing.RuleConfidenceThreshold = getFloatOrDefault("RULE_CONFIDENCE_THRESHOLD", c.Processing.RuleConfidenceThreshold)

	c.Store.Path = getEnvOrDefault("STORE_PATH", c.Store.Path)
	c.Store.Timeout = getDurationOrDefault("STORE_TIMEOUT", c.Store.Timeout)

	c.Predictor.ModelPath = getEnvOrDefault("PREDICTOR_MODEL_PATH", c.Predictor.ModelPath)

	c.Generator.CacheTTL = getDurationOrDefault("FIX_CACHE_TTL", c.Generator.CacheTTL)
	c.Generator.FingerprintPrefix = getIntOrDefault("FINGERPRINT_PREFIX", c.Generator.FingerprintPrefix)
	c.Generator.PatternWindowDays = getIntOrDefault("PATTERN_WINDOW_DAYS", c.Generator.PatternWindowDays)
	c.Generator.BackendTimeout = getDurationOrDefault("BACKEND_TIMEOUT", c.Generator.BackendTimeout)

	c.Patterns.CacheTTL = getDurationOrDefault("PATTERN_CACHE_TTL", c.Patterns.CacheTTL)

	c.Learning.RetrainInterval = getDurationOrDefault("RETRAIN_INTERVAL", c.Learning.RetrainInterval)
	c.Learning.RetrainOnFeedback = getBoolOrDefault("RETRAIN_ON_FEEDBACK", c.Learning.RetrainOnFeedback)

	c.GitHub.Token = getEnvOrDefault("GITHUB_TOKEN", c.GitHub.Token)
	c.GitHub.BaseURL = getEnvOrDefault("GITHUB_API_URL", c.GitHub.BaseURL)
	c.GitHub.WebhookSecret = getEnvOrDefault("GITHUB_WEBHOOK_SECRET", c.GitHub.WebhookSecret)
	c.GitHub.Timeout = getDurationOrDefault("GITHUB_TIMEOUT", c.GitHub.Timeout)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.AI.Enabled() && c.AI.Timeout < time.Second {
		return fmt.Errorf("%w: AI_TIMEOUT must be at least 1 second", domain.ErrInvalidConfig)
	}

	if c.AI.Enabled() && c.AI.MaxTokens < 100 {
		return fmt.Errorf("%w: AI_MAX_TOKENS must be at least 100", domain.ErrInvalidConfig)
	}

	if c.AI.MaxRetries < 0 || c.AI.MaxRetries > 1 {
		return fmt.Errorf("%w: AI_MAX_RETRIES must be 0 or 1", domain.ErrInvalidConfig)
	}

	if c.Processing.MaxLogSize < 1000 {
		return fmt.Errorf("%w: MAX_LOG_SIZE must be at least 1000 bytes", domain.ErrInvalidConfig)
	}

	if c.Processing.RuleConfidenceThreshold < 0 || c.Processing.RuleConfidenceThreshold > 1 {
		return fmt.Errorf("%w: RULE_CONFIDENCE_THRESHOLD must be between 0 and 1", domain.ErrInvalidConfig)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("%w: STORE_PATH is required", domain.ErrInvalidConfig)
	}

	if c.Generator.CacheTTL <= 0 || c.Patterns.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTLs must be positive", domain.ErrInvalidConfig)
	}

	if c.Generator.FingerprintPrefix < 1 {
		return fmt.Errorf("%w: FINGERPRINT_PREFIX must be positive", domain.ErrInvalidConfig)
	}

	if c.Generator.PatternWindowDays < 1 {
		return fmt.Errorf("%w: PATTERN_WINDOW_DAYS must be positive", domain.ErrInvalidConfig)
	}

	if c.Generator.BackendTimeout < time.Second {
		return fmt.Errorf("%w: BACKEND_TIMEOUT must be at least 1 second", domain.ErrInvalidConfig)
	}

	if c.Learning.RetrainInterval < 0 {
		return fmt.Errorf("%w: RETRAIN_INTERVAL must not be negative", domain.ErrInvalidConfig)
	}

	return nil
}

// Helper functions for reading environment variables

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first (e.g., "15")
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string (e.g., "15s", "1m")
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
