// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel   string `yaml:"logLevel"`
	ListenAddr string `yaml:"listenAddr"`

	Redis RedisConfig `yaml:"redis"`

	// Session supervision.
	MaxConcurrentSessions int           `yaml:"maxConcurrentSessions"`
	HeartbeatInterval     time.Duration `yaml:"heartbeatInterval"`
	StaleThreshold        time.Duration `yaml:"staleThreshold"`
	HealthCheckInterval   time.Duration `yaml:"healthCheckInterval"`
	TerminateGrace        time.Duration `yaml:"terminateGrace"`
	SessionTTLSeconds     int           `yaml:"sessionTTLSeconds"`

	// Providers.
	ProviderTimeout  time.Duration `yaml:"providerTimeout"`
	AnthropicBaseURL string        `yaml:"anthropicBaseURL"`
	OpenAIBaseURL    string        `yaml:"openaiBaseURL"`
	GoogleAIBaseURL  string        `yaml:"googleAIBaseURL"`
	DeepSeekBaseURL  string        `yaml:"deepseekBaseURL"`

	// Model catalog.
	ModelRegistryURL   string `yaml:"modelRegistryURL"`
	ModelRegistryToken string `yaml:"modelRegistryToken"`

	// Routing rules file (optional, hot-reloaded when set).
	RoutingRulesPath string `yaml:"routingRulesPath"`
}

// RedisConfig holds shared-store connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		MaxConcurrentSessions: 10,
		HeartbeatInterval:     30 * time.Second,
		StaleThreshold:        5 * time.Minute,
		HealthCheckInterval:   60 * time.Second,
		TerminateGrace:        5 * time.Second,
		SessionTTLSeconds:     86400,
		ProviderTimeout:       120 * time.Second,
		ModelRegistryURL:      "http://localhost:3001",
	}
}

// Load builds the configuration with precedence ENV > file > defaults.
// path may be empty, in which case only environment and defaults apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.ListenAddr = ParseString("LISTEN_ADDR", cfg.ListenAddr)

	cfg.Redis.Host = ParseString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = ParseInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = ParseString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("REDIS_DB", cfg.Redis.DB)

	cfg.MaxConcurrentSessions = ParseInt("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	cfg.HeartbeatInterval = ParseMillis("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.StaleThreshold = ParseMillis("STALE_THRESHOLD", cfg.StaleThreshold)
	cfg.HealthCheckInterval = ParseMillis("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.TerminateGrace = ParseMillis("TERMINATE_GRACE_MS", cfg.TerminateGrace)
	cfg.SessionTTLSeconds = ParseInt("SESSION_TTL_SECONDS", cfg.SessionTTLSeconds)

	cfg.ProviderTimeout = ParseMillis("PROVIDER_TIMEOUT_MS", cfg.ProviderTimeout)
	cfg.AnthropicBaseURL = ParseString("ANTHROPIC_BASE_URL", cfg.AnthropicBaseURL)
	cfg.OpenAIBaseURL = ParseString("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.GoogleAIBaseURL = ParseString("GOOGLE_AI_BASE_URL", cfg.GoogleAIBaseURL)
	cfg.DeepSeekBaseURL = ParseString("DEEPSEEK_BASE_URL", cfg.DeepSeekBaseURL)

	cfg.ModelRegistryURL = ParseString("MODEL_REGISTRY_API_URL", cfg.ModelRegistryURL)
	cfg.ModelRegistryToken = ParseString("MODEL_REGISTRY_API_TOKEN", cfg.ModelRegistryToken)

	cfg.RoutingRulesPath = ParseString("ROUTING_RULES_PATH", cfg.RoutingRulesPath)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("maxConcurrentSessions must be > 0, got %d", c.MaxConcurrentSessions)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeatInterval must be > 0, got %v", c.HeartbeatInterval)
	}
	if c.StaleThreshold <= c.HeartbeatInterval {
		return fmt.Errorf("staleThreshold %v must exceed heartbeatInterval %v", c.StaleThreshold, c.HeartbeatInterval)
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("sessionTTLSeconds must be > 0, got %d", c.SessionTTLSeconds)
	}
	return nil
}
