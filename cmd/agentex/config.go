package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from AGENTEX_* environment variables.
type Config struct {
	// Temporal
	TemporalHostPort  string `env:"TEMPORAL_HOSTPORT" envDefault:"localhost:7233"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TaskQueue         string `env:"TASK_QUEUE" envDefault:"agentex"`

	// Message transport: "redis" writes XADD task:{id} entries, "pulse"
	// publishes through Pulse streams.
	Transport    string `env:"TRANSPORT" envDefault:"redis"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	StreamMaxLen int64  `env:"STREAM_MAX_LEN" envDefault:"10000"`

	// Persistence
	MongoURI      string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string        `env:"MONGO_DATABASE" envDefault:"agentex"`
	MongoTimeout  time.Duration `env:"MONGO_TIMEOUT" envDefault:"5s"`

	// Model
	Provider        string `env:"PROVIDER" envDefault:"openai"`
	Model           string `env:"MODEL"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	// AWSRegion selects the Bedrock region. Empty uses the AWS SDK default
	// chain (AWS_REGION, shared config).
	AWSRegion string `env:"AWS_REGION"`
	// RateLimitTPM enables the adaptive rate limiter when positive. The
	// budget is shared by every process through a Pulse replicated map.
	RateLimitTPM    float64 `env:"RATE_LIMIT_TPM"`
	RateLimitMaxTPM float64 `env:"RATE_LIMIT_MAX_TPM"`

	// Agent
	AgentName         string        `env:"AGENT_NAME" envDefault:"assistant"`
	Instructions      string        `env:"INSTRUCTIONS" envDefault:"You are a helpful assistant."`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s"`
	MaxTurns          int           `env:"MAX_TURNS" envDefault:"10"`
}

const envPrefix = "AGENTEX_"

// loadConfig parses the environment.
func loadConfig() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "redis", "pulse":
	default:
		return fmt.Errorf("config: unknown transport %q (want redis or pulse)", c.Transport)
	}
	switch c.Provider {
	case "openai", "anthropic", "bedrock":
	default:
		return fmt.Errorf("config: unknown provider %q (want openai, anthropic or bedrock)", c.Provider)
	}
	if c.TaskQueue == "" {
		return fmt.Errorf("config: %sTASK_QUEUE is required", envPrefix)
	}
	return nil
}

// defaultModel returns the configured model or the provider default.
func (c *Config) defaultModel() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "bedrock":
		return "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	default:
		return "gpt-4o"
	}
}
