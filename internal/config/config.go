package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice client.
type Config struct {
	// Observability server (health, readiness, Prometheus metrics)
	Port string `envconfig:"PORT" default:"8080"`

	// Agent endpoint configuration
	AgentURL    string `envconfig:"AGENT_URL" required:"true"` // ws(s):// for socket transport, signaling URL for peer transport
	AgentAPIKey string `envconfig:"AGENT_API_KEY" default:""`
	AgentID     string `envconfig:"AGENT_ID" default:""`
	Transport   string `envconfig:"TRANSPORT" default:"socket"` // socket or peer

	// Audio format (PCM16 mono on the wire)
	SampleRate int `envconfig:"SAMPLE_RATE" default:"24000"`
	BlockSize  int `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"` // samples per capture callback

	// Capture / VAD
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.015"` // RMS on normalized samples
	SendIntervalMs     int     `envconfig:"SEND_INTERVAL_MS" default:"20"`        // minimum spacing between frame sends

	// Playback buffering. A large buffer hides network jitter but adds
	// perceived latency; both bounds are deployment decisions.
	MinBufferSeconds float64 `envconfig:"MIN_BUFFER_SECONDS" default:"3.0"`
	MaxBufferSeconds float64 `envconfig:"MAX_BUFFER_SECONDS" default:"5.0"`
	CrossfadeMs      int     `envconfig:"CROSSFADE_MS" default:"10"`
	FlushRetryMs     int     `envconfig:"FLUSH_RETRY_MS" default:"20"`

	// Barge-in
	InterruptDebounceMs int `envconfig:"INTERRUPT_DEBOUNCE_MS" default:"500"`

	// Session establishment resilience
	ConnectMaxAttempts         int `envconfig:"CONNECT_MAX_ATTEMPTS" default:"3"`
	ConnectInitialBackoffMs    int `envconfig:"CONNECT_INITIAL_BACKOFF_MS" default:"100"`
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from the environment, first merging a .env file
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration directly from environment variables
// without touching a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	if c.AgentURL == "" {
		return fmt.Errorf("AGENT_URL is required")
	}
	if c.Transport != "socket" && c.Transport != "peer" {
		return fmt.Errorf("TRANSPORT must be \"socket\" or \"peer\", got %q", c.Transport)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.BlockSize)
	}
	if c.MinBufferSeconds <= 0 || c.MaxBufferSeconds <= c.MinBufferSeconds {
		return fmt.Errorf("buffer bounds must satisfy 0 < MIN_BUFFER_SECONDS < MAX_BUFFER_SECONDS, got %v/%v",
			c.MinBufferSeconds, c.MaxBufferSeconds)
	}
	return nil
}

// MinBufferSamples returns the flush threshold in samples.
func (c *Config) MinBufferSamples() int {
	return int(c.MinBufferSeconds * float64(c.SampleRate))
}

// MaxBufferSamples returns the forced-flush ceiling in samples.
func (c *Config) MaxBufferSamples() int {
	return int(c.MaxBufferSeconds * float64(c.SampleRate))
}

// CrossfadeSamples returns the crossfade window in samples.
func (c *Config) CrossfadeSamples() int {
	return c.CrossfadeMs * c.SampleRate / 1000
}

// FlushRetrySamples returns the flush retry backoff in samples.
func (c *Config) FlushRetrySamples() int {
	return c.FlushRetryMs * c.SampleRate / 1000
}

// SendInterval returns the capture send throttle as a duration.
func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMs) * time.Millisecond
}

// InterruptDebounce returns the barge-in debounce window as a duration.
func (c *Config) InterruptDebounce() time.Duration {
	return time.Duration(c.InterruptDebounceMs) * time.Millisecond
}
