package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Apps      AppsConfig
	Sessions  SessionsConfig
	Stream    StreamConfig
	Capture   CaptureConfig
	Events    EventsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins  []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" default:""`
	Issuer    string `envconfig:"JWT_ISSUER" default:""`
	// Disabled trusts the X-User-ID header; development only
	Disabled bool `envconfig:"AUTH_DISABLED" default:"false"`
}

// AppsConfig holds process supervisor configuration.
type AppsConfig struct {
	Allowed       []string      `envconfig:"ALLOWED_APPLICATIONS" default:"firefox,code,cursor,gedit,libreoffice"`
	MaxConcurrent int           `envconfig:"MAX_CONCURRENT_APPS" default:"10"`
	Display       string        `envconfig:"DISPLAY" default:":99"`
	Home          string        `envconfig:"APP_HOME" default:"/tmp/appshare-home"`
	CatalogFile   string        `envconfig:"APP_CATALOG_FILE" default:""`
	StopGrace     time.Duration `envconfig:"APP_STOP_GRACE" default:"5s"`
	UsePTY        bool          `envconfig:"APP_USE_PTY" default:"false"`
	LogBufferSize int           `envconfig:"APP_LOG_BUFFER" default:"65536"`
}

// SessionsConfig holds session registry configuration.
type SessionsConfig struct {
	Timeout         time.Duration `envconfig:"SESSION_TIMEOUT" default:"1h"`
	SweepInterval   time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	MaxParticipants int           `envconfig:"SESSION_MAX_PARTICIPANTS" default:"10"`
}

// StreamConfig holds stream hub configuration.
type StreamConfig struct {
	FrameRate    int           `envconfig:"FRAME_RATE" default:"30"`
	Quality      int           `envconfig:"STREAM_QUALITY" default:"80"`
	QueueSize    int           `envconfig:"STREAM_QUEUE_SIZE" default:"16"`
	SendTimeout  time.Duration `envconfig:"STREAM_SEND_TIMEOUT" default:"5s"`
	InputTimeout time.Duration `envconfig:"STREAM_INPUT_TIMEOUT" default:"2s"`
	InputRate    float64       `envconfig:"INPUT_RATE" default:"120"`
	InputBurst   int           `envconfig:"INPUT_BURST" default:"240"`
}

// CaptureConfig holds screen and audio capture configuration.
type CaptureConfig struct {
	Enabled       bool          `envconfig:"CAPTURE_ENABLED" default:"true"`
	Encoder       string        `envconfig:"CAPTURE_ENCODER" default:"passthrough"`
	Format        string        `envconfig:"CAPTURE_FORMAT" default:"jpeg"`
	SkipUnchanged bool          `envconfig:"CAPTURE_SKIP_UNCHANGED" default:"true"`
	Timeout       time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"2s"`
	AudioEnabled  bool          `envconfig:"AUDIO_ENABLED" default:"false"`
	AudioDevice   string        `envconfig:"AUDIO_DEVICE" default:""`
	AudioRate     int           `envconfig:"AUDIO_SAMPLE_RATE" default:"44100"`
	AudioChunk    int           `envconfig:"AUDIO_CHUNK_BYTES" default:"8192"`
}

// EventsConfig holds lifecycle event sink configuration.
type EventsConfig struct {
	Buffer         int           `envconfig:"EVENTS_BUFFER" default:"1024"`
	RedisURL       string        `envconfig:"EVENTS_REDIS_URL" default:""`
	RedisChannel   string        `envconfig:"EVENTS_REDIS_CHANNEL" default:"appshare:events"`
	WebhookURL     string        `envconfig:"EVENTS_WEBHOOK_URL" default:""`
	WebhookTimeout time.Duration `envconfig:"EVENTS_WEBHOOK_TIMEOUT" default:"5s"`
	WebhookRetries int           `envconfig:"EVENTS_WEBHOOK_RETRIES" default:"3"`
	SinkTimeout    time.Duration `envconfig:"EVENTS_SINK_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Apps.MaxConcurrent < 1:
		return fmt.Errorf("MAX_CONCURRENT_APPS must be at least 1")
	case c.Stream.FrameRate < 1 || c.Stream.FrameRate > 120:
		return fmt.Errorf("FRAME_RATE must be between 1 and 120")
	case c.Stream.Quality < 1 || c.Stream.Quality > 100:
		return fmt.Errorf("STREAM_QUALITY must be between 1 and 100")
	case c.Stream.QueueSize < 1:
		return fmt.Errorf("STREAM_QUEUE_SIZE must be at least 1")
	case c.Sessions.Timeout <= 0:
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	case c.Sessions.SweepInterval <= 0:
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	case !c.Auth.Disabled && c.Auth.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			Disabled: true,
		},
		Apps: AppsConfig{
			Allowed:       []string{"firefox", "code", "cursor", "gedit", "libreoffice"},
			MaxConcurrent: 10,
			Display:       ":99",
			Home:          "/tmp/appshare-home",
			StopGrace:     5 * time.Second,
			LogBufferSize: 64 * 1024,
		},
		Sessions: SessionsConfig{
			Timeout:         time.Hour,
			SweepInterval:   time.Minute,
			MaxParticipants: 10,
		},
		Stream: StreamConfig{
			FrameRate:    30,
			Quality:      80,
			QueueSize:    16,
			SendTimeout:  5 * time.Second,
			InputTimeout: 2 * time.Second,
			InputRate:    120,
			InputBurst:   240,
		},
		Capture: CaptureConfig{
			Enabled:       true,
			Encoder:       "passthrough",
			Format:        "jpeg",
			SkipUnchanged: true,
			Timeout:       2 * time.Second,
			AudioRate:     44100,
			AudioChunk:    8192,
		},
		Events: EventsConfig{
			Buffer:         1024,
			RedisChannel:   "appshare:events",
			WebhookTimeout: 5 * time.Second,
			WebhookRetries: 3,
			SinkTimeout:    10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
