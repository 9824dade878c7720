package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadMB  int64         `env:"MAX_UPLOAD_MB" envDefault:"200"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Store StoreConfig

	// DatabaseURL enables the Postgres history backend. Empty keeps
	// history in the key-value store.
	DatabaseURL string         `env:"DATABASE_URL"`
	Database    DatabaseConfig `envPrefix:"DB_"`

	Providers ProvidersConfig
	Pipeline  PipelineConfig
	Cache     CacheConfig
	Health    HealthConfig
	Queue     QueueConfig
	Local     LocalModelConfig
	MQTT      MQTTConfig `envPrefix:"MQTT_"`

	// WatchDir, when set, is scanned for new audio files to enqueue.
	WatchDir      string `env:"WATCH_DIR"`
	WatchBackfill bool   `env:"WATCH_BACKFILL" envDefault:"false"`
}

// DatabaseConfig sizes the Postgres history pool.
type DatabaseConfig struct {
	MaxConns       int32         `env:"MAX_CONNS" envDefault:"4"`
	MinConns       int32         `env:"MIN_CONNS" envDefault:"0"`
	MaxConnIdle    time.Duration `env:"MAX_CONN_IDLE" envDefault:"5m"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
}

type StoreConfig struct {
	Backend    string   `env:"STORE_BACKEND" envDefault:"sqlite"` // file, sqlite, s3
	Dir        string   `env:"DATA_DIR" envDefault:"./data"`
	SQLitePath string   `env:"SQLITE_PATH"`
	S3         S3Config `envPrefix:"S3_"`
}

type S3Config struct {
	Bucket     string `env:"BUCKET"`
	Endpoint   string `env:"ENDPOINT"`
	Region     string `env:"REGION" envDefault:"us-east-1"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Prefix     string `env:"PREFIX"`
	LocalCache bool   `env:"LOCAL_CACHE" envDefault:"true"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

type ProviderConfig struct {
	APIKey     string        `env:"API_KEY"`
	BaseURL    string        `env:"BASE_URL"`
	Model      string        `env:"MODEL"`
	MaxRetries int           `env:"MAX_RETRIES"`
	RetryDelay time.Duration `env:"RETRY_BASE_DELAY"`
}

type ProvidersConfig struct {
	Default     string         `env:"DEFAULT_PROVIDER" envDefault:"groq"`
	Language    string         `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	Temperature float64        `env:"TRANSCRIBE_TEMPERATURE" envDefault:"0"`
	Timeout     time.Duration  `env:"PROVIDER_TIMEOUT" envDefault:"60s"`
	RetryMax    time.Duration  `env:"RETRY_MAX_DELAY" envDefault:"10s"`
	OpenAI      ProviderConfig `envPrefix:"OPENAI_"`
	Groq        ProviderConfig `envPrefix:"GROQ_"`
	HuggingFace ProviderConfig `envPrefix:"HUGGINGFACE_"`
}

type PipelineConfig struct {
	ChunkBytes  int64  `env:"CHUNK_BYTES" envDefault:"5242880"`
	MaxJobBytes int64  `env:"MAX_JOB_BYTES" envDefault:"104857600"`
	Normalize   bool   `env:"NORMALIZE_AUDIO" envDefault:"true"`
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	OfflineMode bool   `env:"OFFLINE_MODE" envDefault:"false"`
}

type CacheConfig struct {
	MaxItems      int           `env:"CACHE_MAX_ITEMS" envDefault:"100"`
	MaxAge        time.Duration `env:"CACHE_MAX_AGE" envDefault:"168h"`
	PruneInterval time.Duration `env:"CACHE_PRUNE_INTERVAL" envDefault:"1h"`
}

type HealthConfig struct {
	Interval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	Timeout  time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
}

type QueueConfig struct {
	Retention time.Duration `env:"QUEUE_RETENTION" envDefault:"5m"`
}

type LocalModelConfig struct {
	Dir            string `env:"MODEL_DIR" envDefault:"./models"`
	WhisperCPPPath string `env:"WHISPER_CPP_PATH" envDefault:"whisper-cli"`
	Variant        string `env:"LOCAL_MODEL_VARIANT" envDefault:"base.en"`
	Threads        int    `env:"LOCAL_MODEL_THREADS" envDefault:"4"`
}

type MQTTConfig struct {
	BrokerURL string `env:"BROKER_URL"`
	ClientID  string `env:"CLIENT_ID" envDefault:"juicer"`
	Topic     string `env:"TOPIC" envDefault:"juicer/notifications"`
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	DataDir     string
	ModelDir    string
	WatchDir    string
	Offline     bool
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.DataDir != "" {
		cfg.Store.Dir = overrides.DataDir
	}
	if overrides.ModelDir != "" {
		cfg.Local.Dir = overrides.ModelDir
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.Offline {
		cfg.Pipeline.OfflineMode = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "sqlite", "s3":
	default:
		return fmt.Errorf("STORE_BACKEND must be file, sqlite or s3, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "s3" && !c.Store.S3.Enabled() {
		return fmt.Errorf("STORE_BACKEND=s3 requires S3_BUCKET")
	}
	if c.Pipeline.ChunkBytes <= 0 {
		return fmt.Errorf("CHUNK_BYTES must be positive")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.Cache.MaxItems <= 0 {
		return fmt.Errorf("CACHE_MAX_ITEMS must be positive")
	}
	return nil
}
