package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           int      `env:"PORT" envDefault:"8090"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	OllamaBaseURL  string   `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	GeneratePath   string   `env:"OLLAMA_GENERATE_PATH" envDefault:"/api/generate"`
	Model          string   `env:"OLLAMA_MODEL" envDefault:"qwen2-math:1.5b"`
	ReadBufferSize int      `env:"READ_BUFFER_SIZE" envDefault:"32768"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Optional side channels; empty disables them.
	DatabaseURL  string `env:"DATABASE_URL"`
	NATSStoreDir string `env:"NATS_STORE_DIR"`

	DBMaxConns       int32         `env:"DB_MAX_CONNS" envDefault:"4"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`

	NATSServerName    string        `env:"NATS_SERVER_NAME" envDefault:"crunchypi"`
	NATSReadyTimeout  time.Duration `env:"NATS_READY_TIMEOUT" envDefault:"5s"`
	NATSHandleSignals bool          `env:"NATS_HANDLE_SIGNALS" envDefault:"false"`

	WriterBufferSize int `env:"WRITER_BUFFER_SIZE" envDefault:"1000"`
	WriterBatchSize  int `env:"WRITER_BATCH_SIZE" envDefault:"50"`
	WriterFlushMs    int `env:"WRITER_FLUSH_MS" envDefault:"100"`
}

// Load reads a .env file if one exists, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("OLLAMA_MODEL must not be empty")
	}
	u, err := url.Parse(c.OllamaBaseURL)
	if err != nil {
		return fmt.Errorf("parse OLLAMA_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("OLLAMA_URL %q must be an absolute http(s) URL", c.OllamaBaseURL)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("READ_BUFFER_SIZE must be positive, got %d", c.ReadBufferSize)
	}
	if c.WriterBatchSize <= 0 || c.WriterFlushMs <= 0 {
		return errors.New("WRITER_BATCH_SIZE and WRITER_FLUSH_MS must be positive")
	}
	return nil
}
