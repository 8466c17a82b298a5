package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
}

type StreamConfig struct {
	// Timeout is the inactivity gap after which an open session is
	// considered finished and flushed to disk.
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// LogEvery controls how often (in batches) a progress summary is
	// logged while a session is receiving.
	LogEvery int `yaml:"log_every"`
}

type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	UploadDir string `yaml:"upload_dir"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			SendBuffer: 64,
		},
		Stream: StreamConfig{
			Timeout:      5 * time.Second,
			PollInterval: time.Second,
			LogEvery:     10,
		},
		Storage: StorageConfig{
			DataDir:   "./co2_data_recordings",
			UploadDir: "./uploads",
		},
	}
}

// Load reads the YAML config at path on top of the coded defaults. A
// missing file is not an error: the defaults plus any environment
// overrides are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CO2STREAM_* environment variables, typically loaded
// from a .env file before Load is called.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CO2STREAM_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CO2STREAM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CO2STREAM_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CO2STREAM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CO2STREAM_UPLOAD_DIR"); v != "" {
		c.Storage.UploadDir = v
	}
	if v := os.Getenv("CO2STREAM_STREAM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CO2STREAM_STREAM_TIMEOUT: %w", err)
		}
		c.Stream.Timeout = d
	}
	return nil
}
