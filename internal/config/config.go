// Package config loads classify-api settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/classify-api/internal/preprocess"
)

// Config represents the full configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Preprocess PreprocessConfig `yaml:"preprocess"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	CORS        bool   `yaml:"cors"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	// ShutdownTimeout is in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// ModelConfig locates the exported model and sizes the session pool.
type ModelConfig struct {
	// Backend is "onnx" or "tensorflow".
	Backend           string `yaml:"backend"`
	Dir               string `yaml:"dir"`
	ExpectedVersion   int    `yaml:"expected_version"`
	ImageInput        string `yaml:"image_input"`
	ConfidenceOutput  string `yaml:"confidence_output"`
	PoolSize          int    `yaml:"pool_size"`
	IntraOpThreads    int    `yaml:"intra_op_threads"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	// LazyLoad defers loading until the first request.
	LazyLoad bool `yaml:"lazy_load"`
}

// PreprocessConfig controls decoding and resizing.
type PreprocessConfig struct {
	Resample string   `yaml:"resample"`
	Formats  []string `yaml:"formats"`
}

// StoreConfig enables the prediction audit log when DatabasePath is set.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LogConfig selects level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Model backends.
const (
	BackendONNX       = "onnx"
	BackendTensorFlow = "tensorflow"
)

// DefaultFiles are searched in order when no config path is given.
var DefaultFiles = []string{"classify-api.yaml", "config.yaml"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			CORS:            true,
			MaxUploadMB:     10,
			ShutdownTimeout: 10,
		},
		Model: ModelConfig{
			Backend:          BackendONNX,
			Dir:              "..",
			ExpectedVersion:  1,
			ImageInput:       "Image",
			ConfidenceOutput: "Confidences",
			PoolSize:         1,
		},
		Preprocess: PreprocessConfig{
			Resample: "bicubic",
			Formats:  preprocess.DefaultFormats,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path, or from the first default file found
// when path is empty. Values from .env and the environment override the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Model.Backend = getEnv("MODEL_BACKEND", c.Model.Backend)
	c.Model.Dir = getEnv("MODEL_DIR", c.Model.Dir)
	c.Model.SharedLibraryPath = getEnv("ONNXRUNTIME_LIB", c.Model.SharedLibraryPath)
	c.Model.PoolSize = getEnvAsInt("POOL_SIZE", c.Model.PoolSize)
	c.Store.DatabasePath = getEnv("DATABASE_PATH", c.Store.DatabasePath)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	if c.Model.Dir == "" {
		return fmt.Errorf("model.dir cannot be empty")
	}
	switch c.Model.Backend {
	case BackendONNX, BackendTensorFlow:
	default:
		return fmt.Errorf("model.backend must be %q or %q", BackendONNX, BackendTensorFlow)
	}
	if c.Model.ExpectedVersion < 0 {
		return fmt.Errorf("model.expected_version cannot be negative")
	}
	if c.Model.PoolSize < 1 {
		return fmt.Errorf("model.pool_size must be at least 1")
	}
	if c.Model.IntraOpThreads < 0 {
		return fmt.Errorf("model.intra_op_threads cannot be negative")
	}
	if _, err := preprocess.ParseFilter(c.Preprocess.Resample); err != nil {
		return fmt.Errorf("preprocess.resample: %w", err)
	}
	for _, f := range c.Preprocess.Formats {
		if !knownFormat(f) {
			return fmt.Errorf("preprocess.formats: unsupported format %q", f)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func knownFormat(format string) bool {
	format = strings.ToLower(format)
	if format == "jpg" {
		return true
	}
	for _, f := range preprocess.DefaultFormats {
		if f == format {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
