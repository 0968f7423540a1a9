package caterva

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qri-io/caterva-go/internal/logging"
)

// Config is the YAML configuration of the caterva tool.
type Config struct {
	// Compression configures how new chunks are compressed.
	Compression CompressionConfig `yaml:"compression"`

	// Decompression configures chunk reads.
	Decompression DecompressionConfig `yaml:"decompression"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// CompressionConfig mirrors CompressionParams with codec and filter names.
type CompressionConfig struct {
	// Codec is one of lz4, lz4hc, snappy, zlib, zstd, gzip.
	Codec string `yaml:"codec"`

	// Level is 0 (store raw) to 9.
	Level int `yaml:"level"`

	UseDict bool `yaml:"use_dict"`

	// TypeSize is the item size in bytes.
	TypeSize int `yaml:"typesize"`

	// Threads bounds the workers of one call.
	Threads int `yaml:"threads"`

	// BlockSize is the codec block length in bytes, 0 for the default.
	BlockSize int `yaml:"blocksize"`

	// Filters run in order before the codec.
	Filters []FilterConfig `yaml:"filters"`
}

// FilterConfig is one filter pipeline stage.
type FilterConfig struct {
	// Name is one of shuffle, bitshuffle, delta, truncprec.
	Name string `yaml:"name"`

	// Meta is the filter argument; mantissa bits kept for truncprec.
	Meta uint8 `yaml:"meta"`
}

type DecompressionConfig struct {
	Threads int `yaml:"threads"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches from text to JSON output.
	JSON bool `yaml:"json"`
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the settings of DefaultCompressionParams with info
// level text logging.
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			Codec:    "lz4",
			Level:    5,
			TypeSize: 8,
			Threads:  1,
			Filters:  []FilterConfig{{Name: "shuffle"}},
		},
		Decompression: DecompressionConfig{
			Threads: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Compression.Params(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	if c.Decompression.Threads < 0 {
		errs = append(errs, errors.New("decompression: threads must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown level %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Params converts the compression settings.
func (c CompressionConfig) Params() (CompressionParams, error) {
	var errs []error
	p := CompressionParams{
		Level:     c.Level,
		UseDict:   c.UseDict,
		TypeSize:  c.TypeSize,
		NThreads:  c.Threads,
		BlockSize: c.BlockSize,
	}
	id, err := ParseCodec(c.Codec)
	if err != nil {
		errs = append(errs, err)
	}
	p.Codec = id
	for _, f := range c.Filters {
		fid, err := ParseFilter(f.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.Filters = append(p.Filters, Filter{ID: fid, Meta: f.Meta})
	}
	if len(errs) == 0 {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return p, errors.Join(errs...)
}

// Params returns the compression and decompression parameters.
func (c *Config) Params() (CompressionParams, DecompressionParams, error) {
	cp, err := c.Compression.Params()
	if err != nil {
		return cp, DecompressionParams{}, err
	}
	return cp, DecompressionParams{NThreads: c.Decompression.Threads}, nil
}

// SlogLevel is the configured log level.
func (c LoggingConfig) SlogLevel() slog.Level {
	return logging.ParseLevel(c.Level)
}

// InitLogging installs the configured process logger.
func (c LoggingConfig) InitLogging() {
	logging.Init(c.SlogLevel(), c.JSON)
}
