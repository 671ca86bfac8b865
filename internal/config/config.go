package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/spillcache/internal/codec"
	"github.com/objectfs/spillcache/pkg/errors"
	"github.com/objectfs/spillcache/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPILLCACHE_"

// Configuration represents the complete spill cache configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Spill      SpillConfig      `yaml:"spill"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents logging settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SpillConfig represents where and how Parts are written
type SpillConfig struct {
	// Directory holds the Part files; the system temp directory when empty.
	Directory string `yaml:"directory"`
	// Prefix names the Part files; a random spill-<uuid> when empty.
	Prefix string `yaml:"prefix"`

	MaxPartSize    string            `yaml:"max_part_size"`
	CopyBufferSize string            `yaml:"copy_buffer_size"`
	Compression    CompressionConfig `yaml:"compression"`
	Encryption     EncryptionConfig  `yaml:"encryption"`
}

// CompressionConfig represents compression settings
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
}

// EncryptionConfig represents the Part cipher settings
type EncryptionConfig struct {
	Cipher    string `yaml:"cipher"`
	NonceMode string `yaml:"nonce_mode"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Namespace    string            `yaml:"namespace"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Spill: SpillConfig{
			Directory:      "",
			Prefix:         "",
			MaxPartSize:    "4MiB",
			CopyBufferSize: "64KiB",
			Compression: CompressionConfig{
				Algorithm: string(codec.CompressionZstd),
				Level:     3,
			},
			Encryption: EncryptionConfig{
				Cipher:    string(codec.CipherAESCTR),
				NonceMode: string(codec.NoncePerPart),
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:      true,
				Namespace:    "spillcache",
				CustomLabels: map[string]string{},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").WithDetail("file", filename)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv applies SPILLCACHE_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	str := map[string]*string{
		"LOG_LEVEL":         &c.Global.LogLevel,
		"LOG_FORMAT":        &c.Global.LogFormat,
		"DIR":               &c.Spill.Directory,
		"PREFIX":            &c.Spill.Prefix,
		"MAX_PART_SIZE":     &c.Spill.MaxPartSize,
		"COPY_BUFFER_SIZE":  &c.Spill.CopyBufferSize,
		"COMPRESSION":       &c.Spill.Compression.Algorithm,
		"CIPHER":            &c.Spill.Encryption.Cipher,
		"NONCE_MODE":        &c.Spill.Encryption.NonceMode,
		"METRICS_NAMESPACE": &c.Monitoring.Metrics.Namespace,
	}
	for name, field := range str {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*field = val
		}
	}

	if val := os.Getenv(EnvPrefix + "COMPRESSION_LEVEL"); val != "" {
		level, err := strconv.Atoi(val)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigLoad, "invalid "+EnvPrefix+"COMPRESSION_LEVEL").
				WithComponent("config")
		}
		c.Spill.Compression.Level = level
	}
	if val := os.Getenv(EnvPrefix + "METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(strings.ToLower(val))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigLoad, "invalid "+EnvPrefix+"METRICS_ENABLED").
				WithComponent("config")
		}
		c.Monitoring.Metrics.Enabled = enabled
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config").WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").WithComponent("config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").WithComponent("config")
	}

	return nil
}

// MaxPartSizeBytes returns the parsed per-Part plaintext threshold.
func (c *Configuration) MaxPartSizeBytes() (int64, error) {
	return parseSize("max_part_size", c.Spill.MaxPartSize)
}

// CopyBufferSizeBytes returns the parsed producer copy buffer size.
func (c *Configuration) CopyBufferSizeBytes() (int64, error) {
	return parseSize("copy_buffer_size", c.Spill.CopyBufferSize)
}

// CodecOptions returns the Part encoding options.
func (c *Configuration) CodecOptions() (codec.Options, error) {
	comp, err := codec.ParseCompression(c.Spill.Compression.Algorithm)
	if err != nil {
		return codec.Options{}, validationError("compression.algorithm", err)
	}
	ciph, err := codec.ParseCipher(c.Spill.Encryption.Cipher)
	if err != nil {
		return codec.Options{}, validationError("encryption.cipher", err)
	}
	mode, err := codec.ParseNonceMode(c.Spill.Encryption.NonceMode)
	if err != nil {
		return codec.Options{}, validationError("encryption.nonce_mode", err)
	}

	opts := codec.Options{
		Cipher:           ciph,
		Compression:      comp,
		CompressionLevel: c.Spill.Compression.Level,
		NonceMode:        mode,
	}
	if err := opts.Validate(); err != nil {
		return codec.Options{}, validationError("compression.level", err)
	}
	return opts, nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return validationError("log_level", err)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return validationError("log_format", err)
	}

	if c.Spill.Prefix != "" {
		if err := utils.ValidateFileName(c.Spill.Prefix); err != nil {
			return validationError("prefix", err)
		}
	}

	maxPart, err := c.MaxPartSizeBytes()
	if err != nil {
		return err
	}
	copyBuf, err := c.CopyBufferSizeBytes()
	if err != nil {
		return err
	}
	if copyBuf > maxPart {
		return validationError("copy_buffer_size",
			fmt.Errorf("%s exceeds max_part_size %s", utils.FormatBytes(copyBuf), utils.FormatBytes(maxPart)))
	}

	if _, err := c.CodecOptions(); err != nil {
		return err
	}

	if c.Monitoring.Metrics.Enabled && c.Monitoring.Metrics.Namespace == "" {
		return validationError("metrics.namespace", fmt.Errorf("must be set when metrics are enabled"))
	}

	return nil
}

func parseSize(field, value string) (int64, error) {
	n, err := utils.ParseBytes(value)
	if err != nil {
		return 0, validationError(field, err)
	}
	if n <= 0 {
		return 0, validationError(field, fmt.Errorf("must be greater than 0"))
	}
	return n, nil
}

func validationError(field string, cause error) error {
	return errors.Wrap(cause, errors.ErrCodeConfigValidation, "invalid "+field).
		WithComponent("config").
		WithDetail("field", field)
}
