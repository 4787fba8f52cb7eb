package callz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Settings formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Settings errors.
var (
	ErrUnknownSettingsFormat = errors.New("unknown settings format")
	ErrInvalidSettings       = errors.New("invalid settings")
)

// Settings is the file-loadable subset of Config: timeouts and the shape of
// the standard retry strategy.
//
// YAML:
//
//	timeouts:
//	  operation: 30s
//	  attempt: 5s
//	retry:
//	  max_attempts: 3
//	  base_delay: 100ms
//	  honor_delay: true
//
// TOML:
//
//	[timeouts]
//	operation = "30s"
//	attempt = "5s"
//
//	[retry]
//	max_attempts = 3
type Settings struct {
	Timeouts        TimeoutConfig
	MaxAttempts     int
	BaseDelay       time.Duration
	HonorRetryDelay bool
}

// DefaultSettings returns settings with no timeouts and a single attempt.
func DefaultSettings() Settings {
	return Settings{MaxAttempts: 1}
}

type fileTimeouts struct {
	Operation string `yaml:"operation" toml:"operation"`
	Attempt   string `yaml:"attempt" toml:"attempt"`
}

type fileRetry struct {
	MaxAttempts *int   `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay" toml:"base_delay"`
	HonorDelay  *bool  `yaml:"honor_delay" toml:"honor_delay"`
}

type fileSettings struct {
	Timeouts fileTimeouts `yaml:"timeouts" toml:"timeouts"`
	Retry    fileRetry    `yaml:"retry" toml:"retry"`
}

// LoadSettings reads settings from path. The format follows the extension:
// .yaml and .yml for YAML, .toml for TOML.
func LoadSettings(path string) (Settings, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownSettingsFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data, format)
}

// ParseSettings decodes settings in the given format on top of the defaults
// and validates the result.
func ParseSettings(data []byte, format string) (Settings, error) {
	var raw fileSettings
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Settings{}, fmt.Errorf("parse yaml settings: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return Settings{}, fmt.Errorf("parse toml settings: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownSettingsFormat, format)
	}

	s := DefaultSettings()
	var err error
	if s.Timeouts.Operation, err = parseDuration("timeouts.operation", raw.Timeouts.Operation); err != nil {
		return Settings{}, err
	}
	if s.Timeouts.Attempt, err = parseDuration("timeouts.attempt", raw.Timeouts.Attempt); err != nil {
		return Settings{}, err
	}
	if s.BaseDelay, err = parseDuration("retry.base_delay", raw.Retry.BaseDelay); err != nil {
		return Settings{}, err
	}
	if raw.Retry.MaxAttempts != nil {
		s.MaxAttempts = *raw.Retry.MaxAttempts
	}
	if raw.Retry.HonorDelay != nil {
		s.HonorRetryDelay = *raw.Retry.HonorDelay
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// Validate checks that the settings describe a usable configuration.
func (s Settings) Validate() error {
	var errs []error
	if s.Timeouts.Operation < 0 {
		errs = append(errs, fmt.Errorf("%w: timeouts.operation must not be negative", ErrInvalidSettings))
	}
	if s.Timeouts.Attempt < 0 {
		errs = append(errs, fmt.Errorf("%w: timeouts.attempt must not be negative", ErrInvalidSettings))
	}
	if s.Timeouts.Operation > 0 && s.Timeouts.Attempt > s.Timeouts.Operation {
		errs = append(errs, fmt.Errorf("%w: timeouts.attempt exceeds timeouts.operation", ErrInvalidSettings))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidSettings))
	}
	if s.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: retry.base_delay must not be negative", ErrInvalidSettings))
	}
	if s.BaseDelay > 0 && !s.HonorRetryDelay {
		errs = append(errs, fmt.Errorf("%w: retry.base_delay requires retry.honor_delay", ErrInvalidSettings))
	}
	return errors.Join(errs...)
}

// SettingsPlugin applies settings to every invocation: timeouts, delay
// handling and a StandardRetry shaped by MaxAttempts and BaseDelay.
// Register it as a client plugin so operation plugins can still override.
func SettingsPlugin[In, Req, Resp, Out any](s Settings) RuntimePlugin[In, Req, Resp, Out] {
	return PluginFunc[In, Req, Resp, Out](func(cfg *Config[In, Req, Resp, Out], _ *Interceptors[In, Req, Resp, Out]) error {
		if err := s.Validate(); err != nil {
			return err
		}
		cfg.Timeouts = s.Timeouts
		cfg.HonorRetryDelay = s.HonorRetryDelay
		cfg.RetryStrategy = StandardRetry[In, Req, Resp, Out]{
			MaxAttempts: s.MaxAttempts,
			BaseDelay:   s.BaseDelay,
		}
		return nil
	})
}
