// Package config provides centralized management for application settings,
// defaults, and the Viper-based configuration engine.
package config

import (
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/platform"
)

// Settings keys
const (
	KeyDownloadDir  = "download_directory"
	KeyMaxParallel  = "max_parallel_downloads"
	KeyOutputFormat = "output_format"
	KeyRateLimit    = "rate_limit_rps"
	KeyReferer      = "http_referer"
	KeyUserAgent    = "http_user_agent"
	KeyLogLevel     = "log_level"
)

// Default values
const (
	DefaultMaxParallel  = 4
	DefaultOutputFormat = string(model.FormatTS)
	DefaultRateLimit    = 0.0
	DefaultLogLevel     = "info"

	ConfigName = "hls-downloader"
	ConfigType = "toml"
	EnvPrefix  = "HLSDL"
)

// EnvKeyReplacer normalizes configuration keys into environment variable
// naming conventions.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Settings manages application configuration
type Settings struct {
	v *viper.Viper
}

// NewSettings creates a settings manager backed by the given filesystem.
// Defaults are registered immediately; Load reads the config file on top.
func NewSettings(fs afero.Fs) *Settings {
	v := viper.New()
	v.SetConfigName(ConfigName)
	v.SetConfigType(ConfigType)
	v.SetFs(fs)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()

	v.SetTypeByDefaultValue(true)
	v.SetDefault(KeyMaxParallel, DefaultMaxParallel)
	v.SetDefault(KeyOutputFormat, DefaultOutputFormat)
	v.SetDefault(KeyRateLimit, DefaultRateLimit)
	v.SetDefault(KeyReferer, "")
	v.SetDefault(KeyUserAgent, "")
	v.SetDefault(KeyLogLevel, DefaultLogLevel)

	return &Settings{v: v}
}

// Load reads the configuration file from the given directory. A missing
// file is not an error; defaults and environment remain in effect.
func (s *Settings) Load(configDir string) error {
	s.v.AddConfigPath(configDir)
	if err := s.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// GetDownloadDirectory returns the configured download directory
func (s *Settings) GetDownloadDirectory() string {
	dir := s.v.GetString(KeyDownloadDir)
	if dir == "" {
		defaultDir, err := platform.HomeDownloadsDir()
		if err != nil {
			defaultDir = "/tmp/downloads"
		}
		s.SetDownloadDirectory(defaultDir)
		return defaultDir
	}
	return dir
}

// SetDownloadDirectory sets the download directory
func (s *Settings) SetDownloadDirectory(dir string) {
	s.v.Set(KeyDownloadDir, dir)
}

// GetMaxParallelDownloads returns the maximum number of parallel segment
// downloads, clamped to the supported range
func (s *Settings) GetMaxParallelDownloads() int {
	value := s.v.GetInt(KeyMaxParallel)
	if value < model.MinConcurrency {
		return DefaultMaxParallel
	}
	if value > model.MaxConcurrency {
		return model.MaxConcurrency
	}
	return value
}

// SetMaxParallelDownloads sets the maximum number of parallel downloads
func (s *Settings) SetMaxParallelDownloads(count int) {
	if count < model.MinConcurrency {
		count = model.MinConcurrency
	}
	if count > model.MaxConcurrency {
		count = model.MaxConcurrency
	}
	s.v.Set(KeyMaxParallel, count)
}

// GetOutputFormat returns the configured container format, falling back to
// the default when the stored value is not recognized
func (s *Settings) GetOutputFormat() model.Format {
	format, err := model.ParseFormat(s.v.GetString(KeyOutputFormat))
	if err != nil {
		return model.FormatTS
	}
	return format
}

// SetOutputFormat sets the container format
func (s *Settings) SetOutputFormat(format model.Format) {
	s.v.Set(KeyOutputFormat, string(format))
}

// GetRateLimit returns the politeness limit in requests per second.
// Zero disables rate limiting.
func (s *Settings) GetRateLimit() float64 {
	limit := s.v.GetFloat64(KeyRateLimit)
	if limit < 0 {
		return 0
	}
	return limit
}

// GetReferer returns the Referer header value to send with requests
func (s *Settings) GetReferer() string {
	return s.v.GetString(KeyReferer)
}

// GetUserAgent returns the User-Agent override, empty for the default
func (s *Settings) GetUserAgent() string {
	return s.v.GetString(KeyUserAgent)
}

// GetLogLevel returns the configured log verbosity
func (s *Settings) GetLogLevel() string {
	level := s.v.GetString(KeyLogLevel)
	if level == "" {
		return DefaultLogLevel
	}
	return level
}

// GetOutputFormatOptions returns the supported container formats
func (s *Settings) GetOutputFormatOptions() []model.Format {
	return []model.Format{model.FormatTS, model.FormatMP4, model.FormatMKV, model.FormatWebM}
}
