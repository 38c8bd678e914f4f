// Package config provides configuration management for the clipcycle agent.
// Configuration is loaded with viper from an optional YAML file and
// CLIPCYCLE_-prefixed environment variables, with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipcycle"

	// Database filename
	DBFilename = "clipcycle.db"

	// EnvConfigFile points at an explicit config file; otherwise
	// clipcycle.yaml in the data dir is used when present.
	EnvConfigFile = "CLIPCYCLE_CONFIG"
)

// UploadSettings holds the metadata applied to destination-platform uploads.
// Template fields: {clip_title} {creator} {broadcaster} {game} {clip_url}
// {views} {duration}.
type UploadSettings struct {
	TitleTemplate       string
	DescriptionTemplate string
	Tags                []string
	CategoryID          string
	Privacy             string
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	DownloadsDir() string
	TokenPath() string

	RotationSize() int
	RefreshHour() int
	RefreshMinute() int
	AcquireInterval() time.Duration
	SweepInterval() time.Duration

	TwitchClientID() string
	TwitchClientSecret() string

	YouTubeClientID() string
	YouTubeClientSecret() string
	YouTubeRedirectURL() string

	Upload() UploadSettings
}

// ViperConfig reads configuration through a viper instance.
type ViperConfig struct {
	v *viper.Viper
}

// New creates a ViperConfig with defaults, optional file and env overrides.
func New() (*ViperConfig, error) {
	v := viper.New()

	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("rotation.size", 5)
	v.SetDefault("refresh.hour", 3)
	v.SetDefault("refresh.minute", 0)
	v.SetDefault("acquire.interval", "1h")
	v.SetDefault("uploader.sweep_interval", "5m")
	v.SetDefault("youtube.redirect_url", "http://localhost:8787/auth/youtube/callback")
	v.SetDefault("upload.title_template", "{clip_title} - Twitch Clips")
	v.SetDefault("upload.description_template", "Automatically uploaded Twitch clip.\n\nSource: {clip_url}")
	v.SetDefault("upload.tags", []string{"twitch", "gaming", "clips"})
	v.SetDefault("upload.category_id", "20")
	v.SetDefault("upload.privacy", "public")

	v.SetEnvPrefix("CLIPCYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("clipcycle")
		v.SetConfigType("yaml")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &ViperConfig{v: v}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ViperConfig) validate() error {
	if p := c.Port(); p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", p)
	}
	if n := c.RotationSize(); n < 1 || n > 100 {
		return fmt.Errorf("invalid rotation.size %d: must be between 1 and 100", n)
	}
	if h := c.RefreshHour(); h < 0 || h > 23 {
		return fmt.Errorf("invalid refresh.hour %d", h)
	}
	if m := c.RefreshMinute(); m < 0 || m > 59 {
		return fmt.Errorf("invalid refresh.minute %d", m)
	}
	switch c.Upload().Privacy {
	case "public", "unlisted", "private":
	default:
		return fmt.Errorf("invalid upload.privacy %q: must be public, unlisted or private", c.Upload().Privacy)
	}
	return nil
}

// Port returns the HTTP server port
func (c *ViperConfig) Port() int {
	return c.v.GetInt("port")
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *ViperConfig) LogLevel() string {
	return c.v.GetString("log_level")
}

// DataDir returns the data directory path
func (c *ViperConfig) DataDir() string {
	return c.v.GetString("data_dir")
}

// DBPath returns the full path to the SQLite database file
func (c *ViperConfig) DBPath() string {
	return filepath.Join(c.DataDir(), DBFilename)
}

// DownloadsDir returns the directory holding downloaded clip media
func (c *ViperConfig) DownloadsDir() string {
	return filepath.Join(c.DataDir(), "downloads")
}

// TokenPath returns the path of the persisted destination-platform credential
func (c *ViperConfig) TokenPath() string {
	return filepath.Join(c.DataDir(), "youtube_token.json")
}

// RotationSize returns the number of categories kept in rotation
func (c *ViperConfig) RotationSize() int {
	return c.v.GetInt("rotation.size")
}

// RefreshHour returns the UTC hour of the daily category refresh
func (c *ViperConfig) RefreshHour() int {
	return c.v.GetInt("refresh.hour")
}

// RefreshMinute returns the UTC minute of the daily category refresh
func (c *ViperConfig) RefreshMinute() int {
	return c.v.GetInt("refresh.minute")
}

// AcquireInterval returns the cadence of the acquisition job. It is also
// the lookback window for the clip query.
func (c *ViperConfig) AcquireInterval() time.Duration {
	return c.duration("acquire.interval", time.Hour)
}

// SweepInterval returns the cadence of the upload orchestrator sweep
func (c *ViperConfig) SweepInterval() time.Duration {
	return c.duration("uploader.sweep_interval", 5*time.Minute)
}

func (c *ViperConfig) TwitchClientID() string {
	return c.v.GetString("twitch.client_id")
}

func (c *ViperConfig) TwitchClientSecret() string {
	return c.v.GetString("twitch.client_secret")
}

func (c *ViperConfig) YouTubeClientID() string {
	return c.v.GetString("youtube.client_id")
}

func (c *ViperConfig) YouTubeClientSecret() string {
	return c.v.GetString("youtube.client_secret")
}

func (c *ViperConfig) YouTubeRedirectURL() string {
	return c.v.GetString("youtube.redirect_url")
}

func (c *ViperConfig) Upload() UploadSettings {
	return UploadSettings{
		TitleTemplate:       c.v.GetString("upload.title_template"),
		DescriptionTemplate: c.v.GetString("upload.description_template"),
		Tags:                c.v.GetStringSlice("upload.tags"),
		CategoryID:          c.v.GetString("upload.category_id"),
		Privacy:             c.v.GetString("upload.privacy"),
	}
}

func (c *ViperConfig) duration(key string, fallback time.Duration) time.Duration {
	d := c.v.GetDuration(key)
	if d <= 0 {
		return fallback
	}
	return d
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
