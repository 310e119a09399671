package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"car-assistant/internal/history"

	"github.com/BurntSushi/toml"
)

// Blob backends
const (
	BackendGCS  = "gcs"
	BackendDir  = "dir"
	BackendNone = "none"
)

// Config holds all application configuration
type Config struct {
	// Assistant settings
	APIURL            string        `toml:"api_url"`
	AskTimeout        time.Duration `toml:"ask_timeout"`
	RequestsPerMinute int           `toml:"requests_per_minute"`

	// Local storage
	DataDir string `toml:"data_dir"`

	// Identity
	UserID string `toml:"user_id"`

	// Remote mirror
	BlobBackend     string `toml:"blob_backend"`
	Bucket          string `toml:"bucket"`
	CredentialsFile string `toml:"credentials_file"`
	BlobDir         string `toml:"blob_dir"`

	// Display
	RenderMarkdown bool `toml:"render_markdown"`
	Verbose        bool `toml:"verbose"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		APIURL:            "https://manual-final.onrender.com",
		AskTimeout:        60 * time.Second,
		RequestsPerMinute: 30,

		DataDir: expandHome("~/.car-assistant"),

		BlobBackend: BackendNone,

		RenderMarkdown: true,
		Verbose:        false,
	}
}

// DefaultPath is where Load looks for the config file
func DefaultPath() string {
	return expandHome("~/.car-assistant/config.toml")
}

// Load builds a config from defaults, the TOML file at path and the
// environment, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.BlobDir = expandHome(cfg.BlobDir)
	cfg.CredentialsFile = expandHome(cfg.CredentialsFile)
	return cfg, nil
}

// ApplyEnvOverrides applies CAR_ASSISTANT_* environment variables
func (c *Config) ApplyEnvOverrides() error {
	if v := GetEnv("CAR_ASSISTANT_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := GetEnv("CAR_ASSISTANT_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := GetEnv("CAR_ASSISTANT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := GetEnv("CAR_ASSISTANT_BUCKET"); v != "" {
		c.Bucket = v
		if c.BlobBackend == BackendNone {
			c.BlobBackend = BackendGCS
		}
	}
	if v := GetEnv("CAR_ASSISTANT_ASK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CAR_ASSISTANT_ASK_TIMEOUT: %w", err)
		}
		c.AskTimeout = d
	}
	if v := GetEnv("CAR_ASSISTANT_VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CAR_ASSISTANT_VERBOSE: %w", err)
		}
		c.Verbose = b
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL cannot be empty")
	}
	if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API URL %q is not an absolute URL", c.APIURL)
	}
	if c.AskTimeout <= 0 {
		return fmt.Errorf("ask timeout must be positive")
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("requests per minute cannot be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}

	switch c.BlobBackend {
	case BackendNone:
	case BackendGCS:
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for the %s backend", BackendGCS)
		}
	case BackendDir:
		if c.BlobDir == "" {
			return fmt.Errorf("blob dir is required for the %s backend", BackendDir)
		}
	default:
		return fmt.Errorf("unknown blob backend %q (want %s, %s or %s)", c.BlobBackend, BackendGCS, BackendDir, BackendNone)
	}
	return nil
}

// HistoryPath is the location of the saved-chat document
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, history.DefaultFileName)
}

// LogPath is the location of the application log
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "car-assistant.log")
}

// expandHome expands the ~ in file paths to the user's home directory
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		return getHomeDir() + path[1:]
	}
	return path
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	if home := GetEnv("HOME"); home != "" {
		return home
	}
	// Fallback for Windows
	if home := GetEnv("USERPROFILE"); home != "" {
		return home
	}
	return "."
}

// GetEnv is a wrapper around os.Getenv for easier testing
var GetEnv = func(key string) string {
	// Replaced with os.Getenv in main
	return ""
}
