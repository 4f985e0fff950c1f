// Package config resolves the client's settings from an optional TOML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkuntong/highlanderhomes-sub002/internal/realtime"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

const (
	defaultHome        = "~/.propsync"
	defaultBaseURL     = "http://127.0.0.1:3210"
	defaultHTTPTimeout = 30 * time.Second
	defaultLogLevel    = "info"
	configFileName     = "config.toml"
)

type Config struct {
	// BaseURL is the deployment URL (scheme and host, no /api suffix).
	BaseURL string
	// APIVersion is the version segment of the realtime sync path.
	APIVersion string

	// Home is the directory holding local state.
	Home string
	// StatePath is the persisted session file.
	StatePath string
	// SecretKeyPath is the key sealing the session file.
	SecretKeyPath string
	// EncryptState seals persisted values with the secret key.
	EncryptState bool
	// MirrorPath is the offline mirror database.
	MirrorPath string

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string
	// HTTPTimeout bounds each HTTP call.
	HTTPTimeout time.Duration
	// Debug enables verbose logging.
	Debug bool
}

type fileConfig struct {
	BaseURL       string `toml:"base_url"`
	APIVersion    string `toml:"api_version"`
	StatePath     string `toml:"state_path"`
	SecretKeyPath string `toml:"secret_key_path"`
	EncryptState  *bool  `toml:"encrypt_state"`
	MirrorPath    string `toml:"mirror_path"`
	LogLevel      string `toml:"log_level"`
	HTTPTimeout   string `toml:"http_timeout"`
}

// Load builds the configuration. path names the TOML file; when empty,
// config.toml under the home directory is used. A missing file means
// defaults. Environment variables override the file.
func Load(path string) (*Config, error) {
	home := strings.TrimSpace(os.Getenv("PROPSYNC_HOME"))
	if home == "" {
		home = defaultHome
	}
	home, err := expandPath(home)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(path) == "" {
		path = filepath.Join(home, configFileName)
	}
	path, err = expandPath(path)
	if err != nil {
		return nil, err
	}

	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BaseURL:       firstNonEmpty(raw.BaseURL, defaultBaseURL),
		APIVersion:    firstNonEmpty(raw.APIVersion, realtime.DefaultAPIVersion),
		Home:          home,
		StatePath:     firstNonEmpty(raw.StatePath, filepath.Join(home, "session.json")),
		SecretKeyPath: firstNonEmpty(raw.SecretKeyPath, filepath.Join(home, "secret.key")),
		EncryptState:  true,
		MirrorPath:    firstNonEmpty(raw.MirrorPath, filepath.Join(home, "mirror.db")),
		LogLevel:      firstNonEmpty(raw.LogLevel, defaultLogLevel),
		HTTPTimeout:   defaultHTTPTimeout,
	}
	if raw.EncryptState != nil {
		cfg.EncryptState = *raw.EncryptState
	}
	if t := strings.TrimSpace(raw.HTTPTimeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid http_timeout %q", raw.HTTPTimeout)
		}
		cfg.HTTPTimeout = d
	}

	if v := os.Getenv("PROPSYNC_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PROPSYNC_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	if v := os.Getenv("PROPSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	debug := os.Getenv("DEBUG")
	cfg.Debug = debug == "true" || debug == "1"
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	for _, p := range []*string{&cfg.StatePath, &cfg.SecretKeyPath, &cfg.MirrorPath} {
		if *p, err = expandPath(*p); err != nil {
			return nil, err
		}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := realtime.SyncURL(cfg.BaseURL, cfg.APIVersion); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnsureHome creates the home directory with owner-only permissions.
func (c *Config) EnsureHome() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return fmt.Errorf("failed to create home: %w", err)
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return raw, nil
		}
		return raw, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return raw, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
