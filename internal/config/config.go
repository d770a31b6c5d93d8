package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eddison/webadmin/internal/shell"
)

const (
	FileName       = "config.yaml"
	LiveReloadPath = "/v1/livereload"
)

var ErrInvalid = errors.New("invalid config")

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/webadmin"
	}
	return filepath.Join(home, ".webadmin")
}

type Config struct {
	// Server
	Addr           string   `yaml:"addr"`
	DataDir        string   `yaml:"-"`
	StaticDir      string   `yaml:"static_dir"`
	TLSCert        string   `yaml:"tls_cert"`
	TLSKey         string   `yaml:"tls_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Page
	Title       string `yaml:"title"`
	Lang        string `yaml:"lang"`
	Stylesheet  string `yaml:"stylesheet"`
	IconFontURL string `yaml:"icon_font_url"`

	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	LiveReload      bool   `yaml:"live_reload"`
	Metrics         bool   `yaml:"metrics"`
	LogLevel        string `yaml:"log_level"`
}

func Default(dataDir string) *Config {
	return &Config{
		Addr:            ":8080",
		DataDir:         dataDir,
		Title:           shell.DefaultTitle,
		Lang:            shell.DefaultLang,
		Stylesheet:      shell.DefaultStylesheet,
		IconFontURL:     shell.DefaultIconFont,
		RateLimitPerMin: 120,
		Metrics:         true,
		LogLevel:        "info",
	}
}

// Load reads config.yaml from dataDir, creating the directory and a
// default file on first run. Unreadable or malformed files fall back to defaults.
func Load(dataDir string, logger *zap.Logger) (*Config, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := Default(dataDir)
	configPath := filepath.Join(dataDir, FileName)

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			logger.Warn("could not parse config file, using defaults",
				zap.String("path", configPath), zap.Error(err))
			cfg = Default(dataDir)
		}
	case os.IsNotExist(err):
		if err := os.WriteFile(configPath, []byte(defaultFile), 0600); err != nil {
			logger.Warn("could not create config file", zap.String("path", configPath), zap.Error(err))
		} else {
			logger.Info("created default config", zap.String("path", configPath))
		}
	default:
		logger.Warn("could not read config file", zap.String("path", configPath), zap.Error(err))
	}
	cfg.DataDir = dataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalid, c.Addr, err)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("%w: tls_cert and tls_key must be set together", ErrInvalid)
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("%w: rate_limit_per_min must be positive", ErrInvalid)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	if c.LiveReload && c.StaticDir == "" {
		return fmt.Errorf("%w: live_reload needs static_dir", ErrInvalid)
	}
	if err := c.Document().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Document builds the shell described by this config.
func (c *Config) Document() shell.Document {
	d := shell.Document{
		Title:      c.Title,
		Lang:       c.Lang,
		Stylesheet: c.Stylesheet,
		IconFont:   c.IconFontURL,
		Labels:     shell.DefaultLabels(),
	}
	if c.LiveReload {
		d.LiveReload = LiveReloadPath
	}
	return d
}

func (c *Config) TLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

const defaultFile = `# webadmin configuration
# Edit this file to customize your server settings

# Server listen address (host:port)
addr: ":8080"

# Path to static frontend files (empty = use embedded)
static_dir: ""

# TLS certificate and key paths (both empty = plain HTTP)
tls_cert: ""
tls_key: ""

# Origins allowed to make cross-origin requests
# allowed_origins:
#   - https://admin.example.com

# Page
title: STOCKSENSEX
lang: es
stylesheet: css/style.css
# Leave empty to render without the icon font
icon_font_url: https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.1/css/all.min.css

# Requests per minute per client IP
rate_limit_per_min: 120

# Reload open pages when files under static_dir change
live_reload: false

# Expose Prometheus metrics at /metrics
metrics: true

# debug, info, warn or error
log_level: info
`
