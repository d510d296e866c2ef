package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/intake/internal/logging"
	"github.com/sydlexius/intake/internal/scanner"
)

// DefaultPath is used when INTAKE_CONFIG_PATH is unset.
const DefaultPath = "intake.yaml"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Scan    scanner.Config `yaml:"scan"`
	Vision  VisionConfig   `yaml:"vision"`
	Sync    SyncConfig     `yaml:"sync"`
	Watch   WatchConfig    `yaml:"watch"`
	Logging logging.Config `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	Bind           string `yaml:"bind"`
	BasePath       string `yaml:"base_path"`
	MaxConnections int    `yaml:"max_connections"`
	LockFile       string `yaml:"lock_file"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// VisionConfig holds settings for the local vision model server.
type VisionConfig struct {
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxImageDim int           `yaml:"max_image_dim"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RateLimit   float64       `yaml:"rate_limit"`
}

// SyncConfig holds settings for the remote ingestion endpoint.
type SyncConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
}

// WatchConfig controls watch mode in the server.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AutoSync     bool          `yaml:"auto_sync"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	depth := scanner.DefaultMaxDepth
	return &Config{
		Server: ServerConfig{
			Port:           8484,
			Bind:           "127.0.0.1",
			MaxConnections: 64,
			LockFile:       "intake.lock",
		},
		Scan: scanner.Config{
			MaxDepth:            &depth,
			IncludeImages:       true,
			IncludeDocuments:    true,
			IncludeSpreadsheets: true,
		},
		Vision: VisionConfig{
			URL:         "http://localhost:11434",
			Model:       "llava",
			Timeout:     120 * time.Second,
			MaxImageDim: 1568,
			CacheSize:   256,
			CacheTTL:    time.Hour,
			RateLimit:   2,
		},
		Sync: SyncConfig{
			BaseURL:     "https://qkgaybvrernstplzjaam.supabase.co/functions/v1",
			BatchSize:   50,
			Concurrency: 4,
			Timeout:     30 * time.Second,
			RateLimit:   5,
		},
		Watch: WatchConfig{
			Debounce:     2 * time.Second,
			PollInterval: 30 * time.Second,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Path returns the config file location from INTAKE_CONFIG_PATH or the
// default.
func Path() string {
	if v := os.Getenv("INTAKE_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file (if it exists), preloads a .env file
// from the working directory (if it exists), and applies INTAKE_* environment
// overrides. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// envLoader accumulates the first parse failure so every override can be
// written as a single line.
type envLoader struct {
	err error
}

func (l *envLoader) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (l *envLoader) int(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" || l.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (l *envLoader) float(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" || l.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = f
}

func (l *envLoader) bool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" || l.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func (l *envLoader) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" || l.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (c *Config) loadFromEnv() error {
	var l envLoader

	l.int("INTAKE_PORT", &c.Server.Port)
	l.str("INTAKE_BIND", &c.Server.Bind)
	l.str("INTAKE_BASE_PATH", &c.Server.BasePath)
	l.int("INTAKE_MAX_CONNECTIONS", &c.Server.MaxConnections)
	l.str("INTAKE_LOCK_FILE", &c.Server.LockFile)

	if v := os.Getenv("INTAKE_SCAN_PATHS"); v != "" {
		c.Scan.Paths = splitList(v)
	}
	l.bool("INTAKE_SCAN_INCLUDE_HIDDEN", &c.Scan.IncludeHidden)
	if v := os.Getenv("INTAKE_SCAN_MAX_DEPTH"); v != "" && l.err == nil {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.err = fmt.Errorf("INTAKE_SCAN_MAX_DEPTH: %w", err)
		} else {
			c.Scan.MaxDepth = &n
		}
	}

	l.str("INTAKE_OLLAMA_URL", &c.Vision.URL)
	l.str("INTAKE_VISION_MODEL", &c.Vision.Model)
	l.duration("INTAKE_VISION_TIMEOUT", &c.Vision.Timeout)
	l.float("INTAKE_VISION_RATE", &c.Vision.RateLimit)

	l.str("INTAKE_SYNC_URL", &c.Sync.BaseURL)
	l.str("INTAKE_API_KEY", &c.Sync.APIKey)
	l.int("INTAKE_BATCH_SIZE", &c.Sync.BatchSize)
	l.int("INTAKE_SYNC_CONCURRENCY", &c.Sync.Concurrency)
	l.duration("INTAKE_SYNC_TIMEOUT", &c.Sync.Timeout)
	l.float("INTAKE_SYNC_RATE", &c.Sync.RateLimit)

	l.bool("INTAKE_WATCH", &c.Watch.Enabled)
	l.duration("INTAKE_WATCH_DEBOUNCE", &c.Watch.Debounce)
	l.bool("INTAKE_WATCH_AUTO_SYNC", &c.Watch.AutoSync)

	l.str("INTAKE_LOG_LEVEL", &c.Logging.Level)
	l.str("INTAKE_LOG_FORMAT", &c.Logging.Format)
	l.str("INTAKE_LOG_FILE", &c.Logging.FilePath)

	if l.err != nil {
		return fmt.Errorf("reading environment: %w", l.err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", c.Server.MaxConnections)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}

	if c.Scan.MaxDepth != nil && *c.Scan.MaxDepth < 0 {
		return fmt.Errorf("invalid scan max depth: %d", *c.Scan.MaxDepth)
	}

	if err := checkURL("vision url", c.Vision.URL); err != nil {
		return err
	}
	if err := checkURL("sync base url", c.Sync.BaseURL); err != nil {
		return err
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("invalid sync batch size: %d", c.Sync.BatchSize)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("invalid sync concurrency: %d", c.Sync.Concurrency)
	}
	if c.Watch.AutoSync && c.Sync.APIKey == "" {
		return errors.New("watch auto_sync requires sync api_key")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", name, raw)
	}
	return nil
}
