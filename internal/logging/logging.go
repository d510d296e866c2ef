package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes where and how log records are written.
type Config struct {
	Level      string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `json:"format" yaml:"format" validate:"omitempty,oneof=json text"`
	FilePath   string `json:"file_path,omitempty" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days" validate:"gte=0"`
}

// DefaultConfig logs JSON at info level to the console only.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

// Validate reports unrecognized levels or formats.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("rotation limits must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = d.MaxSizeMB
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	return c
}

func (c Config) sameOutput(o Config) bool {
	return c.Format == o.Format &&
		c.FilePath == o.FilePath &&
		c.MaxSizeMB == o.MaxSizeMB &&
		c.MaxBackups == o.MaxBackups &&
		c.MaxAgeDays == o.MaxAgeDays
}

// ParseLevel maps a level name (case-insensitive) to a slog.Level. The empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Manager owns the process logger. The level changes in place; format and
// destination changes swap the underlying handler, and loggers previously
// derived with With or WithGroup follow the swap.
type Manager struct {
	console io.Writer
	level   *slog.LevelVar
	root    *atomic.Pointer[slog.Handler]

	mu     sync.Mutex
	config Config
	file   io.Closer
}

// NewManager builds a Manager and its logger. Console output goes to console,
// or stderr when nil, so stdout stays free for command output.
func NewManager(cfg Config, console io.Writer) (*Manager, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = os.Stderr
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		console: console,
		level:   &slog.LevelVar{},
		root:    &atomic.Pointer[slog.Handler]{},
		config:  cfg,
	}
	lvl, _ := ParseLevel(cfg.Level)
	m.level.Set(lvl)
	m.install(cfg)

	return m, slog.New(&dynamicHandler{root: m.root}), nil
}

// Reconfigure applies cfg to the running logger.
func (m *Manager) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	lvl, _ := ParseLevel(cfg.Level)
	m.level.Set(lvl)
	if !cfg.sameOutput(m.config) {
		if m.file != nil {
			m.file.Close() //nolint:errcheck
			m.file = nil
		}
		m.install(cfg)
	}
	m.config = cfg
	return nil
}

// install must be called with mu held or before the Manager is shared.
func (m *Manager) install(cfg Config) {
	var w io.Writer = m.console
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		m.file = lj
		w = io.MultiWriter(m.console, lj)
	}

	opts := &slog.HandlerOptions{Level: m.level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	m.root.Store(&h)
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close flushes and closes the log file, if any. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// dynamicHandler resolves the manager's current handler on every call and
// replays any With/WithGroup derivations on top of it. The derived handler is
// cached until the root changes.
type dynamicHandler struct {
	root   *atomic.Pointer[slog.Handler]
	derive []func(slog.Handler) slog.Handler
	cache  atomic.Pointer[derivedHandler]
}

type derivedHandler struct {
	base *slog.Handler
	h    slog.Handler
}

func (d *dynamicHandler) current() slog.Handler {
	base := d.root.Load()
	if len(d.derive) == 0 {
		return *base
	}
	if c := d.cache.Load(); c != nil && c.base == base {
		return c.h
	}
	h := *base
	for _, f := range d.derive {
		h = f(h)
	}
	d.cache.Store(&derivedHandler{base: base, h: h})
	return h
}

func (d *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.current().Enabled(ctx, level)
}

func (d *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	return d.current().Handle(ctx, r)
}

func (d *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (d *dynamicHandler) WithGroup(name string) slog.Handler {
	return d.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (d *dynamicHandler) with(f func(slog.Handler) slog.Handler) slog.Handler {
	return &dynamicHandler{
		root:   d.root,
		derive: append(slices.Clip(d.derive), f),
	}
}
