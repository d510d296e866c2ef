package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sydlexius/intake/internal/batchsync"
	"github.com/sydlexius/intake/internal/config"
	"github.com/sydlexius/intake/internal/connection"
	"github.com/sydlexius/intake/internal/connection/nuke"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/logging"
	"github.com/sydlexius/intake/internal/provider"
	"github.com/sydlexius/intake/internal/provider/ollama"
	"github.com/sydlexius/intake/internal/scanner"
)

// commandContext carries state shared by every subcommand: the loaded
// configuration, the logger, and constructors for the services built on them.
type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	config     *config.Config
	logManager *logging.Manager
	logger     *slog.Logger
	limiters   *provider.RateLimiterMap
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// init loads configuration and starts logging. Log lines go to console so
// stdout carries only command output.
func (c *commandContext) init(console io.Writer) error {
	if c.config != nil {
		return nil
	}
	path := config.Path()
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		cfg.Logging.Level = *c.logLevelFlag
	}

	mgr, logger, err := logging.NewManager(cfg.Logging, console)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)

	c.config = cfg
	c.logManager = mgr
	c.logger = logger
	c.limiters = provider.NewRateLimiterMap(map[provider.Name]float64{
		provider.NameOllama: cfg.Vision.RateLimit,
		provider.NameNuke:   cfg.Sync.RateLimit,
	})
	return nil
}

func (c *commandContext) close() error {
	if c.logManager == nil {
		return nil
	}
	return c.logManager.Close()
}

func (c *commandContext) scannerService(bus *event.Bus) *scanner.Service {
	svc := scanner.NewService(c.logger, c.config.Scan)
	svc.SetEventBus(bus)
	return svc
}

func (c *commandContext) visionClient() *ollama.Client {
	v := c.config.Vision
	return ollama.New(ollama.Config{
		BaseURL:     v.URL,
		Model:       v.Model,
		Timeout:     v.Timeout,
		MaxImageDim: v.MaxImageDim,
		CacheSize:   v.CacheSize,
		CacheTTL:    v.CacheTTL,
	}, c.logger, ollama.WithRateLimiters(c.limiters))
}

func (c *commandContext) syncProcessor(bus *event.Bus) *batchsync.Processor {
	s := c.config.Sync
	httpClient := &http.Client{Timeout: s.Timeout}
	logger := c.logger
	p := batchsync.New(logger, func(baseURL, apiKey string) connection.BatchPusher {
		return nuke.NewWithHTTPClient(baseURL, apiKey, httpClient, logger)
	}, batchsync.Options{
		BaseURL:     s.BaseURL,
		Concurrency: s.Concurrency,
		Limiters:    c.limiters,
	})
	p.SetEventBus(bus)
	return p
}

// scanConfig overlays command-line choices on the configured scan defaults.
func (c *commandContext) scanConfig(f *scanFlags, args []string) (scanner.Config, error) {
	cfg := c.config.Scan
	if len(args) > 0 {
		cfg.Paths = args
	}
	if f != nil {
		f.apply(&cfg)
	}
	if len(cfg.Paths) == 0 {
		return cfg, errNoPaths
	}
	return cfg, nil
}

var errNoPaths = errors.New("no scan paths: pass directories as arguments or set scan.paths / INTAKE_SCAN_PATHS")
