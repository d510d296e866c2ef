package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sydlexius/intake/internal/api/middleware"
	"github.com/sydlexius/intake/internal/batchsync"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/logging"
	"github.com/sydlexius/intake/internal/provider/ollama"
	"github.com/sydlexius/intake/internal/scanner"
)

// VisionClient is the subset of the vision-model client the API uses.
type VisionClient interface {
	CheckAvailable(ctx context.Context) bool
	Model() string
	ListModels(ctx context.Context) ([]string, error)
	Analyze(ctx context.Context, path string) (json.RawMessage, error)
	ExtractDocument(ctx context.Context, path, model string) (*ollama.DocumentExtraction, error)
}

// SyncDefaults fill in sync requests that omit a credential or batch size.
type SyncDefaults struct {
	APIKey    string
	BatchSize int
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	ScannerService *scanner.Service
	SyncProcessor  *batchsync.Processor
	Vision         VisionClient
	LogManager     *logging.Manager
	EventBus       *event.Bus
	Logger         *slog.Logger
	SyncDefaults   SyncDefaults
	BasePath       string
	// ThrottleRPS limits vision and sync calls per client; zero disables.
	ThrottleRPS float64
}

// Router sets up all HTTP routes for the application.
type Router struct {
	scannerService *scanner.Service
	syncProcessor  *batchsync.Processor
	vision         VisionClient
	logManager     *logging.Manager
	eventBus       *event.Bus
	logger         *slog.Logger
	syncDefaults   SyncDefaults
	basePath       string
	throttleRPS    float64
	hub            *Hub
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	if deps.SyncDefaults.BatchSize < 1 {
		deps.SyncDefaults.BatchSize = batchsync.DefaultBatchSize
	}
	return &Router{
		scannerService: deps.ScannerService,
		syncProcessor:  deps.SyncProcessor,
		vision:         deps.Vision,
		logManager:     deps.LogManager,
		eventBus:       deps.EventBus,
		logger:         deps.Logger.With("component", "api"),
		syncDefaults:   deps.SyncDefaults,
		basePath:       deps.BasePath,
		throttleRPS:    deps.ThrottleRPS,
		hub:            NewHub(deps.Logger),
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
// Background helpers (event fan-out, throttle cleanup) stop when ctx ends.
func (r *Router) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	throttled := func(fn http.HandlerFunc) http.HandlerFunc { return fn }
	if r.throttleRPS > 0 {
		th := middleware.NewThrottle(ctx, r.throttleRPS, int(r.throttleRPS*2)+1)
		throttled = th.Wrap
	}

	r.hub.Attach(r.eventBus)
	go func() {
		<-ctx.Done()
		r.hub.Close()
	}()

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)
	mux.Handle("GET "+bp+"/metrics", promhttp.Handler())

	// Scanning
	mux.HandleFunc("POST "+bp+"/api/v1/scan", r.handleScan)
	mux.HandleFunc("POST "+bp+"/api/v1/scans", r.handleStartScan)
	mux.HandleFunc("GET "+bp+"/api/v1/scans/current", r.handleScanStatus)
	mux.HandleFunc("DELETE "+bp+"/api/v1/scans/current", r.handleCancelScan)

	// Spreadsheets
	mux.HandleFunc("POST "+bp+"/api/v1/spreadsheets/parse", r.handleParseSpreadsheet)

	// Vision model
	mux.HandleFunc("GET "+bp+"/api/v1/vision/status", r.handleVisionStatus)
	mux.HandleFunc("GET "+bp+"/api/v1/vision/models", r.handleVisionModels)
	mux.HandleFunc("POST "+bp+"/api/v1/vision/analyze", throttled(r.handleVisionAnalyze))
	mux.HandleFunc("POST "+bp+"/api/v1/vision/extract", throttled(r.handleVisionExtract))

	// Remote sync
	mux.HandleFunc("POST "+bp+"/api/v1/sync", throttled(r.handleSync))

	// Events
	mux.HandleFunc("GET "+bp+"/api/v1/events", r.hub.ServeWS)

	// Settings
	mux.HandleFunc("GET "+bp+"/api/v1/settings/logging", r.handleGetLogging)
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/logging", r.handleUpdateLogging)

	return middleware.SecurityHeaders(middleware.Logging(r.logger)(middleware.Metrics(mux)))
}
