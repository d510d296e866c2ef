// Package batchsync pushes hinted scan results to the remote ingestion
// endpoint in fixed-size batches and accounts for partial failure.
package batchsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/intake/internal/connection"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/metrics"
	"github.com/sydlexius/intake/internal/provider"
	"github.com/sydlexius/intake/internal/scanner"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is used by callers that do not pick a size.
const DefaultBatchSize = 50

// DefaultConcurrency bounds how many batches are in flight at once.
const DefaultConcurrency = 4

var (
	// ErrMissingCredential is returned before any work when no API key is given.
	ErrMissingCredential = errors.New("api key is required")
	// ErrInvalidBatchSize is returned before any work when batch size < 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)

// Report aggregates the outcome of one sync run. Synced and Failed count
// items, not batches. Errors holds one entry per failed batch, in batch order.
// Skipped counts hinted items in batches that were never sent because the
// run was canceled.
type Report struct {
	ID      string   `json:"id"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped,omitempty"`
	Errors  []string `json:"errors"`
}

// PusherFactory builds the pusher for one run from the caller's credential.
type PusherFactory func(baseURL, apiKey string) connection.BatchPusher

// Options tunes a Processor.
type Options struct {
	BaseURL     string
	Concurrency int
	Limiters    *provider.RateLimiterMap
}

// Processor partitions results into batches and dispatches them.
type Processor struct {
	logger      *slog.Logger
	newPusher   PusherFactory
	baseURL     string
	concurrency int
	limiters    *provider.RateLimiterMap
	eventBus    *event.Bus
}

// New creates a Processor.
func New(logger *slog.Logger, newPusher PusherFactory, opts Options) *Processor {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Processor{
		logger:      logger.With("component", "batchsync"),
		newPusher:   newPusher,
		baseURL:     opts.BaseURL,
		concurrency: opts.Concurrency,
		limiters:    opts.Limiters,
	}
}

// SetEventBus sets the event bus for publishing sync events.
func (p *Processor) SetEventBus(bus *event.Bus) {
	p.eventBus = bus
}

type chunk struct {
	number  int // 1-based position among all chunks, empty ones included
	records []connection.VehicleRecord
}

type outcome struct {
	synced  int
	failed  int
	skipped int
	err     string
}

// CheckArgs reports the error Sync would return for apiKey and batchSize
// before touching any results.
func CheckArgs(apiKey string, batchSize int) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrMissingCredential
	}
	if batchSize < 1 {
		return ErrInvalidBatchSize
	}
	return nil
}

// Sync partitions results into consecutive batches of batchSize, drops
// unhinted items, and sends every non-empty batch once. A failed batch is
// recorded and the run carries on. Batches may be sent concurrently; the
// report does not depend on completion order. If ctx is canceled, batches
// not yet started are skipped and ctx.Err() is returned with the report.
func (p *Processor) Sync(ctx context.Context, results []scanner.Result, apiKey string, batchSize int) (*Report, error) {
	if err := CheckArgs(apiKey, batchSize); err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{ID: uuid.New().String(), Errors: []string{}}
	chunks := partition(results, batchSize)
	if len(chunks) == 0 {
		p.logger.Info("nothing to sync", "sync_id", report.ID, "results", len(results))
		p.finish(report, start)
		return report, nil
	}

	pusher := p.newPusher(p.baseURL, apiKey)
	opts := connection.DefaultDedup()
	outcomes := make([]outcome, len(chunks))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			outcomes[i] = p.dispatch(ctx, pusher, c, opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		report.Synced += o.synced
		report.Failed += o.failed
		report.Skipped += o.skipped
		if o.err != "" {
			report.Errors = append(report.Errors, o.err)
		}
	}
	p.finish(report, start)

	if report.Skipped > 0 {
		return report, ctx.Err()
	}
	return report, nil
}

func (p *Processor) dispatch(ctx context.Context, pusher connection.BatchPusher, c chunk, opts connection.DedupOptions) outcome {
	n := len(c.records)
	if ctx.Err() != nil {
		metrics.SyncBatches.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return outcome{skipped: n}
	}
	if err := p.limiters.Wait(ctx, provider.NameNuke); err != nil {
		metrics.SyncBatches.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return outcome{skipped: n}
	}

	if err := pusher.PushBatch(ctx, c.records, opts); err != nil {
		p.logger.Warn("batch failed", "batch", c.number, "records", n, "error", err)
		metrics.SyncBatches.WithLabelValues(metrics.OutcomeFailed).Inc()
		metrics.SyncItems.WithLabelValues(metrics.OutcomeFailed).Add(float64(n))
		return outcome{failed: n, err: describe(c.number, err)}
	}

	p.logger.Debug("batch synced", "batch", c.number, "records", n)
	metrics.SyncBatches.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.SyncItems.WithLabelValues(metrics.OutcomeOK).Add(float64(n))
	return outcome{synced: n}
}

func (p *Processor) finish(report *Report, start time.Time) {
	p.logger.Info("sync finished",
		"sync_id", report.ID,
		"synced", report.Synced,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", time.Since(start),
	)
	p.eventBus.Publish(event.Event{
		Type: event.SyncCompleted,
		Data: map[string]any{
			"sync_id": report.ID,
			"synced":  report.Synced,
			"failed":  report.Failed,
			"skipped": report.Skipped,
			"errors":  len(report.Errors),
		},
	})
}

func describe(number int, err error) string {
	var se *connection.StatusError
	if errors.As(err, &se) {
		if se.CredentialRejected() {
			return fmt.Sprintf("batch %d rejected: API key refused (%d)", number, se.StatusCode)
		}
		return fmt.Sprintf("batch %d failed: %d %s", number, se.StatusCode, http.StatusText(se.StatusCode))
	}
	return fmt.Sprintf("batch %d request error: %v", number, err)
}

// partition splits results into consecutive groups of batchSize, keeps only
// hinted items in each group, and drops groups left empty. Order is kept
// within and across groups.
func partition(results []scanner.Result, batchSize int) []chunk {
	if batchSize < 1 {
		return nil
	}
	var chunks []chunk
	for i, number := 0, 1; i < len(results); i, number = i+batchSize, number+1 {
		end := min(i+batchSize, len(results))
		var records []connection.VehicleRecord
		for _, r := range results[i:end] {
			if r.Hint == nil {
				continue
			}
			records = append(records, ToRecord(r))
		}
		if len(records) == 0 {
			continue
		}
		chunks = append(chunks, chunk{number: number, records: records})
	}
	return chunks
}

// ToRecord converts a hinted result into the record sent upstream. Fields
// the hint does not carry become JSON null.
func ToRecord(r scanner.Result) connection.VehicleRecord {
	rec := connection.VehicleRecord{Description: "Imported from " + r.Filename}
	if r.Hint == nil {
		return rec
	}
	rec.Year = optional(r.Hint.Year)
	rec.Make = optional(r.Hint.Make)
	rec.Model = optional(r.Hint.Model)
	rec.VIN = optional(r.Hint.VIN)
	return rec
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
