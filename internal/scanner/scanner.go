package scanner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/hint"
	"github.com/sydlexius/intake/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// progressEvery controls how often (in visited entries) progress is reported.
	progressEvery = 250

	maxParallelRoots = 4
)

// Service walks directory trees and turns admitted files into Results.
type Service struct {
	logger   *slog.Logger
	eventBus *event.Bus
	defaults Config

	mu      sync.Mutex
	current *Job
	cancel  context.CancelFunc
}

// NewService creates a scanner service. defaults is the Config used when a
// caller does not supply one.
func NewService(logger *slog.Logger, defaults Config) *Service {
	return &Service{
		logger:   logger.With("component", "scanner"),
		defaults: defaults,
	}
}

// SetEventBus sets the event bus for publishing scan events.
func (s *Service) SetEventBus(bus *event.Bus) {
	s.eventBus = bus
}

// Defaults returns a copy of the configured default scan settings.
func (s *Service) Defaults() Config {
	cfg := s.defaults
	cfg.Paths = slices.Clone(s.defaults.Paths)
	return cfg
}

// Scan walks every configured root and returns the admitted files. Roots are
// walked in parallel but results are concatenated in root order, each root in
// lexical walk order, so the output is a deterministic function of the
// filesystem. Unreadable roots and entries are skipped. The only error
// returned is a context error, together with whatever was collected so far.
func (s *Service) Scan(ctx context.Context, cfg Config) ([]Result, error) {
	return s.scan(ctx, uuid.New().String(), cfg, nil)
}

func (s *Service) scan(ctx context.Context, id string, cfg Config, onProgress func(Progress)) ([]Result, error) {
	start := time.Now()
	t := &tracker{notify: func(p Progress) {
		s.publish(event.ScanProgress, id, p)
		if onProgress != nil {
			onProgress(p)
		}
	}}

	perRoot := make([][]Result, len(cfg.Paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelRoots)
	for i, root := range cfg.Paths {
		g.Go(func() error {
			res, err := s.walkRoot(gctx, root, cfg, t)
			perRoot[i] = res
			return err
		})
	}
	err := g.Wait()

	total := 0
	for _, r := range perRoot {
		total += len(r)
	}
	results := make([]Result, 0, total)
	for _, r := range perRoot {
		results = append(results, r...)
	}

	final := t.snapshot("")
	final.Complete = true
	t.notify(final)

	elapsed := time.Since(start)
	metrics.ScanDuration.Observe(elapsed.Seconds())
	s.logger.Info("scan finished",
		"scan_id", id,
		"roots", len(cfg.Paths),
		"scanned", final.Scanned,
		"found", len(results),
		"hinted", t.hinted.Load(),
		"duration", elapsed,
		"error", err,
	)

	data := map[string]any{
		"scan_id": id,
		"scanned": final.Scanned,
		"found":   len(results),
		"hinted":  int(t.hinted.Load()),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.eventBus.Publish(event.Event{Type: event.ScanCompleted, Data: data})

	return results, err
}

func (s *Service) walkRoot(ctx context.Context, root string, cfg Config, t *tracker) ([]Result, error) {
	base, err := ResolveRoot(root)
	if err != nil {
		metrics.ScanRoots.WithLabelValues(metrics.OutcomeUnreadable).Inc()
		s.logger.Warn("skipping unreadable scan root", "root", root, "error", err)
		return nil, nil
	}

	maxDepth := cfg.Depth()
	var out []Result

	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Debug("skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		t.visit(path)

		// The root itself is exempt so "." and explicitly chosen hidden
		// folders can still be scanned.
		if path != base && !cfg.IncludeHidden && IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if RelDepth(base, path) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks, devices, sockets and pipes are never followed or admitted.
		if !d.Type().IsRegular() {
			return nil
		}

		ext := Extension(d.Name())
		cat := CategoryFor(ext)
		if !cfg.Admits(cat) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Debug("skipping file with unreadable metadata", "path", path, "error", err)
			return nil
		}

		r := Result{
			Path:      path,
			Filename:  d.Name(),
			Extension: ext,
			Category:  cat,
			Size:      info.Size(),
			Modified:  unixSeconds(info.ModTime()),
			Hint:      hint.Extract(path),
		}
		t.admit(r)
		out = append(out, r)
		return nil
	})

	metrics.ScanRoots.WithLabelValues(metrics.OutcomeOK).Inc()
	return out, err
}

func (s *Service) publish(typ event.Type, id string, p Progress) {
	s.eventBus.Publish(event.Event{
		Type: typ,
		Data: map[string]any{
			"scan_id":      id,
			"scanned":      p.Scanned,
			"found":        p.Found,
			"current_path": p.CurrentPath,
			"complete":     p.Complete,
		},
	})
}

// ResolveRoot makes root absolute. A root that is itself a symlink is
// resolved once; links below the root are never followed.
func ResolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("empty root path")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return "", err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", fmt.Errorf("resolving root symlink: %w", err)
		}
		return resolved, nil
	}
	return abs, nil
}

// RelDepth counts path components below base; base itself is depth 0.
func RelDepth(base, path string) int {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func unixSeconds(t time.Time) string {
	sec := t.Unix()
	if sec < 0 {
		return ""
	}
	return strconv.FormatInt(sec, 10)
}

// Result orders accepted by SortResults.
const (
	OrderPath     = "path"
	OrderModified = "modified"
)

// SortResults orders results newest first for OrderModified and by path for
// anything else.
func SortResults(results []Result, order string) {
	if order == OrderModified {
		SortByModified(results)
		return
	}
	SortByPath(results)
}

// SortByPath orders results lexically by path.
func SortByPath(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// SortByModified orders results newest first. Ties and unparseable
// timestamps fall back to path order.
func SortByModified(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(modifiedSeconds(b), modifiedSeconds(a)); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}

func modifiedSeconds(r Result) int64 {
	n, err := strconv.ParseInt(r.Modified, 10, 64)
	if err != nil {
		return math.MinInt64
	}
	return n
}

// CountHinted returns how many results carry a vehicle hint.
func CountHinted(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Hint != nil {
			n++
		}
	}
	return n
}

// tracker accumulates progress across concurrently walked roots.
type tracker struct {
	scanned atomic.Int64
	found   atomic.Int64
	hinted  atomic.Int64
	notify  func(Progress)
}

func (t *tracker) visit(path string) {
	if n := t.scanned.Add(1); n%progressEvery == 0 {
		t.notify(t.snapshot(path))
	}
}

func (t *tracker) admit(r Result) {
	t.found.Add(1)
	metrics.FilesAdmitted.WithLabelValues(string(r.Category)).Inc()
	if r.Hint != nil {
		t.hinted.Add(1)
		metrics.HintsExtracted.Inc()
	}
}

func (t *tracker) snapshot(path string) Progress {
	return Progress{
		Scanned:     int(t.scanned.Load()),
		Found:       int(t.found.Load()),
		CurrentPath: path,
	}
}
