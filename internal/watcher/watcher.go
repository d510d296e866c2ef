package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sydlexius/intake/internal/event"
	"github.com/sydlexius/intake/internal/metrics"
	"github.com/sydlexius/intake/internal/scanner"
)

// Service watches scan roots for new or changed candidate files and triggers
// a debounced rescan. Roots where fsnotify does not deliver events (network
// mounts, some container volumes) are polled instead.
type Service struct {
	scanFn     func(ctx context.Context) error
	cfg        scanner.Config
	eventBus   *event.Bus
	logger     *slog.Logger
	debounce   time.Duration
	pollPeriod time.Duration
	probeCache *ProbeCache

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	rootOf   map[string]string // watched dir -> scan root it belongs to
	polled   map[string]map[string]fileStamp
	lastScan time.Time
}

type fileStamp struct {
	size    int64
	modTime int64
}

// NewService creates a new filesystem watcher service. cfg decides which
// roots are watched and which files count as candidates, using the same
// rules as a scan.
func NewService(scanFn func(ctx context.Context) error, cfg scanner.Config, eventBus *event.Bus, logger *slog.Logger, probeCache *ProbeCache) *Service {
	return &Service{
		scanFn:     scanFn,
		cfg:        cfg,
		eventBus:   eventBus,
		logger:     logger.With("component", "fs-watcher"),
		debounce:   2 * time.Second,
		pollPeriod: 30 * time.Second,
		probeCache: probeCache,
		rootOf:     make(map[string]string),
		polled:     make(map[string]map[string]fileStamp),
	}
}

// SetDebounce overrides the default debounce interval.
func (s *Service) SetDebounce(d time.Duration) {
	if d > 0 {
		s.debounce = d
	}
}

// SetPollInterval overrides how often polled roots are checked.
func (s *Service) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollPeriod = d
	}
}

// Start blocks until ctx is canceled. It watches every root with fsnotify
// when possible and polls the rest.
func (s *Service) Start(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, running poll-only", "error", err)
	} else {
		defer w.Close() //nolint:errcheck
		s.mu.Lock()
		s.watcher = w
		s.mu.Unlock()
	}

	s.setupRoots()
	s.logger.Info("filesystem watcher starting", "roots", len(s.cfg.Paths), "debounce", s.debounce)

	pollTicker := time.NewTicker(s.pollPeriod)
	defer pollTicker.Stop()

	// Debounce timer for coalescing file events into a single scan.
	// Starts stopped; reset on each candidate event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	scanPending := false

	// When fsnotify is unavailable, use nil channels (never receive).
	var eventCh <-chan fsnotify.Event
	var errCh <-chan error
	if w != nil {
		eventCh = w.Events
		errCh = w.Errors
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return

		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if s.handleFSEvent(ev) {
				resetTimer(debounceTimer, s.debounce)
				scanPending = true
			}

		case err, ok := <-errCh:
			if !ok {
				return
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if scanPending {
				scanPending = false
				s.logger.Info("debounce elapsed, triggering scan")
				s.mu.Lock()
				s.lastScan = time.Now()
				s.mu.Unlock()
				if err := s.scanFn(ctx); err != nil {
					s.logger.Error("scan triggered by fs watcher failed", "error", err)
				}
			}

		case <-pollTicker.C:
			if s.pollRoots() {
				resetTimer(debounceTimer, s.debounce)
				scanPending = true
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// setupRoots registers fsnotify watches for each root, falling back to a
// poll snapshot when the probe says events will not arrive.
func (s *Service) setupRoots() {
	for _, root := range s.cfg.Paths {
		abs, err := scanner.ResolveRoot(root)
		if err != nil {
			s.logger.Warn("scan root not watchable", "path", root, "error", err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			s.logger.Warn("scan root not watchable", "path", root, "error", err)
			continue
		}

		useNotify := s.watcher != nil
		if useNotify && s.probeCache != nil {
			if supported, ok := s.probeCache.Get(abs); ok && !supported {
				useNotify = false
			}
		}

		if useNotify {
			n := s.addTree(abs, abs)
			s.logger.Info("watching scan root", "path", abs, "directories", n)
			continue
		}

		snap := s.snapshot(abs)
		s.mu.Lock()
		s.polled[abs] = snap
		s.mu.Unlock()
		s.logger.Info("polling scan root", "path", abs, "files", len(snap), "interval", s.pollPeriod)
	}
}

// addTree watches dir and every subdirectory whose contents a scan of root
// would visit. Returns the number of directories added.
func (s *Service) addTree(root, dir string) int {
	maxDepth := s.cfg.Depth()
	added := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && !s.cfg.IncludeHidden && scanner.IsHidden(d.Name()) {
			return filepath.SkipDir
		}
		if scanner.RelDepth(root, path) >= maxDepth {
			return filepath.SkipDir
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.rootOf[path]; ok {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		s.rootOf[path] = root
		added++
		return nil
	})
	return added
}

// handleFSEvent reports whether ev should schedule a rescan.
func (s *Service) handleFSEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		s.mu.Lock()
		delete(s.rootOf, ev.Name)
		s.mu.Unlock()
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	parent := filepath.Dir(ev.Name)
	s.mu.Lock()
	root, watched := s.rootOf[parent]
	s.mu.Unlock()
	if !watched {
		return false
	}

	name := filepath.Base(ev.Name)
	if !s.cfg.IncludeHidden && scanner.IsHidden(name) {
		return false
	}

	info, err := os.Lstat(ev.Name)
	if err != nil {
		return false
	}

	if info.IsDir() {
		if !ev.Has(fsnotify.Create) {
			return false
		}
		if s.addTree(root, ev.Name) > 0 {
			s.logger.Debug("directory added under scan root", "path", ev.Name, "root", root)
		}
		// A directory moved in may already hold candidates.
		return len(s.collect(root, ev.Name)) > 0
	}

	if !info.Mode().IsRegular() || !s.cfg.AdmitsFile(name) {
		return false
	}

	// Writes only extend the debounce window; creates are announced.
	if ev.Has(fsnotify.Create) {
		s.announce(ev.Name, root)
	}
	return true
}

func (s *Service) announce(path, root string) {
	s.logger.Info("candidate file detected", "path", path, "root", root)
	metrics.WatchEvents.Inc()
	s.eventBus.Publish(event.Event{
		Type: event.FileDetected,
		Data: map[string]any{
			"path":     path,
			"filename": filepath.Base(path),
			"category": string(scanner.CategoryFor(scanner.Extension(path))),
			"root":     root,
		},
	})
}

// pollRoots compares each polled root against its last snapshot. Returns
// true if any candidate file was added or modified.
func (s *Service) pollRoots() bool {
	s.mu.Lock()
	roots := make([]string, 0, len(s.polled))
	for r := range s.polled {
		roots = append(roots, r)
	}
	s.mu.Unlock()

	changed := false
	for _, root := range roots {
		s.mu.Lock()
		old := s.polled[root]
		s.mu.Unlock()

		current := s.snapshot(root)
		for path, stamp := range current {
			prev, existed := old[path]
			if !existed {
				s.announce(path, root)
				changed = true
				continue
			}
			if prev != stamp {
				changed = true
			}
		}

		s.mu.Lock()
		s.polled[root] = current
		s.mu.Unlock()
	}
	return changed
}

// snapshot records size and mtime of every candidate file under root.
func (s *Service) snapshot(root string) map[string]fileStamp {
	return s.collect(root, root)
}

// collect walks dir, which lies under root, applying the scan rules with
// depth measured from root.
func (s *Service) collect(root, dir string) map[string]fileStamp {
	maxDepth := s.cfg.Depth()
	snap := make(map[string]fileStamp)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && !s.cfg.IncludeHidden && scanner.IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if scanner.RelDepth(root, path) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.cfg.AdmitsFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[path] = fileStamp{size: info.Size(), modTime: info.ModTime().UnixNano()}
		return nil
	})
	return snap
}

// LastScan returns when the watcher last triggered a scan.
func (s *Service) LastScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}
