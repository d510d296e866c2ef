package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sydlexius/intake/internal/scanner"
	"golang.org/x/sync/errgroup"
)

// ProbeTimeout bounds how long a probe waits for its own create event.
const ProbeTimeout = 2 * time.Second

const maxParallelProbes = 4

// errNoEvent means the probe file was created but fsnotify never said so,
// which is typical of network and FUSE mounts.
var errNoEvent = errors.New("no create event before timeout")

// ProbeCache remembers, per absolute scan root, whether fsnotify delivers
// events there. Roots it has no answer for are watched optimistically.
type ProbeCache struct {
	mu      sync.RWMutex
	results map[string]bool
}

// NewProbeCache creates an empty probe cache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{results: make(map[string]bool)}
}

// Get reports the cached answer for root. ok is false if root was never
// probed.
func (pc *ProbeCache) Get(root string) (supported bool, ok bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	supported, ok = pc.results[root]
	return supported, ok
}

// Set records the answer for root.
func (pc *ProbeCache) Set(root string, supported bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.results[root] = supported
}

// ProbeFSNotify reports whether fsnotify sees a file being created in dir.
// It writes and removes a hidden probe file, so a read-only root reports an
// error and is polled instead.
func ProbeFSNotify(ctx context.Context, dir string, timeout time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".intake-probe-*")
	if err != nil {
		return fmt.Errorf("creating probe file: %w", err)
	}
	probe := f.Name()
	defer os.Remove(probe) //nolint:errcheck
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing probe file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return errNoEvent
			}
			if ev.Has(fsnotify.Create) && ev.Name == probe {
				return nil
			}
		case err := <-w.Errors:
			return fmt.Errorf("watcher error: %w", err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errNoEvent
			}
			return ctx.Err()
		}
	}
}

// ProbeAll probes the given scan roots in parallel and records the results
// under each root's resolved path, the key the watcher looks up. Missing roots are recorded as unsupported.
// It returns once every probe finished or ctx ended.
func (pc *ProbeCache) ProbeAll(ctx context.Context, roots []string, logger *slog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)

	for _, root := range roots {
		abs, err := scanner.ResolveRoot(root)
		if err != nil {
			if abs, err = filepath.Abs(root); err != nil {
				continue
			}
		}
		g.Go(func() error {
			info, err := os.Stat(abs)
			if err != nil || !info.IsDir() {
				pc.Set(abs, false)
				logger.Warn("scan root not accessible for probe", "path", root, "error", err)
				return nil
			}
			err = ProbeFSNotify(gctx, abs, ProbeTimeout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			pc.Set(abs, err == nil)
			if err != nil {
				logger.Info("fsnotify unavailable, root will be polled", "path", abs, "reason", err)
				return nil
			}
			logger.Debug("fsnotify probe succeeded", "path", abs)
			return nil
		})
	}
	_ = g.Wait()
}
