package scanner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sydlexius/intake/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func allCategories(paths ...string) Config {
	return Config{
		Paths:               paths,
		IncludeImages:       true,
		IncludeDocuments:    true,
		IncludeSpreadsheets: true,
	}
}

func writeFiles(t *testing.T, base string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(base, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating dir for %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte("test"), 0o644); err != nil {
			t.Fatalf("creating file %s: %v", path, err)
		}
	}
}

func filenames(results []Result) map[string]Result {
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.Filename] = r
	}
	return out
}

func intPtr(n int) *int { return &n }

func TestScan_ExtensionsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.JPG", "b.Pdf", "c.CSV", "d.xyz", "noext")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	got := filenames(results)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %v", len(got), got)
	}
	tests := []struct {
		name string
		ext  string
		cat  Category
	}{
		{"a.JPG", "jpg", CategoryImage},
		{"b.Pdf", "pdf", CategoryDocument},
		{"c.CSV", "csv", CategorySpreadsheet},
	}
	for _, tt := range tests {
		r, ok := got[tt.name]
		if !ok {
			t.Errorf("%s not admitted", tt.name)
			continue
		}
		if r.Extension != tt.ext {
			t.Errorf("%s Extension = %q, want %q", tt.name, r.Extension, tt.ext)
		}
		if r.Category != tt.cat {
			t.Errorf("%s Category = %q, want %q", tt.name, r.Category, tt.cat)
		}
		if r.Size != 4 {
			t.Errorf("%s Size = %d, want 4", tt.name, r.Size)
		}
		if r.Modified == "" {
			t.Errorf("%s Modified is empty", tt.name)
		}
		if r.Path != filepath.Join(dir, tt.name) {
			t.Errorf("%s Path = %q, want %q", tt.name, r.Path, filepath.Join(dir, tt.name))
		}
	}
}

func TestScan_HiddenEntriesExcluded(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "visible.jpg", ".secret.jpg", ".cache/inner.jpg", "sub/.dot.png", "sub/shown.png")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := filenames(results)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), got)
	}
	for _, name := range []string{"visible.jpg", "shown.png"} {
		if _, ok := got[name]; !ok {
			t.Errorf("expected %s to be admitted", name)
		}
	}

	cfg := allCategories(dir)
	cfg.IncludeHidden = true
	results, err = svc.Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Scan with hidden: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("with IncludeHidden got %d results, want 5", len(results))
	}
}

func TestScan_HiddenRootIsScanned(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".photos")
	writeFiles(t, dir, "one.jpg")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestScan_CategoryFlags(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "p.png", "d.docx", "s.xlsx")

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"images only", Config{Paths: []string{dir}, IncludeImages: true}, "p.png"},
		{"documents only", Config{Paths: []string{dir}, IncludeDocuments: true}, "d.docx"},
		{"sheets only", Config{Paths: []string{dir}, IncludeSpreadsheets: true}, "s.xlsx"},
	}

	svc := NewService(testLogger(), Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Scan(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(results) != 1 || results[0].Filename != tt.want {
				t.Errorf("results = %v, want only %s", results, tt.want)
			}
		})
	}

	results, err := svc.Scan(context.Background(), Config{Paths: []string{dir}})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("no categories enabled: got %d results, want 0", len(results))
	}
}

func TestScan_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "top.jpg", "l1/one.jpg", "l1/l2/two.jpg", "l1/l2/l3/three.jpg")

	tests := []struct {
		depth int
		want  int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 3},
		{10, 4},
	}

	svc := NewService(testLogger(), Config{})
	for _, tt := range tests {
		cfg := allCategories(dir)
		cfg.MaxDepth = intPtr(tt.depth)
		results, err := svc.Scan(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Scan depth %d: %v", tt.depth, err)
		}
		if len(results) != tt.want {
			t.Errorf("depth %d: got %d results, want %d", tt.depth, len(results), tt.want)
		}
	}
}

func TestScan_DefaultDepth(t *testing.T) {
	if (Config{}).Depth() != DefaultMaxDepth {
		t.Errorf("Depth() = %d, want %d", (Config{}).Depth(), DefaultMaxDepth)
	}
}

func TestScan_SymlinksSkipped(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	writeFiles(t, dir, "real.jpg")
	writeFiles(t, outside, "target.jpg", "nested/deep.jpg")

	if err := os.Symlink(filepath.Join(outside, "target.jpg"), filepath.Join(dir, "link.jpg")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "nested"), filepath.Join(dir, "linkdir")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0].Filename != "real.jpg" {
		t.Errorf("results = %v, want only real.jpg", results)
	}
}

func TestScan_SymlinkedRootResolved(t *testing.T) {
	target := t.TempDir()
	writeFiles(t, target, "x.jpg")
	link := filepath.Join(t.TempDir(), "root")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(link))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestScan_UnreadableRootsDegrade(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "ok.jpg")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(
		filepath.Join(dir, "does-not-exist"),
		"",
		dir,
	))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}

	results, err = svc.Scan(context.Background(), allCategories("/definitely/not/here"))
	if err != nil {
		t.Fatalf("Scan missing root: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("missing root: got %d results, want 0", len(results))
	}
}

func TestScan_RootOrderPreserved(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFiles(t, first, "b.jpg", "a.jpg")
	writeFiles(t, second, "z.jpg", "y.jpg")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(second, first))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"y.jpg", "z.jpg", "a.jpg", "b.jpg"}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, name := range want {
		if results[i].Filename != name {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Filename, name)
		}
	}
}

func TestScan_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "sub/b.pdf", "sub/deeper/c.csv")

	svc := NewService(testLogger(), Config{})
	first, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	second, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Path != second[i].Path || first[i].Modified != second[i].Modified {
			t.Errorf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestScan_AttachesHints(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "1969 chevy blazer.jpg")

	svc := NewService(testLogger(), Config{})
	results, err := svc.Scan(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	h := results[0].Hint
	if h == nil {
		t.Fatal("expected a vehicle hint")
	}
	if h.Year != "1969" {
		t.Errorf("Year = %q, want %q", h.Year, "1969")
	}
	if h.Make != "Chevrolet" {
		t.Errorf("Make = %q, want %q", h.Make, "Chevrolet")
	}
	if h.Source != "filename" {
		t.Errorf("Source = %q, want %q", h.Source, "filename")
	}
}

func TestScan_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(testLogger(), Config{})
	_, err := svc.Scan(ctx, allCategories(dir))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScan_PublishesCompletion(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.png")

	bus := event.NewBus(testLogger(), 64)
	go bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var completed []event.Event
	bus.Subscribe(func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		completed = append(completed, e)
	}, event.ScanCompleted)

	svc := NewService(testLogger(), Config{})
	svc.SetEventBus(bus)
	if _, err := svc.Scan(context.Background(), allCategories(dir)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 {
		t.Fatalf("got %d completion events, want 1", len(completed))
	}
	if completed[0].Data["found"] != 2 {
		t.Errorf("found = %v, want 2", completed[0].Data["found"])
	}
}

func TestSortByModified(t *testing.T) {
	results := []Result{
		{Path: "/b", Modified: "100"},
		{Path: "/a", Modified: "300"},
		{Path: "/d", Modified: ""},
		{Path: "/c", Modified: "100"},
		{Path: "/e", Modified: "2000"},
	}
	SortByModified(results)

	want := []string{"/e", "/a", "/b", "/c", "/d"}
	for i, p := range want {
		if results[i].Path != p {
			t.Errorf("results[%d].Path = %q, want %q", i, results[i].Path, p)
		}
	}
}

func TestSortResults(t *testing.T) {
	results := []Result{
		{Path: "/root2/a.jpg", Modified: "500"},
		{Path: "/root1/z.jpg", Modified: "100"},
		{Path: "/root1/b/c.jpg", Modified: "300"},
	}

	SortResults(results, OrderPath)
	want := []string{"/root1/b/c.jpg", "/root1/z.jpg", "/root2/a.jpg"}
	for i, p := range want {
		if results[i].Path != p {
			t.Errorf("path order: results[%d].Path = %q, want %q", i, results[i].Path, p)
		}
	}

	SortResults(results, OrderModified)
	want = []string{"/root2/a.jpg", "/root1/b/c.jpg", "/root1/z.jpg"}
	for i, p := range want {
		if results[i].Path != p {
			t.Errorf("modified order: results[%d].Path = %q, want %q", i, results[i].Path, p)
		}
	}

	SortResults(results, "")
	if results[0].Path != "/root1/b/c.jpg" {
		t.Errorf("empty order should sort by path, got %q first", results[0].Path)
	}
}

func waitForJob(t *testing.T, svc *Service, timeout time.Duration) *Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job := svc.Status()
		if job != nil && job.Status != StatusRunning {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scan job did not complete within timeout")
	return nil
}

func TestRun_CompletesJob(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "1972 ford bronco.png", "notes.txt")

	svc := NewService(testLogger(), Config{})
	if svc.Status() != nil {
		t.Fatal("expected nil status before any job")
	}

	job, err := svc.Run(context.Background(), allCategories(dir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID")
	}

	done := waitForJob(t, svc, 5*time.Second)
	if done.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q (error %q)", done.Status, StatusCompleted, done.Error)
	}
	if done.Found != 3 {
		t.Errorf("Found = %d, want 3", done.Found)
	}
	if done.Hinted < 1 {
		t.Errorf("Hinted = %d, want at least 1", done.Hinted)
	}
	if len(done.Results) != 3 {
		t.Errorf("len(Results) = %d, want 3", len(done.Results))
	}
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if done.Scanned < 4 {
		t.Errorf("Scanned = %d, want at least 4 (root and three files)", done.Scanned)
	}
}

func TestRun_RejectsConcurrentJob(t *testing.T) {
	svc := NewService(testLogger(), Config{})
	svc.current = &Job{ID: "busy", Status: StatusRunning}

	if _, err := svc.Run(context.Background(), allCategories(t.TempDir())); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("err = %v, want ErrScanInProgress", err)
	}
}

func TestCancel_NoJob(t *testing.T) {
	svc := NewService(testLogger(), Config{})
	if svc.Cancel() {
		t.Error("Cancel() = true with no running job")
	}
}

func TestDefaults_ReturnsCopy(t *testing.T) {
	svc := NewService(testLogger(), Config{Paths: []string{"/one"}})
	cfg := svc.Defaults()
	cfg.Paths[0] = "/changed"
	if svc.Defaults().Paths[0] != "/one" {
		t.Error("Defaults() leaked its backing slice")
	}
}
