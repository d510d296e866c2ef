package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("writing png: %v", err)
	}
	return path
}

func newTestClient(srv *httptest.Server, cfg Config) *Client {
	cfg.BaseURL = srv.URL
	return New(cfg, testLogger(), WithHTTPClient(srv.Client()))
}

func TestCheckAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if !newTestClient(srv, Config{}).CheckAvailable(context.Background()) {
		t.Error("CheckAvailable = false, want true")
	}
}

func TestCheckAvailable_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	c := newTestClient(srv, Config{})
	if c.CheckAvailable(context.Background()) {
		t.Error("CheckAvailable = true on 500")
	}
	srv.Close()
	if c.CheckAvailable(context.Background()) {
		t.Error("CheckAvailable = true with server stopped")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llava:latest","size":1},{"name":"bakllava"}]}`))
	}))
	defer srv.Close()

	models, err := newTestClient(srv, Config{}).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0] != "llava:latest" || models[1] != "bakllava" {
		t.Errorf("models = %v", models)
	}
}

func TestListModels_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv, Config{}).ListModels(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAnalyze_SendsImageAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		if req.Model != "llava" {
			t.Errorf("model = %q, want llava", req.Model)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if len(req.Images) != 1 {
			t.Errorf("got %d images, want 1", len(req.Images))
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Images[0])
		if err != nil {
			t.Errorf("image is not base64: %v", err)
			return
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Errorf("image does not decode: %v", err)
			return
		}
		if cfg.Width > 100 || cfg.Height > 100 {
			t.Errorf("image %dx%d not downscaled to 100", cfg.Width, cfg.Height)
		}
		_, _ = w.Write([]byte(`{"model":"llava","response":"{\"is_vehicle\": true}","done":true}`))
	}))
	defer srv.Close()

	path := writePNG(t, 400, 200)
	c := newTestClient(srv, Config{MaxImageDim: 100})

	first, err := c.Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if decoded["done"] != true {
		t.Errorf("result = %s", first)
	}

	if _, err := c.Analyze(context.Background(), path); err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1 (second served from cache)", calls.Load())
	}
	if c.cache.len() != 1 {
		t.Errorf("cache len = %d, want 1", c.cache.len())
	}

	// Touching the file changes its identity.
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := c.Analyze(context.Background(), path); err != nil {
		t.Fatalf("third Analyze failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2 after file change", calls.Load())
	}
}

func TestAnalyze_CacheDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	path := writePNG(t, 10, 10)
	c := newTestClient(srv, Config{CacheSize: -1})
	for i := 0; i < 2; i++ {
		if _, err := c.Analyze(context.Background(), path); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))
	defer srv.Close()

	if _, err := newTestClient(srv, Config{}).Analyze(context.Background(), "/no/such/file.jpg"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExtractDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		if req.Model != "bakllava" {
			t.Errorf("model = %q, want bakllava", req.Model)
		}
		if req.Prompt != documentPrompt {
			t.Error("expected the document extraction prompt")
		}
		resp := generateResponse{Response: `Here you go: {"document_type":"registration","confidence":0.8,"vin":"1FTEW1E50JFA12345","year":2018}`}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	path := writePNG(t, 20, 20)
	got, err := newTestClient(srv, Config{}).ExtractDocument(context.Background(), path, "bakllava")
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}
	if !got.Parsed || got.DocumentType != "registration" || got.Confidence != 0.8 {
		t.Errorf("got %+v", got)
	}
	if got.Extracted.Year == nil || *got.Extracted.Year != 2018 {
		t.Errorf("Year = %v", got.Extracted.Year)
	}
}

func TestExtractDocument_ProseOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"The image is too blurry to read."}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv, Config{}).ExtractDocument(context.Background(), writePNG(t, 5, 5), "")
	if err != nil {
		t.Fatalf("ExtractDocument failed: %v", err)
	}
	if got.Parsed {
		t.Error("expected Parsed = false")
	}
	if got.DocumentType != "unknown" || got.Confidence != 0.3 {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestExtractDocument_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `model "nope" not found`, http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv, Config{}).ExtractDocument(context.Background(), writePNG(t, 5, 5), "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{BaseURL: "http://host:11434/"}, testLogger())
	if c.cfg.BaseURL != "http://host:11434" {
		t.Errorf("BaseURL = %q", c.cfg.BaseURL)
	}
	if c.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", c.Model(), DefaultModel)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v", c.httpClient.Timeout)
	}
	if c.cache == nil {
		t.Error("expected cache to be enabled by default")
	}
}
