// Package ollama talks to a local Ollama server running a vision model.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sydlexius/intake/internal/connection"
	imgproc "github.com/sydlexius/intake/internal/image"
	"github.com/sydlexius/intake/internal/metrics"
	"github.com/sydlexius/intake/internal/provider"
)

// Defaults for a stock local install.
const (
	DefaultBaseURL     = "http://localhost:11434"
	DefaultModel       = "llava"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxImageDim = 1568
	DefaultCacheSize   = 256
	DefaultCacheTTL    = time.Hour

	availabilityTimeout = 3 * time.Second
	maxErrorBody        = 4 << 10
)

// Operation label values for metrics.
const (
	opTags    = "tags"
	opAnalyze = "analyze"
	opExtract = "extract"
)

// Config captures the runtime settings for the Ollama client.
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxImageDim int
	CacheSize   int
	CacheTTL    time.Duration
}

// Client wraps the Ollama generate and tags APIs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiters   *provider.RateLimiterMap
	cache      *analysisCache
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimiters throttles generate calls through the shared limiter map.
func WithRateLimiters(m *provider.RateLimiterMap) Option {
	return func(c *Client) {
		c.limiters = m
	}
}

// New constructs a client. Zero Config fields take the package defaults; a
// negative CacheSize disables the analysis cache.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxImageDim == 0 {
		cfg.MaxImageDim = DefaultMaxImageDim
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("integration", string(provider.NameOllama))),
	}
	if cfg.CacheSize > 0 {
		c.cache = newAnalysisCache(cfg.CacheSize, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// CheckAvailable reports whether the server answers GET /api/tags with 200.
// Any failure means unavailable; it never returns an error.
func (c *Client) CheckAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("vision service unreachable", "error", err)
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var tags tagsResponse
	if err := c.get(ctx, "/api/tags", &tags); err != nil {
		metrics.VisionRequests.WithLabelValues(opTags, metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("listing models: %w", err)
	}
	metrics.VisionRequests.WithLabelValues(opTags, metrics.OutcomeOK).Inc()
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Analyze asks the default model to describe the image at path and returns
// the service's JSON response as is. Responses are cached per file version.
func (c *Client) Analyze(ctx context.Context, path string) (json.RawMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	key := cacheKey(c.cfg.Model, path, info)
	if cached, ok := c.cache.get(key); ok {
		metrics.VisionCacheHits.Inc()
		c.logger.Debug("analysis served from cache", "path", path)
		return cached, nil
	}

	body, err := c.generate(ctx, c.cfg.Model, analyzePrompt, path)
	if err != nil {
		metrics.VisionRequests.WithLabelValues(opAnalyze, metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("analyzing image: %w", err)
	}
	if !json.Valid(body) {
		metrics.VisionRequests.WithLabelValues(opAnalyze, metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("analyzing image: response is not JSON")
	}
	metrics.VisionRequests.WithLabelValues(opAnalyze, metrics.OutcomeOK).Inc()

	raw := json.RawMessage(body)
	c.cache.add(key, raw)
	return raw, nil
}

// ExtractDocument asks the model to read a vehicle document. An empty model
// uses the default. The answer is parsed best effort; see ParseDocument.
func (c *Client) ExtractDocument(ctx context.Context, path, model string) (*DocumentExtraction, error) {
	if strings.TrimSpace(model) == "" {
		model = c.cfg.Model
	}
	body, err := c.generate(ctx, model, documentPrompt, path)
	if err != nil {
		metrics.VisionRequests.WithLabelValues(opExtract, metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("extracting document: %w", err)
	}

	var gen generateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		metrics.VisionRequests.WithLabelValues(opExtract, metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	metrics.VisionRequests.WithLabelValues(opExtract, metrics.OutcomeOK).Inc()

	result := ParseDocument(path, gen.Response)
	if !result.Parsed {
		c.logger.Debug("model answer had no usable JSON", "path", path, "model", model)
	}
	return &result, nil
}

// generate posts one non-streaming request with the image at path attached
// and returns the raw response body.
func (c *Client) generate(ctx context.Context, model, prompt, path string) ([]byte, error) {
	encoded, err := c.encodeImage(path)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Images: []string{encoded},
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	if err := c.limiters.Wait(ctx, provider.NameOllama); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.post(ctx, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("generate completed", "model", model, "path", path, "duration", time.Since(start))
	return body, nil
}

func (c *Client) encodeImage(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path chosen by the local user
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	defer f.Close() //nolint:errcheck

	prepared, err := imgproc.PrepareForVision(f, c.cfg.MaxImageDim)
	if err != nil {
		return "", fmt.Errorf("preparing image: %w", err)
	}
	if prepared.Scaled {
		c.logger.Debug("image downscaled for vision", "path", path, "width", prepared.Width, "height", prepared.Height)
	}
	return base64.StdEncoding.EncodeToString(prepared.Data), nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &connection.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &connection.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
