package nuke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sydlexius/intake/internal/connection"
)

// DefaultBaseURL is the hosted ingestion endpoint.
const DefaultBaseURL = "https://qkgaybvrernstplzjaam.supabase.co/functions/v1"

const (
	batchPath      = "/api-v1-batch"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

var _ connection.BatchPusher = (*Client)(nil)

// Client pushes vehicle batches to the ingestion endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New creates a client with default HTTP settings.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	return NewWithHTTPClient(baseURL, apiKey, &http.Client{Timeout: defaultTimeout}, logger)
}

// NewWithHTTPClient creates a client with a custom HTTP client (for testing).
func NewWithHTTPClient(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger.With(slog.String("integration", connection.TypeNuke)),
	}
}

// PushBatch sends records as one request. Any 2xx response counts as
// success for the whole batch; the endpoint does not report per record.
func (c *Client) PushBatch(ctx context.Context, records []connection.VehicleRecord, opts connection.DedupOptions) error {
	body, err := json.Marshal(BatchRequest{Vehicles: records, Options: opts})
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	if err := c.postJSON(ctx, batchPath, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("pushing batch: %w", err)
	}
	c.logger.Debug("batch accepted", "records", len(records))
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &connection.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
}
