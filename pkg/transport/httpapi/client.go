package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modoterra/telesink/pkg/core"
)

// MaxResponseSize bounds response body reads in Client.
const MaxResponseSize int64 = 64 << 20

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Client talks to a running sink over HTTP. Used by the CLI and the TUI.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for base, e.g. "http://127.0.0.1:5000".
func NewClient(base string) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Base returns the server URL the client targets.
func (c *Client) Base() string { return c.base }

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/ping", &out); err != nil {
		return err
	}
	if out.Status != "active" {
		return fmt.Errorf("unexpected status %q", out.Status)
	}
	return nil
}

// Logs fetches the durable log lines.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var lines []string
	err := c.getJSON(ctx, "/get_logs", &lines)
	return lines, err
}

// DisplayLogs fetches the display log lines.
func (c *Client) DisplayLogs(ctx context.Context) ([]string, error) {
	var lines []string
	err := c.getJSON(ctx, "/get_display_logs", &lines)
	return lines, err
}

// Data fetches the samples as raw JSON lists.
func (c *Client) Data(ctx context.Context) ([]json.RawMessage, error) {
	var samples []json.RawMessage
	err := c.getJSON(ctx, "/get_data", &samples)
	return samples, err
}

// Stats fetches sequence counts and daemon state.
func (c *Client) Stats(ctx context.Context) (core.Stats, error) {
	var st core.Stats
	err := c.getJSON(ctx, "/stats", &st)
	return st, err
}

// Clear empties seq and returns the server's acknowledgement.
func (c *Client) Clear(ctx context.Context, seq core.Sequence) (string, error) {
	var path string
	switch seq {
	case core.SequenceDurable:
		path = "/clear_server_logs"
	case core.SequenceDisplay:
		path = "/clear_display_logs"
	case core.SequenceSamples:
		path = "/clear_server_data"
	default:
		return "", fmt.Errorf("unknown sequence %q", seq)
	}
	return c.text(ctx, http.MethodGet, path, "", nil)
}

// SendLog submits one log line as the device would.
func (c *Client) SendLog(ctx context.Context, text string) (string, error) {
	return c.text(ctx, http.MethodPost, "/receive", "text/plain", strings.NewReader(text))
}

// SendData submits a sample. payload must be a JSON document.
func (c *Client) SendData(ctx context.Context, payload []byte) (string, error) {
	return c.text(ctx, http.MethodPost, "/receive_data", "application/json", bytes.NewReader(payload))
}

// Shutdown asks the sink to stop.
func (c *Client) Shutdown(ctx context.Context) (string, error) {
	return c.text(ctx, http.MethodPost, "/shutdown", "", nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) text(ctx context.Context, method, path, contentType string, body io.Reader) (string, error) {
	data, err := c.do(ctx, method, path, contentType, body)
	return string(data), err
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	data, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
