package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

// HTTPClient implements Client against the execution service.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Compile-time interface check
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. timeout bounds each call;
// zero means no timeout.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "api"),
	}
}

// Execute implements SessionAPI.
func (c *HTTPClient) Execute(ctx context.Context, params StartParams) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/execute", params, &resp); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if resp.ID() == "" {
		return nil, fmt.Errorf("start session: response carried no session id")
	}
	return &resp, nil
}

// Stop implements SessionAPI.
func (c *HTTPClient) Stop(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "stop"), nil, nil); err != nil {
		return fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	return nil
}

// Resume implements SessionAPI.
func (c *HTTPClient) Resume(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "resume"), nil, nil); err != nil {
		return fmt.Errorf("resume session %s: %w", sessionID, err)
	}
	return nil
}

// SendInput implements SessionAPI.
func (c *HTTPClient) SendInput(ctx context.Context, sessionID, input string) error {
	body := struct {
		Input string `json:"input"`
	}{Input: input}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "input"), body, nil); err != nil {
		return fmt.Errorf("send input to %s: %w", sessionID, err)
	}
	return nil
}

// GetSession implements SessionAPI.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &snap); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if snap.SessionID == "" {
		snap.SessionID = sessionID
	}
	return &snap, nil
}

// GetLogs implements SessionAPI. The endpoint answers with either a bare
// array or {"logs": [...]}.
func (c *HTTPClient) GetLogs(ctx context.Context, sessionID string) ([]LogEntry, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "logs"), nil, &raw); err != nil {
		return nil, fmt.Errorf("get logs for %s: %w", sessionID, err)
	}

	raw = bytes.TrimSpace(raw)
	var logs []LogEntry
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &logs); err != nil {
			return nil, fmt.Errorf("parse logs for %s: %w", sessionID, err)
		}
		return logs, nil
	}

	var wrapped struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse logs for %s: %w", sessionID, err)
	}
	return wrapped.Logs, nil
}

// ExecuteSwarm implements SwarmAPI.
func (c *HTTPClient) ExecuteSwarm(ctx context.Context, params SwarmParams) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/swarm/execute", params, &resp); err != nil {
		return nil, fmt.Errorf("start swarm: %w", err)
	}
	if resp.ID() == "" {
		return nil, fmt.Errorf("start swarm: response carried no execution id")
	}
	return &resp, nil
}

// StopSwarm implements SwarmAPI.
func (c *HTTPClient) StopSwarm(ctx context.Context, executionID string) error {
	if err := c.do(ctx, http.MethodPost, "/swarm/"+url.PathEscape(executionID)+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stop swarm %s: %w", executionID, err)
	}
	return nil
}

func sessionPath(sessionID, action string) string {
	p := "/sessions/" + url.PathEscape(sessionID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends one JSON request. A nil body sends no payload; a nil out discards
// the response body.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("control call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the server's explanation from an error body.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		switch d := payload.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			// Validation errors arrive as structured detail
			if data, err := json.Marshal(d); err == nil {
				return string(data)
			}
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
