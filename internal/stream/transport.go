package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/npratt/tether/internal/sse"
)

// Transport opens the server-push stream for a key.
type Transport interface {
	// Open connects to the stream for key. lastEventID is the id of the last
	// frame seen on a previous connection for the same key, or empty.
	Open(ctx context.Context, key, lastEventID string) (Conn, error)
}

// Conn is one open stream.
type Conn interface {
	// Next blocks for the next frame. It returns io.EOF when the server
	// closes the stream.
	Next() (sse.Frame, error)
	Close() error
}

// HTTPTransport opens SSE streams over HTTP GET.
type HTTPTransport struct {
	Client  *http.Client
	BaseURL string
	// Path is appended to BaseURL with "{id}" replaced by the escaped key.
	Path string
}

// NewHTTPTransport returns a transport for baseURL+path. Streams are
// long-lived, so client should not carry an overall timeout.
func NewHTTPTransport(client *http.Client, baseURL, path string) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{Client: client, BaseURL: baseURL, Path: path}
}

// URL returns the stream URL for key.
func (t *HTTPTransport) URL(key string) string {
	return strings.TrimRight(t.BaseURL, "/") + strings.ReplaceAll(t.Path, "{id}", url.PathEscape(key))
}

// Open implements Transport.
func (t *HTTPTransport) Open(ctx context.Context, key, lastEventID string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &httpConn{body: resp.Body, scanner: sse.NewScanner(resp.Body)}, nil
}

// StatusError is returned by HTTPTransport.Open for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream returned %d: %s", e.StatusCode, e.Message)
}

type httpConn struct {
	body    io.ReadCloser
	scanner *sse.Scanner
}

func (c *httpConn) Next() (sse.Frame, error) {
	if c.scanner.Next() {
		return c.scanner.Frame(), nil
	}
	if err := c.scanner.Err(); err != nil {
		return sse.Frame{}, err
	}
	return sse.Frame{}, io.EOF
}

func (c *httpConn) Close() error {
	err := c.body.Close()
	if errors.Is(err, http.ErrBodyReadAfterClose) {
		return nil
	}
	return err
}
