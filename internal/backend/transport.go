// Package backend implements the HTTP client for the remote processing
// service: a thin transport layer plus typed methods for each endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dataqual/internal/dataqual"
	"github.com/JakeFAU/dataqual/internal/metrics"
)

// Config controls Client behavior.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	APIKey        string
}

// Client issues requests against the processing service. It performs no
// caching or retry policy; both are layered above it.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	uploadClient *http.Client
	clock        dataqual.Clock
	logger       *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, clock dataqual.Clock, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = cfg.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		uploadClient: &http.Client{Timeout: cfg.UploadTimeout},
		clock:        clock,
		logger:       logger,
	}, nil
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out (when out is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &dataqual.TransportError{Method: method, Path: path, Message: "encode request body", Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.execute(c.httpClient, req, method, path, out)
}

// doMultipart uploads a single file under the multipart field "file".
func (c *Client) doMultipart(ctx context.Context, path, filename string, file io.Reader, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return &dataqual.TransportError{Method: http.MethodPost, Path: path, Message: "create multipart part", Err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return &dataqual.TransportError{Method: http.MethodPost, Path: path, Message: "read upload payload", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &dataqual.TransportError{Method: http.MethodPost, Path: path, Message: "finalize multipart body", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.execute(c.uploadClient, req, http.MethodPost, path, out)
}

// doDownload streams a binary response body into w.
func (c *Client) doDownload(ctx context.Context, path string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/octet-stream")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveBackendRequest(http.MethodGet, routeLabel(path), statusOrZero(resp), time.Since(start))
	if err != nil {
		return &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "execute request", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(http.MethodGet, path, resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return &dataqual.TransportError{Method: http.MethodGet, Path: path, Message: "stream response body", Err: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &dataqual.TransportError{Method: method, Path: path, Message: "create request", Err: err}
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) execute(client *http.Client, req *http.Request, method, path string, out any) error {
	start := c.now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	metrics.ObserveBackendRequest(method, routeLabel(path), statusOrZero(resp), duration)
	if err != nil {
		c.logger.Debug("backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return &dataqual.TransportError{Method: method, Path: path, Message: "execute request", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.logger.Debug("backend request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &dataqual.TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    "decode response",
			Err:        err,
		}
	}
	return nil
}

// errorFromResponse converts a non-2xx response into a TransportError,
// preserving the server's error message verbatim when one is present.
func (c *Client) errorFromResponse(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := serverMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &dataqual.TransportError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

func serverMessage(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Error
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}

func statusOrZero(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// routeLabel collapses numeric path segments so metrics labels stay
// low-cardinality.
func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, err := fmt.Sscanf(seg, "%d", new(int)); err == nil && isDigits(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
