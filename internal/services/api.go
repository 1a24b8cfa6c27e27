// Authenticated HTTP client for the chat platform's REST API
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/kcx/internal/metrics"
	"github.com/desertthunder/kcx/internal/shared"
)

// DefaultBaseURL is the platform's REST API root.
const DefaultBaseURL = "https://connect.kingsch.at/api"

// APIError is a non-2xx response other than an authentication failure.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: status %d: %s", shared.ErrAPIRequest, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return shared.ErrAPIRequest }

// IsNotFound reports whether err is an [APIError] with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
	Attempts   int
}

// Decode unmarshals the response body into v.
func (r *APIResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client issues bearer-authenticated requests and recovers from a single expired token.
//
// A 401 triggers exactly one refresh and one retry of the identical request. A second 401
// is reported as [shared.ErrAuthenticationFailed].
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *log.Logger
}

// NewClient creates a new [Client] for the platform API.
func NewClient(baseURL string, client *http.Client, tokens TokenProvider, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		tokens:     tokens,
		logger:     shared.WithLogger(logger, "component", "api"),
	}
}

// Get performs an authenticated GET request.
func (c *Client) Get(ctx context.Context, path string) (*APIResponse, error) {
	return c.Call(ctx, http.MethodGet, path, nil)
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*APIResponse, error) {
	return c.Call(ctx, http.MethodPost, path, body)
}

// Call performs an authenticated request. body may be nil, raw JSON bytes or any JSON-encodable value.
//
// For an [*APIError] the response is returned alongside the error.
func (c *Client) Call(ctx context.Context, method, path string, body any) (*APIResponse, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, method, path, payload, token, 1)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("received 401, refreshing token", "method", method, "path", path)

		refreshed, err := c.tokens.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: refresh after 401 failed: %v", shared.ErrAuthenticationFailed, err)
		}

		resp, err = c.do(ctx, method, path, payload, refreshed.AccessToken, 2)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s %s rejected after refresh", shared.ErrAuthenticationFailed, method, path)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string, attempt int) (*APIResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	endpoint := endpointLabel(path)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(method, endpoint, "error").Inc()
		c.logger.Error("request failed", "method", method, "path", path, "attempt", attempt, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	elapsed := time.Since(start)
	metrics.APIRequests.WithLabelValues(method, endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.APIDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())

	logFn := c.logger.Info
	if resp.StatusCode >= 400 {
		logFn = c.logger.Warn
	}
	logFn("api call", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt, "duration", elapsed)

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
		Attempts:   attempt,
	}

	var jsonData any
	if err := json.Unmarshal(data, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

// endpointLabel collapses ids so metric labels stay bounded: /users/abc/new_message -> /users/:id/new_message.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i-1] == "users" && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
