package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	maxErrorBody  = 4096
)

var (
	// ErrInvalidConfig indicates a client constructed without a usable base URL.
	ErrInvalidConfig = errors.New("api: invalid client config")
	// ErrMalformedEnvelope indicates a response body that is not a JSON envelope.
	ErrMalformedEnvelope = errors.New("api: malformed response envelope")
)

// Error is an expected failure reported by the server: an envelope with
// status "error" or a non-2xx response.
type Error struct {
	StatusCode int
	Message    string
	Path       string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s returned status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("api: %s: %s", e.Path, e.Message)
}

// NotFound reports whether the server answered 404.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Unauthorized reports whether the server rejected the credentials.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Envelope is the JSON wrapper returned by every REST endpoint.
type Envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ClientConfig describes how to reach the REST surface.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues JSON requests against the REST surface.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and constructs a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: base url required", ErrInvalidConfig)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, raw)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = strings.TrimRight(parsed.RawPath, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    parsed,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// URL resolves path and query against the base URL. The path is taken as
// already escaped, the way Path builds it.
func (c *Client) URL(path string, query url.Values) string {
	resolved := *c.baseURL
	escaped := c.baseURL.EscapedPath() + "/" + strings.TrimLeft(path, "/")
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		resolved.Path = unescaped
		resolved.RawPath = escaped
	} else {
		resolved.Path = escaped
		resolved.RawPath = ""
	}
	resolved.RawQuery = query.Encode()
	return resolved.String()
}

// Get reads path and decodes the envelope data into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body to path and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put sends body to path and decodes the envelope data into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Patch sends body to path and decodes the envelope data into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete removes path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Raw fetches path without envelope decoding and returns the body with its content type.
func (c *Client) Raw(ctx context.Context, path string, query url.Values) ([]byte, string, error) {
	response, err := c.send(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, "", err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, "", c.statusError(path, response)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("api: read %s: %w", path, err)
	}
	return body, response.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	response, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	var envelope Envelope
	decodeErr := json.NewDecoder(response.Body).Decode(&envelope)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &Error{StatusCode: response.StatusCode, Path: path}
		if decodeErr == nil {
			apiErr.Message = envelope.Message
		}
		c.logger.Debug("api request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedEnvelope, method, path, decodeErr)
	}
	switch envelope.Status {
	case statusSuccess:
	case statusError:
		return &Error{StatusCode: response.StatusCode, Message: envelope.Message, Path: path}
	default:
		return fmt.Errorf("%w: %s %s: unknown status %q", ErrMalformedEnvelope, method, path, envelope.Status)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedEnvelope, method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.URL(path, query), reader)
	if err != nil {
		return nil, fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "token "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	return response, nil
}

func (c *Client) statusError(path string, response *http.Response) error {
	apiErr := &Error{StatusCode: response.StatusCode, Path: path}
	limited, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	var envelope Envelope
	if json.Unmarshal(limited, &envelope) == nil {
		apiErr.Message = envelope.Message
	}
	return apiErr
}
