// Package backend is the typed accessor for the PMS REST API. It performs no
// retries; retry policy belongs to callers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pmslens/api/internal/auth"
)

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is requests per second across the whole process.
	RateLimit float64
	RateBurst int
	// Transport allows injecting a custom round tripper in tests.
	Transport http.RoundTripper
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 50
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// do sends one request and returns the body of a 2xx response. The session
// is checked before anything touches the network.
func (c *Client) do(ctx context.Context, sess auth.Session, method, path string, query url.Values, body any) ([]byte, error) {
	if !sess.Valid() {
		return nil, ErrUnauthenticated
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("scope_id", sess.ScopeID)
	target := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusError(res.StatusCode, payload)
	}
	return payload, nil
}

func statusError(status int, payload []byte) *StatusError {
	var parsed errorBody
	_ = json.Unmarshal(payload, &parsed)
	message := parsed.Error
	if message == "" {
		message = parsed.Detail
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &StatusError{Status: status, Code: parsed.Code, Message: message}
}

// Ping checks that the backend answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	if res.StatusCode >= 500 {
		return fmt.Errorf("backend health status %d", res.StatusCode)
	}
	return nil
}
