package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hallcall/hallcall-api/pkg/circuitbreaker"
	"github.com/hallcall/hallcall-api/pkg/metrics"
	"github.com/hallcall/hallcall-api/pkg/otel"
	"github.com/hallcall/hallcall-api/pkg/retry"
)

// APIError is a non-2xx vendor response.
type APIError struct {
	Vendor  string
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s returned status %d", e.Vendor, e.Status)
}

// StatusCode lets the error layer pass the vendor status through.
func (e *APIError) StatusCode() int { return e.Status }

// Request describes one vendor call.
type Request struct {
	Method      string
	Path        string // appended to the base URL unless absolute
	Query       map[string]string
	Body        io.Reader
	JSON        interface{}
	ContentType string
	Header      http.Header
}

// HTTPClient wraps http.Client with retry, a circuit breaker, tracing and metrics.
type HTTPClient struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	serviceName    string
	baseURL        string
	decorate       func(*http.Request)
	retryConfig    retry.Config
}

// NewHTTPClient creates a vendor client. decorate adds auth headers to every request.
func NewHTTPClient(serviceName, baseURL string, timeout time.Duration, decorate func(*http.Request)) *HTTPClient {
	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.OnStateChange = func(_, to circuitbreaker.State) {
		metrics.SetCircuitState(serviceName, int(to))
	}
	return &HTTPClient{
		client:         &http.Client{Timeout: timeout},
		circuitBreaker: circuitbreaker.New(cbConfig),
		serviceName:    serviceName,
		baseURL:        strings.TrimRight(baseURL, "/"),
		decorate:       decorate,
		retryConfig:    retry.DefaultConfig(),
	}
}

// WithRetry overrides the retry policy used for idempotent requests.
func (c *HTTPClient) WithRetry(cfg retry.Config) *HTTPClient {
	c.retryConfig = cfg
	return c
}

// BaseURL returns the configured base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Do performs req and decodes a JSON response into out (when non-nil).
func (c *HTTPClient) Do(ctx context.Context, req Request, out interface{}) error {
	body, _, err := c.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.serviceName, err)
	}
	return nil
}

// Raw performs req and returns the response body and content type.
// GET and DELETE are retried on transport errors and 5xx; writes are sent once.
func (c *HTTPClient) Raw(ctx context.Context, req Request) ([]byte, string, error) {
	ctx, span := otel.VendorSpan(ctx, c.serviceName, req.Method, req.Path)
	defer span.End()

	start := time.Now()
	var (
		body        []byte
		contentType string
	)

	payload, err := c.payload(req)
	if err != nil {
		return nil, "", err
	}

	attempt := func() error {
		httpReq, err := c.build(ctx, req, payload)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%s: %w", c.serviceName, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s: read response: %w", c.serviceName, err)
		}
		if resp.StatusCode >= 400 {
			return &APIError{
				Vendor:  c.serviceName,
				Status:  resp.StatusCode,
				Message: extractMessage(data),
				Body:    data,
			}
		}
		body = data
		contentType = resp.Header.Get("Content-Type")
		return nil
	}

	err = c.circuitBreaker.ExecuteCounting(ctx, func() error {
		if !idempotent(req.Method) {
			return attempt()
		}
		cfg := c.retryConfig
		cfg.Retryable = isTransient
		return retry.Do(ctx, cfg, attempt)
	}, isTransient)

	if err != nil {
		span.RecordError(err)
	}
	metrics.RecordVendorCall(c.serviceName, err == nil, time.Since(start))
	return body, contentType, err
}

func (c *HTTPClient) payload(req Request) ([]byte, error) {
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.serviceName, err)
		}
		return data, nil
	case req.Body != nil:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: read request body: %w", c.serviceName, err)
		}
		return data, nil
	}
	return nil, nil
}

func (c *HTTPClient) build(ctx context.Context, req Request, payload []byte) (*http.Request, error) {
	url := req.Path
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + req.Path
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.serviceName, err)
	}

	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			if v != "" {
				q.Set(k, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	switch {
	case req.ContentType != "":
		httpReq.Header.Set("Content-Type", req.ContentType)
	case req.JSON != nil:
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.decorate != nil {
		c.decorate(httpReq)
	}
	return httpReq, nil
}

// idempotent reports requests safe to replay. DELETE is left out: a replay
// after a lost response turns a success into a vendor 404.
func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// isTransient reports errors worth retrying and counting against the breaker:
// transport failures, 429 and 5xx. Other 4xx are the caller's fault.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// extractMessage pulls a human readable message out of common vendor error shapes.
func extractMessage(body []byte) string {
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return msg
	}
	for _, key := range []string{"message", "error", "detail"} {
		switch v := generic[key].(type) {
		case string:
			return v
		case map[string]interface{}:
			if m, ok := v["message"].(string); ok {
				return m
			}
			if m, ok := v["msg"].(string); ok {
				return m
			}
		case []interface{}:
			if len(v) > 0 {
				if first, ok := v[0].(map[string]interface{}); ok {
					if m, ok := first["msg"].(string); ok {
						return m
					}
				}
			}
		}
	}
	return ""
}
