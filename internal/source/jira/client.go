package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of an unexpected response body is kept in
// error messages.
const maxErrorBody = 512

// maxBackoff caps any wait before retrying a rate-limited call.
const maxBackoff = 30 * time.Second

// Client is a thin HTTP client for the Jira Cloud REST API. It handles
// Bearer token authentication and JSON marshaling. Status codes are
// returned to the caller uninterpreted; only rate-limited (429) calls are
// retried, and only when maxRetries is positive.
type Client struct {
	token      string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unmarshaling response body: %w", err)
	}
	return nil
}

// remoteMessage extracts a human-readable reason from an error response,
// falling back to a truncated raw body.
func (r *Response) remoteMessage() string {
	var jiraErr ErrorResponse
	if json.Unmarshal(r.Body, &jiraErr) == nil &&
		(len(jiraErr.ErrorMessages) > 0 || len(jiraErr.Errors) > 0) {
		parts := append([]string{}, jiraErr.ErrorMessages...)
		fields := make([]string, 0, len(jiraErr.Errors))
		for field := range jiraErr.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			parts = append(parts, field+": "+jiraErr.Errors[field])
		}
		return strings.Join(parts, "; ")
	}

	body := strings.TrimSpace(string(r.Body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return body
}

// NewClient creates a new Jira HTTP client. The token is an OAuth access
// token used for Bearer authentication. timeout bounds every round trip.
func NewClient(token string, timeout time.Duration, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		logger:     slog.Default(),
	}
}

// Get performs an HTTP GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// Post performs an HTTP POST request with a JSON body.
func (c *Client) Post(ctx context.Context, url string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, body)
}

// do builds the request, handles auth and optional rate-limit retries, and
// reads the full body. An error is returned only when no response could be
// obtained.
func (c *Client) do(
	ctx context.Context,
	method string,
	url string,
	body any,
) (*Response, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request %s %s: %w", method, req.URL.Path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}

		c.logger.Debug("jira request",
			"method", method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"attempt", attempt,
			"elapsed", time.Since(start),
		)

		if resp.StatusCode == http.StatusTooManyRequests && attempt < c.maxRetries {
			wait := retryAfterDuration(resp, attempt, c.maxRetryWait())
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
				c.logger.Debug("rate limited past deadline, not retrying", "wait", wait)
				return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
	}
}

// maxRetryWait bounds a single rate-limit wait by the per-call timeout,
// so a retried call never sleeps longer than one round trip may take.
func (c *Client) maxRetryWait() time.Duration {
	if c.httpClient.Timeout > 0 && c.httpClient.Timeout < maxBackoff {
		return c.httpClient.Timeout
	}
	return maxBackoff
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration, never longer than limit. Falls back to exponential backoff if
// the header is missing.
func retryAfterDuration(resp *http.Response, attempt int, limit time.Duration) time.Duration {
	// Exponential backoff: 1s, 2s, 4s, ...
	wait := limit
	if attempt < 16 {
		wait = time.Duration(1<<uint(attempt)) * time.Second
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			if time.Duration(seconds) > limit/time.Second {
				return limit
			}
			wait = time.Duration(seconds) * time.Second
		}
	}

	if wait > limit {
		wait = limit
	}
	return wait
}
