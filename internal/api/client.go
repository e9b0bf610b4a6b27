// Package api is the REST client for the chat backend. Every operation
// returns a models.Result envelope; transport and HTTP failures are
// reported in the envelope, never as a Go error.
package api

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
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/hrchat/internal/errors"
	"github.com/alexjbarnes/hrchat/internal/models"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is a non-2xx response. Message is the backend's own
// message when it sent one.
type StatusError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API %s returned status %d: %s", e.Endpoint, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return apperrors.ErrAPIRequest }

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout applies to JSON calls. Uploads use their own
	// context deadline instead.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. API responses are
	// small JSON payloads.
	maxAPIResponseBytes = 4 * 1024 * 1024
)

// TokenSource supplies the bearer token attached to each request.
type TokenSource interface {
	Token() string
}

// Client talks to the chat backend's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never leaks to
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a client for baseURL. If httpClient is nil, one
// with a same-host redirect policy is created. tokens may be nil for
// unauthenticated use.
func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{CheckRedirect: sameHostRedirectPolicy}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// request describes one API call.
type request struct {
	method      string
	endpoint    string
	body        io.Reader
	contentType string

	// timeout overrides httpClientTimeout when non-zero.
	timeout time.Duration
}

// do sends r and decodes the response payload into result. The payload
// is the body's "data" member when the backend wraps it, else the whole
// body. It returns the HTTP status (0 if no response was received).
func (c *Client) do(ctx context.Context, r request, result any) (int, error) {
	timeout := r.timeout
	if timeout == 0 {
		timeout = httpClientTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.endpoint, r.body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return 0, &TransientError{Err: fmt.Errorf("sending request to %s: %w: %w", r.endpoint, apperrors.ErrAPIRequest, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response from %s: %w", r.endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = gjson.GetBytes(respBody, "error").String()
		}

		if msg == "" {
			msg = sanitizeResponseBody(respBody)
		}

		var err error = &StatusError{Endpoint: r.endpoint, Status: resp.StatusCode, Message: msg}
		if isTransientStatus(resp.StatusCode) {
			err = &TransientError{Err: err}
		}

		return resp.StatusCode, err
	}

	if result == nil {
		return resp.StatusCode, nil
	}

	payload := respBody
	if data := gjson.GetBytes(respBody, "data"); data.Exists() {
		payload = []byte(data.Raw)
	}

	if err := json.Unmarshal(payload, result); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response from %s: %w: %w", r.endpoint, apperrors.ErrAPIResponse, err)
	}

	return resp.StatusCode, nil
}

// call runs r and folds the outcome into a Result envelope.
func call[T any](ctx context.Context, c *Client, r request) models.Result[T] {
	var out T

	status, err := c.do(ctx, r, &out)
	if err != nil {
		msg := err.Error()

		var se *StatusError
		if errors.As(err, &se) && se.Message != "" {
			msg = se.Message
		}

		return models.Fail[T](status, msg, IsTransient(err))
	}

	return models.OK(status, out)
}

func jsonBody(v any) (io.Reader, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	return bytes.NewReader(payload), nil
}
