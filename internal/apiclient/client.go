package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCanceled marks outcomes caused by caller cancellation, as opposed to
// transport or server failures. Retry loops stop immediately on it.
var ErrCanceled = errors.New("request canceled")

// TokenProvider resolves the bearer token for one attempt. Returning an empty
// token is not an error; the call proceeds anonymously.
type TokenProvider func(ctx context.Context) (string, error)

type Logger interface {
	Printf(format string, args ...any)
}

// RequestError is the only error shape (besides cancellation) surfaced by the
// client. It always describes the final attempt.
type RequestError struct {
	Status    int
	Method    string
	URL       string
	Code      string
	Message   string
	Retryable bool
	RequestID string
	Details   json.RawMessage

	cause error
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: status=%d code=%s message=%s", e.Method, e.URL, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: status=%d message=%s", e.Method, e.URL, e.Status, e.Message)
}

func (e *RequestError) Unwrap() error { return e.cause }

// Transport reports whether the request failed before any response arrived.
func (e *RequestError) Transport() bool { return e.Status == 0 }

type Options struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	Logger        Logger

	// IdempotencyKey mints the Idempotency-Key value for non-auth POSTs.
	// Defaults to uuid.NewString.
	IdempotencyKey func() string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterMax  time.Duration

	// Jitter returns a uniform delay in [0, max]. Injectable for tests.
	Jitter func(max time.Duration) time.Duration
	// Now supplies the clock used for HTTP-date Retry-After headers.
	Now func() time.Time
	// Sleep performs the backoff wait. The default honors cancellation via
	// the context; tests substitute a recorder.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Client struct {
	baseURL        string
	tokenProvider  TokenProvider
	httpClient     *http.Client
	userAgent      string
	logger         Logger
	idempotencyKey func() string
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	jitterMax      time.Duration
	jitter         func(max time.Duration) time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	idempotencyKey := opts.IdempotencyKey
	if idempotencyKey == nil {
		idempotencyKey = uuid.NewString
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	jitterMax := opts.JitterMax
	if jitterMax <= 0 {
		jitterMax = 250 * time.Millisecond
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max) + 1))
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Client{
		baseURL:        baseURL,
		tokenProvider:  opts.TokenProvider,
		httpClient:     httpClient,
		userAgent:      strings.TrimSpace(opts.UserAgent),
		logger:         opts.Logger,
		idempotencyKey: idempotencyKey,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		jitterMax:      jitterMax,
		jitter:         jitter,
		now:            now,
		sleep:          sleep,
	}
}

type CallOptions struct {
	// Method defaults to GET.
	Method string
	Query  url.Values
	Body   any
	// IfMatch attaches the header verbatim; callers source it from a prior
	// response's ETag.
	IfMatch string
	// SkipAuth suppresses the Authorization header entirely.
	SkipAuth bool
	// Out, when non-nil, receives the decoded 2xx JSON payload. A 204 or an
	// empty body leaves it untouched.
	Out any
}

const authNamespace = "/v1/auth/"

// Do issues one logical request, retrying transient failures with
// exponential backoff and jitter. Retries are strictly sequential; the error
// returned is always the final attempt's.
func (c *Client) Do(ctx context.Context, path string, opts CallOptions) error {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	requestPath := path
	if len(opts.Query) > 0 {
		requestPath = path + "?" + opts.Query.Encode()
	}
	requestURL := c.baseURL + requestPath

	var bodyBytes []byte
	if opts.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(opts.Body)
		if err != nil {
			return err
		}
	}

	token := ""
	if !opts.SkipAuth && c.tokenProvider != nil {
		resolved, err := c.tokenProvider(ctx)
		if err != nil {
			return err
		}
		token = strings.TrimSpace(resolved)
	}

	// One key for the whole logical request: every retry of a POST replays
	// the same key so the server can deduplicate. Auth POSTs are excluded.
	idempotencyKey := ""
	if method == http.MethodPost && !strings.HasPrefix(path, authNamespace) {
		idempotencyKey = c.idempotencyKey()
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if opts.Body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		if opts.IfMatch != "" {
			req.Header.Set("If-Match", opts.IfMatch)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if cancelErr := canceled(ctx, err); cancelErr != nil {
				return cancelErr
			}
			if attempt < c.maxRetries {
				if waitErr := c.wait(ctx, attempt, ""); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &RequestError{
				Method:    method,
				URL:       requestURL,
				Message:   err.Error(),
				Retryable: true,
				cause:     err,
			}
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			if cancelErr := canceled(ctx, readErr); cancelErr != nil {
				return cancelErr
			}
			if attempt < c.maxRetries {
				if waitErr := c.wait(ctx, attempt, ""); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &RequestError{
				Method:    method,
				URL:       requestURL,
				Message:   readErr.Error(),
				Retryable: true,
				cause:     readErr,
			}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if opts.Out == nil || resp.StatusCode == http.StatusNoContent || len(payload) == 0 {
				return nil
			}
			if decodeErr := json.Unmarshal(payload, opts.Out); decodeErr != nil {
				return &RequestError{
					Status:    resp.StatusCode,
					Method:    method,
					URL:       requestURL,
					Message:   fmt.Sprintf("malformed response body: %v", decodeErr),
					Retryable: false,
					cause:     decodeErr,
				}
			}
			return nil
		}

		reqErr := parseRequestError(resp.StatusCode, method, requestURL, payload)
		if reqErr.Retryable && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if c.logger != nil {
				c.logger.Printf("retrying %s %s after status %d (attempt %d)", method, requestPath, resp.StatusCode, attempt+1)
			}
			if waitErr := c.wait(ctx, attempt, resp.Header.Get("Retry-After")); waitErr != nil {
				return waitErr
			}
			continue
		}
		return reqErr
	}
}

func parseRequestError(status int, method, requestURL string, payload []byte) *RequestError {
	reqErr := &RequestError{
		Status:  status,
		Method:  method,
		URL:     requestURL,
		Message: strings.TrimSpace(string(payload)),
		// 429s and 5xx are retryable unless the server says otherwise.
		Retryable: status == http.StatusTooManyRequests || status >= 500,
	}
	var envelope struct {
		Error *struct {
			Code         string          `json:"code"`
			Message      string          `json:"message"`
			Retryable    *bool           `json:"retryable"`
			RequestID    string          `json:"request_id"`
			RequestIDAlt string          `json:"requestId"`
			Details      json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(payload, &envelope) == nil && envelope.Error != nil {
		reqErr.Code = envelope.Error.Code
		if strings.TrimSpace(envelope.Error.Message) != "" {
			reqErr.Message = envelope.Error.Message
		}
		if envelope.Error.Retryable != nil {
			reqErr.Retryable = *envelope.Error.Retryable
		}
		reqErr.RequestID = envelope.Error.RequestID
		if reqErr.RequestID == "" {
			reqErr.RequestID = envelope.Error.RequestIDAlt
		}
		reqErr.Details = envelope.Error.Details
	}
	return reqErr
}

// wait sleeps for the attempt's backoff delay, never less than what a
// Retry-After header requested, and aborts promptly on cancellation.
func (c *Client) wait(ctx context.Context, attempt int, retryAfterHeader string) error {
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			delay = c.maxDelay
			break
		}
	}
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	delay += c.jitter(c.jitterMax)
	if retryAfter := c.parseRetryAfter(retryAfterHeader); retryAfter > delay {
		delay = retryAfter
	}
	return c.sleep(ctx, delay)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func (c *Client) parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0
	}
	delay := when.Sub(c.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func canceled(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCanceled, err)
}
