package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"toolchat/internal/domain"
)

// =============================================================================
// RetryConfig
// =============================================================================

// Config controls retry behaviour for external API calls.
type Config struct {
	MaxRetries     int           `json:"maxRetries"`     // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration `json:"initialBackoff"` // Delay before first retry
	MaxBackoff     time.Duration `json:"maxBackoff"`     // Upper bound on backoff duration, before jitter
	Multiplier     float64       `json:"multiplier"`     // Backoff multiplier (e.g. 2.0 for exponential)
	MaxJitter      time.Duration `json:"maxJitter"`      // Random jitter in [0, MaxJitter) added to each delay
}

// DefaultConfig returns 3 retries, 1s doubling to 10s, with up to 1s jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		MaxJitter:      time.Second,
	}
}

// FromDomain converts the millisecond-based file config, filling zero fields from DefaultConfig.
func FromDomain(rc domain.RetryConfig) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = rc.MaxRetries
	if rc.InitialBackoff > 0 {
		cfg.InitialBackoff = time.Duration(rc.InitialBackoff) * time.Millisecond
	}
	if rc.MaxBackoff > 0 {
		cfg.MaxBackoff = time.Duration(rc.MaxBackoff) * time.Millisecond
	}
	if rc.Multiplier > 0 {
		cfg.Multiplier = float64(rc.Multiplier)
	}
	switch {
	case rc.MaxJitter > 0:
		cfg.MaxJitter = time.Duration(rc.MaxJitter) * time.Millisecond
	case rc.MaxJitter < 0:
		cfg.MaxJitter = 0
	}
	return cfg
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	if c.MaxJitter < 0 {
		return errors.New("retry: MaxJitter must be >= 0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

// retryableStatusCodes are HTTP status codes that indicate a transient failure.
var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError is a non-2xx response from a remote API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration // server-provided hint; zero when absent
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s api: %d %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewStatusError builds a StatusError from a response, reading the Retry-After header.
func NewStatusError(provider string, resp *http.Response, body []byte) *StatusError {
	return &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP date.
// Unparseable or past values return zero.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryableError marks an error as transient regardless of its type.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// MarkRetryable wraps err so IsRetryable reports true. A positive retryAfter
// replaces the computed backoff for the next attempt.
func MarkRetryable(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true when err represents a transient failure that may
// succeed on retry: a marked error, a retryable status code or a network
// timeout. Other transport failures (refused connections, truncated bodies)
// are not retried. Context errors (Canceled, DeadlineExceeded) never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are never retryable; the caller chose to stop.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var marked *RetryableError
	if errors.As(err, &marked) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatusCodes[statusErr.StatusCode]
	}

	// net.Error timeout (wraps OS-level i/o timeout)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// RetryAfterOf returns the server or caller supplied retry hint carried by err.
func RetryAfterOf(err error) time.Duration {
	var marked *RetryableError
	if errors.As(err, &marked) && marked.RetryAfter > 0 {
		return marked.RetryAfter
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// =============================================================================
// Backoff
// =============================================================================

// Delay returns the wait before retry number attempt (0-based). A positive
// retryAfter is used verbatim; otherwise the delay is
// min(InitialBackoff * Multiplier^attempt, MaxBackoff) + jitter.
func Delay(cfg Config, attempt int, retryAfter, jitter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if base > float64(cfg.MaxBackoff) || math.IsInf(base, 0) {
		base = float64(cfg.MaxBackoff)
	}
	return time.Duration(base) + jitter
}

// =============================================================================
// Retrier
// =============================================================================

// Retrier runs operations with exponential backoff on retryable failures.
type Retrier struct {
	config    Config
	logger    *slog.Logger
	sleepFunc func(ctx context.Context, d time.Duration) error // injectable for testing
	jitterFn  func(max time.Duration) time.Duration            // injectable for testing
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retrier) { r.logger = l }
}

// New returns a Retrier for cfg.
func New(cfg Config, opts ...Option) *Retrier {
	r := &Retrier{
		config:    cfg,
		sleepFunc: sleepContext,
		jitterFn:  randomJitter,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Retrier) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Config returns the retry configuration.
func (r *Retrier) Config() Config { return r.config }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxRetries+1 attempts have been made. Either way the error of the last
// attempt is returned unchanged.
func Do[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	cfg := r.config

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := Delay(cfg, attempt, RetryAfterOf(err), r.jitterFn(cfg.MaxJitter))
		r.log().Warn("retrying after transient failure",
			"attempt", attempt+1, "delay", delay, "error", err)
		if err := r.sleepFunc(ctx, delay); err != nil {
			return zero, err
		}
	}

	r.log().Warn("retries exhausted", "attempts", cfg.MaxRetries+1, "error", lastErr)
	return zero, lastErr
}

// =============================================================================
// RetryableProvider (Decorator)
// =============================================================================

// RetryableProvider wraps an LLMProvider with retry-on-transient-error logic.
type RetryableProvider struct {
	inner   domain.LLMProvider
	retrier *Retrier
}

// NewRetryableProvider returns a decorator that retries Complete calls on transient errors.
// inner must not be nil.
func NewRetryableProvider(inner domain.LLMProvider, cfg Config, opts ...Option) *RetryableProvider {
	if inner == nil {
		panic("retry: inner provider must not be nil")
	}
	return &RetryableProvider{inner: inner, retrier: New(cfg, opts...)}
}

// Complete calls the inner provider and retries on transient errors with exponential backoff.
func (p *RetryableProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	return Do(ctx, p.retrier, func(ctx context.Context) (string, error) {
		return p.inner.Complete(ctx, req)
	})
}

// Compile-time check that RetryableProvider implements LLMProvider.
var _ domain.LLMProvider = (*RetryableProvider)(nil)
