package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"toolchat/internal/domain"
)

// =============================================================================
// RetryConfig Tests
// =============================================================================

func TestDefaultRetryConfig_ShouldHaveReasonableDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("want MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != time.Second {
		t.Errorf("want InitialBackoff=1s, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 10*time.Second {
		t.Errorf("want MaxBackoff=10s, got %v", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("want Multiplier=2.0, got %v", cfg.Multiplier)
	}
	if cfg.MaxJitter != time.Second {
		t.Errorf("want MaxJitter=1s, got %v", cfg.MaxJitter)
	}
}

func TestFromDomain_WhenMillisecondsGiven_ShouldConvert(t *testing.T) {
	cfg := FromDomain(domain.RetryConfig{MaxRetries: 2, InitialBackoff: 250, MaxBackoff: 4000, Multiplier: 3, MaxJitter: 100})
	if cfg.MaxRetries != 2 || cfg.InitialBackoff != 250*time.Millisecond || cfg.MaxBackoff != 4*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Multiplier != 3 || cfg.MaxJitter != 100*time.Millisecond {
		t.Errorf("unexpected multiplier/jitter: %+v", cfg)
	}
}

func TestFromDomain_WhenZeroValues_ShouldUseDefaults(t *testing.T) {
	cfg := FromDomain(domain.RetryConfig{})
	def := DefaultConfig()
	if cfg.InitialBackoff != def.InitialBackoff || cfg.MaxBackoff != def.MaxBackoff || cfg.MaxJitter != def.MaxJitter {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries is taken verbatim, got %d", cfg.MaxRetries)
	}
}

func TestFromDomain_WhenNegativeJitter_ShouldDisableJitter(t *testing.T) {
	if cfg := FromDomain(domain.RetryConfig{MaxJitter: -1}); cfg.MaxJitter != 0 {
		t.Errorf("expected no jitter, got %v", cfg.MaxJitter)
	}
}

func TestRetryConfig_Validate_WhenValid_ShouldReturnNil(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestRetryConfig_Validate_WhenFieldsOutOfRange_ShouldReturnError(t *testing.T) {
	cases := map[string]func(*Config){
		"negative retries":   func(c *Config) { c.MaxRetries = -1 },
		"zero initial":       func(c *Config) { c.InitialBackoff = 0 },
		"zero max":           func(c *Config) { c.MaxBackoff = 0 },
		"multiplier below 1": func(c *Config) { c.Multiplier = 0.5 },
		"negative jitter":    func(c *Config) { c.MaxJitter = -time.Millisecond },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRetryConfig_Validate_WhenMaxRetriesZero_ShouldReturnNil(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("MaxRetries=0 (no retries) should be valid, got: %v", err)
	}
}

// =============================================================================
// IsRetryable Tests
// =============================================================================

// timeoutErr is a test helper that implements net.Error with Timeout() = true.
type timeoutErr struct{}

func (t *timeoutErr) Error() string   { return "i/o timeout" }
func (t *timeoutErr) Timeout() bool   { return true }
func (t *timeoutErr) Temporary() bool { return true }

func TestIsRetryable_WhenNilError_ShouldReturnFalse(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
}

func TestIsRetryable_WhenRetryableStatus_ShouldReturnTrue(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		err := &StatusError{Provider: "openai", StatusCode: code}
		if !IsRetryable(err) {
			t.Errorf("%d should be retryable", code)
		}
		if !IsRetryable(fmt.Errorf("wrapped: %w", err)) {
			t.Errorf("wrapped %d should be retryable", code)
		}
	}
}

func TestIsRetryable_WhenClientStatus_ShouldReturnFalse(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404, 422, 501} {
		if IsRetryable(&StatusError{Provider: "openai", StatusCode: code}) {
			t.Errorf("%d should not be retryable", code)
		}
	}
}

func TestIsRetryable_WhenMarked_ShouldReturnTrue(t *testing.T) {
	if !IsRetryable(MarkRetryable(errors.New("flaky"), 0)) {
		t.Error("marked error should be retryable")
	}
}

func TestIsRetryable_WhenTimeoutError_ShouldReturnTrue(t *testing.T) {
	if !IsRetryable(fmt.Errorf("openai: %w", &timeoutErr{})) {
		t.Error("net timeout should be retryable")
	}
}

func TestIsRetryable_WhenTransportFailureWithoutTimeout_ShouldReturnFalse(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
		fmt.Errorf("read: %w", syscall.ECONNRESET),
		fmt.Errorf("read body: %w", io.ErrUnexpectedEOF),
		io.EOF,
	} {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = true, want false", err)
		}
	}
}

func TestDo_WhenConnectionRefused_ShouldStopAfterOneAttempt(t *testing.T) {
	r := New(DefaultConfig())
	r.sleepFunc = func(context.Context, time.Duration) error { return nil }
	refused := fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
	calls := 0
	_, err := Do(context.Background(), r, func(context.Context) (int, error) {
		calls++
		return 0, refused
	})
	if err != refused || calls != 1 {
		t.Errorf("err = %v, calls = %d; want the dial error after 1 call", err, calls)
	}
}

func TestIsRetryable_WhenContextCanceled_ShouldReturnFalse(t *testing.T) {
	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if IsRetryable(MarkRetryable(context.DeadlineExceeded, 0)) {
		t.Error("a marked deadline error should still not be retryable")
	}
}

func TestIsRetryable_WhenGenericError_ShouldReturnFalse(t *testing.T) {
	if IsRetryable(errors.New("something went wrong")) {
		t.Error("generic error should not be retryable")
	}
}

// =============================================================================
// Retry-After Tests
// =============================================================================

func TestParseRetryAfter_WhenSeconds_ShouldConvertToDuration(t *testing.T) {
	if got := ParseRetryAfter("2"); got != 2*time.Second {
		t.Errorf("want 2s, got %v", got)
	}
	if got := ParseRetryAfter("0.5"); got != 500*time.Millisecond {
		t.Errorf("want 500ms, got %v", got)
	}
}

func TestParseRetryAfter_WhenInvalidOrEmpty_ShouldReturnZero(t *testing.T) {
	for _, v := range []string{"", "soon", "-3", "0"} {
		if got := ParseRetryAfter(v); got != 0 {
			t.Errorf("%q: want 0, got %v", v, got)
		}
	}
}

func TestNewStatusError_ShouldReadRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Retry-After", "3")
	rec.WriteHeader(http.StatusTooManyRequests)
	err := NewStatusError("openai", rec.Result(), []byte(" slow down \n"))
	if err.RetryAfter != 3*time.Second {
		t.Errorf("want 3s, got %v", err.RetryAfter)
	}
	if err.Body != "slow down" {
		t.Errorf("body: got %q", err.Body)
	}
	if got := err.Error(); got != "openai api: 429 Too Many Requests: slow down" {
		t.Errorf("message: got %q", got)
	}
}

func TestRetryAfterOf_WhenMarkedHintPresent_ShouldPreferIt(t *testing.T) {
	err := MarkRetryable(&StatusError{StatusCode: 429, RetryAfter: time.Second}, 5*time.Second)
	if got := RetryAfterOf(err); got != 5*time.Second {
		t.Errorf("want 5s, got %v", got)
	}
	if got := RetryAfterOf(&StatusError{StatusCode: 429, RetryAfter: time.Second}); got != time.Second {
		t.Errorf("want 1s, got %v", got)
	}
	if got := StatusCodeOf(fmt.Errorf("x: %w", err)); got != 429 {
		t.Errorf("status code: want 429, got %d", got)
	}
}

// =============================================================================
// Delay Tests
// =============================================================================

func TestDelay_ShouldGrowExponentiallyAndCap(t *testing.T) {
	cfg := DefaultConfig()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, w := range want {
		if got := Delay(cfg, attempt, 0, 0); got != w {
			t.Errorf("attempt %d: want %v, got %v", attempt, w, got)
		}
	}
}

func TestDelay_WhenJitter_ShouldAddOnTopOfCap(t *testing.T) {
	cfg := DefaultConfig()
	if got := Delay(cfg, 10, 0, 300*time.Millisecond); got != 10*time.Second+300*time.Millisecond {
		t.Errorf("want 10.3s, got %v", got)
	}
}

func TestDelay_WhenRetryAfter_ShouldUseItVerbatim(t *testing.T) {
	cfg := DefaultConfig()
	if got := Delay(cfg, 0, 30*time.Second, 500*time.Millisecond); got != 30*time.Second {
		t.Errorf("want 30s, got %v", got)
	}
}

func TestRandomJitter_ShouldStayInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := randomJitter(time.Second)
		if j < 0 || j >= time.Second {
			t.Fatalf("jitter out of range: %v", j)
		}
	}
	if randomJitter(0) != 0 {
		t.Error("zero max should give zero jitter")
	}
}

// =============================================================================
// Do Tests
// =============================================================================

// newTestRetrier records sleeps instead of waiting and uses no jitter.
func newTestRetrier(cfg Config) (*Retrier, *[]time.Duration) {
	r := New(cfg)
	var sleeps []time.Duration
	r.sleepFunc = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	r.jitterFn = func(time.Duration) time.Duration { return 0 }
	return r, &sleeps
}

func TestDo_WhenAlwaysRetryable_ShouldMakeMaxRetriesPlusOneAttempts(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3, 5} {
		cfg := DefaultConfig()
		cfg.MaxRetries = maxRetries
		r, sleeps := newTestRetrier(cfg)
		calls := 0
		last := &StatusError{Provider: "p", StatusCode: 503}
		_, err := Do(context.Background(), r, func(context.Context) (int, error) {
			calls++
			return 0, last
		})
		if calls != maxRetries+1 {
			t.Errorf("maxRetries=%d: want %d attempts, got %d", maxRetries, maxRetries+1, calls)
		}
		if len(*sleeps) != maxRetries {
			t.Errorf("maxRetries=%d: want %d sleeps, got %d", maxRetries, maxRetries, len(*sleeps))
		}
		var se *StatusError
		if !errors.As(err, &se) || se != last {
			t.Errorf("maxRetries=%d: expected last error to be wrapped, got %v", maxRetries, err)
		}
	}
}

func TestDo_WhenNonRetryable_ShouldReturnAfterOneAttempt(t *testing.T) {
	r, sleeps := newTestRetrier(DefaultConfig())
	calls := 0
	fatal := &StatusError{Provider: "p", StatusCode: 401}
	_, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		return "", fatal
	})
	if calls != 1 {
		t.Errorf("want 1 attempt, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("want no sleeps, got %d", len(*sleeps))
	}
	if err != error(fatal) {
		t.Errorf("non-retryable error must be returned unwrapped, got %v", err)
	}
}

func TestDo_WhenRetryAfterHint_ShouldSleepForHint(t *testing.T) {
	r, sleeps := newTestRetrier(DefaultConfig())
	calls := 0
	got, err := Do(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &StatusError{Provider: "p", StatusCode: 429, RetryAfter: 7 * time.Second}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("want ok, got %q, %v", got, err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 7*time.Second {
		t.Errorf("want a single 7s sleep, got %v", *sleeps)
	}
}

func TestDo_WhenContextCanceledDuringSleep_ShouldReturnContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(DefaultConfig())
	r.sleepFunc = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	_, err := Do(ctx, r, func(context.Context) (int, error) {
		calls++
		return 0, MarkRetryable(errors.New("flaky"), 0)
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestSleepContext_WhenCanceled_ShouldReturnEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext should not wait when ctx is done")
	}
}

// =============================================================================
// RetryableProvider Tests
// =============================================================================

// mockLLM implements domain.LLMProvider for tests.
type mockLLM struct {
	calls     int32
	responses []string
	errs      []error
}

func (m *mockLLM) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	idx := int(atomic.AddInt32(&m.calls, 1)) - 1
	if idx < len(m.errs) && m.errs[idx] != nil {
		return "", m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return "default", nil
}

func TestNewRetryableProvider_WhenInnerIsNil_ShouldPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for nil inner provider")
		}
	}()
	NewRetryableProvider(nil, DefaultConfig())
}

func TestRetryableProvider_Complete_WhenRetryableErrorThenSuccess_ShouldRetryAndSucceed(t *testing.T) {
	inner := &mockLLM{
		responses: []string{"", "success"},
		errs:      []error{&StatusError{Provider: "anthropic", StatusCode: 503}, nil},
	}
	p := NewRetryableProvider(inner, DefaultConfig())
	p.retrier.sleepFunc = func(context.Context, time.Duration) error { return nil }

	result, err := p.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("want 'success', got %q", result)
	}
	if atomic.LoadInt32(&inner.calls) != 2 {
		t.Errorf("expected 2 calls (1 fail + 1 success), got %d", atomic.LoadInt32(&inner.calls))
	}
}

func TestRetryableProvider_Complete_WhenMaxRetriesExhausted_ShouldReturnLastError(t *testing.T) {
	serverErr := &StatusError{Provider: "anthropic", StatusCode: 500}
	inner := &mockLLM{errs: []error{serverErr, serverErr, serverErr, serverErr}}
	p := NewRetryableProvider(inner, DefaultConfig())
	p.retrier.sleepFunc = func(context.Context, time.Duration) error { return nil }

	_, err := p.Complete(context.Background(), domain.CompletionRequest{})
	if err != serverErr {
		t.Fatalf("expected the last error unchanged, got %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 4 {
		t.Errorf("expected 4 calls (1 initial + 3 retries), got %d", atomic.LoadInt32(&inner.calls))
	}
}
