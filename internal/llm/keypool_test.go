package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

// userReq builds a single-turn request.
func userReq(text string) domain.CompletionRequest {
	return domain.CompletionRequest{Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}}
}

// scriptedProvider answers with reply or fails with err, counting calls.
type scriptedProvider struct {
	reply string
	err   error
	calls int
}

func (p *scriptedProvider) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply + ": " + lastUserMessage(req.Messages), nil
}

var rateLimited = &retry.StatusError{Provider: "openai", StatusCode: 429}

// fakeClock is a controllable time source for cooldowns.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, n int, cooldown time.Duration) (*KeyPool, *fakeClock) {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		keys[i] = "k"
	}
	pool, err := NewKeyPool(keys, cooldown)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	pool.now = clock.now
	return pool, clock
}

// =============================================================================
// KeyPool
// =============================================================================

func TestNewKeyPool_WhenNoKeys_ShouldFail(t *testing.T) {
	if _, err := NewKeyPool(nil, time.Second); err == nil {
		t.Error("expected error for empty key list")
	}
}

func TestKeyPool_Next_ShouldRotateInOrder(t *testing.T) {
	pool, _ := newTestPool(t, 3, time.Minute)
	var got []int
	for range 5 {
		slot, err := pool.Next()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, slot)
	}
	want := []int{0, 1, 2, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestKeyPool_Cool_ShouldSkipSlotUntilCooldownEnds(t *testing.T) {
	pool, clock := newTestPool(t, 2, time.Minute)
	pool.Cool(0)
	if pool.Available() != 1 {
		t.Errorf("available = %d, want 1", pool.Available())
	}
	for range 3 {
		if slot, _ := pool.Next(); slot != 1 {
			t.Fatalf("slot = %d, want 1 while 0 cools", slot)
		}
	}
	clock.advance(time.Minute)
	if pool.Available() != 2 {
		t.Errorf("available after cooldown = %d, want 2", pool.Available())
	}
	if slot, _ := pool.Next(); slot != 0 {
		t.Errorf("slot = %d, want 0 back in rotation", slot)
	}
}

func TestKeyPool_Next_WhenAllCooling_ShouldFail(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	pool.Cool(0)
	pool.Cool(1)
	pool.Cool(7) // ignored
	if _, err := pool.Next(); !errors.Is(err, ErrAllKeysCooling) {
		t.Errorf("err = %v, want ErrAllKeysCooling", err)
	}
}

func TestKeyPool_ConcurrentNext_ShouldBeSafe(t *testing.T) {
	pool, _ := newTestPool(t, 4, time.Minute)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%10 == 0 {
				pool.Cool(i % 4)
			}
			_, _ = pool.Next()
			_ = pool.Available()
		}()
	}
	wg.Wait()
}

// =============================================================================
// KeyPoolProvider
// =============================================================================

func TestNewKeyPoolProvider_Validation(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	one := []domain.LLMProvider{&scriptedProvider{}}
	two := []domain.LLMProvider{&scriptedProvider{}, &scriptedProvider{}}

	if _, err := NewKeyPoolProvider(nil, two); err == nil {
		t.Error("nil pool should fail")
	}
	if _, err := NewKeyPoolProvider(pool, nil); err == nil {
		t.Error("no providers should fail")
	}
	if _, err := NewKeyPoolProvider(pool, one); err == nil {
		t.Error("size mismatch should fail")
	}
	if _, err := NewKeyPoolProvider(pool, two); err != nil {
		t.Errorf("valid pool: %v", err)
	}
}

func TestKeyPoolProvider_Complete_ShouldRoundRobin(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	a, b := &scriptedProvider{reply: "a"}, &scriptedProvider{reply: "b"}
	kpp, _ := NewKeyPoolProvider(pool, []domain.LLMProvider{a, b})

	for _, want := range []string{"a: hi", "b: hi", "a: hi"} {
		got, err := kpp.Complete(context.Background(), userReq("hi"))
		if err != nil || got != want {
			t.Errorf("Complete = %q, %v; want %q", got, err, want)
		}
	}
}

func TestKeyPoolProvider_Complete_WhenRateLimited_ShouldRotateToNextKey(t *testing.T) {
	pool, _ := newTestPool(t, 3, time.Minute)
	a := &scriptedProvider{err: rateLimited}
	b := &scriptedProvider{err: rateLimited}
	c := &scriptedProvider{reply: "c"}
	kpp, _ := NewKeyPoolProvider(pool, []domain.LLMProvider{a, b, c})

	got, err := kpp.Complete(context.Background(), userReq("go"))
	if err != nil || got != "c: go" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if pool.Available() != 1 {
		t.Errorf("available = %d, want 1 after two rate limits", pool.Available())
	}
	// The cooled keys stay out of rotation.
	if got, _ := kpp.Complete(context.Background(), userReq("again")); got != "c: again" {
		t.Errorf("second Complete = %q", got)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("cooled providers called again: a=%d b=%d", a.calls, b.calls)
	}
}

func TestKeyPoolProvider_Complete_WhenEveryKeyRateLimited_ShouldFail(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	kpp, _ := NewKeyPoolProvider(pool, []domain.LLMProvider{
		&scriptedProvider{err: rateLimited},
		&scriptedProvider{err: rateLimited},
	})
	_, err := kpp.Complete(context.Background(), userReq("x"))
	if !errors.Is(err, ErrAllKeysCooling) || retry.StatusCodeOf(err) != 429 {
		t.Errorf("err = %v, want ErrAllKeysCooling wrapping the 429", err)
	}
	_, err = kpp.Complete(context.Background(), userReq("x"))
	if !errors.Is(err, ErrAllKeysCooling) {
		t.Errorf("err while cooling = %v", err)
	}
}

func TestKeyPoolProvider_Complete_WhenOtherError_ShouldNotRotate(t *testing.T) {
	pool, _ := newTestPool(t, 2, time.Minute)
	boom := errors.New("boom")
	a, b := &scriptedProvider{err: boom}, &scriptedProvider{reply: "b"}
	kpp, _ := NewKeyPoolProvider(pool, []domain.LLMProvider{a, b})

	if _, err := kpp.Complete(context.Background(), userReq("x")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if b.calls != 0 || pool.Available() != 2 {
		t.Errorf("non-429 error should not cool or rotate: b.calls=%d available=%d", b.calls, pool.Available())
	}
}

func TestKeyPoolProvider_Complete_WhenContextCancelled_ShouldStop(t *testing.T) {
	pool, _ := newTestPool(t, 1, time.Minute)
	p := &scriptedProvider{reply: "x"}
	kpp, _ := NewKeyPoolProvider(pool, []domain.LLMProvider{p})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := kpp.Complete(ctx, userReq("x")); !errors.Is(err, context.Canceled) || p.calls != 0 {
		t.Errorf("err = %v, calls = %d", err, p.calls)
	}
}
