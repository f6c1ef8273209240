package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

// ErrAllKeysCooling is returned when every key of a pool is rate limited.
var ErrAllKeysCooling = errors.New("llm: every API key is cooling down after a rate limit")

// KeyPool hands out API key slots in rotation. A slot that hit a rate limit
// is skipped until its cooldown ends. Safe for concurrent use.
type KeyPool struct {
	mu       sync.Mutex
	until    []time.Time // per slot; zero means usable
	next     int
	cooldown time.Duration
	now      func() time.Time
}

// NewKeyPool returns a pool with one slot per key.
func NewKeyPool(keys []string, cooldown time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, errors.New("llm: key pool needs at least one key")
	}
	return &KeyPool{until: make([]time.Time, len(keys)), cooldown: cooldown, now: time.Now}, nil
}

// Len is the number of slots.
func (p *KeyPool) Len() int { return len(p.until) }

// Next returns the next usable slot after the last one handed out.
func (p *KeyPool) Next() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for i := range p.until {
		slot := (p.next + i) % len(p.until)
		if !now.Before(p.until[slot]) {
			p.next = (slot + 1) % len(p.until)
			return slot, nil
		}
	}
	return -1, ErrAllKeysCooling
}

// Cool takes slot out of rotation for the cooldown period. Unknown slots are ignored.
func (p *KeyPool) Cool(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= 0 && slot < len(p.until) {
		p.until[slot] = p.now().Add(p.cooldown)
	}
}

// Available counts the slots not cooling down.
func (p *KeyPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, u := range p.until {
		if !now.Before(u) {
			n++
		}
	}
	return n
}

// KeyPoolProvider spreads requests over one provider per API key. A 429
// cools the key down and the request moves on to the next key.
type KeyPoolProvider struct {
	pool      *KeyPool
	providers []domain.LLMProvider
	logger    *slog.Logger
}

// NewKeyPoolProvider pairs pool slot i with providers[i].
func NewKeyPoolProvider(pool *KeyPool, providers []domain.LLMProvider) (*KeyPoolProvider, error) {
	switch {
	case pool == nil:
		return nil, errors.New("llm: key pool must not be nil")
	case len(providers) == 0:
		return nil, errors.New("llm: key pool needs at least one provider")
	case pool.Len() != len(providers):
		return nil, fmt.Errorf("llm: key pool has %d keys but %d providers", pool.Len(), len(providers))
	}
	return &KeyPoolProvider{pool: pool, providers: providers}, nil
}

func (k *KeyPoolProvider) log() *slog.Logger {
	if k.logger != nil {
		return k.logger
	}
	return slog.Default()
}

// Complete implements domain.LLMProvider. Each key is tried at most once
// per request.
func (k *KeyPoolProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	var lastErr error
	for range k.pool.Len() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		slot, err := k.pool.Next()
		if err != nil {
			if lastErr != nil {
				return "", fmt.Errorf("%w: %w", err, lastErr)
			}
			return "", err
		}
		out, err := k.providers[slot].Complete(ctx, req)
		if retry.StatusCodeOf(err) != http.StatusTooManyRequests {
			return out, err
		}
		k.pool.Cool(slot)
		k.log().Warn("llm: key rate limited, rotating", "slot", slot, "available", k.pool.Available())
		lastErr = err
	}
	return "", fmt.Errorf("%w: %w", ErrAllKeysCooling, lastErr)
}

var _ domain.LLMProvider = (*KeyPoolProvider)(nil)
