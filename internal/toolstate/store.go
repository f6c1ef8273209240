// Package toolstate holds the live input values of one tool instance and
// notifies subscribers when they change.
package toolstate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"toolchat/internal/numfmt"
	"toolchat/internal/toolconfig"
)

// ErrUnknownInput is returned by Set for an id the configuration does not declare.
var ErrUnknownInput = errors.New("toolstate: unknown input")

// ErrInvalidValue is returned by Set when a value cannot be coerced to the
// input's type.
var ErrInvalidValue = errors.New("toolstate: invalid value")

// Change describes one Set call.
type Change struct {
	ID    string
	Old   any
	Value any
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the state map of one tool instance. It is safe for concurrent use.
// Values always have the runtime type of their input: float64 for number and
// slider, bool for checkbox, string for everything else.
type Store struct {
	mu       sync.RWMutex
	inputs   map[string]toolconfig.Input
	order    []string
	values   map[string]any
	defaults map[string]any
	subs     map[int]func(Change)
	nextSub  int
	logger   *slog.Logger
}

// Initialize seeds a store from every input of cfg. An input's defaultValue
// is coerced to its type; a missing or unusable default falls back to
// TypeDefault. When an id appears in more than one section the later input
// wins.
func Initialize(cfg *toolconfig.Config, opts ...Option) *Store {
	if cfg == nil {
		panic("toolstate: config must not be nil")
	}
	s := &Store{
		inputs:   make(map[string]toolconfig.Input),
		values:   make(map[string]any),
		defaults: make(map[string]any),
		subs:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, in := range cfg.Inputs() {
		if _, seen := s.inputs[in.ID]; !seen {
			s.order = append(s.order, in.ID)
		}
		s.inputs[in.ID] = in
		v := TypeDefault(in.Type)
		if in.DefaultValue != nil {
			if c, err := Coerce(in.Type, in.DefaultValue); err == nil {
				v = c
			} else {
				s.log().Warn("toolstate: ignoring default value", "input", in.ID, "error", err)
			}
		}
		s.values[in.ID] = v
		s.defaults[in.ID] = v
	}
	return s
}

func (s *Store) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// TypeDefault is the empty value of an input type.
func TypeDefault(t toolconfig.InputType) any {
	switch t {
	case toolconfig.InputNumber, toolconfig.InputSlider:
		return 0.0
	case toolconfig.InputCheckbox:
		return false
	case toolconfig.InputText, toolconfig.InputSelect, toolconfig.InputTextarea,
		toolconfig.InputRadio, toolconfig.InputDate, toolconfig.InputColor:
		return ""
	}
	return ""
}

// Coerce converts v to the runtime type of an input of type t. Numeric inputs
// accept numbers and numeric strings; an empty string clears them to 0.
// Checkboxes accept booleans and "true"/"false". Other inputs accept strings,
// numbers and booleans, rendered as strings.
func Coerce(t toolconfig.InputType, v any) (any, error) {
	switch {
	case t.Numeric():
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return 0.0, nil
		}
		f, ok := toolconfig.AsNumber(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v is not a finite number", ErrInvalidValue, v)
		}
		return f, nil
	case t == toolconfig.InputCheckbox:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if p, err := strconv.ParseBool(b); err == nil {
				return p, nil
			}
		}
		return nil, fmt.Errorf("%w: %v is not a boolean", ErrInvalidValue, v)
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case bool:
			return strconv.FormatBool(x), nil
		case nil:
			return "", nil
		}
		if f, ok := toolconfig.AsNumber(v); ok {
			return numfmt.String(f), nil
		}
		return nil, fmt.Errorf("%w: %v is not a string", ErrInvalidValue, v)
	}
}

// Set replaces the value of one input after coercing it to the input's type.
// No cross-field validation happens here.
func (s *Store) Set(id string, value any) error {
	s.mu.Lock()
	in, ok := s.inputs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownInput, id)
	}
	v, err := Coerce(in.Type, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("toolstate: set %q: %w", id, err)
	}
	ch := Change{ID: id, Old: s.values[id], Value: v}
	s.values[id] = v
	subs := s.subscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ch)
	}
	return nil
}

// Get returns the current value of an input.
func (s *Store) Get(id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

// Snapshot returns a copy of every value keyed by input id. Values are
// scalars, so the copy shares nothing with the store.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// IDs returns input ids in rendering order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Reset restores every input to its seeded value and notifies subscribers of
// each value that changed.
func (s *Store) Reset() {
	s.mu.Lock()
	var changes []Change
	for _, id := range s.order {
		if old := s.values[id]; old != s.defaults[id] {
			changes = append(changes, Change{ID: id, Old: old, Value: s.defaults[id]})
			s.values[id] = s.defaults[id]
		}
	}
	subs := s.subscribers()
	s.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range subs {
			fn(ch)
		}
	}
}

// MissingRequired lists required inputs whose value is empty: an empty or
// blank string. Numbers and booleans always count as present.
func (s *Store) MissingRequired() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range s.order {
		if !s.inputs[id].Required {
			continue
		}
		if str, ok := s.values[id].(string); ok && strings.TrimSpace(str) == "" {
			missing = append(missing, id)
		}
	}
	return missing
}

// Subscribe registers fn to be called synchronously after every change, in
// subscription order. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	if fn == nil {
		panic("toolstate: subscriber must not be nil")
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// subscribers returns callbacks in subscription order. Callers hold mu.
func (s *Store) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
