// Package toolengine runs tool action logic against an input snapshot.
package toolengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"toolchat/internal/toolconfig"
	"toolchat/internal/toolscript"
)

var (
	// ErrTimeout is returned when logic runs past the engine's timeout.
	ErrTimeout = errors.New("toolengine: logic timed out")
	// ErrStepLimit is returned when logic exceeds its step budget.
	ErrStepLimit = errors.New("toolengine: logic exceeded its step budget")
)

// DefaultTimeout bounds one action run.
const DefaultTimeout = 2 * time.Second

// maxCachedPrograms bounds the compiled program cache. The cache is dropped
// wholesale when full.
const maxCachedPrograms = 256

// ExecError reports a failed action run.
type ExecError struct {
	Action string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("toolengine: action %q: %v", e.Action, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Message is the text shown in the tool's error banner.
func (e *ExecError) Message() string {
	switch {
	case errors.Is(e.Err, ErrTimeout):
		return "The action took too long and was stopped."
	case errors.Is(e.Err, ErrStepLimit):
		return "The action did too much work and was stopped."
	}
	var mr *MissingRequiredError
	if errors.As(e.Err, &mr) {
		return mr.Error()
	}
	return strings.TrimPrefix(e.Err.Error(), "toolscript: ")
}

// MissingRequiredError blocks a run when required inputs are empty.
type MissingRequiredError struct {
	IDs []string
}

func (e *MissingRequiredError) Error() string {
	return "Please fill in required fields: " + strings.Join(e.IDs, ", ")
}

// Request is one action run.
type Request struct {
	Action toolconfig.Action
	Inputs map[string]any
	// Seed is the starting value of results; nil starts from an empty object.
	Seed map[string]any
}

// Outcome is the result of a run. On failure Results is nil and Err is an
// *ExecError.
type Outcome struct {
	Results  map[string]any
	Err      error
	Duration time.Duration
}

// Option is a functional option for configuring Engine.
type Option func(*Engine)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStepLimit caps evaluation steps per run. Non-positive values keep the
// interpreter default.
func WithStepLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.stepLimit = n
		}
	}
}

// WithTimeout bounds each run. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRandom sets the source behind Math.random.
func WithRandom(fn func() float64) Option {
	return func(e *Engine) { e.rand = fn }
}

// WithClock sets the clock and zone behind Date.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(e *Engine) {
		e.now = now
		e.loc = loc
	}
}

// Engine executes action logic. It holds no per-instance state and is safe
// for concurrent use; callers serialize runs of one instance.
type Engine struct {
	stepLimit int
	timeout   time.Duration
	rand      func() float64
	now       func() time.Time
	loc       *time.Location
	logger    *slog.Logger

	mu       sync.Mutex
	programs map[string]*toolscript.Program
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		timeout:  DefaultTimeout,
		programs: make(map[string]*toolscript.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// Compile parses logic, reusing an earlier compilation of the same text.
func (e *Engine) Compile(logic string) (*toolscript.Program, error) {
	e.mu.Lock()
	p, ok := e.programs[logic]
	e.mu.Unlock()
	if ok {
		return p, nil
	}
	p, err := toolscript.Compile(logic)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]*toolscript.Program)
	}
	e.programs[logic] = p
	e.mu.Unlock()
	return p, nil
}

// Start runs req in its own goroutine and returns a channel that receives
// exactly one Outcome.
func (e *Engine) Start(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		ch <- e.Execute(ctx, req)
	}()
	return ch
}

// Execute runs req to completion. Results assigned before a failure are
// discarded.
func (e *Engine) Execute(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: &ExecError{Action: req.Action.ID, Err: fmt.Errorf("internal error: %v", r)}}
		}
		out.Duration = time.Since(start)
		if out.Err != nil {
			e.log().Info("toolengine: action failed", "action", req.Action.ID, "error", out.Err, "duration", out.Duration)
		} else {
			e.log().Debug("toolengine: action finished", "action", req.Action.ID, "duration", out.Duration)
		}
	}()

	prog, err := e.Compile(req.Action.Logic)
	if err != nil {
		return Outcome{Err: &ExecError{Action: req.Action.ID, Err: err}}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	results, err := prog.Run(runCtx, req.Inputs, req.Seed, toolscript.Options{
		StepLimit: e.stepLimit,
		Rand:      e.rand,
		Now:       e.now,
		Location:  e.loc,
	})
	if err != nil {
		return Outcome{Err: &ExecError{Action: req.Action.ID, Err: classify(ctx, err)}}
	}
	return Outcome{Results: results}
}

func classify(parent context.Context, err error) error {
	switch {
	case errors.Is(err, toolscript.ErrStepLimit):
		return ErrStepLimit
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		return ErrTimeout
	}
	return err
}
