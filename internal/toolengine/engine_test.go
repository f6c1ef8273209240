package toolengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"toolchat/internal/toolconfig"
	"toolchat/internal/toolscript"
	"toolchat/internal/toolstate"
)

func action(id, logic string) toolconfig.Action {
	return toolconfig.Action{ID: id, Label: id, Type: toolconfig.ActionPrimary, Logic: logic}
}

// =============================================================================
// Execute
// =============================================================================

func TestExecute_WhenFallbackRunsOnDefaults_ShouldProduceZero(t *testing.T) {
	cfg := toolconfig.Fallback()
	act, _ := cfg.Action("add")
	out := New().Execute(context.Background(), Request{Action: act, Inputs: toolstate.Initialize(cfg).Snapshot()})
	if out.Err != nil {
		t.Fatalf("Execute: %v", out.Err)
	}
	if out.Results["result"] != 0.0 {
		t.Errorf("result = %#v, want 0", out.Results["result"])
	}
}

func TestExecute_WhenLogicSucceeds_ShouldReturnFreshResults(t *testing.T) {
	e := New()
	act := action("sum", "results.total = inputs.a + inputs.b;")
	out := e.Execute(context.Background(), Request{Action: act, Inputs: map[string]any{"a": 2.0, "b": 3.0}})
	if out.Err != nil {
		t.Fatalf("Execute: %v", out.Err)
	}
	if len(out.Results) != 1 || out.Results["total"] != 5.0 {
		t.Errorf("results = %#v", out.Results)
	}
	if out.Duration <= 0 {
		t.Error("expected a positive duration")
	}
}

func TestExecute_WhenSeedGiven_ShouldStartFromIt(t *testing.T) {
	seed := map[string]any{"count": 1.0}
	act := action("inc", "results.count = (results.count || 0) + 1;")
	out := New().Execute(context.Background(), Request{Action: act, Seed: seed})
	if out.Results["count"] != 2.0 {
		t.Errorf("count = %#v, want 2", out.Results["count"])
	}
	if seed["count"] != 1.0 {
		t.Errorf("seed mutated: %#v", seed)
	}
}

func TestExecute_WhenLogicThrows_ShouldDiscardPartialResults(t *testing.T) {
	act := action("boom", "results.partial = 1;\nthrow new Error('bad input');")
	out := New().Execute(context.Background(), Request{Action: act})
	if out.Results != nil {
		t.Errorf("results = %#v, want nil", out.Results)
	}
	var ee *ExecError
	if !errors.As(out.Err, &ee) {
		t.Fatalf("err = %v, want *ExecError", out.Err)
	}
	if ee.Action != "boom" {
		t.Errorf("Action = %q", ee.Action)
	}
	if ee.Message() != "Error: bad input (line 2:1)" {
		t.Errorf("Message() = %q", ee.Message())
	}
	var se *toolscript.Error
	if !errors.As(out.Err, &se) || se.Msg != "bad input" {
		t.Errorf("unwrapped error = %v", out.Err)
	}
}

func TestExecute_WhenReferenceUndefined_ShouldReportIt(t *testing.T) {
	out := New().Execute(context.Background(), Request{Action: action("a", "results.x = missing;")})
	var ee *ExecError
	if !errors.As(out.Err, &ee) || !strings.Contains(ee.Message(), "missing is not defined") {
		t.Errorf("err = %v", out.Err)
	}
}

func TestExecute_WhenSyntaxInvalid_ShouldFailWithoutRunning(t *testing.T) {
	out := New().Execute(context.Background(), Request{Action: action("a", "results.x = (1 + ;")})
	var se *toolscript.Error
	if !errors.As(out.Err, &se) || se.Kind != toolscript.KindSyntax {
		t.Errorf("err = %v, want SyntaxError", out.Err)
	}
}

func TestExecute_WhenStepBudgetExhausted_ShouldReturnErrStepLimit(t *testing.T) {
	e := New(WithStepLimit(1000))
	out := e.Execute(context.Background(), Request{Action: action("spin", "while (true) {}")})
	if !errors.Is(out.Err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", out.Err)
	}
	var ee *ExecError
	errors.As(out.Err, &ee)
	if ee.Message() != "The action did too much work and was stopped." {
		t.Errorf("Message() = %q", ee.Message())
	}
}

func TestExecute_WhenTimeoutElapses_ShouldReturnErrTimeout(t *testing.T) {
	e := New(WithStepLimit(math.MaxInt), WithTimeout(20*time.Millisecond))
	out := e.Execute(context.Background(), Request{Action: action("spin", "for (;;) {}")})
	if !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", out.Err)
	}
}

func TestExecute_WhenParentCanceled_ShouldReturnContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := New().Execute(ctx, Request{Action: action("a", "results.x = 1;")})
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", out.Err)
	}
}

func TestExecute_WhenRandomAndClockInjected_ShouldUseThem(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	e := New(
		WithRandom(func() float64 { return 0.25 }),
		WithClock(func() time.Time { return now }, time.UTC),
	)
	act := action("a", "results.r = Math.random(); results.y = new Date().getFullYear();")
	out := e.Execute(context.Background(), Request{Action: act})
	if out.Results["r"] != 0.25 || out.Results["y"] != 2025.0 {
		t.Errorf("results = %#v", out.Results)
	}
}

// =============================================================================
// Start
// =============================================================================

func TestStart_ShouldDeliverExactlyOneOutcome(t *testing.T) {
	ch := New().Start(context.Background(), Request{Action: action("a", "results.ok = true;")})
	select {
	case out := <-ch:
		if out.Err != nil || out.Results["ok"] != true {
			t.Errorf("outcome = %#v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestStart_WhenManyRunsConcurrent_ShouldKeepResultsSeparate(t *testing.T) {
	e := New()
	act := action("double", "results.v = inputs.n * 2;")
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out := <-e.Start(context.Background(), Request{Action: act, Inputs: map[string]any{"n": float64(n)}})
			if out.Err != nil || out.Results["v"] != float64(2*n) {
				errs <- fmt.Errorf("n=%d: outcome %#v", n, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// =============================================================================
// Compile cache
// =============================================================================

func TestCompile_WhenSameLogic_ShouldReuseProgram(t *testing.T) {
	e := New()
	a, err := e.Compile("results.x = 1;")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, _ := e.Compile("results.x = 1;")
	if a != b {
		t.Error("expected cached program")
	}
}

func TestCompile_WhenCacheFull_ShouldStartOver(t *testing.T) {
	e := New()
	for i := 0; i < maxCachedPrograms+1; i++ {
		if _, err := e.Compile(fmt.Sprintf("results.x = %d;", i)); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}
	if n := len(e.programs); n != 1 {
		t.Errorf("cached programs = %d, want 1", n)
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestMissingRequiredError_ShouldNameFields(t *testing.T) {
	err := &ExecError{Action: "go", Err: &MissingRequiredError{IDs: []string{"name", "age"}}}
	if err.Message() != "Please fill in required fields: name, age" {
		t.Errorf("Message() = %q", err.Message())
	}
}
