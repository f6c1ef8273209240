// Package toolscript runs the logic attached to tool actions.
//
// Logic is a small, JavaScript-flavored language evaluated by a tree-walking
// interpreter. A run sees two bindings, inputs and results, plus a fixed set
// of built-ins (Math, JSON, Date, Number, String, Array, Object, round,
// formatCurrency, formatPercent). Every run starts from fresh globals, is
// bounded by a step budget and honors context cancellation. There is no
// access to timers, the network or the host.
//
// The language is a subset. Regular expression literals, class declarations,
// labeled statements, Promise, Set and Map are not available. async functions
// parse but run synchronously: calling one returns its value directly and
// await simply yields its operand.
package toolscript

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Options tune a single run.
type Options struct {
	// StepLimit caps evaluation steps; zero means DefaultStepLimit.
	StepLimit int
	// Rand backs Math.random; nil uses math/rand/v2.
	Rand func() float64
	// Now backs Date; nil uses time.Now.
	Now func() time.Time
	// Location is the zone for local date fields; nil means time.Local.
	Location *time.Location
}

// Program is compiled logic, safe to run many times concurrently.
type Program struct {
	body []Stmt
}

// Compile parses src.
func Compile(src string) (*Program, error) {
	body, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{body: body}, nil
}

// Run executes the program against inputs and the starting results and
// returns the final results. Neither argument map is modified.
func (p *Program) Run(ctx context.Context, inputs, results map[string]any, opts Options) (map[string]any, error) {
	it := &interp{
		ctx:   ctx,
		limit: opts.StepLimit,
		rand:  opts.Rand,
		now:   opts.Now,
		loc:   opts.Location,
	}
	if it.limit <= 0 {
		it.limit = DefaultStepLimit
	}
	if it.rand == nil {
		it.rand = rand.Float64
	}
	if it.now == nil {
		it.now = time.Now
	}
	if it.loc == nil {
		it.loc = time.Local
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	global := it.globals()
	global.vars["inputs"] = &binding{v: objectFrom(inputs)}
	global.vars["results"] = &binding{v: objectFrom(results)}

	scope := newEnv(global, true)
	scope.hasThis, scope.this = true, undefined
	hoistVars(p.body, scope)
	hoistFuncs(p.body, scope)
	if _, _, err := it.execList(p.body, scope); err != nil {
		return nil, it.export(err)
	}

	out, ok := global.vars["results"].v.(*object)
	if !ok {
		return nil, &Error{Kind: KindType, Msg: "results must remain an object"}
	}
	return toGo(out).(map[string]any), nil
}

func objectFrom(m map[string]any) *object {
	if m == nil {
		return newObject()
	}
	return fromGo(m).(*object)
}

// export converts an error escaping the script into its public form.
func (it *interp) export(err error) error {
	var t *thrown
	if errors.As(err, &t) {
		if o, ok := t.val.(*object); ok && o.class != "Object" {
			return &Error{
				Kind: toString(propOr(o, "name", o.class)),
				Msg:  toStringOr(propOr(o, "message", undefined), ""),
				Pos:  t.pos,
			}
		}
		return &Error{Kind: "Uncaught", Msg: toString(t.val), Pos: t.pos}
	}
	if errors.Is(err, errChainBreak) {
		return &Error{Kind: KindError, Msg: "optional chain escaped its expression"}
	}
	return err
}
