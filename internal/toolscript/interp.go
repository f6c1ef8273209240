package toolscript

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	// DefaultStepLimit bounds evaluation when Options.StepLimit is zero.
	DefaultStepLimit = 1_000_000
	maxCallDepth     = 256
	maxArrayLength   = 1 << 24
	ctxCheckInterval = 1024
)

// errChainBreak unwinds an optional chain whose base is null or undefined.
var errChainBreak = errors.New("toolscript: optional chain short-circuit")

type binding struct {
	v        Value
	constant bool
}

type env struct {
	vars    map[string]*binding
	parent  *env
	fn      bool // var declarations land in the nearest fn scope
	this    Value
	hasThis bool
}

func newEnv(parent *env, fn bool) *env {
	return &env{vars: map[string]*binding{}, parent: parent, fn: fn}
}

func (e *env) lookup(name string) (*binding, bool) {
	for s := e; s != nil; s = s.parent {
		if b, ok := s.vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

func (e *env) funcScope() *env {
	s := e
	for !s.fn && s.parent != nil {
		s = s.parent
	}
	return s
}

func (e *env) root() *env {
	s := e
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// clone copies the bindings of a loop scope so closures created in one
// iteration keep that iteration's values.
func (e *env) clone() *env {
	c := newEnv(e.parent, e.fn)
	for k, b := range e.vars {
		nb := *b
		c.vars[k] = &nb
	}
	return c
}

type ctrl int

const (
	ctrlNone ctrl = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

type interp struct {
	ctx   context.Context
	steps int
	limit int
	depth int
	rand  func() float64
	now   func() time.Time
	loc   *time.Location
}

func (it *interp) step() error {
	it.steps++
	if it.steps > it.limit {
		return ErrStepLimit
	}
	if it.steps%ctxCheckInterval == 0 {
		if err := it.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// catchable reports whether a script try/catch may intercept err.
func (it *interp) catchable(err error) bool {
	if errors.Is(err, ErrStepLimit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, errChainBreak)
}

// errorValue turns a Go-side error into the value a catch clause binds.
func (it *interp) errorValue(err error) Value {
	var t *thrown
	if errors.As(err, &t) {
		return t.val
	}
	var se *Error
	if errors.As(err, &se) {
		return makeError(se.Kind, se.Msg)
	}
	return makeError(KindError, err.Error())
}

func makeError(kind, msg string) *object {
	o := newObject()
	o.class = kind
	o.set("name", kind)
	o.set("message", msg)
	return o
}

func typeErr(format string, args ...any) error {
	return newError(KindType, Pos{}, format, args...)
}

func rangeErr(format string, args ...any) error {
	return newError(KindRange, Pos{}, format, args...)
}

// at attaches a position to errors raised without one.
func at(err error, pos Pos) error {
	var se *Error
	if errors.As(err, &se) && se.Pos.Line == 0 {
		cp := *se
		cp.Pos = pos
		return &cp
	}
	return err
}

// ===========================================================================
// Hoisting
// ===========================================================================

func hoistVars(body []Stmt, scope *env) {
	for _, st := range body {
		hoistVarStmt(st, scope)
	}
}

func hoistVarStmt(st Stmt, scope *env) {
	switch n := st.(type) {
	case *VarDecl:
		if n.Kind != "var" {
			return
		}
		for _, d := range n.Decls {
			for _, name := range patternNames(d.Target) {
				if _, ok := scope.vars[name]; !ok {
					scope.vars[name] = &binding{v: undefined}
				}
			}
		}
	case *BlockStmt:
		hoistVars(n.Body, scope)
	case *IfStmt:
		hoistVarStmt(n.Then, scope)
		if n.Else != nil {
			hoistVarStmt(n.Else, scope)
		}
	case *ForStmt:
		if n.Init != nil {
			hoistVarStmt(n.Init, scope)
		}
		hoistVarStmt(n.Body, scope)
	case *ForInOfStmt:
		if n.Kind == "var" {
			for _, name := range patternNames(n.Target) {
				if _, ok := scope.vars[name]; !ok {
					scope.vars[name] = &binding{v: undefined}
				}
			}
		}
		hoistVarStmt(n.Body, scope)
	case *WhileStmt:
		hoistVarStmt(n.Body, scope)
	case *SwitchStmt:
		for _, c := range n.Cases {
			hoistVars(c.Body, scope)
		}
	case *TryStmt:
		hoistVars(n.Block.Body, scope)
		if n.Handler != nil {
			hoistVars(n.Handler.Body, scope)
		}
		if n.Finally != nil {
			hoistVars(n.Finally.Body, scope)
		}
	}
}

func patternNames(x Expr) []string {
	switch n := x.(type) {
	case *Ident:
		return []string{n.Name}
	case *DefaultPattern:
		return patternNames(n.Target)
	case *RestElem:
		return patternNames(n.Target)
	case *ArrayPattern:
		var out []string
		for _, el := range n.Elems {
			if el != nil {
				out = append(out, patternNames(el)...)
			}
		}
		if n.Rest != nil {
			out = append(out, patternNames(n.Rest)...)
		}
		return out
	case *ObjectPattern:
		var out []string
		for _, p := range n.Props {
			out = append(out, patternNames(p.Value)...)
		}
		if n.Rest != nil {
			out = append(out, patternNames(n.Rest)...)
		}
		return out
	}
	return nil
}

func hoistFuncs(body []Stmt, scope *env) {
	for _, st := range body {
		if fd, ok := st.(*FuncDecl); ok {
			scope.vars[fd.Func.Name] = &binding{v: &closure{fn: fd.Func, env: scope}}
		}
	}
}

// ===========================================================================
// Statements
// ===========================================================================

func (it *interp) execList(body []Stmt, e *env) (ctrl, Value, error) {
	for _, st := range body {
		c, v, err := it.exec(st, e)
		if err != nil || c != ctrlNone {
			return c, v, err
		}
	}
	return ctrlNone, nil, nil
}

func (it *interp) execBlock(b *BlockStmt, e *env) (ctrl, Value, error) {
	scope := newEnv(e, false)
	hoistFuncs(b.Body, scope)
	return it.execList(b.Body, scope)
}

func (it *interp) exec(st Stmt, e *env) (ctrl, Value, error) {
	if err := it.step(); err != nil {
		return ctrlNone, nil, err
	}
	switch n := st.(type) {
	case *ExprStmt:
		_, err := it.eval(n.X, e)
		return ctrlNone, nil, err
	case *VarDecl:
		return ctrlNone, nil, it.varDecl(n, e)
	case *BlockStmt:
		return it.execBlock(n, e)
	case *IfStmt:
		test, err := it.eval(n.Test, e)
		if err != nil {
			return ctrlNone, nil, err
		}
		if truthy(test) {
			return it.exec(n.Then, e)
		}
		if n.Else != nil {
			return it.exec(n.Else, e)
		}
		return ctrlNone, nil, nil
	case *ForStmt:
		return it.forStmt(n, e)
	case *ForInOfStmt:
		return it.forInOf(n, e)
	case *WhileStmt:
		return it.whileStmt(n, e)
	case *ReturnStmt:
		if n.X == nil {
			return ctrlReturn, undefined, nil
		}
		v, err := it.eval(n.X, e)
		return ctrlReturn, v, err
	case *BreakStmt:
		return ctrlBreak, nil, nil
	case *ContinueStmt:
		return ctrlContinue, nil, nil
	case *SwitchStmt:
		return it.switchStmt(n, e)
	case *ThrowStmt:
		v, err := it.eval(n.X, e)
		if err != nil {
			return ctrlNone, nil, err
		}
		return ctrlNone, nil, &thrown{val: v, pos: n.At}
	case *TryStmt:
		return it.tryStmt(n, e)
	case *FuncDecl, *EmptyStmt:
		return ctrlNone, nil, nil
	}
	return ctrlNone, nil, newError(KindSyntax, st.stmtPos(), "unsupported statement")
}

func (it *interp) varDecl(n *VarDecl, e *env) error {
	for _, d := range n.Decls {
		var v Value = undefined
		if d.Init != nil {
			var err error
			if v, err = it.eval(d.Init, e); err != nil {
				return err
			}
			nameFunction(v, d.Target)
		} else if n.Kind == "var" {
			continue
		}
		if err := it.bind(d.Target, v, e, n.Kind); err != nil {
			return err
		}
	}
	return nil
}

// nameFunction gives an anonymous function literal the name it is bound to.
func nameFunction(v Value, target Expr) {
	c, ok := v.(*closure)
	id, isIdent := target.(*Ident)
	if ok && isIdent && c.fn.Name == "" {
		named := *c.fn
		named.Name = id.Name
		c.fn = &named
	}
}

func (it *interp) forStmt(n *ForStmt, e *env) (ctrl, Value, error) {
	scope := newEnv(e, false)
	perIteration := false
	if n.Init != nil {
		if d, ok := n.Init.(*VarDecl); ok && d.Kind != "var" {
			perIteration = true
		}
		if _, _, err := it.exec(n.Init, scope); err != nil {
			return ctrlNone, nil, err
		}
	}
	for {
		if err := it.step(); err != nil {
			return ctrlNone, nil, err
		}
		if n.Test != nil {
			test, err := it.eval(n.Test, scope)
			if err != nil {
				return ctrlNone, nil, err
			}
			if !truthy(test) {
				return ctrlNone, nil, nil
			}
		}
		c, v, err := it.exec(n.Body, scope)
		if err != nil {
			return ctrlNone, nil, err
		}
		switch c {
		case ctrlBreak:
			return ctrlNone, nil, nil
		case ctrlReturn:
			return c, v, nil
		}
		if perIteration {
			scope = scope.clone()
		}
		if n.Update != nil {
			if _, err := it.eval(n.Update, scope); err != nil {
				return ctrlNone, nil, err
			}
		}
	}
}

func (it *interp) forInOf(n *ForInOfStmt, e *env) (ctrl, Value, error) {
	iter, err := it.eval(n.Iter, e)
	if err != nil {
		return ctrlNone, nil, err
	}
	run := func(v Value) (ctrl, Value, error) {
		if err := it.step(); err != nil {
			return ctrlNone, nil, err
		}
		scope := newEnv(e, false)
		mode := n.Kind
		if mode == "var" {
			mode = ""
		}
		if err := it.bind(n.Target, v, scope, mode); err != nil {
			return ctrlNone, nil, err
		}
		return it.exec(n.Body, scope)
	}
	handle := func(c ctrl, v Value, err error) (bool, ctrl, Value, error) {
		if err != nil {
			return true, ctrlNone, nil, err
		}
		switch c {
		case ctrlBreak:
			return true, ctrlNone, nil, nil
		case ctrlReturn:
			return true, c, v, nil
		}
		return false, ctrlNone, nil, nil
	}
	if !n.Of {
		for _, k := range enumerableKeys(iter) {
			if done, c, v, err := handle(run(k)); done {
				return c, v, err
			}
		}
		return ctrlNone, nil, nil
	}
	if a, ok := iter.(*array); ok {
		for i := 0; i < len(a.elems); i++ {
			if done, c, v, err := handle(run(a.elems[i])); done {
				return c, v, err
			}
		}
		return ctrlNone, nil, nil
	}
	items, err := iterate(iter)
	if err != nil {
		return ctrlNone, nil, at(err, n.Iter.exprPos())
	}
	for _, item := range items {
		if done, c, v, err := handle(run(item)); done {
			return c, v, err
		}
	}
	return ctrlNone, nil, nil
}

func enumerableKeys(v Value) []string {
	switch x := v.(type) {
	case *object:
		return x.ownKeys()
	case *array:
		keys := make([]string, len(x.elems))
		for i := range x.elems {
			keys[i] = toString(float64(i))
		}
		return keys
	case string:
		n := len([]rune(x))
		keys := make([]string, n)
		for i := 0; i < n; i++ {
			keys[i] = toString(float64(i))
		}
		return keys
	}
	return nil
}

// iterate lists the values an iterable produces.
func iterate(v Value) ([]Value, error) {
	switch x := v.(type) {
	case *array:
		return append([]Value(nil), x.elems...), nil
	case string:
		rs := []rune(x)
		out := make([]Value, len(rs))
		for i, r := range rs {
			out[i] = string(r)
		}
		return out, nil
	}
	return nil, typeErr("%s is not iterable", describeValue(v))
}

func describeValue(v Value) string {
	switch v.(type) {
	case undefinedType, nil, bool, float64:
		return toString(v)
	case string:
		return "\"" + toString(v) + "\""
	case *object:
		return "object"
	}
	return typeOf(v)
}

func (it *interp) whileStmt(n *WhileStmt, e *env) (ctrl, Value, error) {
	first := n.Do
	for {
		if err := it.step(); err != nil {
			return ctrlNone, nil, err
		}
		if !first {
			test, err := it.eval(n.Test, e)
			if err != nil {
				return ctrlNone, nil, err
			}
			if !truthy(test) {
				return ctrlNone, nil, nil
			}
		}
		first = false
		c, v, err := it.exec(n.Body, e)
		if err != nil {
			return ctrlNone, nil, err
		}
		switch c {
		case ctrlBreak:
			return ctrlNone, nil, nil
		case ctrlReturn:
			return c, v, nil
		}
	}
}

func (it *interp) switchStmt(n *SwitchStmt, e *env) (ctrl, Value, error) {
	disc, err := it.eval(n.Disc, e)
	if err != nil {
		return ctrlNone, nil, err
	}
	scope := newEnv(e, false)
	start := -1
	for i, c := range n.Cases {
		if c.Test == nil {
			continue
		}
		v, err := it.eval(c.Test, scope)
		if err != nil {
			return ctrlNone, nil, err
		}
		if strictEquals(disc, v) {
			start = i
			break
		}
	}
	if start < 0 {
		for i, c := range n.Cases {
			if c.Test == nil {
				start = i
				break
			}
		}
	}
	if start < 0 {
		return ctrlNone, nil, nil
	}
	for _, c := range n.Cases[start:] {
		hoistFuncs(c.Body, scope)
	}
	for _, c := range n.Cases[start:] {
		ct, v, err := it.execList(c.Body, scope)
		if err != nil {
			return ctrlNone, nil, err
		}
		switch ct {
		case ctrlBreak:
			return ctrlNone, nil, nil
		case ctrlContinue, ctrlReturn:
			return ct, v, nil
		}
	}
	return ctrlNone, nil, nil
}

func (it *interp) tryStmt(n *TryStmt, e *env) (ctrl, Value, error) {
	c, v, err := it.execBlock(n.Block, e)
	if err != nil && n.Handler != nil && it.catchable(err) {
		scope := newEnv(e, false)
		if n.Param != nil {
			if berr := it.bind(n.Param, it.errorValue(err), scope, "let"); berr != nil {
				return ctrlNone, nil, berr
			}
		}
		c, v, err = it.execBlock(n.Handler, scope)
	}
	if n.Finally != nil && (err == nil || it.catchable(err)) {
		fc, fv, ferr := it.execBlock(n.Finally, e)
		if ferr != nil || fc != ctrlNone {
			return fc, fv, ferr
		}
	}
	return c, v, err
}

// ===========================================================================
// Binding and references
// ===========================================================================

// bind assigns v to a pattern. mode is a declaration kind, or "" to assign
// to existing bindings.
func (it *interp) bind(target Expr, v Value, e *env, mode string) error {
	switch n := target.(type) {
	case *Ident:
		if mode == "" {
			return it.assign(n, v, e)
		}
		if mode == "var" {
			scope := e.funcScope()
			if b, ok := scope.vars[n.Name]; ok {
				b.v = v
				return nil
			}
			scope.vars[n.Name] = &binding{v: v}
			return nil
		}
		if _, ok := e.vars[n.Name]; ok {
			return newError(KindSyntax, n.At, "Identifier '%s' has already been declared", n.Name)
		}
		e.vars[n.Name] = &binding{v: v, constant: mode == "const"}
		return nil
	case *MemberExpr:
		obj, err := it.eval(n.X, e)
		if err != nil {
			return err
		}
		key, err := it.memberKey(n, e)
		if err != nil {
			return err
		}
		return at(setProp(obj, key, v), n.At)
	case *DefaultPattern:
		if v == undefined {
			var err error
			if v, err = it.eval(n.Default, e); err != nil {
				return err
			}
			nameFunction(v, n.Target)
		}
		return it.bind(n.Target, v, e, mode)
	case *RestElem:
		return it.bind(n.Target, v, e, mode)
	case *ArrayPattern:
		items, err := iterate(v)
		if err != nil {
			return at(err, n.At)
		}
		for i, el := range n.Elems {
			if el == nil {
				continue
			}
			if err := it.bind(el, arg(items, i), e, mode); err != nil {
				return err
			}
		}
		if n.Rest != nil {
			var rest []Value
			if len(items) > len(n.Elems) {
				rest = append(rest, items[len(n.Elems):]...)
			}
			return it.bind(n.Rest, newArray(rest), e, mode)
		}
		return nil
	case *ObjectPattern:
		if isNullish(v) {
			return newError(KindType, n.At, "Cannot destructure '%s' as it is %s.", toString(v), toString(v))
		}
		used := map[string]bool{}
		for _, p := range n.Props {
			key := p.Key
			if p.Computed != nil {
				k, err := it.eval(p.Computed, e)
				if err != nil {
					return err
				}
				key = propertyKey(k)
			}
			used[key] = true
			pv, err := it.getProp(v, key)
			if err != nil {
				return at(err, n.At)
			}
			if err := it.bind(p.Value, pv, e, mode); err != nil {
				return err
			}
		}
		if n.Rest != nil {
			rest := newObject()
			if o, ok := v.(*object); ok {
				for _, k := range o.ownKeys() {
					if !used[k] {
						rest.set(k, o.props[k])
					}
				}
			}
			return it.bind(n.Rest, rest, e, mode)
		}
		return nil
	}
	return newError(KindSyntax, target.exprPos(), "invalid binding target")
}

func (it *interp) assign(id *Ident, v Value, e *env) error {
	if b, ok := e.lookup(id.Name); ok {
		if b.constant {
			return newError(KindType, id.At, "Assignment to constant variable.")
		}
		b.v = v
		return nil
	}
	e.root().vars[id.Name] = &binding{v: v}
	return nil
}

func (it *interp) memberKey(n *MemberExpr, e *env) (string, error) {
	if n.Index == nil {
		return n.Name, nil
	}
	k, err := it.eval(n.Index, e)
	if err != nil {
		return "", err
	}
	return propertyKey(k), nil
}

// ref is a resolved assignment target; the object and key of a member are
// evaluated once.
type ref struct {
	id  *Ident
	obj Value
	key string
	pos Pos
}

func (it *interp) resolve(target Expr, e *env) (ref, error) {
	switch n := target.(type) {
	case *Ident:
		return ref{id: n, pos: n.At}, nil
	case *MemberExpr:
		obj, err := it.eval(n.X, e)
		if err != nil {
			return ref{}, err
		}
		key, err := it.memberKey(n, e)
		if err != nil {
			return ref{}, err
		}
		return ref{obj: obj, key: key, pos: n.At}, nil
	}
	return ref{}, newError(KindSyntax, target.exprPos(), "invalid assignment target")
}

func (it *interp) get(r ref, e *env) (Value, error) {
	if r.id != nil {
		return it.lookup(r.id, e)
	}
	v, err := it.getProp(r.obj, r.key)
	return v, at(err, r.pos)
}

func (it *interp) put(r ref, v Value, e *env) error {
	if r.id != nil {
		return it.assign(r.id, v, e)
	}
	return at(setProp(r.obj, r.key, v), r.pos)
}

func (it *interp) lookup(id *Ident, e *env) (Value, error) {
	if b, ok := e.lookup(id.Name); ok {
		return b.v, nil
	}
	return nil, newError(KindReference, id.At, "%s is not defined", id.Name)
}

// ===========================================================================
// Expressions
// ===========================================================================

func (it *interp) eval(x Expr, e *env) (Value, error) {
	switch n := x.(type) {
	case *NumberLit:
		return n.Value, nil
	case *StringLit:
		return n.Value, nil
	case *BoolLit:
		return n.Value, nil
	case *NullLit:
		return nil, nil
	case *TemplateLit:
		buf := n.Parts[0]
		for i, sub := range n.Exprs {
			v, err := it.eval(sub, e)
			if err != nil {
				return nil, err
			}
			buf += toString(toPrimitive(v, false)) + n.Parts[i+1]
		}
		return buf, nil
	case *Ident:
		return it.lookup(n, e)
	case *ThisExpr:
		for s := e; s != nil; s = s.parent {
			if s.hasThis {
				return s.this, nil
			}
		}
		return undefined, nil
	case *ArrayLit:
		var elems []Value
		for _, el := range n.Elems {
			if el == nil {
				elems = append(elems, undefined)
				continue
			}
			if s, ok := el.(*SpreadElem); ok {
				v, err := it.eval(s.X, e)
				if err != nil {
					return nil, err
				}
				items, err := iterate(v)
				if err != nil {
					return nil, at(err, s.At)
				}
				elems = append(elems, items...)
				continue
			}
			v, err := it.eval(el, e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		return newArray(elems), nil
	case *ObjectLit:
		return it.objectLit(n, e)
	case *FuncLit:
		return &closure{fn: n, env: e}, nil
	case *UnaryExpr:
		return it.unary(n, e)
	case *UpdateExpr:
		r, err := it.resolve(n.X, e)
		if err != nil {
			return nil, err
		}
		old, err := it.get(r, e)
		if err != nil {
			return nil, err
		}
		num := toNumber(old)
		next := num + 1
		if n.Op == "--" {
			next = num - 1
		}
		if err := it.put(r, next, e); err != nil {
			return nil, err
		}
		if n.Prefix {
			return next, nil
		}
		return num, nil
	case *BinaryExpr:
		l, err := it.eval(n.L, e)
		if err != nil {
			return nil, err
		}
		r, err := it.eval(n.R, e)
		if err != nil {
			return nil, err
		}
		v, err := binop(n.Op, l, r)
		return v, at(err, n.At)
	case *LogicalExpr:
		l, err := it.eval(n.L, e)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "&&":
			if !truthy(l) {
				return l, nil
			}
		case "||":
			if truthy(l) {
				return l, nil
			}
		case "??":
			if !isNullish(l) {
				return l, nil
			}
		}
		return it.eval(n.R, e)
	case *CondExpr:
		test, err := it.eval(n.Test, e)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return it.eval(n.Then, e)
		}
		return it.eval(n.Else, e)
	case *AssignExpr:
		return it.assignExpr(n, e)
	case *MemberExpr:
		obj, err := it.eval(n.X, e)
		if err != nil {
			return nil, err
		}
		if n.Optional && isNullish(obj) {
			return nil, errChainBreak
		}
		key, err := it.memberKey(n, e)
		if err != nil {
			return nil, err
		}
		v, err := it.getProp(obj, key)
		return v, at(err, n.At)
	case *CallExpr:
		return it.callExpr(n, e)
	case *NewExpr:
		ctor, err := it.eval(n.Ctor, e)
		if err != nil {
			return nil, err
		}
		args, err := it.args(n.Args, e)
		if err != nil {
			return nil, err
		}
		return it.construct(ctor, args, n.At, calleeName(n.Ctor))
	case *SeqExpr:
		var v Value = undefined
		for _, sub := range n.List {
			var err error
			if v, err = it.eval(sub, e); err != nil {
				return nil, err
			}
		}
		return v, nil
	case *OptionalChain:
		v, err := it.eval(n.X, e)
		if errors.Is(err, errChainBreak) {
			return undefined, nil
		}
		return v, err
	case *SpreadElem:
		return nil, newError(KindSyntax, n.At, "unexpected spread")
	}
	return nil, newError(KindSyntax, x.exprPos(), "unsupported expression")
}

func (it *interp) objectLit(n *ObjectLit, e *env) (Value, error) {
	o := newObject()
	for _, p := range n.Props {
		if p.Spread {
			v, err := it.eval(p.Value, e)
			if err != nil {
				return nil, err
			}
			switch src := v.(type) {
			case *object:
				for _, k := range src.ownKeys() {
					o.set(k, src.props[k])
				}
			case *array:
				for i, el := range src.elems {
					o.set(toString(float64(i)), el)
				}
			case string:
				for i, r := range []rune(src) {
					o.set(toString(float64(i)), string(r))
				}
			}
			continue
		}
		key := p.Key
		if p.Computed != nil {
			k, err := it.eval(p.Computed, e)
			if err != nil {
				return nil, err
			}
			key = propertyKey(k)
		}
		v, err := it.eval(p.Value, e)
		if err != nil {
			return nil, err
		}
		nameFunction(v, &Ident{Name: key})
		o.set(key, v)
	}
	return o, nil
}

func (it *interp) unary(n *UnaryExpr, e *env) (Value, error) {
	switch n.Op {
	case "typeof":
		if id, ok := n.X.(*Ident); ok {
			if _, found := e.lookup(id.Name); !found {
				return "undefined", nil
			}
		}
		v, err := it.eval(n.X, e)
		if err != nil {
			return nil, err
		}
		return typeOf(v), nil
	case "delete":
		m, ok := n.X.(*MemberExpr)
		if !ok {
			return true, nil
		}
		obj, err := it.eval(m.X, e)
		if err != nil {
			return nil, err
		}
		key, err := it.memberKey(m, e)
		if err != nil {
			return nil, err
		}
		switch o := obj.(type) {
		case *object:
			if o.frozen {
				return false, nil
			}
			o.delete(key)
		case *array:
			if i, ok := arrayIndex(key); ok && i < len(o.elems) && !o.frozen {
				o.elems[i] = undefined
			}
		case undefinedType, nil:
			return nil, newError(KindType, m.At, "Cannot convert undefined or null to object")
		}
		return true, nil
	}
	v, err := it.eval(n.X, e)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "!":
		return !truthy(v), nil
	case "-":
		return -toNumber(toPrimitive(v, true)), nil
	case "+":
		return toNumber(toPrimitive(v, true)), nil
	case "~":
		return float64(^toInt32(v)), nil
	case "void":
		return undefined, nil
	case "await":
		return v, nil
	}
	return nil, newError(KindSyntax, n.At, "unsupported operator %s", n.Op)
}

func (it *interp) assignExpr(n *AssignExpr, e *env) (Value, error) {
	switch n.Target.(type) {
	case *ArrayPattern, *ObjectPattern, *DefaultPattern:
		v, err := it.eval(n.Value, e)
		if err != nil {
			return nil, err
		}
		return v, it.bind(n.Target, v, e, "")
	}
	r, err := it.resolve(n.Target, e)
	if err != nil {
		return nil, err
	}
	if n.Op == "=" {
		v, err := it.eval(n.Value, e)
		if err != nil {
			return nil, err
		}
		nameFunction(v, n.Target)
		return v, it.put(r, v, e)
	}
	cur, err := it.get(r, e)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "&&=", "||=", "??=":
		keep := (n.Op == "&&=" && !truthy(cur)) ||
			(n.Op == "||=" && truthy(cur)) ||
			(n.Op == "??=" && !isNullish(cur))
		if keep {
			return cur, nil
		}
		v, err := it.eval(n.Value, e)
		if err != nil {
			return nil, err
		}
		return v, it.put(r, v, e)
	}
	rhs, err := it.eval(n.Value, e)
	if err != nil {
		return nil, err
	}
	v, err := binop(n.Op[:len(n.Op)-1], cur, rhs)
	if err != nil {
		return nil, at(err, n.At)
	}
	return v, it.put(r, v, e)
}

func (it *interp) args(list []Expr, e *env) ([]Value, error) {
	out := make([]Value, 0, len(list))
	for _, a := range list {
		if s, ok := a.(*SpreadElem); ok {
			v, err := it.eval(s.X, e)
			if err != nil {
				return nil, err
			}
			items, err := iterate(v)
			if err != nil {
				return nil, at(err, s.At)
			}
			out = append(out, items...)
			continue
		}
		v, err := it.eval(a, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (it *interp) callExpr(n *CallExpr, e *env) (Value, error) {
	var fn, this Value = nil, undefined
	if m, ok := n.Fn.(*MemberExpr); ok {
		obj, err := it.eval(m.X, e)
		if err != nil {
			return nil, err
		}
		if m.Optional && isNullish(obj) {
			return nil, errChainBreak
		}
		key, err := it.memberKey(m, e)
		if err != nil {
			return nil, err
		}
		if fn, err = it.getProp(obj, key); err != nil {
			return nil, at(err, m.At)
		}
		this = obj
	} else {
		var err error
		if fn, err = it.eval(n.Fn, e); err != nil {
			return nil, err
		}
	}
	if n.Optional && isNullish(fn) {
		return nil, errChainBreak
	}
	if !isCallable(fn) {
		return nil, newError(KindType, n.At, "%s is not a function", calleeName(n.Fn))
	}
	args, err := it.args(n.Args, e)
	if err != nil {
		return nil, err
	}
	return it.call(fn, this, args, n.At)
}

func calleeName(x Expr) string {
	switch n := x.(type) {
	case *Ident:
		return n.Name
	case *MemberExpr:
		if n.Index == nil {
			return calleeName(n.X) + "." + n.Name
		}
		return calleeName(n.X) + "[...]"
	case *ThisExpr:
		return "this"
	case *CallExpr:
		return calleeName(n.Fn) + "(...)"
	}
	return "expression"
}

func (it *interp) call(fn, this Value, args []Value, pos Pos) (Value, error) {
	if err := it.step(); err != nil {
		return nil, err
	}
	switch f := fn.(type) {
	case *native:
		if f.bound != nil {
			all := append(append([]Value(nil), f.bound.args...), args...)
			return it.call(f.bound.target, f.bound.this, all, pos)
		}
		v, err := f.call(it, this, args)
		return v, at(err, pos)
	case *closure:
		it.depth++
		defer func() { it.depth-- }()
		if it.depth > maxCallDepth {
			return nil, newError(KindRange, pos, "Maximum call stack size exceeded")
		}
		scope := newEnv(f.env, true)
		if !f.fn.Arrow {
			scope.this, scope.hasThis = this, true
		}
		for i, p := range f.fn.Params {
			if r, ok := p.(*RestElem); ok {
				var rest []Value
				if i < len(args) {
					rest = append(rest, args[i:]...)
				}
				if err := it.bind(r.Target, newArray(rest), scope, "let"); err != nil {
					return nil, err
				}
				break
			}
			if err := it.bind(p, arg(args, i), scope, "let"); err != nil {
				return nil, err
			}
		}
		if f.fn.ExprBody != nil {
			return it.eval(f.fn.ExprBody, scope)
		}
		hoistVars(f.fn.Body, scope)
		hoistFuncs(f.fn.Body, scope)
		c, v, err := it.execList(f.fn.Body, scope)
		if err != nil {
			return nil, err
		}
		if c == ctrlReturn {
			return v, nil
		}
		return undefined, nil
	}
	return nil, newError(KindType, pos, "%s is not a function", typeOf(fn))
}

func (it *interp) construct(ctor Value, args []Value, pos Pos, name string) (Value, error) {
	switch f := ctor.(type) {
	case *native:
		if f.construct == nil {
			return nil, newError(KindType, pos, "%s is not a constructor", name)
		}
		if err := it.step(); err != nil {
			return nil, err
		}
		v, err := f.construct(it, undefined, args)
		return v, at(err, pos)
	case *closure:
		if f.fn.Arrow {
			return nil, newError(KindType, pos, "%s is not a constructor", name)
		}
		obj := newObject()
		v, err := it.call(f, obj, args, pos)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case *object, *array, *dateValue:
			return v, nil
		}
		return obj, nil
	}
	return nil, newError(KindType, pos, "%s is not a constructor", name)
}

// ===========================================================================
// Operators
// ===========================================================================

func binop(op string, l, r Value) (Value, error) {
	switch op {
	case "+":
		lp, rp := toPrimitive(l, false), toPrimitive(r, false)
		_, ls := lp.(string)
		_, rs := rp.(string)
		if ls || rs {
			return toString(lp) + toString(rp), nil
		}
		return toNumber(lp) + toNumber(rp), nil
	case "-":
		return toNumber(l) - toNumber(r), nil
	case "*":
		return toNumber(l) * toNumber(r), nil
	case "/":
		return toNumber(l) / toNumber(r), nil
	case "%":
		return math.Mod(toNumber(l), toNumber(r)), nil
	case "**":
		return math.Pow(toNumber(l), toNumber(r)), nil
	case "==":
		return looseEquals(l, r), nil
	case "!=":
		return !looseEquals(l, r), nil
	case "===":
		return strictEquals(l, r), nil
	case "!==":
		return !strictEquals(l, r), nil
	case "<":
		return compare(l, r, func(c int) bool { return c < 0 }), nil
	case ">":
		return compare(l, r, func(c int) bool { return c > 0 }), nil
	case "<=":
		return compare(l, r, func(c int) bool { return c <= 0 }), nil
	case ">=":
		return compare(l, r, func(c int) bool { return c >= 0 }), nil
	case "&":
		return float64(toInt32(l) & toInt32(r)), nil
	case "|":
		return float64(toInt32(l) | toInt32(r)), nil
	case "^":
		return float64(toInt32(l) ^ toInt32(r)), nil
	case "<<":
		return float64(toInt32(l) << (toUint32(r) & 31)), nil
	case ">>":
		return float64(toInt32(l) >> (toUint32(r) & 31)), nil
	case ">>>":
		return float64(toUint32(l) >> (toUint32(r) & 31)), nil
	case "in":
		switch o := r.(type) {
		case *object:
			_, ok := o.props[propertyKey(l)]
			return ok, nil
		case *array:
			k := propertyKey(l)
			if k == "length" {
				return true, nil
			}
			i, ok := arrayIndex(k)
			return ok && i < len(o.elems), nil
		}
		return nil, typeErr("Cannot use 'in' operator to search for '%s' in %s", toString(l), toString(r))
	case "instanceof":
		return instanceOf(l, r)
	}
	return nil, newError(KindSyntax, Pos{}, "unsupported operator %s", op)
}

// compare applies a relational test; comparisons involving NaN are false.
func compare(l, r Value, ok func(int) bool) bool {
	lp, rp := toPrimitive(l, true), toPrimitive(r, true)
	ls, lstr := lp.(string)
	rs, rstr := rp.(string)
	if lstr && rstr {
		switch {
		case ls < rs:
			return ok(-1)
		case ls > rs:
			return ok(1)
		}
		return ok(0)
	}
	a, b := toNumber(lp), toNumber(rp)
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch {
	case a < b:
		return ok(-1)
	case a > b:
		return ok(1)
	}
	return ok(0)
}

func instanceOf(v, ctor Value) (Value, error) {
	switch c := ctor.(type) {
	case *native:
		switch c.name {
		case "Array":
			_, ok := v.(*array)
			return ok, nil
		case "Date":
			_, ok := v.(*dateValue)
			return ok, nil
		case "Object":
			return isObjectLike(v), nil
		case "Function":
			return isCallable(v), nil
		case KindError:
			o, ok := v.(*object)
			return ok && o.class != "Object", nil
		case KindType, KindRange, KindReference, KindSyntax:
			o, ok := v.(*object)
			return ok && o.class == c.name, nil
		}
		return false, nil
	case *closure:
		return false, nil
	}
	return nil, typeErr("Right-hand side of 'instanceof' is not callable")
}
