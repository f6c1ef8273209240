package toolscript

import "fmt"

type parser struct {
	toks []token
	i    int
	noIn bool // inside a for-statement head, where 'in' ends the initializer
}

// Parse parses logic source into statements.
func Parse(src string) ([]Stmt, error) {
	toks, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var body []Stmt
	for !p.atEOF() {
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		body = append(body, st)
	}
	return body, nil
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) peek(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) atEOF() bool { return p.cur().kind == tokEOF }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) is(text string) bool {
	t := p.cur()
	return (t.kind == tokPunct || t.kind == tokKeyword) && t.text == text
}

func (p *parser) isIdent(name string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == name
}

func (p *parser) eat(text string) bool {
	if p.is(text) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(text string) (token, error) {
	if !p.is(text) {
		return token{}, p.unexpected()
	}
	return p.next(), nil
}

func (p *parser) unexpected() error {
	t := p.cur()
	return newError(KindSyntax, t.pos, "unexpected %s", describe(t))
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokTemplate:
		return "template literal"
	case tokIdent:
		return fmt.Sprintf("identifier '%s'", t.text)
	}
	return fmt.Sprintf("token '%s'", t.text)
}

// semicolon consumes a statement terminator, applying automatic insertion
// before '}', end of input and line breaks.
func (p *parser) semicolon() error {
	if p.eat(";") || p.is("}") || p.atEOF() || p.cur().nl {
		return nil
	}
	return p.unexpected()
}

// ===========================================================================
// Statements
// ===========================================================================

func (p *parser) statement() (Stmt, error) {
	t := p.cur()
	if t.kind == tokPunct {
		switch t.text {
		case "{":
			return p.block()
		case ";":
			p.next()
			return &EmptyStmt{At: t.pos}, nil
		}
	}
	if t.kind == tokKeyword {
		switch t.text {
		case "var", "let", "const":
			d, err := p.varDecl()
			if err != nil {
				return nil, err
			}
			return d, p.semicolon()
		case "if":
			return p.ifStmt()
		case "for":
			return p.forStmt()
		case "while":
			return p.whileStmt()
		case "do":
			return p.doWhileStmt()
		case "return":
			p.next()
			st := &ReturnStmt{At: t.pos}
			if p.is(";") || p.is("}") || p.atEOF() || p.cur().nl {
				return st, p.semicolon()
			}
			x, err := p.expression()
			if err != nil {
				return nil, err
			}
			st.X = x
			return st, p.semicolon()
		case "break":
			p.next()
			return &BreakStmt{At: t.pos}, p.semicolon()
		case "continue":
			p.next()
			return &ContinueStmt{At: t.pos}, p.semicolon()
		case "switch":
			return p.switchStmt()
		case "throw":
			p.next()
			if p.cur().nl {
				return nil, newError(KindSyntax, t.pos, "illegal newline after throw")
			}
			x, err := p.expression()
			if err != nil {
				return nil, err
			}
			return &ThrowStmt{At: t.pos, X: x}, p.semicolon()
		case "try":
			return p.tryStmt()
		case "function":
			fn, err := p.function()
			if err != nil {
				return nil, err
			}
			if fn.Name == "" {
				return nil, newError(KindSyntax, t.pos, "function statement requires a name")
			}
			return &FuncDecl{At: t.pos, Func: fn}, nil
		case "async":
			if p.peek(1).kind == tokKeyword && p.peek(1).text == "function" {
				p.next()
				return p.statement()
			}
		}
	}
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &ExprStmt{At: t.pos, X: x}, p.semicolon()
}

func (p *parser) block() (*BlockStmt, error) {
	open, err := p.expect("{")
	if err != nil {
		return nil, err
	}
	b := &BlockStmt{At: open.pos}
	for !p.is("}") {
		if p.atEOF() {
			return nil, p.unexpected()
		}
		st, err := p.statement()
		if err != nil {
			return nil, err
		}
		b.Body = append(b.Body, st)
	}
	p.next()
	return b, nil
}

func (p *parser) varDecl() (*VarDecl, error) {
	kw := p.next()
	d := &VarDecl{At: kw.pos, Kind: kw.text}
	for {
		target, err := p.bindingTarget()
		if err != nil {
			return nil, err
		}
		decl := Declarator{Target: target}
		if p.eat("=") {
			if decl.Init, err = p.assignment(); err != nil {
				return nil, err
			}
		} else if _, ok := target.(*Ident); !ok && !p.forHead() {
			return nil, newError(KindSyntax, target.exprPos(), "missing initializer in destructuring declaration")
		} else if kw.text == "const" && !p.forHead() {
			return nil, newError(KindSyntax, target.exprPos(), "missing initializer in const declaration")
		}
		d.Decls = append(d.Decls, decl)
		if !p.eat(",") {
			return d, nil
		}
	}
}

// forHead reports whether the parser stands at 'of' or 'in' of a for-in/of head.
func (p *parser) forHead() bool {
	return p.noIn && (p.isIdent("of") || p.is("in"))
}

func (p *parser) ifStmt() (Stmt, error) {
	kw := p.next()
	test, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.statement()
	if err != nil {
		return nil, err
	}
	st := &IfStmt{At: kw.pos, Test: test, Then: then}
	if p.eat("else") {
		if st.Else, err = p.statement(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (p *parser) parenExpr() (Expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	x, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return x, nil
}

func (p *parser) forStmt() (Stmt, error) {
	kw := p.next()
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var init Stmt
	p.noIn = true
	switch {
	case p.is(";"):
	case p.is("var") || p.is("let") || p.is("const"):
		d, err := p.varDecl()
		if err != nil {
			p.noIn = false
			return nil, err
		}
		if p.isIdent("of") || p.is("in") {
			p.noIn = false
			if len(d.Decls) != 1 || d.Decls[0].Init != nil {
				return nil, newError(KindSyntax, d.At, "invalid left-hand side in for loop")
			}
			return p.forInOf(kw.pos, d.Kind, d.Decls[0].Target)
		}
		init = d
	default:
		start := p.cur().pos
		x, err := p.expression()
		if err != nil {
			p.noIn = false
			return nil, err
		}
		if p.isIdent("of") || p.is("in") {
			p.noIn = false
			target, err := toPattern(x)
			if err != nil {
				return nil, err
			}
			return p.forInOf(kw.pos, "", target)
		}
		init = &ExprStmt{At: start, X: x}
	}
	p.noIn = false
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	st := &ForStmt{At: kw.pos, Init: init}
	var err error
	if !p.is(";") {
		if st.Test, err = p.expression(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(";"); err != nil {
		return nil, err
	}
	if !p.is(")") {
		if st.Update, err = p.expression(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	if st.Body, err = p.statement(); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) forInOf(at Pos, kind string, target Expr) (Stmt, error) {
	of := p.next().text == "of"
	iter, err := p.assignment()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &ForInOfStmt{At: at, Kind: kind, Target: target, Iter: iter, Body: body, Of: of}, nil
}

func (p *parser) whileStmt() (Stmt, error) {
	kw := p.next()
	test, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{At: kw.pos, Test: test, Body: body}, nil
}

func (p *parser) doWhileStmt() (Stmt, error) {
	kw := p.next()
	body, err := p.statement()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("while"); err != nil {
		return nil, err
	}
	test, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	p.eat(";")
	return &WhileStmt{At: kw.pos, Test: test, Body: body, Do: true}, nil
}

func (p *parser) switchStmt() (Stmt, error) {
	kw := p.next()
	disc, err := p.parenExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	st := &SwitchStmt{At: kw.pos, Disc: disc}
	seenDefault := false
	for !p.eat("}") {
		var c SwitchCase
		switch {
		case p.eat("case"):
			if c.Test, err = p.expression(); err != nil {
				return nil, err
			}
		case p.is("default"):
			if seenDefault {
				return nil, newError(KindSyntax, p.cur().pos, "more than one default clause in switch statement")
			}
			seenDefault = true
			p.next()
		default:
			return nil, p.unexpected()
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		for !p.is("case") && !p.is("default") && !p.is("}") {
			if p.atEOF() {
				return nil, p.unexpected()
			}
			s, err := p.statement()
			if err != nil {
				return nil, err
			}
			c.Body = append(c.Body, s)
		}
		st.Cases = append(st.Cases, c)
	}
	return st, nil
}

func (p *parser) tryStmt() (Stmt, error) {
	kw := p.next()
	block, err := p.block()
	if err != nil {
		return nil, err
	}
	st := &TryStmt{At: kw.pos, Block: block}
	if p.eat("catch") {
		if p.eat("(") {
			if st.Param, err = p.bindingTarget(); err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
		}
		if st.Handler, err = p.block(); err != nil {
			return nil, err
		}
	}
	if p.eat("finally") {
		if st.Finally, err = p.block(); err != nil {
			return nil, err
		}
	}
	if st.Handler == nil && st.Finally == nil {
		return nil, newError(KindSyntax, kw.pos, "missing catch or finally after try")
	}
	return st, nil
}

// ===========================================================================
// Functions and binding patterns
// ===========================================================================

func (p *parser) function() (*FuncLit, error) {
	kw := p.next()
	fn := &FuncLit{At: kw.pos}
	if t := p.cur(); t.kind == tokIdent {
		fn.Name = t.text
		p.next()
	}
	params, err := p.params()
	if err != nil {
		return nil, err
	}
	fn.Params = params
	body, err := p.functionBody()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

func (p *parser) functionBody() ([]Stmt, error) {
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	b, err := p.block()
	if err != nil {
		return nil, err
	}
	return b.Body, nil
}

func (p *parser) params() ([]Expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var params []Expr
	for !p.eat(")") {
		if t := p.cur(); t.kind == tokPunct && t.text == "..." {
			p.next()
			target, err := p.bindingTarget()
			if err != nil {
				return nil, err
			}
			params = append(params, &RestElem{At: t.pos, Target: target})
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return params, nil
		}
		el, err := p.bindingElement()
		if err != nil {
			return nil, err
		}
		params = append(params, el)
		if !p.is(")") {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
	}
	return params, nil
}

func (p *parser) bindingElement() (Expr, error) {
	target, err := p.bindingTarget()
	if err != nil {
		return nil, err
	}
	if p.is("=") {
		at := p.next().pos
		def, err := p.assignment()
		if err != nil {
			return nil, err
		}
		return &DefaultPattern{At: at, Target: target, Default: def}, nil
	}
	return target, nil
}

func (p *parser) bindingTarget() (Expr, error) {
	t := p.cur()
	switch {
	case t.kind == tokIdent:
		p.next()
		return &Ident{At: t.pos, Name: t.text}, nil
	case t.kind == tokPunct && t.text == "[":
		p.next()
		pat := &ArrayPattern{At: t.pos}
		for !p.eat("]") {
			if p.eat(",") {
				pat.Elems = append(pat.Elems, nil)
				continue
			}
			if p.eat("...") {
				rest, err := p.bindingTarget()
				if err != nil {
					return nil, err
				}
				pat.Rest = rest
				if _, err := p.expect("]"); err != nil {
					return nil, err
				}
				return pat, nil
			}
			el, err := p.bindingElement()
			if err != nil {
				return nil, err
			}
			pat.Elems = append(pat.Elems, el)
			if !p.is("]") {
				if _, err := p.expect(","); err != nil {
					return nil, err
				}
			}
		}
		return pat, nil
	case t.kind == tokPunct && t.text == "{":
		p.next()
		pat := &ObjectPattern{At: t.pos}
		for !p.eat("}") {
			if p.eat("...") {
				rest, err := p.bindingTarget()
				if err != nil {
					return nil, err
				}
				pat.Rest = rest
				if _, err := p.expect("}"); err != nil {
					return nil, err
				}
				return pat, nil
			}
			key, computed, err := p.propertyKey()
			if err != nil {
				return nil, err
			}
			var prop PatternProp
			prop.Key, prop.Computed = key.text, computed
			if p.eat(":") {
				if prop.Value, err = p.bindingElement(); err != nil {
					return nil, err
				}
			} else {
				if key.kind != tokIdent || computed != nil {
					return nil, p.unexpected()
				}
				var target Expr = &Ident{At: key.pos, Name: key.text}
				if p.is("=") {
					at := p.next().pos
					def, err := p.assignment()
					if err != nil {
						return nil, err
					}
					target = &DefaultPattern{At: at, Target: target, Default: def}
				}
				prop.Value = target
			}
			pat.Props = append(pat.Props, prop)
			if !p.is("}") {
				if _, err := p.expect(","); err != nil {
					return nil, err
				}
			}
		}
		return pat, nil
	}
	return nil, p.unexpected()
}

// propertyKey reads an object key: a name, string, number or [computed].
func (p *parser) propertyKey() (token, Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokIdent, tokKeyword, tokString:
		p.next()
		return t, nil, nil
	case tokNumber:
		p.next()
		t.text = toString(t.num)
		return t, nil, nil
	case tokPunct:
		if t.text == "[" {
			p.next()
			x, err := p.assignment()
			if err != nil {
				return t, nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return t, nil, err
			}
			return t, x, nil
		}
	}
	return t, nil, p.unexpected()
}

// toPattern reinterprets an expression as an assignment target.
func toPattern(x Expr) (Expr, error) {
	switch n := x.(type) {
	case *Ident, *MemberExpr:
		return x, nil
	case *ArrayLit:
		pat := &ArrayPattern{At: n.At}
		for i, el := range n.Elems {
			if el == nil {
				pat.Elems = append(pat.Elems, nil)
				continue
			}
			if s, ok := el.(*SpreadElem); ok {
				if i != len(n.Elems)-1 {
					return nil, newError(KindSyntax, s.At, "rest element must be last element")
				}
				rest, err := toPattern(s.X)
				if err != nil {
					return nil, err
				}
				pat.Rest = rest
				continue
			}
			t, err := toPattern(el)
			if err != nil {
				return nil, err
			}
			pat.Elems = append(pat.Elems, t)
		}
		return pat, nil
	case *ObjectLit:
		pat := &ObjectPattern{At: n.At}
		for _, prop := range n.Props {
			if prop.Spread {
				rest, err := toPattern(prop.Value)
				if err != nil {
					return nil, err
				}
				pat.Rest = rest
				continue
			}
			v, err := toPattern(prop.Value)
			if err != nil {
				return nil, err
			}
			pat.Props = append(pat.Props, PatternProp{Key: prop.Key, Computed: prop.Computed, Value: v})
		}
		return pat, nil
	case *AssignExpr:
		if n.Op == "=" {
			t, err := toPattern(n.Target)
			if err != nil {
				return nil, err
			}
			return &DefaultPattern{At: n.At, Target: t, Default: n.Value}, nil
		}
	case *ArrayPattern, *ObjectPattern, *DefaultPattern:
		return x, nil
	}
	return nil, newError(KindSyntax, x.exprPos(), "invalid assignment target")
}

// ===========================================================================
// Expressions
// ===========================================================================

func (p *parser) expression() (Expr, error) {
	x, err := p.assignment()
	if err != nil || !p.is(",") {
		return x, err
	}
	seq := &SeqExpr{At: x.exprPos(), List: []Expr{x}}
	for p.eat(",") {
		y, err := p.assignment()
		if err != nil {
			return nil, err
		}
		seq.List = append(seq.List, y)
	}
	return seq, nil
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true, "**=": true,
	"<<=": true, ">>=": true, ">>>=": true, "&=": true, "|=": true, "^=": true,
	"&&=": true, "||=": true, "??=": true,
}

func (p *parser) assignment() (Expr, error) {
	if p.is("async") {
		if n := p.peek(1); !n.nl && (n.kind == tokIdent || (n.kind == tokPunct && n.text == "(")) {
			p.next()
		}
	}
	if p.arrowAhead() {
		return p.arrow()
	}
	left, err := p.conditional()
	if err != nil {
		return nil, err
	}
	t := p.cur()
	if t.kind != tokPunct || !assignOps[t.text] {
		return left, nil
	}
	p.next()
	target := left
	if t.text == "=" {
		if target, err = toPattern(left); err != nil {
			return nil, err
		}
	} else if !isSimpleTarget(left) {
		return nil, newError(KindSyntax, left.exprPos(), "invalid left-hand side in assignment")
	}
	value, err := p.assignment()
	if err != nil {
		return nil, err
	}
	return &AssignExpr{At: t.pos, Op: t.text, Target: target, Value: value}, nil
}

func isSimpleTarget(x Expr) bool {
	switch x.(type) {
	case *Ident, *MemberExpr:
		return true
	}
	return false
}

// arrowAhead looks past a parameter list for '=>'.
func (p *parser) arrowAhead() bool {
	t := p.cur()
	if t.kind == tokIdent {
		n := p.peek(1)
		return n.kind == tokPunct && n.text == "=>" && !n.nl
	}
	if t.kind != tokPunct || t.text != "(" {
		return false
	}
	depth := 0
	for j := p.i; j < len(p.toks); j++ {
		tok := p.toks[j]
		if tok.kind == tokEOF {
			return false
		}
		if tok.kind != tokPunct {
			continue
		}
		switch tok.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				if j+1 >= len(p.toks) {
					return false
				}
				n := p.toks[j+1]
				return n.kind == tokPunct && n.text == "=>" && !n.nl
			}
		}
	}
	return false
}

func (p *parser) arrow() (Expr, error) {
	start := p.cur()
	fn := &FuncLit{At: start.pos, Arrow: true}
	if start.kind == tokIdent {
		p.next()
		fn.Params = []Expr{&Ident{At: start.pos, Name: start.text}}
	} else {
		params, err := p.params()
		if err != nil {
			return nil, err
		}
		fn.Params = params
	}
	if _, err := p.expect("=>"); err != nil {
		return nil, err
	}
	if p.is("{") {
		body, err := p.functionBody()
		if err != nil {
			return nil, err
		}
		fn.Body = body
		return fn, nil
	}
	saved := p.noIn
	p.noIn = false
	body, err := p.assignment()
	p.noIn = saved
	if err != nil {
		return nil, err
	}
	fn.ExprBody = body
	return fn, nil
}

func (p *parser) conditional() (Expr, error) {
	test, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if !p.is("?") {
		return test, nil
	}
	q := p.next()
	saved := p.noIn
	p.noIn = false
	then, err := p.assignment()
	p.noIn = saved
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.assignment()
	if err != nil {
		return nil, err
	}
	return &CondExpr{At: q.pos, Test: test, Then: then, Else: els}, nil
}

var binaryPrec = map[string]int{
	"??": 1,
	"||": 2,
	"&&": 3,
	"|":  4,
	"^":  5,
	"&":  6,
	"==": 7, "!=": 7, "===": 7, "!==": 7,
	"<": 8, ">": 8, "<=": 8, ">=": 8, "instanceof": 8, "in": 8,
	"<<": 9, ">>": 9, ">>>": 9,
	"+": 10, "-": 10,
	"*": 11, "/": 11, "%": 11,
	"**": 12,
}

func (p *parser) binaryOp() (string, int) {
	t := p.cur()
	if t.kind != tokPunct && t.kind != tokKeyword {
		return "", 0
	}
	if t.text == "in" && p.noIn {
		return "", 0
	}
	prec, ok := binaryPrec[t.text]
	if !ok {
		return "", 0
	}
	return t.text, prec
}

func (p *parser) binary(minPrec int) (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, prec := p.binaryOp()
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		at := p.next().pos
		nextMin := prec + 1
		if op == "**" {
			nextMin = prec
		}
		right, err := p.binary(nextMin)
		if err != nil {
			return nil, err
		}
		switch op {
		case "&&", "||", "??":
			left = &LogicalExpr{At: at, Op: op, L: left, R: right}
		default:
			left = &BinaryExpr{At: at, Op: op, L: left, R: right}
		}
	}
}

func (p *parser) unary() (Expr, error) {
	t := p.cur()
	if (t.kind == tokPunct && (t.text == "!" || t.text == "-" || t.text == "+" || t.text == "~")) ||
		(t.kind == tokKeyword && (t.text == "typeof" || t.text == "void" || t.text == "delete" || t.text == "await")) {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{At: t.pos, Op: t.text, X: x}, nil
	}
	if t.kind == tokPunct && (t.text == "++" || t.text == "--") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if !isSimpleTarget(x) {
			return nil, newError(KindSyntax, t.pos, "invalid left-hand side expression in prefix operation")
		}
		return &UpdateExpr{At: t.pos, Op: t.text, Prefix: true, X: x}, nil
	}
	x, err := p.callMember()
	if err != nil {
		return nil, err
	}
	if n := p.cur(); n.kind == tokPunct && (n.text == "++" || n.text == "--") && !n.nl {
		if !isSimpleTarget(x) {
			return nil, newError(KindSyntax, n.pos, "invalid left-hand side expression in postfix operation")
		}
		p.next()
		return &UpdateExpr{At: n.pos, Op: n.text, X: x}, nil
	}
	return x, nil
}

func (p *parser) callMember() (Expr, error) {
	var x Expr
	var err error
	if p.is("new") {
		x, err = p.newExpr()
	} else {
		x, err = p.primary()
	}
	if err != nil {
		return nil, err
	}
	optional := false
	for {
		t := p.cur()
		if t.kind != tokPunct {
			break
		}
		switch t.text {
		case ".":
			p.next()
			name, err := p.memberName()
			if err != nil {
				return nil, err
			}
			x = &MemberExpr{At: t.pos, X: x, Name: name}
			continue
		case "?.":
			p.next()
			optional = true
			switch {
			case p.is("("):
				args, err := p.arguments()
				if err != nil {
					return nil, err
				}
				x = &CallExpr{At: t.pos, Fn: x, Args: args, Optional: true}
			case p.is("["):
				p.next()
				idx, err := p.expression()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect("]"); err != nil {
					return nil, err
				}
				x = &MemberExpr{At: t.pos, X: x, Index: idx, Optional: true}
			default:
				name, err := p.memberName()
				if err != nil {
					return nil, err
				}
				x = &MemberExpr{At: t.pos, X: x, Name: name, Optional: true}
			}
			continue
		case "[":
			p.next()
			saved := p.noIn
			p.noIn = false
			idx, err := p.expression()
			p.noIn = saved
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &MemberExpr{At: t.pos, X: x, Index: idx}
			continue
		case "(":
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			x = &CallExpr{At: t.pos, Fn: x, Args: args}
			continue
		}
		break
	}
	if p.cur().kind == tokTemplate {
		return nil, newError(KindSyntax, p.cur().pos, "tagged templates are not supported")
	}
	if optional {
		x = &OptionalChain{At: x.exprPos(), X: x}
	}
	return x, nil
}

func (p *parser) memberName() (string, error) {
	t := p.cur()
	if t.kind == tokIdent || t.kind == tokKeyword {
		p.next()
		return t.text, nil
	}
	return "", p.unexpected()
}

func (p *parser) newExpr() (Expr, error) {
	kw := p.next()
	var ctor Expr
	var err error
	if p.is("new") {
		ctor, err = p.newExpr()
	} else {
		ctor, err = p.primary()
	}
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		if t.kind == tokPunct && t.text == "." {
			p.next()
			name, err := p.memberName()
			if err != nil {
				return nil, err
			}
			ctor = &MemberExpr{At: t.pos, X: ctor, Name: name}
			continue
		}
		if t.kind == tokPunct && t.text == "[" {
			p.next()
			idx, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			ctor = &MemberExpr{At: t.pos, X: ctor, Index: idx}
			continue
		}
		break
	}
	n := &NewExpr{At: kw.pos, Ctor: ctor}
	if p.is("(") {
		if n.Args, err = p.arguments(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (p *parser) arguments() ([]Expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	var args []Expr
	for !p.eat(")") {
		var x Expr
		var err error
		if t := p.cur(); t.kind == tokPunct && t.text == "..." {
			p.next()
			inner, err := p.assignment()
			if err != nil {
				return nil, err
			}
			x = &SpreadElem{At: t.pos, X: inner}
		} else if x, err = p.assignment(); err != nil {
			return nil, err
		}
		args = append(args, x)
		if !p.is(")") {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
	}
	return args, nil
}

func (p *parser) primary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.next()
		return &NumberLit{At: t.pos, Value: t.num}, nil
	case tokString:
		p.next()
		return &StringLit{At: t.pos, Value: t.text}, nil
	case tokTemplate:
		p.next()
		return p.template(t)
	case tokIdent:
		p.next()
		return &Ident{At: t.pos, Name: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "true", "false":
			p.next()
			return &BoolLit{At: t.pos, Value: t.text == "true"}, nil
		case "null":
			p.next()
			return &NullLit{At: t.pos}, nil
		case "this":
			p.next()
			return &ThisExpr{At: t.pos}, nil
		case "function":
			return p.function()
		case "async":
			if n := p.peek(1); n.kind == tokKeyword && n.text == "function" {
				p.next()
				return p.function()
			}
		}
	case tokPunct:
		switch t.text {
		case "(":
			p.next()
			saved := p.noIn
			p.noIn = false
			x, err := p.expression()
			p.noIn = saved
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			return p.arrayLit()
		case "{":
			return p.objectLit()
		}
	}
	return nil, p.unexpected()
}

func (p *parser) template(t token) (Expr, error) {
	lit := &TemplateLit{At: t.pos, Parts: t.parts}
	for i, src := range t.exprs {
		toks, err := newSubLexer(src, t.exprPos[i]).Tokenize()
		if err != nil {
			return nil, err
		}
		sub := &parser{toks: toks}
		x, err := sub.expression()
		if err != nil {
			return nil, err
		}
		if !sub.atEOF() {
			return nil, sub.unexpected()
		}
		lit.Exprs = append(lit.Exprs, x)
	}
	return lit, nil
}

func (p *parser) arrayLit() (Expr, error) {
	open := p.next()
	lit := &ArrayLit{At: open.pos}
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	for !p.eat("]") {
		if p.eat(",") {
			lit.Elems = append(lit.Elems, nil)
			continue
		}
		var x Expr
		var err error
		if t := p.cur(); t.kind == tokPunct && t.text == "..." {
			p.next()
			inner, err := p.assignment()
			if err != nil {
				return nil, err
			}
			x = &SpreadElem{At: t.pos, X: inner}
		} else if x, err = p.assignment(); err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, x)
		if !p.is("]") {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
	}
	return lit, nil
}

func (p *parser) objectLit() (Expr, error) {
	open := p.next()
	lit := &ObjectLit{At: open.pos}
	saved := p.noIn
	p.noIn = false
	defer func() { p.noIn = saved }()
	for !p.eat("}") {
		if t := p.cur(); t.kind == tokPunct && t.text == "..." {
			p.next()
			x, err := p.assignment()
			if err != nil {
				return nil, err
			}
			lit.Props = append(lit.Props, Property{Value: x, Spread: true})
		} else {
			if t.kind == tokKeyword && t.text == "async" && p.peek(1).kind != tokPunct {
				p.next()
			}
			key, computed, err := p.propertyKey()
			if err != nil {
				return nil, err
			}
			prop := Property{Key: key.text, Computed: computed}
			switch {
			case p.eat(":"):
				if prop.Value, err = p.assignment(); err != nil {
					return nil, err
				}
			case p.is("("):
				params, err := p.params()
				if err != nil {
					return nil, err
				}
				body, err := p.functionBody()
				if err != nil {
					return nil, err
				}
				prop.Value = &FuncLit{At: key.pos, Name: key.text, Params: params, Body: body}
			default:
				if key.kind != tokIdent || computed != nil {
					return nil, p.unexpected()
				}
				var v Expr = &Ident{At: key.pos, Name: key.text}
				if p.is("=") {
					// only meaningful once reinterpreted as a pattern
					at := p.next().pos
					def, err := p.assignment()
					if err != nil {
						return nil, err
					}
					v = &AssignExpr{At: at, Op: "=", Target: v, Value: def}
				}
				prop.Value = v
			}
			lit.Props = append(lit.Props, prop)
		}
		if !p.is("}") {
			if _, err := p.expect(","); err != nil {
				return nil, err
			}
		}
	}
	return lit, nil
}
