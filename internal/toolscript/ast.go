package toolscript

// Expr is an expression node. Patterns used by declarations, parameters and
// destructuring assignment are expressions too.
type Expr interface{ exprPos() Pos }

// Stmt is a statement node.
type Stmt interface{ stmtPos() Pos }

type (
	NumberLit struct {
		At    Pos
		Value float64
	}
	StringLit struct {
		At    Pos
		Value string
	}
	TemplateLit struct {
		At    Pos
		Parts []string
		Exprs []Expr
	}
	BoolLit struct {
		At    Pos
		Value bool
	}
	NullLit  struct{ At Pos }
	ThisExpr struct{ At Pos }
	Ident    struct {
		At   Pos
		Name string
	}
	ArrayLit struct {
		At    Pos
		Elems []Expr // nil entries are holes
	}
	Property struct {
		Key      string
		Computed Expr // non-nil for [expr]: value
		Value    Expr
		Spread   bool
	}
	ObjectLit struct {
		At    Pos
		Props []Property
	}
	FuncLit struct {
		At       Pos
		Name     string
		Params   []Expr // patterns; the last may be a RestElem
		Body     []Stmt
		ExprBody Expr // arrow functions with an expression body
		Arrow    bool
	}
	UnaryExpr struct {
		At Pos
		Op string
		X  Expr
	}
	UpdateExpr struct {
		At     Pos
		Op     string // "++" or "--"
		Prefix bool
		X      Expr
	}
	BinaryExpr struct {
		At   Pos
		Op   string
		L, R Expr
	}
	LogicalExpr struct {
		At   Pos
		Op   string // "&&", "||", "??"
		L, R Expr
	}
	CondExpr struct {
		At               Pos
		Test, Then, Else Expr
	}
	AssignExpr struct {
		At     Pos
		Op     string
		Target Expr
		Value  Expr
	}
	MemberExpr struct {
		At       Pos
		X        Expr
		Name     string
		Index    Expr // computed access
		Optional bool
	}
	CallExpr struct {
		At       Pos
		Fn       Expr
		Args     []Expr
		Optional bool
	}
	NewExpr struct {
		At   Pos
		Ctor Expr
		Args []Expr
	}
	SpreadElem struct {
		At Pos
		X  Expr
	}
	SeqExpr struct {
		At   Pos
		List []Expr
	}
	// OptionalChain bounds the short-circuit of ?. inside it.
	OptionalChain struct {
		At Pos
		X  Expr
	}

	ArrayPattern struct {
		At    Pos
		Elems []Expr // nil entries skip a position
		Rest  Expr
	}
	PatternProp struct {
		Key      string
		Computed Expr
		Value    Expr
	}
	ObjectPattern struct {
		At    Pos
		Props []PatternProp
		Rest  Expr
	}
	DefaultPattern struct {
		At      Pos
		Target  Expr
		Default Expr
	}
	RestElem struct {
		At     Pos
		Target Expr
	}
)

type (
	Declarator struct {
		Target Expr
		Init   Expr
	}
	VarDecl struct {
		At    Pos
		Kind  string // var, let, const
		Decls []Declarator
	}
	ExprStmt struct {
		At Pos
		X  Expr
	}
	BlockStmt struct {
		At   Pos
		Body []Stmt
	}
	IfStmt struct {
		At   Pos
		Test Expr
		Then Stmt
		Else Stmt
	}
	ForStmt struct {
		At     Pos
		Init   Stmt
		Test   Expr
		Update Expr
		Body   Stmt
	}
	ForInOfStmt struct {
		At     Pos
		Kind   string // declaration kind, or "" when assigning to an existing target
		Target Expr
		Iter   Expr
		Body   Stmt
		Of     bool
	}
	WhileStmt struct {
		At   Pos
		Test Expr
		Body Stmt
		Do   bool
	}
	ReturnStmt struct {
		At Pos
		X  Expr
	}
	BreakStmt    struct{ At Pos }
	ContinueStmt struct{ At Pos }
	SwitchCase   struct {
		Test Expr // nil for default
		Body []Stmt
	}
	SwitchStmt struct {
		At    Pos
		Disc  Expr
		Cases []SwitchCase
	}
	ThrowStmt struct {
		At Pos
		X  Expr
	}
	TryStmt struct {
		At      Pos
		Block   *BlockStmt
		Param   Expr
		Handler *BlockStmt
		Finally *BlockStmt
	}
	FuncDecl struct {
		At   Pos
		Func *FuncLit
	}
	EmptyStmt struct{ At Pos }
)

func (n *NumberLit) exprPos() Pos      { return n.At }
func (n *StringLit) exprPos() Pos      { return n.At }
func (n *TemplateLit) exprPos() Pos    { return n.At }
func (n *BoolLit) exprPos() Pos        { return n.At }
func (n *NullLit) exprPos() Pos        { return n.At }
func (n *ThisExpr) exprPos() Pos       { return n.At }
func (n *Ident) exprPos() Pos          { return n.At }
func (n *ArrayLit) exprPos() Pos       { return n.At }
func (n *ObjectLit) exprPos() Pos      { return n.At }
func (n *FuncLit) exprPos() Pos        { return n.At }
func (n *UnaryExpr) exprPos() Pos      { return n.At }
func (n *UpdateExpr) exprPos() Pos     { return n.At }
func (n *BinaryExpr) exprPos() Pos     { return n.At }
func (n *LogicalExpr) exprPos() Pos    { return n.At }
func (n *CondExpr) exprPos() Pos       { return n.At }
func (n *AssignExpr) exprPos() Pos     { return n.At }
func (n *MemberExpr) exprPos() Pos     { return n.At }
func (n *CallExpr) exprPos() Pos       { return n.At }
func (n *NewExpr) exprPos() Pos        { return n.At }
func (n *SpreadElem) exprPos() Pos     { return n.At }
func (n *SeqExpr) exprPos() Pos        { return n.At }
func (n *OptionalChain) exprPos() Pos  { return n.At }
func (n *ArrayPattern) exprPos() Pos   { return n.At }
func (n *ObjectPattern) exprPos() Pos  { return n.At }
func (n *DefaultPattern) exprPos() Pos { return n.At }
func (n *RestElem) exprPos() Pos       { return n.At }

func (n *VarDecl) stmtPos() Pos      { return n.At }
func (n *ExprStmt) stmtPos() Pos     { return n.At }
func (n *BlockStmt) stmtPos() Pos    { return n.At }
func (n *IfStmt) stmtPos() Pos       { return n.At }
func (n *ForStmt) stmtPos() Pos      { return n.At }
func (n *ForInOfStmt) stmtPos() Pos  { return n.At }
func (n *WhileStmt) stmtPos() Pos    { return n.At }
func (n *ReturnStmt) stmtPos() Pos   { return n.At }
func (n *BreakStmt) stmtPos() Pos    { return n.At }
func (n *ContinueStmt) stmtPos() Pos { return n.At }
func (n *SwitchStmt) stmtPos() Pos   { return n.At }
func (n *ThrowStmt) stmtPos() Pos    { return n.At }
func (n *TryStmt) stmtPos() Pos      { return n.At }
func (n *FuncDecl) stmtPos() Pos     { return n.At }
func (n *EmptyStmt) stmtPos() Pos    { return n.At }
