package backend

import (
	"fmt"
	"strings"
)

// The backend consumes a parsed translation unit from an external front end.
// Declarator ambiguity (typedef-name vs identifier) is already resolved
// there; type expressions arrive as TypeSpec trees that may still reference
// typedef and struct names, which the resolver chases.

// Pos is a source location carried on statements for diagnostics.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// TypeSpecKind discriminates TypeSpec nodes.
type TypeSpecKind int

const (
	SpecNamed  TypeSpecKind = iota // builtin or typedef name
	SpecPtr                        // pointer to Elem
	SpecArray                      // Count elements of Elem
	SpecStruct                     // reference to a struct/union tag
)

// TypeSpec is an unresolved type expression.
//
//	int *p;        SpecPtr{Elem: SpecNamed{"int"}}
//	int m[2][3];   SpecArray{Count: 2, Elem: SpecArray{Count: 3, Elem: int}}
//	int (*p)[3];   SpecPtr{Elem: SpecArray{Count: 3, Elem: int}}
type TypeSpec struct {
	Kind  TypeSpecKind
	Name  string    // SpecNamed: type name; SpecStruct: tag
	Elem  *TypeSpec // SpecPtr, SpecArray
	Count int       // SpecArray
}

func (s *TypeSpec) String() string {
	switch s.Kind {
	case SpecNamed:
		return s.Name
	case SpecPtr:
		return "*" + s.Elem.String()
	case SpecArray:
		return fmt.Sprintf("[%d]%s", s.Count, s.Elem)
	default:
		return "struct " + s.Name
	}
}

// Named, Ptr and ArrayOf are TypeSpec constructors used by the decoder and
// by tests.
func Named(name string) *TypeSpec { return &TypeSpec{Kind: SpecNamed, Name: name} }

func Ptr(elem *TypeSpec) *TypeSpec { return &TypeSpec{Kind: SpecPtr, Elem: elem} }

func ArrayOf(count int, elem *TypeSpec) *TypeSpec {
	return &TypeSpec{Kind: SpecArray, Count: count, Elem: elem}
}

func StructRef(tag string) *TypeSpec { return &TypeSpec{Kind: SpecStruct, Name: tag} }

//  Expression nodes

// Expr is implemented by every node that produces a value.
type Expr interface {
	exprNode()
	String() string
}

// IntLit is an integer constant.
type IntLit struct {
	Value    int64
	Unsigned bool
	Long     bool
}

func (*IntLit) exprNode()        {}
func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// StrLit is a string constant. It denotes a char array with static storage.
type StrLit struct {
	Value string
}

func (*StrLit) exprNode()        {}
func (s *StrLit) String() string { return fmt.Sprintf("%q", s.Value) }

// VarRef reads a named variable.
type VarRef struct {
	Name string
}

func (*VarRef) exprNode()        {}
func (v *VarRef) String() string { return v.Name }

// BinOp enumerates binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpShl
	OpShr
	OpAnd
	OpOr
	OpXor
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLAnd
	OpLOr
)

var binOpNames = map[BinOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpShl: "<<", OpShr: ">>", OpAnd: "&", OpOr: "|", OpXor: "^",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpLAnd: "&&", OpLOr: "||",
}

func (op BinOp) String() string { return binOpNames[op] }

// BinaryExpr is Left Op Right. Logical && and || short-circuit.
type BinaryExpr struct {
	Op    BinOp
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// UnOp enumerates unary operators.
type UnOp int

const (
	OpDeref  UnOp = iota // *p
	OpAddr               // &x
	OpNeg                // -x
	OpBitNot             // ~x
	OpNot                // !x
)

func (op UnOp) String() string {
	return [...]string{"*", "&", "-", "~", "!"}[op]
}

// UnaryExpr is Op Operand.
type UnaryExpr struct {
	Op      UnOp
	Operand Expr
}

func (*UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", u.Op, u.Operand) }

// IndexExpr is Base[Index]. Multidimensional access arrives as nested
// IndexExpr nodes, outermost last: m[1][2] = Index(Index(m, 1), 2).
type IndexExpr struct {
	Base  Expr
	Index Expr
}

func (*IndexExpr) exprNode()        {}
func (i *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", i.Base, i.Index) }

// MemberExpr is Base.Name or Base->Name.
type MemberExpr struct {
	Base  Expr
	Name  string
	Arrow bool
}

func (*MemberExpr) exprNode() {}
func (m *MemberExpr) String() string {
	sep := "."
	if m.Arrow {
		sep = "->"
	}
	return fmt.Sprintf("%s%s%s", m.Base, sep, m.Name)
}

// CallExpr is Name(Args...).
type CallExpr struct {
	Name string
	Args []Expr
}

func (*CallExpr) exprNode() {}
func (c *CallExpr) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
}

// CastExpr is (Spec)Operand.
type CastExpr struct {
	Spec    *TypeSpec
	Operand Expr
}

func (*CastExpr) exprNode()        {}
func (c *CastExpr) String() string { return fmt.Sprintf("(%s)%s", c.Spec, c.Operand) }

// SizeofExpr is sizeof(type) when Spec is set, otherwise sizeof(Operand).
// The operand is never lowered.
type SizeofExpr struct {
	Spec    *TypeSpec
	Operand Expr
}

func (*SizeofExpr) exprNode() {}
func (s *SizeofExpr) String() string {
	if s.Spec != nil {
		return fmt.Sprintf("sizeof(%s)", s.Spec)
	}
	return fmt.Sprintf("sizeof(%s)", s.Operand)
}

// InitList is a brace initializer { e, e, ... }, possibly nested.
type InitList struct {
	Elems []Expr
}

func (*InitList) exprNode() {}
func (l *InitList) String() string {
	elems := make([]string, len(l.Elems))
	for i, e := range l.Elems {
		elems[i] = e.String()
	}
	return "{" + strings.Join(elems, ", ") + "}"
}

// CompoundLit is (Spec){Init...}. It has automatic storage bounded by the
// enclosing block; a pointer to it escaping the block dangles.
type CompoundLit struct {
	Spec *TypeSpec
	Init *InitList
}

func (*CompoundLit) exprNode()        {}
func (c *CompoundLit) String() string { return fmt.Sprintf("(%s)%s", c.Spec, c.Init) }

// AssignExpr is Left = Right. Aggregate assignment goes through the copy
// engine.
type AssignExpr struct {
	Left  Expr
	Right Expr
}

func (*AssignExpr) exprNode()        {}
func (a *AssignExpr) String() string { return fmt.Sprintf("%s = %s", a.Left, a.Right) }

//  Statement nodes

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
	Position() Pos
}

// ExprStmt evaluates X for its effects.
type ExprStmt struct {
	Pos Pos
	X   Expr
}

func (*ExprStmt) stmtNode()       {}
func (s *ExprStmt) Position() Pos { return s.Pos }

// DeclStmt declares a local variable.
type DeclStmt struct {
	Pos  Pos
	Decl *VarDecl
}

func (*DeclStmt) stmtNode()       {}
func (s *DeclStmt) Position() Pos { return s.Pos }

// ReturnStmt returns X, which may be nil.
type ReturnStmt struct {
	Pos Pos
	X   Expr
}

func (*ReturnStmt) stmtNode()       {}
func (s *ReturnStmt) Position() Pos { return s.Pos }

// IfStmt is if (Cond) Then else Else; Else may be nil.
type IfStmt struct {
	Pos  Pos
	Cond Expr
	Then *Block
	Else *Block
}

func (*IfStmt) stmtNode()       {}
func (s *IfStmt) Position() Pos { return s.Pos }

// WhileStmt is while (Cond) Body.
type WhileStmt struct {
	Pos  Pos
	Cond Expr
	Body *Block
}

func (*WhileStmt) stmtNode()       {}
func (s *WhileStmt) Position() Pos { return s.Pos }

// Block is { Stmts... }. Each block is a scope; compound literals live
// exactly as long as their block.
type Block struct {
	Pos   Pos
	Stmts []Stmt
}

func (*Block) stmtNode()       {}
func (s *Block) Position() Pos { return s.Pos }

// AsmOperand binds one expression to a constraint within an AsmStmt.
// Constraint is "=r" (output), "+r" (read-write) or "r" (input).
type AsmOperand struct {
	Constraint string
	X          Expr
}

// AsmStmt is an extended inline-assembly statement. Fragments are
// concatenated before placeholder substitution. A statement with no
// operands and no clobbers passes through verbatim.
type AsmStmt struct {
	Pos       Pos
	Fragments []string
	Outputs   []AsmOperand
	Inputs    []AsmOperand
	Clobbers  []string
}

func (*AsmStmt) stmtNode()       {}
func (s *AsmStmt) Position() Pos { return s.Pos }

//  Declarations

// StorageHint is the declared storage class.
type StorageHint int

const (
	StorageAuto StorageHint = iota
	StorageRegister
)

// VarDecl declares an object. For globals Init must be constant.
type VarDecl struct {
	Name    string
	Spec    *TypeSpec
	Init    Expr
	Storage StorageHint
}

// FieldDecl is one struct/union member.
type FieldDecl struct {
	Name string
	Spec *TypeSpec
}

// StructDecl defines a struct or union tag.
type StructDecl struct {
	Tag     string
	IsUnion bool
	Fields  []FieldDecl
}

// TypedefDecl aliases Name to Spec.
type TypedefDecl struct {
	Name string
	Spec *TypeSpec
}

// EnumConst is one enumerator; when HasValue is false the value is the
// previous value plus one (starting at zero).
type EnumConst struct {
	Name     string
	HasValue bool
	Value    int64
}

// EnumDecl defines an enumeration. Enumerators fold to int constants.
type EnumDecl struct {
	Tag    string
	Consts []EnumConst
}

// FuncDecl defines a function. Ret may be nil for void.
type FuncDecl struct {
	Name   string
	Ret    *TypeSpec
	Params []VarDecl
	Body   *Block
}

// Unit is one translation unit in source order.
type Unit struct {
	Typedefs []TypedefDecl
	Structs  []StructDecl
	Enums    []EnumDecl
	Globals  []VarDecl
	Funcs    []FuncDecl
}
