package backend

import (
	"encoding/json"
	"fmt"
	"io"
)

// The front end hands over one translation unit as a kind-discriminated
// JSON document. DecodeUnit is the only entry point; everything below is
// the node-by-node translation into the AST of ast.go.

// DecodeUnit reads a JSON translation unit.
func DecodeUnit(r io.Reader) (*Unit, error) {
	var raw jsonUnit
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding unit: %w", err)
	}
	return raw.toUnit()
}

type jsonUnit struct {
	Typedefs []jsonTypedef `json:"typedefs,omitempty"`
	Structs  []jsonStruct  `json:"structs,omitempty"`
	Enums    []jsonEnum    `json:"enums,omitempty"`
	Globals  []jsonVar     `json:"globals,omitempty"`
	Funcs    []jsonFunc    `json:"funcs,omitempty"`
}

type jsonTypedef struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type jsonStruct struct {
	Tag    string      `json:"tag"`
	Union  bool        `json:"union,omitempty"`
	Fields []jsonField `json:"fields"`
}

type jsonField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type jsonEnum struct {
	Tag    string          `json:"tag,omitempty"`
	Consts []jsonEnumConst `json:"consts"`
}

type jsonEnumConst struct {
	Name  string `json:"name"`
	Value *int64 `json:"value,omitempty"`
}

type jsonVar struct {
	Name    string          `json:"name"`
	Type    json.RawMessage `json:"type"`
	Init    json.RawMessage `json:"init,omitempty"`
	Storage string          `json:"storage,omitempty"`
}

type jsonFunc struct {
	Name   string            `json:"name"`
	Ret    json.RawMessage   `json:"ret,omitempty"`
	Params []jsonVar         `json:"params,omitempty"`
	Body   []json.RawMessage `json:"body"`
}

func (u *jsonUnit) toUnit() (*Unit, error) {
	out := &Unit{}
	for _, td := range u.Typedefs {
		spec, err := decodeType(td.Type)
		if err != nil {
			return nil, fmt.Errorf("typedef %s: %w", td.Name, err)
		}
		out.Typedefs = append(out.Typedefs, TypedefDecl{Name: td.Name, Spec: spec})
	}
	for _, sd := range u.Structs {
		decl := StructDecl{Tag: sd.Tag, IsUnion: sd.Union}
		for _, f := range sd.Fields {
			spec, err := decodeType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("struct %s.%s: %w", sd.Tag, f.Name, err)
			}
			decl.Fields = append(decl.Fields, FieldDecl{Name: f.Name, Spec: spec})
		}
		out.Structs = append(out.Structs, decl)
	}
	for _, ed := range u.Enums {
		decl := EnumDecl{Tag: ed.Tag}
		for _, c := range ed.Consts {
			ec := EnumConst{Name: c.Name}
			if c.Value != nil {
				ec.HasValue = true
				ec.Value = *c.Value
			}
			decl.Consts = append(decl.Consts, ec)
		}
		out.Enums = append(out.Enums, decl)
	}
	for _, g := range u.Globals {
		decl, err := decodeVar(g)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", g.Name, err)
		}
		out.Globals = append(out.Globals, *decl)
	}
	for _, f := range u.Funcs {
		fd := FuncDecl{Name: f.Name}
		if len(f.Ret) > 0 {
			ret, err := decodeType(f.Ret)
			if err != nil {
				return nil, fmt.Errorf("func %s: %w", f.Name, err)
			}
			fd.Ret = ret
		}
		for _, p := range f.Params {
			pd, err := decodeVar(p)
			if err != nil {
				return nil, fmt.Errorf("func %s param %s: %w", f.Name, p.Name, err)
			}
			fd.Params = append(fd.Params, *pd)
		}
		body := &Block{}
		for _, raw := range f.Body {
			st, err := decodeStmt(raw)
			if err != nil {
				return nil, fmt.Errorf("func %s: %w", f.Name, err)
			}
			body.Stmts = append(body.Stmts, st)
		}
		fd.Body = body
		out.Funcs = append(out.Funcs, fd)
	}
	return out, nil
}

func decodeVar(v jsonVar) (*VarDecl, error) {
	spec, err := decodeType(v.Type)
	if err != nil {
		return nil, err
	}
	decl := &VarDecl{Name: v.Name, Spec: spec}
	if v.Storage == "register" {
		decl.Storage = StorageRegister
	}
	if len(v.Init) > 0 {
		init, err := decodeExpr(v.Init)
		if err != nil {
			return nil, err
		}
		decl.Init = init
	}
	return decl, nil
}

func decodeType(raw json.RawMessage) (*TypeSpec, error) {
	var n struct {
		Kind  string          `json:"kind"`
		Name  string          `json:"name,omitempty"`
		Tag   string          `json:"tag,omitempty"`
		Count int             `json:"count,omitempty"`
		Elem  json.RawMessage `json:"elem,omitempty"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	switch n.Kind {
	case "named":
		return Named(n.Name), nil
	case "ptr":
		elem, err := decodeType(n.Elem)
		if err != nil {
			return nil, err
		}
		return Ptr(elem), nil
	case "array":
		elem, err := decodeType(n.Elem)
		if err != nil {
			return nil, err
		}
		return ArrayOf(n.Count, elem), nil
	case "struct":
		return StructRef(n.Tag), nil
	}
	return nil, fmt.Errorf("unknown type kind %q", n.Kind)
}

var binOpByName = map[string]BinOp{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpMod,
	"<<": OpShl, ">>": OpShr, "&": OpAnd, "|": OpOr, "^": OpXor,
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	"&&": OpLAnd, "||": OpLOr,
}

var unOpByName = map[string]UnOp{
	"*": OpDeref, "&": OpAddr, "-": OpNeg, "~": OpBitNot, "!": OpNot,
}

func decodeExpr(raw json.RawMessage) (Expr, error) {
	var n struct {
		Kind     string            `json:"kind"`
		Value    int64             `json:"value,omitempty"`
		Str      string            `json:"str,omitempty"`
		Unsigned bool              `json:"unsigned,omitempty"`
		Long     bool              `json:"long,omitempty"`
		Name     string            `json:"name,omitempty"`
		Op       string            `json:"op,omitempty"`
		Arrow    bool              `json:"arrow,omitempty"`
		Left     json.RawMessage   `json:"left,omitempty"`
		Right    json.RawMessage   `json:"right,omitempty"`
		Operand  json.RawMessage   `json:"operand,omitempty"`
		Base     json.RawMessage   `json:"base,omitempty"`
		Index    json.RawMessage   `json:"index,omitempty"`
		Type     json.RawMessage   `json:"type,omitempty"`
		Init     json.RawMessage   `json:"init,omitempty"`
		Args     []json.RawMessage `json:"args,omitempty"`
		Elems    []json.RawMessage `json:"elems,omitempty"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	switch n.Kind {
	case "int":
		return &IntLit{Value: n.Value, Unsigned: n.Unsigned, Long: n.Long}, nil
	case "str":
		return &StrLit{Value: n.Str}, nil
	case "var":
		return &VarRef{Name: n.Name}, nil
	case "bin":
		op, ok := binOpByName[n.Op]
		if !ok {
			return nil, fmt.Errorf("unknown binary operator %q", n.Op)
		}
		left, err := decodeExpr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(n.Right)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	case "un":
		op, ok := unOpByName[n.Op]
		if !ok {
			return nil, fmt.Errorf("unknown unary operator %q", n.Op)
		}
		operand, err := decodeExpr(n.Operand)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, Operand: operand}, nil
	case "index":
		base, err := decodeExpr(n.Base)
		if err != nil {
			return nil, err
		}
		index, err := decodeExpr(n.Index)
		if err != nil {
			return nil, err
		}
		return &IndexExpr{Base: base, Index: index}, nil
	case "member":
		base, err := decodeExpr(n.Base)
		if err != nil {
			return nil, err
		}
		return &MemberExpr{Base: base, Name: n.Name, Arrow: n.Arrow}, nil
	case "call":
		call := &CallExpr{Name: n.Name}
		for _, a := range n.Args {
			arg, err := decodeExpr(a)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	case "cast":
		spec, err := decodeType(n.Type)
		if err != nil {
			return nil, err
		}
		operand, err := decodeExpr(n.Operand)
		if err != nil {
			return nil, err
		}
		return &CastExpr{Spec: spec, Operand: operand}, nil
	case "sizeof":
		s := &SizeofExpr{}
		if len(n.Type) > 0 {
			spec, err := decodeType(n.Type)
			if err != nil {
				return nil, err
			}
			s.Spec = spec
		} else {
			operand, err := decodeExpr(n.Operand)
			if err != nil {
				return nil, err
			}
			s.Operand = operand
		}
		return s, nil
	case "initlist":
		list := &InitList{}
		for _, el := range n.Elems {
			e, err := decodeExpr(el)
			if err != nil {
				return nil, err
			}
			list.Elems = append(list.Elems, e)
		}
		return list, nil
	case "compound":
		spec, err := decodeType(n.Type)
		if err != nil {
			return nil, err
		}
		c := &CompoundLit{Spec: spec}
		if len(n.Init) > 0 {
			init, err := decodeExpr(n.Init)
			if err != nil {
				return nil, err
			}
			list, ok := init.(*InitList)
			if !ok {
				list = &InitList{Elems: []Expr{init}}
			}
			c.Init = list
		}
		return c, nil
	case "assign":
		left, err := decodeExpr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(n.Right)
		if err != nil {
			return nil, err
		}
		return &AssignExpr{Left: left, Right: right}, nil
	}
	return nil, fmt.Errorf("unknown expression kind %q", n.Kind)
}

type jsonAsmOperand struct {
	Constraint string          `json:"constraint"`
	X          json.RawMessage `json:"x"`
}

func decodeStmt(raw json.RawMessage) (Stmt, error) {
	var n struct {
		Kind      string            `json:"kind"`
		Line      int               `json:"line,omitempty"`
		Col       int               `json:"col,omitempty"`
		Name      string            `json:"name,omitempty"`
		Storage   string            `json:"storage,omitempty"`
		X         json.RawMessage   `json:"x,omitempty"`
		Type      json.RawMessage   `json:"type,omitempty"`
		Init      json.RawMessage   `json:"init,omitempty"`
		Cond      json.RawMessage   `json:"cond,omitempty"`
		Then      []json.RawMessage `json:"then,omitempty"`
		Else      []json.RawMessage `json:"else,omitempty"`
		Body      []json.RawMessage `json:"body,omitempty"`
		Stmts     []json.RawMessage `json:"stmts,omitempty"`
		Fragments []string          `json:"fragments,omitempty"`
		Outputs   []jsonAsmOperand  `json:"outputs,omitempty"`
		Inputs    []jsonAsmOperand  `json:"inputs,omitempty"`
		Clobbers  []string          `json:"clobbers,omitempty"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	pos := Pos{Line: n.Line, Col: n.Col}
	switch n.Kind {
	case "expr":
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Pos: pos, X: x}, nil
	case "decl":
		decl, err := decodeVar(jsonVar{Name: n.Name, Type: n.Type, Init: n.Init, Storage: n.Storage})
		if err != nil {
			return nil, err
		}
		return &DeclStmt{Pos: pos, Decl: decl}, nil
	case "return":
		st := &ReturnStmt{Pos: pos}
		if len(n.X) > 0 {
			x, err := decodeExpr(n.X)
			if err != nil {
				return nil, err
			}
			st.X = x
		}
		return st, nil
	case "if":
		cond, err := decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		then, err := decodeBlock(pos, n.Then)
		if err != nil {
			return nil, err
		}
		st := &IfStmt{Pos: pos, Cond: cond, Then: then}
		if n.Else != nil {
			els, err := decodeBlock(pos, n.Else)
			if err != nil {
				return nil, err
			}
			st.Else = els
		}
		return st, nil
	case "while":
		cond, err := decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(pos, n.Body)
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Pos: pos, Cond: cond, Body: body}, nil
	case "block":
		return decodeBlock(pos, n.Stmts)
	case "asm":
		st := &AsmStmt{Pos: pos, Fragments: n.Fragments, Clobbers: n.Clobbers}
		for _, o := range n.Outputs {
			x, err := decodeExpr(o.X)
			if err != nil {
				return nil, err
			}
			st.Outputs = append(st.Outputs, AsmOperand{Constraint: o.Constraint, X: x})
		}
		for _, i := range n.Inputs {
			x, err := decodeExpr(i.X)
			if err != nil {
				return nil, err
			}
			st.Inputs = append(st.Inputs, AsmOperand{Constraint: i.Constraint, X: x})
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown statement kind %q", n.Kind)
}

func decodeBlock(pos Pos, raw []json.RawMessage) (*Block, error) {
	b := &Block{Pos: pos}
	for _, r := range raw {
		st, err := decodeStmt(r)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, st)
	}
	return b, nil
}
