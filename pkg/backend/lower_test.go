package backend

import (
	"strings"
	"testing"

	"bankcc/pkg/ops"
)

func countPairLoads(f *ops.Function) int {
	n := 0
	for _, op := range f.Body {
		if _, ok := op.(ops.LoadPair); ok {
			n++
		}
	}
	return n
}

func TestEveryArrowHopReloadsBothPointerWords(t *testing.T) {
	// struct Node { struct Node *next; int v; };
	node := StructDecl{Tag: "Node", Fields: []FieldDecl{
		{Name: "next", Spec: Ptr(StructRef("Node"))},
		{Name: "v", Spec: intT()},
	}}
	compile := func(final Expr) *ops.Function {
		u := &Unit{Structs: []StructDecl{node}, Funcs: []FuncDecl{mainFn(
			local("p", Ptr(StructRef("Node")), nil),
			ret(final),
		)}}
		prog, _ := compileMain(t, u)
		return prog.Func("main")
	}

	one := countPairLoads(compile(arrow(ref("p"), "v")))
	two := countPairLoads(compile(arrow(arrow(ref("p"), "next"), "v")))
	three := countPairLoads(compile(arrow(arrow(arrow(ref("p"), "next"), "next"), "v")))

	if one != 1 {
		t.Errorf("p->v emitted %d pair loads, want 1", one)
	}
	if two != one+1 || three != two+1 {
		t.Errorf("pair loads per hop chain: %d, %d, %d; want one more per hop", one, two, three)
	}
}

func TestPointerArithmeticNeverWritesTheBankRegister(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		local("p", Ptr(intT()), nil),
		local("q", Ptr(intT()), nil),
		stmt(assign(ref("q"), bin(OpAdd, ref("p"), lit(3)))),
		ret(lit(0)),
	)}}
	prog, _ := compileMain(t, u)
	body := prog.Func("main").Body

	// Between loading p and storing q, nothing may redefine the bank word.
	ldAt, stAt := -1, -1
	var bankReg ops.Reg
	for i, op := range body {
		switch o := op.(type) {
		case ops.LoadPair:
			if ldAt == -1 {
				ldAt, bankReg = i, o.DstBank
			}
		case ops.StorePair:
			stAt = i
			if o.SrcBank != bankReg {
				t.Errorf("stored bank word comes from %s, loaded into %s", o.SrcBank, bankReg)
			}
		}
	}
	if ldAt == -1 || stAt == -1 || stAt < ldAt {
		t.Fatalf("expected ldp then stp in:\n%s", prog.Func("main"))
	}
	for _, op := range body[ldAt+1 : stAt] {
		var dst ops.Reg = ops.NoReg
		switch o := op.(type) {
		case ops.ALU:
			dst = o.Dst
		case ops.Un:
			dst = o.Dst
		case ops.Mov:
			dst = o.Dst
		case ops.LoadImm:
			dst = o.Dst
		case ops.Load:
			dst = o.Dst
		}
		if dst == bankReg {
			t.Errorf("op %q overwrites the bank register %s", op, bankReg)
		}
	}
}

func TestIndexingScalesByElementWidth(t *testing.T) {
	compile := func(elem *TypeSpec) *ops.Function {
		u := &Unit{Funcs: []FuncDecl{mainFn(
			local("a", ArrayOf(3, elem), nil),
			local("i", intT(), lit(1)),
			ret(idx(ref("a"), ref("i"))),
		)}}
		prog, _ := compileMain(t, u)
		return prog.Func("main")
	}

	hasMul := func(f *ops.Function) bool {
		for _, op := range f.Body {
			if a, ok := op.(ops.ALU); ok && a.Op == ops.Mul {
				return true
			}
		}
		return false
	}
	if !hasMul(compile(Named("long"))) {
		t.Error("long a[3]: a[i] emitted no stride multiply")
	}
	if hasMul(compile(Named("char"))) {
		t.Error("char a[3]: a[i] multiplied by a stride of 1")
	}
}

func TestScratchRegisterExhaustionIsAnError(t *testing.T) {
	// A fully right-nested sum keeps every left operand live at once.
	e := lit(0)
	for i := 0; i < ops.NumScratch+2; i++ {
		e = bin(OpAdd, lit(int64(i)), e)
	}
	u := &Unit{Funcs: []FuncDecl{mainFn(ret(e))}}
	_, errs := Compile(u, DefaultConfig())
	if len(errs) == 0 {
		t.Fatal("expected an error for an over-deep expression")
	}
	if !strings.Contains(errs[0].Error(), "too complex") {
		t.Errorf("got %v, want an expression-too-complex error", errs[0])
	}
}

func TestStringLiteralsAreInternedOnce(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		local("s", Ptr(Named("char")), &StrLit{Value: "hi"}),
		local("u", Ptr(Named("char")), &StrLit{Value: "hi"}),
		local("v", Ptr(Named("char")), &StrLit{Value: "ho"}),
		ret(lit(0)),
	)}}
	prog, _ := compileMain(t, u)

	var pool []ops.GlobalDef
	for _, g := range prog.Globals {
		if strings.HasPrefix(g.Name, "str$") {
			pool = append(pool, g)
		}
	}
	if len(pool) != 2 {
		t.Fatalf("interned %d string globals, want 2:\n%v", len(pool), pool)
	}
	want := []int64{'h', 'i', 0}
	if len(pool[0].Init) != len(want) {
		t.Fatalf("string data %v, want %v", pool[0].Init, want)
	}
	for i, w := range want {
		if pool[0].Init[i] != w {
			t.Fatalf("string data %v, want %v", pool[0].Init, want)
		}
	}
}

func TestLocalDeclarationsReserveFrameWords(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		local("a", intT(), nil),
		local("b", Named("long"), nil),
		local("p", Ptr(intT()), nil),
		ret(lit(0)),
	)}}
	prog, _ := compileMain(t, u)
	if got := prog.Func("main").FrameWords; got != 8 {
		t.Errorf("FrameWords = %d, want 8 (2+4+2)", got)
	}
}

func TestLoweringErrorsCarryPositions(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		&ExprStmt{Pos: Pos{Line: 4, Col: 9}, X: assign(ref("ghost"), lit(1))},
		ret(lit(0)),
	)}}
	_, errs := Compile(u, DefaultConfig())
	if len(errs) == 0 {
		t.Fatal("expected an error for the undefined variable")
	}
	le, ok := errs[0].(*LowerError)
	if !ok {
		t.Fatalf("got %T, want *LowerError", errs[0])
	}
	if le.Pos.Line != 4 {
		t.Errorf("error position %d:%d, want line 4", le.Pos.Line, le.Pos.Col)
	}
}

func TestNestedBlockKeepsEveryDiagnostic(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		&Block{Stmts: []Stmt{
			stmt(assign(ref("ghost1"), lit(1))),
			stmt(assign(ref("ghost2"), lit(2))),
		}},
		ret(lit(0)),
	)}}
	_, errs := Compile(u, DefaultConfig())
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want the block's diagnostics joined as 1: %v", len(errs), errs)
	}
	msg := errs[0].Error()
	for _, name := range []string{"ghost1", "ghost2"} {
		if !strings.Contains(msg, name) {
			t.Errorf("diagnostic for %s missing from %q", name, msg)
		}
	}
}

func TestBadStatementIsSkippedUnitContinues(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		stmt(assign(ref("ghost"), lit(1))),
		ret(lit(42)),
	)}}
	prog, errs := Compile(u, DefaultConfig())
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if prog == nil || prog.Func("main") == nil {
		t.Fatal("lowering did not continue past the bad statement")
	}
	// The surviving statements still produced code.
	found := false
	for _, op := range prog.Func("main").Body {
		if r, ok := op.(ops.Ret); ok && r.Src != ops.NoReg {
			found = true
		}
	}
	if !found {
		t.Error("return after the bad statement was not lowered")
	}
}
