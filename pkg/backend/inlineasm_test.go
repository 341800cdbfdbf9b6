package backend

import (
	"strings"
	"testing"

	"bankcc/pkg/ops"
)

func asmStmt(fragments []string, outs, ins []AsmOperand, clobbers ...string) Stmt {
	return &AsmStmt{Fragments: fragments, Outputs: outs, Inputs: ins, Clobbers: clobbers}
}

func compileAsm(t *testing.T, body ...Stmt) *ops.Function {
	t.Helper()
	u := &Unit{Funcs: []FuncDecl{mainFn(append(body, ret(lit(0)))...)}}
	prog, _ := compileMain(t, u)
	return prog.Func("main")
}

func asmTexts(f *ops.Function) []string {
	var texts []string
	for _, op := range f.Body {
		if a, ok := op.(ops.AsmText); ok {
			texts = append(texts, a.Text)
		}
	}
	return texts
}

func TestAsmWithoutOperandsPassesThroughVerbatim(t *testing.T) {
	f := compileAsm(t,
		asmStmt([]string{"HLT %0", "NOP"}, nil, nil),
	)
	texts := asmTexts(f)
	if len(texts) != 1 {
		t.Fatalf("emitted %d asm ops, want 1", len(texts))
	}
	// No constraint section: even %0 is not a placeholder here.
	if texts[0] != "HLT %0\nNOP" {
		t.Errorf("asm text %q, want fragments joined verbatim", texts[0])
	}
}

func TestAsmPlaceholdersNumberOutputsThenInputs(t *testing.T) {
	f := compileAsm(t,
		local("sum", intT(), nil),
		local("x", intT(), lit(1)),
		local("y", intT(), lit(2)),
		asmStmt([]string{"ADD %0, %1, %2"},
			[]AsmOperand{{Constraint: "=r", X: ref("sum")}},
			[]AsmOperand{{Constraint: "r", X: ref("x")}, {Constraint: "r", X: ref("y")}},
		),
	)
	texts := asmTexts(f)
	if len(texts) != 1 {
		t.Fatalf("emitted %d asm ops, want 1", len(texts))
	}
	fields := strings.FieldsFunc(texts[0], func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		t.Fatalf("substituted text %q does not have 3 operands", texts[0])
	}
	seen := map[string]bool{}
	for _, reg := range fields[1:] {
		if !strings.HasPrefix(reg, "r") {
			t.Errorf("operand %q is not a register name", reg)
		}
		if seen[reg] {
			t.Errorf("register %s bound to two operands in %q", reg, texts[0])
		}
		seen[reg] = true
	}
}

func TestAsmInputsMoveInAndOutputsMoveOut(t *testing.T) {
	// MOV %0, %1 copies x into sum through the bound registers.
	u := &Unit{Funcs: []FuncDecl{mainFn(
		local("sum", intT(), lit(0)),
		local("x", intT(), lit(17)),
		asmStmt([]string{"MOV %0, %1"},
			[]AsmOperand{{Constraint: "=r", X: ref("sum")}},
			[]AsmOperand{{Constraint: "r", X: ref("x")}},
		),
		ret(ref("sum")),
	)}}
	if got := runMain(t, u).returned(t); got != 17 {
		t.Errorf("sum = %d after MOV %%0, %%1, want 17", got)
	}
}

func TestAsmReadWriteOperandMovesBothWays(t *testing.T) {
	u := &Unit{Funcs: []FuncDecl{mainFn(
		local("v", intT(), lit(5)),
		asmStmt([]string{"ADD %0, %0, %1"},
			[]AsmOperand{{Constraint: "+r", X: ref("v")}},
			[]AsmOperand{{Constraint: "r", X: lit(3)}},
		),
		ret(ref("v")),
	)}}
	if got := runMain(t, u).returned(t); got != 8 {
		t.Errorf("v = %d after read-write add, want 8", got)
	}
}

func TestAsmDoublePercentIsLiteral(t *testing.T) {
	f := compileAsm(t,
		local("x", intT(), lit(1)),
		asmStmt([]string{"OUT %%1, %0"},
			nil,
			[]AsmOperand{{Constraint: "r", X: ref("x")}},
		),
	)
	texts := asmTexts(f)
	if len(texts) != 1 {
		t.Fatalf("emitted %d asm ops, want 1", len(texts))
	}
	if !strings.HasPrefix(texts[0], "OUT %1, ") {
		t.Errorf("asm text %q, want %%%% collapsed to a literal percent", texts[0])
	}
}

func TestAsmClobbersAreRecorded(t *testing.T) {
	f := compileAsm(t,
		local("x", intT(), lit(1)),
		asmStmt([]string{"WIPE %0"},
			nil,
			[]AsmOperand{{Constraint: "r", X: ref("x")}},
			"r5", "fp",
		),
	)
	var clob *ops.Clobber
	for _, op := range f.Body {
		if c, ok := op.(ops.Clobber); ok {
			clob = &c
		}
	}
	if clob == nil {
		t.Fatal("no clobber op emitted")
	}
	if len(clob.Regs) != 2 || clob.Regs[0] != ops.Reg(5) || clob.Regs[1] != ops.FP {
		t.Errorf("clobbers %v, want [r5 fp]", clob.Regs)
	}
}

func TestAsmOperandErrors(t *testing.T) {
	tests := []struct {
		name string
		stmt Stmt
		want string
	}{
		{
			"placeholder out of range",
			asmStmt([]string{"ADD %0, %1, %2"},
				[]AsmOperand{{Constraint: "=r", X: ref("x")}},
				[]AsmOperand{{Constraint: "r", X: ref("x")}},
			),
			"no matching operand",
		},
		{
			"unknown constraint",
			asmStmt([]string{"NOP %0"},
				nil,
				[]AsmOperand{{Constraint: "m", X: ref("x")}},
			),
			"unsupported asm constraint",
		},
		{
			"input constraint on output",
			asmStmt([]string{"NOP %0"},
				[]AsmOperand{{Constraint: "r", X: ref("x")}},
				nil,
			),
			"output operand with input constraint",
		},
		{
			"unknown clobber",
			asmStmt([]string{"NOP %0"},
				nil,
				[]AsmOperand{{Constraint: "r", X: ref("x")}},
				"q7",
			),
			"unknown clobber register",
		},
		{
			"stray percent",
			asmStmt([]string{"NOP %z"},
				nil,
				[]AsmOperand{{Constraint: "r", X: ref("x")}},
			),
			"stray %",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := &Unit{Funcs: []FuncDecl{mainFn(
				local("x", intT(), lit(0)),
				tc.stmt,
				ret(lit(0)),
			)}}
			_, errs := Compile(u, DefaultConfig())
			if len(errs) == 0 {
				t.Fatal("expected a lowering error")
			}
			if !strings.Contains(errs[0].Error(), tc.want) {
				t.Errorf("got %v, want a %q error", errs[0], tc.want)
			}
		})
	}
}
