package backend

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"bankcc/pkg/ops"
)

// machine is a minimal banked-memory interpreter for the op stream, used
// only by tests. Word 0 of bank 0 is the null sentinel: touching it
// traps, as does executing a trap op. Calls are exercised structurally,
// not executed.
type machine struct {
	cfg     Config
	banks   map[int][]int64
	regs    map[ops.Reg]int64
	trapped *ops.TrapCode
	retVal  int64
	retSet  bool
}

func newMachine(cfg Config, prog *ops.Program) *machine {
	m := &machine{
		cfg:   cfg,
		banks: make(map[int][]int64),
		regs:  make(map[ops.Reg]int64),
	}
	for _, g := range prog.Globals {
		for i, w := range g.Init {
			m.write(int64(g.Bank), int64(g.Offset+i), w)
		}
	}
	return m
}

func (m *machine) bank(b int64) []int64 {
	mem, ok := m.banks[int(b)]
	if !ok {
		mem = make([]int64, m.cfg.BankWords)
		m.banks[int(b)] = mem
	}
	return mem
}

func (m *machine) checked(b, off int64) bool {
	if b == NullBank && off == 0 {
		code := ops.TrapNullDeref
		m.trapped = &code
		return false
	}
	if off < 0 || off >= int64(m.cfg.BankWords) {
		code := ops.TrapOutOfBank
		m.trapped = &code
		return false
	}
	return true
}

func (m *machine) write(b, off, v int64) {
	if m.checked(b, off) {
		m.bank(b)[off] = v & 0xFFFF
	}
}

func (m *machine) read(b, off int64) int64 {
	if !m.checked(b, off) {
		return 0
	}
	return m.bank(b)[off]
}

// readScalar composes words little-end first and sign-extends.
func (m *machine) readScalar(b, off int64, words int) int64 {
	var v int64
	for i := 0; i < words; i++ {
		v |= m.read(b, off+int64(i)) << (16 * i)
	}
	return signExtend(v, 16*words)
}

func (m *machine) writeScalar(b, off, v int64, words int) {
	for i := 0; i < words; i++ {
		m.write(b, off+int64(i), (v>>(16*i))&0xFFFF)
	}
}

func signExtend(v int64, bits int) int64 {
	if bits >= 64 {
		return v
	}
	if v&(1<<(bits-1)) != 0 {
		return v - (1 << bits)
	}
	return v
}

// run executes one function with FP at the given frame base.
func (m *machine) run(t *testing.T, fn *ops.Function) {
	t.Helper()
	labels := make(map[string]int)
	for i, op := range fn.Body {
		if l, ok := op.(ops.Label); ok {
			labels[l.Name] = i
		}
	}
	m.regs[ops.FP] = 0

	for pc := 0; pc < len(fn.Body); pc++ {
		if m.trapped != nil {
			return
		}
		switch op := fn.Body[pc].(type) {
		case ops.Label:
		case ops.LoadImm:
			m.regs[op.Dst] = op.Val
		case ops.Mov:
			m.regs[op.Dst] = m.regs[op.Src]
		case ops.ALU:
			m.regs[op.Dst] = alu(op.Op, m.regs[op.A], m.regs[op.B])
		case ops.Un:
			m.regs[op.Dst] = unop(op.Op, m.regs[op.A])
		case ops.Load:
			m.regs[op.Dst] = m.readScalar(m.regs[op.Bank], m.regs[op.Off], op.Words)
		case ops.Store:
			m.writeScalar(m.regs[op.Bank], m.regs[op.Off], m.regs[op.Src], op.Words)
		case ops.LoadPair:
			b, off := m.regs[op.Bank], m.regs[op.Off]
			m.regs[op.DstBank] = m.read(b, off)
			m.regs[op.DstOff] = m.read(b, off+1)
		case ops.StorePair:
			b, off := m.regs[op.Bank], m.regs[op.Off]
			m.write(b, off, m.regs[op.SrcBank])
			m.write(b, off+1, m.regs[op.SrcOff])
		case ops.Jump:
			pc = labels[op.Target]
		case ops.JumpZero:
			if m.regs[op.Cond] == 0 {
				pc = labels[op.Target]
			}
		case ops.Trap:
			code := op.Code
			m.trapped = &code
			return
		case ops.Ret:
			if op.Src != ops.NoReg {
				m.retVal = m.regs[op.Src]
				m.retSet = true
			}
			return
		case ops.AsmText:
			m.runAsm(t, op.Text)
		case ops.Clobber:
			for _, r := range op.Regs {
				m.regs[r] = 0x7EAD
			}
		case ops.Call:
			t.Fatalf("machine does not execute calls (op %d: %s)", pc, op)
		default:
			t.Fatalf("machine cannot execute op %d: %s", pc, fn.Body[pc])
		}
	}
}

// runAsm understands just enough of the target mnemonics for the inline
// assembly tests: ADD/SUB/MOV/LDI over register names.
func (m *machine) runAsm(t *testing.T, text string) {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		mnemonic, rest, _ := strings.Cut(line, " ")
		var args []string
		for _, a := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(a))
		}
		switch strings.ToUpper(mnemonic) {
		case "ADD":
			m.asmSet(t, args[0], m.asmGet(t, args[1])+m.asmGet(t, args[2]))
		case "SUB":
			m.asmSet(t, args[0], m.asmGet(t, args[1])-m.asmGet(t, args[2]))
		case "MOV":
			m.asmSet(t, args[0], m.asmGet(t, args[1]))
		case "LDI":
			v, err := strconv.ParseInt(args[1], 0, 64)
			if err != nil {
				t.Fatalf("bad asm immediate in %q", line)
			}
			m.asmSet(t, args[0], v)
		default:
			t.Fatalf("machine cannot execute asm %q", line)
		}
	}
}

func (m *machine) asmGet(t *testing.T, name string) int64 {
	t.Helper()
	return m.regs[parseReg(t, name)]
}

func (m *machine) asmSet(t *testing.T, name string, v int64) {
	t.Helper()
	m.regs[parseReg(t, name)] = v
}

func parseReg(t *testing.T, name string) ops.Reg {
	t.Helper()
	if name == "fp" {
		return ops.FP
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "r"))
	if err != nil {
		t.Fatalf("bad register name %q", name)
	}
	return ops.Reg(n)
}

func alu(op ops.ALUOp, a, b int64) int64 {
	boolTo := func(c bool) int64 {
		if c {
			return 1
		}
		return 0
	}
	switch op {
	case ops.Add:
		return a + b
	case ops.Sub:
		return a - b
	case ops.Mul:
		return a * b
	case ops.Div:
		if b == 0 {
			return 0
		}
		return a / b
	case ops.UDiv:
		if b == 0 {
			return 0
		}
		return int64(uint64(a) / uint64(b))
	case ops.Mod:
		if b == 0 {
			return 0
		}
		return a % b
	case ops.UMod:
		if b == 0 {
			return 0
		}
		return int64(uint64(a) % uint64(b))
	case ops.Shl:
		return a << uint(b)
	case ops.Shr:
		return a >> uint(b)
	case ops.UShr:
		return int64(uint64(a) >> uint(b))
	case ops.And:
		return a & b
	case ops.Or:
		return a | b
	case ops.Xor:
		return a ^ b
	case ops.Eq:
		return boolTo(a == b)
	case ops.Ne:
		return boolTo(a != b)
	case ops.Lt:
		return boolTo(a < b)
	case ops.Le:
		return boolTo(a <= b)
	case ops.Gt:
		return boolTo(a > b)
	case ops.Ge:
		return boolTo(a >= b)
	case ops.ULt:
		return boolTo(uint64(a) < uint64(b))
	case ops.ULe:
		return boolTo(uint64(a) <= uint64(b))
	case ops.UGt:
		return boolTo(uint64(a) > uint64(b))
	case ops.UGe:
		return boolTo(uint64(a) >= uint64(b))
	}
	return 0
}

func unop(op ops.UnOp, a int64) int64 {
	switch op {
	case ops.Neg:
		return -a
	case ops.BitNot:
		return ^a
	case ops.LogNot:
		if a == 0 {
			return 1
		}
		return 0
	}
	return 0
}

// compileMain lowers a unit and fails the test on any diagnostics.
func compileMain(t *testing.T, u *Unit) (*ops.Program, Config) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BankWords = 4096
	prog, errs := Compile(u, cfg)
	if len(errs) > 0 {
		t.Fatalf("Compile failed: %v", errs)
	}
	return prog, cfg
}

// runMain compiles the unit and executes its main function, returning the
// machine for inspection.
func runMain(t *testing.T, u *Unit) *machine {
	t.Helper()
	prog, cfg := compileMain(t, u)
	fn := prog.Func("main")
	if fn == nil {
		t.Fatal("no main function in program")
	}
	m := newMachine(cfg, prog)
	m.run(t, fn)
	return m
}

// returned asserts main ran to completion and returned a value.
func (m *machine) returned(t *testing.T) int64 {
	t.Helper()
	if m.trapped != nil {
		t.Fatalf("execution trapped: %s", *m.trapped)
	}
	if !m.retSet {
		t.Fatal("main did not return a value")
	}
	return m.retVal
}

func (m *machine) String() string {
	return fmt.Sprintf("machine{ret=%d trapped=%v}", m.retVal, m.trapped)
}
