// Package ops defines the abstract operation stream emitted by the backend
// and consumed by an external instruction encoder. Addresses are always a
// (bank, offset) register pair; a pointer value is likewise a two-register
// pair and is moved by LoadPair/StorePair as a single unit.
package ops

import (
	"fmt"
	"io"
	"strings"
)

// Reg identifies an abstract machine register. The encoder maps these onto
// physical registers; the backend only guarantees that distinct live values
// get distinct Regs.
type Reg int

// NoReg marks an absent register operand (e.g. the bank half of a scalar
// call result).
const NoReg Reg = -1

// FP holds the current frame base offset within the stack bank.
const FP Reg = 14

// NumScratch is the number of scratch registers available to the lowerer
// and the inline-asm binder (r0..r9). r10..r13 are reserved for
// register-class variables.
const NumScratch = 10

func (r Reg) String() string {
	switch {
	case r == NoReg:
		return "_"
	case r == FP:
		return "fp"
	default:
		return fmt.Sprintf("r%d", int(r))
	}
}

// ALUOp is a two-operand arithmetic/comparison operation. Comparisons
// produce 0 or 1. The U-prefixed variants are the unsigned flavors.
type ALUOp int

const (
	Add ALUOp = iota
	Sub
	Mul
	Div
	UDiv
	Mod
	UMod
	Shl
	Shr // arithmetic shift right
	UShr
	And
	Or
	Xor
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	ULt
	ULe
	UGt
	UGe
)

var aluNames = map[ALUOp]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", UDiv: "udiv",
	Mod: "mod", UMod: "umod", Shl: "shl", Shr: "shr", UShr: "ushr",
	And: "and", Or: "or", Xor: "xor",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
	ULt: "ult", ULe: "ule", UGt: "ugt", UGe: "uge",
}

func (o ALUOp) String() string { return aluNames[o] }

// UnOp is a single-operand operation.
type UnOp int

const (
	Neg UnOp = iota
	BitNot
	LogNot
)

func (o UnOp) String() string {
	switch o {
	case Neg:
		return "neg"
	case BitNot:
		return "not"
	default:
		return "lnot"
	}
}

// TrapCode classifies an unconditional runtime fault.
type TrapCode int

const (
	TrapNullDeref TrapCode = iota
	TrapOutOfBank
)

func (c TrapCode) String() string {
	if c == TrapNullDeref {
		return "null-deref"
	}
	return "out-of-bank"
}

// Op is a single abstract operation. Everything that crosses to the encoder
// implements it.
type Op interface {
	fmt.Stringer
	opNode()
}

// LoadImm puts an immediate word value into Dst.
type LoadImm struct {
	Dst Reg
	Val int64
}

func (LoadImm) opNode()          {}
func (o LoadImm) String() string { return fmt.Sprintf("imm   %s, %d", o.Dst, o.Val) }

// Mov copies Src into Dst.
type Mov struct {
	Dst, Src Reg
}

func (Mov) opNode()          {}
func (o Mov) String() string { return fmt.Sprintf("mov   %s, %s", o.Dst, o.Src) }

// ALU computes Dst = A <Op> B.
type ALU struct {
	Op   ALUOp
	Dst  Reg
	A, B Reg
}

func (ALU) opNode() {}
func (o ALU) String() string {
	return fmt.Sprintf("%-5s %s, %s, %s", o.Op, o.Dst, o.A, o.B)
}

// Un computes Dst = <Op> A.
type Un struct {
	Op  UnOp
	Dst Reg
	A   Reg
}

func (Un) opNode()          {}
func (o Un) String() string { return fmt.Sprintf("%-5s %s, %s", o.Op, o.Dst, o.A) }

// Load reads Words consecutive words from (Bank, Off) into Dst.
// The encoder expands multi-word scalars; the pair of a fat pointer is
// never moved through Load, only through LoadPair.
type Load struct {
	Dst   Reg
	Bank  Reg
	Off   Reg
	Words int
}

func (Load) opNode() {}
func (o Load) String() string {
	return fmt.Sprintf("ld%d   %s, [%s:%s]", o.Words, o.Dst, o.Bank, o.Off)
}

// Store writes Words consecutive words from Src to (Bank, Off).
type Store struct {
	Src   Reg
	Bank  Reg
	Off   Reg
	Words int
}

func (Store) opNode() {}
func (o Store) String() string {
	return fmt.Sprintf("st%d   [%s:%s], %s", o.Words, o.Bank, o.Off, o.Src)
}

// LoadPair reads a fat pointer at (Bank, Off): the bank word into DstBank
// and the offset word into DstOff, as one indivisible operation.
type LoadPair struct {
	DstBank Reg
	DstOff  Reg
	Bank    Reg
	Off     Reg
}

func (LoadPair) opNode() {}
func (o LoadPair) String() string {
	return fmt.Sprintf("ldp   %s:%s, [%s:%s]", o.DstBank, o.DstOff, o.Bank, o.Off)
}

// StorePair writes the fat pointer (SrcBank, SrcOff) to (Bank, Off) as one
// indivisible operation.
type StorePair struct {
	SrcBank Reg
	SrcOff  Reg
	Bank    Reg
	Off     Reg
}

func (StorePair) opNode() {}
func (o StorePair) String() string {
	return fmt.Sprintf("stp   [%s:%s], %s:%s", o.Bank, o.Off, o.SrcBank, o.SrcOff)
}

// Label defines a branch target.
type Label struct {
	Name string
}

func (Label) opNode()          {}
func (o Label) String() string { return o.Name + ":" }

// Jump transfers control to Target unconditionally.
type Jump struct {
	Target string
}

func (Jump) opNode()          {}
func (o Jump) String() string { return fmt.Sprintf("jmp   %s", o.Target) }

// JumpZero transfers control to Target when Cond is zero.
type JumpZero struct {
	Cond   Reg
	Target string
}

func (JumpZero) opNode()          {}
func (o JumpZero) String() string { return fmt.Sprintf("jz    %s, %s", o.Cond, o.Target) }

// Call invokes a function. Args lists the argument registers in order; a
// fat-pointer argument occupies two adjacent entries (bank, then offset).
// The scalar result lands in Dst; a pointer result additionally fills
// DstBank. Either may be NoReg.
type Call struct {
	Name    string
	Dst     Reg
	DstBank Reg
	Args    []Reg
}

func (Call) opNode() {}
func (o Call) String() string {
	args := make([]string, len(o.Args))
	for i, a := range o.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("call  %s:%s, %s(%s)", o.DstBank, o.Dst, o.Name, strings.Join(args, ", "))
}

// Ret returns from the current function. Src/SrcBank may be NoReg for a
// void return.
type Ret struct {
	Src     Reg
	SrcBank Reg
}

func (Ret) opNode()          {}
func (o Ret) String() string { return fmt.Sprintf("ret   %s:%s", o.SrcBank, o.Src) }

// Trap is an unconditional runtime fault.
type Trap struct {
	Code TrapCode
}

func (Trap) opNode()          {}
func (o Trap) String() string { return fmt.Sprintf("trap  %s", o.Code) }

// AsmText is a verbatim assembly fragment with operand placeholders already
// substituted by register names. It crosses the boundary as opaque text.
type AsmText struct {
	Text string
}

func (AsmText) opNode()          {}
func (o AsmText) String() string { return fmt.Sprintf("asm   %q", o.Text) }

// Clobber marks registers whose contents are invalidated by a preceding
// AsmText fragment.
type Clobber struct {
	Regs []Reg
}

func (Clobber) opNode() {}
func (o Clobber) String() string {
	names := make([]string, len(o.Regs))
	for i, r := range o.Regs {
		names[i] = r.String()
	}
	return fmt.Sprintf("clob  %s", strings.Join(names, ", "))
}

// Function is the ordered op stream for one function plus its frame size.
type Function struct {
	Name       string
	FrameWords int
	Body       []Op
}

// Print writes a readable listing, one op per line.
func (f *Function) Print(w io.Writer) {
	fmt.Fprintf(w, "func %s (frame %d words):\n", f.Name, f.FrameWords)
	for i, op := range f.Body {
		if _, ok := op.(Label); ok {
			fmt.Fprintf(w, "%4d %s\n", i, op)
			continue
		}
		fmt.Fprintf(w, "%4d     %s\n", i, op)
	}
}

func (f *Function) String() string {
	var sb strings.Builder
	f.Print(&sb)
	return sb.String()
}

// GlobalDef records the placement and static initializer of one global
// object. Init is word data; len(Init) <= Words, the tail is zero.
type GlobalDef struct {
	Name   string
	Bank   int
	Offset int
	Words  int
	Init   []int64
}

func (g GlobalDef) String() string {
	return fmt.Sprintf("global %s @ %d:%d (%d words) %v", g.Name, g.Bank, g.Offset, g.Words, g.Init)
}

// Program is one lowered translation unit.
type Program struct {
	Globals []GlobalDef
	Funcs   []*Function
}

func (p *Program) Print(w io.Writer) {
	for _, g := range p.Globals {
		fmt.Fprintf(w, "%s\n", g)
	}
	for _, f := range p.Funcs {
		fmt.Fprintln(w)
		f.Print(w)
	}
}

func (p *Program) String() string {
	var sb strings.Builder
	p.Print(&sb)
	return sb.String()
}

// Func returns the function with the given name, or nil.
func (p *Program) Func(name string) *Function {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}
