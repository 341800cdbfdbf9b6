package backend

import (
	"fmt"
	"strconv"
	"strings"

	"bankcc/pkg/ops"
)

// The operand binder follows the GCC extended-asm shape:
//
//	asm("ADD %0, %1, %2" : "=r"(sum) : "r"(x), "r"(y) : "r5")
//
// Placeholders number outputs first, then inputs. Inputs and read-write
// operands are moved into their registers before the fragment; outputs
// and read-write operands are moved back out after it. A statement with
// no constraint section passes through verbatim.

type constraintKind int

const (
	constraintInput constraintKind = iota
	constraintOutput
	constraintInOut
)

// asmBinding is one operand bound to a physical register for the duration
// of a single inline-asm statement.
type asmBinding struct {
	kind constraintKind
	expr Expr
	reg  ops.Reg
}

func parseConstraint(s string) (constraintKind, error) {
	switch {
	case strings.HasPrefix(s, "=r"):
		return constraintOutput, nil
	case strings.HasPrefix(s, "+r"):
		return constraintInOut, nil
	case s == "r":
		return constraintInput, nil
	}
	return 0, fmt.Errorf("unsupported asm constraint %q", s)
}

func (lo *Lowerer) lowerAsm(n *AsmStmt) error {
	text := strings.Join(n.Fragments, "\n")

	if len(n.Outputs) == 0 && len(n.Inputs) == 0 && len(n.Clobbers) == 0 {
		lo.emit(ops.AsmText{Text: text})
		return nil
	}

	var bindings []asmBinding
	for _, out := range n.Outputs {
		kind, err := parseConstraint(out.Constraint)
		if err != nil {
			return err
		}
		if kind == constraintInput {
			return fmt.Errorf("output operand with input constraint %q", out.Constraint)
		}
		bindings = append(bindings, asmBinding{kind: kind, expr: out.X})
	}
	for _, in := range n.Inputs {
		kind, err := parseConstraint(in.Constraint)
		if err != nil {
			return err
		}
		if kind != constraintInput {
			return fmt.Errorf("input operand with constraint %q", in.Constraint)
		}
		bindings = append(bindings, asmBinding{kind: kind, expr: in.X})
	}

	// Bind each operand to its own register, then release everything when
	// the statement is done.
	for i := range bindings {
		r, err := lo.pool.get()
		if err != nil {
			return err
		}
		bindings[i].reg = r
	}
	defer func() {
		for _, b := range bindings {
			lo.pool.put(b.reg)
		}
	}()

	// Move-ins: inputs and read-write operands.
	for _, b := range bindings {
		if b.kind == constraintOutput {
			continue
		}
		v, err := lo.genExpr(b.expr)
		if err != nil {
			return err
		}
		if v.typ.Kind != KindScalar {
			lo.free(v)
			return fmt.Errorf("asm operand %s is not a scalar", b.expr)
		}
		lo.emit(ops.Mov{Dst: b.reg, Src: v.reg})
		lo.free(v)
	}

	substituted, err := substitutePlaceholders(text, bindings)
	if err != nil {
		return err
	}
	lo.emit(ops.AsmText{Text: substituted})

	if len(n.Clobbers) > 0 {
		regs, err := parseClobbers(n.Clobbers)
		if err != nil {
			return err
		}
		lo.emit(ops.Clobber{Regs: regs})
	}

	// Move-outs: outputs and read-write operands.
	for _, b := range bindings {
		if b.kind == constraintInput {
			continue
		}
		typ, err := lo.typeOf(b.expr)
		if err != nil {
			return err
		}
		if typ.Kind != KindScalar {
			return fmt.Errorf("asm output %s is not a scalar", b.expr)
		}
		if vr, ok := b.expr.(*VarRef); ok {
			if sym, found := lo.syms.Lookup(vr.Name); found && sym.Loc.Kind == LocReg {
				lo.emit(ops.Mov{Dst: sym.Loc.Reg, Src: b.reg})
				continue
			}
		}
		addr, err := lo.genAddr(b.expr)
		if err != nil {
			return err
		}
		err = lo.storeTo(addr, value{typ: typ, reg: b.reg, bank: ops.NoReg})
		lo.freeAddr(addr)
		if err != nil {
			return err
		}
	}
	return nil
}

// substitutePlaceholders rewrites %N tokens with register names. %% is a
// literal percent. A placeholder with no matching constraint entry is a
// lowering error.
func substitutePlaceholders(text string, bindings []asmBinding) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] != '%' {
			sb.WriteByte(text[i])
			continue
		}
		if i+1 < len(text) && text[i+1] == '%' {
			sb.WriteByte('%')
			i++
			continue
		}
		j := i + 1
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		if j == i+1 {
			return "", fmt.Errorf("stray %% in asm fragment")
		}
		idx, _ := strconv.Atoi(text[i+1 : j])
		if idx >= len(bindings) {
			return "", fmt.Errorf("asm placeholder %%%d has no matching operand", idx)
		}
		sb.WriteString(bindings[idx].reg.String())
		i = j - 1
	}
	return sb.String(), nil
}

// parseClobbers maps register names ("r3") onto the op vocabulary.
func parseClobbers(names []string) ([]ops.Reg, error) {
	regs := make([]ops.Reg, 0, len(names))
	for _, name := range names {
		if name == "fp" {
			regs = append(regs, ops.FP)
			continue
		}
		if !strings.HasPrefix(name, "r") {
			return nil, fmt.Errorf("unknown clobber register %q", name)
		}
		n, err := strconv.Atoi(name[1:])
		if err != nil || n < 0 || n >= int(ops.FP) {
			return nil, fmt.Errorf("unknown clobber register %q", name)
		}
		regs = append(regs, ops.Reg(n))
	}
	return regs, nil
}
