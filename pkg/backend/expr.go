package backend

import (
	"fmt"

	"bankcc/pkg/ops"
)

// genExpr evaluates e into scratch registers. Pointers occupy a register
// pair; the caller owns the result and frees it with lo.free.
func (lo *Lowerer) genExpr(e Expr) (value, error) {
	switch n := e.(type) {
	case *IntLit:
		r, err := lo.loadImm(n.Value)
		if err != nil {
			return value{}, err
		}
		return value{typ: litType(n), reg: r, bank: ops.NoReg}, nil

	case *StrLit:
		loc := lo.internString(n.Value)
		arr := MakeArray(typeChar, len(n.Value)+1)
		addr, err := lo.locationAddr(loc, arr)
		if err != nil {
			return value{}, err
		}
		defer lo.freeAddr(addr)
		return lo.decayAddr(addr)

	case *VarRef:
		if v, ok := lo.res.EnumConst(n.Name); ok {
			r, err := lo.loadImm(v)
			if err != nil {
				return value{}, err
			}
			return value{typ: typeInt, reg: r, bank: ops.NoReg}, nil
		}
		sym, ok := lo.syms.Lookup(n.Name)
		if !ok {
			return value{}, &UndefinedTypeError{Name: n.Name}
		}
		if sym.Loc.Kind == LocReg {
			r, err := lo.pool.get()
			if err != nil {
				return value{}, err
			}
			lo.emit(ops.Mov{Dst: r, Src: sym.Loc.Reg})
			return value{typ: sym.Type, reg: r, bank: ops.NoReg}, nil
		}
		addr, err := lo.locationAddr(sym.Loc, sym.Type)
		if err != nil {
			return value{}, err
		}
		defer lo.freeAddr(addr)
		return lo.loadFrom(addr)

	case *UnaryExpr:
		return lo.genUnary(n)

	case *BinaryExpr:
		return lo.genBinary(n)

	case *IndexExpr, *MemberExpr, *CompoundLit:
		addr, err := lo.genAddr(e)
		if err != nil {
			return value{}, err
		}
		defer lo.freeAddr(addr)
		return lo.loadFrom(addr)

	case *CallExpr:
		return lo.genCall(n)

	case *CastExpr:
		return lo.genCast(n)

	case *SizeofExpr:
		typ, err := lo.sizeofType(n)
		if err != nil {
			return value{}, err
		}
		r, err := lo.loadImm(int64(typ.Words))
		if err != nil {
			return value{}, err
		}
		return value{typ: typeInt, reg: r, bank: ops.NoReg}, nil

	case *AssignExpr:
		return lo.genAssign(n)
	}
	return value{}, fmt.Errorf("unsupported expression %T", e)
}

// genExprAs evaluates e and converts the result to want. The integer
// constant 0 converts to the null pointer (0,0); other integers reach a
// pointer type only through an explicit cast.
func (lo *Lowerer) genExprAs(e Expr, want *Type) (value, error) {
	if want.IsPointer() {
		if lit, ok := e.(*IntLit); ok && lit.Value == 0 {
			return lo.nullPointer(want)
		}
	}
	v, err := lo.genExpr(e)
	if err != nil {
		return value{}, err
	}
	return lo.convert(v, want)
}

// convert retags v as want. Pointer-to-pointer conversions keep both
// words untouched; scalar width changes are the encoder's concern.
func (lo *Lowerer) convert(v value, want *Type) (value, error) {
	switch {
	case want.IsPointer() && v.typ.IsPointer():
		v.typ = want
		return v, nil
	case want.IsPointer():
		return value{}, fmt.Errorf("cannot convert %s to %s without a cast", v.typ, want)
	case v.typ.IsPointer():
		return value{}, fmt.Errorf("cannot convert %s to %s without a cast", v.typ, want)
	case want.Kind == KindScalar && v.typ.Kind == KindScalar:
		v.typ = want
		return v, nil
	}
	return value{}, fmt.Errorf("cannot convert %s to %s", v.typ, want)
}

// nullPointer builds the (0,0) sentinel value.
func (lo *Lowerer) nullPointer(typ *Type) (value, error) {
	bank, err := lo.loadImm(NullBank)
	if err != nil {
		return value{}, err
	}
	off, err := lo.loadImm(0)
	if err != nil {
		lo.pool.put(bank)
		return value{}, err
	}
	return value{typ: typ, reg: off, bank: bank, null: true}, nil
}

// genAddr lowers an lvalue expression into a (bank, off) address pair.
func (lo *Lowerer) genAddr(e Expr) (address, error) {
	switch n := e.(type) {
	case *VarRef:
		sym, ok := lo.syms.Lookup(n.Name)
		if !ok {
			return address{}, &UndefinedTypeError{Name: n.Name}
		}
		return lo.locationAddr(sym.Loc, sym.Type)

	case *StrLit:
		loc := lo.internString(n.Value)
		return lo.locationAddr(loc, MakeArray(typeChar, len(n.Value)+1))

	case *UnaryExpr:
		if n.Op != OpDeref {
			return address{}, fmt.Errorf("expression %s is not an lvalue", e)
		}
		v, err := lo.genExpr(n.Operand)
		if err != nil {
			return address{}, err
		}
		if !v.typ.IsPointer() {
			lo.free(v)
			return address{}, fmt.Errorf("cannot dereference non-pointer %s", v.typ)
		}
		return address{bank: v.bank, off: v.reg, typ: v.typ.Pointee, null: v.null}, nil

	case *IndexExpr:
		return lo.genIndexAddr(n)

	case *MemberExpr:
		return lo.genMemberAddr(n)

	case *CompoundLit:
		return lo.genCompoundLit(n)
	}
	return address{}, fmt.Errorf("expression %s is not an lvalue", e)
}

// genIndexAddr lowers base[i]. The base decays to a fat pointer; only the
// offset word is adjusted, by i times the element width. The bank word
// passes through untouched.
func (lo *Lowerer) genIndexAddr(n *IndexExpr) (address, error) {
	base, err := lo.genExpr(n.Base)
	if err != nil {
		return address{}, err
	}
	if !base.typ.IsPointer() {
		lo.free(base)
		return address{}, fmt.Errorf("cannot index non-pointer %s", base.typ)
	}
	elem := base.typ.Pointee

	idx, err := lo.genExpr(n.Index)
	if err != nil {
		lo.free(base)
		return address{}, err
	}
	if elem.Words != 1 {
		stride, err := lo.loadImm(int64(elem.Words))
		if err != nil {
			lo.free(base)
			lo.free(idx)
			return address{}, err
		}
		lo.emit(ops.ALU{Op: ops.Mul, Dst: idx.reg, A: idx.reg, B: stride})
		lo.pool.put(stride)
	}
	lo.emit(ops.ALU{Op: ops.Add, Dst: base.reg, A: base.reg, B: idx.reg})
	lo.free(idx)
	return address{bank: base.bank, off: base.reg, typ: elem, null: base.null}, nil
}

// genMemberAddr lowers a.b and p->q. A dot step adds the field offset
// within the current bank. An arrow step first reloads the full fat
// pointer, bank word and offset word together, and only then applies the
// field offset relative to the freshly loaded bank.
func (lo *Lowerer) genMemberAddr(n *MemberExpr) (address, error) {
	var base address
	if n.Arrow {
		v, err := lo.genExpr(n.Base)
		if err != nil {
			return address{}, err
		}
		if !v.typ.IsPointer() {
			lo.free(v)
			return address{}, fmt.Errorf("-> on non-pointer %s", v.typ)
		}
		base = address{bank: v.bank, off: v.reg, typ: v.typ.Pointee, null: v.null}
	} else {
		var err error
		base, err = lo.genAddr(n.Base)
		if err != nil {
			return address{}, err
		}
	}

	if base.typ.Kind != KindStruct && base.typ.Kind != KindUnion {
		lo.freeAddr(base)
		return address{}, fmt.Errorf("member access on non-struct %s", base.typ)
	}
	f, ok := base.typ.Field(n.Name)
	if !ok {
		lo.freeAddr(base)
		return address{}, fmt.Errorf("%s has no member %q", base.typ, n.Name)
	}
	if f.Offset != 0 {
		t, err := lo.loadImm(int64(f.Offset))
		if err != nil {
			lo.freeAddr(base)
			return address{}, err
		}
		lo.emit(ops.ALU{Op: ops.Add, Dst: base.off, A: base.off, B: t})
		lo.pool.put(t)
	}
	base.typ = f.Type
	return base, nil
}

// genCompoundLit gives a compound literal automatic storage in the
// enclosing block and initializes it in place. A pointer to it outliving
// the block dangles; that is the documented boundary, not an error.
func (lo *Lowerer) genCompoundLit(n *CompoundLit) (address, error) {
	typ, err := lo.res.Resolve(n.Spec)
	if err != nil {
		return address{}, err
	}
	loc := lo.syms.AllocTemp(typ)
	addr, err := lo.locationAddr(loc, typ)
	if err != nil {
		return address{}, err
	}
	if n.Init != nil {
		if typ.IsAggregate() {
			if err := lo.storeInitList(addr, typ, n.Init); err != nil {
				lo.freeAddr(addr)
				return address{}, err
			}
		} else if len(n.Init.Elems) == 1 {
			if err := lo.storeInitElem(addr, typ, n.Init.Elems[0]); err != nil {
				lo.freeAddr(addr)
				return address{}, err
			}
		}
	}
	return addr, nil
}

func (lo *Lowerer) genUnary(n *UnaryExpr) (value, error) {
	switch n.Op {
	case OpDeref:
		addr, err := lo.genAddr(n)
		if err != nil {
			return value{}, err
		}
		defer lo.freeAddr(addr)
		return lo.loadFrom(addr)

	case OpAddr:
		addr, err := lo.genAddr(n.Operand)
		if err != nil {
			return value{}, err
		}
		return value{typ: PointerTo(addr.typ), reg: addr.off, bank: addr.bank}, nil

	case OpNeg, OpBitNot, OpNot:
		v, err := lo.genExpr(n.Operand)
		if err != nil {
			return value{}, err
		}
		if n.Op == OpNot {
			v = lo.truthValue(v)
		}
		if v.typ.Kind != KindScalar {
			lo.free(v)
			return value{}, fmt.Errorf("unary %s on %s", n.Op, v.typ)
		}
		op := map[UnOp]ops.UnOp{OpNeg: ops.Neg, OpBitNot: ops.BitNot, OpNot: ops.LogNot}[n.Op]
		lo.emit(ops.Un{Op: op, Dst: v.reg, A: v.reg})
		if n.Op == OpNot {
			v.typ = typeInt
		}
		return v, nil
	}
	return value{}, fmt.Errorf("unsupported unary operator %s", n.Op)
}

func (lo *Lowerer) genBinary(n *BinaryExpr) (value, error) {
	if n.Op == OpLAnd || n.Op == OpLOr {
		return lo.genLogical(n)
	}

	// A 0 literal compared against a pointer is the null constant, so
	// p == 0 and p != 0 compare both words against the (0,0) sentinel.
	if n.Op == OpEq || n.Op == OpNe {
		if lt, err := lo.typeOf(n.Left); err == nil && lt.IsPointer() && isZeroLit(n.Right) {
			left, err := lo.genExpr(n.Left)
			if err != nil {
				return value{}, err
			}
			right, err := lo.nullPointer(lt)
			if err != nil {
				lo.free(left)
				return value{}, err
			}
			return lo.genPointerPair(n.Op, left, right)
		}
		if rt, err := lo.typeOf(n.Right); err == nil && rt.IsPointer() && isZeroLit(n.Left) {
			left, err := lo.nullPointer(rt)
			if err != nil {
				return value{}, err
			}
			right, err := lo.genExpr(n.Right)
			if err != nil {
				lo.free(left)
				return value{}, err
			}
			return lo.genPointerPair(n.Op, left, right)
		}
	}

	left, err := lo.genExpr(n.Left)
	if err != nil {
		return value{}, err
	}
	right, err := lo.genExpr(n.Right)
	if err != nil {
		lo.free(left)
		return value{}, err
	}

	switch {
	case left.typ.IsPointer() && right.typ.Kind == KindScalar:
		if n.Op != OpAdd && n.Op != OpSub {
			lo.free(left)
			lo.free(right)
			return value{}, fmt.Errorf("invalid pointer operation %s", n.Op)
		}
		return lo.genPointerStep(left, right, n.Op == OpSub)

	case right.typ.IsPointer() && left.typ.Kind == KindScalar && n.Op == OpAdd:
		return lo.genPointerStep(right, left, false)

	case left.typ.IsPointer() && right.typ.IsPointer():
		return lo.genPointerPair(n.Op, left, right)
	}

	if left.typ.Kind != KindScalar || right.typ.Kind != KindScalar {
		lo.free(left)
		lo.free(right)
		return value{}, fmt.Errorf("invalid operands %s and %s to %s", left.typ, right.typ, n.Op)
	}

	rt := arithType(left.typ, right.typ)
	op, ok := scalarALUOp(n.Op, rt.Unsigned)
	if !ok {
		lo.free(left)
		lo.free(right)
		return value{}, fmt.Errorf("unsupported operator %s", n.Op)
	}
	lo.emit(ops.ALU{Op: op, Dst: left.reg, A: left.reg, B: right.reg})
	lo.free(right)
	if isComparison(n.Op) {
		rt = typeInt
	}
	left.typ = rt
	return left, nil
}

// genPointerStep lowers p±n: the offset word moves by n times the pointee
// width; the bank word passes through unchanged.
func (lo *Lowerer) genPointerStep(p, n value, sub bool) (value, error) {
	stride := p.typ.Pointee.Words
	if stride != 1 {
		s, err := lo.loadImm(int64(stride))
		if err != nil {
			lo.free(p)
			lo.free(n)
			return value{}, err
		}
		lo.emit(ops.ALU{Op: ops.Mul, Dst: n.reg, A: n.reg, B: s})
		lo.pool.put(s)
	}
	op := ops.Add
	if sub {
		op = ops.Sub
	}
	lo.emit(ops.ALU{Op: op, Dst: p.reg, A: p.reg, B: n.reg})
	lo.free(n)
	p.null = false
	return p, nil
}

// genPointerPair lowers pointer-pointer operations. Subtraction is
// defined only within one bank and divides the offset difference by the
// element width. Equality compares both words; ordering compares offsets.
func (lo *Lowerer) genPointerPair(op BinOp, left, right value) (value, error) {
	switch op {
	case OpSub:
		lo.emit(ops.ALU{Op: ops.Sub, Dst: left.reg, A: left.reg, B: right.reg})
		elem := left.typ.Pointee.Words
		if elem != 1 {
			s, err := lo.loadImm(int64(elem))
			if err != nil {
				lo.free(left)
				lo.free(right)
				return value{}, err
			}
			lo.emit(ops.ALU{Op: ops.Div, Dst: left.reg, A: left.reg, B: s})
			lo.pool.put(s)
		}
		lo.free(right)
		lo.pool.put(left.bank)
		return value{typ: typeInt, reg: left.reg, bank: ops.NoReg}, nil

	case OpEq, OpNe:
		// Both words participate: two pointers are equal only when bank
		// and offset both match.
		lo.emit(ops.ALU{Op: ops.Eq, Dst: left.bank, A: left.bank, B: right.bank})
		lo.emit(ops.ALU{Op: ops.Eq, Dst: left.reg, A: left.reg, B: right.reg})
		lo.emit(ops.ALU{Op: ops.And, Dst: left.reg, A: left.reg, B: left.bank})
		if op == OpNe {
			lo.emit(ops.Un{Op: ops.LogNot, Dst: left.reg, A: left.reg})
		}
		lo.free(right)
		lo.pool.put(left.bank)
		return value{typ: typeInt, reg: left.reg, bank: ops.NoReg}, nil

	case OpLt, OpLe, OpGt, OpGe:
		aluOp, _ := scalarALUOp(op, true)
		lo.emit(ops.ALU{Op: aluOp, Dst: left.reg, A: left.reg, B: right.reg})
		lo.free(right)
		lo.pool.put(left.bank)
		return value{typ: typeInt, reg: left.reg, bank: ops.NoReg}, nil
	}
	lo.free(left)
	lo.free(right)
	return value{}, fmt.Errorf("invalid pointer operation %s", op)
}

// genLogical lowers && and || with short-circuit evaluation.
func (lo *Lowerer) genLogical(n *BinaryExpr) (value, error) {
	result, err := lo.pool.get()
	if err != nil {
		return value{}, err
	}
	end := lo.newLabel()

	left, err := lo.genExpr(n.Left)
	if err != nil {
		lo.pool.put(result)
		return value{}, err
	}
	left = lo.truthValue(left)
	lo.emit(ops.Un{Op: ops.LogNot, Dst: left.reg, A: left.reg})
	lo.emit(ops.Un{Op: ops.LogNot, Dst: left.reg, A: left.reg})
	lo.emit(ops.Mov{Dst: result, Src: left.reg})
	if n.Op == OpLAnd {
		lo.emit(ops.JumpZero{Cond: left.reg, Target: end})
	} else {
		shortcut := lo.newLabel()
		lo.emit(ops.JumpZero{Cond: left.reg, Target: shortcut})
		lo.emit(ops.Jump{Target: end})
		lo.emit(ops.Label{Name: shortcut})
	}
	lo.free(left)

	right, err := lo.genExpr(n.Right)
	if err != nil {
		lo.pool.put(result)
		return value{}, err
	}
	right = lo.truthValue(right)
	lo.emit(ops.Un{Op: ops.LogNot, Dst: right.reg, A: right.reg})
	lo.emit(ops.Un{Op: ops.LogNot, Dst: right.reg, A: right.reg})
	lo.emit(ops.Mov{Dst: result, Src: right.reg})
	lo.free(right)
	lo.emit(ops.Label{Name: end})
	return value{typ: typeInt, reg: result, bank: ops.NoReg}, nil
}

// genCall lowers a function call. Fat-pointer arguments contribute their
// bank and offset registers as adjacent entries, in that order.
func (lo *Lowerer) genCall(n *CallExpr) (value, error) {
	decl, ok := lo.syms.Func(n.Name)
	if !ok {
		return value{}, &UndefinedTypeError{Name: n.Name}
	}
	if len(n.Args) != len(decl.Params) {
		return value{}, fmt.Errorf("%s expects %d arguments, got %d", n.Name, len(decl.Params), len(n.Args))
	}

	var args []ops.Reg
	var argVals []value
	freeArgs := func() {
		for _, av := range argVals {
			lo.free(av)
		}
	}
	for i, a := range n.Args {
		want, err := lo.res.Resolve(decl.Params[i].Spec)
		if err != nil {
			freeArgs()
			return value{}, err
		}
		if want.Kind == KindArray {
			want = PointerTo(want.Elem)
		}
		v, err := lo.genExprAs(a, want)
		if err != nil {
			freeArgs()
			return value{}, err
		}
		argVals = append(argVals, v)
		if v.bank != ops.NoReg {
			args = append(args, v.bank)
		}
		args = append(args, v.reg)
	}

	var ret *Type
	if decl.Ret != nil {
		t, err := lo.res.Resolve(decl.Ret)
		if err != nil {
			freeArgs()
			return value{}, err
		}
		ret = t
	}

	call := ops.Call{Name: n.Name, Dst: ops.NoReg, DstBank: ops.NoReg, Args: args}
	var out value
	if ret != nil {
		dst, err := lo.pool.get()
		if err != nil {
			freeArgs()
			return value{}, err
		}
		call.Dst = dst
		out = value{typ: ret, reg: dst, bank: ops.NoReg}
		if ret.IsPointer() {
			bank, err := lo.pool.get()
			if err != nil {
				lo.pool.put(dst)
				freeArgs()
				return value{}, err
			}
			call.DstBank = bank
			out.bank = bank
		}
	} else {
		dst, err := lo.pool.get()
		if err != nil {
			freeArgs()
			return value{}, err
		}
		call.Dst = ops.NoReg
		out = value{typ: typeInt, reg: dst, bank: ops.NoReg}
	}
	lo.emit(call)
	for _, av := range argVals {
		lo.free(av)
	}
	return out, nil
}

// genCast lowers (T)x. Pointer-to-pointer casts reinterpret: both words
// pass through unchanged. An integer becomes a pointer by supplying the
// offset word and forcing the default data bank, except when the integer
// provably came from a pointer-to-integer cast, which round-trips both
// words so equality tests hold.
func (lo *Lowerer) genCast(n *CastExpr) (value, error) {
	target, err := lo.res.Resolve(n.Spec)
	if err != nil {
		return value{}, err
	}

	if target.IsPointer() {
		if lit, ok := n.Operand.(*IntLit); ok && lit.Value == 0 {
			return lo.nullPointer(target)
		}
		if orig := pointerOrigin(n.Operand); orig != nil {
			if ot, err := lo.typeOf(orig); err == nil && ot.IsPointer() {
				v, err := lo.genExpr(orig)
				if err != nil {
					return value{}, err
				}
				v.typ = target
				return v, nil
			}
		}
		v, err := lo.genExpr(n.Operand)
		if err != nil {
			return value{}, err
		}
		if v.typ.IsPointer() {
			v.typ = target
			return v, nil
		}
		if v.typ.Kind != KindScalar {
			lo.free(v)
			return value{}, fmt.Errorf("cannot cast %s to %s", v.typ, target)
		}
		bank, err := lo.loadImm(int64(lo.cfg.DataBank))
		if err != nil {
			lo.free(v)
			return value{}, err
		}
		return value{typ: target, reg: v.reg, bank: bank}, nil
	}

	v, err := lo.genExpr(n.Operand)
	if err != nil {
		return value{}, err
	}
	if v.typ.IsPointer() {
		// Pointer to integer keeps the offset word; the bank word is
		// dropped here and only recovered by a round-trip cast.
		lo.pool.put(v.bank)
		return value{typ: target, reg: v.reg, bank: ops.NoReg}, nil
	}
	if v.typ.Kind != KindScalar || target.Kind != KindScalar {
		lo.free(v)
		return value{}, fmt.Errorf("cannot cast %s to %s", v.typ, target)
	}
	v.typ = target
	return v, nil
}

// pointerOrigin unwraps integer casts down to a pointer-typed expression,
// if the value syntactically round-trips one. Returns nil otherwise.
func pointerOrigin(e Expr) Expr {
	c, ok := e.(*CastExpr)
	if !ok || c.Spec.Kind != SpecNamed {
		return nil
	}
	switch inner := c.Operand.(type) {
	case *CastExpr:
		return pointerOrigin(inner)
	default:
		return c.Operand
	}
}

// genAssign lowers Left = Right. Aggregates route through the copy
// engine; pointer stores move both words as one unit.
func (lo *Lowerer) genAssign(n *AssignExpr) (value, error) {
	lt, err := lo.typeOf(n.Left)
	if err != nil {
		return value{}, err
	}

	if lt.IsAggregate() {
		dst, err := lo.genAddr(n.Left)
		if err != nil {
			return value{}, err
		}
		src, err := lo.genAddr(n.Right)
		if err != nil {
			lo.freeAddr(dst)
			return value{}, err
		}
		if !src.typ.Same(lt) {
			lo.freeAddr(dst)
			lo.freeAddr(src)
			return value{}, fmt.Errorf("cannot assign %s to %s", src.typ, lt)
		}
		err = lo.emitCopy(dst, src, lt)
		lo.freeAddr(src)
		lo.freeAddr(dst)
		if err != nil {
			return value{}, err
		}
		r, err := lo.pool.get()
		if err != nil {
			return value{}, err
		}
		return value{typ: lt, reg: r, bank: ops.NoReg}, nil
	}

	// Register-resident scalars have no address; move directly.
	if vr, ok := n.Left.(*VarRef); ok {
		if sym, found := lo.syms.Lookup(vr.Name); found && sym.Loc.Kind == LocReg {
			v, err := lo.genExprAs(n.Right, lt)
			if err != nil {
				return value{}, err
			}
			lo.emit(ops.Mov{Dst: sym.Loc.Reg, Src: v.reg})
			return v, nil
		}
	}

	v, err := lo.genExprAs(n.Right, lt)
	if err != nil {
		return value{}, err
	}
	addr, err := lo.genAddr(n.Left)
	if err != nil {
		lo.free(v)
		return value{}, err
	}
	if err := lo.storeTo(addr, v); err != nil {
		lo.freeAddr(addr)
		lo.free(v)
		return value{}, err
	}
	lo.freeAddr(addr)
	return v, nil
}

// sizeofType resolves the static type sizeof measures. The operand
// expression is never lowered, so side effects inside sizeof do not
// happen.
func (lo *Lowerer) sizeofType(n *SizeofExpr) (*Type, error) {
	if n.Spec != nil {
		return lo.res.Resolve(n.Spec)
	}
	return lo.typeOf(n.Operand)
}

// typeOf computes the static type of an expression without emitting ops.
// It mirrors genExpr's typing exactly.
func (lo *Lowerer) typeOf(e Expr) (*Type, error) {
	switch n := e.(type) {
	case *IntLit:
		return litType(n), nil
	case *StrLit:
		return MakeArray(typeChar, len(n.Value)+1), nil
	case *VarRef:
		if _, ok := lo.res.EnumConst(n.Name); ok {
			return typeInt, nil
		}
		sym, ok := lo.syms.Lookup(n.Name)
		if !ok {
			return nil, &UndefinedTypeError{Name: n.Name}
		}
		return sym.Type, nil
	case *UnaryExpr:
		switch n.Op {
		case OpDeref:
			t, err := lo.typeOf(n.Operand)
			if err != nil {
				return nil, err
			}
			t = decayType(t)
			if !t.IsPointer() {
				return nil, fmt.Errorf("cannot dereference non-pointer %s", t)
			}
			return t.Pointee, nil
		case OpAddr:
			t, err := lo.typeOf(n.Operand)
			if err != nil {
				return nil, err
			}
			return PointerTo(t), nil
		case OpNot:
			return typeInt, nil
		default:
			return lo.typeOf(n.Operand)
		}
	case *BinaryExpr:
		if isComparison(n.Op) || n.Op == OpLAnd || n.Op == OpLOr {
			return typeInt, nil
		}
		lt, err := lo.typeOf(n.Left)
		if err != nil {
			return nil, err
		}
		rt, err := lo.typeOf(n.Right)
		if err != nil {
			return nil, err
		}
		lt, rt = decayType(lt), decayType(rt)
		switch {
		case lt.IsPointer() && rt.IsPointer():
			return typeInt, nil // pointer difference
		case lt.IsPointer():
			return lt, nil
		case rt.IsPointer():
			return rt, nil
		}
		return arithType(lt, rt), nil
	case *IndexExpr:
		t, err := lo.typeOf(n.Base)
		if err != nil {
			return nil, err
		}
		t = decayType(t)
		if !t.IsPointer() {
			return nil, fmt.Errorf("cannot index non-pointer %s", t)
		}
		return t.Pointee, nil
	case *MemberExpr:
		t, err := lo.typeOf(n.Base)
		if err != nil {
			return nil, err
		}
		if n.Arrow {
			if !t.IsPointer() {
				return nil, fmt.Errorf("-> on non-pointer %s", t)
			}
			t = t.Pointee
		}
		if t.Kind != KindStruct && t.Kind != KindUnion {
			return nil, fmt.Errorf("member access on non-struct %s", t)
		}
		f, ok := t.Field(n.Name)
		if !ok {
			return nil, fmt.Errorf("%s has no member %q", t, n.Name)
		}
		return f.Type, nil
	case *CallExpr:
		decl, ok := lo.syms.Func(n.Name)
		if !ok {
			return nil, &UndefinedTypeError{Name: n.Name}
		}
		if decl.Ret == nil {
			return typeInt, nil
		}
		return lo.res.Resolve(decl.Ret)
	case *CastExpr:
		return lo.res.Resolve(n.Spec)
	case *SizeofExpr:
		return typeInt, nil
	case *CompoundLit:
		return lo.res.Resolve(n.Spec)
	case *AssignExpr:
		return lo.typeOf(n.Left)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func isZeroLit(e Expr) bool {
	lit, ok := e.(*IntLit)
	return ok && lit.Value == 0
}

func litType(n *IntLit) *Type {
	switch {
	case n.Long && n.Unsigned:
		return typeULong
	case n.Long:
		return typeLong
	case n.Unsigned:
		return typeUInt
	default:
		return typeInt
	}
}

// decayType is the type-level image of array decay: one dimension turns
// into a pointer to the element type.
func decayType(t *Type) *Type {
	if t.Kind == KindArray {
		return PointerTo(t.Elem)
	}
	return t
}

// arithType picks the usual-arithmetic result: the wider operand wins,
// unsignedness is contagious.
func arithType(a, b *Type) *Type {
	words := a.Words
	if b.Words > words {
		words = b.Words
	}
	unsigned := a.Unsigned || b.Unsigned
	switch {
	case words >= LongWords && unsigned:
		return typeULong
	case words >= LongWords:
		return typeLong
	case unsigned:
		return typeUInt
	default:
		return typeInt
	}
}

func isComparison(op BinOp) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// scalarALUOp maps a source operator onto the ALU vocabulary, picking the
// unsigned flavor where the operation is sign-sensitive.
func scalarALUOp(op BinOp, unsigned bool) (ops.ALUOp, bool) {
	type pair struct{ s, u ops.ALUOp }
	table := map[BinOp]pair{
		OpAdd: {ops.Add, ops.Add},
		OpSub: {ops.Sub, ops.Sub},
		OpMul: {ops.Mul, ops.Mul},
		OpDiv: {ops.Div, ops.UDiv},
		OpMod: {ops.Mod, ops.UMod},
		OpShl: {ops.Shl, ops.Shl},
		OpShr: {ops.Shr, ops.UShr},
		OpAnd: {ops.And, ops.And},
		OpOr:  {ops.Or, ops.Or},
		OpXor: {ops.Xor, ops.Xor},
		OpEq:  {ops.Eq, ops.Eq},
		OpNe:  {ops.Ne, ops.Ne},
		OpLt:  {ops.Lt, ops.ULt},
		OpLe:  {ops.Le, ops.ULe},
		OpGt:  {ops.Gt, ops.UGt},
		OpGe:  {ops.Ge, ops.UGe},
	}
	p, ok := table[op]
	if !ok {
		return 0, false
	}
	if unsigned {
		return p.u, true
	}
	return p.s, true
}
