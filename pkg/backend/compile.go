package backend

import (
	"fmt"

	"bankcc/pkg/ops"
)

// Config fixes the memory geometry for one compilation.
type Config struct {
	BankWords int // addressable words per bank
	MaxBanks  int // banks available for static storage
	DataBank  int // bank forced onto integer-to-pointer casts
}

func DefaultConfig() Config {
	return Config{BankWords: 1 << 15, MaxBanks: 16, DataBank: GlobalBank}
}

// Compile lowers one translation unit. Globals are resolved and allocated
// in source order first, so function bodies see every global's type and
// location; each function is then fully lowered before the next begins.
//
// A resolution error skips its declaration, a lowering error skips its
// statement, and compilation continues; an allocation error is fatal and
// stops the unit.
func Compile(u *Unit, cfg Config) (*ops.Program, []error) {
	res := NewResolver()
	for _, td := range u.Typedefs {
		res.AddTypedef(td)
	}
	for _, sd := range u.Structs {
		res.AddStruct(sd)
	}
	for _, ed := range u.Enums {
		res.AddEnum(ed)
	}

	syms := NewSymbolTable()
	cursor := NewBankCursor(cfg.BankWords, cfg.MaxBanks)
	prog := &ops.Program{}
	lo := newLowerer(res, syms, cursor, cfg, prog)

	var errs []error
	for _, g := range u.Globals {
		typ, err := res.Resolve(g.Spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sym, err := syms.DefineGlobal(g.Name, typ, cursor)
		if err != nil {
			// Bank space exhausted: fatal, never silently wrapped.
			errs = append(errs, err)
			return prog, errs
		}
		init, err := lo.foldGlobalInit(typ, g.Init)
		if err != nil {
			errs = append(errs, fmt.Errorf("global %s: %w", g.Name, err))
			continue
		}
		prog.Globals = append(prog.Globals, ops.GlobalDef{
			Name:   g.Name,
			Bank:   sym.Loc.Bank,
			Offset: sym.Loc.Offset,
			Words:  typ.Words,
			Init:   init,
		})
	}

	for i := range u.Funcs {
		syms.DefineFunc(&u.Funcs[i])
	}
	for i := range u.Funcs {
		fn, ferrs := lo.lowerFunction(&u.Funcs[i])
		errs = append(errs, ferrs...)
		prog.Funcs = append(prog.Funcs, fn)
	}
	return prog, errs
}

// foldGlobalInit evaluates a static initializer down to word data.
// Scalars split into 16-bit words, low word first; pointer constants
// contribute their bank word then their offset word. nil means
// zero-initialized.
func (lo *Lowerer) foldGlobalInit(typ *Type, init Expr) ([]int64, error) {
	if init == nil {
		return nil, nil
	}
	words := make([]int64, typ.Words)
	if err := lo.foldInto(words, 0, typ, init); err != nil {
		return nil, err
	}
	return words, nil
}

func (lo *Lowerer) foldInto(words []int64, at int, typ *Type, init Expr) error {
	switch typ.Kind {
	case KindScalar:
		v, ok := lo.evalConst(init)
		if !ok {
			return fmt.Errorf("initializer %s is not constant", init)
		}
		for i := 0; i < typ.Words; i++ {
			words[at+i] = (v >> (16 * i)) & 0xFFFF
		}
		return nil

	case KindPointer:
		bank, offset, err := lo.constAddress(init)
		if err != nil {
			return err
		}
		words[at] = bank
		words[at+1] = offset
		return nil

	case KindArray:
		switch in := init.(type) {
		case *InitList:
			if len(in.Elems) > typ.Count {
				return fmt.Errorf("too many initializers for %s", typ)
			}
			for i, el := range in.Elems {
				if err := lo.foldInto(words, at+i*typ.Elem.Words, typ.Elem, el); err != nil {
					return err
				}
			}
			return nil
		case *StrLit:
			if typ.Elem.Words != CharWords || len(in.Value)+1 > typ.Words {
				return fmt.Errorf("bad string initializer for %s", typ)
			}
			for i, b := range []byte(in.Value) {
				words[at+i] = int64(b)
			}
			return nil
		}
		return fmt.Errorf("initializer %s is not constant", init)

	case KindStruct, KindUnion:
		in, ok := init.(*InitList)
		if !ok {
			return fmt.Errorf("initializer %s is not constant", init)
		}
		if len(in.Elems) > len(typ.Fields) {
			return fmt.Errorf("too many initializers for %s", typ)
		}
		for i, el := range in.Elems {
			f := typ.Fields[i]
			if err := lo.foldInto(words, at+f.Offset, f.Type, el); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot statically initialize %s", typ)
}

// constAddress folds an address constant: the null constant 0, &global,
// a string literal, or a global array (which decays).
func (lo *Lowerer) constAddress(e Expr) (bank, offset int64, err error) {
	switch n := e.(type) {
	case *IntLit:
		if n.Value == 0 {
			return NullBank, 0, nil
		}
	case *CastExpr:
		return lo.constAddress(n.Operand)
	case *StrLit:
		loc := lo.internString(n.Value)
		return int64(loc.Bank), int64(loc.Offset), nil
	case *UnaryExpr:
		if n.Op == OpAddr {
			if vr, ok := n.Operand.(*VarRef); ok {
				if sym, found := lo.syms.Lookup(vr.Name); found && sym.Loc.Kind == LocGlobal {
					return int64(sym.Loc.Bank), int64(sym.Loc.Offset), nil
				}
			}
		}
	case *VarRef:
		if sym, found := lo.syms.Lookup(n.Name); found && sym.Loc.Kind == LocGlobal && sym.Type.Kind == KindArray {
			return int64(sym.Loc.Bank), int64(sym.Loc.Offset), nil
		}
	}
	return 0, 0, fmt.Errorf("initializer %s is not an address constant", e)
}

// evalConst folds an integer constant expression.
func (lo *Lowerer) evalConst(e Expr) (int64, bool) {
	switch n := e.(type) {
	case *IntLit:
		return n.Value, true
	case *VarRef:
		return lo.res.EnumConst(n.Name)
	case *CastExpr:
		return lo.evalConst(n.Operand)
	case *SizeofExpr:
		if n.Spec == nil {
			return 0, false
		}
		t, err := lo.res.Resolve(n.Spec)
		if err != nil {
			return 0, false
		}
		return int64(t.Words), true
	case *UnaryExpr:
		v, ok := lo.evalConst(n.Operand)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case OpNeg:
			return -v, true
		case OpBitNot:
			return ^v, true
		case OpNot:
			if v == 0 {
				return 1, true
			}
			return 0, true
		}
		return 0, false
	case *BinaryExpr:
		a, ok := lo.evalConst(n.Left)
		if !ok {
			return 0, false
		}
		b, ok := lo.evalConst(n.Right)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case OpAdd:
			return a + b, true
		case OpSub:
			return a - b, true
		case OpMul:
			return a * b, true
		case OpDiv:
			if b == 0 {
				return 0, false
			}
			return a / b, true
		case OpMod:
			if b == 0 {
				return 0, false
			}
			return a % b, true
		case OpShl:
			return a << uint(b), true
		case OpShr:
			return a >> uint(b), true
		case OpAnd:
			return a & b, true
		case OpOr:
			return a | b, true
		case OpXor:
			return a ^ b, true
		}
		return 0, false
	}
	return 0, false
}
