package backend

import (
	"errors"
	"fmt"

	"bankcc/pkg/ops"
)

// Lowerer turns one function body at a time into an abstract op stream.
// It owns a scratch-register pool and the string-literal intern table;
// the symbol table and bank cursor are shared across the unit.
type Lowerer struct {
	res    *Resolver
	syms   *SymbolTable
	cursor *BankCursor
	cfg    Config

	prog      *ops.Program
	fn        *ops.Function
	pool      regPool
	nextLabel int

	strings map[string]StorageLocation
	nextStr int
}

func newLowerer(res *Resolver, syms *SymbolTable, cursor *BankCursor, cfg Config, prog *ops.Program) *Lowerer {
	return &Lowerer{
		res:     res,
		syms:    syms,
		cursor:  cursor,
		cfg:     cfg,
		prog:    prog,
		strings: make(map[string]StorageLocation),
	}
}

// regPool hands out scratch registers r0..r9. Exhaustion is a lowering
// error ("expression too complex"), not a spill.
type regPool struct {
	used [ops.NumScratch]bool
}

func (p *regPool) get() (ops.Reg, error) {
	for i := range p.used {
		if !p.used[i] {
			p.used[i] = true
			return ops.Reg(i), nil
		}
	}
	return ops.NoReg, fmt.Errorf("expression too complex: out of scratch registers")
}

func (p *regPool) put(r ops.Reg) {
	if r >= 0 && int(r) < ops.NumScratch {
		p.used[r] = false
	}
}

// value is an expression result during lowering. Scalars occupy reg;
// pointers occupy the (bank, reg) pair and the two always travel
// together. null marks the provable null constant (0,0).
type value struct {
	typ  *Type
	reg  ops.Reg
	bank ops.Reg
	null bool
}

// address is a lowered lvalue: a (bank, off) register pair plus the type
// of the object it designates. null marks the reserved (0,0) sentinel;
// loads and stores through it become traps.
type address struct {
	bank ops.Reg
	off  ops.Reg
	typ  *Type
	null bool
}

func (lo *Lowerer) free(v value) {
	lo.pool.put(v.reg)
	if v.bank != ops.NoReg {
		lo.pool.put(v.bank)
	}
}

func (lo *Lowerer) freeAddr(a address) {
	lo.pool.put(a.bank)
	lo.pool.put(a.off)
}

// truthValue collapses a condition to one register that is zero only when
// the condition is false. Null is (0,0), so a pointer is false only when
// bank word and offset word are both zero.
func (lo *Lowerer) truthValue(v value) value {
	if v.typ.IsPointer() && v.bank != ops.NoReg {
		lo.emit(ops.ALU{Op: ops.Or, Dst: v.reg, A: v.reg, B: v.bank})
		lo.pool.put(v.bank)
		v.bank = ops.NoReg
		v.typ = typeInt
		v.null = false
	}
	return v
}

func (lo *Lowerer) emit(op ops.Op) {
	lo.fn.Body = append(lo.fn.Body, op)
}

func (lo *Lowerer) newLabel() string {
	l := fmt.Sprintf("L%d", lo.nextLabel)
	lo.nextLabel++
	return l
}

// loadImm materializes a constant in a fresh scratch register.
func (lo *Lowerer) loadImm(v int64) (ops.Reg, error) {
	r, err := lo.pool.get()
	if err != nil {
		return ops.NoReg, err
	}
	lo.emit(ops.LoadImm{Dst: r, Val: v})
	return r, nil
}

// lowerFunction lowers one function into a fresh op stream. Incoming
// arguments occupy the first frame slots in parameter order; the encoder's
// calling convention stores them there before the body runs.
func (lo *Lowerer) lowerFunction(d *FuncDecl) (*ops.Function, []error) {
	lo.fn = &ops.Function{Name: d.Name}
	lo.syms.EnterFunction()
	defer lo.syms.ExitFunction()

	var errs []error
	for _, p := range d.Params {
		typ, err := lo.res.Resolve(p.Spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		// Array parameters are pointers, as in C.
		if typ.Kind == KindArray {
			typ = PointerTo(typ.Elem)
		}
		lo.syms.DefineLocal(p.Name, typ, StorageAuto)
	}

	errs = append(errs, lo.lowerBlock(d.Body, false)...)
	lo.fn.FrameWords = lo.syms.FrameWords()
	return lo.fn, errs
}

// lowerBlock lowers the statements of a block. Each block is a scope;
// ownScope is false for the function body whose scope EnterFunction set up.
// A lowering error aborts only the statement that produced it.
func (lo *Lowerer) lowerBlock(b *Block, ownScope bool) []error {
	if ownScope {
		lo.syms.EnterScope()
		defer lo.syms.ExitScope()
	}
	var errs []error
	for _, st := range b.Stmts {
		if err := lo.lowerStmt(st); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (lo *Lowerer) lowerStmt(st Stmt) error {
	switch s := st.(type) {
	case *ExprStmt:
		v, err := lo.genExpr(s.X)
		if err != nil {
			return lo.wrap(s.Pos, err)
		}
		lo.free(v)
		return nil

	case *DeclStmt:
		return lo.wrap(s.Pos, lo.lowerLocalDecl(s.Decl))

	case *ReturnStmt:
		if s.X == nil {
			lo.emit(ops.Ret{Src: ops.NoReg, SrcBank: ops.NoReg})
			return nil
		}
		v, err := lo.genExpr(s.X)
		if err != nil {
			return lo.wrap(s.Pos, err)
		}
		lo.emit(ops.Ret{Src: v.reg, SrcBank: v.bank})
		lo.free(v)
		return nil

	case *IfStmt:
		cond, err := lo.genExpr(s.Cond)
		if err != nil {
			return lo.wrap(s.Pos, err)
		}
		cond = lo.truthValue(cond)
		elseLabel := lo.newLabel()
		lo.emit(ops.JumpZero{Cond: cond.reg, Target: elseLabel})
		lo.free(cond)
		errs := lo.lowerBlock(s.Then, true)
		if s.Else != nil {
			endLabel := lo.newLabel()
			lo.emit(ops.Jump{Target: endLabel})
			lo.emit(ops.Label{Name: elseLabel})
			errs = append(errs, lo.lowerBlock(s.Else, true)...)
			lo.emit(ops.Label{Name: endLabel})
		} else {
			lo.emit(ops.Label{Name: elseLabel})
		}
		return joinErrs(errs)

	case *WhileStmt:
		start := lo.newLabel()
		end := lo.newLabel()
		lo.emit(ops.Label{Name: start})
		cond, err := lo.genExpr(s.Cond)
		if err != nil {
			return lo.wrap(s.Pos, err)
		}
		cond = lo.truthValue(cond)
		lo.emit(ops.JumpZero{Cond: cond.reg, Target: end})
		lo.free(cond)
		errs := lo.lowerBlock(s.Body, true)
		lo.emit(ops.Jump{Target: start})
		lo.emit(ops.Label{Name: end})
		return joinErrs(errs)

	case *Block:
		return joinErrs(lo.lowerBlock(s, true))

	case *AsmStmt:
		return lo.wrap(s.Pos, lo.lowerAsm(s))
	}
	return fmt.Errorf("unsupported statement %T", st)
}

// lowerLocalDecl allocates storage for a local and lowers its initializer.
func (lo *Lowerer) lowerLocalDecl(d *VarDecl) error {
	typ, err := lo.res.Resolve(d.Spec)
	if err != nil {
		return err
	}
	sym := lo.syms.DefineLocal(d.Name, typ, d.Storage)
	if d.Init == nil {
		return nil
	}

	if typ.IsAggregate() {
		return lo.lowerAggregateInit(sym, d.Init)
	}

	v, err := lo.genExprAs(d.Init, typ)
	if err != nil {
		return err
	}
	defer lo.free(v)
	if sym.Loc.Kind == LocReg {
		lo.emit(ops.Mov{Dst: sym.Loc.Reg, Src: v.reg})
		return nil
	}
	addr, err := lo.locationAddr(sym.Loc, typ)
	if err != nil {
		return err
	}
	defer lo.freeAddr(addr)
	return lo.storeTo(addr, v)
}

// lowerAggregateInit initializes an array/struct local from an InitList, a
// string literal (char arrays), or another aggregate lvalue.
func (lo *Lowerer) lowerAggregateInit(sym *Symbol, init Expr) error {
	dst, err := lo.locationAddr(sym.Loc, sym.Type)
	if err != nil {
		return err
	}
	defer lo.freeAddr(dst)

	switch in := init.(type) {
	case *InitList:
		return lo.storeInitList(dst, sym.Type, in)
	case *StrLit:
		if sym.Type.Kind != KindArray || sym.Type.Elem.Words != CharWords {
			return fmt.Errorf("string initializer requires a char array")
		}
		loc := lo.internString(in.Value)
		src, err := lo.locationAddr(loc, sym.Type)
		if err != nil {
			return err
		}
		defer lo.freeAddr(src)
		return lo.emitCopy(dst, src, sym.Type)
	default:
		src, err := lo.genAddr(init)
		if err != nil {
			return err
		}
		defer lo.freeAddr(src)
		if !src.typ.Same(sym.Type) {
			return fmt.Errorf("cannot initialize %s from %s", sym.Type, src.typ)
		}
		return lo.emitCopy(dst, src, sym.Type)
	}
}

// storeInitList walks a brace initializer against the layout of typ,
// storing element by element. Missing trailing elements stay zero only
// for static storage; locals are left unwritten, as in C.
func (lo *Lowerer) storeInitList(dst address, typ *Type, init *InitList) error {
	switch typ.Kind {
	case KindArray:
		if len(init.Elems) > typ.Count {
			return fmt.Errorf("too many initializers for %s", typ)
		}
		for i, el := range init.Elems {
			sub, err := lo.offsetAddr(dst, i*typ.Elem.Words, typ.Elem)
			if err != nil {
				return err
			}
			err = lo.storeInitElem(sub, typ.Elem, el)
			lo.freeAddr(sub)
			if err != nil {
				return err
			}
		}
		return nil
	case KindStruct, KindUnion:
		if len(init.Elems) > len(typ.Fields) {
			return fmt.Errorf("too many initializers for %s", typ)
		}
		for i, el := range init.Elems {
			f := typ.Fields[i]
			sub, err := lo.offsetAddr(dst, f.Offset, f.Type)
			if err != nil {
				return err
			}
			err = lo.storeInitElem(sub, f.Type, el)
			lo.freeAddr(sub)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("brace initializer for non-aggregate %s", typ)
}

func (lo *Lowerer) storeInitElem(dst address, typ *Type, el Expr) error {
	if nested, ok := el.(*InitList); ok {
		return lo.storeInitList(dst, typ, nested)
	}
	if typ.IsAggregate() {
		return fmt.Errorf("missing braces around initializer for %s", typ)
	}
	v, err := lo.genExprAs(el, typ)
	if err != nil {
		return err
	}
	defer lo.free(v)
	return lo.storeTo(dst, v)
}

// locationAddr materializes a storage location as a (bank, off) register
// pair.
func (lo *Lowerer) locationAddr(loc StorageLocation, typ *Type) (address, error) {
	switch loc.Kind {
	case LocGlobal:
		bank, err := lo.loadImm(int64(loc.Bank))
		if err != nil {
			return address{}, err
		}
		off, err := lo.loadImm(int64(loc.Offset))
		if err != nil {
			lo.pool.put(bank)
			return address{}, err
		}
		return address{bank: bank, off: off, typ: typ}, nil

	case LocStack:
		bank, err := lo.loadImm(StackBank)
		if err != nil {
			return address{}, err
		}
		off, err := lo.pool.get()
		if err != nil {
			lo.pool.put(bank)
			return address{}, err
		}
		lo.emit(ops.Mov{Dst: off, Src: ops.FP})
		if loc.Offset != 0 {
			t, err := lo.loadImm(int64(loc.Offset))
			if err != nil {
				lo.pool.put(bank)
				lo.pool.put(off)
				return address{}, err
			}
			lo.emit(ops.ALU{Op: ops.Add, Dst: off, A: off, B: t})
			lo.pool.put(t)
		}
		return address{bank: bank, off: off, typ: typ}, nil
	}
	return address{}, fmt.Errorf("cannot take the address of a register variable")
}

// offsetAddr derives dst+words as a fresh address of type typ. The base
// address stays valid.
func (lo *Lowerer) offsetAddr(base address, words int, typ *Type) (address, error) {
	bank, err := lo.pool.get()
	if err != nil {
		return address{}, err
	}
	off, err := lo.pool.get()
	if err != nil {
		lo.pool.put(bank)
		return address{}, err
	}
	lo.emit(ops.Mov{Dst: bank, Src: base.bank})
	lo.emit(ops.Mov{Dst: off, Src: base.off})
	if words != 0 {
		t, err := lo.loadImm(int64(words))
		if err != nil {
			lo.pool.put(bank)
			lo.pool.put(off)
			return address{}, err
		}
		lo.emit(ops.ALU{Op: ops.Add, Dst: off, A: off, B: t})
		lo.pool.put(t)
	}
	return address{bank: bank, off: off, typ: typ, null: base.null}, nil
}

// storeTo writes v at addr. A store through the null sentinel is an
// unconditional trap; the machine has no storage there.
func (lo *Lowerer) storeTo(addr address, v value) error {
	if addr.null {
		lo.emit(ops.Trap{Code: ops.TrapNullDeref})
		return nil
	}
	if addr.typ.IsPointer() {
		bank := v.bank
		if bank == ops.NoReg {
			return fmt.Errorf("pointer store from non-pointer value")
		}
		lo.emit(ops.StorePair{SrcBank: bank, SrcOff: v.reg, Bank: addr.bank, Off: addr.off})
		return nil
	}
	lo.emit(ops.Store{Src: v.reg, Bank: addr.bank, Off: addr.off, Words: addr.typ.Words})
	return nil
}

// loadFrom reads the object at addr. Arrays are not loaded: they decay to
// a fat pointer sharing the array's own bank and base offset.
func (lo *Lowerer) loadFrom(addr address) (value, error) {
	if addr.null {
		lo.emit(ops.Trap{Code: ops.TrapNullDeref})
		r, err := lo.pool.get()
		if err != nil {
			return value{}, err
		}
		return value{typ: addr.typ, reg: r, bank: ops.NoReg}, nil
	}
	switch {
	case addr.typ.Kind == KindArray:
		return lo.decayAddr(addr)
	case addr.typ.IsPointer():
		bank, err := lo.pool.get()
		if err != nil {
			return value{}, err
		}
		off, err := lo.pool.get()
		if err != nil {
			lo.pool.put(bank)
			return value{}, err
		}
		lo.emit(ops.LoadPair{DstBank: bank, DstOff: off, Bank: addr.bank, Off: addr.off})
		return value{typ: addr.typ, reg: off, bank: bank}, nil
	case addr.typ.Kind == KindScalar:
		r, err := lo.pool.get()
		if err != nil {
			return value{}, err
		}
		lo.emit(ops.Load{Dst: r, Bank: addr.bank, Off: addr.off, Words: addr.typ.Words})
		return value{typ: addr.typ, reg: r, bank: ops.NoReg}, nil
	}
	return value{}, fmt.Errorf("%s used as a value", addr.typ)
}

// decayAddr converts an array address into a fat pointer to its first
// element: bank = the array's own bank, offset = its base offset. Exactly
// one dimension is stripped.
func (lo *Lowerer) decayAddr(addr address) (value, error) {
	bank, err := lo.pool.get()
	if err != nil {
		return value{}, err
	}
	off, err := lo.pool.get()
	if err != nil {
		lo.pool.put(bank)
		return value{}, err
	}
	lo.emit(ops.Mov{Dst: bank, Src: addr.bank})
	lo.emit(ops.Mov{Dst: off, Src: addr.off})
	return value{typ: PointerTo(addr.typ.Elem), reg: off, bank: bank}, nil
}

// internString places a string literal in static storage once per unit,
// NUL terminated, one char per word.
func (lo *Lowerer) internString(s string) StorageLocation {
	if loc, ok := lo.strings[s]; ok {
		return loc
	}
	words := len(s) + 1
	bank, offset, err := lo.cursor.Alloc(words)
	if err != nil {
		// String pool overflow surfaces on the statement using the
		// literal; place it at the sentinel so the store traps.
		bank, offset = NullBank, 0
	}
	init := make([]int64, 0, words)
	for _, b := range []byte(s) {
		init = append(init, int64(b))
	}
	init = append(init, 0)
	name := fmt.Sprintf("str$%d", lo.nextStr)
	lo.nextStr++
	lo.prog.Globals = append(lo.prog.Globals, ops.GlobalDef{
		Name: name, Bank: bank, Offset: offset, Words: words, Init: init,
	})
	loc := StorageLocation{Kind: LocGlobal, Bank: bank, Offset: offset}
	lo.strings[s] = loc
	return loc
}

func (lo *Lowerer) wrap(pos Pos, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*LowerError); ok {
		return err
	}
	return &LowerError{Pos: pos, Msg: err.Error()}
}

// joinErrs flattens a nested block's diagnostics into one error without
// dropping any of them.
func joinErrs(errs []error) error {
	return errors.Join(errs...)
}
