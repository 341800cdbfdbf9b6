package backend

import (
	"fmt"

	"bankcc/pkg/ops"
)

// The copy engine lowers aggregate assignment. It recurses over the type
// tree and emits one scalar move per leaf field and one indivisible
// pair move per pointer field. It never copies an aggregate as a flat
// word range: that could split a fat pointer's bank word from its offset
// word somewhere in the middle.

// emitCopy copies an object of type typ from src to dst. Immediately
// afterwards every pointer field of dst reaches the same object as the
// corresponding field of src.
func (lo *Lowerer) emitCopy(dst, src address, typ *Type) error {
	if dst.null || src.null {
		lo.emit(ops.Trap{Code: ops.TrapNullDeref})
		return nil
	}
	switch typ.Kind {
	case KindScalar:
		return lo.copyScalar(dst, src, typ)

	case KindPointer:
		return lo.copyPointer(dst, src)

	case KindArray:
		for i := 0; i < typ.Count; i++ {
			d, err := lo.offsetAddr(dst, i*typ.Elem.Words, typ.Elem)
			if err != nil {
				return err
			}
			s, err := lo.offsetAddr(src, i*typ.Elem.Words, typ.Elem)
			if err != nil {
				lo.freeAddr(d)
				return err
			}
			err = lo.emitCopy(d, s, typ.Elem)
			lo.freeAddr(s)
			lo.freeAddr(d)
			if err != nil {
				return err
			}
		}
		return nil

	case KindStruct:
		for _, f := range typ.Fields {
			d, err := lo.offsetAddr(dst, f.Offset, f.Type)
			if err != nil {
				return err
			}
			s, err := lo.offsetAddr(src, f.Offset, f.Type)
			if err != nil {
				lo.freeAddr(d)
				return err
			}
			err = lo.emitCopy(d, s, f.Type)
			lo.freeAddr(s)
			lo.freeAddr(d)
			if err != nil {
				return err
			}
		}
		return nil

	case KindUnion:
		return lo.copyUnion(dst, src, typ)
	}
	return fmt.Errorf("cannot copy %s", typ)
}

func (lo *Lowerer) copyScalar(dst, src address, typ *Type) error {
	r, err := lo.pool.get()
	if err != nil {
		return err
	}
	lo.emit(ops.Load{Dst: r, Bank: src.bank, Off: src.off, Words: typ.Words})
	lo.emit(ops.Store{Src: r, Bank: dst.bank, Off: dst.off, Words: typ.Words})
	lo.pool.put(r)
	return nil
}

// copyPointer moves both words of a fat pointer as one unit.
func (lo *Lowerer) copyPointer(dst, src address) error {
	bank, err := lo.pool.get()
	if err != nil {
		return err
	}
	off, err := lo.pool.get()
	if err != nil {
		lo.pool.put(bank)
		return err
	}
	lo.emit(ops.LoadPair{DstBank: bank, DstOff: off, Bank: src.bank, Off: src.off})
	lo.emit(ops.StorePair{SrcBank: bank, SrcOff: off, Bank: dst.bank, Off: dst.off})
	lo.pool.put(off)
	lo.pool.put(bank)
	return nil
}

// copyUnion copies the overlapping storage of a union. When any member is
// a pointer, the first two words move as a pair so an active pointer
// member survives intact; any remaining words move singly.
func (lo *Lowerer) copyUnion(dst, src address, typ *Type) error {
	start := 0
	if unionHoldsPointer(typ) {
		if err := lo.copyPointer(dst, src); err != nil {
			return err
		}
		start = PointerWords
	}
	for w := start; w < typ.Words; w++ {
		d, err := lo.offsetAddr(dst, w, typeChar)
		if err != nil {
			return err
		}
		s, err := lo.offsetAddr(src, w, typeChar)
		if err != nil {
			lo.freeAddr(d)
			return err
		}
		err = lo.copyScalar(d, s, typeChar)
		lo.freeAddr(s)
		lo.freeAddr(d)
		if err != nil {
			return err
		}
	}
	return nil
}

func unionHoldsPointer(typ *Type) bool {
	for _, f := range typ.Fields {
		if f.Type.IsPointer() {
			return true
		}
	}
	return false
}
