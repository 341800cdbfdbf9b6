package backend

import (
	"fmt"
	"sort"
	"strings"

	"bankcc/pkg/ops"
)

// Memory model: bank 1 is the stack bank; globals fill banks starting at
// GlobalBank. Word 0 of the global bank is reserved so that no object ever
// sits at (0,0), the null sentinel.
const (
	NullBank   = 0
	StackBank  = 1
	GlobalBank = 0
)

// LocKind discriminates storage locations.
type LocKind int

const (
	LocGlobal LocKind = iota // fixed (bank, offset)
	LocStack                 // word offset from the frame base
	LocReg                   // register-resident scalar
)

// StorageLocation is where a declared object lives. It is assigned at
// declaration and immutable afterwards.
type StorageLocation struct {
	Kind   LocKind
	Bank   int     // LocGlobal
	Offset int     // LocGlobal: in-bank; LocStack: from frame base
	Reg    ops.Reg // LocReg
}

func (l StorageLocation) String() string {
	switch l.Kind {
	case LocGlobal:
		return fmt.Sprintf("%d:%d", l.Bank, l.Offset)
	case LocStack:
		return fmt.Sprintf("fp+%d", l.Offset)
	default:
		return l.Reg.String()
	}
}

// Symbol binds a name to its type and storage for the symbol's lifetime.
type Symbol struct {
	Name string
	Type *Type
	Loc  StorageLocation
}

// BankCursor is the monotonic (bank, offset) allocation state for static
// storage. It is threaded explicitly through the allocator so tests can
// run it in isolation. When an object does not fit in the rest of the
// current bank the cursor advances to the next bank, never landing on the
// stack bank; an object wider than a whole bank, or using more than
// MaxBanks static banks, is a fatal AllocError.
type BankCursor struct {
	Bank      int
	Offset    int
	BankWords int
	MaxBanks  int

	used int // static banks consumed so far
}

func NewBankCursor(bankWords, maxBanks int) *BankCursor {
	// Offset 1: keep (0,0) free for the null sentinel.
	return &BankCursor{Bank: GlobalBank, Offset: 1, BankWords: bankWords, MaxBanks: maxBanks, used: 1}
}

// Alloc reserves words of static storage and returns its placement.
func (c *BankCursor) Alloc(words int) (bank, offset int, err error) {
	if words > c.BankWords {
		return 0, 0, &AllocError{Words: words, Bank: c.Bank}
	}
	if c.Offset+words > c.BankWords {
		c.Bank++
		if c.Bank == StackBank {
			c.Bank++
		}
		c.Offset = 0
		c.used++
	}
	if c.used > c.MaxBanks {
		return 0, 0, &AllocError{Words: words, Bank: c.Bank}
	}
	bank, offset = c.Bank, c.Offset
	c.Offset += words
	return bank, offset, nil
}

// maxRegisterVars bounds how many register-class scalars a function may
// hold at once; the rest fall back to the stack.
const maxRegisterVars = 4

// SymbolTable maps names to Symbols. Globals are append-only across the
// whole unit; locals live in a scope stack reset per function. Frame
// offsets grow monotonically from the frame base, so recursion works off
// a per-activation frame pointer.
type SymbolTable struct {
	globals map[string]*Symbol
	funcs   map[string]*FuncDecl

	locals    []map[string]*Symbol
	marks     []int // frameNext at each scope entry
	frameNext int
	frameHigh int
	regVars   int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		globals: make(map[string]*Symbol),
		funcs:   make(map[string]*FuncDecl),
	}
}

// DefineGlobal reserves static storage for name via the cursor.
func (s *SymbolTable) DefineGlobal(name string, typ *Type, cursor *BankCursor) (*Symbol, error) {
	if sym, ok := s.globals[name]; ok {
		return sym, nil
	}
	bank, offset, err := cursor.Alloc(typ.Words)
	if err != nil {
		return nil, err
	}
	sym := &Symbol{
		Name: name,
		Type: typ,
		Loc:  StorageLocation{Kind: LocGlobal, Bank: bank, Offset: offset},
	}
	s.globals[name] = sym
	return sym, nil
}

// DefineFunc records a function signature for call lowering.
func (s *SymbolTable) DefineFunc(d *FuncDecl) { s.funcs[d.Name] = d }

func (s *SymbolTable) Func(name string) (*FuncDecl, bool) {
	d, ok := s.funcs[name]
	return d, ok
}

// EnterFunction resets the local scope stack and the frame cursor.
func (s *SymbolTable) EnterFunction() {
	s.locals = []map[string]*Symbol{make(map[string]*Symbol)}
	s.marks = nil
	s.frameNext = 0
	s.frameHigh = 0
	s.regVars = 0
}

func (s *SymbolTable) ExitFunction() { s.locals = nil }

func (s *SymbolTable) EnterScope() {
	if len(s.locals) == 0 {
		panic("EnterScope called outside function")
	}
	s.locals = append(s.locals, make(map[string]*Symbol))
	s.marks = append(s.marks, s.frameNext)
}

// ExitScope drops the innermost scope. Its stack words are conceptually
// freed; the frame cursor rewinds so sibling blocks reuse the space.
func (s *SymbolTable) ExitScope() {
	if len(s.locals) > 1 {
		scope := s.locals[len(s.locals)-1]
		for _, sym := range scope {
			if sym.Loc.Kind == LocReg {
				s.regVars--
			}
		}
		s.locals = s.locals[:len(s.locals)-1]
		s.frameNext = s.marks[len(s.marks)-1]
		s.marks = s.marks[:len(s.marks)-1]
	}
}

// DefineLocal reserves frame words for name in the current scope. A
// register-hinted scalar may land in a register instead; arrays and
// structs never do.
func (s *SymbolTable) DefineLocal(name string, typ *Type, storage StorageHint) *Symbol {
	if len(s.locals) == 0 {
		panic("DefineLocal called outside function")
	}
	scope := s.locals[len(s.locals)-1]
	if sym, ok := scope[name]; ok {
		return sym
	}

	var loc StorageLocation
	if storage == StorageRegister && typ.Kind == KindScalar && s.regVars < maxRegisterVars {
		loc = StorageLocation{Kind: LocReg, Reg: ops.Reg(ops.NumScratch + s.regVars)}
		s.regVars++
	} else {
		loc = StorageLocation{Kind: LocStack, Offset: s.frameNext}
		s.frameNext += typ.Words
		if s.frameNext > s.frameHigh {
			s.frameHigh = s.frameNext
		}
	}
	sym := &Symbol{Name: name, Type: typ, Loc: loc}
	scope[name] = sym
	return sym
}

// AllocTemp reserves anonymous frame words (compound literals, spilled
// aggregates). The words belong to the current scope.
func (s *SymbolTable) AllocTemp(typ *Type) StorageLocation {
	loc := StorageLocation{Kind: LocStack, Offset: s.frameNext}
	s.frameNext += typ.Words
	if s.frameNext > s.frameHigh {
		s.frameHigh = s.frameNext
	}
	return loc
}

// FrameWords is the high-water frame size of the current function.
func (s *SymbolTable) FrameWords() int { return s.frameHigh }

// Lookup searches scopes innermost-out, then globals.
func (s *SymbolTable) Lookup(name string) (*Symbol, bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if sym, ok := s.locals[i][name]; ok {
			return sym, true
		}
	}
	sym, ok := s.globals[name]
	return sym, ok
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	names := make([]string, 0, len(s.globals))
	for name := range s.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	sb.WriteString("Globals:\n")
	for _, name := range names {
		sym := s.globals[name]
		fmt.Fprintf(&sb, "  %-20s %s  %s\n", name, sym.Loc, sym.Type)
	}
	for i, scope := range s.locals {
		fmt.Fprintf(&sb, "Scope %d:\n", i)
		names = names[:0]
		for name := range scope {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sym := scope[name]
			fmt.Fprintf(&sb, "  %-20s %s  %s\n", name, sym.Loc, sym.Type)
		}
	}
	return sb.String()
}
