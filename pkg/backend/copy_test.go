package backend

import (
	"testing"

	"bankcc/pkg/ops"
)

// opTally summarizes a function body for copy-shape assertions.
type opTally struct {
	stores      int
	pairLoads   int
	pairStores  int
	scalarWords []int // Words field of each Store, in order
}

func tally(f *ops.Function) opTally {
	var t opTally
	for _, op := range f.Body {
		switch o := op.(type) {
		case ops.Store:
			t.stores++
			t.scalarWords = append(t.scalarWords, o.Words)
		case ops.LoadPair:
			t.pairLoads++
		case ops.StorePair:
			t.pairStores++
		}
	}
	return t
}

func compileCopy(t *testing.T, structs []StructDecl, target *TypeSpec) *ops.Function {
	t.Helper()
	u := &Unit{Structs: structs, Funcs: []FuncDecl{mainFn(
		local("dst", target, nil),
		local("src", target, nil),
		stmt(assign(ref("dst"), ref("src"))),
		ret(lit(0)),
	)}}
	prog, _ := compileMain(t, u)
	return prog.Func("main")
}

func TestStructCopyMovesPointerFieldsAsPairs(t *testing.T) {
	s := StructDecl{Tag: "S", Fields: []FieldDecl{
		{Name: "a", Spec: intT()},
		{Name: "p", Spec: Ptr(intT())},
		{Name: "c", Spec: Named("long")},
	}}
	got := tally(compileCopy(t, []StructDecl{s}, StructRef("S")))

	if got.pairLoads != 1 || got.pairStores != 1 {
		t.Errorf("pointer field moved with %d ldp / %d stp, want 1 / 1", got.pairLoads, got.pairStores)
	}
	if got.stores != 2 {
		t.Fatalf("scalar fields produced %d stores, want 2", got.stores)
	}
	if got.scalarWords[0] != 2 || got.scalarWords[1] != 4 {
		t.Errorf("scalar store widths %v, want [2 4]", got.scalarWords)
	}
}

func TestCopyRecursesThroughNestedAggregates(t *testing.T) {
	inner := StructDecl{Tag: "In", Fields: []FieldDecl{
		{Name: "p", Spec: Ptr(intT())},
	}}
	outer := StructDecl{Tag: "Out", Fields: []FieldDecl{
		{Name: "in", Spec: ArrayOf(2, StructRef("In"))},
		{Name: "v", Spec: intT()},
	}}
	got := tally(compileCopy(t, []StructDecl{inner, outer}, StructRef("Out")))

	// One pair move per buried pointer, one scalar move for v.
	if got.pairLoads != 2 || got.pairStores != 2 {
		t.Errorf("nested pointers moved with %d ldp / %d stp, want 2 / 2", got.pairLoads, got.pairStores)
	}
	if got.stores != 1 || got.scalarWords[0] != 2 {
		t.Errorf("got %d scalar stores %v, want one 2-word store", got.stores, got.scalarWords)
	}
}

func TestArrayOfPointersCopiesElementWise(t *testing.T) {
	got := tally(compileCopy(t, nil, ArrayOf(3, Ptr(intT()))))
	if got.pairLoads != 3 || got.pairStores != 3 {
		t.Errorf("moved with %d ldp / %d stp, want 3 / 3", got.pairLoads, got.pairStores)
	}
	if got.stores != 0 {
		t.Errorf("pointer array copy emitted %d scalar stores, want 0", got.stores)
	}
}

func TestUnionWithPointerMemberCopiesLeadingPair(t *testing.T) {
	u := StructDecl{Tag: "U", IsUnion: true, Fields: []FieldDecl{
		{Name: "p", Spec: Ptr(intT())},
		{Name: "l", Spec: Named("long")},
	}}
	got := tally(compileCopy(t, []StructDecl{u}, StructRef("U")))

	if got.pairLoads != 1 || got.pairStores != 1 {
		t.Errorf("leading words moved with %d ldp / %d stp, want 1 / 1", got.pairLoads, got.pairStores)
	}
	// The long's tail beyond the pointer overlap moves word by word.
	if got.stores != 2 {
		t.Fatalf("tail produced %d stores, want 2", got.stores)
	}
	for i, w := range got.scalarWords {
		if w != 1 {
			t.Errorf("tail store %d is %d words, want 1", i, w)
		}
	}
}

func TestUnionWithoutPointersCopiesWordWise(t *testing.T) {
	u := StructDecl{Tag: "V", IsUnion: true, Fields: []FieldDecl{
		{Name: "i", Spec: intT()},
		{Name: "l", Spec: Named("long")},
	}}
	got := tally(compileCopy(t, []StructDecl{u}, StructRef("V")))
	if got.pairLoads != 0 || got.pairStores != 0 {
		t.Errorf("pointer-free union used pair moves: %d ldp / %d stp", got.pairLoads, got.pairStores)
	}
	if got.stores != 4 {
		t.Errorf("4-word union produced %d stores, want 4", got.stores)
	}
}

func TestMismatchedAggregateAssignmentIsAnError(t *testing.T) {
	a := StructDecl{Tag: "A", Fields: []FieldDecl{{Name: "x", Spec: intT()}}}
	b := StructDecl{Tag: "B", Fields: []FieldDecl{{Name: "x", Spec: intT()}}}
	u := &Unit{Structs: []StructDecl{a, b}, Funcs: []FuncDecl{mainFn(
		local("dst", StructRef("A"), nil),
		local("src", StructRef("B"), nil),
		stmt(assign(ref("dst"), ref("src"))),
		ret(lit(0)),
	)}}
	_, errs := Compile(u, DefaultConfig())
	if len(errs) == 0 {
		t.Fatal("assigning struct B to struct A did not error")
	}
}
