package backend

import (
	"fmt"
	"strings"
)

// All sizes are counted in 16-bit machine words. A pointer is always two
// words: one bank selector plus one in-bank offset, moved together.
const (
	CharWords    = 1
	IntWords     = 2
	LongWords    = 4
	PointerWords = 2
)

// TypeKind discriminates canonical types.
type TypeKind int

const (
	KindScalar TypeKind = iota
	KindPointer
	KindArray
	KindStruct
	KindUnion
)

// Type is a fully resolved, fully laid out type descriptor. Instances are
// immutable after resolution and may be shared.
type Type struct {
	Kind     TypeKind
	Name     string // builtin name or struct/union tag, for diagnostics
	Words    int
	Unsigned bool // scalars only

	Pointee *Type // KindPointer

	Elem  *Type // KindArray
	Count int   // KindArray

	Fields []FieldLayout // KindStruct, KindUnion
}

// FieldLayout places one member at a word offset from the start of its
// aggregate. Union members all sit at offset 0.
type FieldLayout struct {
	Name   string
	Type   *Type
	Offset int
}

var (
	typeChar  = &Type{Kind: KindScalar, Name: "char", Words: CharWords}
	typeUChar = &Type{Kind: KindScalar, Name: "unsigned char", Words: CharWords, Unsigned: true}
	typeInt   = &Type{Kind: KindScalar, Name: "int", Words: IntWords}
	typeUInt  = &Type{Kind: KindScalar, Name: "unsigned int", Words: IntWords, Unsigned: true}
	typeLong  = &Type{Kind: KindScalar, Name: "long", Words: LongWords}
	typeULong = &Type{Kind: KindScalar, Name: "unsigned long", Words: LongWords, Unsigned: true}
)

var builtins = map[string]*Type{
	"char":           typeChar,
	"signed char":    typeChar,
	"unsigned char":  typeUChar,
	"int":            typeInt,
	"signed int":     typeInt,
	"unsigned int":   typeUInt,
	"unsigned":       typeUInt,
	"long":           typeLong,
	"signed long":    typeLong,
	"unsigned long":  typeULong,
	"short":          typeInt,
	"unsigned short": typeUInt,
}

// PointerTo builds the pointer type to t.
func PointerTo(t *Type) *Type {
	return &Type{Kind: KindPointer, Words: PointerWords, Pointee: t}
}

// MakeArray builds the array type of count elements of elem.
func MakeArray(elem *Type, count int) *Type {
	return &Type{Kind: KindArray, Words: elem.Words * count, Elem: elem, Count: count}
}

// IsAggregate reports whether t is copied by the copy engine rather than
// through a register.
func (t *Type) IsAggregate() bool {
	return t.Kind == KindArray || t.Kind == KindStruct || t.Kind == KindUnion
}

// IsPointer reports whether values of t are fat pointers.
func (t *Type) IsPointer() bool { return t.Kind == KindPointer }

// Field returns the layout of the named member.
func (t *Type) Field(name string) (FieldLayout, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

// Offsetof returns the word offset of the named member.
func (t *Type) Offsetof(name string) (int, bool) {
	f, ok := t.Field(name)
	return f.Offset, ok
}

func (t *Type) String() string {
	switch t.Kind {
	case KindScalar:
		return t.Name
	case KindPointer:
		return "*" + t.Pointee.String()
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Count, t.Elem)
	case KindUnion:
		return "union " + t.Name
	default:
		return "struct " + t.Name
	}
}

// Same reports structural identity. Struct and union types resolve to
// shared instances, so pointer comparison suffices for them.
func (t *Type) Same(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil || t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindScalar:
		return t.Words == o.Words && t.Unsigned == o.Unsigned
	case KindPointer:
		return t.Pointee.Same(o.Pointee)
	case KindArray:
		return t.Count == o.Count && t.Elem.Same(o.Elem)
	}
	return false
}

// Resolver turns TypeSpec trees into canonical Types, chasing typedef
// chains and laying out struct/union tags on first use. Struct types are
// cached so every reference to a tag shares one descriptor.
type Resolver struct {
	typedefs map[string]*TypeSpec
	structs  map[string]*StructDecl
	enums    map[string]int64

	cache     map[string]*Type // resolved struct/union tags
	resolving map[string]bool  // tags and typedef names currently being resolved
}

func NewResolver() *Resolver {
	return &Resolver{
		typedefs:  make(map[string]*TypeSpec),
		structs:   make(map[string]*StructDecl),
		enums:     make(map[string]int64),
		cache:     make(map[string]*Type),
		resolving: make(map[string]bool),
	}
}

func (r *Resolver) AddTypedef(d TypedefDecl) {
	r.typedefs[d.Name] = d.Spec
}

func (r *Resolver) AddStruct(d StructDecl) {
	decl := d
	r.structs[d.Tag] = &decl
}

// AddEnum registers an enumeration; each enumerator becomes an int
// constant visible to the lowerer.
func (r *Resolver) AddEnum(d EnumDecl) {
	next := int64(0)
	for _, c := range d.Consts {
		if c.HasValue {
			next = c.Value
		}
		r.enums[c.Name] = next
		next++
	}
}

// EnumConst returns the folded value of an enumerator.
func (r *Resolver) EnumConst(name string) (int64, bool) {
	v, ok := r.enums[name]
	return v, ok
}

// Resolve canonicalizes spec. Undefined names yield UndefinedTypeError;
// typedef or struct cycles with no intervening pointer yield
// RecursiveTypeError.
func (r *Resolver) Resolve(spec *TypeSpec) (*Type, error) {
	return r.resolve(spec, false)
}

func (r *Resolver) resolve(spec *TypeSpec, viaPointer bool) (*Type, error) {
	switch spec.Kind {
	case SpecNamed:
		if t, ok := builtins[normalizeName(spec.Name)]; ok {
			return t, nil
		}
		if td, ok := r.typedefs[spec.Name]; ok {
			if r.resolving[spec.Name] {
				return nil, &RecursiveTypeError{Name: spec.Name}
			}
			r.resolving[spec.Name] = true
			t, err := r.resolve(td, viaPointer)
			delete(r.resolving, spec.Name)
			return t, err
		}
		return nil, &UndefinedTypeError{Name: spec.Name}

	case SpecPtr:
		pointee, err := r.resolve(spec.Elem, true)
		if err != nil {
			return nil, err
		}
		return PointerTo(pointee), nil

	case SpecArray:
		elem, err := r.resolve(spec.Elem, false)
		if err != nil {
			return nil, err
		}
		return MakeArray(elem, spec.Count), nil

	case SpecStruct:
		return r.resolveStruct(spec.Name, viaPointer)
	}
	return nil, fmt.Errorf("malformed type expression %v", spec)
}

// resolveStruct lays out a tag on first use. While a tag is mid-layout it
// may be referenced through a pointer (the cached, still-incomplete
// instance is shared); a direct member of itself is structural recursion.
func (r *Resolver) resolveStruct(tag string, viaPointer bool) (*Type, error) {
	if t, ok := r.cache[tag]; ok {
		if r.resolving[tag] && !viaPointer {
			return nil, &RecursiveTypeError{Name: tag}
		}
		return t, nil
	}
	decl, ok := r.structs[tag]
	if !ok {
		return nil, &UndefinedTypeError{Name: tag}
	}

	t := &Type{Kind: KindStruct, Name: tag}
	if decl.IsUnion {
		t.Kind = KindUnion
	}
	r.cache[tag] = t
	r.resolving[tag] = true
	defer delete(r.resolving, tag)

	offset := 0
	size := 0
	for _, f := range decl.Fields {
		ft, err := r.resolve(f.Spec, false)
		if err != nil {
			delete(r.cache, tag)
			return nil, err
		}
		if decl.IsUnion {
			// All members at offset 0; size is the widest member.
			t.Fields = append(t.Fields, FieldLayout{Name: f.Name, Type: ft})
			if ft.Words > size {
				size = ft.Words
			}
			continue
		}
		t.Fields = append(t.Fields, FieldLayout{Name: f.Name, Type: ft, Offset: offset})
		offset += ft.Words
		size = offset
	}
	t.Words = size
	return t, nil
}

// normalizeName collapses whitespace so "unsigned  int" and
// "unsigned int" name the same builtin.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
