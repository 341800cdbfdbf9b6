package backend

import "fmt"

// Error taxonomy:
//   - resolution errors abort the affected declaration, the rest of the
//     unit continues;
//   - allocation errors are fatal for the whole unit;
//   - lowering errors abort the enclosing statement, the rest of the
//     function continues.
// Runtime faults (null deref, out-of-bank access) are never compile
// errors; they lower to trap operations.

// UndefinedTypeError reports a type or identifier name with no definition.
type UndefinedTypeError struct {
	Name string
}

func (e *UndefinedTypeError) Error() string {
	return fmt.Sprintf("undefined type or identifier %q", e.Name)
}

// RecursiveTypeError reports a struct or typedef cycle with no intervening
// pointer.
type RecursiveTypeError struct {
	Name string
}

func (e *RecursiveTypeError) Error() string {
	return fmt.Sprintf("type %q recursively contains itself", e.Name)
}

// AllocError reports exhausted bank space. It is fatal.
type AllocError struct {
	Words int
	Bank  int
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("cannot allocate %d words: bank %d exhausted", e.Words, e.Bank)
}

// LowerError reports a statement that could not be lowered, with its
// source location.
type LowerError struct {
	Pos Pos
	Msg string
}

func (e *LowerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func lowerErrf(pos Pos, format string, args ...any) *LowerError {
	return &LowerError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
