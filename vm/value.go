package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is any value the interpreter can hold in a register or on the
// operand stack.
//
// The object representation is deliberately thin. The concrete shapes are:
//   - nil (the nil object)
//   - bool
//   - int64
//   - string
//   - *Array
//   - *Closure
//   - *Fiber
//   - *Exception
//   - *Class
type Value = any

// Array is a mutable ordered collection of values.
type Array struct {
	Items []Value
}

// NewArray creates an array holding a copy of items.
func NewArray(items ...Value) *Array {
	a := &Array{Items: make([]Value, len(items))}
	copy(a.Items, items)
	return a
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.Items)
}

// ---------------------------------------------------------------------------
// Truthiness and conversions
// ---------------------------------------------------------------------------

// Truthy reports whether v counts as true in a conditional: everything
// except nil and false.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	return true
}

// IntValue extracts an integer from v.
func IntValue(v Value) (int64, bool) {
	n, ok := v.(int64)
	return n, ok
}

// packValues converts an argument list into a single transfer value:
// nothing becomes nil, one value stays itself, several become an Array.
func packValues(args []Value) Value {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return NewArray(args...)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Inspect returns the developer-facing representation of v.
func Inspect(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return strconv.Quote(x)
	case *Array:
		parts := make([]string, len(x.Items))
		for i, item := range x.Items {
			parts[i] = Inspect(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Closure:
		if x.Method != nil {
			return fmt.Sprintf("#<Proc %s>", x.Method.Name)
		}
		return "#<Proc (native)>"
	case *Fiber:
		return x.String()
	case *Exception:
		return x.Inspect()
	case *Class:
		return x.Name
	}
	return fmt.Sprintf("#<%T>", v)
}

// ToS returns the user-facing string form of v, as puts prints it.
func ToS(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *Exception:
		return x.Message
	}
	return Inspect(v)
}
