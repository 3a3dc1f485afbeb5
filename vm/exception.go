package vm

import "fmt"

// ---------------------------------------------------------------------------
// Exception objects
// ---------------------------------------------------------------------------

// Exception is a raised (or raisable) error value. Its backtrace is
// captured compactly when it is raised and expanded into strings the first
// time someone reads it.
type Exception struct {
	Class   *Class
	Message string

	trace    []Location // compact form, dropped once expanded
	lines    []string   // expanded form
	captured bool
	expanded bool

	// preallocated exceptions never capture: raising them must not allocate.
	preallocated bool
}

// Location is one compact backtrace entry.
type Location struct {
	File   string
	Line   int
	Method string
}

func (l Location) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d:in %s", l.File, l.Line, l.Method)
	}
	return fmt.Sprintf("%s:in %s", l.File, l.Method)
}

// Error implements the error interface so Go callers can carry exceptions
// through ordinary error returns.
func (e *Exception) Error() string {
	return e.Inspect()
}

// Inspect returns "message (ClassName)", or just the class name when the
// message is empty.
func (e *Exception) Inspect() string {
	name := "Exception"
	if e.Class != nil {
		name = e.Class.Name
	}
	if e.Message == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", e.Message, name)
}

// IsKindOf reports whether the exception's class is c or a subclass of c.
func (e *Exception) IsKindOf(c *Class) bool {
	return e.Class != nil && e.Class.IsSubclassOf(c)
}

// Backtrace returns the formatted backtrace, most recent call first. The
// first call converts the compact form; later calls return the same slice.
func (e *Exception) Backtrace() []string {
	if !e.expanded {
		lines := make([]string, len(e.trace))
		for n, loc := range e.trace {
			lines[n] = loc.String()
		}
		e.lines = lines
		e.trace = nil
		e.expanded = true
	}
	return e.lines
}

// Locations returns the compact backtrace. It reports false once the
// backtrace has been expanded by Backtrace.
func (e *Exception) Locations() ([]Location, bool) {
	if e.expanded {
		return nil, false
	}
	return e.trace, true
}

// HasBacktrace reports whether a backtrace was captured for this exception.
func (e *Exception) HasBacktrace() bool {
	return e.captured
}

// ---------------------------------------------------------------------------
// Exception class hierarchy
// ---------------------------------------------------------------------------

func (i *Interpreter) bootstrapExceptionClasses() {
	// Exception is the root of all exceptions
	i.ExceptionClass = i.defineClass("Exception", i.ObjectClass)

	// fatal conditions sit outside StandardError so a default rescue
	// does not swallow them
	i.ScriptErrorClass = i.defineClass("ScriptError", i.ExceptionClass)
	i.NoMemoryErrorClass = i.defineClass("NoMemoryError", i.ExceptionClass)
	i.SystemStackErrorClass = i.defineClass("SystemStackError", i.ExceptionClass)

	// StandardError is what rescue catches by default
	i.StandardErrorClass = i.defineClass("StandardError", i.ExceptionClass)
	i.RuntimeErrorClass = i.defineClass("RuntimeError", i.StandardErrorClass)
	i.TypeErrorClass = i.defineClass("TypeError", i.StandardErrorClass)
	i.ArgumentErrorClass = i.defineClass("ArgumentError", i.StandardErrorClass)
	i.NameErrorClass = i.defineClass("NameError", i.StandardErrorClass)
	i.NoMethodErrorClass = i.defineClass("NoMethodError", i.NameErrorClass)
	i.FiberErrorClass = i.defineClass("FiberError", i.StandardErrorClass)

	i.stackError = &Exception{
		Class:        i.SystemStackErrorClass,
		Message:      "stack level too deep",
		preallocated: true,
	}
	i.noMemoryError = &Exception{
		Class:        i.NoMemoryErrorClass,
		Message:      "failed to allocate memory",
		preallocated: true,
	}
}

// NewException creates an exception instance without raising it.
func (i *Interpreter) NewException(class *Class, message string) *Exception {
	if class == nil {
		class = i.RuntimeErrorClass
	}
	return &Exception{Class: class, Message: message}
}

// exceptionFrom converts the argument forms Kernel#raise accepts into an
// exception: a string, an exception class with an optional message, or an
// exception object.
func (i *Interpreter) exceptionFrom(args []Value) *Exception {
	if len(args) == 0 {
		return i.NewException(i.RuntimeErrorClass, "unhandled exception")
	}
	switch x := args[0].(type) {
	case string:
		return i.NewException(i.RuntimeErrorClass, x)
	case *Exception:
		if len(args) > 1 {
			return i.NewException(x.Class, ToS(args[1]))
		}
		return x
	case *Class:
		if x.IsSubclassOf(i.ExceptionClass) {
			msg := x.Name
			if len(args) > 1 {
				msg = ToS(args[1])
			}
			return i.NewException(x, msg)
		}
	}
	return i.NewException(i.TypeErrorClass, "exception class/object expected")
}
