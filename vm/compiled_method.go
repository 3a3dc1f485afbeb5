package vm

import "fmt"

// ---------------------------------------------------------------------------
// CompiledMethod: bytecode plus the debug info backtraces are resolved from
// ---------------------------------------------------------------------------

// CompiledMethod is a unit of bytecode: a method body, a block body, or a
// top-level program. Nested block bodies live in Blocks and are referenced
// by MAKE_CLOSURE.
type CompiledMethod struct {
	Name string // method name shown in backtraces
	File string // source file name shown in backtraces

	// Arity is the number of declared parameters. A negative arity marks a
	// variadic method with -(Arity+1) required parameters; the rest arrive
	// packed into an Array in the following register.
	Arity    int
	NumTemps int // registers: parameters first, then locals

	Literals []Value
	Bytecode []byte
	Blocks   []*CompiledMethod

	SourceMap []SourceLoc // bytecode offset -> source line, ascending offsets
}

// SourceLoc maps a bytecode offset to a source position.
type SourceLoc struct {
	Offset int
	Line   int
}

// RequiredArgs returns the number of mandatory parameters.
func (m *CompiledMethod) RequiredArgs() int {
	if m.Arity < 0 {
		return -m.Arity - 1
	}
	return m.Arity
}

// Variadic reports whether the method accepts extra arguments.
func (m *CompiledMethod) Variadic() bool {
	return m.Arity < 0
}

// SourceLocation returns the most recent source location at or before
// the offset, or nil when the method carries no line information.
func (m *CompiledMethod) SourceLocation(offset int) *SourceLoc {
	var result *SourceLoc
	for i := range m.SourceMap {
		if m.SourceMap[i].Offset > offset {
			break
		}
		result = &m.SourceMap[i]
	}
	return result
}

// AddSourceLocation adds a source mapping entry.
func (m *CompiledMethod) AddSourceLocation(offset, line int) {
	m.SourceMap = append(m.SourceMap, SourceLoc{Offset: offset, Line: line})
}

// Disassemble returns a disassembly of the method's bytecode.
func (m *CompiledMethod) Disassemble() string {
	return Disassemble(m.Bytecode)
}

func (m *CompiledMethod) String() string {
	return fmt.Sprintf("%s (%s)", m.Name, m.File)
}

// ---------------------------------------------------------------------------
// DebugInfo: the loader-side lookup used by backtrace capture
// ---------------------------------------------------------------------------

// DebugInfo resolves a program counter inside a method to a source
// position. Loaders that keep richer tables than SourceMap can install
// their own implementation with Options.Debug.
type DebugInfo interface {
	Lookup(m *CompiledMethod, pc int) (file string, line int, ok bool)
}

type sourceMapDebugInfo struct{}

func (sourceMapDebugInfo) Lookup(m *CompiledMethod, pc int) (string, int, bool) {
	loc := m.SourceLocation(pc)
	if loc == nil {
		return m.File, 0, false
	}
	return m.File, loc.Line, true
}

// ---------------------------------------------------------------------------
// Closure: a callable value
// ---------------------------------------------------------------------------

// NativeFunc implements a method in Go. Errors are raised through the
// interpreter (Raise and friends), never returned.
type NativeFunc func(i *Interpreter, self Value, args []Value) Value

// Closure pairs code with the environment it captured. Exactly one of
// Method and Native is set.
type Closure struct {
	Method *CompiledMethod
	Native NativeFunc
	Name   string // label for native closures

	Env         *Env   // captured variables, shared by closures made together
	Self        Value  // self at creation time
	TargetClass *Class // class the method was defined in, if any
}

// IsNative reports whether the closure runs Go code.
func (c *Closure) IsNative() bool {
	return c.Native != nil
}

// Env holds variables captured by MAKE_CLOSURE.
type Env struct {
	Slots []Value
}

// NewNativeClosure wraps a Go function as a callable value.
func NewNativeClosure(name string, fn NativeFunc) *Closure {
	return &Closure{Native: fn, Name: name}
}

// ---------------------------------------------------------------------------
// CompiledMethodBuilder: Helper for constructing methods
// ---------------------------------------------------------------------------

// CompiledMethodBuilder helps construct CompiledMethod instances.
type CompiledMethodBuilder struct {
	method   *CompiledMethod
	bytecode *BytecodeBuilder
	literals map[any]int
}

// NewCompiledMethodBuilder creates a new method builder.
func NewCompiledMethodBuilder(name string, arity int) *CompiledMethodBuilder {
	temps := arity
	if arity < 0 {
		temps = -arity // required params plus the rest array
	}
	return &CompiledMethodBuilder{
		method: &CompiledMethod{
			Name:     name,
			Arity:    arity,
			NumTemps: temps,
		},
		bytecode: NewBytecodeBuilder(),
		literals: make(map[any]int),
	}
}

// SetFile sets the source file name.
func (b *CompiledMethodBuilder) SetFile(file string) *CompiledMethodBuilder {
	b.method.File = file
	return b
}

// SetNumTemps sets the total number of registers.
func (b *CompiledMethodBuilder) SetNumTemps(n int) *CompiledMethodBuilder {
	b.method.NumTemps = n
	return b
}

// AddLocal adds a register and returns its index.
func (b *CompiledMethodBuilder) AddLocal() int {
	idx := b.method.NumTemps
	b.method.NumTemps++
	return idx
}

// AddLiteral adds a literal and returns its index. Strings and integers
// are deduplicated.
func (b *CompiledMethodBuilder) AddLiteral(v Value) int {
	switch v.(type) {
	case string, int64:
		if idx, ok := b.literals[v]; ok {
			return idx
		}
	}
	idx := len(b.method.Literals)
	b.method.Literals = append(b.method.Literals, v)
	switch v.(type) {
	case string, int64:
		b.literals[v] = idx
	}
	return idx
}

// AddBlock adds a nested block body and returns its index.
func (b *CompiledMethodBuilder) AddBlock(block *CompiledMethod) int {
	idx := len(b.method.Blocks)
	b.method.Blocks = append(b.method.Blocks, block)
	if block.File == "" {
		block.File = b.method.File
	}
	return idx
}

// Bytecode returns the bytecode builder for direct emission.
func (b *CompiledMethodBuilder) Bytecode() *BytecodeBuilder {
	return b.bytecode
}

// MarkLine adds a source mapping at the current bytecode position.
func (b *CompiledMethodBuilder) MarkLine(line int) {
	b.method.AddSourceLocation(b.bytecode.Len(), line)
}

// Send emits a SEND for selector with argc arguments.
func (b *CompiledMethodBuilder) Send(selector string, argc int) {
	b.bytecode.EmitSend(uint16(b.AddLiteral(selector)), uint8(argc))
}

// PushGlobal emits a PUSH_GLOBAL for name.
func (b *CompiledMethodBuilder) PushGlobal(name string) {
	b.bytecode.EmitUint16(OpPushGlobal, uint16(b.AddLiteral(name)))
}

// PushString emits a PUSH_LITERAL for a string constant.
func (b *CompiledMethodBuilder) PushString(s string) {
	b.bytecode.EmitUint16(OpPushLiteral, uint16(b.AddLiteral(s)))
}

// Build finalizes and returns the compiled method.
func (b *CompiledMethodBuilder) Build() *CompiledMethod {
	b.method.Bytecode = b.bytecode.Bytes()
	return b.method
}
