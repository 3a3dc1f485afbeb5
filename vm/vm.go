package vm

import (
	"io"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("strand.vm")

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures an Interpreter. Zero fields take the defaults below.
type Options struct {
	InitialValues int     // value stack slots per new context
	InitialFrames int     // frame slots per new context
	Growth        float64 // multiplier applied when a stack grows
	MaxDepth      int     // frames per context before SystemStackError
	MaxValues     int     // value slots per context before SystemStackError

	Debug  DebugInfo // backtrace line lookup; defaults to CompiledMethod.SourceMap
	Stdout io.Writer
	Stderr io.Writer

	// Exit terminates the process after an uncaught exception has been
	// reported. Defaults to os.Exit.
	Exit func(code int)

	// OnUncaught is called with an uncaught exception before it is printed.
	OnUncaught func(exc *Exception)
}

// Defaults for Options.
const (
	DefaultInitialValues = 128
	DefaultInitialFrames = 16
	DefaultGrowth        = 1.2
	DefaultMaxDepth      = 1024
	DefaultMaxValues     = 1 << 20
)

func (o Options) withDefaults() Options {
	if o.InitialValues <= 0 {
		o.InitialValues = DefaultInitialValues
	}
	if o.InitialFrames <= 0 {
		o.InitialFrames = DefaultInitialFrames
	}
	if o.Growth <= 1 {
		o.Growth = DefaultGrowth
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxValues <= 0 {
		o.MaxValues = DefaultMaxValues
	}
	if o.Debug == nil {
		o.Debug = sourceMapDebugInfo{}
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
	return o
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter is one runtime instance. All scheduling state is explicit
// here: which context is active, the checkpoint stack, and the pending
// exception. An Interpreter is single-threaded; it must only be used from
// one goroutine at a time.
type Interpreter struct {
	Classes *ClassTable
	Globals map[string]Value

	// Well-known classes
	ObjectClass  *Class
	ClassClass   *Class
	NilClass     *Class
	TrueClass    *Class
	FalseClass   *Class
	IntegerClass *Class
	StringClass  *Class
	ArrayClass   *Class
	ProcClass    *Class
	FiberClass   *Class

	// Exception hierarchy
	ExceptionClass        *Class
	ScriptErrorClass      *Class
	NoMemoryErrorClass    *Class
	SystemStackErrorClass *Class
	StandardErrorClass    *Class
	RuntimeErrorClass     *Class
	TypeErrorClass        *Class
	ArgumentErrorClass    *Class
	NameErrorClass        *Class
	NoMethodErrorClass    *Class
	FiberErrorClass       *Class

	opts  Options
	debug DebugInfo

	cur       *Context // active context
	root      *Context
	rootFiber *Fiber // created on first Current

	checkpoint *Checkpoint
	exc        *Exception // pending exception
	loop       *loop      // innermost running interpreter loop

	contexts map[*Context]struct{} // live fiber contexts

	stackError    *Exception
	noMemoryError *Exception
}

// New creates and bootstraps an interpreter.
func New(opts Options) *Interpreter {
	opts = opts.withDefaults()
	i := &Interpreter{
		Classes:  NewClassTable(),
		Globals:  make(map[string]Value),
		opts:     opts,
		debug:    opts.Debug,
		contexts: make(map[*Context]struct{}),
	}
	i.root = i.newContext()
	i.root.status = FiberRunning
	i.cur = i.root

	i.bootstrap()
	return i
}

func (i *Interpreter) newContext() *Context {
	return newContext(i.opts.InitialValues, i.opts.InitialFrames, i.opts.Growth)
}

func (i *Interpreter) bootstrap() {
	i.ObjectClass = i.defineClass("Object", nil)
	i.ClassClass = i.defineClass("Class", i.ObjectClass)
	i.NilClass = i.defineClass("NilClass", i.ObjectClass)
	i.TrueClass = i.defineClass("TrueClass", i.ObjectClass)
	i.FalseClass = i.defineClass("FalseClass", i.ObjectClass)
	i.IntegerClass = i.defineClass("Integer", i.ObjectClass)
	i.StringClass = i.defineClass("String", i.ObjectClass)
	i.ArrayClass = i.defineClass("Array", i.ObjectClass)
	i.ProcClass = i.defineClass("Proc", i.ObjectClass)
	i.FiberClass = i.defineClass("Fiber", i.ObjectClass)

	i.bootstrapExceptionClasses()

	i.registerObjectPrimitives()
	i.registerExceptionPrimitives()
	i.registerFiberPrimitives()
}

// defineClass creates a class, registers it, and binds it as a global.
func (i *Interpreter) defineClass(name string, superclass *Class) *Class {
	c := NewClass(name, superclass)
	i.Classes.Register(c)
	i.Globals[name] = c
	return c
}

// DefineClass creates and registers a new class.
func (i *Interpreter) DefineClass(name string, superclass *Class) *Class {
	if superclass == nil {
		superclass = i.ObjectClass
	}
	return i.defineClass(name, superclass)
}

// ClassOf returns the class of any value.
func (i *Interpreter) ClassOf(v Value) *Class {
	switch x := v.(type) {
	case nil:
		return i.NilClass
	case bool:
		if x {
			return i.TrueClass
		}
		return i.FalseClass
	case int64:
		return i.IntegerClass
	case string:
		return i.StringClass
	case *Array:
		return i.ArrayClass
	case *Closure:
		return i.ProcClass
	case *Fiber:
		return i.FiberClass
	case *Exception:
		return x.Class
	case *Class:
		return i.ClassClass
	}
	return i.ObjectClass
}

// Options returns the effective options.
func (i *Interpreter) Options() Options {
	return i.opts
}

// ---------------------------------------------------------------------------
// Entry points from Go
// ---------------------------------------------------------------------------

// Run executes a top-level method on the root context. When the root
// context is idle the method becomes its base frame; otherwise Run behaves
// like Call.
func (i *Interpreter) Run(m *CompiledMethod) Value {
	c := &Closure{Method: m}
	if i.cur != i.root || i.root.Depth() > 0 {
		return i.Call(c, nil)
	}
	ctx := i.root
	ctx.push(nil) // self slot, the base frame's accumulator
	i.pushMethodFrame(ctx, c, nil, 0, 1, 0)
	return i.exec(&loop{ctx: ctx, depth: ctx.Depth()})
}

// Eval runs m like Run, but returns an uncaught exception as an error
// instead of terminating the process.
func (i *Interpreter) Eval(m *CompiledMethod) (Value, error) {
	v, raised := i.Protect(func(i *Interpreter, _ Value) Value {
		return i.Run(m)
	}, nil)
	if raised {
		return nil, v.(*Exception)
	}
	return v, nil
}

// Call invokes a closure from Go. Bytecode closures run in a nested
// interpreter loop whose entry frame is marked as entered from native
// code; Call returns when that frame returns.
func (i *Interpreter) Call(c *Closure, self Value, args ...Value) Value {
	ctx := i.cur
	if c.IsNative() {
		i.pushFrame(ctx, CallFrame{Closure: c, Self: self, Acc: accNative, BP: ctx.sp, Argc: len(args)})
		depth := ctx.Depth()
		v := c.Native(i, self, args)
		if i.cur == ctx && ctx.Depth() == depth {
			ctx.popFrame()
		}
		return v
	}
	if self == nil {
		self = c.Self
	}
	bp := ctx.sp
	for _, a := range args {
		ctx.push(a)
	}
	i.pushMethodFrame(ctx, c, self, accNative, bp, len(args))
	return i.exec(&loop{ctx: ctx, depth: ctx.Depth()})
}

// Send looks up selector on recv and calls it from Go.
func (i *Interpreter) Send(recv Value, selector string, args ...Value) Value {
	m, self := i.lookup(recv, selector)
	if m == nil {
		i.Raisef(i.NoMethodErrorClass, "undefined method '%s' for %s", selector, Inspect(recv))
	}
	return i.Call(m, self, args...)
}

// Close frees the root context and every fiber context still alive.
func (i *Interpreter) Close() {
	for ctx := range i.contexts {
		ctx.free()
		delete(i.contexts, ctx)
	}
	i.root.free()
	i.checkpoint = nil
	i.exc = nil
	i.loop = nil
}

// Root returns the root context.
func (i *Interpreter) Root() *Context {
	return i.root
}

// Active returns the active context.
func (i *Interpreter) Active() *Context {
	return i.cur
}

// LiveContexts returns the number of fiber contexts not yet terminated.
func (i *Interpreter) LiveContexts() int {
	return len(i.contexts)
}
