package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Interpreter loops
// ---------------------------------------------------------------------------

// loop is one running invocation of the bytecode loop on the Go stack.
//
// A call loop (Run, Call) runs until its entry frame returns. A resume loop
// (ResumeFromNative) runs until control comes back to home, the context
// whose Go code is waiting for it. Loops nest the same way the Go calls
// that started them do.
type loop struct {
	ctx   *Context // call loop: context holding the entry frame
	depth int      // call loop: frame count with the entry frame on top
	home  *Context // resume loop: context waiting in Go
	prev  *loop
}

// isEntry reports whether the top frame of ctx is this loop's entry frame.
func (l *loop) isEntry(ctx *Context) bool {
	return l.home == nil && l.ctx == ctx && ctx.Depth() == l.depth
}

// pinned returns the context this loop keeps in place while it runs.
func (l *loop) pinned() *Context {
	if l.home != nil {
		return l.home
	}
	return l.ctx
}

// pinnedElsewhere reports whether ctx is held by an outer loop and not by
// the innermost one. Switching into such a context would run its frames on
// the wrong Go stack depth.
func (i *Interpreter) pinnedElsewhere(ctx *Context) bool {
	if i.loop != nil && i.loop.pinned() == ctx {
		return false
	}
	return ctx.pins > 0
}

// exec runs l to completion. Exceptions that cannot be handled inside the
// loop propagate to the enclosing checkpoint.
func (i *Interpreter) exec(l *loop) Value {
	l.prev = i.loop
	i.loop = l
	pin := l.pinned()
	pin.pins++
	defer func() {
		pin.pins--
		i.loop = l.prev
	}()

	for {
		if v, done := i.execProtected(l); done {
			return v
		}
	}
}

// execProtected dispatches under a checkpoint of its own. It reports false
// when an exception was handled inside the loop and dispatch must resume.
func (i *Interpreter) execProtected(l *loop) (result Value, done bool) {
	cp := i.pushCheckpoint()
	defer func() {
		i.checkpoint = cp.prev
		r := recover()
		if r == nil {
			return
		}
		if u, ok := r.(*unwind); !ok || u.target != cp {
			panic(r)
		}
		i.loop = l
		if i.handleException(l) {
			return
		}
		i.throw()
	}()
	return i.dispatch(l), true
}

// handleException searches for a rescue target for the pending exception,
// popping frames as it goes. It returns true with the active frame
// positioned at the handler, or false when the exception must leave this
// loop.
func (i *Interpreter) handleException(l *loop) bool {
	for {
		ctx := i.cur
		f := ctx.top()
		if f == nil {
			return false
		}
		if !f.IsNative() && len(f.Handlers) > 0 {
			n := len(f.Handlers) - 1
			h := f.Handlers[n]
			f.Handlers = f.Handlers[:n]
			ctx.truncate(h.SP)
			f.PC = h.PC
			f.Rescued = i.exc
			i.exc = nil
			return true
		}
		if l.isEntry(ctx) {
			ctx.popFrame()
			return false
		}
		if f.IsNative() {
			ctx.popFrame()
			continue
		}
		if ctx.Depth() == 1 && ctx != i.root {
			// the fiber dies; its resumer sees the exception
			target := i.retire(l, ctx)
			log.Debugf("fiber %p terminated by %s", ctx, i.exc.Inspect())
			i.enter(target)
			if target == l.home && target.vmexec {
				target.vmexec = false
				return false
			}
			continue
		}
		ctx.popFrame()
		if ctx.Depth() == 0 {
			return false
		}
	}
}

// ---------------------------------------------------------------------------
// Context switching
// ---------------------------------------------------------------------------

// enter makes ctx the active context.
func (i *Interpreter) enter(ctx *Context) {
	i.cur = ctx
	ctx.status = FiberRunning
}

// retire terminates a fiber context whose base frame is on top and returns
// the context control goes to next: the resumer, or the root context for a
// fiber that was transferred to. When that context belongs to an outer loop
// control falls back to the innermost resume loop's home.
func (i *Interpreter) retire(l *loop, ctx *Context) *Context {
	ctx.popFrame()
	ctx.status = FiberTerminated
	target := ctx.prev
	if target == nil {
		target = i.root
	}
	ctx.prev = nil
	if i.pinnedElsewhere(target) && l.home != nil {
		target = l.home
	}
	delete(i.contexts, ctx)
	ctx.free()
	return target
}

// arrive delivers v to the context just switched to. It reports true when
// that context is the home of this resume loop, which then returns v to the
// Go code waiting on it.
func (i *Interpreter) arrive(l *loop, v Value) (Value, bool) {
	ctx := i.cur
	if ctx.vmexec && l.home == ctx {
		ctx.vmexec = false
		return v, true
	}
	// a suspended context waits inside a native send; finish it
	if f := ctx.top(); f != nil && f.IsNative() {
		acc := f.Acc
		ctx.popFrame()
		if acc >= 0 {
			ctx.setResult(acc, v)
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// pushFrame pushes f on ctx, enforcing the call depth limit.
func (i *Interpreter) pushFrame(ctx *Context, f CallFrame) {
	if ctx.Depth() >= i.opts.MaxDepth {
		i.RaiseStackOverflow()
	}
	ctx.pushFrame(f)
}

// pushMethodFrame binds argc arguments at stack[bp:] to the parameters of a
// bytecode closure and pushes its frame. Blocks (closures with captured
// environments or fiber bodies) are lenient about argument counts the way
// procs are; methods are strict.
func (i *Interpreter) pushMethodFrame(ctx *Context, c *Closure, self Value, acc, bp, argc int) {
	m := c.Method
	req := m.RequiredArgs()
	lenient := c.Env != nil || ctx.Depth() == 0 && ctx != i.root

	switch {
	case m.Variadic():
		if argc < req && !lenient {
			i.Raisef(i.ArgumentErrorClass, "wrong number of arguments (given %d, expected %d+)", argc, req)
		}
		for ; argc < req; argc++ {
			ctx.push(nil)
		}
		extras := make([]Value, argc-req)
		copy(extras, ctx.stack[bp+req:bp+argc])
		ctx.truncate(bp + req)
		ctx.push(NewArray(extras...))
		argc = -(argc + 1)
	case argc != req:
		if !lenient {
			i.Raisef(i.ArgumentErrorClass, "wrong number of arguments (given %d, expected %d)", argc, req)
		}
		if argc > req {
			ctx.truncate(bp + req)
		}
		for n := argc; n < req; n++ {
			ctx.push(nil)
		}
	}

	top := bp + m.NumTemps
	if top < ctx.sp {
		top = ctx.sp
	}
	if top > i.opts.MaxValues {
		i.RaiseStackOverflow()
	}
	ctx.reserve(top - ctx.sp)
	ctx.sp = top

	i.pushFrame(ctx, CallFrame{
		Argc:        argc,
		Acc:         acc,
		Closure:     c,
		TargetClass: c.TargetClass,
		Env:         c.Env,
		Self:        self,
		BP:          bp,
	})
}

// lookup resolves selector for recv. It returns the method and the self it
// runs with: calling a closure runs it with the self it captured.
func (i *Interpreter) lookup(recv Value, selector string) (*Closure, Value) {
	switch x := recv.(type) {
	case *Class:
		if m := x.LookupClassSide(selector); m != nil {
			return m, recv
		}
	case *Closure:
		if selector == "call" {
			return x, x.Self
		}
	}
	return i.ClassOf(recv).Lookup(selector), recv
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// send performs OpSend: the receiver and argc arguments are on top of the
// operand stack.
func (i *Interpreter) send(l *loop, selector string, argc int) (Value, bool) {
	ctx := i.cur
	acc := ctx.sp - argc - 1
	recv := ctx.stack[acc]
	method, self := i.lookup(recv, selector)
	if method == nil {
		i.Raisef(i.NoMethodErrorClass, "undefined method '%s' for %s", selector, Inspect(recv))
	}
	if !method.IsNative() {
		i.pushMethodFrame(ctx, method, self, acc, acc+1, argc)
		return nil, false
	}

	args := make([]Value, argc)
	copy(args, ctx.stack[acc+1:ctx.sp])
	i.pushFrame(ctx, CallFrame{Closure: method, Self: self, Acc: acc, BP: acc + 1, Argc: argc})
	depth := ctx.Depth()
	v := method.Native(i, self, args)
	if i.cur == ctx && ctx.Depth() == depth {
		ctx.popFrame()
		ctx.setResult(acc, v)
		return nil, false
	}
	// the native method switched fibers
	return i.arrive(l, v)
}

// ret returns v from the active frame.
func (i *Interpreter) ret(l *loop, v Value) (Value, bool) {
	ctx := i.cur
	if l.isEntry(ctx) {
		ctx.popFrame()
		return v, true
	}
	if ctx.Depth() == 1 && ctx != i.root {
		target := i.retire(l, ctx)
		log.Debugf("fiber %p finished", ctx)
		i.enter(target)
		return i.arrive(l, v)
	}
	acc := ctx.top().Acc
	if acc < 0 {
		panic("vm: return through a frame entered from native code")
	}
	ctx.popFrame()
	ctx.setResult(acc, v)
	return nil, false
}

// dispatch is the bytecode loop. It returns when l is finished.
func (i *Interpreter) dispatch(l *loop) Value {
	for {
		ctx := i.cur
		frame := ctx.top()
		m := frame.Closure.Method
		bc := m.Bytecode
		literals := m.Literals

		if frame.PC >= len(bc) {
			// Implicit return at end of method
			if v, done := i.ret(l, nil); done {
				return v
			}
			continue
		}

		op := Opcode(bc[frame.PC])
		frame.PC++

		switch op {
		// --- Stack operations ---
		case OpNOP:
			// Do nothing

		case OpPOP:
			ctx.pop()

		case OpDUP:
			ctx.push(ctx.peek())

		// --- Push constants ---
		case OpPushNil:
			ctx.push(nil)

		case OpPushTrue:
			ctx.push(true)

		case OpPushFalse:
			ctx.push(false)

		case OpPushSelf:
			ctx.push(frame.Self)

		case OpPushInt8:
			val := int8(bc[frame.PC])
			frame.PC++
			ctx.push(int64(val))

		case OpPushInt32:
			val := int32(binary.LittleEndian.Uint32(bc[frame.PC:]))
			frame.PC += 4
			ctx.push(int64(val))

		case OpPushLiteral:
			idx := binary.LittleEndian.Uint16(bc[frame.PC:])
			frame.PC += 2
			if int(idx) >= len(literals) {
				panic(fmt.Sprintf("dispatch: literal index %d out of bounds (len=%d)", idx, len(literals)))
			}
			ctx.push(literals[idx])

		// --- Variables ---
		case OpPushTemp:
			idx := int(bc[frame.PC])
			frame.PC++
			ctx.push(ctx.stack[frame.BP+idx])

		case OpStoreTemp:
			idx := int(bc[frame.PC])
			frame.PC++
			ctx.stack[frame.BP+idx] = ctx.peek()

		case OpPushUpvar:
			idx := int(bc[frame.PC])
			frame.PC++
			if frame.Env == nil || idx >= len(frame.Env.Slots) {
				ctx.push(nil)
			} else {
				ctx.push(frame.Env.Slots[idx])
			}

		case OpStoreUpvar:
			idx := int(bc[frame.PC])
			frame.PC++
			if frame.Env != nil && idx < len(frame.Env.Slots) {
				frame.Env.Slots[idx] = ctx.peek()
			}

		case OpPushGlobal:
			idx := binary.LittleEndian.Uint16(bc[frame.PC:])
			frame.PC += 2
			name, _ := literals[idx].(string)
			val, ok := i.Globals[name]
			if !ok {
				i.Raisef(i.NameErrorClass, "uninitialized constant %s", name)
			}
			ctx.push(val)

		case OpStoreGlobal:
			idx := binary.LittleEndian.Uint16(bc[frame.PC:])
			frame.PC += 2
			name, _ := literals[idx].(string)
			i.Globals[name] = ctx.peek()

		// --- Message sends ---
		case OpSend:
			idx := binary.LittleEndian.Uint16(bc[frame.PC:])
			argc := int(bc[frame.PC+2])
			frame.PC += 3
			selector, _ := literals[idx].(string)
			if v, done := i.send(l, selector, argc); done {
				return v
			}

		// --- Arithmetic ---
		case OpAdd, OpSub, OpMul, OpLT, OpGT:
			b := ctx.pop()
			a := ctx.pop()
			if v, ok := arith(op, a, b); ok {
				ctx.push(v)
				continue
			}
			ctx.push(a)
			ctx.push(b)
			if v, done := i.send(l, arithSelectors[op], 1); done {
				return v
			}

		case OpEQ:
			b := ctx.pop()
			a := ctx.pop()
			ctx.push(a == b)

		// --- Control flow ---
		case OpJump:
			offset := int16(binary.LittleEndian.Uint16(bc[frame.PC:]))
			frame.PC += 2 + int(offset)

		case OpJumpTrue:
			offset := int16(binary.LittleEndian.Uint16(bc[frame.PC:]))
			frame.PC += 2
			if Truthy(ctx.pop()) {
				frame.PC += int(offset)
			}

		case OpJumpFalse:
			offset := int16(binary.LittleEndian.Uint16(bc[frame.PC:]))
			frame.PC += 2
			if !Truthy(ctx.pop()) {
				frame.PC += int(offset)
			}

		// --- Returns ---
		case OpReturnTop:
			if v, done := i.ret(l, ctx.pop()); done {
				return v
			}

		case OpReturnNil:
			if v, done := i.ret(l, nil); done {
				return v
			}

		// --- Closures and arrays ---
		case OpMakeClosure:
			idx := binary.LittleEndian.Uint16(bc[frame.PC:])
			n := int(bc[frame.PC+2])
			frame.PC += 3
			slots := make([]Value, n)
			copy(slots, ctx.stack[ctx.sp-n:ctx.sp])
			ctx.truncate(ctx.sp - n)
			ctx.push(&Closure{
				Method:      m.Blocks[idx],
				Env:         &Env{Slots: slots},
				Self:        frame.Self,
				TargetClass: frame.TargetClass,
			})

		case OpMakeArray:
			n := int(bc[frame.PC])
			frame.PC++
			items := make([]Value, n)
			copy(items, ctx.stack[ctx.sp-n:ctx.sp])
			ctx.truncate(ctx.sp - n)
			ctx.push(NewArray(items...))

		// --- Exceptions ---
		case OpPushHandler:
			offset := int16(binary.LittleEndian.Uint16(bc[frame.PC:]))
			frame.PC += 2
			frame.Handlers = append(frame.Handlers, Handler{PC: frame.PC + int(offset), SP: ctx.sp})

		case OpPopHandler:
			if n := len(frame.Handlers); n > 0 {
				frame.Handlers = frame.Handlers[:n-1]
			}

		case OpPushExc:
			exc := frame.Rescued
			frame.Rescued = nil
			if exc == nil {
				ctx.push(nil)
			} else {
				ctx.push(exc)
			}

		case OpRaise:
			i.Raise(i.exceptionFrom([]Value{ctx.pop()}))

		default:
			panic(fmt.Sprintf("dispatch: unknown opcode 0x%02X at %s+%d", byte(op), m.Name, frame.PC-1))
		}
	}
}

var arithSelectors = map[Opcode]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpLT:  "<",
	OpGT:  ">",
}

// arith is the integer fast path for arithmetic opcodes.
func arith(op Opcode, a, b Value) (Value, bool) {
	x, ok := a.(int64)
	if !ok {
		return nil, false
	}
	y, ok := b.(int64)
	if !ok {
		return nil, false
	}
	switch op {
	case OpAdd:
		return x + y, true
	case OpSub:
		return x - y, true
	case OpMul:
		return x * y, true
	case OpLT:
		return x < y, true
	case OpGT:
		return x > y, true
	}
	return nil, false
}
