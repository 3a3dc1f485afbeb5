package vm

import "fmt"

// ---------------------------------------------------------------------------
// Fiber: a Context with a body closure
// ---------------------------------------------------------------------------

// Fiber is the script-visible handle for a coroutine. Its Context is
// allocated on first resume; until then the fiber is CREATED.
type Fiber struct {
	body *Closure
	ctx  *Context
	root bool
}

// Status returns the fiber's lifecycle state.
func (f *Fiber) Status() FiberStatus {
	if f.ctx == nil {
		return FiberCreated
	}
	return f.ctx.status
}

// Alive reports whether the fiber can still run.
func (f *Fiber) Alive() bool {
	return f.Status() != FiberTerminated
}

// Context returns the fiber's context, or nil before the first resume.
func (f *Fiber) Context() *Context {
	return f.ctx
}

// Previous returns the fiber that most recently resumed f, if it is still
// waiting for f.
func (f *Fiber) Previous() *Fiber {
	if f.ctx == nil || f.ctx.prev == nil {
		return nil
	}
	return f.ctx.prev.fiber
}

func (f *Fiber) String() string {
	if f.root {
		return fmt.Sprintf("#<Fiber:%p (root, %s)>", f, f.Status())
	}
	return fmt.Sprintf("#<Fiber:%p (%s)>", f, f.Status())
}

// NewFiber creates a fiber that will run body. The body must be a bytecode
// closure; it receives the first resume's arguments as block parameters.
func (i *Interpreter) NewFiber(body Value) *Fiber {
	c, ok := body.(*Closure)
	if !ok || c.IsNative() {
		i.Raisef(i.TypeErrorClass, "wrong argument type %s (expected Proc)", i.ClassOf(body).Name)
	}
	return &Fiber{body: c}
}

// Current returns the fiber owning the active context. The root context
// gets a fiber object the first time it is asked for.
func (i *Interpreter) Current() *Fiber {
	ctx := i.cur
	if ctx.fiber == nil {
		if ctx != i.root {
			panic("vm: active context has no fiber")
		}
		i.rootFiber = &Fiber{ctx: ctx, root: true}
		ctx.fiber = i.rootFiber
	}
	return ctx.fiber
}

// ---------------------------------------------------------------------------
// Switching
// ---------------------------------------------------------------------------

// inNativeMethod reports whether the active frame is a native method the
// innermost interpreter loop is dispatching. Only then can a switch hand
// control back to that loop without returning through Go first.
func (i *Interpreter) inNativeMethod() bool {
	f := i.cur.top()
	return i.loop != nil && f != nil && f.IsNative() && !f.EnteredFromNative()
}

// checkNativeBoundary raises FiberError if leaving the active context now
// would strand Go frames on it.
func (i *Interpreter) checkNativeBoundary() {
	if !i.inNativeMethod() || i.cur.hasNativeEntry() {
		i.Raisef(i.FiberErrorClass, "can't cross C function boundary")
	}
}

// startFiber allocates the fiber's context and binds args to the body's
// parameters on its base frame.
func (i *Interpreter) startFiber(f *Fiber, args []Value) *Context {
	ctx := i.newContext()
	ctx.fiber = f
	ctx.push(f.body.Self) // base accumulator
	for _, a := range args {
		ctx.push(a)
	}
	i.pushMethodFrame(ctx, f.body, f.body.Self, 0, 1, len(args))
	f.ctx = ctx
	i.contexts[ctx] = struct{}{}
	log.Debugf("fiber %p started with %d argument(s)", ctx, len(args))
	return ctx
}

// switchTo moves control into fiber f. A resume records the current
// context as f's resumer; a transfer does not. With vmexec the switch runs
// f in a nested loop and returns once control comes back here; otherwise it
// only changes the active context and the value returned is delivered to f
// by the loop dispatching the current native method.
func (i *Interpreter) switchTo(f *Fiber, args []Value, resume, vmexec bool) Value {
	from := i.cur
	if f.body == nil && !f.root {
		i.Raisef(i.ArgumentErrorClass, "uninitialized Fiber")
	}

	if !resume {
		if f.ctx == from {
			return packValues(args)
		}
		if f.root {
			return i.transferToRoot(args, vmexec)
		}
	}

	switch f.Status() {
	case FiberTransferred:
		if resume {
			i.Raisef(i.FiberErrorClass, "resuming transferred fiber")
		}
	case FiberRunning, FiberResumed:
		i.Raisef(i.FiberErrorClass, "double resume")
	case FiberTerminated:
		i.Raisef(i.FiberErrorClass, "resuming dead fiber")
	}
	if !vmexec {
		i.checkNativeBoundary()
	}
	if f.ctx != nil && i.pinnedElsewhere(f.ctx) {
		i.Raisef(i.FiberErrorClass, "can't cross C function boundary")
	}

	target := f.ctx
	if target == nil {
		target = i.startFiber(f, args)
	}
	if resume {
		from.status = FiberResumed
		target.prev = from
	} else {
		from.status = FiberTransferred
		target.prev = nil
	}
	i.enter(target)
	return i.switched(from, packValues(args), vmexec)
}

// transferToRoot gives control back to the root context.
func (i *Interpreter) transferToRoot(args []Value, vmexec bool) Value {
	from := i.cur
	if !vmexec {
		i.checkNativeBoundary()
	}
	if i.pinnedElsewhere(i.root) {
		i.Raisef(i.FiberErrorClass, "can't cross C function boundary")
	}
	from.status = FiberTransferred
	i.enter(i.root)
	return i.switched(from, packValues(args), vmexec)
}

// switched finishes a switch away from from. With vmexec it runs the new
// context in a nested loop until control returns to from.
func (i *Interpreter) switched(from *Context, v Value, vmexec bool) Value {
	if !vmexec {
		return v
	}
	from.vmexec = true
	l := &loop{home: from}
	if result, done := i.arrive(l, v); done {
		return result
	}
	return i.exec(l)
}

// ---------------------------------------------------------------------------
// Public scheduling API
// ---------------------------------------------------------------------------

// Resume starts or continues f. Called from a native method the
// interpreter is dispatching, it switches in place and the resumed fiber
// runs once the method returns; from anywhere else it behaves like
// ResumeFromNative.
func (i *Interpreter) Resume(f *Fiber, args ...Value) Value {
	return i.switchTo(f, args, true, !i.inNativeMethod())
}

// ResumeFromNative resumes f and runs it in a nested interpreter loop,
// returning what f yields, returns, or transfers back to this context.
func (i *Interpreter) ResumeFromNative(f *Fiber, args ...Value) Value {
	return i.switchTo(f, args, true, true)
}

// Transfer switches to f without recording a resumer. Transferring to the
// active fiber returns args unchanged.
func (i *Interpreter) Transfer(f *Fiber, args ...Value) Value {
	return i.switchTo(f, args, false, !i.inNativeMethod())
}

// Yield suspends the active fiber and returns control to its resumer.
// It must be called from a native method the interpreter is dispatching.
func (i *Interpreter) Yield(args ...Value) Value {
	ctx := i.cur
	prev := ctx.prev
	if prev == nil {
		if ctx == i.root {
			i.Raisef(i.FiberErrorClass, "can't yield from root fiber")
		}
		i.Raisef(i.FiberErrorClass, "attempt to yield on a not resumed fiber")
	}
	i.checkNativeBoundary()
	if i.pinnedElsewhere(prev) {
		i.Raisef(i.FiberErrorClass, "can't cross C function boundary")
	}
	ctx.status = FiberSuspended
	ctx.prev = nil
	i.enter(prev)
	return packValues(args)
}

// Alive reports whether f can still be resumed or transferred to.
func (i *Interpreter) Alive(f *Fiber) bool {
	return f.Alive()
}
