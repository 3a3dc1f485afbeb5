package vm

import "fmt"

// ---------------------------------------------------------------------------
// Checkpoint stack
// ---------------------------------------------------------------------------

// Checkpoint is a saved recovery point. Checkpoints form a linked stack
// owned by the interpreter, not by any Context: a fiber switch inside a
// protected body does not change which checkpoint is current.
//
// A checkpoint is pushed and popped by the same Go call (catch or a loop
// run) and an unwind always targets the innermost one, so Go's own stack
// discipline keeps pushes and pops matched across fiber switches.
type Checkpoint struct {
	prev *Checkpoint
}

// unwind is the panic value that carries control to a checkpoint. The
// exception itself travels in the pending-exception slot.
type unwind struct {
	target *Checkpoint
}

func (i *Interpreter) pushCheckpoint() *Checkpoint {
	cp := &Checkpoint{prev: i.checkpoint}
	i.checkpoint = cp
	return cp
}

// CheckpointDepth returns the number of active checkpoints.
func (i *Interpreter) CheckpointDepth() int {
	n := 0
	for cp := i.checkpoint; cp != nil; cp = cp.prev {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Pending exception and raising
// ---------------------------------------------------------------------------

// SetPendingException attaches exc to the pending-exception slot. Attaching
// is what captures the backtrace. Passing nil clears the slot.
func (i *Interpreter) SetPendingException(exc *Exception) {
	if exc != nil {
		i.captureBacktrace(exc)
	}
	i.exc = exc
}

// PendingException returns the exception currently being propagated.
func (i *Interpreter) PendingException() *Exception {
	return i.exc
}

// Raise makes exc pending and unwinds to the innermost checkpoint. With no
// checkpoint the exception is reported and the process exits. Raise never
// returns.
func (i *Interpreter) Raise(exc *Exception) {
	i.SetPendingException(exc)
	i.throw()
}

// Raisef raises a new exception of class with a formatted message.
func (i *Interpreter) Raisef(class *Class, format string, args ...any) {
	i.Raise(i.NewException(class, fmt.Sprintf(format, args...)))
}

// RaiseStackOverflow raises the preallocated SystemStackError.
func (i *Interpreter) RaiseStackOverflow() {
	i.Raise(i.stackError)
}

// RaiseNoMemory raises the preallocated NoMemoryError.
func (i *Interpreter) RaiseNoMemory() {
	i.Raise(i.noMemoryError)
}

func (i *Interpreter) throw() {
	cp := i.checkpoint
	if cp == nil {
		exc := i.exc
		i.reportUncaught(exc)
		// the exit hook returned (tests); stop this goroutine's Go stack anyway
		panic(exc)
	}
	panic(&unwind{target: cp})
}

// ---------------------------------------------------------------------------
// Propagation combinators
// ---------------------------------------------------------------------------

// BodyFunc is the callback shape shared by the combinators.
type BodyFunc func(i *Interpreter, data Value) Value

// RescueFunc handles an exception caught by Rescue.
type RescueFunc func(i *Interpreter, data Value, exc *Exception) Value

type savedState struct {
	ctx   *Context
	depth int
	sp    int
	loop  *loop
}

func (i *Interpreter) save() savedState {
	return savedState{ctx: i.cur, depth: i.cur.Depth(), sp: i.cur.sp, loop: i.loop}
}

// restore puts the active context back the way catch found it. Interpreter
// loops clean up their own frames while an unwind passes through them, so
// normally only frames pushed by Go code between the checkpoint and the
// raise are left to discard.
func (i *Interpreter) restore(s savedState) {
	if i.cur != s.ctx {
		log.Debugf("checkpoint restored context %p over %p", s.ctx, i.cur)
		i.cur = s.ctx
		s.ctx.status = FiberRunning
	}
	for s.ctx.Depth() > s.depth {
		s.ctx.popFrame()
	}
	if s.ctx.sp > s.sp {
		s.ctx.truncate(s.sp)
	}
	i.loop = s.loop
}

// catch runs body under a new checkpoint. It returns the body's result, or
// the exception that unwound to the checkpoint, with the pending slot
// cleared. The checkpoint is popped on every path.
func (i *Interpreter) catch(body BodyFunc, data Value) (result Value, exc *Exception) {
	cp := i.pushCheckpoint()
	saved := i.save()
	defer func() {
		i.checkpoint = cp.prev
		r := recover()
		if r == nil {
			return
		}
		if u, ok := r.(*unwind); !ok || u.target != cp {
			panic(r)
		}
		i.restore(saved)
		exc = i.exc
		i.exc = nil
	}()
	return body(i, data), nil
}

// Protect runs body and absorbs any exception it raises. It returns the
// body's result and false, or the exception and true. Protect never
// re-raises.
func (i *Interpreter) Protect(body BodyFunc, data Value) (Value, bool) {
	result, exc := i.catch(body, data)
	if exc != nil {
		return exc, true
	}
	return result, false
}

// Ensure runs body, then cleanup exactly once. If body raised, the same
// exception is raised again to the enclosing checkpoint after cleanup;
// otherwise body's result is returned.
func (i *Interpreter) Ensure(body BodyFunc, bodyData Value, cleanup BodyFunc, cleanupData Value) Value {
	result, exc := i.catch(body, bodyData)
	cleanup(i, cleanupData)
	if exc != nil {
		i.Raise(exc)
	}
	return result
}

// Rescue runs body and hands any StandardError it raises to handler.
func (i *Interpreter) Rescue(body BodyFunc, bodyData Value, handler RescueFunc, handlerData Value) Value {
	return i.RescueMatching(body, bodyData, handler, handlerData, i.StandardErrorClass)
}

// RescueMatching runs body. An exception whose class is one of classes, or
// a subclass, is cleared and passed to handler, whose result is returned.
// Any other exception propagates unchanged; handler is not called.
func (i *Interpreter) RescueMatching(body BodyFunc, bodyData Value, handler RescueFunc, handlerData Value, classes ...*Class) Value {
	result, exc := i.catch(body, bodyData)
	if exc == nil {
		return result
	}
	if len(classes) == 0 {
		classes = []*Class{i.StandardErrorClass}
	}
	for _, c := range classes {
		if exc.IsKindOf(c) {
			return handler(i, handlerData, exc)
		}
	}
	i.Raise(exc)
	return nil
}
