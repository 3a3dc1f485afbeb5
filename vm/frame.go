package vm

// ---------------------------------------------------------------------------
// CallFrame: one activation record inside a Context
// ---------------------------------------------------------------------------

// accNative marks a frame entered directly from Go rather than by a SEND
// executed in the interpreter loop. Coroutine switches refuse to unwind
// through such frames.
const accNative = -1

// CallFrame is the execution state of one method, block, or native call.
// All stack positions are indices into the owning Context's value stack,
// so they stay valid when the stack is reallocated.
type CallFrame struct {
	PC       int        // next instruction offset
	Handlers []Handler  // rescue targets installed by PUSH_HANDLER, innermost last
	Rescued  *Exception // exception absorbed by the last handler, read by PUSH_EXC

	// Argc is the number of arguments passed; negative when the callee is
	// variadic and the extras were packed into an Array.
	Argc int

	// Acc is the value-stack index that receives this frame's result in the
	// caller. It is accNative when the frame was entered from Go.
	Acc int

	Closure     *Closure
	TargetClass *Class
	Env         *Env
	Self        Value

	BP int // first register
}

// Handler is a saved error PC: where to continue when an exception unwinds
// into this frame, and the operand depth to restore.
type Handler struct {
	PC int
	SP int
}

// EnteredFromNative reports whether Go code called into this frame.
func (f *CallFrame) EnteredFromNative() bool {
	return f.Acc < 0
}

// IsNative reports whether the frame runs Go code instead of bytecode.
func (f *CallFrame) IsNative() bool {
	return f.Closure != nil && f.Closure.Native != nil
}

// Method returns the bytecode being executed, or nil for native frames.
func (f *CallFrame) Method() *CompiledMethod {
	if f.Closure == nil {
		return nil
	}
	return f.Closure.Method
}

// ErrPC returns the innermost saved error PC.
func (f *CallFrame) ErrPC() (int, bool) {
	if len(f.Handlers) == 0 {
		return 0, false
	}
	return f.Handlers[len(f.Handlers)-1].PC, true
}

// restoreSP is the operand depth to restore when the frame is popped.
func (f *CallFrame) restoreSP() int {
	if f.Acc >= 0 {
		return f.Acc
	}
	return f.BP
}
