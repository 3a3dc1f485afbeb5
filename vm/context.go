package vm

import "fmt"

// ---------------------------------------------------------------------------
// FiberStatus
// ---------------------------------------------------------------------------

// FiberStatus is the lifecycle state of a Context and the Fiber wrapping it.
type FiberStatus int

const (
	FiberCreated FiberStatus = iota
	FiberRunning
	FiberResumed
	FiberSuspended
	FiberTransferred
	FiberTerminated
)

var fiberStatusNames = [...]string{
	FiberCreated:     "created",
	FiberRunning:     "running",
	FiberResumed:     "resumed",
	FiberSuspended:   "suspended",
	FiberTransferred: "transferred",
	FiberTerminated:  "terminated",
}

func (s FiberStatus) String() string {
	if s >= 0 && int(s) < len(fiberStatusNames) {
		return fiberStatusNames[s]
	}
	return fmt.Sprintf("FiberStatus(%d)", int(s))
}

// ---------------------------------------------------------------------------
// Context: one logical call stack
// ---------------------------------------------------------------------------

// Context is an independent value stack plus frame stack. Exactly one
// Context is active in an interpreter at a time; the rest are inert.
//
// Frames refer to stack slots by index only. Both arrays may be
// reallocated when they grow, so nothing may hold a *CallFrame or a slice
// of the value stack across an operation that can push.
type Context struct {
	stack []Value
	sp    int

	frames []CallFrame

	status FiberStatus
	prev   *Context // who resumed this context; nil for root and transferred fibers
	fiber  *Fiber   // owning fiber; nil for root until Current is called

	// vmexec is set while Go code waits for a nested interpreter loop to
	// come back to this context (ResumeFromNative).
	vmexec bool

	// pins counts interpreter loops whose entry frame, or whose waiting
	// Go caller, lives on this context.
	pins int

	growth float64
}

func newContext(values, frames int, growth float64) *Context {
	if values < 8 {
		values = 8
	}
	if frames < 4 {
		frames = 4
	}
	return &Context{
		stack:  make([]Value, values),
		frames: make([]CallFrame, 0, frames),
		growth: growth,
	}
}

// Status returns the context's lifecycle state.
func (c *Context) Status() FiberStatus {
	return c.status
}

// Depth returns the number of live frames.
func (c *Context) Depth() int {
	return len(c.frames)
}

// SP returns the operand stack depth.
func (c *Context) SP() int {
	return c.sp
}

// StackCapacity returns the allocated size of the value stack.
func (c *Context) StackCapacity() int {
	return len(c.stack)
}

// FrameCapacity returns the allocated size of the frame stack.
func (c *Context) FrameCapacity() int {
	return cap(c.frames)
}

// Frame returns the frame at index n, counted from the base.
func (c *Context) Frame(n int) *CallFrame {
	return &c.frames[n]
}

func (c *Context) top() *CallFrame {
	if len(c.frames) == 0 {
		return nil
	}
	return &c.frames[len(c.frames)-1]
}

// grownSize applies the growth factor, always making room for at least need.
func (c *Context) grownSize(current, need int) int {
	n := int(float64(current) * c.growth)
	if n < current+4 {
		n = current + 4
	}
	if n < need {
		n = need
	}
	return n
}

// reserve makes room for n more values above sp. It reports whether the
// stack had to be reallocated.
func (c *Context) reserve(n int) bool {
	need := c.sp + n
	if need <= len(c.stack) {
		return false
	}
	grown := make([]Value, c.grownSize(len(c.stack), need))
	copy(grown, c.stack[:c.sp])
	c.stack = grown
	return true
}

func (c *Context) pushFrame(f CallFrame) {
	if len(c.frames) == cap(c.frames) {
		grown := make([]CallFrame, len(c.frames), c.grownSize(cap(c.frames), len(c.frames)+1))
		copy(grown, c.frames)
		c.frames = grown
	}
	c.frames = append(c.frames, f)
}

// popFrame discards the top frame and its registers.
func (c *Context) popFrame() {
	n := len(c.frames) - 1
	f := &c.frames[n]
	c.truncate(f.restoreSP())
	c.frames[n] = CallFrame{}
	c.frames = c.frames[:n]
}

// truncate lowers sp, clearing vacated slots so they do not pin garbage.
func (c *Context) truncate(sp int) {
	for j := sp; j < c.sp; j++ {
		c.stack[j] = nil
	}
	c.sp = sp
}

func (c *Context) push(v Value) {
	c.reserve(1)
	c.stack[c.sp] = v
	c.sp++
}

func (c *Context) pop() Value {
	if c.sp <= 0 {
		panic("stack underflow")
	}
	c.sp--
	v := c.stack[c.sp]
	c.stack[c.sp] = nil
	return v
}

func (c *Context) peek() Value {
	if c.sp <= 0 {
		panic("stack underflow")
	}
	return c.stack[c.sp-1]
}

// setResult stores a call result at the caller's accumulator slot and
// makes it the top of the operand stack.
func (c *Context) setResult(acc int, v Value) {
	c.truncate(acc)
	c.push(v)
}

// hasNativeEntry reports whether any frame was entered from Go.
func (c *Context) hasNativeEntry() bool {
	for n := len(c.frames) - 1; n >= 0; n-- {
		if c.frames[n].EnteredFromNative() {
			return true
		}
	}
	return false
}

// free drops both stacks.
func (c *Context) free() {
	c.stack = nil
	c.frames = nil
	c.sp = 0
	c.status = FiberTerminated
}
