package vm

// captureBacktrace records where exc was raised. It walks the active
// context from the executing frame down to the base, skips native frames,
// and resolves each bytecode frame to a (file, line, method) triple. The
// result stays compact until Exception.Backtrace is called.
//
// Only the first raise of an exception object captures; re-raising keeps
// the original trace. Preallocated fatal exceptions never capture.
func (i *Interpreter) captureBacktrace(exc *Exception) {
	if exc.captured || exc.preallocated {
		return
	}
	exc.captured = true

	ctx := i.cur
	if ctx == nil {
		return
	}
	trace := make([]Location, 0, ctx.Depth())
	for n := ctx.Depth() - 1; n >= 0; n-- {
		f := ctx.Frame(n)
		m := f.Method()
		if m == nil {
			continue
		}
		// PC already points past the instruction being executed.
		pc := f.PC - 1
		if pc < 0 {
			pc = 0
		}
		file, line, _ := i.debug.Lookup(m, pc)
		trace = append(trace, Location{File: file, Line: line, Method: m.Name})
	}
	exc.trace = trace
}
