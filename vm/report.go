package vm

import (
	"fmt"
	"io"
)

// PrintException writes exc the way an uncaught exception is reported:
// the backtrace oldest call first, then the raise site and inspect string.
func PrintException(w io.Writer, exc *Exception) {
	lines := exc.Backtrace()
	if len(lines) > 1 {
		fmt.Fprintln(w, "trace (most recent call last):")
		for n := len(lines) - 1; n > 0; n-- {
			fmt.Fprintf(w, "\t[%d] %s\n", n, lines[n])
		}
	}
	if len(lines) > 0 {
		fmt.Fprintf(w, "%s: %s\n", lines[0], exc.Inspect())
		return
	}
	fmt.Fprintln(w, exc.Inspect())
}

// reportUncaught handles an exception that no checkpoint caught: it gives
// the OnUncaught hook a look, prints to stderr and exits with status 1.
func (i *Interpreter) reportUncaught(exc *Exception) {
	if exc == nil {
		exc = i.NewException(i.RuntimeErrorClass, "unknown exception")
	}
	log.Errorf("uncaught exception: %s", exc.Inspect())
	if i.opts.OnUncaught != nil {
		i.opts.OnUncaught(exc)
	}
	PrintException(i.opts.Stderr, exc)
	i.opts.Exit(1)
}
