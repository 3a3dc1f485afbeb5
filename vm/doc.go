// Package vm implements the Strand runtime core: cooperative fibers and
// checkpoint-based exception propagation over a small bytecode interpreter.
//
// This package contains:
//   - Execution contexts (value stack plus frame stack) and their growth
//   - Fibers with resume, transfer and yield, in VM and native-entry modes
//   - Checkpoints and the Protect, Ensure and Rescue combinators
//   - Lazily expanded backtraces and uncaught-exception reporting
//   - The bytecode interpreter loop and a minimal class model
package vm
