package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Stack Overflow Protection and Recursion Depth Tests
// ---------------------------------------------------------------------------
//
// These tests verify the depth limit on every context:
// - Non-tail recursive methods overflow at MaxDepth
// - SystemStackError is catchable by a rescue naming it, but not by default
// - Mutual recursion overflows
// - An overflow inside a fiber kills the fiber and reaches its resumer
// ---------------------------------------------------------------------------

// defineFact installs Object#fact:
//
//	def fact(n)
//	  return 1 if n == 0
//	  n * fact(n - 1)
//	end
//
// The recursive send is not in tail position, so each call pushes a frame.
func defineFact(tv *testVM) {
	b := NewCompiledMethodBuilder("fact", 1).SetFile("test.rb")
	bc := b.Bytecode()

	recurse := bc.NewLabel()
	bc.EmitByte(OpPushTemp, 0)
	bc.EmitInt(0)
	bc.Emit(OpEQ)
	bc.EmitJump(OpJumpFalse, recurse)

	// Base case: return 1
	bc.EmitInt(1)
	bc.Emit(OpReturnTop)

	// Recursive case: n * fact(n - 1)
	bc.Mark(recurse)
	bc.EmitByte(OpPushTemp, 0)
	bc.Emit(OpPushSelf)
	bc.EmitByte(OpPushTemp, 0)
	bc.EmitInt(1)
	bc.Emit(OpSub)
	b.Send("fact", 1)
	bc.Emit(OpMul)
	bc.Emit(OpReturnTop)

	tv.ObjectClass.Define("fact", &Closure{Method: b.Build()})
}

func factMain(n int32) *CompiledMethod {
	return buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Bytecode().EmitInt(n)
		b.Send("fact", 1)
		b.Bytecode().Emit(OpReturnTop)
	})
}

func TestNonTailRecursiveMethodOverflows(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 50})
	defineFact(tv)

	v, err := tv.Eval(factMain(10))
	if err != nil {
		t.Fatalf("fact(10): %v", err)
	}
	if v != int64(3628800) {
		t.Errorf("fact(10) = %v, want 3628800", v)
	}

	_, err = tv.Eval(factMain(1000))
	if err != tv.stackError {
		t.Fatalf("fact(1000) error = %v, want SystemStackError", err)
	}
}

func TestStackOverflowCatchableByNamedRescue(t *testing.T) {
	tests := []struct {
		name   string
		class  string
		caught bool
	}{
		{"SystemStackError", "SystemStackError", true},
		{"Exception", "Exception", true},
		{"StandardError", "StandardError", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tv := newTestVM(Options{MaxDepth: 50})
			defineFact(tv)

			b := NewCompiledMethodBuilder("main", 0).SetFile("test.rb")
			body := b.AddBlock(buildMethod("body", 0, func(b *CompiledMethodBuilder) {
				b.Bytecode().Emit(OpPushSelf)
				b.Bytecode().EmitInt(1000)
				b.Send("fact", 1)
				b.Bytecode().Emit(OpReturnTop)
			}))
			handler := b.AddBlock(buildMethod("handler", 1, func(b *CompiledMethodBuilder) {
				b.Bytecode().EmitByte(OpPushTemp, 0)
				b.Send("message", 0)
				b.Bytecode().Emit(OpReturnTop)
			}))
			b.Bytecode().Emit(OpPushSelf)
			b.Bytecode().EmitMakeClosure(uint16(body), 0)
			b.Bytecode().EmitMakeClosure(uint16(handler), 0)
			b.PushGlobal(tt.class)
			b.Send("rescue", 3)
			b.Bytecode().Emit(OpReturnTop)

			v, err := tv.Eval(b.Build())
			if !tt.caught {
				if err != tv.stackError {
					t.Errorf("Eval error = %v, want SystemStackError to escape", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Eval: %v", err)
			}
			if v != "stack level too deep" {
				t.Errorf("handler result = %v", v)
			}
		})
	}
}

func TestMutualRecursionOverflows(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 40})

	// even?(n) = n == 0 || odd?(n - 1); odd?(n) = n != 0 && even?(n - 1)
	define := func(name, other string, base bool) {
		b := NewCompiledMethodBuilder(name, 1).SetFile("test.rb")
		bc := b.Bytecode()
		recurse := bc.NewLabel()
		bc.EmitByte(OpPushTemp, 0)
		bc.EmitInt(0)
		bc.Emit(OpEQ)
		bc.EmitJump(OpJumpFalse, recurse)
		if base {
			bc.Emit(OpPushTrue)
		} else {
			bc.Emit(OpPushFalse)
		}
		bc.Emit(OpReturnTop)
		bc.Mark(recurse)
		bc.Emit(OpPushSelf)
		bc.EmitByte(OpPushTemp, 0)
		bc.EmitInt(1)
		bc.Emit(OpSub)
		b.Send(other, 1)
		bc.Emit(OpReturnTop)
		tv.ObjectClass.Define(name, &Closure{Method: b.Build()})
	}
	define("even?", "odd?", true)
	define("odd?", "even?", false)

	call := func(n int32) (Value, error) {
		return tv.Eval(buildMethod("main", 0, func(b *CompiledMethodBuilder) {
			b.Bytecode().Emit(OpPushSelf)
			b.Bytecode().EmitInt(n)
			b.Send("even?", 1)
			b.Bytecode().Emit(OpReturnTop)
		}))
	}

	if v, err := call(11); err != nil || v != false {
		t.Errorf("even?(11) = %v, %v; want false", v, err)
	}
	if _, err := call(100); err != tv.stackError {
		t.Errorf("even?(100) error = %v, want SystemStackError", err)
	}
}

func TestStackOverflowRecoveryAllowsSubsequentExecution(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 50})
	defineFact(tv)

	for n := 0; n < 3; n++ {
		if _, err := tv.Eval(factMain(1000)); err != tv.stackError {
			t.Fatalf("run %d: error = %v, want SystemStackError", n, err)
		}
		if tv.Root().Depth() != 0 || tv.Root().SP() != 0 {
			t.Fatalf("run %d: root depth/sp = %d/%d", n, tv.Root().Depth(), tv.Root().SP())
		}
	}

	v, err := tv.Eval(factMain(5))
	if err != nil || v != int64(120) {
		t.Errorf("fact(5) after overflows = %v, %v; want 120", v, err)
	}
	if tv.CheckpointDepth() != 0 {
		t.Errorf("checkpoint depth = %d, want 0", tv.CheckpointDepth())
	}
}

func TestStackOverflowInsideFiber(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 50})
	defineFact(tv)

	f := tv.NewFiber(&Closure{Method: buildMethod("deep", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Bytecode().EmitInt(1000)
		b.Send("fact", 1)
		b.Bytecode().Emit(OpReturnTop)
	})})

	_, exc := protectGo(tv.Interpreter, func() Value { return tv.Resume(f) })
	if exc != tv.stackError {
		t.Fatalf("resume raised %v, want SystemStackError", exc)
	}
	if f.Alive() {
		t.Error("fiber should be dead after overflowing")
	}
	if tv.Active() != tv.Root() || tv.Root().Depth() != 0 {
		t.Errorf("root should be active with depth 0, got depth %d", tv.Root().Depth())
	}
	if tv.LiveContexts() != 0 {
		t.Errorf("live contexts = %d, want 0", tv.LiveContexts())
	}
}

func TestDefaultMaxDepthApplied(t *testing.T) {
	tv := newTestVM(Options{})
	if tv.Options().MaxDepth != DefaultMaxDepth {
		t.Fatalf("MaxDepth = %d, want %d", tv.Options().MaxDepth, DefaultMaxDepth)
	}
	defineFact(tv)

	if _, err := tv.Eval(factMain(DefaultMaxDepth + 10)); err != tv.stackError {
		t.Errorf("fact(%d) error = %v, want SystemStackError", DefaultMaxDepth+10, err)
	}
	if _, err := tv.Eval(factMain(20)); err != nil {
		t.Errorf("fact(20): %v", err)
	}
}

func TestReraiseWithMessageLeavesPreallocatedErrorIntact(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 50})
	defineFact(tv)

	_, caught := protectGo(tv.Interpreter, func() Value {
		tv.RaiseStackOverflow()
		return nil
	})
	if caught != tv.stackError {
		t.Fatalf("caught %v, want the preallocated SystemStackError", caught)
	}

	_, changed := protectGo(tv.Interpreter, func() Value {
		return tv.Send(nil, "raise", caught, "changed")
	})
	expectException(t, changed, tv.SystemStackErrorClass, "changed")
	if changed == tv.stackError {
		t.Error("raise with a message should build a new exception")
	}

	if _, err := tv.Eval(factMain(1000)); err != tv.stackError {
		t.Fatalf("Eval error = %v, want SystemStackError", err)
	}
	if msg := tv.stackError.Message; msg != "stack level too deep" {
		t.Errorf("next overflow message = %q, want %q", msg, "stack level too deep")
	}
}
