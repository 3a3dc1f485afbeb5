package vm

import (
	"testing"
)

// buildRaiser installs Object#inner (raises on line 12) and Object#outer
// (calls inner on line 21) and returns a main method calling outer on line 3.
func buildRaiser(tv *testVM) *CompiledMethod {
	tv.ObjectClass.Define("inner", &Closure{Method: buildMethod("inner", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpNOP)
		b.MarkLine(12)
		b.Bytecode().Emit(OpPushSelf)
		b.PushString("deep")
		b.Send("raise", 1)
		b.Bytecode().Emit(OpReturnTop)
	})})
	tv.ObjectClass.Define("outer", &Closure{Method: buildMethod("outer", 0, func(b *CompiledMethodBuilder) {
		b.MarkLine(20)
		b.Bytecode().Emit(OpNOP)
		b.MarkLine(21)
		b.Bytecode().Emit(OpPushSelf)
		b.Send("inner", 0)
		b.Bytecode().Emit(OpReturnTop)
	})})
	return buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.MarkLine(3)
		b.Bytecode().Emit(OpPushSelf)
		b.Send("outer", 0)
		b.Bytecode().Emit(OpReturnTop)
	})
}

func TestBacktraceCapturedAtRaise(t *testing.T) {
	tv := newTestVM(Options{})
	_, err := tv.Eval(buildRaiser(tv))
	exc, ok := err.(*Exception)
	if !ok {
		t.Fatalf("Eval error = %v, want *Exception", err)
	}

	locs, compact := exc.Locations()
	if !compact {
		t.Fatal("backtrace should stay compact until read")
	}
	want := []Location{
		{File: "test.rb", Line: 12, Method: "inner"},
		{File: "test.rb", Line: 21, Method: "outer"},
		{File: "test.rb", Line: 3, Method: "main"},
	}
	if len(locs) != len(want) {
		t.Fatalf("locations = %v, want %v", locs, want)
	}
	for n := range want {
		if locs[n] != want[n] {
			t.Errorf("location[%d] = %v, want %v", n, locs[n], want[n])
		}
	}
}

func TestBacktraceExpandsOnce(t *testing.T) {
	tv := newTestVM(Options{})
	_, err := tv.Eval(buildRaiser(tv))
	exc := err.(*Exception)

	first := exc.Backtrace()
	want := []string{
		"test.rb:12:in inner",
		"test.rb:21:in outer",
		"test.rb:3:in main",
	}
	if len(first) != len(want) {
		t.Fatalf("Backtrace = %v, want %v", first, want)
	}
	for n := range want {
		if first[n] != want[n] {
			t.Errorf("Backtrace[%d] = %q, want %q", n, first[n], want[n])
		}
	}

	if _, compact := exc.Locations(); compact {
		t.Error("compact form should be dropped after expansion")
	}
	second := exc.Backtrace()
	if &second[0] != &first[0] {
		t.Error("Backtrace should return the memoized slice")
	}
}

func TestReraiseKeepsOriginalBacktrace(t *testing.T) {
	tv := newTestVM(Options{})
	_, err := tv.Eval(buildRaiser(tv))
	exc := err.(*Exception)

	_, again := protectGo(tv.Interpreter, func() Value {
		tv.Raise(exc)
		return nil
	})
	if again != exc {
		t.Fatal("re-raise should keep the exception identity")
	}
	if locs, _ := again.Locations(); len(locs) != 3 {
		t.Errorf("re-raise replaced the backtrace: %v", locs)
	}
}

func TestBacktraceFromScript(t *testing.T) {
	tv := newTestVM(Options{})
	buildRaiser(tv)

	// e.backtrace as seen by the script
	b := NewCompiledMethodBuilder("catcher", 0).SetFile("test.rb")
	rescue := b.Bytecode().NewLabel()
	b.Bytecode().EmitJump(OpPushHandler, rescue)
	b.Bytecode().Emit(OpPushSelf)
	b.Send("outer", 0)
	b.Bytecode().Emit(OpReturnTop)
	b.Bytecode().Mark(rescue)
	b.Bytecode().Emit(OpPushExc)
	b.Send("backtrace", 0)
	b.Bytecode().Emit(OpReturnTop)

	v, err := tv.Eval(b.Build())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	lines, ok := v.(*Array)
	if !ok || lines.Len() != 3 {
		t.Fatalf("backtrace = %s, want 3 lines", Inspect(v))
	}
	if lines.Items[0] != "test.rb:12:in inner" {
		t.Errorf("backtrace[0] = %v", lines.Items[0])
	}
}

func TestFatalExceptionsHaveNoBacktrace(t *testing.T) {
	tv := newTestVM(Options{MaxDepth: 32})
	tv.ObjectClass.Define("recurse", &Closure{Method: buildMethod("recurse", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Send("recurse", 0)
		b.Bytecode().Emit(OpReturnTop)
	})})
	main := buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Send("recurse", 0)
		b.Bytecode().Emit(OpReturnTop)
	})

	_, err := tv.Eval(main)
	if err != tv.stackError {
		t.Fatalf("Eval error = %v, want the preallocated SystemStackError", err)
	}
	if tv.stackError.HasBacktrace() {
		t.Error("preallocated exceptions should not capture a backtrace")
	}
	if tv.Root().Depth() != 0 || tv.Root().SP() != 0 {
		t.Errorf("root depth/sp = %d/%d after unwinding", tv.Root().Depth(), tv.Root().SP())
	}
}

func TestBacktraceSkipsNativeFrames(t *testing.T) {
	tv := newTestVM(Options{})
	main := buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.MarkLine(9)
		b.Bytecode().Emit(OpPushSelf)
		b.Send("raise", 0)
		b.Bytecode().Emit(OpReturnTop)
	})
	_, err := tv.Eval(main)
	exc := err.(*Exception)
	lines := exc.Backtrace()
	if len(lines) != 1 || lines[0] != "test.rb:9:in main" {
		t.Errorf("Backtrace = %v, want only the bytecode frame", lines)
	}
}
