package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Context stack tests
// ---------------------------------------------------------------------------

func TestNewContextMinimumSizes(t *testing.T) {
	ctx := newContext(1, 1, 1.5)
	if ctx.StackCapacity() != 8 {
		t.Errorf("stack capacity = %d, want 8", ctx.StackCapacity())
	}
	if ctx.FrameCapacity() != 4 {
		t.Errorf("frame capacity = %d, want 4", ctx.FrameCapacity())
	}
	if ctx.Status() != FiberCreated {
		t.Errorf("status = %s, want created", ctx.Status())
	}
}

func TestContextStackGrowthKeepsValues(t *testing.T) {
	ctx := newContext(8, 4, 1.5)
	for n := 0; n < 100; n++ {
		ctx.push(int64(n))
	}
	if ctx.StackCapacity() < 100 {
		t.Fatalf("stack capacity = %d, want >= 100", ctx.StackCapacity())
	}
	for n := 99; n >= 0; n-- {
		if v := ctx.pop(); v != int64(n) {
			t.Fatalf("pop = %v, want %d", v, n)
		}
	}
	if ctx.SP() != 0 {
		t.Errorf("sp = %d, want 0", ctx.SP())
	}
}

func TestContextGrownSize(t *testing.T) {
	ctx := newContext(8, 4, 1.2)
	tests := []struct {
		current, need, want int
	}{
		{8, 9, 12},      // growth below +4 rounds up to +4
		{100, 101, 120}, // growth factor applies
		{8, 50, 50},     // large reservations get what they need
	}
	for _, tt := range tests {
		if got := ctx.grownSize(tt.current, tt.need); got != tt.want {
			t.Errorf("grownSize(%d, %d) = %d, want %d", tt.current, tt.need, got, tt.want)
		}
	}
}

func TestContextFrameGrowthKeepsIndices(t *testing.T) {
	ctx := newContext(8, 4, 1.2)
	for n := 0; n < 20; n++ {
		ctx.push(int64(n))
		ctx.pushFrame(CallFrame{BP: n, Acc: n, PC: n * 10})
	}
	if ctx.FrameCapacity() < 20 {
		t.Fatalf("frame capacity = %d, want >= 20", ctx.FrameCapacity())
	}
	for n := 0; n < 20; n++ {
		if f := ctx.Frame(n); f.BP != n || f.PC != n*10 {
			t.Errorf("frame %d = bp %d pc %d", n, f.BP, f.PC)
		}
	}
}

func TestContextPopFrameTruncates(t *testing.T) {
	tests := []struct {
		name   string
		acc    int
		bp     int
		wantSP int
	}{
		{"send", 2, 3, 2},
		{"native entry", accNative, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newContext(8, 4, 1.2)
			for n := 0; n < 6; n++ {
				ctx.push(int64(n))
			}
			ctx.pushFrame(CallFrame{Acc: tt.acc, BP: tt.bp})
			ctx.popFrame()
			if ctx.SP() != tt.wantSP {
				t.Errorf("sp = %d, want %d", ctx.SP(), tt.wantSP)
			}
			for j := ctx.SP(); j < 6; j++ {
				if ctx.stack[j] != nil {
					t.Errorf("slot %d not cleared", j)
				}
			}
		})
	}
}

func TestContextSetResult(t *testing.T) {
	ctx := newContext(8, 4, 1.2)
	ctx.push("recv")
	ctx.push("arg")
	ctx.setResult(0, "result")
	if ctx.SP() != 1 || ctx.peek() != "result" {
		t.Errorf("setResult left sp=%d top=%v", ctx.SP(), ctx.peek())
	}
}

func TestContextHasNativeEntry(t *testing.T) {
	ctx := newContext(8, 4, 1.2)
	ctx.pushFrame(CallFrame{Acc: 0})
	if ctx.hasNativeEntry() {
		t.Error("a base frame is not a native entry")
	}
	ctx.pushFrame(CallFrame{Acc: accNative})
	ctx.pushFrame(CallFrame{Acc: 3})
	if !ctx.hasNativeEntry() {
		t.Error("hasNativeEntry should find the Go-entered frame")
	}
}

func TestStackGrowthDuringCalls(t *testing.T) {
	tv := newTestVM(Options{InitialValues: 8, InitialFrames: 4})

	// down(n) = n > 0 ? down(n - 1) : n
	b := NewCompiledMethodBuilder("down", 1).SetFile("test.rb")
	base := b.Bytecode().NewLabel()
	b.Bytecode().EmitByte(OpPushTemp, 0)
	b.Bytecode().EmitInt(0)
	b.Bytecode().Emit(OpGT)
	b.Bytecode().EmitJump(OpJumpFalse, base)
	b.Bytecode().Emit(OpPushSelf)
	b.Bytecode().EmitByte(OpPushTemp, 0)
	b.Bytecode().EmitInt(1)
	b.Bytecode().Emit(OpSub)
	b.Send("down", 1)
	b.Bytecode().Emit(OpReturnTop)
	b.Bytecode().Mark(base)
	b.Bytecode().EmitByte(OpPushTemp, 0)
	b.Bytecode().Emit(OpReturnTop)
	tv.ObjectClass.Define("down", &Closure{Method: b.Build()})

	main := buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Bytecode().EmitInt(50)
		b.Send("down", 1)
		b.Bytecode().Emit(OpReturnTop)
	})
	v, err := tv.Eval(main)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != int64(0) {
		t.Errorf("down(50) = %v, want 0", v)
	}
	if tv.Root().FrameCapacity() <= 4 || tv.Root().StackCapacity() <= 8 {
		t.Errorf("capacities = %d frames / %d values, want growth", tv.Root().FrameCapacity(), tv.Root().StackCapacity())
	}
	if tv.Root().Depth() != 0 || tv.Root().SP() != 0 {
		t.Errorf("root depth/sp = %d/%d after return", tv.Root().Depth(), tv.Root().SP())
	}
}

func TestValueStackLimit(t *testing.T) {
	tv := newTestVM(Options{InitialValues: 8, MaxValues: 64})
	tv.ObjectClass.Define("wide", &Closure{Method: buildMethod("wide", 0, func(b *CompiledMethodBuilder) {
		b.SetNumTemps(100)
		b.Bytecode().Emit(OpReturnNil)
	})})
	main := buildMethod("main", 0, func(b *CompiledMethodBuilder) {
		b.Bytecode().Emit(OpPushSelf)
		b.Send("wide", 0)
		b.Bytecode().Emit(OpReturnTop)
	})
	_, err := tv.Eval(main)
	if err != tv.stackError {
		t.Errorf("Eval error = %v, want SystemStackError", err)
	}
}
