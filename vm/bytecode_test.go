package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op           Opcode
		name         string
		operandBytes int
	}{
		{OpNOP, "NOP", 0},
		{OpPOP, "POP", 0},
		{OpDUP, "DUP", 0},
		{OpPushNil, "PUSH_NIL", 0},
		{OpPushSelf, "PUSH_SELF", 0},
		{OpPushInt8, "PUSH_INT8", 1},
		{OpPushInt32, "PUSH_INT32", 4},
		{OpPushLiteral, "PUSH_LITERAL", 2},
		{OpPushTemp, "PUSH_TEMP", 1},
		{OpPushUpvar, "PUSH_UPVAR", 1},
		{OpPushGlobal, "PUSH_GLOBAL", 2},
		{OpStoreTemp, "STORE_TEMP", 1},
		{OpStoreGlobal, "STORE_GLOBAL", 2},
		{OpSend, "SEND", 3},
		{OpAdd, "ADD", 0},
		{OpJump, "JUMP", 2},
		{OpJumpTrue, "JUMP_TRUE", 2},
		{OpJumpFalse, "JUMP_FALSE", 2},
		{OpReturnTop, "RETURN_TOP", 0},
		{OpReturnNil, "RETURN_NIL", 0},
		{OpMakeClosure, "MAKE_CLOSURE", 3},
		{OpMakeArray, "MAKE_ARRAY", 1},
		{OpPushHandler, "PUSH_HANDLER", 2},
		{OpPopHandler, "POP_HANDLER", 0},
		{OpPushExc, "PUSH_EXC", 0},
		{OpRaise, "RAISE", 0},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.OperandBytes != tt.operandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", tt.op, info.OperandBytes, tt.operandBytes)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if OpPushNil.String() != "PUSH_NIL" {
		t.Errorf("String() = %q, want %q", OpPushNil.String(), "PUSH_NIL")
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xFF)
	info := op.Info()
	if !strings.HasPrefix(info.Name, "UNKNOWN_") {
		t.Errorf("unknown opcode should have UNKNOWN_ prefix, got %q", info.Name)
	}
}

func TestLookupOpcode(t *testing.T) {
	for _, name := range []string{"push_handler", "PUSH_HANDLER", "Send"} {
		if _, ok := LookupOpcode(name); !ok {
			t.Errorf("LookupOpcode(%q) failed", name)
		}
	}
	if op, _ := LookupOpcode("make_closure"); op != OpMakeClosure {
		t.Errorf("LookupOpcode(make_closure) = %s", op)
	}
	if _, ok := LookupOpcode("push_float"); ok {
		t.Error("LookupOpcode should reject unknown names")
	}
}

// ---------------------------------------------------------------------------
// BytecodeBuilder tests
// ---------------------------------------------------------------------------

func TestBytecodeBuilderEmit(t *testing.T) {
	b := NewBytecodeBuilder()
	b.Emit(OpNOP)
	b.Emit(OpPOP)
	b.Emit(OpDUP)

	bytes := b.Bytes()
	if len(bytes) != 3 {
		t.Fatalf("len = %d, want 3", len(bytes))
	}
	if Opcode(bytes[0]) != OpNOP {
		t.Error("byte 0 should be NOP")
	}
	if Opcode(bytes[1]) != OpPOP {
		t.Error("byte 1 should be POP")
	}
	if Opcode(bytes[2]) != OpDUP {
		t.Error("byte 2 should be DUP")
	}
}

func TestBytecodeBuilderEmitUint16(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitUint16(OpPushLiteral, 0x1234)

	bytes := b.Bytes()
	if len(bytes) != 3 {
		t.Fatalf("len = %d, want 3", len(bytes))
	}
	if bytes[1] != 0x34 || bytes[2] != 0x12 {
		t.Errorf("operand bytes = %02X %02X, want little-endian 34 12", bytes[1], bytes[2])
	}
}

func TestBytecodeBuilderEmitInt(t *testing.T) {
	tests := []struct {
		n    int32
		op   Opcode
		size int
	}{
		{0, OpPushInt8, 2},
		{-128, OpPushInt8, 2},
		{127, OpPushInt8, 2},
		{128, OpPushInt32, 5},
		{-70000, OpPushInt32, 5},
	}
	for _, tt := range tests {
		b := NewBytecodeBuilder()
		b.EmitInt(tt.n)
		bytes := b.Bytes()
		if Opcode(bytes[0]) != tt.op || len(bytes) != tt.size {
			t.Errorf("EmitInt(%d) = %s/%d bytes, want %s/%d", tt.n, Opcode(bytes[0]), len(bytes), tt.op, tt.size)
		}
	}
}

func TestBytecodeBuilderEmitSend(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitSend(0x0102, 3)

	bytes := b.Bytes()
	if len(bytes) != 4 {
		t.Fatalf("len = %d, want 4", len(bytes))
	}
	if Opcode(bytes[0]) != OpSend || bytes[1] != 0x02 || bytes[2] != 0x01 || bytes[3] != 3 {
		t.Errorf("SEND encoding = % X", bytes)
	}
}

// ---------------------------------------------------------------------------
// Label tests
// ---------------------------------------------------------------------------

func TestLabelForwardJump(t *testing.T) {
	b := NewBytecodeBuilder()
	label := b.NewLabel()

	b.EmitJump(OpJumpFalse, label) // 3 bytes: op + 2 byte offset
	b.Emit(OpPushNil)              // position 3
	b.Emit(OpPOP)                  // position 4
	b.Mark(label)                  // target position 5
	b.Emit(OpPushTrue)

	bytes := b.Bytes()
	offset := int16(bytes[1]) | (int16(bytes[2]) << 8)
	if offset != 2 {
		t.Errorf("forward jump offset = %d, want 2", offset)
	}
	if !label.Resolved() {
		t.Error("label should be resolved after Mark")
	}
}

func TestLabelBackwardJump(t *testing.T) {
	b := NewBytecodeBuilder()
	label := b.NewLabel()

	b.Mark(label)
	b.Emit(OpPushNil)
	b.Emit(OpPOP)
	b.EmitJump(OpJumpTrue, label) // at position 2, operand ends at 5

	bytes := b.Bytes()
	offset := int16(bytes[3]) | (int16(bytes[4]) << 8)
	if offset != -5 {
		t.Errorf("backward jump offset = %d, want -5", offset)
	}
}

func TestLabelDoubleMark(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("double mark should panic")
		}
	}()

	b := NewBytecodeBuilder()
	label := b.NewLabel()
	b.Mark(label)
	b.Mark(label)
}

// ---------------------------------------------------------------------------
// BytecodeReader tests
// ---------------------------------------------------------------------------

func TestBytecodeReaderReadInt32(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt32(OpPushInt32, -123456)

	r := NewBytecodeReader(b.Bytes())
	if op := r.ReadOpcode(); op != OpPushInt32 {
		t.Fatalf("opcode = %s", op)
	}
	if v := r.ReadInt32(); v != -123456 {
		t.Errorf("ReadInt32 = %d, want -123456", v)
	}
	if r.HasMore() {
		t.Error("reader should be exhausted")
	}
}

func TestBytecodeReaderUnderflow(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("reading past the end should panic")
		}
	}()
	r := NewBytecodeReader([]byte{byte(OpPushLiteral), 1})
	r.ReadOpcode()
	r.ReadUint16()
}

// ---------------------------------------------------------------------------
// Disassembler tests
// ---------------------------------------------------------------------------

func TestDisassembleWithOperands(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt8(OpPushInt8, 42)
	b.EmitUint16(OpPushLiteral, 100)
	b.EmitSend(7, 2)
	b.EmitMakeClosure(1, 3)
	b.Emit(OpReturnTop)

	dis := Disassemble(b.Bytes())
	for _, want := range []string{
		"0000  PUSH_INT8 42",
		"0002  PUSH_LITERAL 100",
		"0005  SEND selector=7 argc=2",
		"0009  MAKE_CLOSURE block=1 captures=3",
		"0013  RETURN_TOP",
	} {
		if !strings.Contains(dis, want) {
			t.Errorf("disassembly missing %q, got:\n%s", want, dis)
		}
	}
}

func TestDisassembleHandlerTarget(t *testing.T) {
	b := NewBytecodeBuilder()
	label := b.NewLabel()
	b.EmitJump(OpPushHandler, label)
	b.Emit(OpPushNil)
	b.Mark(label)
	b.Emit(OpPushExc)

	dis := Disassemble(b.Bytes())
	if !strings.Contains(dis, "PUSH_HANDLER 1 (-> 0004)") {
		t.Errorf("disassembly should show the rescue target, got:\n%s", dis)
	}
}
