package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNOP Opcode = 0x00 // no operation
	OpPOP Opcode = 0x01 // discard top of stack
	OpDUP Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPushNil     Opcode = 0x10 // push nil
	OpPushTrue    Opcode = 0x11 // push true
	OpPushFalse   Opcode = 0x12 // push false
	OpPushSelf    Opcode = 0x13 // push self
	OpPushInt8    Opcode = 0x14 // push 8-bit signed integer
	OpPushInt32   Opcode = 0x15 // push 32-bit signed integer
	OpPushLiteral Opcode = 0x16 // push literal (16-bit index)
)

// Variable Operations
const (
	OpPushTemp    Opcode = 0x20 // push register (8-bit index)
	OpStoreTemp   Opcode = 0x21 // store top into register (8-bit index)
	OpPushUpvar   Opcode = 0x22 // push captured variable (8-bit index)
	OpStoreUpvar  Opcode = 0x23 // store top into captured variable (8-bit index)
	OpPushGlobal  Opcode = 0x24 // push global named by literal (16-bit index)
	OpStoreGlobal Opcode = 0x25 // store top into global named by literal (16-bit index)
)

// Message Sends
const (
	OpSend Opcode = 0x30 // send message (16-bit selector literal, 8-bit argc)
)

// Integer Arithmetic
const (
	OpAdd Opcode = 0x40 // a + b
	OpSub Opcode = 0x41 // a - b
	OpMul Opcode = 0x42 // a * b
	OpLT  Opcode = 0x43 // a < b
	OpGT  Opcode = 0x44 // a > b
	OpEQ  Opcode = 0x45 // a == b
)

// Control Flow
const (
	OpJump      Opcode = 0x60 // unconditional jump (16-bit offset)
	OpJumpTrue  Opcode = 0x61 // pop, jump if truthy (16-bit offset)
	OpJumpFalse Opcode = 0x62 // pop, jump if falsy (16-bit offset)
)

// Returns
const (
	OpReturnTop Opcode = 0x70 // return top of stack
	OpReturnNil Opcode = 0x71 // return nil
)

// Closures and Arrays
const (
	OpMakeClosure Opcode = 0x80 // create closure (16-bit block index, 8-bit capture count)
	OpMakeArray   Opcode = 0x81 // create array from stack (8-bit size)
)

// Exceptions
const (
	OpPushHandler Opcode = 0xA0 // install rescue target (16-bit offset)
	OpPopHandler  Opcode = 0xA1 // remove innermost rescue target
	OpPushExc     Opcode = 0xA2 // push the exception the frame rescued
	OpRaise       Opcode = 0xA3 // pop and raise
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP: {"NOP", 0, 0},
	OpPOP: {"POP", 0, -1},
	OpDUP: {"DUP", 0, 1},

	OpPushNil:     {"PUSH_NIL", 0, 1},
	OpPushTrue:    {"PUSH_TRUE", 0, 1},
	OpPushFalse:   {"PUSH_FALSE", 0, 1},
	OpPushSelf:    {"PUSH_SELF", 0, 1},
	OpPushInt8:    {"PUSH_INT8", 1, 1},
	OpPushInt32:   {"PUSH_INT32", 4, 1},
	OpPushLiteral: {"PUSH_LITERAL", 2, 1},

	OpPushTemp:    {"PUSH_TEMP", 1, 1},
	OpStoreTemp:   {"STORE_TEMP", 1, 0},
	OpPushUpvar:   {"PUSH_UPVAR", 1, 1},
	OpStoreUpvar:  {"STORE_UPVAR", 1, 0},
	OpPushGlobal:  {"PUSH_GLOBAL", 2, 1},
	OpStoreGlobal: {"STORE_GLOBAL", 2, 0},

	OpSend: {"SEND", 3, -1},

	OpAdd: {"ADD", 0, -1},
	OpSub: {"SUB", 0, -1},
	OpMul: {"MUL", 0, -1},
	OpLT:  {"LT", 0, -1},
	OpGT:  {"GT", 0, -1},
	OpEQ:  {"EQ", 0, -1},

	OpJump:      {"JUMP", 2, 0},
	OpJumpTrue:  {"JUMP_TRUE", 2, -1},
	OpJumpFalse: {"JUMP_FALSE", 2, -1},

	OpReturnTop: {"RETURN_TOP", 0, -1},
	OpReturnNil: {"RETURN_NIL", 0, 0},

	OpMakeClosure: {"MAKE_CLOSURE", 3, -1},
	OpMakeArray:   {"MAKE_ARRAY", 1, -1},

	OpPushHandler: {"PUSH_HANDLER", 2, 0},
	OpPopHandler:  {"POP_HANDLER", 0, 0},
	OpPushExc:     {"PUSH_EXC", 0, 1},
	OpRaise:       {"RAISE", 0, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// LookupOpcode finds an opcode by its table name (case-insensitive).
func LookupOpcode(name string) (Opcode, bool) {
	name = strings.ToUpper(name)
	for op, info := range opcodeTable {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(operand))
	b.bytes = append(b.bytes, buf[:]...)
}

// EmitInt picks the shortest push for an integer constant.
func (b *BytecodeBuilder) EmitInt(n int32) {
	if n >= -128 && n <= 127 {
		b.EmitInt8(OpPushInt8, int8(n))
		return
	}
	b.EmitInt32(OpPushInt32, n)
}

// EmitSend appends a SEND instruction.
func (b *BytecodeBuilder) EmitSend(selector uint16, argc uint8) {
	b.bytes = append(b.bytes, byte(OpSend), byte(selector), byte(selector>>8), argc)
}

// EmitMakeClosure appends a MAKE_CLOSURE instruction.
func (b *BytecodeBuilder) EmitMakeClosure(blockIndex uint16, nCaptures uint8) {
	b.bytes = append(b.bytes, byte(OpMakeClosure), byte(blockIndex), byte(blockIndex>>8), nCaptures)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2) // offset from after the operand
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// Resolved reports whether Mark has been called.
func (l *Label) Resolved() bool {
	return l.resolved
}

// EmitJump emits a jump-style instruction (jumps and PUSH_HANDLER) to a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0)
	}
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	op := Opcode(r.ReadByte())
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt32 reads a 32-bit operand (little-endian).
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position and advances the reader.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpPushInt8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, int8(r.ReadByte()))

	case OpPushTemp, OpStoreTemp, OpPushUpvar, OpStoreUpvar, OpMakeArray:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())

	case OpPushLiteral, OpPushGlobal, OpStoreGlobal:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadUint16())

	case OpJump, OpJumpTrue, OpJumpFalse, OpPushHandler:
		offset := int16(r.ReadUint16())
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpPushInt32:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt32())

	case OpSend:
		selector := r.ReadUint16()
		argc := r.ReadByte()
		return fmt.Sprintf("%04d  %s selector=%d argc=%d", pos, info.Name, selector, argc)

	case OpMakeClosure:
		idx := r.ReadUint16()
		n := r.ReadByte()
		return fmt.Sprintf("%04d  %s block=%d captures=%d", pos, info.Name, idx, n)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
