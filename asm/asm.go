// Package asm assembles a line-oriented text form into vm.CompiledMethod
// programs. It is the program loader used by the strand command and tests.
//
// A program is a sequence of method bodies:
//
//	method NAME [arity=N] [temps=N] [file=F]   top-level method; "main" is the entry
//	def CLASS NAME [arity=N] [temps=N]         instance method on CLASS
//	  block NAME [arity=N] [temps=N]           nested block body, used by closure
//	  ...
//	  end
//	  line N                                   source line for what follows
//	  LABEL:                                   jump or rescue target
//	  OPCODE [operands]                        lower-case opcode mnemonic
//	end
//
// Besides the opcode mnemonics, push_int N, push_str "s" and
// closure BLOCK [CAPTURES] pick the right encoding for their operand.
package asm

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/strand/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("strand.asm")

// MainMethod is the name of the program entry point.
const MainMethod = "main"

// Error is an assembly error with its source position.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// Def is a method to be installed on a class.
type Def struct {
	Class  string
	Method *vm.CompiledMethod
}

// Program is an assembled source file.
type Program struct {
	File    string
	Methods []*vm.CompiledMethod // top-level methods in source order
	Defs    []Def
}

// Main returns the entry method, or nil if the program has none.
func (p *Program) Main() *vm.CompiledMethod {
	return p.Method(MainMethod)
}

// Method returns the top-level method called name.
func (p *Program) Method(name string) *vm.CompiledMethod {
	for _, m := range p.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Install defines the program's methods in interp. Top-level methods other
// than main become Object instance methods; classes named by def that do
// not exist yet are created as subclasses of Object.
func (p *Program) Install(interp *vm.Interpreter) {
	for _, m := range p.Methods {
		if m.Name != MainMethod {
			interp.ObjectClass.Define(m.Name, &vm.Closure{Method: m})
		}
	}
	for _, d := range p.Defs {
		class := interp.Classes.Lookup(d.Class)
		if class == nil {
			class = interp.DefineClass(d.Class, nil)
			log.Debugf("created class %s", d.Class)
		}
		class.Define(d.Method.Name, &vm.Closure{Method: d.Method})
	}
}

// Disassemble renders every method and block of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for _, m := range p.Methods {
		writeMethod(&sb, "method", m, 0)
	}
	for _, d := range p.Defs {
		writeMethod(&sb, "def "+d.Class, d.Method, 0)
	}
	return sb.String()
}

func writeMethod(sb *strings.Builder, kind string, m *vm.CompiledMethod, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s %s arity=%d temps=%d\n", indent, kind, m.Name, m.Arity, m.NumTemps)
	for n, lit := range m.Literals {
		fmt.Fprintf(sb, "%s  ; literal %d = %s\n", indent, n, vm.Inspect(lit))
	}
	for _, block := range m.Blocks {
		writeMethod(sb, "block", block, depth+1)
	}
	for _, line := range strings.Split(m.Disassemble(), "\n") {
		if line != "" {
			fmt.Fprintf(sb, "%s  %s\n", indent, line)
		}
	}
	fmt.Fprintf(sb, "%send\n", indent)
}

// AssembleFile reads and assembles the file at path.
func AssembleFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Assemble(filepath.Base(path), string(data))
}

// Assemble assembles source. file names the program in backtraces.
func Assemble(file, source string) (*Program, error) {
	a := &assembler{prog: &Program{File: file}, file: file}
	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		a.line++
		fields, err := splitLine(scanner.Text())
		if err != nil {
			return nil, a.errorf("%v", err)
		}
		if len(fields) == 0 {
			continue
		}
		if err := a.statement(fields); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}
	if len(a.units) > 0 {
		u := a.top()
		return nil, &Error{File: file, Line: u.start, Msg: fmt.Sprintf("missing end for %s %s", u.kind, u.name)}
	}
	log.Debugf("assembled %s: %d methods, %d defs", file, len(a.prog.Methods), len(a.prog.Defs))
	return a.prog, nil
}

// ---------------------------------------------------------------------------
// Assembler state
// ---------------------------------------------------------------------------

// unit is a method or block body being assembled.
type unit struct {
	kind   string // method, def or block
	name   string
	class  string
	start  int
	file   string
	temps  int
	b      *vm.CompiledMethodBuilder
	labels map[string]*vm.Label
	used   map[string]int // label -> first referencing line
	blocks map[string]int // block name -> index
}

type assembler struct {
	prog  *Program
	file  string
	line  int
	units []*unit
}

func (a *assembler) errorf(format string, args ...any) *Error {
	return &Error{File: a.file, Line: a.line, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) top() *unit {
	return a.units[len(a.units)-1]
}

func (a *assembler) statement(fields []field) error {
	head := fields[0]
	if len(a.units) == 0 {
		switch head.text {
		case "method":
			if len(fields) < 2 {
				return a.errorf("method needs a name")
			}
			if a.prog.Method(fields[1].text) != nil {
				return a.errorf("method %s defined twice", fields[1].text)
			}
			return a.open("method", "", fields[1].text, fields[2:])
		case "def":
			if len(fields) < 3 {
				return a.errorf("def needs a class and a name")
			}
			return a.open("def", fields[1].text, fields[2].text, fields[3:])
		case "end":
			return a.errorf("end without method")
		default:
			return a.errorf("expected method or def, got %q", head.text)
		}
	}

	u := a.top()
	if head.isLabel() {
		name := strings.TrimSuffix(head.text, ":")
		label := u.label(name)
		if label.Resolved() {
			return a.errorf("label %s defined twice", name)
		}
		u.b.Bytecode().Mark(label)
		if len(fields) == 1 {
			return nil
		}
		fields = fields[1:]
		head = fields[0]
	}

	switch head.text {
	case "block":
		if len(fields) < 2 {
			return a.errorf("block needs a name")
		}
		if _, dup := u.blocks[fields[1].text]; dup {
			return a.errorf("block %s defined twice", fields[1].text)
		}
		return a.open("block", "", fields[1].text, fields[2:])
	case "end":
		if len(fields) > 1 {
			return a.errorf("unexpected %q after end", fields[1].text)
		}
		return a.close()
	case "line":
		n, err := a.intArg(fields, 1, 1, math.MaxInt32)
		if err != nil {
			return err
		}
		u.b.MarkLine(int(n))
		return nil
	}
	return a.instruction(u, fields)
}

func (a *assembler) open(kind, class, name string, attrs []field) error {
	arity, temps, file := 0, -1, a.file
	if len(a.units) > 0 {
		file = a.top().file
	}
	for _, f := range attrs {
		key, value, ok := strings.Cut(f.text, "=")
		if !ok || f.quoted {
			return a.errorf("expected key=value, got %q", f.text)
		}
		switch key {
		case "arity":
			n, err := strconv.Atoi(value)
			if err != nil || n > 255 || n < -256 {
				return a.errorf("bad arity %q", value)
			}
			arity = n
		case "temps":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 || n > 255 {
				return a.errorf("bad temps %q", value)
			}
			temps = n
		case "file":
			if kind == "block" {
				return a.errorf("blocks take the file of their method")
			}
			file = value
		default:
			return a.errorf("unknown attribute %q", key)
		}
	}

	required := arity
	if arity < 0 {
		required = -arity
	}
	b := vm.NewCompiledMethodBuilder(name, arity).SetFile(file)
	if temps >= 0 {
		if temps < required {
			return a.errorf("temps=%d is less than the %d parameter registers", temps, required)
		}
		b.SetNumTemps(temps)
	} else {
		temps = required
	}
	a.units = append(a.units, &unit{
		kind:   kind,
		name:   name,
		class:  class,
		start:  a.line,
		file:   file,
		temps:  temps,
		b:      b,
		labels: make(map[string]*vm.Label),
		used:   make(map[string]int),
		blocks: make(map[string]int),
	})
	return nil
}

func (a *assembler) close() error {
	u := a.top()
	for name, line := range u.used {
		if !u.labels[name].Resolved() {
			return &Error{File: a.file, Line: line, Msg: fmt.Sprintf("undefined label %s", name)}
		}
	}
	a.units = a.units[:len(a.units)-1]
	m := u.b.Build()

	switch u.kind {
	case "method":
		a.prog.Methods = append(a.prog.Methods, m)
	case "def":
		a.prog.Defs = append(a.prog.Defs, Def{Class: u.class, Method: m})
	case "block":
		parent := a.top()
		parent.blocks[u.name] = parent.b.AddBlock(m)
	}
	return nil
}

func (u *unit) label(name string) *vm.Label {
	l, ok := u.labels[name]
	if !ok {
		l = u.b.Bytecode().NewLabel()
		u.labels[name] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (a *assembler) instruction(u *unit, fields []field) error {
	bc := u.b.Bytecode()
	mnemonic := fields[0].text

	switch mnemonic {
	case "push_int":
		n, err := a.intArg(fields, 1, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			bc.EmitInt(int32(n))
		} else {
			bc.EmitUint16(vm.OpPushLiteral, uint16(u.b.AddLiteral(n)))
		}
		return a.noMore(fields, 2)

	case "push_str":
		if len(fields) < 2 || !fields[1].quoted {
			return a.errorf("push_str needs a quoted string")
		}
		u.b.PushString(fields[1].text)
		return a.noMore(fields, 2)

	case "closure":
		return a.closure(u, fields)
	}

	op, ok := vm.LookupOpcode(mnemonic)
	if !ok || strings.ToLower(mnemonic) != mnemonic {
		return a.errorf("unknown instruction %q", mnemonic)
	}

	switch op {
	case vm.OpPushInt8:
		n, err := a.intArg(fields, 1, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		bc.EmitInt8(op, int8(n))

	case vm.OpPushInt32:
		n, err := a.intArg(fields, 1, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		bc.EmitInt32(op, int32(n))

	case vm.OpPushLiteral:
		if len(fields) < 2 {
			return a.errorf("push_literal needs a value")
		}
		if fields[1].quoted {
			u.b.PushString(fields[1].text)
			break
		}
		n, err := a.intArg(fields, 1, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		bc.EmitUint16(op, uint16(u.b.AddLiteral(n)))

	case vm.OpPushTemp, vm.OpStoreTemp, vm.OpPushUpvar, vm.OpStoreUpvar, vm.OpMakeArray:
		n, err := a.intArg(fields, 1, 0, math.MaxUint8)
		if err != nil {
			return err
		}
		if (op == vm.OpPushTemp || op == vm.OpStoreTemp) && int(n) >= u.temps {
			return a.errorf("register %d out of range (temps=%d)", n, u.temps)
		}
		bc.EmitByte(op, byte(n))

	case vm.OpPushGlobal, vm.OpStoreGlobal:
		name, err := a.nameArg(fields, 1)
		if err != nil {
			return err
		}
		bc.EmitUint16(op, uint16(u.b.AddLiteral(name)))

	case vm.OpSend:
		sel, err := a.nameArg(fields, 1)
		if err != nil {
			return err
		}
		argc, err := a.intArg(fields, 2, 0, math.MaxUint8)
		if err != nil {
			return err
		}
		u.b.Send(sel, int(argc))
		return a.noMore(fields, 3)

	case vm.OpJump, vm.OpJumpTrue, vm.OpJumpFalse, vm.OpPushHandler:
		name, err := a.nameArg(fields, 1)
		if err != nil {
			return err
		}
		if _, seen := u.used[name]; !seen {
			u.used[name] = a.line
		}
		bc.EmitJump(op, u.label(name))

	case vm.OpMakeClosure:
		return a.closure(u, fields)

	default:
		if op.Info().OperandBytes != 0 {
			return a.errorf("%s cannot be assembled directly", mnemonic)
		}
		bc.Emit(op)
		return a.noMore(fields, 1)
	}
	return a.noMore(fields, 2)
}

// closure emits MAKE_CLOSURE for a block declared earlier in the unit.
func (a *assembler) closure(u *unit, fields []field) error {
	name, err := a.nameArg(fields, 1)
	if err != nil {
		return err
	}
	idx, ok := u.blocks[name]
	if !ok {
		return a.errorf("undefined block %s", name)
	}
	var captures int64
	if len(fields) > 2 {
		if captures, err = a.intArg(fields, 2, 0, math.MaxUint8); err != nil {
			return err
		}
	}
	u.b.Bytecode().EmitMakeClosure(uint16(idx), uint8(captures))
	return a.noMore(fields, 3)
}

func (a *assembler) intArg(fields []field, n int, min, max int64) (int64, error) {
	if len(fields) <= n {
		return 0, a.errorf("%s needs an integer operand", fields[0].text)
	}
	v, err := strconv.ParseInt(fields[n].text, 0, 64)
	if err != nil || fields[n].quoted {
		return 0, a.errorf("bad integer %q", fields[n].text)
	}
	if v < min || v > max {
		return 0, a.errorf("%d out of range [%d, %d]", v, min, max)
	}
	return v, nil
}

func (a *assembler) nameArg(fields []field, n int) (string, error) {
	if len(fields) <= n {
		return "", a.errorf("%s needs a name operand", fields[0].text)
	}
	return fields[n].text, nil
}

func (a *assembler) noMore(fields []field, n int) error {
	if len(fields) > n {
		return a.errorf("unexpected operand %q", fields[n].text)
	}
	return nil
}
