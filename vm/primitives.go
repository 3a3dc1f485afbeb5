package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Object and Kernel primitives
// ---------------------------------------------------------------------------

func (i *Interpreter) registerObjectPrimitives() {
	c := i.ObjectClass

	// raise / raise "msg" / raise Class / raise Class, "msg" / raise exc
	c.DefineNative("raise", func(i *Interpreter, self Value, args []Value) Value {
		if len(args) > 2 {
			i.Raisef(i.ArgumentErrorClass, "wrong number of arguments (given %d, expected 0..2)", len(args))
		}
		i.Raise(i.exceptionFrom(args))
		return nil
	})

	c.DefineNative("puts", func(i *Interpreter, self Value, args []Value) Value {
		if len(args) == 0 {
			fmt.Fprintln(i.opts.Stdout)
		}
		for _, a := range args {
			fmt.Fprintln(i.opts.Stdout, ToS(a))
		}
		return nil
	})

	c.DefineNative("p", func(i *Interpreter, self Value, args []Value) Value {
		for _, a := range args {
			fmt.Fprintln(i.opts.Stdout, Inspect(a))
		}
		return packValues(args)
	})

	c.DefineNative("inspect", func(i *Interpreter, self Value, args []Value) Value {
		return Inspect(self)
	})

	c.DefineNative("to_s", func(i *Interpreter, self Value, args []Value) Value {
		return ToS(self)
	})

	c.DefineNative("class", func(i *Interpreter, self Value, args []Value) Value {
		return i.ClassOf(self)
	})

	c.DefineNative("nil?", func(i *Interpreter, self Value, args []Value) Value {
		return self == nil
	})

	c.DefineNative("==", func(i *Interpreter, self Value, args []Value) Value {
		return len(args) == 1 && self == args[0]
	})

	c.DefineNative("kind_of?", func(i *Interpreter, self Value, args []Value) Value {
		class, ok := argAt(args, 0).(*Class)
		if !ok {
			i.Raisef(i.TypeErrorClass, "class or module required")
		}
		return i.ClassOf(self).IsSubclassOf(class)
	})

	// protect { ... } returns [result, false] or [exception, true]
	c.DefineNative("protect", func(i *Interpreter, self Value, args []Value) Value {
		block := i.blockArg(args, 0)
		v, raised := i.Protect(func(i *Interpreter, data Value) Value {
			return i.Call(data.(*Closure), nil)
		}, block)
		return NewArray(v, raised)
	})

	// ensure(body, cleanup) runs cleanup however body finishes
	c.DefineNative("ensure", func(i *Interpreter, self Value, args []Value) Value {
		body := i.blockArg(args, 0)
		cleanup := i.blockArg(args, 1)
		return i.Ensure(callBlock, body, callBlock, cleanup)
	})

	// rescue(body, handler, *classes) hands matching exceptions to handler
	c.DefineNative("rescue", func(i *Interpreter, self Value, args []Value) Value {
		body := i.blockArg(args, 0)
		handler := i.blockArg(args, 1)
		var classes []*Class
		for _, a := range args[2:] {
			class, ok := a.(*Class)
			if !ok || !class.IsSubclassOf(i.ExceptionClass) {
				i.Raisef(i.TypeErrorClass, "class or module required for rescue clause")
			}
			classes = append(classes, class)
		}
		return i.RescueMatching(callBlock, body, func(i *Interpreter, data Value, exc *Exception) Value {
			return i.Call(data.(*Closure), nil, exc)
		}, handler, classes...)
	})

	cls := i.ClassClass
	cls.DefineNative("name", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Class).Name
	})
	cls.DefineNative("new", func(i *Interpreter, self Value, args []Value) Value {
		class := self.(*Class)
		if class.IsSubclassOf(i.ExceptionClass) {
			msg := class.Name
			if len(args) > 0 {
				msg = ToS(args[0])
			}
			return i.NewException(class, msg)
		}
		i.Raisef(i.TypeErrorClass, "allocator undefined for %s", class.Name)
		return nil
	})
	cls.DefineNative("superclass", func(i *Interpreter, self Value, args []Value) Value {
		if sc := self.(*Class).Superclass; sc != nil {
			return sc
		}
		return nil
	})

	i.IntegerClass.DefineNative("to_s", func(i *Interpreter, self Value, args []Value) Value {
		return ToS(self)
	})

	i.StringClass.DefineNative("+", func(i *Interpreter, self Value, args []Value) Value {
		other, ok := argAt(args, 0).(string)
		if !ok {
			i.Raisef(i.TypeErrorClass, "no implicit conversion of %s into String", i.ClassOf(argAt(args, 0)).Name)
		}
		return self.(string) + other
	})
	i.StringClass.DefineNative("size", func(i *Interpreter, self Value, args []Value) Value {
		return int64(len(self.(string)))
	})
	i.StringClass.DefineNative("include?", func(i *Interpreter, self Value, args []Value) Value {
		other, _ := argAt(args, 0).(string)
		return strings.Contains(self.(string), other)
	})

	i.ArrayClass.DefineNative("size", func(i *Interpreter, self Value, args []Value) Value {
		return int64(self.(*Array).Len())
	})
	i.ArrayClass.DefineNative("[]", func(i *Interpreter, self Value, args []Value) Value {
		a := self.(*Array)
		n, ok := IntValue(argAt(args, 0))
		if !ok {
			i.Raisef(i.TypeErrorClass, "no implicit conversion into Integer")
		}
		if n < 0 {
			n += int64(a.Len())
		}
		if n < 0 || n >= int64(a.Len()) {
			return nil
		}
		return a.Items[n]
	})
	i.ArrayClass.DefineNative("push", func(i *Interpreter, self Value, args []Value) Value {
		a := self.(*Array)
		a.Items = append(a.Items, args...)
		return a
	})
}

// ---------------------------------------------------------------------------
// Exception primitives
// ---------------------------------------------------------------------------

func (i *Interpreter) registerExceptionPrimitives() {
	c := i.ExceptionClass

	c.DefineNative("message", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Exception).Message
	})

	c.DefineNative("backtrace", func(i *Interpreter, self Value, args []Value) Value {
		exc := self.(*Exception)
		if !exc.HasBacktrace() {
			return nil
		}
		lines := exc.Backtrace()
		items := make([]Value, len(lines))
		for n, line := range lines {
			items[n] = line
		}
		return NewArray(items...)
	})

	c.DefineNative("inspect", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Exception).Inspect()
	})

	c.DefineNative("to_s", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Exception).Message
	})

	// exception / exception(msg) returns self or a copy with a new message
	c.DefineNative("exception", func(i *Interpreter, self Value, args []Value) Value {
		exc := self.(*Exception)
		if len(args) == 0 {
			return exc
		}
		return i.NewException(exc.Class, ToS(args[0]))
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func argAt(args []Value, n int) Value {
	if n < len(args) {
		return args[n]
	}
	return nil
}

// blockArg returns args[n] as a closure or raises TypeError.
func (i *Interpreter) blockArg(args []Value, n int) *Closure {
	c, ok := argAt(args, n).(*Closure)
	if !ok {
		i.Raisef(i.TypeErrorClass, "wrong argument type %s (expected Proc)", i.ClassOf(argAt(args, n)).Name)
	}
	return c
}

func callBlock(i *Interpreter, data Value) Value {
	return i.Call(data.(*Closure), nil)
}
