package vm

// ---------------------------------------------------------------------------
// Fiber primitives
// ---------------------------------------------------------------------------

func (i *Interpreter) registerFiberPrimitives() {
	c := i.FiberClass

	// Fiber.new { |*args| ... }
	c.DefineClassNative("new", func(i *Interpreter, self Value, args []Value) Value {
		if len(args) == 0 {
			i.Raisef(i.ArgumentErrorClass, "tried to create Proc object without a block")
		}
		return i.NewFiber(args[0])
	})

	c.DefineClassNative("yield", func(i *Interpreter, self Value, args []Value) Value {
		return i.Yield(args...)
	})

	c.DefineClassNative("current", func(i *Interpreter, self Value, args []Value) Value {
		return i.Current()
	})

	c.DefineNative("resume", func(i *Interpreter, self Value, args []Value) Value {
		return i.Resume(self.(*Fiber), args...)
	})

	c.DefineNative("transfer", func(i *Interpreter, self Value, args []Value) Value {
		return i.Transfer(self.(*Fiber), args...)
	})

	c.DefineNative("alive?", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Fiber).Alive()
	})

	c.DefineNative("inspect", func(i *Interpreter, self Value, args []Value) Value {
		return self.(*Fiber).String()
	})
}
