package vm

import "sort"

// ---------------------------------------------------------------------------
// Class: the minimal class model the scheduler and exceptions need
// ---------------------------------------------------------------------------

// Class is a named class with single inheritance and two method tables:
// instance methods and class-side methods.
type Class struct {
	Name       string
	Superclass *Class

	methods      map[string]*Closure
	classMethods map[string]*Closure
}

// NewClass creates a class with the given superclass (nil for a root).
func NewClass(name string, superclass *Class) *Class {
	return &Class{
		Name:         name,
		Superclass:   superclass,
		methods:      make(map[string]*Closure),
		classMethods: make(map[string]*Closure),
	}
}

// IsSubclassOf returns true if c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// Define installs an instance method.
func (c *Class) Define(selector string, method *Closure) {
	c.methods[selector] = method
}

// DefineNative installs a native instance method.
func (c *Class) DefineNative(selector string, fn NativeFunc) {
	c.Define(selector, &Closure{Native: fn, Name: c.Name + "#" + selector})
}

// DefineClassNative installs a native class-side method.
func (c *Class) DefineClassNative(selector string, fn NativeFunc) {
	c.classMethods[selector] = &Closure{Native: fn, Name: c.Name + "." + selector}
}

// Lookup finds an instance method, walking the superclass chain.
func (c *Class) Lookup(selector string) *Closure {
	for current := c; current != nil; current = current.Superclass {
		if m, ok := current.methods[selector]; ok {
			return m
		}
	}
	return nil
}

// LookupClassSide finds a class-side method, walking the superclass chain.
func (c *Class) LookupClassSide(selector string) *Closure {
	for current := c; current != nil; current = current.Superclass {
		if m, ok := current.classMethods[selector]; ok {
			return m
		}
	}
	return nil
}

// Selectors returns the sorted instance selectors defined directly on c.
func (c *Class) Selectors() []string {
	out := make([]string, 0, len(c.methods))
	for s := range c.methods {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// ClassTable
// ---------------------------------------------------------------------------

// ClassTable maps class names to classes. It is owned by one interpreter
// and only touched from the interpreter's goroutine.
type ClassTable struct {
	classes map[string]*Class
}

// NewClassTable creates an empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{classes: make(map[string]*Class)}
}

// Register adds a class, returning any class previously registered under
// the same name.
func (ct *ClassTable) Register(c *Class) *Class {
	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	return ct.classes[name]
}

// Names returns all registered class names, sorted.
func (ct *ClassTable) Names() []string {
	out := make([]string, 0, len(ct.classes))
	for n := range ct.classes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
