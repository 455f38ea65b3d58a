package value

// Builtin names an entry in the dispatch registry. The implementation is
// never stored here; both engines resolve the name through the one registry.
type Builtin struct {
	Name string
}

func (Builtin) isValue()       {}
func (Builtin) Kind() Kind     { return KindBuiltin }
func (b Builtin) Clone() Value { return b }
func (Builtin) Release()       {}
func (Builtin) Truthy() bool   { return true }

// Fn is a user function or closure. Impl is the engine payload: the
// interpreter attaches its captured environment, the VM a compiled function
// with free variables. Name and Arity are the engine-independent surface.
type Fn struct {
	Name  string
	Arity int
	Impl  any
}

func (Fn) isValue()       {}
func (Fn) Kind() Kind     { return KindFn }
func (f Fn) Clone() Value { return f }
func (Fn) Release()       {}
func (Fn) Truthy() bool   { return true }

// Native is a host function injected by an embedder.
type Native struct {
	Name string
	F    func(args []Value) (Value, error)
}

func (Native) isValue()       {}
func (Native) Kind() Kind     { return KindNative }
func (n Native) Clone() Value { return n }
func (Native) Release()       {}
func (Native) Truthy() bool   { return true }
