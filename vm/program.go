package vm

import (
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// CompiledFn is one compiled code object. It lives in the constant pool and
// is shared between every invocation; the machine never mutates it.
type CompiledFn struct {
	Name      string
	Code      []byte
	NumParams int
	NumLocals int
	NumFrees  int
	Span      sem.Span
}

// closureBody is the engine-private payload of a value.Fn: the code object
// plus captured values.
type closureBody struct {
	fn   *CompiledFn
	free []value.Value
}

// Program is a compiled unit: the constant pool, the main code object and
// the global frame layout. It is immutable after compilation; any number of
// machines may run it concurrently, each with its own global frame.
type Program struct {
	Consts      []value.Value
	Main        *CompiledFn
	GlobalNames []string
}

// NumGlobals is the size of the global frame a machine must allocate.
func (p *Program) NumGlobals() int { return len(p.GlobalNames) }
