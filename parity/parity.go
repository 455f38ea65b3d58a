// Package parity runs the same program through both engines and checks that
// they agree. Agreement means: same result value, same printed output, and
// on failure the same stable error code. The corpus in this package is the
// executable definition of "the engines implement one language".
package parity

import (
	"bytes"

	"github.com/strand-lang/strand/interp"
	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/stdlib"
	"github.com/strand-lang/strand/task"
	"github.com/strand-lang/strand/value"
	"github.com/strand-lang/strand/vm"
)

// Outcome is one engine's observable result for a program.
type Outcome struct {
	Value  string   // deterministic rendering of the result value
	Output string   // everything the program printed
	Code   sem.Code // stable error code, or "" on success
}

// Options configure one parity run. The zero value grants all capabilities
// and a default worker pool.
type Options struct {
	Caps    *sem.Caps
	Workers int
}

// RunBoth executes src on the tree-walking engine and the bytecode engine
// under identical sessions and returns both outcomes. The bytecode side
// round-trips through the serialized artifact, so the artifact format is
// exercised on every parity check.
func RunBoth(src string, opts Options) (tree Outcome, bytec Outcome, err error) {
	reg := stdlib.Default()
	caps := sem.AllCaps()
	if opts.Caps != nil {
		caps = *opts.Caps
	}

	prog, lerr := lang.LowerSource("parity.str", src, reg.Has)
	if lerr != nil {
		return Outcome{}, Outcome{}, lerr
	}

	tree = runTree(prog, reg, caps, opts.Workers)
	bytec = runBytecode(prog, reg, caps, opts.Workers)
	return tree, bytec, nil
}

func runTree(prog *lang.Program, reg *sem.Registry, caps sem.Caps, workers int) Outcome {
	var out bytes.Buffer
	pool := task.NewPool(workers)
	eng := interp.New(reg, interp.Options{Out: &out, Caps: caps, Pool: pool})
	v, err := eng.Run(prog)
	pool.Wait()
	if err != nil {
		return outcome("", out.String(), err)
	}
	defer v.Release()
	return outcome(value.Format(v), out.String(), nil)
}

func runBytecode(prog *lang.Program, reg *sem.Registry, caps sem.Caps, workers int) Outcome {
	compiled, err := vm.Compile(prog, reg)
	if err != nil {
		return outcome("", "", err)
	}
	data, err := vm.Encode(compiled)
	if err != nil {
		return outcome("", "", err)
	}
	decoded, err := vm.Decode(data)
	if err != nil {
		return outcome("", "", err)
	}

	var out bytes.Buffer
	pool := task.NewPool(workers)
	m := vm.NewMachine(decoded, reg, vm.Options{Out: &out, Caps: caps, Pool: pool})
	v, rerr := m.Run()
	pool.Wait()
	if rerr != nil {
		return outcome("", out.String(), rerr)
	}
	defer v.Release()
	return outcome(value.Format(v), out.String(), nil)
}

func outcome(val, output string, err error) Outcome {
	if err != nil {
		return Outcome{Code: sem.CodeOf(err), Output: output}
	}
	return Outcome{Value: val, Output: output}
}
