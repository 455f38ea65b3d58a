package vm

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/task"
	"github.com/strand-lang/strand/value"
)

// Options mirror the tree-walking engine's session knobs so a parity
// harness can construct both engines from one set.
type Options struct {
	Out  io.Writer
	Caps sem.Caps
	Pool *task.Pool
}

// Machine binds a compiled program to a session: registry, capabilities,
// output sink, worker pool and one global frame. Run may be called once;
// detached tasks get their own machine over a snapshot of the globals.
type Machine struct {
	prog    *Program
	reg     *sem.Registry
	out     io.Writer
	caps    sem.Caps
	pool    *task.Pool
	globals []value.Value
}

func NewMachine(prog *Program, reg *sem.Registry, opts Options) *Machine {
	return &Machine{
		prog:    prog,
		reg:     reg,
		out:     opts.Out,
		caps:    opts.Caps,
		pool:    opts.Pool,
		globals: make([]value.Value, prog.NumGlobals()),
	}
}

// Run executes the main code object. A top-level return becomes the program
// result; falling off the end yields null.
func (m *Machine) Run() (value.Value, error) {
	log.Trace().Int("consts", len(m.prog.Consts)).Int("globals", m.prog.NumGlobals()).Msg("vm run")
	e := &exec{m: m}
	e.pushFrame(&closureBody{fn: m.prog.Main})
	return e.loop()
}

// runFn executes one callable to completion on a fresh stack. Used for
// registry callbacks and detached tasks; the machine's globals are shared.
func (m *Machine) runFn(body *closureBody, args []value.Value) (value.Value, error) {
	if len(args) != body.fn.NumParams {
		return nil, sem.Errf(sem.CodeArity, body.fn.Span, "%s takes %d arguments, got %d", body.fn.Name, body.fn.NumParams, len(args))
	}
	e := &exec{m: m}
	e.stack = append(e.stack, args...)
	e.pushFrame(body)
	return e.loop()
}

func (m *Machine) applyValue(callee value.Value, args []value.Value, span sem.Span) (value.Value, error) {
	switch f := callee.(type) {
	case value.Fn:
		body, ok := f.Impl.(*closureBody)
		if !ok {
			return nil, sem.Errf(sem.CodeType, span, "function %q belongs to another engine", f.Name)
		}
		return m.runFn(body, args)
	case value.Native:
		return f.F(args)
	case value.Builtin:
		out, _, err := m.reg.Call(m.callCtx(span), f.Name, args)
		return out, err
	default:
		return nil, sem.Errf(sem.CodeType, span, "%s is not callable", callee.Kind())
	}
}

func (m *Machine) callCtx(span sem.Span) *sem.CallCtx {
	return &sem.CallCtx{
		Caps: m.caps,
		Out:  m.out,
		Span: span,
		Apply: func(fn value.Value, args []value.Value) (value.Value, error) {
			return m.applyValue(fn, args, span)
		},
		Detach: m.detach,
	}
}

// detach schedules a callable on the worker pool against a snapshot of the
// global frame. Handle copies are O(1); the atomic owner counts make the
// copy-on-write stores safe to touch from both sides.
func (m *Machine) detach(fn value.Value, args []value.Value) (value.Task, error) {
	if m.pool == nil {
		return value.Task{}, sem.Errf(sem.CodeCaps, sem.Span{}, "no worker pool in this session")
	}
	snap := make([]value.Value, len(m.globals))
	for i, g := range m.globals {
		if g != nil {
			snap[i] = g.Clone()
		}
	}
	child := &Machine{prog: m.prog, reg: m.reg, out: m.out, caps: m.caps, pool: m.pool, globals: snap}

	owned := make([]value.Value, len(args))
	for i, a := range args {
		owned[i] = a.Clone()
	}
	fn = fn.Clone()
	t := m.pool.Go(func(ctx context.Context) (value.Value, error) {
		return child.applyValue(fn, owned, sem.Span{})
	})
	return t, nil
}

type frame struct {
	body *closureBody
	ip   int
	base int
}

// exec is one synchronous execution: an operand stack plus a frame stack.
type exec struct {
	m      *Machine
	stack  []value.Value
	frames []frame
}

func (e *exec) pushFrame(body *closureBody) {
	base := len(e.stack) - body.fn.NumParams
	for len(e.stack) < base+body.fn.NumLocals {
		e.stack = append(e.stack, nil)
	}
	e.frames = append(e.frames, frame{body: body, base: base})
}

func (e *exec) push(v value.Value) { e.stack = append(e.stack, v) }

func (e *exec) pop() value.Value {
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v
}

// popN removes the top n values and returns them in stack order.
func (e *exec) popN(n int) []value.Value {
	out := make([]value.Value, n)
	copy(out, e.stack[len(e.stack)-n:])
	e.stack = e.stack[:len(e.stack)-n]
	return out
}

func badCode(format string, args ...any) error {
	return sem.Errf(sem.CodeBadCode, sem.Span{}, format, args...)
}

// readOp fetches the next opcode and its operands with full bounds checking;
// a truncated or corrupt stream surfaces as E_BADCODE, never a panic.
func (e *exec) readOp(f *frame) (Opcode, []int, error) {
	code := f.body.fn.Code
	if f.ip >= len(code) {
		return 0, nil, badCode("instruction pointer %d past end of code", f.ip)
	}
	op := Opcode(code[f.ip])
	if !op.valid() {
		return 0, nil, badCode("invalid opcode %d at %d", byte(op), f.ip)
	}
	f.ip++
	widths := operandWidths[op]
	operands := make([]int, len(widths))
	for i, w := range widths {
		if f.ip+w > len(code) {
			return 0, nil, badCode("truncated operand for %s at %d", op, f.ip)
		}
		switch w {
		case 2:
			operands[i] = int(code[f.ip])<<8 | int(code[f.ip+1])
		case 1:
			operands[i] = int(code[f.ip])
		}
		f.ip += w
	}
	return op, operands, nil
}

func (e *exec) constAt(idx int) (value.Value, error) {
	if idx < 0 || idx >= len(e.m.prog.Consts) {
		return nil, badCode("constant index %d out of range", idx)
	}
	return e.m.prog.Consts[idx], nil
}

// stackNeed is the number of operand-stack values an instruction consumes or
// inspects. The loop verifies the depth before dispatching so malformed code
// underflows as E_BADCODE instead of an out-of-range access.
func stackNeed(op Opcode, operands []int) int {
	switch op {
	case OpPop, OpUnary, OpJumpFalse, OpJumpFalsePeek, OpJumpTruePeek,
		OpSetGlobal, OpSetLocal, OpReturn:
		return 1
	case OpBinary, OpIndex, OpIndexAssignLocal, OpIndexAssignGlobal:
		return 2
	case OpSlice:
		return 3
	case OpArray:
		return operands[0]
	case OpMap:
		return operands[0] * 2
	case OpCall:
		return operands[0] + 1
	case OpCallBuiltin, OpCallBuiltinLocal, OpCallBuiltinGlobal:
		return operands[1]
	case OpClosure:
		return operands[1]
	}
	return 0
}

// localSlot validates a local operand against the frame's declared size.
func (e *exec) localSlot(f *frame, slot int) (int, error) {
	if slot < 0 || slot >= f.body.fn.NumLocals {
		return 0, badCode("local slot %d out of range", slot)
	}
	return f.base + slot, nil
}

func (e *exec) loop() (value.Value, error) {
	for {
		f := &e.frames[len(e.frames)-1]
		op, operands, err := e.readOp(f)
		if err != nil {
			return nil, err
		}
		log.Trace().Int("ip", f.ip).Str("op", op.String()).Msg("vm step")
		if n := stackNeed(op, operands); len(e.stack)-n < f.base+f.body.fn.NumLocals {
			return nil, badCode("operand stack underflow for %s at %d", op, f.ip)
		}

		switch op {
		case OpConst:
			c, err := e.constAt(operands[0])
			if err != nil {
				return nil, err
			}
			e.push(c.Clone())
		case OpNull:
			e.push(value.NullValue)
		case OpTrue:
			e.push(value.True)
		case OpFalse:
			e.push(value.False)
		case OpPop:
			e.pop().Release()

		case OpBinary:
			y, x := e.pop(), e.pop()
			out, err := sem.Binary(sem.BinOp(operands[0]), x, y, sem.Span{})
			x.Release()
			y.Release()
			if err != nil {
				return nil, err
			}
			e.push(out)
		case OpUnary:
			x := e.pop()
			out, err := sem.Unary(sem.UnOp(operands[0]), x, sem.Span{})
			x.Release()
			if err != nil {
				return nil, err
			}
			e.push(out)

		case OpJump:
			if err := e.jumpTo(f, operands[0]); err != nil {
				return nil, err
			}
		case OpJumpFalse:
			cond := e.pop()
			truthy := cond.Truthy()
			cond.Release()
			if !truthy {
				if err := e.jumpTo(f, operands[0]); err != nil {
					return nil, err
				}
			}
		case OpJumpFalsePeek:
			if !e.stack[len(e.stack)-1].Truthy() {
				if err := e.jumpTo(f, operands[0]); err != nil {
					return nil, err
				}
			}
		case OpJumpTruePeek:
			if e.stack[len(e.stack)-1].Truthy() {
				if err := e.jumpTo(f, operands[0]); err != nil {
					return nil, err
				}
			}

		case OpGetGlobal:
			v, err := e.globalAt(operands[0])
			if err != nil {
				return nil, err
			}
			e.push(v.Clone())
		case OpMoveGlobal:
			v, err := e.globalAt(operands[0])
			if err != nil {
				return nil, err
			}
			e.push(v)
		case OpSetGlobal:
			slot := operands[0]
			if slot >= len(e.m.globals) {
				return nil, badCode("global slot %d out of range", slot)
			}
			if old := e.m.globals[slot]; old != nil {
				old.Release()
			}
			e.m.globals[slot] = e.pop()
		case OpGetLocal, OpMoveLocal:
			slot, err := e.localSlot(f, operands[0])
			if err != nil {
				return nil, err
			}
			v := e.stack[slot]
			if v == nil {
				return nil, sem.Errf(sem.CodeUndefined, f.body.fn.Span, "name used before definition")
			}
			if op == OpGetLocal {
				v = v.Clone()
			}
			e.push(v)
		case OpSetLocal:
			slot, err := e.localSlot(f, operands[0])
			if err != nil {
				return nil, err
			}
			if old := e.stack[slot]; old != nil {
				old.Release()
			}
			e.stack[slot] = e.pop()
		case OpGetFree:
			if operands[0] >= len(f.body.free) {
				return nil, badCode("free slot %d out of range", operands[0])
			}
			e.push(f.body.free[operands[0]].Clone())

		case OpArray:
			e.push(value.NewArray(e.popN(operands[0])...))
		case OpMap:
			n := operands[0]
			pairs := e.popN(n * 2)
			m := value.NewMap()
			for i := 0; i < n; i++ {
				kv, val := pairs[i*2], pairs[i*2+1]
				k, ok := value.KeyOf(kv)
				if !ok {
					kind := kv.Kind()
					kv.Release()
					val.Release()
					m.Release()
					return nil, sem.Errf(sem.CodeType, sem.Span{}, "%s is not a valid map key", kind)
				}
				kv.Release()
				m = m.WithPut(k, val)
			}
			e.push(m)

		case OpIndex:
			idx, recv := e.pop(), e.pop()
			out, err := sem.Index(recv, idx, sem.Span{})
			recv.Release()
			idx.Release()
			if err != nil {
				return nil, err
			}
			e.push(out)
		case OpSlice:
			hi, lo, recv := e.pop(), e.pop(), e.pop()
			out, err := sem.Slice(recv, lo, hi, sem.Span{})
			recv.Release()
			lo.Release()
			hi.Release()
			if err != nil {
				return nil, err
			}
			e.push(out)

		case OpIndexAssignLocal, OpIndexAssignGlobal:
			val, idx := e.pop(), e.pop()
			var recv value.Value
			slot := operands[0]
			if op == OpIndexAssignGlobal {
				recv, err = e.globalAt(slot)
			} else {
				slot, err = e.localSlot(f, slot)
				if err == nil {
					recv = e.stack[slot]
					if recv == nil {
						err = sem.Errf(sem.CodeUndefined, f.body.fn.Span, "name used before definition")
					}
				}
			}
			if err != nil {
				idx.Release()
				val.Release()
				return nil, err
			}
			out, serr := sem.SetIndex(recv, idx, val, sem.Span{})
			idx.Release()
			if serr != nil {
				val.Release()
				return nil, serr
			}
			if op == OpIndexAssignGlobal {
				e.m.globals[slot] = out
			} else {
				e.stack[slot] = out
			}

		case OpCall:
			if err := e.call(operands[0]); err != nil {
				return nil, err
			}
		case OpCallBuiltin, OpCallBuiltinLocal, OpCallBuiltinGlobal:
			if err := e.callBuiltin(f, op, operands); err != nil {
				return nil, err
			}

		case OpClosure:
			c, err := e.constAt(operands[0])
			if err != nil {
				return nil, err
			}
			fn, ok := c.(value.Fn)
			if !ok {
				return nil, badCode("closure constant %d is not a function", operands[0])
			}
			tmpl := fn.Impl.(*closureBody)
			free := e.popN(operands[1])
			e.push(value.Fn{Name: fn.Name, Arity: fn.Arity, Impl: &closureBody{fn: tmpl.fn, free: free}})

		case OpReturn:
			ret := e.pop()
			if done := e.popFrameWith(ret); done {
				return ret, nil
			}
		case OpReturnNull:
			if done := e.popFrameWith(value.NullValue); done {
				return value.NullValue, nil
			}
		case OpHalt:
			return value.NullValue, nil

		default:
			return nil, badCode("unhandled opcode %s", op)
		}
	}
}

func (e *exec) jumpTo(f *frame, target int) error {
	if target > len(f.body.fn.Code) {
		return badCode("jump target %d past end of code", target)
	}
	f.ip = target
	return nil
}

func (e *exec) globalAt(slot int) (value.Value, error) {
	if slot >= len(e.m.globals) {
		return nil, badCode("global slot %d out of range", slot)
	}
	v := e.m.globals[slot]
	if v == nil {
		name := "?"
		if slot < len(e.m.prog.GlobalNames) {
			name = e.m.prog.GlobalNames[slot]
		}
		return nil, sem.Errf(sem.CodeUndefined, sem.Span{}, "undefined name %q", name)
	}
	return v, nil
}

// popFrameWith tears down the current frame, releasing its locals, and
// pushes ret for the caller. Returns true when the popped frame was the
// outermost one.
func (e *exec) popFrameWith(ret value.Value) bool {
	f := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	for i := f.base; i < len(e.stack); i++ {
		if e.stack[i] != nil {
			e.stack[i].Release()
		}
	}
	e.stack = e.stack[:f.base]
	if len(e.frames) == 0 {
		return true
	}
	// Drop the callee value sitting under the arguments.
	e.pop().Release()
	e.push(ret)
	return false
}

func (e *exec) call(argc int) error {
	callee := e.stack[len(e.stack)-1-argc]
	switch fn := callee.(type) {
	case value.Fn:
		body, ok := fn.Impl.(*closureBody)
		if !ok {
			return sem.Errf(sem.CodeType, sem.Span{}, "function %q belongs to another engine", fn.Name)
		}
		if argc != body.fn.NumParams {
			return sem.Errf(sem.CodeArity, body.fn.Span, "%s takes %d arguments, got %d", fn.Name, body.fn.NumParams, argc)
		}
		log.Trace().Str("fn", fn.Name).Int("argc", argc).Msg("vm call")
		e.pushFrame(body)
		return nil
	case value.Native, value.Builtin:
		args := e.popN(argc)
		e.pop().Release()
		out, err := e.m.applyValue(callee, args, sem.Span{})
		if err != nil {
			return err
		}
		e.push(out)
		return nil
	default:
		return sem.Errf(sem.CodeType, sem.Span{}, "%s is not callable", callee.Kind())
	}
}

// callBuiltin dispatches through the registry. The write-back variants were
// compiled with a move-loaded receiver; when the registry returns a new
// receiver it lands back in the originating slot, otherwise the moved handle
// is still the slot's value and nothing changes.
func (e *exec) callBuiltin(f *frame, op Opcode, operands []int) error {
	nameConst, err := e.constAt(operands[0])
	if err != nil {
		return err
	}
	name, ok := nameConst.(value.Str)
	if !ok {
		return badCode("builtin name constant %d is not a string", operands[0])
	}
	var slot int
	if op == OpCallBuiltinLocal {
		if slot, err = e.localSlot(f, operands[2]); err != nil {
			return err
		}
	}
	argc := operands[1]
	args := e.popN(argc)

	out, recv, err := e.m.reg.Call(e.m.callCtx(f.body.fn.Span), string(name), args)
	if err != nil {
		return err
	}
	if recv != nil {
		switch op {
		case OpCallBuiltinLocal:
			e.stack[slot] = recv
		case OpCallBuiltinGlobal:
			if operands[2] >= len(e.m.globals) {
				recv.Release()
				return badCode("global slot %d out of range", operands[2])
			}
			e.m.globals[operands[2]] = recv
		default:
			recv.Release()
		}
	}
	e.push(out)
	return nil
}
