package vm

import (
	"github.com/dgryski/go-farm"
	"github.com/shamaton/msgpack/v2"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// Version is the artifact format version. It changes whenever the opcode
// set, the operand encoding or the constant encoding changes; a machine
// never executes an artifact from a different version.
const Version uint16 = 1

const (
	wireNull uint8 = iota
	wireNum
	wireStr
	wireBool
	wireBuiltin
	wireFnKind
)

type wireFn struct {
	Name      string
	Code      []byte
	NumParams int
	NumLocals int
	NumFrees  int
	Line      int32
	Col       int32
}

type wireConst struct {
	Kind uint8
	Num  float64
	Str  string
	Bool bool
	Fn   *wireFn
}

type wireProgram struct {
	Consts      []wireConst
	Main        *wireFn
	GlobalNames []string
}

type envelope struct {
	Version  uint16
	Checksum uint64
	Payload  []byte
}

// Encode serializes the program into a self-describing artifact: a version
// tag, a content checksum and the msgpack payload. The checksum covers the
// payload bytes, so any corruption is caught before the machine sees an
// instruction.
func Encode(p *Program) ([]byte, error) {
	wp := wireProgram{Main: fnToWire(p.Main), GlobalNames: p.GlobalNames}
	for _, c := range p.Consts {
		wc, err := constToWire(c)
		if err != nil {
			return nil, err
		}
		wp.Consts = append(wp.Consts, wc)
	}
	payload, err := msgpack.Marshal(wp)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(envelope{
		Version:  Version,
		Checksum: farm.Fingerprint64(payload),
		Payload:  payload,
	})
}

// Decode validates and deserializes an artifact. Version and checksum
// mismatches are hard errors; there is no cross-version execution.
func Decode(data []byte) (*Program, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "malformed artifact: %v", err)
	}
	if env.Version != Version {
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "artifact version %d, this build executes version %d", env.Version, Version)
	}
	if farm.Fingerprint64(env.Payload) != env.Checksum {
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "artifact checksum mismatch")
	}
	var wp wireProgram
	if err := msgpack.Unmarshal(env.Payload, &wp); err != nil {
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "malformed artifact payload: %v", err)
	}
	if wp.Main == nil {
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "artifact has no main code object")
	}
	p := &Program{Main: fnFromWire(wp.Main), GlobalNames: wp.GlobalNames}
	for _, wc := range wp.Consts {
		c, err := constFromWire(wc)
		if err != nil {
			return nil, err
		}
		p.Consts = append(p.Consts, c)
	}
	return p, nil
}

func fnToWire(fn *CompiledFn) *wireFn {
	return &wireFn{
		Name:      fn.Name,
		Code:      fn.Code,
		NumParams: fn.NumParams,
		NumLocals: fn.NumLocals,
		NumFrees:  fn.NumFrees,
		Line:      fn.Span.Line,
		Col:       fn.Span.Col,
	}
}

func fnFromWire(w *wireFn) *CompiledFn {
	return &CompiledFn{
		Name:      w.Name,
		Code:      w.Code,
		NumParams: w.NumParams,
		NumLocals: w.NumLocals,
		NumFrees:  w.NumFrees,
		Span:      sem.Span{Line: w.Line, Col: w.Col},
	}
}

func constToWire(c value.Value) (wireConst, error) {
	switch t := c.(type) {
	case value.Null:
		return wireConst{Kind: wireNull}, nil
	case value.Num:
		return wireConst{Kind: wireNum, Num: float64(t)}, nil
	case value.Str:
		return wireConst{Kind: wireStr, Str: string(t)}, nil
	case value.Bool:
		return wireConst{Kind: wireBool, Bool: bool(t)}, nil
	case value.Builtin:
		return wireConst{Kind: wireBuiltin, Str: t.Name}, nil
	case value.Fn:
		body, ok := t.Impl.(*closureBody)
		if !ok || len(body.free) > 0 {
			return wireConst{}, sem.Errf(sem.CodeBadCode, sem.Span{}, "constant %q is not serializable", t.Name)
		}
		return wireConst{Kind: wireFnKind, Fn: fnToWire(body.fn)}, nil
	default:
		return wireConst{}, sem.Errf(sem.CodeBadCode, sem.Span{}, "constant of kind %s is not serializable", c.Kind())
	}
}

func constFromWire(w wireConst) (value.Value, error) {
	switch w.Kind {
	case wireNull:
		return value.NullValue, nil
	case wireNum:
		return value.Num(w.Num), nil
	case wireStr:
		return value.Str(w.Str), nil
	case wireBool:
		return value.Bool(w.Bool), nil
	case wireBuiltin:
		return value.Builtin{Name: w.Str}, nil
	case wireFnKind:
		if w.Fn == nil {
			return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "function constant missing body")
		}
		fn := fnFromWire(w.Fn)
		return value.Fn{Name: fn.Name, Arity: fn.NumParams, Impl: &closureBody{fn: fn}}, nil
	default:
		return nil, sem.Errf(sem.CodeBadCode, sem.Span{}, "unknown constant kind %d", w.Kind)
	}
}
