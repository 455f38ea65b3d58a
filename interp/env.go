package interp

import "github.com/strand-lang/strand/value"

// env is one lexical frame: the globals frame at the root, one frame per
// function invocation above it. Blocks do not open frames; the lowering pass
// resolves block-level visibility before the engines run.
type env struct {
	parent *env
	vars   map[string]value.Value
}

func newEnv(parent *env) *env {
	return &env{parent: parent, vars: make(map[string]value.Value)}
}

// define binds name in this frame, taking ownership of v. Redefinition
// releases the old handle; loops re-executing a definition hit this path.
func (e *env) define(name string, v value.Value) {
	if old, ok := e.vars[name]; ok {
		old.Release()
	}
	e.vars[name] = v
}

// assign rebinds the nearest frame holding name, taking ownership of v.
func (e *env) assign(name string, v value.Value) bool {
	for s := e; s != nil; s = s.parent {
		if old, ok := s.vars[name]; ok {
			old.Release()
			s.vars[name] = v
			return true
		}
	}
	return false
}

// get returns a retained handle to the binding.
func (e *env) get(name string) (value.Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v.Clone(), true
		}
	}
	return nil, false
}

// take moves the binding's handle out without retaining. The caller must
// store a replacement before the binding is next read; the lowering pass
// guarantees mutating-call receivers satisfy that.
func (e *env) take(name string) (value.Value, *env, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, s, true
		}
	}
	return nil, nil, false
}

// put stores v into the frame where take found the binding.
func (s *env) put(name string, v value.Value) {
	s.vars[name] = v
}

// snapshot clones every binding reachable from this frame into a single flat
// frame. Clones are O(1) handle copies; detached tasks run against the
// snapshot so they never race the parent engine.
func (e *env) snapshot() *env {
	flat := newEnv(nil)
	seen := map[string]bool{}
	for s := e; s != nil; s = s.parent {
		for name, v := range s.vars {
			if !seen[name] {
				seen[name] = true
				flat.vars[name] = v.Clone()
			}
		}
	}
	return flat
}
