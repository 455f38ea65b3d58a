package vm

type symScope uint8

const (
	scopeGlobal symScope = iota
	scopeLocal
	scopeFree
)

type symbol struct {
	Name  string
	Scope symScope
	Index int
}

// symtab is one compile-time frame of name bindings. The root table defines
// globals; each function body gets a child table. Resolving a name through
// an enclosing function captures it as a free variable.
type symtab struct {
	outer   *symtab
	store   map[string]symbol
	order   []string
	numDefs int
	frees   []symbol
}

func newSymtab(outer *symtab) *symtab {
	return &symtab{outer: outer, store: make(map[string]symbol)}
}

func (t *symtab) define(name string) symbol {
	s := symbol{Name: name, Scope: scopeLocal, Index: t.numDefs}
	if t.outer == nil {
		s.Scope = scopeGlobal
	}
	if prev, ok := t.store[name]; ok {
		// Re-definition reuses the slot; loops re-execute definitions.
		return prev
	}
	t.store[name] = s
	t.order = append(t.order, name)
	t.numDefs++
	return s
}

func (t *symtab) defineFree(original symbol) symbol {
	t.frees = append(t.frees, original)
	s := symbol{Name: original.Name, Scope: scopeFree, Index: len(t.frees) - 1}
	t.store[original.Name] = s
	return s
}

func (t *symtab) resolve(name string) (symbol, bool) {
	if s, ok := t.store[name]; ok {
		return s, true
	}
	if t.outer == nil {
		return symbol{}, false
	}
	outer, ok := t.outer.resolve(name)
	if !ok {
		return symbol{}, false
	}
	if outer.Scope == scopeGlobal {
		return outer, true
	}
	return t.defineFree(outer), true
}
