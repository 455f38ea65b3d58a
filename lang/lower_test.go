package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

var testBuiltins = map[string]bool{
	"len": true, "push": true, "pop": true, "print": true,
	"idiv": true, "iterseq": true, "mapPut": true,
}

func lower(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := LowerSource("test.str", src, func(name string) bool { return testBuiltins[name] })
	require.NoError(t, err)
	return prog
}

func TestLowerLetThenAssign(t *testing.T) {
	prog := lower(t, "x = 1\nx = 2\n")
	require.Len(t, prog.Main.Stmts, 2)

	let, ok := prog.Main.Stmts[0].(*Let)
	require.True(t, ok)
	assert.Equal(t, "x", let.Name)

	asn, ok := prog.Main.Stmts[1].(*Assign)
	require.True(t, ok)
	assert.Equal(t, "x", asn.Name)
}

func TestLowerTopLevelDecls(t *testing.T) {
	prog := lower(t, `
def add(a, b):
    return a + b

r = add(1, 2)
`)
	require.Len(t, prog.Decls, 1)
	assert.Equal(t, "add", prog.Decls[0].Name)
	require.Len(t, prog.Decls[0].Fn.Params, 2)

	let := prog.Main.Stmts[0].(*Let)
	call, ok := let.Init.(*Call)
	require.True(t, ok, "declared functions lower to Call, not BuiltinCall")
	assert.Len(t, call.Args, 2)
}

func TestLowerForwardReference(t *testing.T) {
	prog := lower(t, `
def outer():
    return inner()

def inner():
    return 1
`)
	ret := prog.Decls[0].Fn.Body.Stmts[0].(*Return)
	_, ok := ret.X.(*Call)
	assert.True(t, ok, "later declarations are visible to earlier bodies")
}

func TestLowerMethodCallReceiver(t *testing.T) {
	prog := lower(t, "xs = [1]\nxs.push(2)\n")
	es := prog.Main.Stmts[1].(*ExprStmt)
	bc := es.X.(*BuiltinCall)
	assert.Equal(t, "push", bc.Name)
	assert.Equal(t, "xs", bc.Recv)
	require.Len(t, bc.Args, 2)
	recv, ok := bc.Args[0].(*Ident)
	require.True(t, ok)
	assert.Equal(t, "xs", recv.Name)
}

func TestLowerFreeBuiltinReceiver(t *testing.T) {
	prog := lower(t, "xs = [1]\npush(xs, 2)\n")
	es := prog.Main.Stmts[1].(*ExprStmt)
	bc := es.X.(*BuiltinCall)
	assert.Equal(t, "push", bc.Name)
	assert.Equal(t, "xs", bc.Recv)
}

func TestLowerShadowedBuiltinIsCall(t *testing.T) {
	prog := lower(t, `
def push(a, b):
    return a

xs = push(1, 2)
`)
	let := prog.Main.Stmts[0].(*Let)
	_, ok := let.Init.(*Call)
	assert.True(t, ok, "a declared name shadows the registry")
}

func TestLowerForDesugarsToCountedLoop(t *testing.T) {
	prog := lower(t, "total = 0\nfor x in [1, 2, 3]:\n    total = total + x\n")
	require.Len(t, prog.Main.Stmts, 4)

	seqLet := prog.Main.Stmts[1].(*Let)
	seqInit := seqLet.Init.(*BuiltinCall)
	assert.Equal(t, "iterseq", seqInit.Name)

	idxLet := prog.Main.Stmts[2].(*Let)
	assert.Equal(t, value.Num(-1), idxLet.Init.(*Lit).Val)

	loop := prog.Main.Stmts[3].(*While)
	assert.Equal(t, value.True, loop.Test.(*Lit).Val)

	// Index increment precedes the bounds check so continue cannot skip it.
	inc, ok := loop.Body.Stmts[0].(*Assign)
	require.True(t, ok)
	assert.Equal(t, idxLet.Name, inc.Name)

	exit, ok := loop.Body.Stmts[1].(*If)
	require.True(t, ok)
	cond := exit.Test.(*Binary)
	assert.Equal(t, sem.OpGe, cond.Op)
	_, isBreak := exit.Then.Stmts[0].(*Break)
	assert.True(t, isBreak)

	bind, ok := loop.Body.Stmts[2].(*Let)
	require.True(t, ok)
	assert.Equal(t, "x", bind.Name)
}

func TestLowerNestedIndexAssign(t *testing.T) {
	prog := lower(t, `m = {"a": [1, 2]}`+"\n"+`m["a"][0] = 9`+"\n")
	require.Len(t, prog.Main.Stmts, 4)

	// m["a"][0] = 9 becomes: $t = m["a"]; $t[0] = 9; m["a"] = $t
	tmpLet := prog.Main.Stmts[1].(*Let)
	inner, ok := tmpLet.Init.(*Index)
	require.True(t, ok)
	assert.Equal(t, "m", inner.X.(*Ident).Name)

	write := prog.Main.Stmts[2].(*IndexAssign)
	assert.Equal(t, tmpLet.Name, write.Name)

	store := prog.Main.Stmts[3].(*IndexAssign)
	assert.Equal(t, "m", store.Name)
	assert.Equal(t, tmpLet.Name, store.Val.(*Ident).Name)
}

func TestLowerIndexReceiverRewrite(t *testing.T) {
	prog := lower(t, `m = {"a": [1]}`+"\n"+`m["a"].push(2)`+"\n")
	require.Len(t, prog.Main.Stmts, 4)

	tmpLet := prog.Main.Stmts[1].(*Let)
	_, ok := tmpLet.Init.(*Index)
	require.True(t, ok)

	es := prog.Main.Stmts[2].(*ExprStmt)
	bc := es.X.(*BuiltinCall)
	assert.Equal(t, "push", bc.Name)
	assert.Equal(t, tmpLet.Name, bc.Recv)

	store := prog.Main.Stmts[3].(*IndexAssign)
	assert.Equal(t, "m", store.Name)
}

func TestLowerAugmentedAssign(t *testing.T) {
	prog := lower(t, "x = 1\nx += 2\n")
	asn := prog.Main.Stmts[1].(*Assign)
	bin := asn.Val.(*Binary)
	assert.Equal(t, sem.OpAdd, bin.Op)

	prog = lower(t, "x = 7\nx //= 2\n")
	asn = prog.Main.Stmts[1].(*Assign)
	bc := asn.Val.(*BuiltinCall)
	assert.Equal(t, "idiv", bc.Name)
}

func TestLowerOperators(t *testing.T) {
	prog := lower(t, "a = 7 // 2\nb = 2 ** 8\nc = 1 in [1]\nd = 1 not in [1]\n")

	idiv := prog.Main.Stmts[0].(*Let).Init.(*BuiltinCall)
	assert.Equal(t, "idiv", idiv.Name)

	pow := prog.Main.Stmts[1].(*Let).Init.(*Binary)
	assert.Equal(t, sem.OpPow, pow.Op)

	in := prog.Main.Stmts[2].(*Let).Init.(*Binary)
	assert.Equal(t, sem.OpIn, in.Op)

	notIn := prog.Main.Stmts[3].(*Let).Init.(*Unary)
	assert.Equal(t, sem.OpNot, notIn.Op)
	assert.Equal(t, sem.OpIn, notIn.X.(*Binary).Op)
}

func TestLowerConstants(t *testing.T) {
	prog := lower(t, "a = True\nb = False\nc = None\n")
	assert.Equal(t, value.True, prog.Main.Stmts[0].(*Let).Init.(*Lit).Val)
	assert.Equal(t, value.False, prog.Main.Stmts[1].(*Let).Init.(*Lit).Val)
	assert.Equal(t, value.NullValue, prog.Main.Stmts[2].(*Let).Init.(*Lit).Val)
}

func TestLowerLambda(t *testing.T) {
	prog := lower(t, "f = lambda a: a + 1\n")
	fn := prog.Main.Stmts[0].(*Let).Init.(*FuncLit)
	require.Len(t, fn.Params, 1)
	ret, ok := fn.Body.Stmts[0].(*Return)
	require.True(t, ok)
	_, ok = ret.X.(*Binary)
	assert.True(t, ok)
}

func TestLowerNestedDef(t *testing.T) {
	prog := lower(t, `
def outer(n):
    def inner(m):
        return m + n
    return inner(1)
`)
	body := prog.Decls[0].Fn.Body.Stmts
	let, ok := body[0].(*Let)
	require.True(t, ok)
	assert.Equal(t, "inner", let.Name)
	_, ok = let.Init.(*FuncLit)
	assert.True(t, ok)
}

func TestLowerCondAndSlice(t *testing.T) {
	prog := lower(t, "x = 1 if True else 2\ny = [1, 2, 3][1:]\n")
	_, ok := prog.Main.Stmts[0].(*Let).Init.(*Cond)
	assert.True(t, ok)

	sl := prog.Main.Stmts[1].(*Let).Init.(*SliceExpr)
	assert.NotNil(t, sl.Lo)
	assert.Nil(t, sl.Hi)
}

func TestLowerSpansPopulated(t *testing.T) {
	prog := lower(t, "x = 1\ny = 2\n")
	assert.Equal(t, int32(1), prog.Main.Stmts[0].Pos().Line)
	assert.Equal(t, int32(2), prog.Main.Stmts[1].Pos().Line)
}

func TestLowerRejectsCapturedAssign(t *testing.T) {
	_, err := LowerSource("test.str", `
def counter():
    n = 0
    def bump():
        n = n + 1
    return bump
`, func(string) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "captured")
}

func TestLowerGlobalAssignInsideFunction(t *testing.T) {
	prog := lower(t, `
total = 0
def add(n):
    total = total + n
`)
	require.Len(t, prog.Decls, 1)
	asn, ok := prog.Decls[0].Fn.Body.Stmts[0].(*Assign)
	require.True(t, ok, "rebinding a module-level name stays an assignment")
	assert.Equal(t, "total", asn.Name)
}

func TestLowerRejectsTupleAssign(t *testing.T) {
	_, err := LowerSource("test.str", "a, b = 1, 2\n", func(string) bool { return false })
	assert.Error(t, err)
}
