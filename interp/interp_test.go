package interp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/stdlib"
	"github.com/strand-lang/strand/task"
	"github.com/strand-lang/strand/value"
)

func runSrc(t *testing.T, src string) (value.Value, string, error) {
	t.Helper()
	prog, err := lang.LowerSource("test.str", src, stdlib.Default().Has)
	require.NoError(t, err)

	var out bytes.Buffer
	eng := New(stdlib.Default(), Options{
		Out:  &out,
		Caps: sem.AllCaps(),
		Pool: task.NewPool(4),
	})
	v, rerr := eng.Run(prog)
	return v, out.String(), rerr
}

func mustRun(t *testing.T, src string) value.Value {
	t.Helper()
	v, _, err := runSrc(t, src)
	require.NoError(t, err)
	return v
}

func TestArithmeticAndReturn(t *testing.T) {
	assert.Equal(t, value.Num(7), mustRun(t, "return 1 + 2 * 3\n"))
	assert.Equal(t, value.Num(2.5), mustRun(t, "return 5 / 2\n"))
	assert.Equal(t, value.Num(2), mustRun(t, "return 5 // 2\n"))
}

func TestFallOffEndIsNull(t *testing.T) {
	assert.Equal(t, value.NullValue, mustRun(t, "x = 1\n"))
}

func TestFunctionCall(t *testing.T) {
	v := mustRun(t, `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

return fib(10)
`)
	assert.Equal(t, value.Num(55), v)
}

func TestForLoopSum(t *testing.T) {
	v := mustRun(t, `
total = 0
for x in [1, 2, 3]:
    total = total + x
return total
`)
	assert.Equal(t, value.Num(6), v)
}

func TestContinueSkipsBody(t *testing.T) {
	v := mustRun(t, `
total = 0
for x in [1, 2, 3, 4]:
    if x % 2 == 0:
        continue
    total = total + x
return total
`)
	assert.Equal(t, value.Num(4), v)
}

func TestWhileWithBreak(t *testing.T) {
	v := mustRun(t, `
i = 0
while True:
    i = i + 1
    if i >= 5:
        break
return i
`)
	assert.Equal(t, value.Num(5), v)
}

func TestMutatingBuiltinWritesBack(t *testing.T) {
	v := mustRun(t, `
xs = [1]
xs.push(2)
push(xs, 3)
return len(xs)
`)
	assert.Equal(t, value.Num(3), v)
}

func TestValueSemanticsOnAssignment(t *testing.T) {
	v := mustRun(t, `
a = [1, 2]
b = a
b.push(3)
return len(a)
`)
	assert.Equal(t, value.Num(2), v, "plain assignment copies; mutating b must not touch a")
}

func TestSharedCellAliases(t *testing.T) {
	v := mustRun(t, `
a = shared([1, 2])
b = a
b.push(3)
return len(a)
`)
	assert.Equal(t, value.Num(3), v)
}

func TestIndexAssignNested(t *testing.T) {
	v := mustRun(t, `
m = {"a": [1, 2]}
m["a"][0] = 9
return m["a"][0]
`)
	assert.Equal(t, value.Num(9), v)
}

func TestIndexReceiverMutation(t *testing.T) {
	v := mustRun(t, `
m = {"a": [1]}
m["a"].push(2)
return len(m["a"])
`)
	assert.Equal(t, value.Num(2), v)
}

func TestOutOfBoundsCode(t *testing.T) {
	_, _, err := runSrc(t, "xs = [1, 2, 3]\nreturn xs[100]\n")
	assert.Equal(t, sem.CodeBounds, sem.CodeOf(err))
}

func TestUndefinedNameCode(t *testing.T) {
	_, _, err := runSrc(t, "return nope\n")
	assert.Equal(t, sem.CodeUndefined, sem.CodeOf(err))

	_, _, err = runSrc(t, "nothing(1)\n")
	assert.Equal(t, sem.CodeUndefined, sem.CodeOf(err))
}

func TestDivZeroBuiltinVsFloat(t *testing.T) {
	_, _, err := runSrc(t, "return 1 // 0\n")
	assert.Equal(t, sem.CodeDivZero, sem.CodeOf(err))

	v := mustRun(t, "return 1 / 0\n")
	assert.True(t, float64(v.(value.Num)) > 0 && isInf(v), "float division by zero is +Inf")
}

func isInf(v value.Value) bool {
	n := float64(v.(value.Num))
	return n > 1e308 || n < -1e308
}

func TestShortCircuit(t *testing.T) {
	// The right side would raise E_DIV_ZERO if evaluated.
	v := mustRun(t, "return False and idiv(1, 0) == 0\n")
	assert.Equal(t, value.False, v)

	v = mustRun(t, "return True or idiv(1, 0) == 0\n")
	assert.Equal(t, value.True, v)
}

func TestClosureCapturesFrame(t *testing.T) {
	v := mustRun(t, `
def counter(start):
    return lambda step: start + step

c = counter(10)
return c(5)
`)
	assert.Equal(t, value.Num(15), v)
}

func TestPrintOutput(t *testing.T) {
	_, out, err := runSrc(t, `print("a", 1)`+"\nprint([1, 2])\n")
	require.NoError(t, err)
	assert.Equal(t, "a 1\n[1, 2]\n", out)
}

func TestStringIndexingRunes(t *testing.T) {
	v := mustRun(t, `return "héllo"[1]`+"\n")
	assert.Equal(t, value.Str("é"), v)
}

func TestSpawnAwait(t *testing.T) {
	v := mustRun(t, `
def work(n):
    return n * 2

t = spawn(work, 21)
return await(t)
`)
	assert.Equal(t, value.Num(42), v)
}

func TestSpawnSeesSnapshotNotLaterWrites(t *testing.T) {
	v := mustRun(t, `
xs = [1]

def reader():
    return len(xs)

ch = chanNew(1)

def gated():
    recv(ch)
    return len(xs)

t = spawn(gated)
xs.push(2)
xs.push(3)
send(ch, 0)
return await(t)
`)
	assert.Equal(t, value.Num(1), v, "detached tasks run against a snapshot of globals")
}

func TestSharedCellCrossesTasks(t *testing.T) {
	v := mustRun(t, `
cell = shared([])

def producer():
    cell.push(1)
    cell.push(2)
    return 0

t = spawn(producer)
await(t)
return len(cell)
`)
	assert.Equal(t, value.Num(2), v)
}

func TestCapabilityDenied(t *testing.T) {
	prog, err := lang.LowerSource("test.str", `return readFile("/etc/hosts")`+"\n", stdlib.Default().Has)
	require.NoError(t, err)
	eng := New(stdlib.Default(), Options{Caps: sem.NewCaps()})
	_, rerr := eng.Run(prog)
	assert.Equal(t, sem.CodeCaps, sem.CodeOf(rerr))
}

func TestArityMismatch(t *testing.T) {
	_, _, err := runSrc(t, `
def f(a, b):
    return a

f(1)
`)
	assert.Equal(t, sem.CodeArity, sem.CodeOf(err))
}
