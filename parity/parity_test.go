package parity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/sem"
)

func both(t *testing.T, src string) (Outcome, Outcome) {
	t.Helper()
	tree, bytec, err := RunBoth(src, Options{})
	require.NoError(t, err, "source must lower")
	return tree, bytec
}

// agree asserts the two engines produced the same observable outcome and
// returns it.
func agree(t *testing.T, src string) Outcome {
	t.Helper()
	tree, bytec := both(t, src)
	assert.Equal(t, tree, bytec, "engines disagree on:\n%s", src)
	return tree
}

func TestForLoopSumAgrees(t *testing.T) {
	out := agree(t, `
total = 0
for x in [1, 2, 3]:
    total = total + x
return total
`)
	assert.Equal(t, "6", out.Value)
	assert.Empty(t, out.Code)
}

func TestSharedAliasingAgrees(t *testing.T) {
	out := agree(t, `
m = shared({"hits": 0})
n = m
n.put("hits", 41)
m.put("hits", m.get("hits") + 1)
return n.get("hits")
`)
	assert.Equal(t, "42", out.Value, "both engines must see writes through either alias")
}

func TestOutOfBoundsIndexAgrees(t *testing.T) {
	tree, bytec := both(t, `
xs = [1, 2, 3]
return xs[100]
`)
	assert.Equal(t, sem.CodeBounds, tree.Code)
	assert.Equal(t, sem.CodeBounds, bytec.Code)
}

func TestValueSemanticsAgree(t *testing.T) {
	out := agree(t, `
a = [1, 2]
b = a
b.push(3)
return [len(a), len(b)]
`)
	assert.Equal(t, "[2, 3]", out.Value)
}

func TestWriteBackAgrees(t *testing.T) {
	out := agree(t, `
xs = [1]
xs.push(2)
push(xs, 3)
xs[0] = 10
return xs
`)
	assert.Equal(t, "[10, 2, 3]", out.Value)
}

func TestNestedIndexAssignAgrees(t *testing.T) {
	out := agree(t, `
m = {"a": [1, 2]}
m["a"][0] = 9
m["a"].push(3)
return m["a"]
`)
	assert.Equal(t, "[9, 2, 3]", out.Value)
}

func TestPrintedOutputAgrees(t *testing.T) {
	out := agree(t, `
for x in [1, 2, 3]:
    print("line", x)
print("done")
`)
	assert.Equal(t, "line 1\nline 2\nline 3\ndone\n", out.Output)
}

func TestClosuresAgree(t *testing.T) {
	out := agree(t, `
def adder(n):
    return lambda x: x + n

add5 = adder(5)
return add5(37)
`)
	assert.Equal(t, "42", out.Value)
}

func TestCaptureIsByValue(t *testing.T) {
	// Rebinding the local after the closure is made must not leak into the
	// capture in either engine.
	out := agree(t, `
def f():
    n = 1
    g = lambda x: x + n
    n = 2
    return g(0)

return f()
`)
	assert.Equal(t, "1", out.Value)
}

func TestAssignToCapturedNameRejected(t *testing.T) {
	_, _, err := RunBoth(`
def counter():
    n = 0
    def bump():
        n = n + 1
    return bump
`, Options{})
	require.Error(t, err, "rebinding an enclosing local is rejected before either engine runs")
}

func TestDeclarationSeesLaterGlobal(t *testing.T) {
	// The body runs after the global is bound, so both engines resolve it.
	out := agree(t, `
def report():
    return total * 2

total = 21
return report()
`)
	assert.Equal(t, "42", out.Value)
}

func TestRecursionAgrees(t *testing.T) {
	out := agree(t, `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

return fib(12)
`)
	assert.Equal(t, "144", out.Value)
}

func TestShortCircuitAgrees(t *testing.T) {
	// and/or yield operand values, and the right side must not run when the
	// left decides.
	out := agree(t, `
hits = []
def mark(v):
    hits.push(v)
    return v

a = False and mark(1)
b = True or mark(2)
c = 0 or "fallback"
return [a, b, c, len(hits)]
`)
	assert.Equal(t, `[false, true, "fallback", 0]`, out.Value)
}

func TestStringOpsAgree(t *testing.T) {
	out := agree(t, `
s = "héllo world"
parts = s.split(" ")
return [s.upper(), parts[0], len(s), s[1]]
`)
	assert.Equal(t, `["HÉLLO WORLD", "héllo", 11, "é"]`, out.Value)
}

func TestErrorCodesAgree(t *testing.T) {
	cases := []struct {
		name string
		src  string
		code sem.Code
	}{
		{"pop empty", "xs = []\nxs.pop()\n", sem.CodeBounds},
		{"integer div zero", "return idiv(1, 0)\n", sem.CodeDivZero},
		{"bad method", `return upper(5)` + "\n", sem.CodeNoBuiltin},
		{"wrong arity", "return len()\n", sem.CodeArity},
		{"type clash", `return 1 + "x"` + "\n", sem.CodeType},
		{"missing key stays null", `m = {}` + "\n" + `return m.get("nope")` + "\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree, bytec := both(t, tc.src)
			assert.Equal(t, tc.code, tree.Code)
			assert.Equal(t, tc.code, bytec.Code)
		})
	}
}

func TestUndefinedNameAgreesAcrossPhases(t *testing.T) {
	// The bytecode engine rejects the name at compile time, the tree engine
	// at run time. Both report the same code; output printed before the
	// fault differs by phase, and that difference is deliberate.
	tree, bytec := both(t, "print(\"before\")\nreturn nope\n")
	assert.Equal(t, sem.CodeUndefined, tree.Code)
	assert.Equal(t, sem.CodeUndefined, bytec.Code)
	assert.Equal(t, "before\n", tree.Output)
	assert.Empty(t, bytec.Output)
}

func TestSpawnAwaitAgrees(t *testing.T) {
	out := agree(t, `
def work(n):
    return n * 2

task = spawn(work, 21)
return await(task)
`)
	assert.Equal(t, "42", out.Value)
}

func TestSharedCellAcrossTasksAgrees(t *testing.T) {
	out := agree(t, `
cell = shared(0)
ch = chanNew(1)

def bump(c, done):
    sharedSet(c, sharedGet(c) + 1)
    send(done, True)

t = spawn(bump, cell, ch)
recv(ch)
await(t)
return sharedGet(cell)
`)
	assert.Equal(t, "1", out.Value)
}

func TestCorpusAgrees(t *testing.T) {
	// Smaller snippets that only need agreement, not a pinned result.
	corpus := []string{
		"return -3 ** 2\n",
		"return 7 % 3\n",
		"return [1, 2] + [3]\n",
		`return "ab" * 3` + "\n",
		"return 2 in [1, 2, 3]\n",
		"return 5 not in [1, 2, 3]\n",
		`return {"a": 1}.keys()` + "\n",
		"return range(5)[3]\n",
		"s = setNew(3, 1, 2)\nreturn s.members()\n",
		"q = queueNew()\nq.enqueue(1)\nq.enqueue(2)\nreturn q.dequeue()\n",
		"return str(1.5) + str(True)\n",
		"return num(\"12\") + 1\n",
		`return jsonParse("[1, 2, 3]")[1]` + "\n",
		"xs = [5, 4]\nreturn xs[0] if len(xs) > 1 else 0\n",
		"return [1, 2, 3, 4][1:3]\n",
		"total = 0\nfor c in \"abc\":\n    total = total + len(c)\nreturn total\n",
		"x = 10\nx -= 3\nx *= 2\nreturn x\n",
		"x = 7\nx //= 2\nreturn x\n",
		"return not True\n",
		"n = 0 / 0\nreturn [n == n, n != n, n < 1]\n",
		`s = "a,b,,c"` + "\n" + `return s.split(",").join("|")` + "\n",
	}
	for _, src := range corpus {
		agree(t, src)
	}
}
