package vm

import (
	"bytes"
	"testing"

	"github.com/shamaton/msgpack/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/lang"
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/stdlib"
	"github.com/strand-lang/strand/task"
	"github.com/strand-lang/strand/value"
)

func compileSrc(t *testing.T, src string) *Program {
	t.Helper()
	ast, err := lang.LowerSource("test.str", src, stdlib.Default().Has)
	require.NoError(t, err)
	prog, err := Compile(ast, stdlib.Default())
	require.NoError(t, err)
	return prog
}

func runSrc(t *testing.T, src string) (value.Value, string, error) {
	t.Helper()
	prog := compileSrc(t, src)
	var out bytes.Buffer
	m := NewMachine(prog, stdlib.Default(), Options{
		Out:  &out,
		Caps: sem.AllCaps(),
		Pool: task.NewPool(4),
	})
	v, err := m.Run()
	return v, out.String(), err
}

func mustRun(t *testing.T, src string) value.Value {
	t.Helper()
	v, _, err := runSrc(t, src)
	require.NoError(t, err)
	return v
}

func TestArithmetic(t *testing.T) {
	assert.Equal(t, value.Num(7), mustRun(t, "return 1 + 2 * 3\n"))
	assert.Equal(t, value.Num(2.5), mustRun(t, "return 5 / 2\n"))
	assert.Equal(t, value.Num(256), mustRun(t, "return 2 ** 8\n"))
}

func TestConditionalsAndLoops(t *testing.T) {
	v := mustRun(t, `
total = 0
i = 0
while i < 10:
    i = i + 1
    if i % 2 == 0:
        continue
    if i > 7:
        break
    total = total + i
return total
`)
	assert.Equal(t, value.Num(1+3+5+7), v)
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

func TestFunctionsAndRecursion(t *testing.T) {
	v := mustRun(t, `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

return fib(10)
`)
	assert.Equal(t, value.Num(55), v)
}

func TestClosureCaptures(t *testing.T) {
	v := mustRun(t, `
def adder(n):
    return lambda x: x + n

add5 = adder(5)
add7 = adder(7)
return add5(1) + add7(1)
`)
	assert.Equal(t, value.Num(14), v)
}

func TestMutatingBuiltinWritesBackGlobal(t *testing.T) {
	v := mustRun(t, `
xs = [1]
xs.push(2)
xs.push(3)
return len(xs)
`)
	assert.Equal(t, value.Num(3), v)
}

func TestMutatingBuiltinWritesBackLocal(t *testing.T) {
	v := mustRun(t, `
def build():
    ys = []
    ys.push(1)
    ys.push(2)
    return len(ys)

return build()
`)
	assert.Equal(t, value.Num(2), v)
}

func TestValueSemantics(t *testing.T) {
	v := mustRun(t, `
a = [1, 2]
b = a
b.push(3)
return len(a)
`)
	assert.Equal(t, value.Num(2), v)
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

func TestIndexAssign(t *testing.T) {
	v := mustRun(t, `
m = {"a": [1, 2]}
m["a"][0] = 9
return m["a"][0]
`)
	assert.Equal(t, value.Num(9), v)
}

func TestBoundsErrorCode(t *testing.T) {
	_, _, err := runSrc(t, "xs = [1, 2, 3]\nreturn xs[100]\n")
	assert.Equal(t, sem.CodeBounds, sem.CodeOf(err))
}

func TestUndefinedAtCompileTime(t *testing.T) {
	ast, err := lang.LowerSource("test.str", "return nope\n", stdlib.Default().Has)
	require.NoError(t, err)
	_, err = Compile(ast, stdlib.Default())
	assert.Equal(t, sem.CodeUndefined, sem.CodeOf(err))
}

func TestDeclarationMayReferenceMainBinding(t *testing.T) {
	// Main's bindings are hoisted into global slots before declarations
	// compile; the body just has to run after the binding does.
	v := mustRun(t, `
def report():
    return total * 2

total = 21
return report()
`)
	assert.Equal(t, value.Num(42), v)
}

func TestReadBeforeBindingIsRuntimeUndefined(t *testing.T) {
	_, _, err := runSrc(t, `
def report():
    return total

r = report()
total = 21
return r
`)
	assert.Equal(t, sem.CodeUndefined, sem.CodeOf(err))
}

func TestShortCircuit(t *testing.T) {
	v := mustRun(t, "return False and idiv(1, 0) == 0\n")
	assert.Equal(t, value.False, v)

	v = mustRun(t, "return True or idiv(1, 0) == 0\n")
	assert.Equal(t, value.True, v)
}

func TestPrintGoesToOut(t *testing.T) {
	_, out, err := runSrc(t, `print("x", [1, 2])`+"\n")
	require.NoError(t, err)
	assert.Equal(t, "x [1, 2]\n", out)
}

func TestSpawnAwaitOnPool(t *testing.T) {
	v := mustRun(t, `
def work(n):
    return n * 3

t = spawn(work, 14)
return await(t)
`)
	assert.Equal(t, value.Num(42), v)
}

func TestArtifactRoundTrip(t *testing.T) {
	prog := compileSrc(t, `
def double(n):
    return n * 2

return double(21)
`)
	data, err := Encode(prog)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	m := NewMachine(decoded, stdlib.Default(), Options{Caps: sem.AllCaps()})
	v, err := m.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Num(42), v)
}

func TestArtifactVersionMismatch(t *testing.T) {
	prog := compileSrc(t, "return 1\n")
	data, err := Encode(prog)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, unmarshalEnvelope(data, &env))
	env.Version = Version + 1
	tampered := marshalEnvelope(t, env)

	_, err = Decode(tampered)
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
	assert.Contains(t, err.Error(), "version")
}

func TestArtifactChecksumMismatch(t *testing.T) {
	prog := compileSrc(t, "return 1\n")
	data, err := Encode(prog)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, unmarshalEnvelope(data, &env))
	require.NotEmpty(t, env.Payload)
	env.Payload[len(env.Payload)/2] ^= 0xFF
	tampered := marshalEnvelope(t, env)

	_, err = Decode(tampered)
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
	assert.Contains(t, err.Error(), "checksum")
}

func TestGarbageArtifactRejected(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestTruncatedBytecodeIsBadCode(t *testing.T) {
	prog := compileSrc(t, "return 1 + 2\n")
	cut := *prog.Main
	// The first instruction is a CONST with a u16 operand; cutting into the
	// operand leaves a truncated stream.
	require.Equal(t, OpConst, Opcode(cut.Code[0]))
	cut.Code = cut.Code[:2]
	crippled := &Program{Consts: prog.Consts, Main: &cut, GlobalNames: prog.GlobalNames}

	m := NewMachine(crippled, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err := m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestInvalidOpcodeIsBadCode(t *testing.T) {
	bad := &Program{Main: &CompiledFn{Name: "main", Code: []byte{0xFE}}}
	m := NewMachine(bad, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err := m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestConstIndexOutOfRangeIsBadCode(t *testing.T) {
	code := emit(nil, OpConst, 99)
	code = emit(code, OpHalt)
	bad := &Program{Main: &CompiledFn{Name: "main", Code: code}}
	m := NewMachine(bad, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err := m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestStackUnderflowIsBadCode(t *testing.T) {
	// A checksum-valid artifact can still carry impossible code; an
	// underflowing instruction must be refused before it touches the stack.
	crafted := &Program{Main: &CompiledFn{Name: "main", Code: emit(nil, OpBinary, int(sem.OpAdd))}}
	data, err := Encode(crafted)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	m := NewMachine(decoded, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err = m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
	assert.Contains(t, err.Error(), "underflow")
}

func TestLocalSlotOutOfRangeIsBadCode(t *testing.T) {
	code := emit(nil, OpNull)
	code = emit(code, OpSetLocal, 200)
	code = emit(code, OpReturnNull)
	bad := &Program{Main: &CompiledFn{Name: "main", Code: code}}
	m := NewMachine(bad, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err := m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestArrayCountPastStackIsBadCode(t *testing.T) {
	code := emit(nil, OpTrue)
	code = emit(code, OpTrue)
	code = emit(code, OpArray, 65535)
	bad := &Program{Main: &CompiledFn{Name: "main", Code: code}}
	m := NewMachine(bad, stdlib.Default(), Options{Caps: sem.AllCaps()})
	_, err := m.Run()
	assert.Equal(t, sem.CodeBadCode, sem.CodeOf(err))
}

func TestDisassembleShowsNames(t *testing.T) {
	prog := compileSrc(t, `
xs = [1]
xs.push(2)
`)
	text := Disassemble(prog)
	assert.Contains(t, text, "CALL_BUILTIN_GLOBAL")
	assert.Contains(t, text, "push")
	assert.Contains(t, text, "; xs")
}

func TestProgramCache(t *testing.T) {
	prog := compileSrc(t, "return 5\n")
	data, err := Encode(prog)
	require.NoError(t, err)

	cache := NewProgramCache(2)
	a, err := cache.Load(data)
	require.NoError(t, err)
	b, err := cache.Load(data)
	require.NoError(t, err)
	assert.Same(t, a, b)

	hits, misses, size := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 1, size)
}

func TestProgramCacheEvicts(t *testing.T) {
	cache := NewProgramCache(1)
	srcs := []string{"return 1\n", "return 2\n"}
	for _, s := range srcs {
		data, err := Encode(compileSrc(t, s))
		require.NoError(t, err)
		_, err = cache.Load(data)
		require.NoError(t, err)
	}
	_, _, size := cache.Stats()
	assert.Equal(t, 1, size)
}

func unmarshalEnvelope(data []byte, env *envelope) error {
	return msgpack.Unmarshal(data, env)
}

func marshalEnvelope(t *testing.T, env envelope) []byte {
	t.Helper()
	out, err := msgpack.Marshal(env)
	require.NoError(t, err)
	return out
}
