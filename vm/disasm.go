package vm

import (
	"fmt"
	"strings"

	"github.com/strand-lang/strand/value"
)

// Disassemble renders a program as readable text: main first, then every
// function constant. Constant operands show their values inline.
func Disassemble(p *Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== main ==\n")
	disasmFn(&b, p, p.Main)
	for i, c := range p.Consts {
		fn, ok := c.(value.Fn)
		if !ok {
			continue
		}
		body, ok := fn.Impl.(*closureBody)
		if !ok {
			continue
		}
		name := fn.Name
		if name == "" {
			name = "<anon>"
		}
		fmt.Fprintf(&b, "== %s (const %d, params %d, locals %d) ==\n", name, i, body.fn.NumParams, body.fn.NumLocals)
		disasmFn(&b, p, body.fn)
	}
	return b.String()
}

func disasmFn(b *strings.Builder, p *Program, fn *CompiledFn) {
	code := fn.Code
	ip := 0
	for ip < len(code) {
		op := Opcode(code[ip])
		if !op.valid() {
			fmt.Fprintf(b, "%04d %-20s ; invalid opcode %d\n", ip, "??", code[ip])
			return
		}
		start := ip
		ip++
		operands := make([]int, 0, 2)
		for _, w := range operandWidths[op] {
			if ip+w > len(code) {
				fmt.Fprintf(b, "%04d %-20s ; truncated\n", start, op)
				return
			}
			switch w {
			case 2:
				operands = append(operands, int(code[ip])<<8|int(code[ip+1]))
			case 1:
				operands = append(operands, int(code[ip]))
			}
			ip += w
		}
		fmt.Fprintf(b, "%04d %-20s%s%s\n", start, op, fmtOperands(operands), annotate(p, op, operands))
	}
}

func fmtOperands(operands []int) string {
	parts := make([]string, len(operands))
	for i, o := range operands {
		parts[i] = fmt.Sprintf("%d", o)
	}
	return strings.Join(parts, " ")
}

func annotate(p *Program, op Opcode, operands []int) string {
	switch op {
	case OpConst, OpClosure, OpCallBuiltin, OpCallBuiltinLocal, OpCallBuiltinGlobal:
		if operands[0] < len(p.Consts) {
			return fmt.Sprintf(" ; %s", value.Format(p.Consts[operands[0]]))
		}
	case OpGetGlobal, OpSetGlobal, OpMoveGlobal, OpIndexAssignGlobal:
		if operands[0] < len(p.GlobalNames) {
			return fmt.Sprintf(" ; %s", p.GlobalNames[operands[0]])
		}
	}
	return ""
}
