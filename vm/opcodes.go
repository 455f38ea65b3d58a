// Package vm is the bytecode engine: a compiler from the primitive AST to a
// compact instruction stream, a stack machine that executes it, and a
// versioned artifact format for shipping compiled programs. Builtin dispatch
// and operator semantics live in the shared semantics core; the machine only
// moves values.
package vm

import "fmt"

// Opcode is a single-byte instruction tag. Operands follow big-endian.
type Opcode byte

const (
	OpConst Opcode = iota // u16 constant index
	OpNull
	OpTrue
	OpFalse
	OpPop

	OpBinary // u8 sem.BinOp
	OpUnary  // u8 sem.UnOp

	OpJump          // u16 absolute target
	OpJumpFalse     // u16 absolute target, pops the condition
	OpJumpFalsePeek // u16 absolute target, leaves the condition on the stack
	OpJumpTruePeek  // u16 absolute target, leaves the condition on the stack

	OpGetGlobal  // u16 global slot, retained load
	OpSetGlobal  // u16 global slot, takes ownership
	OpMoveGlobal // u16 global slot, unretained load for a mutating receiver
	OpGetLocal   // u8 local slot, retained load
	OpSetLocal   // u8 local slot, takes ownership
	OpMoveLocal  // u8 local slot, unretained load for a mutating receiver
	OpGetFree    // u8 free slot, retained load

	OpArray // u16 element count
	OpMap   // u16 entry count

	OpIndex // recv, idx on stack
	OpSlice // recv, lo, hi on stack; null bounds are open

	OpIndexAssignLocal  // u8 local slot; idx, val on stack
	OpIndexAssignGlobal // u16 global slot; idx, val on stack

	OpCall              // u8 argc; callee under the arguments
	OpCallBuiltin       // u16 name constant, u8 argc
	OpCallBuiltinLocal  // u16 name constant, u8 argc, u8 receiver slot for write-back
	OpCallBuiltinGlobal // u16 name constant, u8 argc, u16 receiver slot for write-back

	OpClosure // u16 function constant, u8 free count

	OpReturn // value on stack
	OpReturnNull
	OpHalt

	opMax
)

// operandWidths maps each opcode to the byte widths of its operands, in
// order. The disassembler and the machine's operand reader share it.
var operandWidths = [opMax][]int{
	OpConst:             {2},
	OpNull:              {},
	OpTrue:              {},
	OpFalse:             {},
	OpPop:               {},
	OpBinary:            {1},
	OpUnary:             {1},
	OpJump:              {2},
	OpJumpFalse:         {2},
	OpJumpFalsePeek:     {2},
	OpJumpTruePeek:      {2},
	OpGetGlobal:         {2},
	OpSetGlobal:         {2},
	OpMoveGlobal:        {2},
	OpGetLocal:          {1},
	OpSetLocal:          {1},
	OpMoveLocal:         {1},
	OpGetFree:           {1},
	OpArray:             {2},
	OpMap:               {2},
	OpIndex:             {},
	OpSlice:             {},
	OpIndexAssignLocal:  {1},
	OpIndexAssignGlobal: {2},
	OpCall:              {1},
	OpCallBuiltin:       {2, 1},
	OpCallBuiltinLocal:  {2, 1, 1},
	OpCallBuiltinGlobal: {2, 1, 2},
	OpClosure:           {2, 1},
	OpReturn:            {},
	OpReturnNull:        {},
	OpHalt:              {},
}

var opcodeNames = [opMax]string{
	OpConst:             "CONST",
	OpNull:              "NULL",
	OpTrue:              "TRUE",
	OpFalse:             "FALSE",
	OpPop:               "POP",
	OpBinary:            "BINARY",
	OpUnary:             "UNARY",
	OpJump:              "JUMP",
	OpJumpFalse:         "JUMP_FALSE",
	OpJumpFalsePeek:     "JUMP_FALSE_PEEK",
	OpJumpTruePeek:      "JUMP_TRUE_PEEK",
	OpGetGlobal:         "GET_GLOBAL",
	OpSetGlobal:         "SET_GLOBAL",
	OpMoveGlobal:        "MOVE_GLOBAL",
	OpGetLocal:          "GET_LOCAL",
	OpSetLocal:          "SET_LOCAL",
	OpMoveLocal:         "MOVE_LOCAL",
	OpGetFree:           "GET_FREE",
	OpArray:             "ARRAY",
	OpMap:               "MAP",
	OpIndex:             "INDEX",
	OpSlice:             "SLICE",
	OpIndexAssignLocal:  "INDEX_ASSIGN_LOCAL",
	OpIndexAssignGlobal: "INDEX_ASSIGN_GLOBAL",
	OpCall:              "CALL",
	OpCallBuiltin:       "CALL_BUILTIN",
	OpCallBuiltinLocal:  "CALL_BUILTIN_LOCAL",
	OpCallBuiltinGlobal: "CALL_BUILTIN_GLOBAL",
	OpClosure:           "CLOSURE",
	OpReturn:            "RETURN",
	OpReturnNull:        "RETURN_NULL",
	OpHalt:              "HALT",
}

func (op Opcode) String() string {
	if op.valid() && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

func (op Opcode) valid() bool { return op < opMax }

// emit appends op and its operands to code.
func emit(code []byte, op Opcode, operands ...int) []byte {
	code = append(code, byte(op))
	for i, w := range operandWidths[op] {
		v := operands[i]
		switch w {
		case 2:
			code = append(code, byte(v>>8), byte(v))
		case 1:
			code = append(code, byte(v))
		}
	}
	return code
}
