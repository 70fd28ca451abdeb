// Package assembly is the stack machine that runs compiled scripts.
//
// A Program is a flat list of instructions. An Execution walks it with a
// cursor, starting at 0:
//
//	fetch Program[Cursor]
//	Process(ctx, execution) -> Outcome
//	  Continue   Cursor++
//	  JumpTo(n)  Cursor = n
//	  Suspend(d) Cursor++, return to the host for d
//	  Halt       state HALTED
//	  Fail(err)  state FAILED
//
// Running past the last instruction halts. Instructions exchange values
// through the execution Stack; the most recent value (MRV) is on top.
//
// Conditions compile to IFFALSE and IFTRUE:
//
//	0 CONST false
//	1 IFFALSE 3      pop the MRV; falsy: jump to 3, truthy: fall through
//	2 CONST "unreachable"
//	3 CONST "reached"
//
// With the keep flag (Pop unset) a falsy MRV is pushed back before the
// jump, which lets "and" and chained comparisons leave their result on
// the stack.
//
// Opcodes register themselves in a table (Register, Lookup) used to
// decode stored programs, so the loop itself has no knowledge of any
// particular opcode.
package assembly
