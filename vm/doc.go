// Package vm implements the lark register-machine runtime.
//
// This package contains:
//   - Register addressing and the operand codec for 32-bit instruction streams
//   - Compiled functions, the builder, and the disassembler
//   - Per-site attribute inline caches and linked call caches
//   - The Callable abstraction: closures, builtins, bound methods
//   - Execution threads with step limits, interrupts, and thread-local slots
//   - The value model, operators, and the universe of builtins
package vm
