package hal

import (
	"io"

	"helios/kernel/kfmt"
)

// TrapContext is the per-task register save area. The trap entry stubs of
// both architectures store user state into it on kernel entry; Restore
// reloads it on the way back to user mode. The callee-saved block parks the
// executor's registers while a task runs in user mode so that the next trap
// resumes the suspended kernel continuation exactly where it left off.
//
// The assembly prologues index this structure by fixed offsets; field order
// is load-bearing.
type TrapContext struct {
	// Regs holds the 32 general-purpose register slots in architectural
	// order. Slot 0 is hardwired zero on both targets and stays unused.
	Regs [32]uintptr

	// PC is the user program counter to resume at.
	PC uintptr

	// Status is the saved privilege/status register.
	Status uintptr

	// UserSP mirrors the user stack pointer (also present in Regs) so
	// signal-frame construction does not need to know the register
	// numbering.
	UserSP uintptr

	// KernelSP is the stack the trap prologue switches to.
	KernelSP uintptr

	// CalleeSaved parks the callee-saved registers of the suspended
	// kernel continuation across user execution.
	CalleeSaved [12]uintptr

	// KernelRA and KernelTP complete the resumption set: return address
	// and thread pointer of the executor.
	KernelRA uintptr
	KernelTP uintptr

	// FP is the saved frame pointer.
	FP uintptr
}

// DumpTo writes a register dump to the given writer, four per line.
func (ctx *TrapContext) DumpTo(w io.Writer) {
	for i := 0; i < len(ctx.Regs); i += 4 {
		kfmt.Fprintf(w, "x%2d = %16x x%2d = %16x x%2d = %16x x%2d = %16x\n",
			i, ctx.Regs[i], i+1, ctx.Regs[i+1], i+2, ctx.Regs[i+2], i+3, ctx.Regs[i+3])
	}
	kfmt.Fprintf(w, "pc  = %16x status = %16x\n", ctx.PC, ctx.Status)
	kfmt.Fprintf(w, "usp = %16x ksp    = %16x\n", ctx.UserSP, ctx.KernelSP)
}

// Restore returns to user mode with the given context after installing the
// address-space token. It parks the current callee-saved registers into the
// context so the next trap resumes the caller. Implemented in the per-arch
// trap assembly.
func Restore(ctx *TrapContext, spaceToken uintptr)
