package hal

// Argument register indices for the RISC-V calling convention. The syscall
// number travels in a7 and up to six arguments in a0-a5; the return value
// goes back in a0.
const (
	regA0 = 10
	regA7 = 17
	regSP = 2
	regTP = 4
)

// SyscallNum returns the syscall number recorded by the trap.
func (ctx *TrapContext) SyscallNum() uintptr {
	return ctx.Regs[regA7]
}

// SyscallArgs returns the six syscall argument registers.
func (ctx *TrapContext) SyscallArgs() [6]uintptr {
	var args [6]uintptr
	copy(args[:], ctx.Regs[regA0:regA0+6])
	return args
}

// SetSyscallReturn places the raw return value in the return register.
func (ctx *TrapContext) SetSyscallReturn(val uintptr) {
	ctx.Regs[regA0] = val
}

// AdvancePC skips the trapping ecall instruction so the task does not
// re-enter the syscall on restore.
func (ctx *TrapContext) AdvancePC() {
	ctx.PC += 4
}

// RewindPC backs the program counter up to the ecall instruction so a
// restartable syscall re-executes after signal handling.
func (ctx *TrapContext) RewindPC() {
	ctx.PC -= 4
}

// StackPointer returns the user stack pointer register.
func (ctx *TrapContext) StackPointer() uintptr {
	return ctx.Regs[regSP]
}

// SetStackPointer updates the user stack pointer register.
func (ctx *TrapContext) SetStackPointer(sp uintptr) {
	ctx.Regs[regSP] = sp
	ctx.UserSP = sp
}

// SetSignalHandlerEntry rewrites the context to enter a signal handler:
// the handler address becomes the PC, the signal number and frame address
// land in the first argument registers and the return address points at
// the sigreturn trampoline.
func (ctx *TrapContext) SetSignalHandlerEntry(handler, sig, frameAddr, retAddr uintptr) {
	ctx.PC = handler
	ctx.Regs[regA0] = sig
	ctx.Regs[regA0+1] = frameAddr
	ctx.Regs[1] = retAddr // ra
}

// SetSyscallRegs installs a syscall number and arguments into the saved
// registers, the way trap entry records them; trap-path tests use it to
// stage invocations.
func (ctx *TrapContext) SetSyscallRegs(num uintptr, args [6]uintptr) {
	ctx.Regs[regA7] = num
	copy(ctx.Regs[regA0:regA0+6], args[:])
}
