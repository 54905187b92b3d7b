// Package irq implements the architecture-neutral trap core: it decodes
// hardware trap causes into abstract kinds and dispatches them to the
// handlers that the memory, scheduling and syscall layers register at
// boot.
package irq

import (
	"helios/kernel/cpu"
	"helios/kernel/hal"
	"helios/kernel/kfmt"
	"helios/kernel/mm/vmm"
)

// TrapKind classifies a decoded trap cause.
type TrapKind uint8

const (
	// TrapSyscall is a user environment call.
	TrapSyscall TrapKind = iota

	// TrapPageFault covers instruction, load and store page faults.
	TrapPageFault

	// TrapTimer is the hart timer tick.
	TrapTimer

	// TrapExternalIrq is a device interrupt.
	TrapExternalIrq

	// TrapSoftIrq is an inter-processor interrupt.
	TrapSoftIrq

	// TrapIllegal is an illegal-instruction exception.
	TrapIllegal

	// TrapBreakpoint is a debug breakpoint.
	TrapBreakpoint

	// TrapUnknown is anything the decoder does not recognize.
	TrapUnknown
)

// TrapInfo carries a decoded trap.
type TrapInfo struct {
	Kind TrapKind

	// FaultAddr and FaultAccess are valid for TrapPageFault.
	FaultAddr   uintptr
	FaultAccess vmm.AccessKind

	// IrqNum is valid for TrapExternalIrq.
	IrqNum uint32

	// FromUser records the interrupted privilege level.
	FromUser bool
}

// Handler reacts to one trap kind. Returning false reports the trap as
// unhandled, which is fatal in kernel mode.
type Handler func(info *TrapInfo, ctx *hal.TrapContext) bool

// IrqHandler reacts to one external interrupt line; it may wake
// continuations parked on device wait objects.
type IrqHandler func()

var (
	// kindHandlers is the dispatch table filled in by the upper layers
	// during boot, before interrupts are enabled.
	kindHandlers [8]Handler

	// irqHandlers maps external interrupt numbers to drivers.
	irqHandlers [256]IrqHandler

	// hartIDFn and probe hooks are mocked by tests.
	hartIDFn       = cpu.HartID
	probeActiveFn  = hal.ProbeActive
	probeFaultedFn = hal.ProbeFaulted
)

// HandleTrap installs a handler for the given trap kind, replacing any
// previous one.
func HandleTrap(kind TrapKind, h Handler) {
	kindHandlers[kind] = h
}

// HandleIrq installs a handler for an external interrupt number.
func HandleIrq(irqNum uint32, h IrqHandler) {
	irqHandlers[irqNum] = h
}

// Dispatch routes a decoded trap. The architecture trap entry saves the
// context, calls the decoder and hands the result here. Dispatch returns
// when the trap has been handled; the entry stub then restores the
// context.
func Dispatch(info *TrapInfo, ctx *hal.TrapContext) {
	switch info.Kind {
	case TrapPageFault:
		dispatchPageFault(info, ctx)
		return

	case TrapExternalIrq:
		if h := irqHandlers[info.IrqNum]; h != nil {
			h()
			return
		}
		kfmt.Printf("[irq] unhandled external interrupt %d\n", info.IrqNum)
		return
	}

	if h := kindHandlers[info.Kind]; h != nil {
		if h(info, ctx) {
			return
		}
	}

	fatalTrap(info, ctx)
}

// dispatchPageFault routes a page fault. Kernel-mode faults inside a user
// probe window abort the probe instead of panicking; everything else goes
// to the registered fault handler.
func dispatchPageFault(info *TrapInfo, ctx *hal.TrapContext) {
	if !info.FromUser && probeActiveFn(hartIDFn()) {
		probeFaultedFn(hartIDFn())

		// Skip the probing access; the probe wrapper reports the
		// fault as an error to its caller.
		ctx.AdvancePC()
		return
	}

	if h := kindHandlers[TrapPageFault]; h != nil {
		if h(info, ctx) {
			return
		}
	}

	fatalTrap(info, ctx)
}

// fatalTrap reports an unhandled kernel trap and halts the hart.
func fatalTrap(info *TrapInfo, ctx *hal.TrapContext) {
	kfmt.Printf("\nUnhandled trap (kind %d) while accessing address: 0x%16x\n", uint8(info.Kind), info.FaultAddr)
	kfmt.Printf("Registers:\n")
	ctx.DumpTo(kfmt.GetOutputSink())

	kfmt.Panic(errUnhandledTrap)
}

// DispatchExternal routes an external interrupt by number; the task loop
// uses it for interrupts taken on the user side of a trap.
func DispatchExternal(irqNum uint32) {
	if h := irqHandlers[irqNum]; h != nil {
		h()
		return
	}
	kfmt.Printf("[irq] unhandled external interrupt %d\n", irqNum)
}
