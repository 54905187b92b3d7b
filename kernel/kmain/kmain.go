// Package kmain contains the kernel entry point invoked by the per-arch
// boot code once it has established the identity window, the high half and
// a minimal stack.
package kmain

import (
	"helios/kernel"
	"helios/kernel/goruntime"
	"helios/kernel/hal"
	"helios/kernel/kfmt"
	"helios/kernel/mm"
	"helios/kernel/mm/pmm"
	"helios/kernel/mm/vmm"
	"helios/kernel/sched"
	"helios/kernel/sync"
	"helios/kernel/syscall"
	"helios/kernel/task"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible (exported) from the boot assembly.
// The boot code passes the recorded boot information; on the SBI
// architecture it originates from the device tree, on the other from the
// fixed board description plus PCI discovery.
//
// Kmain is not expected to return. If it does, the boot code halts the
// hart.
//
//go:noinline
func Kmain(info hal.BootInfo) {
	hal.SetBootInfo(info)
	mm.SetDirectMapOffset(info.DirectMapOffset)

	vmm.SetKernelTable(mm.FrameFromAddress(info.KernelTableRoot), 0)

	var err *kernel.Error
	if err = pmm.Init(info.KernelStart, info.KernelEnd, info.MemRanges); err != nil {
		panic(err)
	} else if err = vmm.Init(); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	hal.DetectHardware()
	kfmt.Printf("[kmain] %d hart(s), boot hart %d\n", hal.HartCount(), info.BootHart)

	registerSlabCaches()
	sync.InstallIrqMasking()
	vmm.InstallCPUHooks()
	vmm.SetUserProber(hal.UserProber{})
	syscall.InstallTrapHandlers()
	sched.Init(hal.HartCount())

	spawnInit()

	hal.SecondaryEntryFn = KmainSecondary
	hal.StartSecondaryHarts()

	// The boot hart becomes executor 0; Run never returns.
	sched.Run()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// KmainSecondary is the entry point for secondary harts released by
// StartSecondaryHarts; they go straight into their executor loop.
func KmainSecondary() {
	sched.Run()
}

// spawnInit builds the first user task. Its image comes from the root
// filesystem through the exec path once the VFS has mounted block 0 of
// the first disk; until an exec loader is registered the task parks on an
// empty context.
func spawnInit() {
	space, err := vmm.NewAddressSpace()
	if err != nil {
		panic(err)
	}

	init := &task.Task{
		Space: space,
		FDs:   syscall.NewConsoleFDs(),
		Sig:   task.SignalState{Handlers: &task.HandlerTable{}},
		Ctx:   new(hal.TrapContext),
	}
	task.Register(init)

	syscall.Spawn(init)
}
