package kmain

import (
	"unsafe"

	"helios/kernel/hal"
	"helios/kernel/mm/pmm"
	"helios/kernel/syscall"
)

// registerSlabCaches sets up the fixed-size caches for the common kernel
// objects. Trap contexts are the hot allocation on the fork path; the
// remaining objects go through the Go allocator bootstrapped by
// goruntime.
func registerSlabCaches() {
	ctxCache, err := pmm.NewCache("trap-context", unsafe.Sizeof(hal.TrapContext{}))
	if err != nil {
		panic(err)
	}

	syscall.SetTrapContextCache(
		func() *hal.TrapContext {
			obj, allocErr := ctxCache.Alloc()
			if allocErr != nil {
				return nil
			}
			return (*hal.TrapContext)(obj)
		},
		func(ctx *hal.TrapContext) {
			_ = ctxCache.Free(unsafe.Pointer(ctx))
		},
	)
}
