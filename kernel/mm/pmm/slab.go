package pmm

import (
	"unsafe"

	"helios/kernel"
	"helios/kernel/mm"
	"helios/kernel/sync"
)

var (
	errSlabObjectTooLarge = &kernel.Error{Module: "pmm", Message: "object size exceeds a page"}
	errSlabForeignPointer = &kernel.Error{Module: "pmm", Message: "pointer does not belong to this cache"}
)

// Cache is a slab of fixed-size kernel objects carved out of whole frames
// obtained from the buddy allocator. Allocating from a cache is a pop from
// a free list, and allocation failure is a returned error rather than a
// panic. Boot code registers a cache for trap contexts only; tasks,
// continuations, VMAs and other metadata come from the Go allocator.
type Cache struct {
	name    string
	objSize uintptr

	lock sync.Spinlock

	// freeList links free objects through their first word.
	freeList unsafe.Pointer

	// frames tracks the frames backing this cache for ownership checks.
	frames []mm.Frame
}

// NewCache registers a cache for objects of the given size. Sizes are
// rounded up to the pointer size so the free-list link always fits.
func NewCache(name string, objSize uintptr) (*Cache, *kernel.Error) {
	if objSize > mm.PageSize {
		return nil, errSlabObjectTooLarge
	}
	if min := uintptr(1) << mm.PointerShift; objSize < min {
		objSize = min
	}

	return &Cache{name: name, objSize: objSize}, nil
}

// grow adds one frame worth of objects to the free list. Called with the
// cache lock held.
func (c *Cache) grow() *kernel.Error {
	frame, err := allocator.Alloc(0)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, frame)

	base := mm.PhysToVirt(frame.Address())
	for off := uintptr(0); off+c.objSize <= mm.PageSize; off += c.objSize {
		obj := unsafe.Pointer(base + off)
		*(*unsafe.Pointer)(obj) = c.freeList
		c.freeList = obj
	}

	return nil
}

// Alloc pops a zeroed object from the cache.
func (c *Cache) Alloc() (unsafe.Pointer, *kernel.Error) {
	c.lock.Acquire()
	defer c.lock.Release()

	if c.freeList == nil {
		if err := c.grow(); err != nil {
			return nil, err
		}
	}

	obj := c.freeList
	c.freeList = *(*unsafe.Pointer)(obj)
	kernel.Memset(uintptr(obj), 0, c.objSize)
	return obj, nil
}

// Free pushes an object back on the cache free list.
func (c *Cache) Free(obj unsafe.Pointer) *kernel.Error {
	addr := uintptr(obj)

	c.lock.Acquire()
	defer c.lock.Release()

	var owned bool
	for _, frame := range c.frames {
		base := mm.PhysToVirt(frame.Address())
		if addr >= base && addr < base+mm.PageSize {
			owned = true
			break
		}
	}
	if !owned {
		return errSlabForeignPointer
	}

	*(*unsafe.Pointer)(obj) = c.freeList
	c.freeList = obj
	return nil
}
