package vmm

import (
	"helios/kernel"
	"helios/kernel/mm"
)

// File identifies a page-cache-backed object for file mappings. The VFS
// owns the implementation; the vmm only compares handles for identity and
// passes them back to the page cache.
type File interface {
	// InodeID returns a stable identity used for shared futex keys and
	// mapping merges.
	InodeID() uint64
}

// PageCache is the interface through which file-backed faults obtain
// frames. The cache owns frame lifetimes handed out by GetPage until the
// vmm adds its own mapping reference.
type PageCache interface {
	// GetPage returns the frame holding the page-aligned offset of file,
	// reading it from the backing device if needed. The call may suspend
	// the invoking continuation while I/O is in flight.
	GetPage(file File, offset uint64) (mm.Frame, *kernel.Error)

	// PutPage drops the cache reference obtained by GetPage.
	PutPage(frame mm.Frame)

	// Writeback schedules a dirty page for writing to the backing
	// device.
	Writeback(file File, offset uint64)
}

var (
	// pageCache is the cache implementation registered by the VFS at
	// mount time.
	pageCache PageCache

	errNoPageCache = &kernel.Error{Module: "vmm", Message: "no page cache registered for file-backed mapping"}
)

// SetPageCache registers the page cache used to satisfy file-backed faults.
func SetPageCache(cache PageCache) { pageCache = cache }
