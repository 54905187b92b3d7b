package pmm

import (
	"testing"
	"unsafe"

	"helios/kernel/mm"
)

func TestSlabCache(t *testing.T) {
	testAlloc := newTestBuddy(t, 16)
	defer func(orig buddyAllocator) { allocator = orig }(allocator)
	allocator = *testAlloc

	cache, err := NewCache("test-objects", 96)
	if err != nil {
		t.Fatal(err)
	}

	objsPerFrame := int(mm.PageSize / 96)
	seen := make(map[uintptr]bool)
	for i := 0; i < objsPerFrame+1; i++ {
		obj, allocErr := cache.Alloc()
		if allocErr != nil {
			t.Fatalf("[object %d] alloc failed: %v", i, allocErr)
		}
		if seen[uintptr(obj)] {
			t.Fatalf("[object %d] object handed out twice", i)
		}
		seen[uintptr(obj)] = true

		if freeErr := cache.Free(obj); freeErr != nil {
			t.Fatal(freeErr)
		}
		delete(seen, uintptr(obj))

		// Re-allocate so the cache keeps growing past one frame.
		if obj, allocErr = cache.Alloc(); allocErr != nil {
			t.Fatal(allocErr)
		}
		seen[uintptr(obj)] = true
	}

	if exp := 2; len(cache.frames) != exp {
		t.Errorf("expected cache to span %d frames; got %d", exp, len(cache.frames))
	}
}

func TestSlabRejectsOversizedObjects(t *testing.T) {
	if _, err := NewCache("oversized", mm.PageSize+1); err != errSlabObjectTooLarge {
		t.Fatalf("expected oversized-object error; got %v", err)
	}
}

func TestSlabRejectsForeignPointer(t *testing.T) {
	testAlloc := newTestBuddy(t, 16)
	defer func(orig buddyAllocator) { allocator = orig }(allocator)
	allocator = *testAlloc

	cache, err := NewCache("test-objects", 64)
	if err != nil {
		t.Fatal(err)
	}

	var local [64]byte
	if err := cache.Free(unsafe.Pointer(&local[0])); err != errSlabForeignPointer {
		t.Fatalf("expected foreign-pointer error; got %v", err)
	}
}
