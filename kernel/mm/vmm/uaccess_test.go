package vmm

import (
	"bytes"
	"sync/atomic"
	"testing"

	"helios/kernel"
	"helios/kernel/errno"
	"helios/kernel/mm"
)

func TestValidateUserRangeBoundaries(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := space.Map(base, mm.PageSize*2, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		addr   uintptr
		length uintptr
		access AccessKind
		exp    errno.Errno
	}{
		// fully inside
		{base, mm.PageSize, AccessRead, 0},
		{base, mm.PageSize * 2, AccessWrite, 0},
		// last byte spills into the unmapped page
		{base + mm.PageSize, mm.PageSize + 1, AccessRead, errno.EFAULT},
		// fully outside
		{base + mm.PageSize*8, 16, AccessRead, errno.EFAULT},
		// wrap-around
		{^uintptr(0) - 8, 64, AccessRead, errno.EFAULT},
		// empty ranges always pass
		{base + mm.PageSize*8, 0, AccessWrite, 0},
	}

	for specIndex, spec := range specs {
		if got := space.ValidateUserRange(spec.addr, spec.length, spec.access); got != spec.exp {
			t.Errorf("[spec %d] expected errno %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestValidateUserRangeRejectsKernelOnlyAreas(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := space.Map(base, mm.PageSize, ProtRead|ProtWrite, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	if got := space.ValidateUserRange(base, 8, AccessRead); got != errno.EFAULT {
		t.Fatalf("expected EFAULT for a non-user area; got %d", got)
	}
}

func TestCopyToFromUserRoundTrip(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := space.Map(base, mm.PageSize*2, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	// Straddle the page boundary so the copy loop chunks.
	addr := base + mm.PageSize - 7
	payload := []byte("copy-on-write kernels are fun")

	if errCode := space.CopyToUser(addr, payload); errCode != 0 {
		t.Fatalf("CopyToUser failed with errno %d", errCode)
	}

	got := make([]byte, len(payload))
	if errCode := space.CopyFromUser(got, addr); errCode != 0 {
		t.Fatalf("CopyFromUser failed with errno %d", errCode)
	}

	if !bytes.Equal(payload, got) {
		t.Fatalf("expected round trip to return %q; got %q", payload, got)
	}
}

type fakeProber struct {
	failAt map[uintptr]bool
}

func (p *fakeProber) ProbeReadByte(addr uintptr) (byte, *kernel.Error) {
	if p.failAt[addr&^(mm.PageSize-1)] {
		return 0, &kernel.Error{Module: "test", Message: "probe fault"}
	}
	return 0, nil
}

func (p *fakeProber) ProbeWriteByte(addr uintptr, val byte) *kernel.Error {
	if p.failAt[addr&^(mm.PageSize-1)] {
		return &kernel.Error{Module: "test", Message: "probe fault"}
	}
	return nil
}

func TestValidateUserRangeFallsBackToProbeOnRace(t *testing.T) {
	env := newTestEnv(t, 64)
	space := newTestSpace(t, env)

	const base = uintptr(0x10000000)
	if err := space.Map(base, mm.PageSize*2, testUserProt, 0, nil, 0); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{failAt: map[uintptr]bool{base + mm.PageSize: true}}
	defer SetUserProber(nil)
	SetUserProber(prober)

	// Stage a munmap racing with the VMA walk: the walk still sees the
	// old set, but the generation moves underneath it so validation must
	// fall back to the probe. The probe faults on the second page: the
	// disagreement surfaces as EFAULT, never as a guess in favour of the
	// VMA walk.
	defer func(orig func(*AddressSpace, uintptr, uintptr, AccessKind) bool) {
		vmaRangeAllowsFn = orig
	}(vmaRangeAllowsFn)
	vmaRangeAllowsFn = func(s *AddressSpace, start, end uintptr, access AccessKind) bool {
		ok := s.vmaRangeAllows(start, end, access)
		atomic.AddUint64(&s.generation, 1)
		return ok
	}

	if got := space.ValidateUserRange(base, mm.PageSize*2, AccessRead); got != errno.EFAULT {
		t.Fatalf("expected probe disagreement to yield EFAULT; got %d", got)
	}

	// The same race over a range whose probes succeed must pass.
	if got := space.ValidateUserRange(base, mm.PageSize, AccessRead); got != 0 {
		t.Fatalf("expected agreeing strategies to admit the range; got errno %d", got)
	}
}
