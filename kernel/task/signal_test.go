package task

import "testing"

func TestSigProcMaskIdempotence(t *testing.T) {
	var ss SignalState

	set := SIGUSR1.Bit() | SIGTERM.Bit()

	if _, errCode := ss.SetMask(SigBlock, set); errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	first := ss.Mask()

	// Blocking the same set again must leave the mask identical.
	if _, errCode := ss.SetMask(SigBlock, set); errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}
	if got := ss.Mask(); got != first {
		t.Fatalf("expected mask %x after repeated block; got %x", first, got)
	}
}

func TestSigMaskCannotBlockKill(t *testing.T) {
	var ss SignalState

	if _, errCode := ss.SetMask(SigSetMask, SIGKILL.Bit()|SIGSTOP.Bit()|SIGUSR1.Bit()); errCode != 0 {
		t.Fatalf("unexpected errno %d", errCode)
	}

	mask := ss.Mask()
	if mask.Has(SIGKILL) || mask.Has(SIGSTOP) {
		t.Fatal("expected SIGKILL and SIGSTOP to stay unmaskable")
	}
	if !mask.Has(SIGUSR1) {
		t.Fatal("expected SIGUSR1 to be masked")
	}
}

func TestStandardSignalsCoalesceRealTimeQueue(t *testing.T) {
	var ss SignalState

	ss.Post(SIGUSR1)
	ss.Post(SIGUSR1)
	ss.Post(SIGRTMIN)
	ss.Post(SIGRTMIN)

	sig, ok := ss.NextDeliverable()
	if !ok || sig != SIGUSR1 {
		t.Fatalf("expected SIGUSR1 first; got %d (ok=%t)", sig, ok)
	}

	// The second SIGUSR1 coalesced away; both real-time posts remain.
	sig, ok = ss.NextDeliverable()
	if !ok || sig != SIGRTMIN {
		t.Fatalf("expected first queued SIGRTMIN; got %d (ok=%t)", sig, ok)
	}
	sig, ok = ss.NextDeliverable()
	if !ok || sig != SIGRTMIN {
		t.Fatalf("expected second queued SIGRTMIN; got %d (ok=%t)", sig, ok)
	}
	if _, ok = ss.NextDeliverable(); ok {
		t.Fatal("expected no residual signals")
	}
}

func TestMaskedSignalsAreNotDeliverable(t *testing.T) {
	var ss SignalState

	ss.SetMask(SigBlock, SIGUSR1.Bit())

	newlyDeliverable := ss.Post(SIGUSR1)
	if newlyDeliverable {
		t.Fatal("expected a masked post not to be deliverable")
	}
	if ss.HasDeliverable() {
		t.Fatal("expected no deliverable signal while masked")
	}
	if _, ok := ss.NextDeliverable(); ok {
		t.Fatal("expected NextDeliverable to skip masked signals")
	}

	// Unblocking surfaces the pending signal.
	ss.SetMask(SigUnblock, SIGUSR1.Bit())
	if !ss.HasDeliverable() {
		t.Fatal("expected unblocked pending signal to be deliverable")
	}
	if sig, ok := ss.NextDeliverable(); !ok || sig != SIGUSR1 {
		t.Fatalf("expected SIGUSR1; got %d (ok=%t)", sig, ok)
	}
}

func TestHandlerTableRejectsKillAndStop(t *testing.T) {
	var ht HandlerTable

	if _, errCode := ht.Set(SIGKILL, SigAction{Handler: 0x1000}); errCode == 0 {
		t.Fatal("expected SIGKILL handler installation to fail")
	}
	if _, errCode := ht.Set(SIGSTOP, SigAction{Handler: HandlerIgnore}); errCode == 0 {
		t.Fatal("expected SIGSTOP handler installation to fail")
	}

	if _, errCode := ht.Set(SIGUSR1, SigAction{Handler: 0x1000, Flags: SAHandlerRestart}); errCode != 0 {
		t.Fatalf("unexpected errno %d installing SIGUSR1 handler", errCode)
	}
	if got := ht.Get(SIGUSR1); got.Handler != 0x1000 || got.Flags&SAHandlerRestart == 0 {
		t.Fatalf("expected installed action back; got %+v", got)
	}
}

func TestDefaultActions(t *testing.T) {
	specs := []struct {
		sig Signal
		exp DefaultAction
	}{
		{SIGSEGV, ActionTerminate},
		{SIGUSR1, ActionTerminate},
		{SIGCHLD, ActionIgnore},
		{SIGCONT, ActionIgnore},
		{SIGSTOP, ActionStop},
	}

	for specIndex, spec := range specs {
		if got := DefaultActionFor(spec.sig); got != spec.exp {
			t.Errorf("[spec %d] expected default action %d for signal %d; got %d", specIndex, spec.exp, spec.sig, got)
		}
	}
}
