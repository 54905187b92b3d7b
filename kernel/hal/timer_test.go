package hal

import "testing"

func TestNowScalesTicks(t *testing.T) {
	defer func(origReadTimeFn func() uint64, origFreq uint64) {
		readTimeFn = origReadTimeFn
		timeBaseFreq = origFreq
	}(readTimeFn, timeBaseFreq)

	SetTimeBaseFreq(10000000) // 10Mhz: 100ns per tick

	specs := []struct {
		ticks uint64
		exp   uint64
	}{
		{0, 0},
		{1, 100},
		{10000000, 1e9},
		{10000001, 1e9 + 100},
	}

	for specIndex, spec := range specs {
		readTimeFn = func() uint64 { return spec.ticks }
		if got := Now(); got != spec.exp {
			t.Errorf("[spec %d] expected Now() to return %d; got %d", specIndex, spec.exp, got)
		}
	}
}

func TestSetNextEventConvertsToTicks(t *testing.T) {
	defer func(origSetTimerFn func(uint64), origFreq uint64) {
		setTimerFn = origSetTimerFn
		timeBaseFreq = origFreq
	}(setTimerFn, timeBaseFreq)

	SetTimeBaseFreq(10000000)

	var gotTicks uint64
	setTimerFn = func(deadline uint64) { gotTicks = deadline }

	SetNextEvent(1e9 + 100)
	if exp := uint64(10000001); gotTicks != exp {
		t.Errorf("expected deadline of %d ticks; got %d", exp, gotTicks)
	}
}

func TestSetTimeBaseFreqIgnoresZero(t *testing.T) {
	defer func(origFreq uint64) { timeBaseFreq = origFreq }(timeBaseFreq)

	SetTimeBaseFreq(12345)
	SetTimeBaseFreq(0)
	if timeBaseFreq != 12345 {
		t.Fatalf("expected zero frequency to be ignored; got %d", timeBaseFreq)
	}
}
