package hal

import "helios/kernel/cpu"

var (
	// readTimeFn and setTimerFn are mocked by tests and are automatically
	// inlined by the compiler.
	readTimeFn = cpu.ReadTime
	setTimerFn = cpu.SetTimer

	// timeBaseFreq is the frequency of the architectural time base in
	// ticks per second; the entry code measures or reads it from the
	// platform description.
	timeBaseFreq uint64 = 10000000
)

// SetTimeBaseFreq records the time-base frequency discovered at boot.
func SetTimeBaseFreq(freq uint64) {
	if freq != 0 {
		timeBaseFreq = freq
	}
}

// Now returns the current monotonic time in nanoseconds. Seconds and the
// tick remainder are scaled separately so the conversion cannot overflow
// for any realistic uptime.
func Now() uint64 {
	ticks := readTimeFn()
	sec := ticks / timeBaseFreq
	rem := ticks % timeBaseFreq
	return sec*1e9 + rem*1e9/timeBaseFreq
}

// SetNextEvent programs the next timer interrupt for the local hart at the
// given absolute deadline in nanoseconds. Deadlines in the past fire
// immediately.
func SetNextEvent(deadlineNanos uint64) {
	sec := deadlineNanos / 1e9
	rem := deadlineNanos % 1e9
	ticks := sec*timeBaseFreq + rem*timeBaseFreq/1e9
	setTimerFn(ticks)
}
