//go:build debug

package kernel

// Assert panics with the given error when the condition does not hold.
// Assertions guard invariants (double frees, unmapping unowned frames)
// whose violation indicates kernel corruption; release builds elide them.
func Assert(cond bool, err *Error) {
	if !cond {
		panic(err)
	}
}
