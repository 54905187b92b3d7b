package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"helios/kernel"
)

func TestPanic(t *testing.T) {
	defer func(origHaltFn func()) {
		cpuHaltFn = origHaltFn
		outputSink = nil
	}(cpuHaltFn)

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	var buf bytes.Buffer
	outputSink = &buf

	specs := []struct {
		arg    interface{}
		expMsg string
	}{
		{&kernel.Error{Module: "mm", Message: "out of memory"}, "[mm] unrecoverable error: out of memory"},
		{"invalid trap cause", "[rt] unrecoverable error: invalid trap cause"},
		{errors.New("wrapped error"), "[rt] unrecoverable error: wrapped error"},
	}

	for specIndex, spec := range specs {
		buf.Reset()
		cpuHaltCalled = false

		Panic(spec.arg)

		if !cpuHaltCalled {
			t.Errorf("[spec %d] expected Panic to halt the hart", specIndex)
		}

		if got := buf.String(); !bytes.Contains([]byte(got), []byte(spec.expMsg)) {
			t.Errorf("[spec %d] expected output to contain %q; got %q", specIndex, spec.expMsg, got)
		}
	}
}
