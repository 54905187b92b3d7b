package uart

import (
	"testing"
	"unsafe"
)

// fakePort overlays the register window on a host buffer.
func fakePort() (*Device, *[8]byte) {
	regs := new([8]byte)
	return &Device{base: uintptr(unsafe.Pointer(&regs[0]))}, regs
}

func TestDriverInitProgramsPort(t *testing.T) {
	dev, regs := fakePort()

	if err := dev.DriverInit(nil); err != nil {
		t.Fatal(err)
	}

	if regs[regInterruptEn] != 0x00 {
		t.Error("expected interrupts off")
	}
	if regs[regFifoControl] != 0x07 {
		t.Error("expected FIFOs enabled and cleared")
	}
	if regs[regLineControl] != 0x03 {
		t.Error("expected 8n1 framing")
	}
}

func TestWriteTranslatesNewlines(t *testing.T) {
	dev, regs := fakePort()
	regs[regLineStatus] = lineStatusTxEmpty

	// The data register is write-only on real hardware; the overlay only
	// retains the final transmitted byte, which for "a\n" must be the
	// linefeed that follows the injected carriage return.
	n, err := dev.Write([]byte("a\n"))
	if err != nil || n != 2 {
		t.Fatalf("expected write of 2 bytes; got %d (%v)", n, err)
	}
	if regs[regData] != '\n' {
		t.Fatalf("expected the last transmitted byte to be LF; got %q", regs[regData])
	}
}

func TestReadByte(t *testing.T) {
	dev, regs := fakePort()

	if _, ok := dev.ReadByte(); ok {
		t.Fatal("expected no input when RX is empty")
	}

	regs[regLineStatus] = lineStatusRxReady
	regs[regData] = 'x'
	b, ok := dev.ReadByte()
	if !ok || b != 'x' {
		t.Fatalf("expected to read 'x'; got %q (ok=%t)", b, ok)
	}
}
