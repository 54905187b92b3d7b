// Package cpu exposes the per-architecture primitives that the rest of the
// kernel builds on: interrupt masking, TLB maintenance, address-space
// switching and inter-hart signalling. The implementations live in the
// architecture-specific assembly files of this package.
package cpu

// MaxHarts is the maximum number of harts supported by the kernel. Per-hart
// state tables are statically sized to this value.
const MaxHarts = 64

// EnableInterrupts enables interrupt handling on the local hart.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling on the local hart.
func DisableInterrupts()

// Halt disables interrupts and parks the local hart in a wait-for-interrupt
// loop. Calls to Halt never return.
func Halt()

// Wfi stalls the local hart until the next interrupt is delivered. It is
// used by the executor when its run queue is empty and stealing failed.
func Wfi()

// SpinHint signals the core that the caller is inside a busy-wait loop so it
// can yield pipeline resources to the other harts sharing it.
func SpinHint()

// HartID returns the identifier of the local hart.
func HartID() uint32

// FlushTLBEntry flushes the TLB entry for a particular virtual address on
// the local hart.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLBAll flushes the entire TLB of the local hart.
func FlushTLBAll()

// SwitchAddressSpace installs the page-table root identified by token and
// flushes non-global TLB entries. The token layout is architecture-specific;
// it encodes the root table frame and the address-space identifier.
func SwitchAddressSpace(token uintptr)

// ActiveAddressSpace returns the token of the currently active page-table
// root on the local hart.
func ActiveAddressSpace() uintptr

// MemFence orders all memory operations issued before the fence against all
// memory operations issued after it, as observed by the other harts.
func MemFence()
