// Package cpu exposes the handful of privileged x86-64 instructions that the
// memory-management code needs.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()

// Pause executes a PAUSE instruction; it hints the CPU that the caller is
// spinning on a lock.
func Pause()

// FlushTLB reloads CR3, flushing all non-global TLB entries.
func FlushTLB()
