package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error values since the memory-management code that reports them
// runs before any Go heap exists, which rules out errors.New.
type Error struct {
	// Module is the subsystem that raised the error (e.g. "pmm" or "vmm").
	Module string

	// Message is a human-readable description of the failure.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed with the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
