package allocgo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAlignment is returned when a layout alignment is zero or not a power of two.
	ErrInvalidAlignment = errors.New("alignment must be a non-zero power of two")
	// ErrSizeOverflow is returned when a layout size, rounded up to its alignment,
	// exceeds the maximum allocation size.
	ErrSizeOverflow = errors.New("size overflows the address space when rounded to alignment")
	// ErrCapacityOverflow reports capacity arithmetic that exceeds the representable
	// range. Infallible container operations panic with it; Try variants return it.
	ErrCapacityOverflow = errors.New("capacity overflow")
	// ErrAlignmentUnsupported is returned when a provider cannot serve the requested alignment.
	ErrAlignmentUnsupported = errors.New("alignment not supported by this allocator")
	// ErrMemoryLimitExceeded is returned when a LimitAllocator denies a request.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
)

// ErrAllocFailed indicates that an allocator could not satisfy a request.
// It carries the requested Layout so callers can react (retry smaller, pick a
// different provider) or route the failure to the out-of-memory hook.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrAllocFailed struct {
	Layout Layout
	cause  error
}

// NewErrAllocFailed builds an ErrAllocFailed for the given request, wrapping
// cause (which may be nil). Providers use it to report exhaustion.
func NewErrAllocFailed(layout Layout, cause error) *ErrAllocFailed {
	return &ErrAllocFailed{Layout: layout, cause: cause}
}

func (e *ErrAllocFailed) Error() string {
	return fmt.Sprintf("allocation failed: size=%d align=%d", e.Layout.Size(), e.Layout.Align())
}

func (e *ErrAllocFailed) Unwrap() error { return e.cause }
