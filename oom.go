package allocgo

import (
	"sync/atomic"
)

// OOMHook is the out-of-memory notification callback. It receives the Layout
// of the request that could not be satisfied and must not return normally:
// implementations abort the request path (panic) or, in restricted
// environments, block forever. A hook that does return is treated as a
// contract violation and the failure is escalated to a panic regardless.
type OOMHook func(Layout)

var oomHook atomic.Pointer[OOMHook]

// SetOOMHook installs hook as the process-wide out-of-memory handler,
// replacing any previous hook. Passing nil restores the default, which panics
// with an *ErrAllocFailed describing the request.
//
// The hook is typically set once at startup and read on every unrecoverable
// allocation failure. Containers can override it individually with the
// WithOOMHook option.
func SetOOMHook(hook OOMHook) {
	if hook == nil {
		oomHook.Store(nil)
		return
	}
	oomHook.Store(&hook)
}

// TakeOOMHook removes the installed hook and returns it, or nil if only the
// default was in effect.
func TakeOOMHook() OOMHook {
	p := oomHook.Swap(nil)
	if p == nil {
		return nil
	}
	return *p
}

// HandleAllocError reports an allocation request the caller cannot recover
// from. It invokes the installed hook, or the default, and never returns.
func HandleAllocError(layout Layout) {
	if p := oomHook.Load(); p != nil {
		(*p)(layout)
	}
	// Default path, or an installed hook returned in violation of its
	// contract.
	panic(NewErrAllocFailed(layout, nil))
}
