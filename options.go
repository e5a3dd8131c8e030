package allocgo

import (
	"errors"
)

type options struct {
	oomHook OOMHook
	logger  *Logger
}

// Option configures container construction (RawBuffer and Box).
//
// Today options primarily exist to make the failure-handling strategy
// injectable without exploding the constructor surface.
type Option func(*options)

// WithOOMHook overrides the process-wide out-of-memory hook for allocations
// made by this container. Like the global hook, it must not return normally;
// if it does, the failure escalates to a panic.
func WithOOMHook(hook OOMHook) Option {
	return func(o *options) {
		o.oomHook = hook
	}
}

// WithLogger configures structured logging for the container's failure path.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger: NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// fatal escalates an error from an infallible container operation: capacity
// overflow panics, allocation failure is routed to the out-of-memory hook.
// It never returns.
func (o options) fatal(err error) {
	var af *ErrAllocFailed
	if errors.As(err, &af) {
		o.logger.LogAllocFailure(af.Layout, err)
		if o.oomHook != nil {
			o.oomHook(af.Layout)
			// The hook returned in violation of its contract.
			panic(af)
		}
		HandleAllocError(af.Layout)
	}
	panic(err)
}
