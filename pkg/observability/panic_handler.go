package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic in a background goroutine and logs it with the stack.
// It must be deferred directly:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "sweeper")
//	    ...
//	}()
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, component string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":     r,
			"stack":     string(debug.Stack()),
			"component": component,
		}).Error("panic recovered")
	}
}
