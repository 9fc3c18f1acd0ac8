package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PanicRecoveriesTotal counts recovered panics by component. The HTTP
// recovery middleware increments it as well.
var PanicRecoveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "panic_recoveries_total",
		Help:      "Total number of panic recoveries by component",
	},
	[]string{"component"},
)

// LogPanic records a recovered panic value with its stack trace.
func LogPanic(logger Logger, component string, r any) {
	PanicRecoveriesTotal.WithLabelValues(component).Inc()
	logger.Error().
		Str(FieldComponent, component).
		Str("panic_value", fmt.Sprintf("%v", r)).
		Str("stack_trace", string(debug.Stack())).
		Msg("PANIC RECOVERED")
}

// RecoverGoRoutine wraps a goroutine body with panic recovery:
//
//	go logging.RecoverGoRoutine(logger, "heartbeat_monitor", m.sweepLoop)(ctx)
//
// The context is passed at the spawn site rather than captured.
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				LogPanic(logger, component, r)
			}
		}()

		fn(ctx)
	}
}

// RecoverWithLogger runs fn and converts a panic into an error.
func RecoverWithLogger(logger Logger, component string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			LogPanic(logger.With().Str(FieldOperation, operation).Logger(), component, r)
			err = fmt.Errorf("panic recovered in %s: %v", operation, r)
		}
	}()

	return fn()
}
