package abuseshield

import (
	"fmt"
	"log/slog"
)

// GateOption is a functional option for configuring a Gate.
type GateOption func(*Gate) error

// WithIdentityFunc sets the hook resolving a request's authenticated
// identity. Without it the gate tracks clients by IP only.
func WithIdentityFunc(fn IdentityFunc) GateOption {
	return func(g *Gate) error {
		if fn == nil {
			return fmt.Errorf("%w: identity func cannot be nil", ErrInvalidConfig)
		}
		g.identity = fn
		return nil
	}
}

// WithMetrics sets the recorder receiving every gate decision.
func WithMetrics(rec DecisionRecorder) GateOption {
	return func(g *Gate) error {
		if rec == nil {
			return fmt.Errorf("%w: metrics recorder cannot be nil", ErrInvalidConfig)
		}
		g.metrics = rec
		return nil
	}
}

// WithLogger sets the gate's logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		g.logger = logger.With("component", "gate")
		return nil
	}
}
