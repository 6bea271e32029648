package client

import (
	"context"
	"log/slog"
)

// Dependencies are the resources a handler invocation needs. In the
// terminated state these must be constructed fresh inside the invocation: the
// execution context shares no memory with the main process, and nothing may
// outlive the call.
type Dependencies struct {
	Notifier  Notifier
	Locations LocationProvider
}

// DependencyFactory builds Dependencies inside the isolated context.
type DependencyFactory func(ctx context.Context) (*Dependencies, error)

// RunIsolated is the terminated-state entrypoint. The OS spins up a
// short-lived, memory-isolated context solely to run this function, so it
// takes no ambient state: dependencies come from the factory, the whole
// invocation is bounded by the configured wall-clock budget, and every
// resource failure degrades to a log-only Decision rather than an error.
func RunIsolated(ctx context.Context, cfg Config, payload map[string]string, factory DependencyFactory, logger *slog.Logger) Decision {
	if cfg.IsolatedBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.IsolatedBudget)
		defer cancel()
	}

	deps, err := factory(ctx)
	if err != nil {
		logger.Warn("Failed to construct handler dependencies; log-only", "err", err)
		return Decision{
			State:          StateTerminated,
			Reason:         ReasonResourceUnavailable,
			NotificationID: NotificationID(payload),
		}
	}

	engine := NewEngine(cfg, deps.Notifier, deps.Locations, logger)
	return engine.Handle(ctx, StateTerminated, payload)
}
