package liveness

import (
	"context"
	"log/slog"

	"github.com/campusgate/doorlock/internal/flags"
)

// FlagEvaluator is the subset of the feature flag store used by Gate.
type FlagEvaluator interface {
	Evaluate(ctx context.Context, name, description string, defaultEnabled bool, handlers *flags.Handlers) (bool, error)
}

// Gate decides once, at startup, whether the monitor should run. Toggling
// the flag later only logs; the running sweep keeps its startup decision
// until the process restarts. A store failure keeps the monitor off.
func Gate(ctx context.Context, evaluator FlagEvaluator, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	enabled, err := evaluator.Evaluate(ctx, FlagName, flagDescription, true, &flags.Handlers{
		OnEnable: func(context.Context) error {
			logger.Warn("device monitor flag enabled; takes effect on restart", slog.String("flag", FlagName))
			return nil
		},
		OnDisable: func(context.Context) error {
			logger.Warn("device monitor flag disabled; takes effect on restart", slog.String("flag", FlagName))
			return nil
		},
	})
	if err != nil {
		logger.Error("evaluate monitor flag", slog.Any("error", err))
		return false
	}
	return enabled
}
