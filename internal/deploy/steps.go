package deploy

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one named unit of a pipeline. Steps run strictly in order and the
// first failure aborts everything after it.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// runSteps executes steps sequentially and reports which step failed.
func runSteps(ctx context.Context, logger *slog.Logger, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %q canceled: %w", step.Name, err)
		}
		logger.Info("step started", "step", step.Name, "position", fmt.Sprintf("%d/%d", i+1, len(steps)))
		if err := step.Run(ctx); err != nil {
			logger.Error("step failed", "step", step.Name, "error", err)
			return fmt.Errorf("step %q failed: %w", step.Name, err)
		}
		logger.Info("step completed", "step", step.Name)
	}
	return nil
}
