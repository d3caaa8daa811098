package orders

import (
	"context"
	"log/slog"
	"time"
)

const compensationTimeout = 5 * time.Second

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga records undo steps as forward steps succeed and replays them in
// reverse when a later step fails.
type saga struct {
	steps  []compensation
	logger *slog.Logger
}

func newSaga(logger *slog.Logger) *saga {
	return &saga{logger: logger}
}

func (s *saga) add(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, undo: undo})
}

// compensate runs every undo step even if some fail. It detaches from the
// caller's cancellation so an aborted request still returns its stock.
func (s *saga) compensate(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	failed := 0
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			failed++
			s.logger.Error("compensation failed", "step", step.name, "error", err)
			continue
		}
		s.logger.Info("compensation applied", "step", step.name)
	}
	s.steps = nil
	return failed
}
