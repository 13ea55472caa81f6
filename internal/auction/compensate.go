package auction

import (
	"context"
	"log/slog"

	"github.com/ashishshetty777/auction-app/internal/metrics"
	"github.com/ashishshetty777/auction-app/internal/store"
)

// undoLog records how to revert each write of a unit of work on a store
// without transactions. A nil *undoLog records nothing.
type undoLog struct {
	steps []undoStep
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (u *undoLog) add(name string, fn func(ctx context.Context) error) {
	if u == nil {
		return
	}
	u.steps = append(u.steps, undoStep{name: name, fn: fn})
}

// rollback runs the recorded steps newest first. It keeps going past
// failures so as much as possible is restored.
func (u *undoLog) rollback(ctx context.Context, logger *slog.Logger) {
	if u == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(u.steps) - 1; i >= 0; i-- {
		s := u.steps[i]
		if err := s.fn(ctx); err != nil {
			metrics.Compensations.WithLabelValues(metrics.ResultFailed).Inc()
			logger.ErrorContext(ctx, "compensation step failed",
				slog.String("step", s.name),
				slog.Any("error", err),
			)
			continue
		}
		metrics.Compensations.WithLabelValues(metrics.ResultOK).Inc()
		logger.WarnContext(ctx, "compensation step applied", slog.String("step", s.name))
	}
	u.steps = nil
}

// unitFunc is one auction mutation. Writes made through tx must register an
// undo step on undo.
type unitFunc func(ctx context.Context, tx store.Tx, undo *undoLog) error

// atomically runs fn in a store transaction when the driver offers one and
// otherwise directly, compensating completed writes if fn fails.
func (m *Manager) atomically(ctx context.Context, fn unitFunc) error {
	if m.repos.Tx != nil {
		return m.repos.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return fn(ctx, tx, nil)
		})
	}

	undo := &undoLog{}
	if err := fn(ctx, m.repos.Direct(), undo); err != nil {
		undo.rollback(ctx, m.logger)
		return err
	}
	return nil
}
