package elo

import (
	"context"
	"log/slog"

	"github.com/playrank/playrank/internal/types"
)

// Worker drains pending ELO batches left behind by deferred completion
// or by servers that died mid-calculation. It reuses the orchestrator's
// Process entry point, so stale calculating rows are reclaimed through
// the lock manager's TTL takeover.
type Worker struct {
	orch   *Orchestrator
	locks  *LockManager
	logger *slog.Logger
}

// NewWorker creates a drain worker.
func NewWorker(orch *Orchestrator, locks *LockManager, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		orch:   orch,
		locks:  locks,
		logger: logger.With("component", "elo.worker"),
	}
}

// Drain processes every pending or stale-calculating activity once.
// Per-activity failures are recorded on the status row and do not stop
// the sweep.
func (w *Worker) Drain(ctx context.Context) (processed, failed int) {
	ids, err := w.locks.ListDrainable(ctx, 50)
	if err != nil {
		w.logger.Error("failed to list drainable activities", "error", err)
		return 0, 0
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return processed, failed
		}
		if err := w.orch.Process(ctx, id); err != nil {
			// Another server winning the lock is routine, not a failure.
			if types.KindOf(err) == types.KindConcurrentCalculation {
				continue
			}
			failed++
			w.logger.Warn("drain failed for activity", "activity_id", id, "error", err)
			continue
		}
		processed++
	}

	if processed > 0 || failed > 0 {
		w.logger.Info("elo drain pass finished", "processed", processed, "failed", failed)
	}
	return processed, failed
}
