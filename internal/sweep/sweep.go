// Package sweep runs the overdue clock. On every tick it finds offenses
// still pending payment past their due date and asks the offense service to
// flip them. Marking is idempotent, so overlapping sweeps and races with
// payments or appeals are harmless.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"fineledger/internal/domain"
	"fineledger/internal/storage"
)

var tracer = otel.Tracer("fineledger/sweep")

// Marker is the slice of the offense service the sweep needs.
type Marker interface {
	MarkOverdue(ctx context.Context, id domain.OffenseID) (bool, error)
}

type Worker struct {
	ledger   *storage.Ledger
	marker   Marker
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewWorker(ledger *storage.Ledger, marker Marker, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		ledger:   ledger,
		marker:   marker,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once at startup and then on every tick until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if err := w.Sweep(ctx); err != nil {
		w.logger.Error("overdue sweep failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("overdue sweep failed", "error", err)
			}
		}
	}
}

// Sweep marks every due offense overdue. One store error aborts the pass;
// per-offense races are skipped silently by the marker.
func (w *Worker) Sweep(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "sweep.overdue")
	defer span.End()

	due, err := w.ledger.Offenses.ListDueBefore(ctx, w.now().UTC())
	if err != nil {
		span.RecordError(err)
		return err
	}

	marked := 0
	for _, offense := range due {
		flipped, err := w.marker.MarkOverdue(ctx, offense.ID)
		if err != nil {
			w.logger.Error("mark overdue", "offense_id", offense.ID.String(), "error", err)
			continue
		}
		if flipped {
			marked++
		}
	}

	span.SetAttributes(attribute.Int("sweep.due", len(due)), attribute.Int("sweep.marked", marked))
	if marked > 0 {
		w.logger.Info("overdue sweep complete", "due", len(due), "marked", marked)
	}
	return nil
}
