package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
)

// DLQStore is the persistence RetryDLQ needs.
type DLQStore interface {
	OutcomeStore
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
}

// RetryReport summarizes one pass over the dead letter queue.
type RetryReport struct {
	Attempted int                 `json:"attempted"`
	Recovered int                 `json:"recovered"`
	Requeued  int                 `json:"requeued"`
	Outcomes  []*model.JobOutcome `json:"outcomes,omitempty"`
}

// RetryDLQ re-runs transient entries that are due. A recovered identifier is
// removed from the queue; a failed retry bumps the existing entry instead of
// adding a new one.
func (o *Orchestrator) RetryDLQ(ctx context.Context, st DLQStore, limit int) (*RetryReport, error) {
	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
		ErrorType: resilience.ErrorTypeTransient,
		DueBefore: o.now().UTC(),
		Limit:     limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list dlq")
	}

	report := &RetryReport{}
	for i := range entries {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "pipeline: dlq retry cancelled")
		}
		entry := entries[i]
		if !entry.CanRetry() {
			continue
		}

		rs := &requeueStore{OutcomeStore: st, entry: &entry}
		job := *o
		job.store = rs

		report.Attempted++
		out := job.ProcessOne(ctx, entry.Identifier)
		report.Outcomes = append(report.Outcomes, out)

		log := zap.L().With(zap.String("dlq_id", entry.ID), zap.String("isrc", entry.Identifier))
		if out.Status != model.JobStatusCompleted {
			report.Requeued++
			log.Info("pipeline: dlq retry failed", zap.Int("retry_count", entry.RetryCount))
			continue
		}
		if err := st.RemoveDLQ(ctx, entry.ID); err != nil {
			log.Error("pipeline: failed to remove recovered dlq entry", zap.Error(err))
			continue
		}
		report.Recovered++
		log.Info("pipeline: dlq entry recovered")
	}
	return report, nil
}

// requeueStore folds a fresh dead-letter entry into the one being retried.
type requeueStore struct {
	OutcomeStore
	entry *resilience.DLQEntry
}

func (s *requeueStore) EnqueueDLQ(ctx context.Context, fresh resilience.DLQEntry) error {
	s.entry.Bump(fresh.Error, fresh.LastFailedAt)
	s.entry.ErrorKind = fresh.ErrorKind
	s.entry.ErrorType = fresh.ErrorType
	s.entry.FailedStage = fresh.FailedStage
	return s.OutcomeStore.EnqueueDLQ(ctx, *s.entry)
}
