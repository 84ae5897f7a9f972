package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trackscout/internal/model"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured maximum.
var ErrBatchTooLarge = eris.New("pipeline: batch too large")

// MaxBatchSize returns the largest batch ProcessBatch accepts.
func (o *Orchestrator) MaxBatchSize() int { return o.maxBatchSize }

// ProcessBatch processes ids in groups of batchSize. Jobs within a group run
// one after another; groups run concurrently up to the configured limit and
// share the providers' budgets. A batch larger than the maximum is rejected
// before any provider is called. Cancelling ctx stops new jobs from starting;
// jobs that never started are counted as skipped.
func (o *Orchestrator) ProcessBatch(ctx context.Context, ids []string, batchSize int) (*model.BatchSummary, error) {
	log := zap.L().With(zap.Int("total", len(ids)))

	if len(ids) > o.maxBatchSize {
		err := eris.Wrapf(ErrBatchTooLarge, "%d identifiers exceeds the maximum of %d", len(ids), o.maxBatchSize)
		log.Warn("pipeline: batch rejected", zap.Error(err))
		return &model.BatchSummary{
			Total:      len(ids),
			TierCounts: map[model.Tier]int{},
			Error:      err.Error(),
		}, err
	}
	if batchSize <= 0 {
		batchSize = o.groupSize
	}

	groups := partition(len(ids), batchSize)
	log.Info("pipeline: starting batch",
		zap.Int("groups", len(groups)),
		zap.Int("group_size", batchSize),
		zap.Int("concurrency", o.maxGroups),
	)

	start := time.Now()
	outcomes := make([]*model.JobOutcome, len(ids))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(o.maxGroups)
	for gi, grp := range groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for i := grp.start; i < grp.end; i++ {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[i] = o.ProcessOne(ctx, ids[i])
				n := done.Add(1)
				zap.L().Debug("pipeline: batch progress",
					zap.Int("group", gi),
					zap.Int64("done", n),
					zap.Int("total", len(ids)),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(outcomes, time.Since(start))
	log.Info("pipeline: batch complete",
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.Duration("total_time", summary.TotalTime),
	)

	if err := ctx.Err(); err != nil && summary.Skipped > 0 {
		summary.Error = fmt.Sprintf("batch cancelled: %d identifiers skipped", summary.Skipped)
		return summary, eris.Wrap(err, "pipeline: batch cancelled")
	}
	return summary, nil
}

type span struct{ start, end int }

// partition splits n items into consecutive groups of at most size.
func partition(n, size int) []span {
	var out []span
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		out = append(out, span{start: i, end: end})
	}
	return out
}

// summarize rolls outcomes up into a batch summary. Nil entries are jobs that
// never started.
func summarize(outcomes []*model.JobOutcome, wall time.Duration) *model.BatchSummary {
	s := &model.BatchSummary{
		Total:      len(outcomes),
		TotalTime:  wall,
		TierCounts: map[model.Tier]int{},
	}

	var elapsed time.Duration
	for _, out := range outcomes {
		if out == nil {
			s.Skipped++
			continue
		}
		s.Outcomes = append(s.Outcomes, out)
		elapsed += out.Elapsed
		switch out.Status {
		case model.JobStatusCompleted:
			s.Completed++
			if out.Score != nil {
				s.TierCounts[out.Score.Tier]++
			}
		default:
			s.Failed++
		}
	}

	if processed := s.Completed + s.Failed; processed > 0 {
		s.SuccessRate = math.Round(float64(s.Completed)/float64(processed)*1000) / 10
		s.AverageTime = elapsed / time.Duration(processed)
	}
	return s
}
