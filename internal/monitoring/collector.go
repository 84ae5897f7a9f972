// Package monitoring collects outcome, dead-letter and budget metrics and
// raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/budget"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Outcome metrics (within lookback window).
	OutcomeTotal     int                `json:"outcome_total"`
	OutcomeCompleted int                `json:"outcome_completed"`
	OutcomeFailed    int                `json:"outcome_failed"`
	FailRate         float64            `json:"fail_rate"`
	AvgScore         float64            `json:"avg_score"`
	TierCounts       map[model.Tier]int `json:"tier_counts"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	Budgets []budget.Status `json:"budgets,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// OutcomeSource is the store subset the collector reads.
type OutcomeSource interface {
	ListOutcomes(ctx context.Context, filter store.OutcomeFilter) ([]model.JobOutcome, error)
	CountDLQ(ctx context.Context) (int, error)
}

// BudgetReporter reports provider budget usage.
type BudgetReporter interface {
	Statuses() []budget.Status
}

// Collector gathers metrics from the store and budget manager.
type Collector struct {
	store   OutcomeSource
	budgets BudgetReporter
	now     func() time.Time
}

// NewCollector creates a new metrics collector. budgets may be nil.
func NewCollector(st OutcomeSource, budgets BudgetReporter) *Collector {
	return &Collector{store: st, budgets: budgets, now: time.Now}
}

// collectLimit bounds the outcomes read per snapshot.
const collectLimit = 10000

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		TierCounts:    map[model.Tier]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	outcomes, err := c.store.ListOutcomes(ctx, store.OutcomeFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: collectLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list outcomes")
	}

	snap.OutcomeTotal = len(outcomes)
	var totalScore float64
	var scored int
	for _, o := range outcomes {
		switch o.Status {
		case model.JobStatusCompleted:
			snap.OutcomeCompleted++
		case model.JobStatusFailed:
			snap.OutcomeFailed++
		}
		if o.Score != nil {
			totalScore += o.Score.Total
			scored++
			snap.TierCounts[o.Score.Tier]++
		}
	}

	if finished := snap.OutcomeCompleted + snap.OutcomeFailed; finished > 0 {
		snap.FailRate = float64(snap.OutcomeFailed) / float64(finished)
	}
	if scored > 0 {
		snap.AvgScore = totalScore / float64(scored)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	if c.budgets != nil {
		snap.Budgets = c.budgets.Statuses()
	}

	return snap, nil
}
