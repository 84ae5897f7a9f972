package model

import "time"

// JobStatus is the lifecycle state of one aggregation job.
type JobStatus string

const (
	JobStatusPending           JobStatus = "pending"
	JobStatusResolvingIdentity JobStatus = "resolving_identity"
	JobStatusEnriching         JobStatus = "enriching"
	JobStatusScoring           JobStatus = "scoring"
	JobStatusPersisting        JobStatus = "persisting"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageStatus is the result of one timed stage.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult records the timing and result of one stage of a job.
type StageResult struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// JobOutcome is the structured result of processing one identifier.
type JobOutcome struct {
	ID          string          `json:"id"`
	Identifier  string          `json:"identifier"`
	Status      JobStatus       `json:"status"`
	Errors      []JobError      `json:"errors"`
	Elapsed     time.Duration   `json:"elapsed"`
	SourcesUsed []string        `json:"sources_used"`
	Sources     []SourceRecord  `json:"sources,omitempty"`
	Stages      []StageResult   `json:"stages,omitempty"`
	Profile     *MergedProfile  `json:"profile,omitempty"`
	Score       *ScoreBreakdown `json:"score,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// HasError reports whether an error of kind was recorded.
func (o *JobOutcome) HasError(kind ErrorKind) bool {
	for _, e := range o.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// BatchSummary rolls up a batch of jobs.
type BatchSummary struct {
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	SuccessRate float64       `json:"success_rate"`
	TotalTime   time.Duration `json:"total_time"`
	AverageTime time.Duration `json:"average_time"`
	TierCounts  map[Tier]int  `json:"tier_counts"`
	Outcomes    []*JobOutcome `json:"outcomes,omitempty"`
	Error       string        `json:"error,omitempty"`
}
