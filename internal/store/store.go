// Package store persists job outcomes, their field provenance, and the
// dead-letter queue of failed identifiers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// OutcomeFilter specifies criteria for listing outcomes.
type OutcomeFilter struct {
	Identifier string          `json:"identifier,omitempty"`
	Status     model.JobStatus `json:"status,omitempty"`
	Tier       model.Tier      `json:"tier,omitempty"`
	Since      time.Time       `json:"since,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for job outcomes.
type Store interface {
	// Outcomes. SaveOutcome writes the outcome and its provenance rows in
	// one transaction; saving the same ID again replaces both.
	SaveOutcome(ctx context.Context, o *model.JobOutcome) error
	GetOutcome(ctx context.Context, id string) (*model.JobOutcome, error)
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.JobOutcome, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// tierOf returns the outcome's tier, or "" when it was not scored.
func tierOf(o *model.JobOutcome) string {
	if o.Score == nil {
		return ""
	}
	return string(o.Score.Tier)
}

// totalOf returns the outcome's total score, or nil when it was not scored.
func totalOf(o *model.JobOutcome) *float64 {
	if o.Score == nil {
		return nil
	}
	v := o.Score.Total
	return &v
}

// provenanceOf returns the outcome's provenance rows.
func provenanceOf(o *model.JobOutcome) []model.FieldProvenance {
	if o.Profile == nil {
		return nil
	}
	return o.Profile.Provenance
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
