package resilience

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/trackscout/internal/model"
)

// Error classes recorded on dead-letter entries.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a failed identifier that can be retried later.
type DLQEntry struct {
	ID           string          `json:"id"`
	Identifier   string          `json:"identifier"`
	Error        string          `json:"error"`
	ErrorKind    model.ErrorKind `json:"error_kind"`
	ErrorType    string          `json:"error_type"`
	FailedStage  string          `json:"failed_stage,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string    `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	DueBefore time.Time `json:"due_before,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// CanRetry reports whether the entry is retryable and under its retry cap.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType == ErrorTypeTransient && e.RetryCount < e.MaxRetries
}

// NewDLQEntry builds a dead-letter entry from a failed outcome. The first
// fatal error decides the classification.
func NewDLQEntry(o *model.JobOutcome, maxRetries int, now time.Time) DLQEntry {
	e := DLQEntry{
		ID:           uuid.NewString(),
		Identifier:   o.Identifier,
		ErrorKind:    model.ErrorKindInternal,
		ErrorType:    ErrorTypePermanent,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	for _, je := range o.Errors {
		if !je.Fatal {
			continue
		}
		e.Error = je.Error()
		e.ErrorKind = je.Kind
		e.ErrorType = ClassifyKind(je.Kind)
		break
	}
	for _, st := range o.Stages {
		if st.Status == model.StageStatusFailed {
			e.FailedStage = st.Name
			break
		}
	}
	e.NextRetryAt = now.Add(DLQBackoff(0))
	return e
}

// Bump records another failed retry of e.
func (e *DLQEntry) Bump(errMsg string, now time.Time) {
	e.RetryCount++
	e.Error = errMsg
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(DLQBackoff(e.RetryCount))
}

// DLQBackoff is the delay before retry n of a dead-lettered identifier:
// 5 minutes doubling per retry, capped at 24 hours.
func DLQBackoff(retry int) time.Duration {
	d := 5 * time.Minute
	for i := 0; i < retry && d < 24*time.Hour; i++ {
		d *= 2
	}
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	return d
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) || errors.Is(err, model.ErrProviderUnavailable) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// ClassifyKind maps a job error kind to a dead-letter class. Only an
// unavailable provider is worth retrying; bad input and missing identities
// fail the same way every time.
func ClassifyKind(kind model.ErrorKind) string {
	if kind == model.ErrorKindProviderUnavailable || kind == model.ErrorKindPersistenceFailure {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
