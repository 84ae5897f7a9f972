// Package pipeline runs aggregation jobs: it resolves an identifier through
// the identity provider, enriches it from the name-keyed providers, merges
// the results by a declared priority table, scores the merged profile and
// persists the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trackscout/internal/config"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/provider"
	"github.com/sells-group/trackscout/internal/resilience"
	"github.com/sells-group/trackscout/internal/scorer"
)

// Stage names recorded on outcomes.
const (
	StageValidate        = "validate"
	StageResolveIdentity = "resolve_identity"
	StageEnrich          = "enrich"
	StageChannel         = "channel"
	StageMerge           = "merge"
	StageScore           = "score"
	StagePersist         = "persist"
)

// Defaults applied when the config leaves a value unset.
const (
	DefaultMaxBatchSize  = 1000
	DefaultGroupSize     = 50
	DefaultDLQMaxRetries = 3
)

// OutcomeStore is the persistence the orchestrator writes to. store.Store
// satisfies it.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, o *model.JobOutcome) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// Orchestrator processes identifiers into scored outcomes.
type Orchestrator struct {
	providers     *provider.Registry
	store         OutcomeStore
	priorities    PriorityTable
	scoring       config.ScoringConfig
	maxBatchSize  int
	groupSize     int
	maxGroups     int
	dlqMaxRetries int
	now           func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore sets where outcomes and failed jobs are written. Without a store
// the persist stage is skipped.
func WithStore(st OutcomeStore) Option {
	return func(o *Orchestrator) { o.store = st }
}

// WithPriorityTable replaces the default merge priorities.
func WithPriorityTable(t PriorityTable) Option {
	return func(o *Orchestrator) { o.priorities = t }
}

// WithScoringConfig sets the scorer constants.
func WithScoringConfig(c config.ScoringConfig) Option {
	return func(o *Orchestrator) { o.scoring = c }
}

// WithMaxBatchSize sets the largest batch ProcessBatch accepts.
func WithMaxBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// WithGroupSize sets the default group size for batches.
func WithGroupSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.groupSize = n
		}
	}
}

// WithMaxConcurrentGroups sets how many batch groups run at once.
func WithMaxConcurrentGroups(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxGroups = n
		}
	}
}

// WithDLQMaxRetries sets the retry cap written on dead-letter entries.
func WithDLQMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.dlqMaxRetries = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator over the registered providers.
func New(providers *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:     providers,
		priorities:    DefaultPriorityTable(),
		scoring:       scorer.DefaultConfig(),
		maxBatchSize:  DefaultMaxBatchSize,
		groupSize:     DefaultGroupSize,
		maxGroups:     1,
		dlqMaxRetries: DefaultDLQMaxRetries,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig creates an Orchestrator from application config. st may be
// nil.
func NewFromConfig(cfg *config.Config, providers *provider.Registry, st OutcomeStore) (*Orchestrator, error) {
	table := DefaultPriorityTable()
	if cfg.Pipeline.PriorityTablePath != "" {
		t, err := LoadPriorityTable(cfg.Pipeline.PriorityTablePath)
		if err != nil {
			return nil, err
		}
		table = t
	}

	scoring := scorer.WithDefaults(cfg.Scoring)
	if err := scorer.ValidateConfig(scoring); err != nil {
		return nil, err
	}

	opts := []Option{
		WithPriorityTable(table),
		WithScoringConfig(scoring),
		WithMaxBatchSize(cfg.Pipeline.MaxBatchSize),
		WithGroupSize(cfg.Batch.GroupSize),
		WithMaxConcurrentGroups(cfg.Batch.MaxConcurrentGroups),
		WithDLQMaxRetries(cfg.Pipeline.DLQMaxRetries),
	}
	if st != nil {
		opts = append(opts, WithStore(st))
	}
	return New(providers, opts...), nil
}

// job carries the mutable state of one ProcessOne call.
type job struct {
	out *model.JobOutcome
	log *zap.Logger
}

func (j *job) setStatus(s model.JobStatus) {
	j.out.Status = s
	j.log.Debug("pipeline: status", zap.String("status", string(s)))
}

func (j *job) addError(provider string, err error) model.JobError {
	je := model.NewJobError(provider, err)
	j.out.Errors = append(j.out.Errors, je)
	return je
}

// fail records err as the job's fatal error and flips it to failed.
func (j *job) fail(provider string, err error) {
	je := model.NewJobError(provider, err)
	je.Fatal = true
	j.out.Errors = append(j.out.Errors, je)
	j.out.Status = model.JobStatusFailed
}

// track times fn as a named stage and records it on the outcome.
func (j *job) track(name string, fn func() (map[string]any, error)) error {
	start := time.Now()
	meta, err := fn()
	duration := time.Since(start).Milliseconds()

	sr := model.StageResult{Name: name, DurationMs: duration, Metadata: meta}
	if err != nil {
		sr.Status = model.StageStatusFailed
		sr.Error = err.Error()
		j.log.Warn("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	} else {
		sr.Status = model.StageStatusComplete
		j.log.Debug("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
		)
	}
	j.out.Stages = append(j.out.Stages, sr)
	return err
}

func (j *job) skip(name, reason string) {
	j.out.Stages = append(j.out.Stages, model.StageResult{
		Name:     name,
		Status:   model.StageStatusSkipped,
		Metadata: map[string]any{"reason": reason},
	})
}

// ProcessOne runs one identifier through the pipeline. It always returns an
// outcome; failures are reported on it rather than as an error.
func (o *Orchestrator) ProcessOne(ctx context.Context, raw string) (out *model.JobOutcome) {
	started := o.now()
	out = &model.JobOutcome{
		ID:         uuid.New().String(),
		Identifier: raw,
		Status:     model.JobStatusPending,
		Errors:     []model.JobError{},
		StartedAt:  started,
	}
	j := &job{out: out, log: zap.L().With(zap.String("job_id", out.ID), zap.String("input", raw))}

	defer func() {
		if r := recover(); r != nil {
			j.log.Error("pipeline: panic in job",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			j.fail("", eris.Wrapf(model.ErrInternal, "panic: %v", r))
		}
		o.finish(ctx, j, started)
	}()

	id, ok := o.validate(j, raw)
	if !ok {
		return out
	}
	out.Identifier = id.String()
	j.log = j.log.With(zap.String("isrc", id.String()))

	identity, ok := o.resolveIdentity(ctx, j, id)
	if !ok {
		return out
	}

	sources := []model.SourceRecord{*identity}
	sources = append(sources, o.enrich(ctx, j, identity.Record.ArtistName)...)
	if ch := o.channel(ctx, j, sources); ch != nil {
		sources = append(sources, *ch)
	}
	out.Sources = sources
	for _, s := range sources {
		if s.Found {
			out.SourcesUsed = append(out.SourcesUsed, s.Provider)
		}
	}

	var profile *model.MergedProfile
	err := j.track(StageMerge, func() (map[string]any, error) {
		profile = Merge(id, sources, o.priorities, o.now().UTC())
		if strings.TrimSpace(profile.Artist.Name) == "" {
			return nil, eris.Wrapf(model.ErrIdentityNotFound, "no provider named an artist for %s", id)
		}
		return map[string]any{"fields": len(profile.Provenance)}, nil
	})
	if err != nil {
		j.fail("", err)
		return out
	}
	out.Profile = profile

	j.setStatus(model.JobStatusScoring)
	_ = j.track(StageScore, func() (map[string]any, error) {
		b := scorer.Score(profile, o.scoring)
		out.Score = &b
		return map[string]any{"total": b.Total, "tier": string(b.Tier)}, nil
	})

	o.persist(ctx, j, started)
	out.Status = model.JobStatusCompleted
	return out
}

func (o *Orchestrator) validate(j *job, raw string) (model.Identifier, bool) {
	var id model.Identifier
	err := j.track(StageValidate, func() (map[string]any, error) {
		var err error
		id, err = model.ParseIdentifier(raw)
		return nil, err
	})
	if err != nil {
		j.fail("", err)
		return "", false
	}
	return id, true
}

// resolveIdentity calls the identity provider. Any miss or error fails the
// job since every later provider needs the artist name.
func (o *Orchestrator) resolveIdentity(ctx context.Context, j *job, id model.Identifier) (*model.SourceRecord, bool) {
	j.setStatus(model.JobStatusResolvingIdentity)

	p := o.providers.Identity()
	if p == nil {
		j.fail("", eris.Wrap(model.ErrInternal, "no identity provider configured"))
		return nil, false
	}

	var src *model.SourceRecord
	err := j.track(StageResolveIdentity, func() (map[string]any, error) {
		rec, found, err := p.LookupIdentifier(ctx, id)
		if err != nil {
			return nil, asUnavailable(p.Name(), err)
		}
		if !found || rec == nil {
			return nil, eris.Wrapf(model.ErrIdentityNotFound, "%s: no recording for %s", p.Name(), id)
		}
		src = &model.SourceRecord{
			Provider:  p.Name(),
			Role:      model.RoleIdentity,
			Found:     true,
			Record:    *rec,
			FetchedAt: o.now().UTC(),
		}
		return map[string]any{"provider": p.Name(), "artist": rec.ArtistName}, nil
	})
	if err != nil {
		j.fail(p.Name(), err)
		return nil, false
	}
	return src, true
}

// enrich calls the name-keyed providers in their fixed order. Failures are
// recorded and never stop the job.
func (o *Orchestrator) enrich(ctx context.Context, j *job, artist string) []model.SourceRecord {
	j.setStatus(model.JobStatusEnriching)
	artist = strings.TrimSpace(artist)
	if artist == "" {
		j.skip(StageEnrich, "identity record has no artist name")
		return nil
	}

	var sources []model.SourceRecord
	_ = j.track(StageEnrich, func() (map[string]any, error) {
		called, found := 0, 0
		for _, role := range provider.EnrichmentOrder {
			p := o.providers.Searcher(role)
			if p == nil {
				continue
			}
			called++
			rec, ok, err := p.SearchByArtistName(ctx, artist)
			if err != nil {
				j.addError(p.Name(), asUnavailable(p.Name(), err))
				continue
			}
			src := model.SourceRecord{Provider: p.Name(), Role: role, Found: ok && rec != nil, FetchedAt: o.now().UTC()}
			if src.Found {
				src.Record = *rec
				found++
			}
			sources = append(sources, src)
		}
		return map[string]any{"called": called, "found": found}, nil
	})
	return sources
}

// channel looks up the artist's secondary channel. A failure is recorded and
// leaves the channel absent.
func (o *Orchestrator) channel(ctx context.Context, j *job, sources []model.SourceRecord) *model.SourceRecord {
	p := o.providers.Channel()
	if p == nil {
		j.skip(StageChannel, "no channel provider configured")
		return nil
	}

	artist := Merge("", sources, o.priorities, time.Time{}).Artist.Name
	ref := ChannelRef(sources, artist)
	if ref == "" {
		j.skip(StageChannel, "no channel reference")
		return nil
	}

	var src *model.SourceRecord
	_ = j.track(StageChannel, func() (map[string]any, error) {
		rec, found, err := p.GetSecondaryChannelAnalytics(ctx, ref)
		if err != nil {
			err = asUnavailable(p.Name(), err)
			j.addError(p.Name(), err)
			return nil, err
		}
		src = &model.SourceRecord{Provider: p.Name(), Role: model.RoleChannel, Found: found && rec != nil, FetchedAt: o.now().UTC()}
		if src.Found {
			a := *rec
			src.Analytics = &a
		}
		return map[string]any{"ref": ref, "found": src.Found}, nil
	})
	return src
}

// persist writes the outcome as completed. A failed write is recorded on the
// outcome without changing its status.
func (o *Orchestrator) persist(ctx context.Context, j *job, started time.Time) {
	if o.store == nil {
		j.skip(StagePersist, "no store configured")
		return
	}
	j.setStatus(model.JobStatusPersisting)

	_ = j.track(StagePersist, func() (map[string]any, error) {
		snapshot := *j.out
		snapshot.Status = model.JobStatusCompleted
		snapshot.FinishedAt = o.now()
		snapshot.Elapsed = snapshot.FinishedAt.Sub(started)
		if err := o.store.SaveOutcome(ctx, &snapshot); err != nil {
			err = eris.Wrapf(model.ErrPersistenceFailure, "save outcome: %v", err)
			j.addError("", err)
			return nil, err
		}
		return nil, nil
	})
}

// finish stamps timing, logs the result and dead-letters failed jobs.
func (o *Orchestrator) finish(ctx context.Context, j *job, started time.Time) {
	out := j.out
	out.FinishedAt = o.now()
	out.Elapsed = out.FinishedAt.Sub(started)
	if out.Elapsed < 0 {
		out.Elapsed = 0
	}

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.Strings("sources", out.SourcesUsed),
		zap.Int("errors", len(out.Errors)),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.Score != nil {
		fields = append(fields, zap.Float64("total", out.Score.Total), zap.String("tier", string(out.Score.Tier)))
	}

	if out.Status != model.JobStatusFailed {
		j.log.Info("pipeline: job complete", fields...)
		return
	}
	j.log.Warn("pipeline: job failed", fields...)

	if o.store == nil {
		return
	}
	entry := resilience.NewDLQEntry(out, o.dlqMaxRetries, out.FinishedAt.UTC())
	if err := o.store.EnqueueDLQ(context.WithoutCancel(ctx), entry); err != nil {
		j.log.Error("pipeline: failed to enqueue dlq", zap.Error(err))
	}
}

// asUnavailable keeps err in the ProviderUnavailable class. Gated providers
// already return it; bare ones may not.
func asUnavailable(provider string, err error) error {
	if errors.Is(err, model.ErrProviderUnavailable) {
		return err
	}
	return eris.Wrapf(model.ErrProviderUnavailable, "%s: %v", provider, err)
}

// OutcomeLine renders a one-line summary of an outcome for logs and the CLI.
func OutcomeLine(out *model.JobOutcome) string {
	if out.Score == nil {
		return fmt.Sprintf("%s %s (%d errors)", out.Identifier, out.Status, len(out.Errors))
	}
	return fmt.Sprintf("%s %s %.1f tier %s", out.Identifier, out.Status, out.Score.Total, out.Score.Tier)
}
