package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trackscout/internal/config"
	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/provider"
	"github.com/sells-group/trackscout/internal/resilience"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type testProviders struct {
	identity *mockIdentity
	metadata *mockSearcher
	popular  *mockSearcher
	supp     *mockSearcher
	channel  *mockChannel
	registry *provider.Registry
}

func newTestProviders() *testProviders {
	tp := &testProviders{
		identity: &mockIdentity{},
		metadata: &mockSearcher{name: "discogs"},
		popular:  &mockSearcher{name: "spotify"},
		supp:     &mockSearcher{name: "lastfm"},
		channel:  &mockChannel{},
		registry: provider.NewRegistry(),
	}
	tp.registry.SetIdentity(tp.identity)
	tp.registry.SetSearcher(model.RoleMetadata, tp.metadata)
	tp.registry.SetSearcher(model.RolePopularity, tp.popular)
	tp.registry.SetSearcher(model.RoleSupplementary, tp.supp)
	tp.registry.SetChannel(tp.channel)
	return tp
}

func (tp *testProviders) assertExpectations(t *testing.T) {
	t.Helper()
	tp.identity.AssertExpectations(t)
	tp.metadata.AssertExpectations(t)
	tp.popular.AssertExpectations(t)
	tp.supp.AssertExpectations(t)
	tp.channel.AssertExpectations(t)
}

func identityRecord() *model.ProviderRecord {
	return &model.ProviderRecord{
		ExternalID:  "rec-1",
		ArtistName:  "Nova Lights",
		TrackTitle:  "Glow",
		ReleaseDate: date(2025, 9, 12),
		Country:     "US",
		Label:       "Self-Released",
	}
}

func TestProcessOne_InvalidIdentifier(t *testing.T) {
	for _, raw := range []string{"", "USRC1760783", "USRC176078399", "USRC1760783!", "12RC17607839", "USRC17A07839"} {
		t.Run(raw, func(t *testing.T) {
			tp := newTestProviders()
			st := &mockStore{}
			st.On("EnqueueDLQ", mock.Anything, mock.MatchedBy(func(e resilience.DLQEntry) bool {
				return e.ErrorKind == model.ErrorKindInvalidIdentifier && e.ErrorType == resilience.ErrorTypePermanent
			})).Return(nil)

			o := New(tp.registry, WithStore(st), WithClock(fixedClock))
			out := o.ProcessOne(context.Background(), raw)

			assert.Equal(t, model.JobStatusFailed, out.Status)
			require.Len(t, out.Errors, 1)
			assert.Equal(t, model.ErrorKindInvalidIdentifier, out.Errors[0].Kind)
			assert.True(t, out.Errors[0].Fatal)
			assert.GreaterOrEqual(t, out.Elapsed, time.Duration(0))
			assert.Nil(t, out.Score)

			tp.identity.AssertNotCalled(t, "LookupIdentifier", mock.Anything, mock.Anything)
			tp.popular.AssertNotCalled(t, "SearchByArtistName", mock.Anything, mock.Anything)
			st.AssertNotCalled(t, "SaveOutcome", mock.Anything, mock.Anything)
			st.AssertExpectations(t)
		})
	}
}

func TestProcessOne_NormalizesIdentifier(t *testing.T) {
	tp := newTestProviders()
	tp.registry = provider.NewRegistry()
	tp.registry.SetIdentity(tp.identity)
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)

	o := New(tp.registry, WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), " us-rc1-76-07839 ")

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	assert.Equal(t, "USRC17607839", out.Identifier)
	tp.identity.AssertExpectations(t)
}

func TestProcessOne_IdentityNotFound(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(nil, false, nil)

	st := &mockStore{}
	st.On("EnqueueDLQ", mock.Anything, mock.MatchedBy(func(e resilience.DLQEntry) bool {
		return e.Identifier == "USRC17607839" &&
			e.ErrorKind == model.ErrorKindIdentityNotFound &&
			e.ErrorType == resilience.ErrorTypePermanent &&
			e.FailedStage == StageResolveIdentity &&
			e.MaxRetries == 5
	})).Return(nil)

	o := New(tp.registry, WithStore(st), WithClock(fixedClock), WithDLQMaxRetries(5))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusFailed, out.Status)
	assert.True(t, out.HasError(model.ErrorKindIdentityNotFound))
	assert.Empty(t, out.SourcesUsed)

	tp.metadata.AssertNotCalled(t, "SearchByArtistName", mock.Anything, mock.Anything)
	tp.popular.AssertNotCalled(t, "SearchByArtistName", mock.Anything, mock.Anything)
	tp.supp.AssertNotCalled(t, "SearchByArtistName", mock.Anything, mock.Anything)
	tp.channel.AssertNotCalled(t, "GetSecondaryChannelAnalytics", mock.Anything, mock.Anything)
	tp.identity.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestProcessOne_IdentityUnavailableIsRetryable(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(nil, false, errors.New("503 service unavailable"))

	st := &mockStore{}
	st.On("EnqueueDLQ", mock.Anything, mock.MatchedBy(func(e resilience.DLQEntry) bool {
		return e.ErrorKind == model.ErrorKindProviderUnavailable && e.CanRetry()
	})).Return(nil)

	o := New(tp.registry, WithStore(st), WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusFailed, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, model.ErrorKindProviderUnavailable, out.Errors[0].Kind)
	assert.Equal(t, "musicbrainz", out.Errors[0].Provider)
	assert.True(t, out.Errors[0].Fatal)
	st.AssertExpectations(t)
}

func TestProcessOne_PartialFailureWithTimeout(t *testing.T) {
	ident := &mockIdentity{}
	ident.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)

	slow := &mockSearcher{name: "discogs"}
	slow.On("SearchByArtistName", mock.Anything, "Nova Lights").
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, false, context.DeadlineExceeded)

	pop := &mockSearcher{name: "spotify"}
	pop.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(&model.ProviderRecord{
		ArtistName: "Nova Lights",
		Followers:  25000,
		Platforms:  []string{model.PlatformSpotify},
	}, true, nil)

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1
	gate := provider.NewGate(nil, provider.WithCallTimeout(20*time.Millisecond), provider.WithRetry(retry))

	reg := provider.NewRegistry()
	reg.SetIdentity(gate.Identity(ident))
	reg.SetSearcher(model.RoleMetadata, gate.Searcher(slow))
	reg.SetSearcher(model.RolePopularity, gate.Searcher(pop))

	o := New(reg, WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	assert.Equal(t, []string{"musicbrainz", "spotify"}, out.SourcesUsed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, model.ErrorKindProviderUnavailable, out.Errors[0].Kind)
	assert.Equal(t, "discogs", out.Errors[0].Provider)
	assert.False(t, out.Errors[0].Fatal)
	require.NotNil(t, out.Score)
	require.NotNil(t, out.Profile)
	assert.Equal(t, int64(25000), out.Profile.Artist.Followers)

	ident.AssertExpectations(t)
	slow.AssertExpectations(t)
	pop.AssertExpectations(t)
}

func TestProcessOne_FullEnrichment(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(&model.ProviderRecord{
		ArtistName: "Nova Lights",
		TrackTitle: "Glow",
		Country:    "US",
		SocialLinks: []model.SocialLink{
			{Platform: model.PlatformYouTube, URL: "https://www.youtube.com/@novalights"},
		},
	}, true, nil)
	tp.metadata.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(&model.ProviderRecord{
		Label: "Sony Music Entertainment",
	}, true, nil)
	tp.popular.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(&model.ProviderRecord{
		ArtistName: "Nova Lights", Followers: 400000, Popularity: 60,
	}, true, nil)
	tp.supp.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(nil, false, nil)
	tp.channel.On("GetSecondaryChannelAnalytics", mock.Anything, "https://www.youtube.com/@novalights").
		Return(&model.AnalyticsRecord{ChannelID: "UC1", URL: "https://www.youtube.com/channel/UC1", Subscribers: 5000}, true, nil)

	st := &mockStore{}
	st.On("SaveOutcome", mock.Anything, mock.MatchedBy(func(o *model.JobOutcome) bool {
		return o.Status == model.JobStatusCompleted && o.Score != nil && !o.FinishedAt.IsZero()
	})).Return(nil)

	o := New(tp.registry, WithStore(st), WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	assert.Empty(t, out.Errors)
	assert.Equal(t, []string{"musicbrainz", "discogs", "spotify", "youtube"}, out.SourcesUsed)
	assert.Len(t, out.Sources, 5, "not-found records are kept for audit")
	require.NotNil(t, out.Profile.Channel)
	assert.Contains(t, out.Profile.Track.Platforms, model.PlatformYouTube)
	assert.Equal(t, model.IndependenceMajor, out.Score.IndependenceClass)
	assert.Equal(t, fixedNow, out.Profile.ScoredAt)

	var stages []string
	for _, s := range out.Stages {
		stages = append(stages, s.Name)
	}
	assert.Equal(t, []string{
		StageValidate, StageResolveIdentity, StageEnrich, StageChannel, StageMerge, StageScore, StagePersist,
	}, stages)

	tp.assertExpectations(t)
	st.AssertExpectations(t)
}

func TestProcessOne_SelfReleasedTargetRegion(t *testing.T) {
	tp := newTestProviders()
	tp.registry = provider.NewRegistry()
	tp.registry.SetIdentity(tp.identity)
	tp.registry.SetSearcher(model.RolePopularity, tp.popular)
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)
	tp.popular.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(&model.ProviderRecord{
		ArtistName: "Nova Lights", Followers: 25000,
	}, true, nil)

	o := New(tp.registry, WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	require.NotNil(t, out.Score)
	assert.Equal(t, model.IndependenceSelfReleased, out.Score.IndependenceClass)
	assert.Equal(t, 100.0, out.Score.Independence)
	assert.Equal(t, 100.0, out.Score.Geographic)
	assert.Contains(t, []model.Tier{model.TierA, model.TierB}, out.Score.Tier)
}

func TestProcessOne_NoChannelAddsMaximumBonus(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)
	tp.metadata.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(nil, false, nil)
	tp.popular.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(nil, false, nil)
	tp.supp.On("SearchByArtistName", mock.Anything, "Nova Lights").Return(nil, false, nil)
	tp.channel.On("GetSecondaryChannelAnalytics", mock.Anything, "Nova Lights").Return(nil, false, nil)

	o := New(tp.registry, WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	require.NotNil(t, out.Score)
	assert.Contains(t, out.Score.Factors.Opportunity,
		"No secondary channel presence (no YouTube channel found) (+15)")
	tp.assertExpectations(t)
}

func TestProcessOne_PersistenceFailureKeepsCompleted(t *testing.T) {
	tp := newTestProviders()
	tp.registry = provider.NewRegistry()
	tp.registry.SetIdentity(tp.identity)
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)

	st := &mockStore{}
	st.On("SaveOutcome", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	o := New(tp.registry, WithStore(st), WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusCompleted, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, model.ErrorKindPersistenceFailure, out.Errors[0].Kind)
	assert.False(t, out.Errors[0].Fatal)
	assert.Contains(t, out.Errors[0].Message, "disk full")
	require.NotNil(t, out.Score)
	st.AssertNotCalled(t, "EnqueueDLQ", mock.Anything, mock.Anything)
}

func TestProcessOne_PanicBecomesInternalError(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(identityRecord(), true, nil)
	tp.metadata.On("SearchByArtistName", mock.Anything, "Nova Lights").
		Run(func(mock.Arguments) { panic("decoder exploded") }).
		Return(nil, false, nil)

	st := &mockStore{}
	st.On("EnqueueDLQ", mock.Anything, mock.MatchedBy(func(e resilience.DLQEntry) bool {
		return e.ErrorKind == model.ErrorKindInternal
	})).Return(nil)

	o := New(tp.registry, WithStore(st), WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusFailed, out.Status)
	require.True(t, out.HasError(model.ErrorKindInternal))
	assert.Contains(t, out.Errors[len(out.Errors)-1].Message, "decoder exploded")
	st.AssertExpectations(t)
}

func TestProcessOne_DLQFailureOnlyLogged(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(nil, false, nil)

	st := &mockStore{}
	st.On("EnqueueDLQ", mock.Anything, mock.Anything).Return(errors.New("db down"))

	o := New(tp.registry, WithStore(st))
	out := o.ProcessOne(context.Background(), "USRC17607839")
	assert.Equal(t, model.JobStatusFailed, out.Status)
	assert.Len(t, out.Errors, 1)
}

func TestProcessOne_NoIdentityProvider(t *testing.T) {
	o := New(provider.NewRegistry())
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusFailed, out.Status)
	assert.True(t, out.HasError(model.ErrorKindInternal))
}

func TestProcessOne_IdentityWithoutArtistFails(t *testing.T) {
	tp := newTestProviders()
	tp.identity.On("LookupIdentifier", mock.Anything, testISRC).Return(&model.ProviderRecord{TrackTitle: "Untitled", ArtistName: "  "}, true, nil)

	o := New(tp.registry, WithClock(fixedClock))
	out := o.ProcessOne(context.Background(), "USRC17607839")

	assert.Equal(t, model.JobStatusFailed, out.Status)
	assert.Nil(t, out.Score)
	assert.Nil(t, out.Profile)
	assert.True(t, out.HasError(model.ErrorKindIdentityNotFound))
	assert.Equal(t, []string{"musicbrainz"}, out.SourcesUsed)
	tp.metadata.AssertNotCalled(t, "SearchByArtistName", mock.Anything, mock.Anything)
	tp.channel.AssertNotCalled(t, "GetSecondaryChannelAnalytics", mock.Anything, mock.Anything)
}

func TestNewFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge:\n  caps:\n    genres: 2\n"), 0o600))

	cfg := &config.Config{
		Pipeline: config.PipelineConfig{MaxBatchSize: 10, PriorityTablePath: path, DLQMaxRetries: 7},
		Batch:    config.BatchConfig{GroupSize: 5, MaxConcurrentGroups: 3},
	}
	o, err := NewFromConfig(cfg, provider.NewRegistry(), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, o.MaxBatchSize())
	assert.Equal(t, 5, o.groupSize)
	assert.Equal(t, 3, o.maxGroups)
	assert.Equal(t, 7, o.dlqMaxRetries)
	assert.Equal(t, 2, o.priorities.Caps.Genres)
	assert.Nil(t, o.store)

	cfg.Scoring.TierA = 10
	cfg.Scoring.TierB = 50
	_, err = NewFromConfig(cfg, provider.NewRegistry(), nil)
	require.Error(t, err)

	cfg.Scoring = config.ScoringConfig{}
	cfg.Pipeline.PriorityTablePath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewFromConfig(cfg, provider.NewRegistry(), nil)
	require.Error(t, err)
}

func TestOutcomeLine(t *testing.T) {
	assert.Equal(t, "USRC17607839 failed (1 errors)", OutcomeLine(&model.JobOutcome{
		Identifier: "USRC17607839", Status: model.JobStatusFailed, Errors: []model.JobError{{}},
	}))
	assert.Equal(t, "USRC17607839 completed 62.5 tier B", OutcomeLine(&model.JobOutcome{
		Identifier: "USRC17607839", Status: model.JobStatusCompleted,
		Score: &model.ScoreBreakdown{Total: 62.5, Tier: model.TierB},
	}))
}
