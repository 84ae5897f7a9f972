package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/trackscout/internal/model"
	"github.com/sells-group/trackscout/internal/resilience"
)

// --- Identity Mock ---

type mockIdentity struct {
	mock.Mock
}

func (m *mockIdentity) Name() string { return "musicbrainz" }

func (m *mockIdentity) LookupIdentifier(ctx context.Context, id model.Identifier) (*model.ProviderRecord, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.ProviderRecord), args.Bool(1), args.Error(2)
}

// --- Searcher Mock ---

type mockSearcher struct {
	mock.Mock
	name string
}

func (m *mockSearcher) Name() string { return m.name }

func (m *mockSearcher) SearchByArtistName(ctx context.Context, name string) (*model.ProviderRecord, bool, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.ProviderRecord), args.Bool(1), args.Error(2)
}

// --- Channel Mock ---

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Name() string { return "youtube" }

func (m *mockChannel) GetSecondaryChannelAnalytics(ctx context.Context, ref string) (*model.AnalyticsRecord, bool, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.AnalyticsRecord), args.Bool(1), args.Error(2)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveOutcome(ctx context.Context, o *model.JobOutcome) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *mockStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
