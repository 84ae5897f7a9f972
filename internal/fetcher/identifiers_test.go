package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	args := m.Called(ctx, url)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDownloader) DownloadToFile(ctx context.Context, url string, path string) (int64, error) {
	args := m.Called(ctx, url, path)
	return args.Get(0).(int64), args.Error(1)
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		src  string
		want Format
	}{
		{"ids.txt", FormatText},
		{"ids", FormatText},
		{"/data/IDS.CSV", FormatCSV},
		{"tracks.xlsx", FormatXLSX},
		{"https://example.com/list.csv?token=abc", FormatCSV},
		{"https://example.com/export", FormatText},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatOf(tt.src))
		})
	}
}

func TestReadIdentifiers_Text(t *testing.T) {
	path := writeTestFile(t, "ids.txt", "# batch 1\nUSRC17607839\n\n  GBAYE0601498  \nUSRC17607839\nnot-an-isrc\n")

	ids, err := ReadIdentifiers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USRC17607839", "GBAYE0601498", "USRC17607839", "not-an-isrc"}, ids)
}

func TestReadIdentifiers_CSVHeaderColumn(t *testing.T) {
	path := writeTestFile(t, "ids.csv", "title,ISRC\nSong,USRC17607839\nBlank,\nOther,GBAYE0601498\n")

	ids, err := ReadIdentifiers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USRC17607839", "GBAYE0601498"}, ids)
}

func TestReadIdentifiers_CSVFirstColumn(t *testing.T) {
	path := writeTestFile(t, "ids.csv", "USRC17607839,Song\nGBAYE0601498,Other\n")

	ids, err := ReadIdentifiers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USRC17607839", "GBAYE0601498"}, ids)
}

func TestReadIdentifiers_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"artist", "isrc"},
			{"A", "USRC17607839"},
			{"B", "GBAYE0601498"},
		},
	})

	ids, err := ReadIdentifiers(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USRC17607839", "GBAYE0601498"}, ids)
}

func TestReadIdentifiers_MissingFile(t *testing.T) {
	_, err := ReadIdentifiers(context.Background(), "/nonexistent/ids.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: open")
}

func TestReadIdentifiersFrom_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lists/ids.csv", r.URL.Path)
		_, _ = w.Write([]byte("isrc\nUSRC17607839\n"))
	}))
	defer srv.Close()

	ids, err := ReadIdentifiersFrom(context.Background(), newTestFetcher(), srv.URL+"/lists/ids.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"USRC17607839"}, ids)
}

func TestReadIdentifiersFrom_DownloadError(t *testing.T) {
	dl := &mockDownloader{}
	dl.On("DownloadToFile", mock.Anything, "https://example.com/ids.txt", mock.MatchedBy(func(p string) bool {
		return strings.HasSuffix(p, "input.txt")
	})).Return(int64(0), assert.AnError)

	_, err := ReadIdentifiersFrom(context.Background(), dl, "https://example.com/ids.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	dl.AssertExpectations(t)
}

func TestReadIdentifiersFrom_NoDownloader(t *testing.T) {
	_, err := ReadIdentifiersFrom(context.Background(), nil, "https://example.com/ids.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no downloader")
}
