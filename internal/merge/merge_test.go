package merge_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/examapi/mocks"
	"github.com/examsight/examsync/internal/httpclient"
	"github.com/examsight/examsync/internal/merge"
)

func newCoordinator(t *testing.T) (*merge.Coordinator, *mocks.MockClient, *cache.Cache) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	client := mocks.NewMockClient(ctrl)
	c := cache.New()
	return merge.New(c, client), client, c
}

func TestMerge_RequiresTwoExams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ids  []string
	}{
		{name: "no ids", ids: nil},
		{name: "one id", ids: []string{"E1"}},
		{name: "duplicates of one id", ids: []string{"E1", "E1", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// no EXPECT calls: any network call fails the test
			m, _, _ := newCoordinator(t)
			_, err := m.Merge(context.Background(), tt.ids)
			require.Error(t, err)
			assert.Equal(t, examapi.ClassValidation, examapi.Classify(err))
		})
	}
}

func TestMerge_ResolvesConcurrentlyAndCachesResult(t *testing.T) {
	t.Parallel()

	m, client, c := newCoordinator(t)

	// both lookups must be in flight at the same time to pass the barrier
	var inFlight atomic.Int32
	barrier := make(chan struct{})
	lookup := func(_ context.Context, examID string) (string, error) {
		if inFlight.Add(1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
		case <-time.After(time.Second):
			return "", errors.New("lookups were not concurrent")
		}
		return "A-" + examID, nil
	}
	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E1").DoAndReturn(lookup)
	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E2").DoAndReturn(lookup)
	client.EXPECT().MergeAnalyses(gomock.Any(), []string{"A-E1", "A-E2"}).
		Return(&examapi.Analysis{ID: "M1", ExamIDs: []string{"E1", "E2"}}, nil)

	merged, err := m.Merge(context.Background(), []string{"E1", "E2", "E1"})
	require.NoError(t, err)
	assert.Equal(t, "M1", merged.ID)
	assert.False(t, m.IsMutating())

	entry, ok := c.Get(merge.AnalysisKey("M1"))
	require.True(t, ok)
	assert.True(t, entry.Immutable)
	assert.Equal(t, merged, entry.Value)

	id, ok := cache.Peek[string](c, merge.ExamAnalysisKey("E2"))
	require.True(t, ok)
	assert.Equal(t, "A-E2", id)
}

func TestMerge_LookupFailureAbortsMerge(t *testing.T) {
	t.Parallel()

	m, client, _ := newCoordinator(t)

	notFound := httpclient.NewHTTPError(http.StatusNotFound, "GET", "/exams/E2/analysis", "no analysis")
	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E1").
		DoAndReturn(func(ctx context.Context, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "A1", nil
			}
		}).AnyTimes()
	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E2").Return("", notFound)
	// MergeAnalyses is never expected

	_, err := m.Merge(context.Background(), []string{"E1", "E2"})
	require.Error(t, err)
	assert.Equal(t, examapi.ClassNotFound, examapi.Classify(err))
}

func TestMerge_UsesCachedLookups(t *testing.T) {
	t.Parallel()

	m, client, _ := newCoordinator(t)

	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E1").Return("A1", nil).Times(1)
	client.EXPECT().GetExamAnalysisID(gomock.Any(), "E2").Return("A2", nil).Times(1)
	client.EXPECT().MergeAnalyses(gomock.Any(), []string{"A1", "A2"}).
		Return(&examapi.Analysis{ID: "M1"}, nil)
	client.EXPECT().MergeAnalyses(gomock.Any(), []string{"A1", "A2"}).
		Return(&examapi.Analysis{ID: "M2"}, nil)

	_, err := m.Merge(context.Background(), []string{"E1", "E2"})
	require.NoError(t, err)
	// within the dedup window the lookups come from the cache
	second, err := m.Merge(context.Background(), []string{"E1", "E2"})
	require.NoError(t, err)
	assert.Equal(t, "M2", second.ID)
}

func TestMerge_MergeCallFails(t *testing.T) {
	t.Parallel()

	m, client, c := newCoordinator(t)

	client.EXPECT().GetExamAnalysisID(gomock.Any(), gomock.Any()).Return("A", nil).Times(2)
	client.EXPECT().MergeAnalyses(gomock.Any(), gomock.Any()).
		Return(nil, httpclient.NewHTTPError(http.StatusInternalServerError, "POST", "/analysis/merge", "boom"))

	_, err := m.Merge(context.Background(), []string{"E1", "E2"})
	require.Error(t, err)
	assert.Equal(t, examapi.ClassServer, examapi.Classify(err))
	assert.Empty(t, c.Keys("analysis/"))
}
