package optimistic_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/optimistic"
	"github.com/examsight/examsync/internal/status"
)

type server struct {
	mu   sync.Mutex
	list *examapi.ExamList
}

func (s *server) load(context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Clone(), nil
}

func (s *server) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list, _ = s.list.Without(id)
}

func seed(t *testing.T) (*cache.Cache, *server) {
	t.Helper()
	srv := &server{list: &examapi.ExamList{
		Data: []examapi.Exam{{ID: "X", Status: status.Completed}, {ID: "Y", Status: status.Pending}},
		Meta: examapi.ListMeta{Total: 2, Page: 1, PageSize: 20, TotalPages: 1},
	}}
	c := cache.New(cache.WithDedupInterval(0))
	_, err := c.Fetch(context.Background(), "exams", srv.load)
	require.NoError(t, err)
	return c, srv
}

func removeExam(id string) optimistic.Transform {
	return func(current any, ok bool) (any, error) {
		list, _ := current.(*examapi.ExamList)
		if !ok || list == nil {
			return current, nil
		}
		next, _ := list.Without(id)
		return next, nil
	}
}

func cachedIDs(t *testing.T, c *cache.Cache) []string {
	t.Helper()
	list, ok := cache.Peek[*examapi.ExamList](c, "exams")
	require.True(t, ok)
	ids := make([]string, 0, len(list.Data))
	for _, e := range list.Data {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestUpdate_OptimisticDelete_Success(t *testing.T) {
	t.Parallel()

	c, srv := seed(t)
	coord := optimistic.New(c)

	release := make(chan struct{})
	done := coord.Update(context.Background(), "exams", removeExam("X"), func(context.Context) error {
		<-release
		srv.remove("X")
		return nil
	})

	// removed synchronously, before the server call settles
	assert.Equal(t, []string{"Y"}, cachedIDs(t, c))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"Y"}, cachedIDs(t, c))

	_, open := <-done
	assert.False(t, open)
}

func TestUpdate_OptimisticDelete_FailureRestoresByRevalidation(t *testing.T) {
	t.Parallel()

	c, _ := seed(t)
	coord := optimistic.New(c)

	boom := errors.New("network unreachable")
	release := make(chan struct{})
	done := coord.Update(context.Background(), "exams", removeExam("X"), func(context.Context) error {
		<-release
		return boom
	})
	assert.Equal(t, []string{"Y"}, cachedIDs(t, c))

	close(release)
	assert.ErrorIs(t, <-done, boom)
	assert.Equal(t, []string{"X", "Y"}, cachedIDs(t, c))
}

func TestUpdate_DetachedFromCallerCancellation(t *testing.T) {
	t.Parallel()

	c, srv := seed(t)
	coord := optimistic.New(c)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done := coord.Update(ctx, "exams", removeExam("X"), func(ctx context.Context) error {
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		srv.remove("X")
		return nil
	})
	cancel()
	close(release)

	require.NoError(t, <-done)
}

func TestUpdate_TransformError(t *testing.T) {
	t.Parallel()

	c, _ := seed(t)
	coord := optimistic.New(c)

	boom := errors.New("cannot transform")
	called := false
	done := coord.Update(context.Background(), "exams",
		func(any, bool) (any, error) { return nil, boom },
		func(context.Context) error { called = true; return nil })

	assert.ErrorIs(t, <-done, boom)
	assert.False(t, called)
	assert.Equal(t, []string{"X", "Y"}, cachedIDs(t, c))
}

func TestUpdate_OverlappingUpdatesConverge(t *testing.T) {
	t.Parallel()

	c, srv := seed(t)
	coord := optimistic.New(c)

	failRelease := make(chan struct{})
	okRelease := make(chan struct{})
	failing := coord.Update(context.Background(), "exams", removeExam("X"), func(context.Context) error {
		<-failRelease
		return errors.New("delete of X rejected")
	})
	succeeding := coord.Update(context.Background(), "exams", removeExam("Y"), func(context.Context) error {
		<-okRelease
		srv.remove("Y")
		return nil
	})
	assert.Empty(t, cachedIDs(t, c))

	close(okRelease)
	require.NoError(t, <-succeeding)
	close(failRelease)
	require.Error(t, <-failing)

	// server truth: Y deleted, X kept
	assert.Equal(t, []string{"X"}, cachedIDs(t, c))
}

func TestReconcile_NoLoaderIsNotAnError(t *testing.T) {
	t.Parallel()

	coord := optimistic.New(cache.New())
	assert.NoError(t, coord.Reconcile(context.Background(), "never-fetched"))
}
