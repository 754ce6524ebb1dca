package intel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	sum   *Summary
	err   error
	calls int
}

func (f *fakeClassifier) SummarizePost(ctx context.Context, text string) (*Summary, error) {
	f.calls++
	return f.sum, f.err
}

type fakeCache struct {
	entries map[string]Summary
	getErr  error
	putErr  error
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]Summary)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (*Summary, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	s, ok := f.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (f *fakeCache) Put(ctx context.Context, key string, s Summary) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	f.entries[key] = s
	return nil
}

func TestNewServiceRequiresClassifier(t *testing.T) {
	_, err := NewService(nil, nil)
	require.EqualError(t, err, "intel: classifier is required")
}

func TestSummarizePostCachesResult(t *testing.T) {
	cls := &fakeClassifier{sum: &Summary{Summary: "Funding round.", IsCritical: true}}
	cache := newFakeCache()
	svc, err := NewService(cls, cache)
	require.NoError(t, err)

	first, err := svc.SummarizePost(context.Background(), "We raised $10M")
	require.NoError(t, err)
	require.True(t, first.IsCritical)
	require.Equal(t, 1, cls.calls)
	require.Equal(t, 1, cache.puts)

	second, err := svc.SummarizePost(context.Background(), "We raised $10M")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, cls.calls, "cache hit must not reach the classifier")
}

func TestSummarizePostDistinctTextsDistinctKeys(t *testing.T) {
	cls := &fakeClassifier{sum: &Summary{Summary: "s"}}
	cache := newFakeCache()
	svc, err := NewService(cls, cache)
	require.NoError(t, err)

	_, err = svc.SummarizePost(context.Background(), "post one")
	require.NoError(t, err)
	_, err = svc.SummarizePost(context.Background(), "post two")
	require.NoError(t, err)
	require.Equal(t, 2, cls.calls)
	require.Len(t, cache.entries, 2)
}

func TestSummarizePostCacheFailuresAreNonFatal(t *testing.T) {
	cls := &fakeClassifier{sum: &Summary{Summary: "ok"}}
	cache := newFakeCache()
	cache.getErr = errors.New("mongo down")
	cache.putErr = errors.New("mongo down")
	svc, err := NewService(cls, cache)
	require.NoError(t, err)

	sum, err := svc.SummarizePost(context.Background(), "some post")
	require.NoError(t, err)
	require.Equal(t, "ok", sum.Summary)
	require.Equal(t, 1, cls.calls)
}

func TestSummarizePostWithoutCache(t *testing.T) {
	cls := &fakeClassifier{sum: &Summary{Summary: "ok"}}
	svc, err := NewService(cls, nil)
	require.NoError(t, err)

	_, err = svc.SummarizePost(context.Background(), "some post")
	require.NoError(t, err)
	require.Equal(t, 1, cls.calls)
}

func TestSummarizePostRejectsEmptyText(t *testing.T) {
	svc, err := NewService(&fakeClassifier{}, nil)
	require.NoError(t, err)
	_, err = svc.SummarizePost(context.Background(), "   ")
	require.EqualError(t, err, "intel: post text is required")
}

func TestSummarizePostPropagatesClassifierError(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("overloaded")}
	svc, err := NewService(cls, nil)
	require.NoError(t, err)
	_, err = svc.SummarizePost(context.Background(), "some post")
	require.ErrorContains(t, err, "classify post")
}

func TestContentKeyStable(t *testing.T) {
	require.Equal(t, ContentKey("abc"), ContentKey("abc"))
	require.NotEqual(t, ContentKey("abc"), ContentKey("abd"))
	require.Len(t, ContentKey("abc"), 64)
}
