package modelcache

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCorpus struct {
	lines []string
	calls int
	err   error
}

func (f *fakeCorpus) TrainingCorpus(ctx context.Context, chatID int64, limit int) ([]string, error) {
	f.calls++
	return f.lines, f.err
}

type nopRecorder struct{}

func (nopRecorder) RecordModelCacheHit()                            {}
func (nopRecorder) RecordModelCacheMiss()                           {}
func (nopRecorder) RecordModelBuild(status string, d time.Duration) {}

func newTestCache(corpus *fakeCorpus) *Cache {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCache(corpus, nopRecorder{}, logger)
}

func corpusOf(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("training message number %d goes here", i)
	}
	return lines
}

func TestGetOrBuild_CachesModel(t *testing.T) {
	corpus := &fakeCorpus{lines: corpusOf(30)}
	c := newTestCache(corpus)
	ctx := context.Background()

	first, err := c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, corpus.calls)

	second, err := c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, corpus.calls, "cached model must not trigger a rebuild")
}

func TestGetOrBuild_InsufficientCorpus(t *testing.T) {
	corpus := &fakeCorpus{lines: corpusOf(19)}
	c := newTestCache(corpus)

	model, err := c.GetOrBuild(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, model)
}

func TestGetOrBuild_FiltersBlankLines(t *testing.T) {
	lines := corpusOf(19)
	lines = append(lines, "   ", "", "\t")
	corpus := &fakeCorpus{lines: lines}
	c := newTestCache(corpus)

	// 22 raw lines, but only 19 remain after filtering.
	model, err := c.GetOrBuild(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, model)
}

func TestGetOrBuild_PerChatEntries(t *testing.T) {
	corpus := &fakeCorpus{lines: corpusOf(30)}
	c := newTestCache(corpus)
	ctx := context.Background()

	a, err := c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	b, err := c.GetOrBuild(ctx, 2, 2)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, corpus.calls)
}

func TestInvalidate(t *testing.T) {
	corpus := &fakeCorpus{lines: corpusOf(30)}
	c := newTestCache(corpus)
	ctx := context.Background()

	_, err := c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)

	c.Invalidate(1)
	_, err = c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, corpus.calls, "invalidated entry must rebuild")
}

func TestInvalidateAll(t *testing.T) {
	corpus := &fakeCorpus{lines: corpusOf(30)}
	c := newTestCache(corpus)
	ctx := context.Background()

	_, err := c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	_, err = c.GetOrBuild(ctx, 2, 2)
	require.NoError(t, err)

	c.InvalidateAll()
	_, err = c.GetOrBuild(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, corpus.calls)
}
