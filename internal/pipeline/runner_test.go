package pipeline_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/chatpress/internal/cache"
	"github.com/xxxsen/chatpress/internal/checkpoint"
	"github.com/xxxsen/chatpress/internal/generate"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pipeline"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/chatpress/internal/window"
)

var baseTime = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func makeMessages(n int) []model.Message {
	msgs := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, model.Message{
			ID:        fmt.Sprintf("m%03d", i),
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Author:    "alice",
			Body:      fmt.Sprintf("message number %d", i),
		})
	}
	return msgs
}

type fakeWriter struct {
	mu       sync.Mutex
	calls    int
	failOn   map[int]bool
	noOutput bool
}

func (w *fakeWriter) WriteWindow(ctx context.Context, win model.Window, text string, bundle model.ContextBundle) (generate.Output, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failOn[win.Index] {
		return generate.Output{}, fmt.Errorf("provider exploded")
	}
	if w.noOutput {
		return generate.Output{}, nil
	}
	return generate.Output{Documents: []model.GeneratedDocument{
		{Content: fmt.Sprintf("# Report for window %d\n\n%s", win.Index, text)},
	}}, nil
}

func (w *fakeWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type recordSink struct {
	mu   sync.Mutex
	docs map[string]string
}

func newRecordSink() *recordSink {
	return &recordSink{docs: make(map[string]string)}
}

func (s *recordSink) Persist(ctx context.Context, doc model.GeneratedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.StorageID] = doc.Content
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

type failingSink struct{}

func (failingSink) Persist(ctx context.Context, doc model.GeneratedDocument) error {
	return fmt.Errorf("disk full")
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, tier string, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: backend down", errs.ErrCacheBackend)
}

func (failingCache) Put(ctx context.Context, tier string, key string, payload []byte) error {
	return fmt.Errorf("%w: backend down", errs.ErrCacheBackend)
}

func (failingCache) Invalidate(ctx context.Context, tier string) error { return nil }

func (failingCache) InvalidateAll(ctx context.Context) error { return nil }

func newWindower(t *testing.T) *window.Windower {
	t.Helper()
	w, err := window.New(context.Background(), window.Config{
		Policy:          window.PolicyMessages,
		Size:            10,
		MaxWindowTokens: 100000,
	})
	require.NoError(t, err)
	return w
}

func newMemCache(t *testing.T) cache.ICache {
	t.Helper()
	c, err := cache.New("memory", nil)
	require.NoError(t, err)
	return c
}

func TestRunGeneratesAllWindows(t *testing.T) {
	ctx := context.Background()
	writer := &fakeWriter{}
	sink := newRecordSink()
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       newMemCache(t),
		Writer:      writer,
		Sink:        sink,
	})
	msgs := makeMessages(30)
	sum, err := runner.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Generated)
	require.Equal(t, 0, sum.Cached)
	require.Equal(t, 0, sum.Skipped)
	require.Equal(t, 0, sum.Failed)
	require.Equal(t, int64(30), sum.MessagesProcessed)
	require.Equal(t, 3, writer.callCount())
	require.Equal(t, 3, sink.count())

	cp, ok := checkpoint.NewStore(cpPath).Load(ctx)
	require.True(t, ok)
	require.True(t, cp.LastProcessedTimestamp.Equal(msgs[29].Timestamp))
	require.Equal(t, int64(30), cp.MessagesProcessed)
}

func TestRerunIsServedFromCache(t *testing.T) {
	ctx := context.Background()
	shared := newMemCache(t)
	msgs := makeMessages(30)

	first := &fakeWriter{}
	runner1 := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "cp1.json")),
		Cache:       shared,
		Writer:      first,
		Sink:        newRecordSink(),
	})
	_, err := runner1.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 3, first.callCount())

	// fresh checkpoint, same cache: everything replays without the provider
	second := &fakeWriter{}
	sink2 := newRecordSink()
	runner2 := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "cp2.json")),
		Cache:       shared,
		Writer:      second,
		Sink:        sink2,
	})
	sum, err := runner2.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Cached)
	require.Equal(t, 0, sum.Generated)
	require.Equal(t, 0, second.callCount())
	require.Equal(t, 3, sink2.count())
}

func TestResumeSkipsCommittedWindows(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	// crash after window 0 committed: only its progress is durable
	require.NoError(t, checkpoint.NewStore(cpPath).Save(ctx, msgs[9].Timestamp, 10))

	writer := &fakeWriter{}
	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       newMemCache(t),
		Writer:      writer,
		Sink:        newRecordSink(),
	})
	sum, err := runner.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 2, sum.Generated)
	require.Equal(t, 2, writer.callCount())
	require.Equal(t, int64(30), sum.MessagesProcessed)
}

func TestCrashedWindowReplaysFromCacheOnResume(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)
	shared := newMemCache(t)

	// first run populates the cache for every window
	runner1 := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "cp1.json")),
		Cache:       shared,
		Writer:      &fakeWriter{},
		Sink:        newRecordSink(),
	})
	_, err := runner1.Run(ctx, msgs)
	require.NoError(t, err)

	// simulate a crash that committed only window 0
	cpPath := filepath.Join(t.TempDir(), "cp2.json")
	require.NoError(t, checkpoint.NewStore(cpPath).Save(ctx, msgs[9].Timestamp, 10))

	writer := &fakeWriter{}
	sink := newRecordSink()
	runner2 := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       shared,
		Writer:      writer,
		Sink:        sink,
	})
	sum, err := runner2.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 2, sum.Cached)
	require.Equal(t, 0, writer.callCount())
	require.Equal(t, 2, sink.count())
}

func TestNoOutputStillCommitsProgress(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(10)
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	sink := newRecordSink()

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       newMemCache(t),
		Writer:      &fakeWriter{noOutput: true},
		Sink:        sink,
	})
	sum, err := runner.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Generated)
	require.Equal(t, 0, sink.count())

	cp, ok := checkpoint.NewStore(cpPath).Load(ctx)
	require.True(t, ok)
	require.True(t, cp.LastProcessedTimestamp.Equal(msgs[9].Timestamp))
}

func TestWriterFailureAbortsByDefault(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       newMemCache(t),
		Writer:      &fakeWriter{failOn: map[int]bool{1: true}},
		Sink:        newRecordSink(),
	})
	sum, err := runner.Run(ctx, msgs)
	require.Error(t, err)
	require.Equal(t, 1, sum.Generated)
	require.Equal(t, 1, sum.Failed)

	// progress stops at the last good window
	cp, ok := checkpoint.NewStore(cpPath).Load(ctx)
	require.True(t, ok)
	require.True(t, cp.LastProcessedTimestamp.Equal(msgs[9].Timestamp))
}

func TestWriterFailureContinuesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:        newWindower(t),
		Checkpoints:     checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:           newMemCache(t),
		Writer:          &fakeWriter{failOn: map[int]bool{1: true}},
		Sink:            newRecordSink(),
		ContinueOnError: true,
	})
	sum, err := runner.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Generated)
	require.Equal(t, 1, sum.Failed)
}

func TestPersistFailureFailsWindow(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(10)
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(cpPath),
		Cache:       newMemCache(t),
		Writer:      &fakeWriter{},
		Sink:        failingSink{},
	})
	sum, err := runner.Run(ctx, msgs)
	require.Error(t, err)
	require.Equal(t, 1, sum.Failed)

	// no progress was committed for the failed window
	_, ok := checkpoint.NewStore(cpPath).Load(ctx)
	require.False(t, ok)
}

func TestCacheBackendFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	writer := &fakeWriter{}
	sink := newRecordSink()

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:       failingCache{},
		Writer:      writer,
		Sink:        sink,
	})
	sum, err := runner.Run(ctx, makeMessages(10))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Generated)
	require.Equal(t, 1, writer.callCount())
	require.Equal(t, 1, sink.count())
}

func TestOversizedMessageFailsOnlyItsWindow(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)
	msgs[15].Body = strings.Repeat("chatter ", 100)

	w, err := window.New(ctx, window.Config{
		Policy:          window.PolicyMessages,
		Size:            10,
		MaxWindowTokens: 100,
	})
	require.NoError(t, err)

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:        w,
		Checkpoints:     checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:           newMemCache(t),
		Writer:          &fakeWriter{},
		Sink:            newRecordSink(),
		ContinueOnError: true,
	})
	sum, err := runner.Run(ctx, msgs)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 2, sum.Generated)
}

func TestOversizedMessageAbortsByDefault(t *testing.T) {
	ctx := context.Background()
	msgs := makeMessages(30)
	msgs[15].Body = strings.Repeat("chatter ", 100)

	w, err := window.New(ctx, window.Config{
		Policy:          window.PolicyMessages,
		Size:            10,
		MaxWindowTokens: 100,
	})
	require.NoError(t, err)

	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    w,
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:       newMemCache(t),
		Writer:      &fakeWriter{},
		Sink:        newRecordSink(),
	})
	sum, err := runner.Run(ctx, msgs)
	require.ErrorIs(t, err, errs.ErrWindowFailed)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Generated)
}

func TestEmptyStreamIsNoOp(t *testing.T) {
	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:       newMemCache(t),
		Writer:      &fakeWriter{},
		Sink:        newRecordSink(),
	})
	sum, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, sum.Generated+sum.Cached+sum.Skipped+sum.Failed)
}

func TestCancellationStopsBetweenWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &fakeWriter{}
	runner := pipeline.NewRunner(pipeline.RunnerParams{
		Windower:    newWindower(t),
		Checkpoints: checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json")),
		Cache:       newMemCache(t),
		Writer:      writer,
		Sink:        newRecordSink(),
	})
	_, err := runner.Run(ctx, makeMessages(30))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, writer.callCount())
}
