package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xxxsen/chatpress/internal/ai"
	"github.com/xxxsen/chatpress/internal/cache"
	"github.com/xxxsen/chatpress/internal/checkpoint"
	"github.com/xxxsen/chatpress/internal/generate"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/chatpress/internal/retriever"
	"github.com/xxxsen/chatpress/internal/sink"
	"github.com/xxxsen/chatpress/internal/vecindex"
	"github.com/xxxsen/chatpress/internal/window"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// TierPosts is the cache tier holding generated documents keyed by the
// fingerprint of the consolidated window text.
const TierPosts = "posts"

type Status string

const (
	StatusCached    Status = "cached"
	StatusGenerated Status = "generated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

type WindowResult struct {
	Index     int    `json:"index"`
	Status    Status `json:"status"`
	Documents int    `json:"documents"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	Cached            int            `json:"cached"`
	Generated         int            `json:"generated"`
	Skipped           int            `json:"skipped"`
	Failed            int            `json:"failed"`
	MessagesProcessed int64          `json:"messages_processed"`
	Windows           []WindowResult `json:"windows"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
}

type RunnerParams struct {
	Windower    *window.Windower
	Checkpoints *checkpoint.Store
	Cache       cache.ICache
	Retriever   *retriever.Retriever
	Writer      generate.IWriter
	Sink        sink.ISink

	// Index and Embedder feed freshly generated documents back into
	// the similarity index; both optional.
	Index    vecindex.IIndex
	Embedder ai.IEmbedder

	ChunkMaxTokens     int
	ChunkOverlapTokens int
	ContinueOnError    bool
}

// Runner drives the window stream through retrieve, generate, persist
// and checkpoint. Progress commits once per window, after persistence,
// so a crash replays at most the in-flight window.
type Runner struct {
	params RunnerParams
}

func NewRunner(params RunnerParams) *Runner {
	return &Runner{params: params}
}

func (r *Runner) Run(ctx context.Context, msgs []model.Message) (*Summary, error) {
	logger := logutil.GetLogger(ctx)
	sum := &Summary{StartedAt: time.Now().UTC()}
	var resumeTs time.Time
	var processed int64
	defer func() {
		sum.FinishedAt = time.Now().UTC()
		sum.MessagesProcessed = processed
	}()
	if cp, ok := r.params.Checkpoints.Load(ctx); ok {
		resumeTs = cp.LastProcessedTimestamp
		processed = cp.MessagesProcessed
		logger.Info("resuming from checkpoint",
			zap.Time("last_processed", resumeTs),
			zap.Int64("messages_processed", processed))
	}

	it := r.params.Windower.Iterate(msgs)
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("run cancelled between windows")
			return sum, err
		}
		win, ok, werr := it.Next()
		if !ok {
			break
		}
		if werr != nil {
			sum.Failed++
			sum.Windows = append(sum.Windows, WindowResult{
				Index:  win.Index,
				Status: StatusFailed,
				Error:  werr.Error(),
			})
			if errs.IsWindowSizeExceeded(werr) {
				logger.Error("message exceeds window token ceiling",
					zap.Int("window", win.Index), zap.Error(werr))
			} else {
				logger.Error("window cannot be formed", zap.Int("window", win.Index), zap.Error(werr))
			}
			if !r.params.ContinueOnError {
				return sum, fmt.Errorf("%w: window %d: %v", errs.ErrWindowFailed, win.Index, werr)
			}
			continue
		}
		if win.Size == 0 {
			continue
		}
		lastTs := win.Messages[win.Size-1].Timestamp
		if !resumeTs.IsZero() && !lastTs.After(resumeTs) {
			sum.Skipped++
			sum.Windows = append(sum.Windows, WindowResult{Index: win.Index, Status: StatusSkipped})
			continue
		}

		res, fatal := r.processWindow(ctx, win, &processed)
		sum.Windows = append(sum.Windows, res)
		switch res.Status {
		case StatusCached:
			sum.Cached++
		case StatusGenerated:
			sum.Generated++
		case StatusFailed:
			sum.Failed++
		}
		if fatal != nil {
			return sum, fatal
		}
		if res.Status == StatusFailed && !r.params.ContinueOnError {
			return sum, fmt.Errorf("%w: window %d: %s", errs.ErrWindowFailed, win.Index, res.Error)
		}
	}
	logger.Info("run finished",
		zap.Int("cached", sum.Cached),
		zap.Int("generated", sum.Generated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int64("messages_processed", processed))
	return sum, nil
}

// processWindow handles one window end to end. The returned error is
// fatal for the whole run; per-window failures come back as a failed
// result instead.
func (r *Runner) processWindow(ctx context.Context, win model.Window, processed *int64) (WindowResult, error) {
	text := retriever.ConsolidateWindow(win)
	fp := cache.Fingerprint([]byte(text))
	logger := logutil.GetLogger(ctx).With(
		zap.Int("window", win.Index),
		zap.String("fingerprint", fp[:12]))

	if docs, ok := r.cachedDocuments(ctx, fp); ok {
		for _, doc := range docs {
			if err := r.params.Sink.Persist(ctx, doc); err != nil {
				logger.Error("persist cached document failed", zap.Error(err))
				return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, nil
			}
		}
		if err := r.commit(ctx, win, processed); err != nil {
			return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, err
		}
		logger.Info("window served from cache", zap.Int("documents", len(docs)))
		return WindowResult{Index: win.Index, Status: StatusCached, Documents: len(docs)}, nil
	}

	var bundle model.ContextBundle
	if r.params.Retriever != nil {
		var err error
		bundle, err = r.params.Retriever.BuildContext(ctx, win, text)
		if err != nil {
			return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, err
		}
	}

	out, err := r.params.Writer.WriteWindow(ctx, win, text, bundle)
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, nil
	}
	docs := out.Documents
	for i := range docs {
		docs[i].StorageID = storageID(win, fp, i)
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]string{}
		}
		docs[i].Metadata["source_window"] = strconv.Itoa(win.Index)
		docs[i].Metadata["schema_version"] = model.SchemaVersion
	}
	for _, doc := range docs {
		if err := r.params.Sink.Persist(ctx, doc); err != nil {
			logger.Error("persist document failed", zap.Error(err))
			return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, nil
		}
	}
	if payload, err := json.Marshal(docs); err == nil {
		if err := r.params.Cache.Put(ctx, TierPosts, fp, payload); err != nil {
			logger.Warn("cache put failed", zap.Error(err))
		}
	}
	r.indexDocuments(ctx, docs)
	if err := r.commit(ctx, win, processed); err != nil {
		return WindowResult{Index: win.Index, Status: StatusFailed, Error: err.Error()}, err
	}
	return WindowResult{Index: win.Index, Status: StatusGenerated, Documents: len(docs)}, nil
}

func (r *Runner) cachedDocuments(ctx context.Context, fp string) ([]model.GeneratedDocument, bool) {
	payload, ok, err := r.params.Cache.Get(ctx, TierPosts, fp)
	if err != nil {
		msg := "cache get failed, treating as miss"
		if errs.IsCacheBackend(err) {
			msg = "cache backend unavailable, treating as miss"
		}
		logutil.GetLogger(ctx).Warn(msg, zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var docs []model.GeneratedDocument
	if err := json.Unmarshal(payload, &docs); err != nil {
		logutil.GetLogger(ctx).Warn("cache payload corrupt, treating as miss", zap.Error(err))
		return nil, false
	}
	return docs, true
}

// commit advances the checkpoint past a finished window. A commit
// failure aborts the run: without durable progress a rerun could
// double-generate everything after this point.
func (r *Runner) commit(ctx context.Context, win model.Window, processed *int64) error {
	*processed += int64(win.Size)
	lastTs := win.Messages[win.Size-1].Timestamp
	if err := r.params.Checkpoints.Save(ctx, lastTs, *processed); err != nil {
		return err
	}
	return nil
}

func (r *Runner) indexDocuments(ctx context.Context, docs []model.GeneratedDocument) {
	if r.params.Index == nil || r.params.Embedder == nil {
		return
	}
	logger := logutil.GetLogger(ctx)
	for _, doc := range docs {
		chunks := retriever.ChunkMarkdown(doc.Content, r.params.ChunkMaxTokens, r.params.ChunkOverlapTokens)
		idxChunks := make([]vecindex.IndexChunk, 0, len(chunks))
		failed := false
		for i, c := range chunks {
			emb, err := r.params.Embedder.Embed(ctx, c, ai.TaskTypeDocument)
			if err != nil {
				logger.Warn("embed generated document failed, skipping indexing",
					zap.String("storage_id", doc.StorageID), zap.Error(err))
				failed = true
				break
			}
			idxChunks = append(idxChunks, vecindex.IndexChunk{
				ChunkIndex: i,
				Content:    c,
				Embedding:  emb,
				Metadata:   doc.Metadata,
			})
		}
		if failed || len(idxChunks) == 0 {
			continue
		}
		if err := r.params.Index.Add(ctx, doc.StorageID, idxChunks); err != nil {
			logger.Warn("index generated document failed",
				zap.String("storage_id", doc.StorageID), zap.Error(err))
		}
	}
}

func storageID(win model.Window, fp string, ordinal int) string {
	return fmt.Sprintf("%s-%s-%02d", win.StartTime.UTC().Format("2006-01-02"), fp[:12], ordinal)
}
