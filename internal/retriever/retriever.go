package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xxxsen/chatpress/internal/ai"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/chatpress/internal/vecindex"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Config struct {
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	PerChunkTopK       int
	TopN               int
	MinSimilarity      float64
	QueryConcurrency   int
}

// Retriever assembles the prior-document context for a window: the
// window text is chunked, every chunk queries the index, hits are
// deduplicated to one per document and the best TopN survive.
type Retriever struct {
	embedder ai.IEmbedder
	index    vecindex.IIndex
	cfg      Config
}

func New(embedder ai.IEmbedder, index vecindex.IIndex, cfg Config) *Retriever {
	if cfg.QueryConcurrency < 1 {
		cfg.QueryConcurrency = 1
	}
	return &Retriever{embedder: embedder, index: index, cfg: cfg}
}

// BuildContext never fails a window: an unreachable index or embedder
// degrades to an empty bundle and generation proceeds without context.
func (r *Retriever) BuildContext(ctx context.Context, win model.Window, windowText string) (model.ContextBundle, error) {
	if windowText == "" || r.index == nil || r.embedder == nil {
		return model.ContextBundle{}, nil
	}
	chunks := ChunksForWindow(win, windowText, r.cfg.ChunkMaxTokens, r.cfg.ChunkOverlapTokens)
	if len(chunks) == 0 {
		return model.ContextBundle{}, nil
	}

	perChunk := make([][]model.RetrievalResult, len(chunks))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := r.cfg.QueryConcurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				perChunk[idx] = r.queryChunk(ctx, chunks[idx])
			}
		}()
	}
	for idx := range chunks {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return model.ContextBundle{}, err
	}

	var merged []model.RetrievalResult
	for _, hits := range perChunk {
		merged = append(merged, hits...)
	}
	deduped := DeduplicateByDocument(merged)
	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Similarity != deduped[j].Similarity {
			return deduped[i].Similarity > deduped[j].Similarity
		}
		return deduped[i].DocumentID < deduped[j].DocumentID
	})
	if r.cfg.TopN > 0 && len(deduped) > r.cfg.TopN {
		deduped = deduped[:r.cfg.TopN]
	}
	logutil.GetLogger(ctx).Debug("context assembled",
		zap.Int("window", win.Index),
		zap.Int("chunks", len(chunks)),
		zap.Int("hits", len(merged)),
		zap.Int("selected", len(deduped)))
	return model.ContextBundle{Entries: deduped}, nil
}

func (r *Retriever) queryChunk(ctx context.Context, ch model.Chunk) []model.RetrievalResult {
	if ctx.Err() != nil {
		return nil
	}
	emb, err := r.embedder.Embed(ctx, ch.Text, ai.TaskTypeQuery)
	if err != nil {
		logutil.GetLogger(ctx).Warn("chunk embed failed, dropping chunk from context",
			zap.Int("window", ch.SourceWindowIndex), zap.Int("chunk", ch.ChunkIndex), zap.Error(err))
		return nil
	}
	hits, err := r.index.Search(ctx, emb, r.cfg.PerChunkTopK, r.cfg.MinSimilarity)
	if err != nil {
		err = fmt.Errorf("%w: %v", errs.ErrRetrievalUnavailable, err)
		logutil.GetLogger(ctx).Warn("chunk query failed, dropping chunk from context",
			zap.Int("window", ch.SourceWindowIndex), zap.Int("chunk", ch.ChunkIndex), zap.Error(err))
		return nil
	}
	return hits
}

// DeduplicateByDocument keeps the single best hit per document id.
func DeduplicateByDocument(results []model.RetrievalResult) []model.RetrievalResult {
	best := make(map[string]model.RetrievalResult)
	var order []string
	for _, hit := range results {
		cur, ok := best[hit.DocumentID]
		if !ok {
			best[hit.DocumentID] = hit
			order = append(order, hit.DocumentID)
			continue
		}
		if hit.Similarity > cur.Similarity {
			best[hit.DocumentID] = hit
		}
	}
	out := make([]model.RetrievalResult, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}
