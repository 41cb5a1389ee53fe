package vecindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xxxsen/chatpress/internal/model"
)

type memoryEntry struct {
	documentID string
	content    string
	embedding  []float32
	metadata   map[string]string
}

type memoryIndex struct {
	mu      sync.RWMutex
	entries []memoryEntry
}

func init() {
	Register("memory", newMemoryIndex)
}

func newMemoryIndex(data interface{}) (IIndex, error) {
	return &memoryIndex{}, nil
}

func (m *memoryIndex) Add(ctx context.Context, documentID string, chunks []IndexChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, ent := range m.entries {
		if ent.documentID != documentID {
			kept = append(kept, ent)
		}
	}
	m.entries = kept
	for _, ch := range chunks {
		emb := make([]float32, len(ch.Embedding))
		copy(emb, ch.Embedding)
		m.entries = append(m.entries, memoryEntry{
			documentID: documentID,
			content:    ch.Content,
			embedding:  emb,
			metadata:   ch.Metadata,
		})
	}
	return nil
}

func (m *memoryIndex) Search(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]model.RetrievalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []model.RetrievalResult
	for _, ent := range m.entries {
		sim := float64(cosineSimilarity(embedding, ent.embedding))
		if sim < minSimilarity {
			continue
		}
		results = append(results, model.RetrievalResult{
			DocumentID: ent.documentID,
			ChunkText:  ent.content,
			Similarity: sim,
			Metadata:   ent.metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
