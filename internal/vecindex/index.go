package vecindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
)

// IndexChunk is one embedded slice of a document handed to the index.
type IndexChunk struct {
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]string
}

// IIndex is a pluggable similarity index over document chunks. Add
// replaces any chunks previously indexed under the same document id.
type IIndex interface {
	Search(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]model.RetrievalResult, error)
	Add(ctx context.Context, documentID string, chunks []IndexChunk) error
}

type FactoryFunc func(data interface{}) (IIndex, error)

var factories = map[string]FactoryFunc{}

func Register(name string, fn FactoryFunc) {
	factories[name] = fn
}

func New(name string, data interface{}) (IIndex, error) {
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: vector index backend not registered: %s", errs.ErrNotFound, name)
	}
	return fn(data)
}

func decodeConfig(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vector index config: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal vector index config: %w", err)
	}
	return nil
}
