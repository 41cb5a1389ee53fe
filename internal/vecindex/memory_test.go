package vecindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/chatpress/internal/vecindex"
)

func TestMemoryIndexSearchOrderingAndThreshold(t *testing.T) {
	idx, err := vecindex.New("memory", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "doc-a", []vecindex.IndexChunk{
		{ChunkIndex: 0, Content: "about topic a", Embedding: []float32{1, 0, 0}},
	}))
	require.NoError(t, idx.Add(ctx, "doc-b", []vecindex.IndexChunk{
		{ChunkIndex: 0, Content: "mostly topic a", Embedding: []float32{0.9, 0.43588989, 0}},
	}))
	require.NoError(t, idx.Add(ctx, "doc-c", []vecindex.IndexChunk{
		{ChunkIndex: 0, Content: "unrelated", Embedding: []float32{0, 0, 1}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "doc-a", hits[0].DocumentID)
	require.Equal(t, "doc-b", hits[1].DocumentID)
	require.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	require.InDelta(t, 0.9, hits[1].Similarity, 1e-6)
}

func TestMemoryIndexTopK(t *testing.T) {
	idx, err := vecindex.New("memory", nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i, emb := range [][]float32{{1, 0, 0}, {0.99, 0.14106736, 0}, {0.95, 0.31224990, 0}} {
		require.NoError(t, idx.Add(ctx, string(rune('a'+i)), []vecindex.IndexChunk{
			{ChunkIndex: 0, Content: "c", Embedding: emb},
		}))
	}
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestMemoryIndexAddReplacesDocument(t *testing.T) {
	idx, err := vecindex.New("memory", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "doc-a", []vecindex.IndexChunk{
		{ChunkIndex: 0, Content: "old", Embedding: []float32{1, 0, 0}},
		{ChunkIndex: 1, Content: "old too", Embedding: []float32{1, 0, 0}},
	}))
	require.NoError(t, idx.Add(ctx, "doc-a", []vecindex.IndexChunk{
		{ChunkIndex: 0, Content: "new", Embedding: []float32{1, 0, 0}},
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "new", hits[0].ChunkText)
}
