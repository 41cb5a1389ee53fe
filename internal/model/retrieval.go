package model

// RetrievalResult is one similarity hit produced by a per-chunk index
// query. Similarity is cosine similarity in [0, 1].
type RetrievalResult struct {
	DocumentID string            `json:"document_id"`
	ChunkText  string            `json:"chunk_text"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ContextBundle is the final deduplicated, ranked set of prior-document
// excerpts handed to generation. At most one entry per document id,
// ordered by similarity descending.
type ContextBundle struct {
	Entries []RetrievalResult `json:"entries"`
}

func (b ContextBundle) Empty() bool {
	return len(b.Entries) == 0
}
