package model

type Chunk struct {
	SourceWindowIndex int    `json:"source_window_index"`
	ChunkIndex        int    `json:"chunk_index"`
	Text              string `json:"text"`
	TokenCount        int    `json:"token_count"`
}
