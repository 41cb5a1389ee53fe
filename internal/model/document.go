package model

// GeneratedDocument is one unit of writer output. StorageID is stable
// across reruns of the same window content so persistence stays
// idempotent.
type GeneratedDocument struct {
	StorageID string            `json:"storage_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
