package model

import "time"

type Checkpoint struct {
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp"`
	MessagesProcessed      int64     `json:"messages_processed"`
	SchemaVersion          string    `json:"schema_version"`
}
