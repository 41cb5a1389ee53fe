package model

import "time"

// SchemaVersion tags records persisted by this pipeline (checkpoints,
// cached payloads). Bump on incompatible layout changes.
const SchemaVersion = "1.0"

type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	MediaRef  string    `json:"media_ref,omitempty"`
}
