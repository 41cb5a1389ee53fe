package model

import "time"

// Window is a contiguous slice of the message stream processed as one
// generation unit. Windows are transient: they are recomputed from the
// stream and the sizing policy, never persisted.
type Window struct {
	Index     int       `json:"index"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Messages  []Message `json:"messages"`
	Size      int       `json:"size"`
}
