package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Store persists pipeline progress as a single JSON file. Writes go
// through a temp file and an atomic rename so a crash mid-write leaves
// the previous checkpoint intact.
type Store struct {
	path string
	last time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the checkpoint if one exists. A missing or unreadable
// checkpoint is a cold start, not an error.
func (s *Store) Load(ctx context.Context) (*model.Checkpoint, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logutil.GetLogger(ctx).Warn("checkpoint unreadable, starting cold",
				zap.String("path", s.path), zap.Error(err))
		}
		return nil, false
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		logutil.GetLogger(ctx).Warn("checkpoint corrupt, starting cold",
			zap.String("path", s.path), zap.Error(err))
		return nil, false
	}
	if cp.LastProcessedTimestamp.IsZero() {
		logutil.GetLogger(ctx).Warn("checkpoint missing timestamp, starting cold",
			zap.String("path", s.path))
		return nil, false
	}
	cp.LastProcessedTimestamp = cp.LastProcessedTimestamp.UTC()
	s.last = cp.LastProcessedTimestamp
	return &cp, true
}

// Save commits progress. Timestamps may never regress; a regressing
// save is rejected so a replayed window cannot roll the stream back.
func (s *Store) Save(ctx context.Context, ts time.Time, processed int64) error {
	ts = ts.UTC()
	if !s.last.IsZero() && ts.Before(s.last) {
		return fmt.Errorf("%w: timestamp regression, have %s, got %s",
			errs.ErrCheckpointIO, s.last.Format(time.RFC3339), ts.Format(time.RFC3339))
	}
	cp := model.Checkpoint{
		LastProcessedTimestamp: ts,
		MessagesProcessed:      processed,
		SchemaVersion:          model.SchemaVersion,
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("%w: create checkpoint dir: %v", errs.ErrCheckpointIO, err)
	}
	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: open temp checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	if _, err := file.Write(raw); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write temp checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: sync temp checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close temp checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: commit checkpoint: %v", errs.ErrCheckpointIO, err)
	}
	s.last = ts
	logutil.GetLogger(ctx).Debug("checkpoint committed",
		zap.Time("last_processed", ts), zap.Int64("messages_processed", processed))
	return nil
}
