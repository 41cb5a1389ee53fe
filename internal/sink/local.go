package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localSink struct {
	dir string
}

func init() {
	Register("local", createLocalSink)
}

func createLocalSink(args interface{}) (ISink, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local sink dir is required")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &localSink{dir: config.Dir}, nil
}

func (s *localSink) Persist(ctx context.Context, doc model.GeneratedDocument) error {
	if doc.StorageID == "" {
		return fmt.Errorf("document storage id is required")
	}
	path := filepath.Join(s.dir, doc.StorageID+".md")
	payload := []byte(doc.Content)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, payload) {
		logutil.GetLogger(ctx).Debug("document already persisted, skipping",
			zap.String("storage_id", doc.StorageID))
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit document: %w", err)
	}
	logutil.GetLogger(ctx).Info("document persisted",
		zap.String("storage_id", doc.StorageID),
		zap.String("title", documentTitle(doc.Content)),
		zap.Int("bytes", len(payload)))
	return nil
}
