package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultMaxLineBytes = 4 * 1024 * 1024

type jsonlConfig struct {
	Path string `json:"path"`
}

type jsonlSource struct {
	path string
}

func init() {
	Register("jsonl", newJSONLSource)
}

func newJSONLSource(data interface{}) (ISource, error) {
	var cfg jsonlConfig
	if err := decodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("jsonl source: path is required")
	}
	return &jsonlSource{path: cfg.Path}, nil
}

func (s *jsonlSource) ReadMessages(ctx context.Context) ([]model.Message, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open message stream: %w", err)
	}
	defer file.Close()

	var msgs []model.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), defaultMaxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m model.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode message at line %d: %w", line, err)
		}
		if m.ID == "" || m.Timestamp.IsZero() {
			return nil, fmt.Errorf("message at line %d missing id or timestamp", line)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan message stream: %w", err)
	}
	if !sort.SliceIsSorted(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	}) {
		logutil.GetLogger(ctx).Warn("message stream out of order, applying stable sort",
			zap.String("path", s.path), zap.Int("count", len(msgs)))
		sort.SliceStable(msgs, func(i, j int) bool {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		})
	}
	return msgs, nil
}
