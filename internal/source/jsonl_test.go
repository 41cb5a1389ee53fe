package source_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/chatpress/internal/source"
)

func writeStream(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestJSONLSourceReadsMessages(t *testing.T) {
	path := writeStream(t, `{"id":"m1","timestamp":"2025-01-15T09:00:00Z","author":"alice","body":"hello"}
{"id":"m2","timestamp":"2025-01-15T09:01:00Z","author":"bob","body":"hi"}
`)
	src, err := source.New("jsonl", map[string]interface{}{"path": path})
	require.NoError(t, err)

	msgs, err := src.ReadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "bob", msgs[1].Author)
}

func TestJSONLSourceSortsOutOfOrderStream(t *testing.T) {
	path := writeStream(t, `{"id":"m2","timestamp":"2025-01-15T09:05:00Z","author":"bob","body":"later"}
{"id":"m1","timestamp":"2025-01-15T09:00:00Z","author":"alice","body":"earlier"}
`)
	src, err := source.New("jsonl", map[string]interface{}{"path": path})
	require.NoError(t, err)

	msgs, err := src.ReadMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestJSONLSourceNormalizesToUTC(t *testing.T) {
	path := writeStream(t, `{"id":"m1","timestamp":"2025-01-15T17:00:00+08:00","author":"alice","body":"tz"}
`)
	src, err := source.New("jsonl", map[string]interface{}{"path": path})
	require.NoError(t, err)

	msgs, err := src.ReadMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2025-01-15T09:00:00Z", msgs[0].Timestamp.Format("2006-01-02T15:04:05Z07:00"))
}

func TestJSONLSourceRejectsMissingFields(t *testing.T) {
	path := writeStream(t, `{"author":"alice","body":"no id or timestamp"}
`)
	src, err := source.New("jsonl", map[string]interface{}{"path": path})
	require.NoError(t, err)

	_, err = src.ReadMessages(context.Background())
	require.Error(t, err)
}

func TestJSONLSourceMissingFile(t *testing.T) {
	src, err := source.New("jsonl", map[string]interface{}{"path": "/nonexistent/stream.jsonl"})
	require.NoError(t, err)
	_, err = src.ReadMessages(context.Background())
	require.Error(t, err)
}

func TestUnknownSourceRejected(t *testing.T) {
	_, err := source.New("kafka", nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
