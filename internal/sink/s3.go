package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/common/logutil"
	commons3 "github.com/xxxsen/common/s3"
	"go.uber.org/zap"
)

type s3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

type s3Sink struct {
	client *commons3.S3Client
	prefix string
}

func init() {
	Register("s3", createS3Sink)
}

func createS3Sink(args interface{}) (ISink, error) {
	config := &s3Config{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Endpoint == "" || config.Bucket == "" || config.SecretID == "" || config.SecretKey == "" {
		return nil, fmt.Errorf("s3 endpoint/bucket/secret_id/secret_key are required")
	}
	if config.Region == "" {
		config.Region = "cn"
	}
	client, err := commons3.New(
		commons3.WithEndpoint(config.Endpoint),
		commons3.WithSecret(config.SecretID, config.SecretKey),
		commons3.WithBucket(config.Bucket),
		commons3.WithRegion(config.Region),
		commons3.WithSSL(config.UseSSL),
	)
	if err != nil {
		return nil, err
	}
	return &s3Sink{
		client: client,
		prefix: strings.Trim(config.Prefix, "/"),
	}, nil
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func (s *s3Sink) Persist(ctx context.Context, doc model.GeneratedDocument) error {
	if doc.StorageID == "" {
		return fmt.Errorf("document storage id is required")
	}
	objectKey := doc.StorageID + ".md"
	if s.prefix != "" {
		objectKey = path.Join(s.prefix, objectKey)
	}
	payload := []byte(doc.Content)
	reader := readSeekNopCloser{bytes.NewReader(payload)}
	if _, err := s.client.Upload(ctx, objectKey, reader, int64(len(payload))); err != nil {
		return fmt.Errorf("upload document: %w", err)
	}
	logutil.GetLogger(ctx).Info("document uploaded",
		zap.String("storage_id", doc.StorageID),
		zap.String("object_key", objectKey),
		zap.Int("bytes", len(payload)))
	return nil
}
