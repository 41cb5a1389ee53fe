package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/chatpress/internal/db"
	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/dbutil"
)

type pgvectorIndex struct {
	db *sql.DB
}

func init() {
	Register("pgvector", newPgvectorIndex)
}

func newPgvectorIndex(data interface{}) (IIndex, error) {
	var cfg db.Config
	if err := decodeConfig(data, &cfg); err != nil {
		return nil, err
	}
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &pgvectorIndex{db: conn}, nil
}

func (p *pgvectorIndex) Add(ctx context.Context, documentID string, chunks []IndexChunk) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	where := map[string]interface{}{
		"document_id": documentID,
	}
	delSQL, delArgs, err := builder.BuildDelete("document_chunks", where)
	if err != nil {
		return err
	}
	delSQL, delArgs = dbutil.Finalize(delSQL, delArgs)
	if _, err := tx.ExecContext(ctx, delSQL, delArgs...); err != nil {
		return err
	}

	const insertSQL = `
		INSERT INTO document_chunks (document_id, chunk_index, content, metadata, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`
	now := time.Now().Unix()
	for _, ch := range chunks {
		var meta []byte
		if len(ch.Metadata) > 0 {
			meta, err = json.Marshal(ch.Metadata)
			if err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, insertSQL,
			documentID,
			ch.ChunkIndex,
			ch.Content,
			meta,
			pgvector.NewVector(ch.Embedding),
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *pgvectorIndex) Search(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]model.RetrievalResult, error) {
	const query = `
		SELECT document_id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.RetrievalResult
	for rows.Next() {
		var item model.RetrievalResult
		var meta []byte
		if err := rows.Scan(&item.DocumentID, &item.ChunkText, &meta, &item.Similarity); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, err
			}
		}
		if item.Similarity < minSimilarity {
			continue
		}
		results = append(results, item)
	}
	return results, rows.Err()
}
