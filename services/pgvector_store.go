package services

import (
	"chatbot/models"
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PgVectorStore はpgvector拡張を入れたPostgreSQLでドキュメントを検索する
//
//	CREATE TABLE documents (
//	    id        TEXT PRIMARY KEY,
//	    site_id   TEXT NOT NULL,
//	    content   TEXT NOT NULL,
//	    metadata  JSONB NOT NULL DEFAULT '{}',
//	    embedding VECTOR(1536) NOT NULL
//	);
type PgVectorStore struct {
	db       *sql.DB
	embedder Embedder
}

func NewPgVectorStore(postgresURI string, embedder Embedder) (*PgVectorStore, error) {
	connStr := postgresURI
	if !strings.Contains(postgresURI, "sslmode=") {
		if strings.Contains(postgresURI, "?") {
			connStr += "&sslmode=disable"
		} else if strings.Contains(postgresURI, "://") {
			connStr += "?sslmode=disable"
		} else {
			connStr += " sslmode=disable"
		}
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	// 接続テスト
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	return &PgVectorStore{db: db, embedder: embedder}, nil
}

func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// Search はコサイン距離でサイト内の類似ドキュメントを検索する
func (s *PgVectorStore) Search(ctx context.Context, siteID string, query string, k int) ([]models.RetrievedDocument, error) {
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "vectorization failed")
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, content, metadata, 1 - (embedding <=> $2::vector) AS score
        FROM documents
        WHERE site_id = $1
        ORDER BY embedding <=> $2::vector
        LIMIT $3
    `, siteID, vectorLiteral(queryVector), k)
	if err != nil {
		return nil, errors.Wrap(err, "similarity search failed")
	}
	defer rows.Close()

	var docs []models.RetrievedDocument
	for rows.Next() {
		var (
			doc      models.RetrievedDocument
			metadata []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &metadata, &doc.Score); err != nil {
			return nil, errors.Wrap(err, "row scan failed")
		}
		doc.Metadata = decodeMetadata(metadata)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PgVectorStore) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO documents (id, site_id, content, metadata, embedding)
        VALUES ($1, $2, $3, $4, $5::vector)
        ON CONFLICT (id)
        DO UPDATE SET
            content = EXCLUDED.content,
            metadata = EXCLUDED.metadata,
            embedding = EXCLUDED.embedding
    `)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, c := range chunks {
		metadata, err := json.Marshal(c.Metadata())
		if err != nil {
			return errors.Wrap(err, "encode metadata")
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SiteID, c.Content, metadata, vectorLiteral(c.Embedding)); err != nil {
			return errors.Wrapf(err, "failed to save chunk %s", c.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// vectorLiteral はpgvectorのテキスト表現 '[0.1,0.2,...]' を作る
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// decodeMetadata flattens a JSON object into string values.
func decodeMetadata(raw []byte) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		default:
			b, _ := json.Marshal(t)
			out[k] = string(b)
		}
	}
	return out
}
