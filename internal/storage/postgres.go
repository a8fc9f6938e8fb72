package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/models"
)

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS media_files (
    id SERIAL PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    kind VARCHAR(16) NOT NULL,
    status VARCHAR(16) NOT NULL,
    content_hash VARCHAR(64),
    output_dir TEXT,
    description TEXT NOT NULL DEFAULT '',
    entry JSONB NOT NULL,
    embedding vector,
    processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_files_status ON media_files(status);
`

// PostgresCatalog stores entries in PostgreSQL and searches descriptions by
// pgvector cosine distance.
type PostgresCatalog struct {
	pool *pgxpool.Pool
	emb  Embedder
	log  *slog.Logger
}

// NewPostgresCatalog connects to dsn and creates the schema if needed.
func NewPostgresCatalog(ctx context.Context, dsn string, emb Embedder, logger *slog.Logger) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create catalog schema")
	}
	return &PostgresCatalog{pool: pool, emb: emb, log: logger.With("component", "catalog", "driver", "postgres")}, nil
}

func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

func (c *PostgresCatalog) Record(ctx context.Context, entry models.BatchEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	var vec *pgvector.Vector
	if e := embedEntry(ctx, c.emb, entry, c.log); e != nil {
		v := pgvector.NewVector(e)
		vec = &v
	}

	_, err = c.pool.Exec(ctx, `
        INSERT INTO media_files
        (path, kind, status, content_hash, output_dir, description, entry, embedding, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (path) DO UPDATE SET
            kind = EXCLUDED.kind,
            status = EXCLUDED.status,
            content_hash = EXCLUDED.content_hash,
            output_dir = EXCLUDED.output_dir,
            description = EXCLUDED.description,
            entry = EXCLUDED.entry,
            embedding = COALESCE(EXCLUDED.embedding, media_files.embedding),
            processed_at = EXCLUDED.processed_at`,
		entry.Path, string(entry.Kind), string(entry.Status), entry.ContentHash, entry.OutputDir,
		entry.Description(), doc, vec, time.Now())
	if err != nil {
		return errors.Wrapf(err, "record %s", entry.Path)
	}
	return nil
}

func (c *PostgresCatalog) Lookup(ctx context.Context, path string) (*models.BatchEntry, error) {
	var doc []byte
	err := c.pool.QueryRow(ctx, "SELECT entry FROM media_files WHERE path = $1", path).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %s", path)
	}

	var entry models.BatchEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, errors.Wrapf(err, "decode catalog entry for %s", path)
	}
	return &entry, nil
}

// Search ranks described files by cosine similarity to query. Without an
// embedder it falls back to a case-insensitive substring match.
func (c *PostgresCatalog) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if c.emb != nil {
		vec, embErr := c.emb.Embed(ctx, query)
		if embErr != nil {
			return nil, errors.Wrap(embErr, "embed query")
		}
		rows, err = c.pool.Query(ctx, `
            SELECT path, kind, description, 1 - (embedding <=> $1) AS similarity, processed_at
            FROM media_files
            WHERE embedding IS NOT NULL
            ORDER BY embedding <=> $1
            LIMIT $2`,
			pgvector.NewVector(vec), limit)
	} else {
		rows, err = c.pool.Query(ctx, `
            SELECT path, kind, description, 1.0::float8 AS similarity, processed_at
            FROM media_files
            WHERE description ILIKE '%' || $1 || '%'
            ORDER BY processed_at DESC
            LIMIT $2`,
			query, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "search catalog")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var kind string
		if err := rows.Scan(&r.Path, &kind, &r.Description, &r.Similarity, &r.ProcessedAt); err != nil {
			return nil, errors.Wrap(err, "scan search results")
		}
		r.Kind = models.MediaKind(kind)
		results = append(results, r)
	}
	return results, rows.Err()
}
