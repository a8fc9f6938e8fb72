package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS media_files (
    path TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    content_hash TEXT,
    output_dir TEXT,
    description TEXT NOT NULL DEFAULT '',
    entry TEXT NOT NULL,
    embedding TEXT,
    processed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_files_status ON media_files(status)
`

// SQLiteCatalog is the single-file catalog. Embeddings are stored as JSON and
// compared in process.
type SQLiteCatalog struct {
	db  *sql.DB
	emb Embedder
	log *slog.Logger
}

func NewSQLiteCatalog(ctx context.Context, path string, emb Embedder, logger *slog.Logger) (*SQLiteCatalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create catalog directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "set pragma %q", pragma)
		}
	}
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create catalog schema")
		}
	}
	return &SQLiteCatalog{db: db, emb: emb, log: logger.With("component", "catalog", "driver", "sqlite")}, nil
}

func (c *SQLiteCatalog) Close() error { return c.db.Close() }

func (c *SQLiteCatalog) Record(ctx context.Context, entry models.BatchEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	var embedding sql.NullString
	if vec := embedEntry(ctx, c.emb, entry, c.log); vec != nil {
		b, err := json.Marshal(vec)
		if err != nil {
			return errors.Wrap(err, "encode embedding")
		}
		embedding = sql.NullString{String: string(b), Valid: true}
	}

	_, err = c.db.ExecContext(ctx, `
        INSERT INTO media_files
        (path, kind, status, content_hash, output_dir, description, entry, embedding, processed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (path) DO UPDATE SET
            kind = excluded.kind,
            status = excluded.status,
            content_hash = excluded.content_hash,
            output_dir = excluded.output_dir,
            description = excluded.description,
            entry = excluded.entry,
            embedding = COALESCE(excluded.embedding, media_files.embedding),
            processed_at = excluded.processed_at`,
		entry.Path, string(entry.Kind), string(entry.Status), entry.ContentHash, entry.OutputDir,
		entry.Description(), string(doc), embedding, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "record %s", entry.Path)
	}
	return nil
}

func (c *SQLiteCatalog) Lookup(ctx context.Context, path string) (*models.BatchEntry, error) {
	var doc string
	err := c.db.QueryRowContext(ctx, "SELECT entry FROM media_files WHERE path = ?", path).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %s", path)
	}

	var entry models.BatchEntry
	if err := json.Unmarshal([]byte(doc), &entry); err != nil {
		return nil, errors.Wrapf(err, "decode catalog entry for %s", path)
	}
	return &entry, nil
}

// Search ranks by cosine similarity when an embedder is configured, and
// otherwise by the share of query words found in each description.
func (c *SQLiteCatalog) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	var queryVec []float32
	if c.emb != nil {
		v, err := c.emb.Embed(ctx, query)
		if err != nil {
			return nil, errors.Wrap(err, "embed query")
		}
		queryVec = v
	}
	terms := strings.Fields(strings.ToLower(query))

	rows, err := c.db.QueryContext(ctx,
		"SELECT path, kind, description, embedding, processed_at FROM media_files WHERE description != ''")
	if err != nil {
		return nil, errors.Wrap(err, "search catalog")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r         SearchResult
			kind      string
			embedding sql.NullString
		)
		if err := rows.Scan(&r.Path, &kind, &r.Description, &embedding, &r.ProcessedAt); err != nil {
			return nil, errors.Wrap(err, "scan search results")
		}
		r.Kind = models.MediaKind(kind)

		if queryVec != nil && embedding.Valid {
			var vec []float32
			if err := json.Unmarshal([]byte(embedding.String), &vec); err != nil {
				return nil, errors.Wrapf(err, "decode embedding for %s", r.Path)
			}
			r.Similarity = cosine(queryVec, vec)
		} else {
			r.Similarity = termOverlap(terms, r.Description)
		}
		if r.Similarity > 0 {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func termOverlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	text = strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
