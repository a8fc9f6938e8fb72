package storage

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/models"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one catalog match for a search query.
type SearchResult struct {
	Path        string           `json:"path"`
	Kind        models.MediaKind `json:"kind"`
	Description string           `json:"description"`
	Similarity  float64          `json:"similarity"`
	ProcessedAt time.Time        `json:"processedAt"`
}

// Catalog records final batch entries across runs and answers resume
// lookups and description searches.
type Catalog interface {
	// Record upserts the entry keyed by its path.
	Record(ctx context.Context, entry models.BatchEntry) error
	// Lookup returns the recorded entry for path, or nil when there is none.
	Lookup(ctx context.Context, path string) (*models.BatchEntry, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Close() error
}

// OpenCatalog connects the catalog configured in cfg. It returns nil when no
// catalog driver is set. emb may be nil, which disables vector search.
func OpenCatalog(ctx context.Context, cfg config.CatalogConfig, emb Embedder, logger *slog.Logger) (Catalog, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case config.CatalogPostgres:
		return NewPostgresCatalog(ctx, cfg.DSN.String(), emb, logger)
	case config.CatalogSQLite:
		return NewSQLiteCatalog(ctx, cfg.DSN.String(), emb, logger)
	}
	return nil, errors.Errorf("unknown catalog driver %q", cfg.Driver)
}

// embedEntry returns the embedding for a successful entry's description, or
// nil when there is nothing worth embedding. Embedding failures are logged
// and the entry is stored without a vector.
func embedEntry(ctx context.Context, emb Embedder, entry models.BatchEntry, log *slog.Logger) []float32 {
	desc := entry.Description()
	if emb == nil || desc == "" || entry.Status == models.StatusFailure {
		return nil
	}
	vec, err := emb.Embed(ctx, desc)
	if err != nil {
		log.Warn("failed to embed description", "path", entry.Path, "error", err)
		return nil
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
