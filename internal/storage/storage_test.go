package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/logging"
	"github.com/bdougie/mediadescriber/internal/models"
)

func sampleReport() *models.BatchReport {
	return &models.BatchReport{
		RunID:     "run-1",
		Folder:    "/media",
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Entries: []models.BatchEntry{
			{
				Path: "/media/a.jpg", Kind: models.KindImage, Status: models.StatusSuccess, DurationSeconds: 1.5,
				Image: &models.ImageResult{
					Metadata:    models.ImageMetadata{Path: "/media/a.jpg", Width: 640, Height: 480, MediaType: "image/jpeg", Model: "llava"},
					Description: "a lighthouse at dusk",
				},
			},
			{
				Path: "/media/b.mp4", Kind: models.KindVideo, Status: models.StatusSuccess,
				Video: &models.VideoResult{
					Metadata:    models.VideoMetadata{Model: "llava", FrameCount: 2},
					Frames:      []models.FrameAnalysis{{Index: 0, Description: "a dog"}, {Index: 1, Timestamp: 60, Failed: true, Error: "timeout"}},
					Transcript:  []models.TranscriptSegment{{Start: 0, End: 2, Text: "good boy", Confidence: 0.9}},
					Description: "[00:00] a dog",
				},
			},
			{Path: "/media/c.mov", Kind: models.KindVideo, Status: models.StatusFailure, Error: "decode /media/c.mov: invalid data"},
			{Path: "/media/notes.txt", Kind: models.KindUnsupported, Status: models.StatusSkipped, Reason: "unsupported media type"},
		},
	}
}

func TestWriteJSONAndLoadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ReportFile)
	r := sampleReport()
	r.Tally()
	require.NoError(t, WriteJSON(path, r))

	got, err := LoadReport(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Entries, 4)

	assert.Equal(t, models.Summary{Succeeded: 2, Failed: 1, Skipped: 1}, got.Summary)
	assert.Equal(t, "a lighthouse at dusk", got.Entries[0].Description())
	require.NotNil(t, got.Entries[1].Video)
	assert.True(t, got.Entries[1].Video.Frames[1].Failed)
	assert.Nil(t, got.Entries[2].Video)
	assert.Equal(t, "decode /media/c.mov: invalid data", got.Entries[2].Error)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are cleaned up")
}

func TestReportJSONShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReportFile)
	require.NoError(t, WriteJSON(path, sampleReport()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"entries"`, `"summary"`, `"durationSeconds"`, `"result"`, `"error"`, `"totalDurationSeconds"`, `"transcriptionModel"`} {
		assert.Contains(t, s, key)
	}
}

func TestLoadReport_Missing(t *testing.T) {
	got, err := LoadReport(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadReport_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReportFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadReport(path)
	assert.Error(t, err)
}

func TestReportWriter_FailureIsAggregationError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "output")
	require.NoError(t, os.WriteFile(blocker, []byte("a file, not a directory"), 0o644))

	w := NewReportWriter(filepath.Join(blocker, ReportFile))
	err := w.Save(sampleReport())
	require.Error(t, err)
	assert.True(t, apperr.IsAggregation(err))
}

type wordEmbedder struct{ vocab []string }

// Embed counts vocabulary words, which is enough for cosine ranking in tests.
func (w wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(w.vocab))
	text = strings.ToLower(text)
	for i, word := range w.vocab {
		vec[i] = float32(strings.Count(text, word))
	}
	return vec, nil
}

func TestSQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	emb := wordEmbedder{vocab: []string{"dog", "cat", "lighthouse", "sea"}}
	cat, err := OpenCatalog(ctx, config.CatalogConfig{
		Driver: config.CatalogSQLite,
		DSN:    config.Secret(filepath.Join(t.TempDir(), "db", "catalog.db")),
	}, emb, logging.Discard())
	require.NoError(t, err)
	defer cat.Close()

	for _, e := range sampleReport().Entries {
		require.NoError(t, cat.Record(ctx, e))
	}

	got, err := cat.Lookup(ctx, "/media/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, "a lighthouse at dusk", got.Description())

	missing, err := cat.Lookup(ctx, "/media/zzz.png")
	require.NoError(t, err)
	assert.Nil(t, missing)

	hits, err := cat.Search(ctx, "lighthouse by the sea", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "/media/a.jpg", hits[0].Path)
	assert.Equal(t, models.KindImage, hits[0].Kind)

	// Upsert replaces the row for the same path.
	updated := sampleReport().Entries[2]
	updated.Status = models.StatusSuccess
	updated.Error = ""
	updated.Video = &models.VideoResult{Description: "a cat on a sofa"}
	require.NoError(t, cat.Record(ctx, updated))
	got, err = cat.Lookup(ctx, "/media/c.mov")
	require.NoError(t, err)
	assert.Equal(t, "a cat on a sofa", got.Description())
}

func TestSQLiteCatalog_KeywordSearchWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	cat, err := NewSQLiteCatalog(ctx, ":memory:", nil, logging.Discard())
	require.NoError(t, err)
	defer cat.Close()

	for _, e := range sampleReport().Entries {
		require.NoError(t, cat.Record(ctx, e))
	}

	hits, err := cat.Search(ctx, "dog", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/media/b.mp4", hits[0].Path)
}

func TestOpenCatalog_NoDriver(t *testing.T) {
	cat, err := OpenCatalog(context.Background(), config.CatalogConfig{}, nil, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, cat)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 2}))
}
