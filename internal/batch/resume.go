package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/storage"
)

// OutputDirFor returns the per-file output directory of f under root:
// <kind>_<stem>_<first 8 hex of sha256(path)>. The hash keeps files with the
// same name in different folders apart.
func OutputDirFor(root string, f models.MediaFile) string {
	sum := sha256.Sum256([]byte(f.Path))
	stem := strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))
	return filepath.Join(root, string(f.Kind)+"_"+stem+"_"+hex.EncodeToString(sum[:4]))
}

// ContentHash returns the hex sha256 of the file at path.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// resumeIndex finds prior results for a file. Sources are consulted in order:
// the previous report, the catalog, then the file's own output directory.
type resumeIndex struct {
	prior   map[string]models.BatchEntry
	catalog storage.Catalog
	match   string
	log     *slog.Logger
}

func newResumeIndex(prior *models.BatchReport, catalog storage.Catalog, match string, logger *slog.Logger) *resumeIndex {
	idx := &resumeIndex{
		prior:   make(map[string]models.BatchEntry),
		catalog: catalog,
		match:   match,
		log:     logger,
	}
	if prior != nil {
		for _, e := range prior.Entries {
			if processed(e) {
				idx.prior[e.Path] = e
			}
		}
	}
	return idx
}

// processed reports whether e carries a usable result from an earlier run.
// Skipped entries count when they copied a result forward.
func processed(e models.BatchEntry) bool {
	switch e.Status {
	case models.StatusSuccess:
		return e.HasResult()
	case models.StatusSkipped:
		return e.HasResult() && e.Kind != models.KindUnsupported
	}
	return false
}

// find returns the prior entry for current, or nil when it must be processed.
// In hash mode a prior entry only matches when its content hash is equal.
func (r *resumeIndex) find(ctx context.Context, current models.BatchEntry) *models.BatchEntry {
	if e, ok := r.prior[current.Path]; ok && r.matches(e, current) {
		return &e
	}

	if r.catalog != nil {
		e, err := r.catalog.Lookup(ctx, current.Path)
		if err != nil {
			r.log.Warn("catalog lookup failed", "path", current.Path, "error", err)
		} else if e != nil && processed(*e) && r.matches(*e, current) {
			return e
		}
	}

	// Result files carry no content hash.
	if r.match == config.MatchHash {
		return nil
	}
	return fromOutputDir(current)
}

func (r *resumeIndex) matches(prior, current models.BatchEntry) bool {
	if prior.Kind != current.Kind {
		return false
	}
	if r.match == config.MatchHash {
		return prior.ContentHash != "" && prior.ContentHash == current.ContentHash
	}
	return true
}

// fromOutputDir rebuilds an entry from the result file a previous run left in
// the file's output directory.
func fromOutputDir(current models.BatchEntry) *models.BatchEntry {
	e := current
	switch current.Kind {
	case models.KindVideo:
		var v models.VideoResult
		if err := storage.ReadJSON(filepath.Join(current.OutputDir, storage.VideoResultFile), &v); err != nil {
			return nil
		}
		e.Video = &v
	case models.KindImage:
		var img models.ImageResult
		if err := storage.ReadJSON(filepath.Join(current.OutputDir, storage.ImageResultFile), &img); err != nil {
			return nil
		}
		e.Image = &img
	default:
		return nil
	}
	return &e
}

// loadPrior reads the report of an earlier run. A corrupt report is logged
// and ignored so a damaged file never blocks a new run.
func loadPrior(path string, logger *slog.Logger) *models.BatchReport {
	r, err := storage.LoadReport(path)
	if err != nil {
		logger.Warn("ignoring unreadable previous report", "path", path, "error", errors.Cause(err))
		return nil
	}
	return r
}
