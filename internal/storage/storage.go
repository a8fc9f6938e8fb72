// Package storage persists analysis results: per-file JSON documents, the
// consolidated batch report, and the optional searchable catalog.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/models"
)

// File names inside the output tree.
const (
	ReportFile      = "media_descriptions.json"
	VideoResultFile = "analysis.json"
	ImageResultFile = "image_analysis.json"
	fileMode        = 0o644
)

// WriteJSON writes v to path through a temporary file and a rename, so a
// crash mid-write never leaves a truncated document behind.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "replace %s", path)
}

// ReadJSON decodes the document at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decode %s", path)
}

// LoadReport reads a report written by an earlier run. A missing file
// returns (nil, nil).
func LoadReport(path string) (*models.BatchReport, error) {
	var r models.BatchReport
	if err := ReadJSON(path, &r); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// ReportWriter saves snapshots of one run's report. It is safe for
// concurrent use, though the orchestrator calls it from a single goroutine.
type ReportWriter struct {
	path string
	mu   sync.Mutex
}

func NewReportWriter(path string) *ReportWriter {
	return &ReportWriter{path: path}
}

func (w *ReportWriter) Path() string { return w.path }

// Save writes r. Failures are AggregationErrors.
func (w *ReportWriter) Save(r *models.BatchReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := WriteJSON(w.path, r); err != nil {
		return &apperr.AggregationError{Path: w.path, Err: err}
	}
	return nil
}
