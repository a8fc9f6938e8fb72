// Package batch processes a folder of mixed media: it discovers files,
// dispatches each to the video or image pipeline, skips files an earlier run
// already handled, and folds every outcome into one report.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/metrics"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/storage"
)

const reasonAlreadyProcessed = "already processed"

// VideoProcessor runs the video pipeline for one file.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, videoPath, outDir string) (*models.VideoResult, error)
}

// ImageAnalyzer runs the image pipeline for one file.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, imagePath, prompt string) (*models.ImageResult, error)
}

// Options control one batch run.
type Options struct {
	OutputDir   string
	Prompt      string
	Recursive   bool
	Resume      bool
	ResumeMatch string
	// Concurrency is the number of files processed at once.
	Concurrency int
	FileTimeout time.Duration
}

// OptionsFromConfig maps the batch-relevant configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		OutputDir:   cfg.Output.Dir,
		Prompt:      cfg.Prompt,
		Recursive:   cfg.Batch.Recursive,
		Resume:      cfg.Batch.Resume,
		ResumeMatch: cfg.Batch.ResumeMatch,
		Concurrency: cfg.Batch.Concurrency,
		FileTimeout: cfg.Batch.FileTimeout,
	}
}

// Orchestrator owns one batch run at a time.
type Orchestrator struct {
	videos  VideoProcessor
	images  ImageAnalyzer
	catalog storage.Catalog
	opts    Options
	log     *slog.Logger
}

// New returns an orchestrator. catalog may be nil.
func New(videos VideoProcessor, images ImageAnalyzer, catalog storage.Catalog, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ResumeMatch == "" {
		opts.ResumeMatch = config.MatchPath
	}
	return &Orchestrator{
		videos:  videos,
		images:  images,
		catalog: catalog,
		opts:    opts,
		log:     logger.With("component", "batch"),
	}
}

// ReportPath is where Run writes the consolidated report.
func (o *Orchestrator) ReportPath() string {
	return filepath.Join(o.opts.OutputDir, storage.ReportFile)
}

type completed struct {
	slot  int
	entry models.BatchEntry
}

// Run processes every file in folder and returns the report, which holds
// exactly one entry per discovered file in discovery order. Only an
// unreadable folder or an unwritable report fail the run; per-file errors
// become failure entries. The report is saved after each file and at the end.
func (o *Orchestrator) Run(ctx context.Context, folder string) (*models.BatchReport, error) {
	start := time.Now()
	files, err := Discover(folder, o.opts)
	if err != nil {
		return nil, err
	}

	report := &models.BatchReport{
		RunID:     uuid.NewString(),
		Folder:    folder,
		StartedAt: start.UTC(),
		Entries:   make([]models.BatchEntry, len(files)),
	}
	log := o.log.With("run", report.RunID)
	log.Info("starting batch", "folder", folder, "files", len(files), "concurrency", o.opts.Concurrency)

	writer := storage.NewReportWriter(o.ReportPath())
	var resume *resumeIndex
	if o.opts.Resume {
		resume = newResumeIndex(loadPrior(writer.Path(), log), o.catalog, o.opts.ResumeMatch, log)
	}

	// The collector is the only writer of report.
	done := make(chan completed)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		filled := make([]bool, len(files))
		n := 0
		for c := range done {
			report.Entries[c.slot] = c.entry
			filled[c.slot] = true
			n++
			log.Info("file finished",
				"progress", fmt.Sprintf("%d/%d", n, len(files)),
				"path", c.entry.Path,
				"status", c.entry.Status,
				"seconds", c.entry.DurationSeconds,
			)
			if err := writer.Save(snapshot(report, filled)); err != nil {
				log.Error("could not save report", "error", err)
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			done <- completed{slot: i, entry: o.processFile(ctx, f, resume)}
			return nil
		})
	}
	_ = g.Wait()
	close(done)
	<-collected

	finished := time.Now().UTC()
	report.FinishedAt = &finished
	report.Summary.TotalDurationSeconds = time.Since(start).Seconds()
	report.Tally()

	if err := writer.Save(report); err != nil {
		return report, err
	}
	log.Info("batch complete",
		"succeeded", report.Summary.Succeeded,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
		"seconds", report.Summary.TotalDurationSeconds,
	)
	return report, nil
}

// snapshot returns the report restricted to the entries completed so far.
func snapshot(r *models.BatchReport, filled []bool) *models.BatchReport {
	snap := *r
	snap.Entries = make([]models.BatchEntry, 0, len(filled))
	for i, ok := range filled {
		if ok {
			snap.Entries = append(snap.Entries, r.Entries[i])
		}
	}
	snap.Tally()
	return &snap
}

// processFile turns one discovered file into its entry. It never returns
// without an entry.
func (o *Orchestrator) processFile(ctx context.Context, f models.MediaFile, resume *resumeIndex) models.BatchEntry {
	start := time.Now()
	entry := models.BatchEntry{Path: f.Path, Kind: f.Kind, Size: f.Size}
	defer func() {
		metrics.FilesTotal.WithLabelValues(string(entry.Kind), string(entry.Status)).Inc()
	}()

	if f.Kind == models.KindUnsupported {
		entry.Status = models.StatusSkipped
		entry.Reason = apperr.ErrUnsupportedMedia.Error()
		entry.DurationSeconds = time.Since(start).Seconds()
		return entry
	}
	entry.OutputDir = OutputDirFor(o.opts.OutputDir, f)

	if o.opts.ResumeMatch == config.MatchHash {
		hash, err := ContentHash(f.Path)
		if err != nil {
			return o.fail(entry, start, apperr.Media(f.Path, "hash", err))
		}
		entry.ContentHash = hash
	}

	if resume != nil {
		if prior := resume.find(ctx, entry); prior != nil {
			entry.Status = models.StatusSkipped
			entry.Reason = reasonAlreadyProcessed
			entry.Video, entry.Image = prior.Video, prior.Image
			entry.DurationSeconds = time.Since(start).Seconds()
			o.log.Debug("skipping processed file", "path", f.Path)
			return entry
		}
	}

	metrics.ActiveFiles.Inc()
	video, image, err := o.dispatch(ctx, f, entry.OutputDir)
	metrics.ActiveFiles.Dec()
	metrics.FileDuration.WithLabelValues(string(f.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		entry = o.fail(entry, start, err)
	} else {
		entry.Status = models.StatusSuccess
		entry.Video, entry.Image = video, image
		entry.DurationSeconds = time.Since(start).Seconds()
	}
	o.record(ctx, entry)
	return entry
}

// dispatch runs the pipeline for f. Panics are turned into errors so one
// file can never take the run down.
func (o *Orchestrator) dispatch(ctx context.Context, f models.MediaFile, outDir string) (video *models.VideoResult, image *models.ImageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			video, image = nil, nil
			err = errors.Errorf("panic while processing %s: %v", f.Path, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "batch cancelled")
	}
	if o.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.FileTimeout)
		defer cancel()
	}

	o.log.Info("processing file", "path", f.Path, "kind", f.Kind)
	switch f.Kind {
	case models.KindVideo:
		video, err = o.videos.ProcessVideo(ctx, f.Path, outDir)
	case models.KindImage:
		image, err = o.images.Analyze(ctx, f.Path, o.opts.Prompt)
		if err == nil {
			err = storage.WriteJSON(filepath.Join(outDir, storage.ImageResultFile), image)
		}
	default:
		err = apperr.ErrUnsupportedMedia
	}
	return video, image, err
}

// fail marks entry failed. The message always names the file.
func (o *Orchestrator) fail(entry models.BatchEntry, start time.Time, err error) models.BatchEntry {
	msg := err.Error()
	if !strings.Contains(msg, entry.Path) {
		msg = entry.Path + ": " + msg
	}
	o.log.Warn("file failed", "path", entry.Path, "error", msg)
	entry.Status = models.StatusFailure
	entry.Error = msg
	entry.Video, entry.Image = nil, nil
	entry.DurationSeconds = time.Since(start).Seconds()
	return entry
}

func (o *Orchestrator) record(ctx context.Context, entry models.BatchEntry) {
	if o.catalog == nil {
		return
	}
	// A cancelled run still records what it finished.
	if err := o.catalog.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.log.Warn("catalog record failed", "path", entry.Path, "error", err)
	}
}
