package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/bdougie/mediadescriber/internal/analyzer"
	"github.com/bdougie/mediadescriber/internal/batch"
	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/embeddings"
	"github.com/bdougie/mediadescriber/internal/extractor"
	"github.com/bdougie/mediadescriber/internal/logging"
	"github.com/bdougie/mediadescriber/internal/metrics"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/storage"
	"github.com/bdougie/mediadescriber/internal/throttle"
	"github.com/bdougie/mediadescriber/internal/transcription"
	"github.com/bdougie/mediadescriber/internal/vision"
)

const usage = `Usage: mediadescriber <command> [flags] <target>

Commands:
  image <path>      Describe a single image
  video <path>      Describe a video from sampled frames and its transcript
  folder <dir>      Describe every image and video in a folder
  search <query>    Search descriptions recorded in the catalog

Run "mediadescriber <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:])
	stop()
	os.Exit(code)
}

type command func(ctx context.Context, a *app, args []string) error

func run(ctx context.Context, name string, args []string) int {
	commands := map[string]command{
		"image":  runImage,
		"video":  runVideo,
		"folder": runFolder,
		"search": runSearch,
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	cfg, positional, err := config.Parse(name, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.Close()

	if err := cmd(ctx, a, positional); err != nil {
		a.log.Error(name+" failed", "error", err)
		return 1
	}
	return 0
}

// app carries what every command shares.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	throttle *throttle.Throttle
	closers  []io.Closer
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "config", cfg)

	if cfg.Metrics.Addr != "" {
		metrics.StartServer(ctx, cfg.Metrics.Addr, logger)
	}

	return &app{
		cfg:      cfg,
		log:      logger,
		throttle: throttle.New(cfg.Batch.InferenceConcurrency, cfg.Vision.RequestsPerMinute, logger),
		closers:  []io.Closer{logCloser},
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func (a *app) vision(ctx context.Context) (vision.Adapter, error) {
	return vision.FromConfig(ctx, a.cfg, a.throttle, a.log)
}

func (a *app) videoProcessor(v vision.Adapter) (*analyzer.Processor, error) {
	tr, err := transcription.FromConfig(a.cfg, a.throttle, a.log)
	if err != nil {
		return nil, err
	}
	sampler := extractor.NewSampler(a.cfg.Frames.FFmpeg, a.cfg.Frames.FFprobe, a.log)
	opts := analyzer.VideoOptions{
		Prompt:              a.cfg.Prompt,
		FramesPerMinute:     a.cfg.Frames.PerMinute,
		DurationCap:         a.cfg.Frames.DurationCap,
		ContextWindow:       a.cfg.Frames.ContextWindow,
		KeepFrames:          a.cfg.Frames.KeepFrames,
		FrameTimeout:        a.cfg.Frames.Timeout,
		ConfidenceThreshold: a.cfg.Transcription.ConfidenceThreshold,
		Transcription: transcription.Options{
			Model:    a.cfg.Transcription.Model,
			Language: a.cfg.Transcription.Language,
		},
	}
	return analyzer.NewProcessor(sampler, v, tr, opts, a.log), nil
}

// catalog opens the configured catalog, or returns nil when none is set.
// Descriptions are embedded when an OpenAI key is available.
func (a *app) catalog(ctx context.Context) (storage.Catalog, error) {
	if a.cfg.Catalog.Driver == "" {
		return nil, nil
	}

	var emb storage.Embedder
	if a.cfg.OpenAI.APIKey != "" {
		backend, err := embeddings.NewOpenAIBackend(a.cfg.OpenAI.APIKey.String(), a.cfg.OpenAI.BaseURL, a.cfg.Embeddings.Model)
		if err != nil {
			return nil, err
		}
		svc := embeddings.NewService(backend, a.cfg.Embeddings.Workers, a.log)
		a.closers = append(a.closers, closerFunc(func() error { svc.Close(); return nil }))
		emb = svc
	} else {
		a.log.Info("no OpenAI key configured, catalog search falls back to keywords")
	}

	cat, err := storage.OpenCatalog(ctx, a.cfg.Catalog, emb, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cat)
	return cat, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func runImage(ctx context.Context, a *app, args []string) error {
	path, err := config.RequireArg(args, "image path")
	if err != nil {
		return err
	}
	v, err := a.vision(ctx)
	if err != nil {
		return err
	}

	result, err := analyzer.NewImagePipeline(v, a.log).Analyze(ctx, path, a.cfg.Prompt)
	if err != nil {
		return err
	}
	out := filepath.Join(a.cfg.Output.Dir, storage.ImageResultFile)
	if err := storage.WriteJSON(out, result); err != nil {
		return err
	}

	a.log.Info("image analyzed", "path", path, "result", out)
	fmt.Println(result.Description)
	return nil
}

func runVideo(ctx context.Context, a *app, args []string) error {
	path, err := config.RequireArg(args, "video path")
	if err != nil {
		return err
	}
	v, err := a.vision(ctx)
	if err != nil {
		return err
	}
	p, err := a.videoProcessor(v)
	if err != nil {
		return err
	}

	result, err := p.ProcessVideo(ctx, path, a.cfg.Output.Dir)
	if err != nil {
		return err
	}
	fmt.Println(result.Description)
	return nil
}

func runFolder(ctx context.Context, a *app, args []string) error {
	folder, err := config.RequireArg(args, "folder")
	if err != nil {
		return err
	}
	v, err := a.vision(ctx)
	if err != nil {
		return err
	}
	p, err := a.videoProcessor(v)
	if err != nil {
		return err
	}
	cat, err := a.catalog(ctx)
	if err != nil {
		return err
	}

	o := batch.New(p, analyzer.NewImagePipeline(v, a.log), cat, batch.OptionsFromConfig(a.cfg), a.log)
	report, err := o.Run(ctx, folder)
	if err != nil {
		return err
	}
	logSummary(a.log, report, o.ReportPath())
	return nil
}

func logSummary(log *slog.Logger, r *models.BatchReport, path string) {
	var videos, images int
	for _, e := range r.Entries {
		if e.Status != models.StatusSuccess {
			continue
		}
		switch e.Kind {
		case models.KindVideo:
			videos++
		case models.KindImage:
			images++
		}
	}
	log.Info("processing summary",
		"files", len(r.Entries),
		"succeeded", r.Summary.Succeeded,
		"failed", r.Summary.Failed,
		"skipped", r.Summary.Skipped,
		"videos", videos,
		"images", images,
		"seconds", fmt.Sprintf("%.1f", r.Summary.TotalDurationSeconds),
		"report", path,
	)
	for _, e := range r.Entries {
		if e.Status == models.StatusFailure {
			log.Warn("failed file", "path", e.Path, "error", e.Error)
		}
	}
}

func runSearch(ctx context.Context, a *app, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("search needs a query")
	}
	cat, err := a.catalog(ctx)
	if err != nil {
		return err
	}
	if cat == nil {
		return errors.New("no catalog configured (set --catalog and --catalog-dsn)")
	}

	hits, err := cat.Search(ctx, query, 10)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%.3f  %s  (%s)\n", h.Similarity, h.Path, h.Kind)
		if first, _, _ := strings.Cut(h.Description, "\n"); first != "" {
			fmt.Printf("       %s\n", first)
		}
	}
	return nil
}
