package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/config"
	"github.com/bdougie/mediadescriber/internal/logging"
	"github.com/bdougie/mediadescriber/internal/models"
	"github.com/bdougie/mediadescriber/internal/storage"
)

func touch(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fakePipelines stands in for both pipelines. Files whose name contains
// "corrupt" fail, "explode" panics and "hang" blocks until cancelled.
type fakePipelines struct {
	videoCalls atomic.Int32
	imageCalls atomic.Int32
	mu         sync.Mutex
	seen       []string
}

func (f *fakePipelines) note(path string) {
	f.mu.Lock()
	f.seen = append(f.seen, path)
	f.mu.Unlock()
}

func (f *fakePipelines) behave(ctx context.Context, path string) error {
	name := filepath.Base(path)
	switch {
	case strings.Contains(name, "corrupt"):
		return apperr.Media(path, "decode", errors.New("invalid data found when processing input"))
	case strings.Contains(name, "explode"):
		panic("codec exploded")
	case strings.Contains(name, "hang"):
		<-ctx.Done()
		return ctx.Err()
	case strings.Contains(name, "slow"):
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (f *fakePipelines) ProcessVideo(ctx context.Context, videoPath, outDir string) (*models.VideoResult, error) {
	f.videoCalls.Add(1)
	f.note(videoPath)
	if err := f.behave(ctx, videoPath); err != nil {
		return nil, err
	}
	r := &models.VideoResult{Description: "video " + filepath.Base(videoPath)}
	return r, storage.WriteJSON(filepath.Join(outDir, storage.VideoResultFile), r)
}

func (f *fakePipelines) Analyze(ctx context.Context, imagePath, prompt string) (*models.ImageResult, error) {
	f.imageCalls.Add(1)
	f.note(imagePath)
	if err := f.behave(ctx, imagePath); err != nil {
		return nil, err
	}
	return &models.ImageResult{Description: "image " + filepath.Base(imagePath)}, nil
}

func (f *fakePipelines) calls() int {
	return int(f.videoCalls.Load() + f.imageCalls.Load())
}

func newOrchestrator(p *fakePipelines, out string, mutate ...func(*Options)) *Orchestrator {
	opts := Options{OutputDir: out, Resume: true, ResumeMatch: config.MatchPath, Concurrency: 1}
	for _, m := range mutate {
		m(&opts)
	}
	return New(p, p, nil, opts, logging.Discard())
}

func mixedFolder(t *testing.T) string {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"), "v1")
	touch(t, filepath.Join(dir, "b.mov"), "v2")
	touch(t, filepath.Join(dir, "c_corrupt.mkv"), "v3")
	touch(t, filepath.Join(dir, "d.jpg"), "i1")
	touch(t, filepath.Join(dir, "e.png"), "i2")
	return dir
}

func TestRun_MixedFolderWithCorruptVideo(t *testing.T) {
	dir := mixedFolder(t)
	out := filepath.Join(t.TempDir(), "out")
	p := &fakePipelines{}

	report, err := newOrchestrator(p, out).Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, report.Entries, 5)
	assert.Equal(t, 4, report.Summary.Succeeded)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, 0, report.Summary.Skipped)

	failed := report.Entries[2]
	assert.Equal(t, models.StatusFailure, failed.Status)
	assert.Contains(t, failed.Error, filepath.Join(dir, "c_corrupt.mkv"))
	assert.False(t, failed.HasResult())

	assert.Equal(t, "image d.jpg", report.Entries[3].Description())
	assert.NotEmpty(t, report.RunID)
	assert.NotNil(t, report.FinishedAt)

	saved, err := storage.LoadReport(filepath.Join(out, storage.ReportFile))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Len(t, saved.Entries, 5)
	assert.Equal(t, report.Summary, saved.Summary)

	assert.FileExists(t, filepath.Join(report.Entries[3].OutputDir, storage.ImageResultFile))
}

func TestRun_ResumeMakesNoNewCalls(t *testing.T) {
	dir := mixedFolder(t)
	out := filepath.Join(t.TempDir(), "out")

	first := &fakePipelines{}
	_, err := newOrchestrator(first, out).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 5, first.calls())

	second := &fakePipelines{}
	report, err := newOrchestrator(second, out).Run(context.Background(), dir)
	require.NoError(t, err)

	// Only the failed file is retried.
	assert.Equal(t, 1, second.calls())
	assert.Equal(t, 4, report.Summary.Skipped)
	assert.Equal(t, 1, report.Summary.Failed)
	for _, e := range report.Entries {
		if e.Status == models.StatusSkipped {
			assert.Equal(t, reasonAlreadyProcessed, e.Reason)
			assert.Greater(t, e.DurationSeconds, 0.0)
			assert.True(t, e.HasResult(), "prior result is copied forward for %s", e.Path)
		}
	}

	third := &fakePipelines{}
	_, err = newOrchestrator(third, out).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, third.calls(), "copied-forward entries stay resumable")
}

func TestRun_ResumeDisabled(t *testing.T) {
	dir := mixedFolder(t)
	out := filepath.Join(t.TempDir(), "out")

	_, err := newOrchestrator(&fakePipelines{}, out).Run(context.Background(), dir)
	require.NoError(t, err)

	p := &fakePipelines{}
	_, err = newOrchestrator(p, out, func(o *Options) { o.Resume = false }).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 5, p.calls())
}

func TestRun_ResumeFromOutputDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "clip.mp4"), "v")
	out := filepath.Join(t.TempDir(), "out")

	_, err := newOrchestrator(&fakePipelines{}, out).Run(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(out, storage.ReportFile)))

	p := &fakePipelines{}
	report, err := newOrchestrator(p, out).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, p.calls())
	assert.Equal(t, "video clip.mp4", report.Entries[0].Description())
}

func TestRun_ResumeByHashReprocessesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"), "original")
	touch(t, filepath.Join(dir, "b.jpg"), "unchanged")
	out := filepath.Join(t.TempDir(), "out")
	byHash := func(o *Options) { o.ResumeMatch = config.MatchHash }

	_, err := newOrchestrator(&fakePipelines{}, out, byHash).Run(context.Background(), dir)
	require.NoError(t, err)

	touch(t, filepath.Join(dir, "a.jpg"), "edited")
	p := &fakePipelines{}
	report, err := newOrchestrator(p, out, byHash).Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls())
	assert.Equal(t, models.StatusSuccess, report.Entries[0].Status)
	assert.Equal(t, models.StatusSkipped, report.Entries[1].Status)
	assert.NotEmpty(t, report.Entries[0].ContentHash)
}

func TestRun_UnsupportedFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "notes.txt"), "plain text, nothing to see")
	touch(t, filepath.Join(dir, "pic.jpg"), "i")

	p := &fakePipelines{}
	report, err := newOrchestrator(p, filepath.Join(t.TempDir(), "out")).Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	notes := report.Entries[0]
	assert.Equal(t, models.KindUnsupported, notes.Kind)
	assert.Equal(t, models.StatusSkipped, notes.Status)
	assert.Equal(t, apperr.ErrUnsupportedMedia.Error(), notes.Reason)
	assert.Greater(t, notes.DurationSeconds, 0.0)
	assert.Equal(t, 1, p.calls())
}

func TestRun_BrokenSymlinkIsSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"), "i")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone.mp4"), filepath.Join(dir, "b.mp4")))

	report, err := newOrchestrator(&fakePipelines{}, filepath.Join(t.TempDir(), "out")).Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, report.Entries, 2)
	link := report.Entries[1]
	assert.Equal(t, filepath.Join(dir, "b.mp4"), link.Path)
	assert.Equal(t, models.KindUnsupported, link.Kind)
	assert.Equal(t, models.StatusSkipped, link.Status)
	assert.NotEmpty(t, link.Reason)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "explode.mp4"), "v")
	touch(t, filepath.Join(dir, "fine.mp4"), "v")

	report, err := newOrchestrator(&fakePipelines{}, filepath.Join(t.TempDir(), "out")).Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailure, report.Entries[0].Status)
	assert.Contains(t, report.Entries[0].Error, "codec exploded")
	assert.Equal(t, models.StatusSuccess, report.Entries[1].Status)
}

func TestRun_FileTimeout(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "hang.jpg"), "i")
	touch(t, filepath.Join(dir, "hang.mp4"), "v")
	touch(t, filepath.Join(dir, "ok.jpg"), "i")
	out := filepath.Join(t.TempDir(), "out")
	withTimeout := func(o *Options) { o.FileTimeout = 50 * time.Millisecond }

	report, err := newOrchestrator(&fakePipelines{}, out, withTimeout).Run(context.Background(), dir)
	require.NoError(t, err)

	for _, e := range report.Entries[:2] {
		assert.Equal(t, models.StatusFailure, e.Status, e.Path)
		assert.Contains(t, e.Error, "deadline exceeded")
	}
	assert.Equal(t, models.StatusSuccess, report.Entries[2].Status)

	// Timed-out files are retried on the next run.
	p := &fakePipelines{}
	report, err = newOrchestrator(p, out, withTimeout).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls())
	assert.Equal(t, models.StatusFailure, report.Entries[1].Status)
	assert.Equal(t, models.StatusSkipped, report.Entries[2].Status)
}

func TestRun_ConcurrentKeepsDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	var want []string
	for _, name := range []string{"a_slow.jpg", "b.jpg", "c_slow.png", "d.png", "e_slow.jpg", "f.jpg", "g.png", "h_slow.png"} {
		path := filepath.Join(dir, name)
		touch(t, path, name)
		want = append(want, path)
	}

	p := &fakePipelines{}
	report, err := newOrchestrator(p, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.Concurrency = 4 }).Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, report.Entries, len(want))
	for i, e := range report.Entries {
		assert.Equal(t, want[i], e.Path)
		assert.Equal(t, models.StatusSuccess, e.Status)
	}
	assert.Equal(t, len(want), p.calls())
}

func TestRun_CancelledContextStillReports(t *testing.T) {
	dir := mixedFolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &fakePipelines{}
	report, err := newOrchestrator(p, filepath.Join(t.TempDir(), "out")).Run(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, report.Entries, 5)
	assert.Equal(t, 5, report.Summary.Failed)
	assert.Zero(t, p.calls())
}

func TestRun_UnreadableFolderIsFatal(t *testing.T) {
	_, err := newOrchestrator(&fakePipelines{}, t.TempDir()).Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRun_UnwritableReportIsFatal(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"), "i")
	blocker := filepath.Join(t.TempDir(), "out")
	touch(t, blocker, "not a directory")

	report, err := newOrchestrator(&fakePipelines{}, blocker).Run(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, apperr.IsAggregation(err))
	require.NotNil(t, report)
	assert.Len(t, report.Entries, 1)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.mp4"), "v")
	touch(t, filepath.Join(dir, "a.jpg"), "i")
	touch(t, filepath.Join(dir, ".hidden.jpg"), "i")
	touch(t, filepath.Join(dir, ".cache", "x.jpg"), "i")
	touch(t, filepath.Join(dir, "sub", "c.png"), "i")
	touch(t, filepath.Join(dir, "output", "frame.jpg"), "i")

	flat, err := Discover(dir, Options{OutputDir: filepath.Join(dir, "output")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.mp4")}, paths(flat))
	assert.Equal(t, models.KindImage, flat[0].Kind)
	assert.Equal(t, models.KindVideo, flat[1].Kind)
	assert.EqualValues(t, 1, flat[0].Size)

	deep, err := Discover(dir, Options{Recursive: true, OutputDir: filepath.Join(dir, "output")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.mp4"),
		filepath.Join(dir, "sub", "c.png"),
	}, paths(deep))
}

func TestDiscover_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.jpg")
	touch(t, file, "i")
	_, err := Discover(file, Options{})
	assert.Error(t, err)
}

func TestOutputDirFor(t *testing.T) {
	a := OutputDirFor("/out", models.MediaFile{Path: "/one/clip.mp4", Kind: models.KindVideo})
	b := OutputDirFor("/out", models.MediaFile{Path: "/two/clip.mp4", Kind: models.KindVideo})

	assert.True(t, strings.HasPrefix(a, "/out/video_clip_"))
	assert.Len(t, filepath.Base(a), len("video_clip_")+8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, OutputDirFor("/out", models.MediaFile{Path: "/one/clip.mp4", Kind: models.KindVideo}))
}

func paths(files []models.MediaFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
