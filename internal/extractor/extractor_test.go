package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/mediadescriber/internal/apperr"
	"github.com/bdougie/mediadescriber/internal/logging"
)

type call struct {
	name string
	args []string
}

// fakeExec replaces execCommand for the duration of the test. handle
// returns the command to run in place of the real tool.
func fakeExec(t *testing.T, handle func(ctx context.Context, c call) *exec.Cmd) *[]call {
	t.Helper()
	var calls []call
	orig := execCommand
	t.Cleanup(func() { execCommand = orig })
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		c := call{name: name, args: args}
		calls = append(calls, c)
		return handle(ctx, c)
	}
	return &calls
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func succeed(ctx context.Context) *exec.Cmd { return exec.CommandContext(ctx, "true") }

func fail(ctx context.Context, msg string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("echo '%s' >&2; exit 1", msg))
}

func TestExtract_TimestampsFollowDensity(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	touch(t, video)
	frameDir := filepath.Join(dir, "out", "frames")

	calls := fakeExec(t, func(ctx context.Context, c call) *exec.Cmd {
		pattern := c.args[len(c.args)-1]
		for i := 1; i <= 4; i++ {
			touch(t, fmt.Sprintf(pattern, i))
		}
		return succeed(ctx)
	})

	s := NewSampler("", "", logging.Discard())
	frames, err := s.Extract(context.Background(), video, frameDir, 4, 45)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	for i, f := range frames {
		assert.Equal(t, i, f.Index)
		assert.InDelta(t, float64(i)*15, f.Timestamp, 1e-9)
		assert.Equal(t, filepath.Join(frameDir, fmt.Sprintf("frame_%04d.jpg", i+1)), f.ImagePath)
	}

	require.Len(t, *calls, 1)
	args := (*calls)[0].args
	assert.Equal(t, "ffmpeg", (*calls)[0].name)
	assert.Contains(t, args, "fps=4/60")
	assert.Contains(t, args, "-t")
	assert.Contains(t, args, "45")
}

func TestExtract_ClearsStaleFrames(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	touch(t, video)
	frameDir := filepath.Join(dir, "frames")
	touch(t, filepath.Join(frameDir, "frame_0099.jpg"))

	fakeExec(t, func(ctx context.Context, c call) *exec.Cmd {
		touch(t, fmt.Sprintf(c.args[len(c.args)-1], 1))
		return succeed(ctx)
	})

	frames, err := NewSampler("", "", logging.Discard()).Extract(context.Background(), video, frameDir, 60, 0)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestExtract_NoFramesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "short.mp4")
	touch(t, video)

	fakeExec(t, func(ctx context.Context, c call) *exec.Cmd { return succeed(ctx) })

	frames, err := NewSampler("", "", logging.Discard()).Extract(context.Background(), video, filepath.Join(dir, "f"), 1, 2)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestExtract_MissingFileIsMediaError(t *testing.T) {
	calls := fakeExec(t, func(ctx context.Context, c call) *exec.Cmd { return succeed(ctx) })

	_, err := NewSampler("", "", logging.Discard()).Extract(context.Background(), "/nope/clip.mp4", t.TempDir(), 60, 0)
	require.Error(t, err)
	assert.True(t, apperr.IsMedia(err))
	assert.Contains(t, err.Error(), "/nope/clip.mp4")
	assert.Empty(t, *calls, "ffmpeg must not run for a missing file")
}

func TestExtract_CorruptFileIsMediaError(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "broken.mp4")
	touch(t, video)

	fakeExec(t, func(ctx context.Context, c call) *exec.Cmd { return fail(ctx, "moov atom not found") })

	_, err := NewSampler("", "", logging.Discard()).Extract(context.Background(), video, filepath.Join(dir, "f"), 60, 0)
	require.Error(t, err)
	assert.True(t, apperr.IsMedia(err))
	assert.Contains(t, err.Error(), video)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestExtractAudio_NoAudioStream(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "mute.mp4")
	touch(t, video)

	calls := fakeExec(t, func(ctx context.Context, c call) *exec.Cmd { return succeed(ctx) })

	err := NewSampler("", "", logging.Discard()).ExtractAudio(context.Background(), video, filepath.Join(dir, "a.wav"), 0)
	assert.ErrorIs(t, err, apperr.ErrNoAudio)
	assert.Len(t, *calls, 1, "only ffprobe runs")
}

func TestExtractAudio_WritesMonoWav(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "talk.mp4")
	touch(t, video)

	calls := fakeExec(t, func(ctx context.Context, c call) *exec.Cmd {
		if c.name == "ffprobe" {
			return exec.CommandContext(ctx, "echo", "1")
		}
		return succeed(ctx)
	})

	out := filepath.Join(dir, "audio", "talk.wav")
	require.NoError(t, NewSampler("", "", logging.Discard()).ExtractAudio(context.Background(), video, out, 30))

	require.Len(t, *calls, 2)
	ff := (*calls)[1]
	assert.Equal(t, "ffmpeg", ff.name)
	assert.Equal(t, out, ff.args[len(ff.args)-1])
	assert.Contains(t, ff.args, "16000")
	assert.Contains(t, ff.args, "-vn")
}

func TestProbe(t *testing.T) {
	fakeExec(t, func(ctx context.Context, c call) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", "93.4")
	})
	d, err := NewSampler("", "", logging.Discard()).Probe(context.Background(), "x.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 93.4, d, 1e-9)
}
