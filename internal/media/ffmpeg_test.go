package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestClip renders a solid-colour clip with a silent audio track.
func createTestClip(t *testing.T, path string, duration float64, color string) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=64x64:d=%.1f", color, duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test clip: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	p := NewFFmpegProcessor("", "")
	assert.Equal(t, "ffmpeg", p.ffmpegPath)
	assert.Equal(t, "ffprobe", p.ffprobePath)

	p = NewFFmpegProcessor("/opt/ffmpeg", "/opt/ffprobe")
	assert.Equal(t, "/opt/ffmpeg", p.ffmpegPath)
	assert.Equal(t, "/opt/ffprobe", p.ffprobePath)
}

func TestJoinVideos_NoPaths(t *testing.T) {
	p := NewFFmpegProcessor("", "")
	err := p.JoinVideos(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, ErrNoVideoPaths)
}

func TestJoinVideos_SingleClipIsCopied(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(src, []byte("not really a video"), 0600))

	p := NewFFmpegProcessor("/nonexistent/ffmpeg", "")
	out := filepath.Join(dir, "out.mp4")
	require.NoError(t, p.JoinVideos(context.Background(), []string{src}, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "not really a video", string(got))
}

func TestJoinVideos(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	p := NewFFmpegProcessor("", "")
	ctx := context.Background()

	t.Run("join three clips in order", func(t *testing.T) {
		clips := []string{
			filepath.Join(dir, "a.mp4"),
			filepath.Join(dir, "b.mp4"),
			filepath.Join(dir, "c.mp4"),
		}
		for i, color := range []string{"red", "green", "blue"} {
			createTestClip(t, clips[i], 0.5, color)
		}
		out := filepath.Join(dir, "joined.mp4")

		require.NoError(t, p.JoinVideos(ctx, clips, out))

		d, err := p.Duration(ctx, out)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, d, 0.2)
	})

	t.Run("missing clip fails", func(t *testing.T) {
		err := p.JoinVideos(ctx, []string{"/nonexistent/a.mp4", "/nonexistent/b.mp4"}, filepath.Join(dir, "x.mp4"))
		var ffErr *FFmpegError
		assert.True(t, errors.As(err, &ffErr), "expected FFmpegError, got %v", err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		a := filepath.Join(dir, "c1.mp4")
		b := filepath.Join(dir, "c2.mp4")
		createTestClip(t, a, 0.5, "red")
		createTestClip(t, b, 0.5, "blue")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := p.JoinVideos(cctx, []string{a, b}, filepath.Join(dir, "cancelled.mp4"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDuration_MissingFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	p := NewFFmpegProcessor("", "")
	_, err := p.Duration(context.Background(), "/nonexistent/clip.mp4")
	assert.ErrorIs(t, err, ErrFFprobeExecution)
}

func TestFFmpegError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-c", "copy", "output.mp4"},
		Stderr: "Error opening input file",
		Err:    inner,
	}

	assert.True(t, strings.Contains(err.Error(), "exit status 1"))
	assert.True(t, strings.Contains(err.Error(), "Error opening input file"))
	assert.ErrorIs(t, err, inner)
}
