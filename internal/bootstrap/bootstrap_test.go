package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videoforge-api/internal/config"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                 8080,
		VideoAPIURL:          "http://127.0.0.1:1",
		VideoAPIKey:          "video-key",
		ImageFaceModel:       "face-extract",
		ImageSceneModel:      "scene-compose",
		ImageUpscaleModel:    "upscale",
		PollInterval:         time.Second,
		BatchConcurrency:     2,
		BatchMaxCount:        20,
		RateLimitMaxRequests: 5,
		RateLimitWindow:      time.Minute,
		DBDriver:             config.DBDriverMemory,
		TempDir:              t.TempDir(),
		PublicBaseURL:        "http://localhost:8080",
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_Memory(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Shutdown(ctx) })

	assert.NotNil(t, deps.Jobs)
	assert.NotNil(t, deps.Poller)
	assert.NotNil(t, deps.Batches)
	assert.NotNil(t, deps.Pipelines)
	assert.NotNil(t, deps.Limiter)
	assert.Nil(t, deps.Speech, "speech is optional")
	assert.Equal(t, []string{"video"}, deps.Registry.Names())

	router := server.NewRouter(deps.Handlers(), testLogger(), server.DefaultConfig())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/speech", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewDependencies_SQLiteWithOptionalProviders(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.DBDriver = config.DBDriverSQLite
	cfg.ImageAPIURL = "http://127.0.0.1:2"
	cfg.ImageAPIKey = "image-key"
	cfg.SpeechAPIURL = "http://127.0.0.1:3"
	cfg.SpeechAPIKey = "speech-key"

	deps, err := NewDependencies(ctx, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Shutdown(ctx) })

	_, err = os.Stat(filepath.Join(cfg.TempDir, "videoforge.db"))
	assert.NoError(t, err, "sqlite ledger defaults to a file in TEMP_DIR")

	assert.NotNil(t, deps.Speech)
	assert.ElementsMatch(t,
		[]string{"video", "image:face-extract", "image:scene-compose", "image:upscale"},
		deps.Registry.Names(),
	)

	jobs, err := deps.Jobs.List(ctx, job.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNewDependencies_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDriver = "mongo"

	_, err := NewDependencies(context.Background(), cfg, testLogger())

	assert.ErrorIs(t, err, config.ErrUnknownDBDriver)
}

func TestNewDependencies_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := NewDependencies(context.Background(), cfg, testLogger())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}
