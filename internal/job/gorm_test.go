package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteRepo(t *testing.T) *GormRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewGormRepository(db, nil)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func TestGormRepository_InsertAndFind(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	j := New("abc123", "video", KindVideo, "a cat surfing a wave")
	j.ImageURL = "https://img/start.png"
	j.Duration = "5"
	j.BatchID = "batch-1"
	require.NoError(t, repo.Insert(ctx, j))

	found, err := repo.FindByID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, found.Status)
	assert.Equal(t, "video", found.Provider)
	assert.Equal(t, KindVideo, found.Kind)
	assert.Equal(t, "https://img/start.png", found.ImageURL)
	assert.Equal(t, "5", found.Duration)
	assert.Equal(t, "batch-1", found.BatchID)
	assert.True(t, found.CompletedAt.IsZero())
}

func TestGormRepository_InsertDuplicate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave")))
	err := repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave"))
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestGormRepository_FindByID_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGormRepository_UpdateStatus(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave")))

	updated, err := repo.UpdateStatus(ctx, "abc123", StatusUpdate{Status: StatusProcessing, Progress: 25})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, 25, updated.Progress)

	done := StatusUpdate{Status: StatusCompleted, ResultURL: "https://cdn/v.mp4", Progress: -1}
	completed, err := repo.UpdateStatus(ctx, "abc123", done)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, 100, completed.Progress)
	assert.False(t, completed.CompletedAt.IsZero())

	// Identical terminal update is a no-op.
	again, err := repo.UpdateStatus(ctx, "abc123", done)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", again.ResultURL)
	assert.WithinDuration(t, completed.CompletedAt, again.CompletedAt, time.Millisecond)

	_, err = repo.UpdateStatus(ctx, "abc123", StatusUpdate{Status: StatusProcessing})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := repo.FindByID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "https://cdn/v.mp4", stored.ResultURL)
}

func TestGormRepository_UpdateStatus_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, err := repo.UpdateStatus(context.Background(), "missing", StatusUpdate{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGormRepository_Query(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 4; i++ {
		j := New(fmt.Sprintf("job-%d", i), "video", KindVideo, "a cat surfing a wave")
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i < 2 {
			j.PipelineID = "pipe-1"
		}
		require.NoError(t, repo.Insert(ctx, j))
	}
	_, err := repo.UpdateStatus(ctx, "job-3", StatusUpdate{Status: StatusFailed, ErrorMessage: "boom"})
	require.NoError(t, err)

	all, err := repo.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "job-3", all[0].ID)

	byPipeline, err := repo.Query(ctx, Filter{PipelineID: "pipe-1"})
	require.NoError(t, err)
	assert.Len(t, byPipeline, 2)

	failed, err := repo.Query(ctx, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)

	limited, err := repo.Query(ctx, Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestGormRepository_Delete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, New("abc123", "video", KindVideo, "a cat surfing a wave")))

	require.NoError(t, repo.Delete(ctx, "abc123"))
	_, err := repo.FindByID(ctx, "abc123")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "abc123"), ErrJobNotFound)
}
