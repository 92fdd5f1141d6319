package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Compile-time check that GormRepository implements Repository.
var _ Repository = (*GormRepository)(nil)

// videoRecord is the row shape of the videos table.
type videoRecord struct {
	ID           string     `gorm:"column:id;primaryKey"`
	Kind         string     `gorm:"column:kind;not null"`
	Provider     string     `gorm:"column:provider;not null"`
	Prompt       string     `gorm:"column:prompt;not null"`
	ImageURL     string     `gorm:"column:image_url"`
	EndImageURL  string     `gorm:"column:end_image_url"`
	Duration     string     `gorm:"column:duration"`
	BatchID      string     `gorm:"column:batch_id;index"`
	PipelineID   string     `gorm:"column:pipeline_id;index"`
	Status       string     `gorm:"column:status;not null;index"`
	Progress     int        `gorm:"column:progress;not null;default:0"`
	ResultURL    string     `gorm:"column:result_url"`
	ErrorMessage string     `gorm:"column:error_message"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;index"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
}

func (videoRecord) TableName() string { return "videos" }

func recordFromJob(j *Job) videoRecord {
	rec := videoRecord{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Provider:     j.Provider,
		Prompt:       j.Prompt,
		ImageURL:     j.ImageURL,
		EndImageURL:  j.EndImageURL,
		Duration:     j.Duration,
		BatchID:      j.BatchID,
		PipelineID:   j.PipelineID,
		Status:       string(j.Status),
		Progress:     j.Progress,
		ResultURL:    j.ResultURL,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

func (r videoRecord) toJob() *Job {
	j := &Job{
		ID:           r.ID,
		Kind:         Kind(r.Kind),
		Provider:     r.Provider,
		Prompt:       r.Prompt,
		ImageURL:     r.ImageURL,
		EndImageURL:  r.EndImageURL,
		Duration:     r.Duration,
		BatchID:      r.BatchID,
		PipelineID:   r.PipelineID,
		Status:       Status(r.Status),
		Progress:     r.Progress,
		ResultURL:    r.ResultURL,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		j.CompletedAt = *r.CompletedAt
	}
	return j
}

// GormRepository persists jobs in the videos table through gorm.
// It works against postgres in production and sqlite in development.
type GormRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGormRepository creates a gorm-backed ledger.
func NewGormRepository(db *gorm.DB, logger *slog.Logger) *GormRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormRepository{
		db:     db,
		logger: logger.With(slog.String("repo", "videos")),
	}
}

// AutoMigrate creates or updates the videos table.
func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&videoRecord{}); err != nil {
		return fmt.Errorf("migrate videos: %w", err)
	}
	return nil
}

// Insert persists a new job row.
func (r *GormRepository) Insert(ctx context.Context, job *Job) error {
	rec := recordFromJob(job.Clone())
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&videoRecord{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("check job %s: %w", rec.ID, err)
		}
		if count > 0 {
			return ErrDuplicateJob
		}
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateJob
			}
			return fmt.Errorf("insert job %s: %w", rec.ID, err)
		}
		return nil
	})
}

// UpdateStatus loads the row, applies the update through the Job state
// machine and writes back only when something changed.
func (r *GormRepository) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Job, error) {
	var out *Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec videoRecord
		if err := tx.Where("id = ?", id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return fmt.Errorf("load job %s: %w", id, err)
		}

		j := rec.toJob()
		changed, err := j.Apply(update)
		if err != nil {
			return err
		}
		out = j
		if !changed {
			return nil
		}

		next := recordFromJob(j)
		updates := map[string]interface{}{
			"status":        next.Status,
			"progress":      next.Progress,
			"result_url":    next.ResultURL,
			"error_message": next.ErrorMessage,
			"updated_at":    next.UpdatedAt,
			"completed_at":  next.CompletedAt,
		}
		if err := tx.Model(&videoRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID retrieves a job by its ID.
func (r *GormRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	var rec videoRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return rec.toJob(), nil
}

// Query returns jobs matching the filter, newest first.
func (r *GormRepository) Query(ctx context.Context, filter Filter) ([]*Job, error) {
	q := r.db.WithContext(ctx).Model(&videoRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.BatchID != "" {
		q = q.Where("batch_id = ?", filter.BatchID)
	}
	if filter.PipelineID != "" {
		q = q.Where("pipeline_id = ?", filter.PipelineID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []videoRecord
	if err := q.Order("created_at DESC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	out := make([]*Job, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toJob())
	}
	return out, nil
}

// Delete removes a job row.
func (r *GormRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&videoRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	r.logger.Debug("job deleted", slog.String("job_id", id))
	return nil
}
