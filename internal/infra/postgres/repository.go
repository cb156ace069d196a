package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/entity"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/port"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO keyframe_jobs (
			id, user_id, source_bucket, video_key, dest_bucket, converted_key,
			still_key, status, frame_index, frames_evaluated, brightness, sharpness,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.SourceBucket, job.VideoKey, job.DestBucket, job.ConvertedKey,
		job.StillKey, string(job.Status), job.FrameIndex, job.FramesEvaluated, job.Brightness, job.Sharpness,
		job.Attempt, job.MaxAttempts, job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE keyframe_jobs SET
			status=$2, converted_key=$3, still_key=$4, frame_index=$5, frames_evaluated=$6,
			brightness=$7, sharpness=$8, attempt=$9, error_message=$10, updated_at=$11, completed_at=$12
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ConvertedKey, job.StillKey, job.FrameIndex, job.FramesEvaluated,
		job.Brightness, job.Sharpness, job.Attempt, job.ErrorMessage, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, source_bucket, video_key, dest_bucket, converted_key,
			still_key, status, frame_index, frames_evaluated, brightness, sharpness,
			attempt, max_attempts, error_message, created_at, updated_at, completed_at
		FROM keyframe_jobs WHERE id=$1`

	job := &entity.Job{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.SourceBucket, &job.VideoKey, &job.DestBucket, &job.ConvertedKey,
		&job.StillKey, &status, &job.FrameIndex, &job.FramesEvaluated, &job.Brightness, &job.Sharpness,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find job %s: %w", id, port.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}
