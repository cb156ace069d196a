package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusNoKeyframe JobStatus = "NO_KEYFRAME"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job tracks one keyframe extraction request across attempts.
type Job struct {
	ID              uuid.UUID
	UserID          string
	SourceBucket    string
	VideoKey        string
	DestBucket      string
	ConvertedKey    string
	StillKey        string
	Status          JobStatus
	FrameIndex      int
	FramesEvaluated int
	Brightness      float64
	Sharpness       float64
	Attempt         int
	MaxAttempts     int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func NewJob(userID, sourceBucket, videoKey, destBucket string, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           uuid.New(),
		UserID:       userID,
		SourceBucket: sourceBucket,
		VideoKey:     videoKey,
		DestBucket:   destBucket,
		Status:       JobStatusPending,
		FrameIndex:   -1,
		Attempt:      0,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(stillKey string, frameIndex, evaluated int, brightness, sharpness float64) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.StillKey = stillKey
	j.FrameIndex = frameIndex
	j.FramesEvaluated = evaluated
	j.Brightness = brightness
	j.Sharpness = sharpness
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkNoKeyframe records a scan that read the whole video without finding an
// acceptable frame. It is terminal and never retried.
func (j *Job) MarkNoKeyframe(evaluated int) {
	now := time.Now().UTC()
	j.Status = JobStatusNoKeyframe
	j.FrameIndex = -1
	j.FramesEvaluated = evaluated
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusNoKeyframe
}
