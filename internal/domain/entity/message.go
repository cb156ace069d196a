package entity

import "github.com/google/uuid"

// KeyframeRequestMessage is the inbound message from the keyframe.requests queue.
// Empty bucket names fall back to the configured buckets.
type KeyframeRequestMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	SourceBucket string    `json:"src_bucket_name,omitempty"`
	VideoKey     string    `json:"src_file_name"`
	DestBucket   string    `json:"dest_bucket_name,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
}

// KeyframeStatusMessage is the outbound message published to the keyframe.status queue.
type KeyframeStatusMessage struct {
	JobID           uuid.UUID `json:"job_id"`
	UserID          string    `json:"user_id"`
	Status          JobStatus `json:"status"`
	VideoKey        string    `json:"video_key"`
	ConvertedKey    string    `json:"converted_key,omitempty"`
	StillKey        string    `json:"still_key,omitempty"`
	FrameIndex      int       `json:"frame_index"`
	FramesEvaluated int       `json:"frames_evaluated,omitempty"`
	Brightness      float64   `json:"brightness,omitempty"`
	Sharpness       float64   `json:"sharpness,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Attempt         int       `json:"attempt"`
	MaxAttempts     int       `json:"max_attempts"`
}

func NewStatusMessage(job *Job) KeyframeStatusMessage {
	return KeyframeStatusMessage{
		JobID:           job.ID,
		UserID:          job.UserID,
		Status:          job.Status,
		VideoKey:        job.VideoKey,
		ConvertedKey:    job.ConvertedKey,
		StillKey:        job.StillKey,
		FrameIndex:      job.FrameIndex,
		FramesEvaluated: job.FramesEvaluated,
		Brightness:      job.Brightness,
		Sharpness:       job.Sharpness,
		ErrorMessage:    job.ErrorMessage,
		Attempt:         job.Attempt,
		MaxAttempts:     job.MaxAttempts,
	}
}
