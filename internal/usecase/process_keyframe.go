package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/entity"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/port"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type ProcessKeyframeUseCase struct {
	repo       port.JobRepository
	storage    port.VideoStorage
	opener     keyframe.Opener
	transcoder port.Transcoder
	encoder    port.StillEncoder
	publisher  port.StatusPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	logger     *zap.Logger
	thresholds keyframe.Thresholds
	tempDir    string
	maxRetry   int
}

type ProcessKeyframeConfig struct {
	TempDir    string
	MaxRetries int
	Thresholds keyframe.Thresholds
	// Transcode uploads an MP4 copy of the video next to the still and
	// scans the converted file.
	Transcode bool
}

func NewProcessKeyframeUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	opener keyframe.Opener,
	transcoder port.Transcoder,
	encoder port.StillEncoder,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessKeyframeConfig,
) *ProcessKeyframeUseCase {
	if !cfg.Transcode {
		transcoder = nil
	}
	return &ProcessKeyframeUseCase{
		repo:       repo,
		storage:    storage,
		opener:     opener,
		transcoder: transcoder,
		encoder:    encoder,
		publisher:  publisher,
		dlq:        dlq,
		notifier:   notifier,
		logger:     logger,
		thresholds: cfg.Thresholds,
		tempDir:    cfg.TempDir,
		maxRetry:   cfg.MaxRetries,
	}
}

// Execute handles one queue delivery. A nil return acks the message; an
// error requeues it with backoff.
func (uc *ProcessKeyframeUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessKeyframeUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.KeyframeRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if err := validateRequest(msg); err != nil {
		uc.logger.Error("rejecting request", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, err.Error())
		return nil
	}
	if msg.JobID == uuid.Nil {
		msg.JobID = uuid.NewSHA1(uuid.NameSpaceURL, rawMsg)
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.loadJob(ctx, msg)
	if err != nil {
		log.Error("failed to create job record", zap.Error(err))
		return err
	}

	if job.IsTerminal() {
		log.Info("job already finished, dropping redelivery", zap.String("status", string(job.Status)))
		return nil
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, log); err != nil {
		span.RecordError(err)
		if isPermanent(err) {
			log.Error("keyframe job failed permanently", zap.Error(err))
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, err.Error())
		}
		if _, ok := err.(*stageError); ok {
			log.Warn("keyframe job failed, will retry", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, err.Error(), log)
		}
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

// Submit runs a request synchronously and returns the job in its final
// state. Failures are not requeued; retry policy belongs to the caller.
func (uc *ProcessKeyframeUseCase) Submit(ctx context.Context, msg entity.KeyframeRequestMessage) (*entity.Job, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessKeyframeUseCase.Submit")
	defer span.End()

	if err := validateRequest(msg); err != nil {
		return nil, err
	}
	if msg.JobID == uuid.Nil {
		msg.JobID = uuid.New()
	}
	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.loadJob(ctx, msg)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		return job, fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, log); err != nil {
		span.RecordError(err)
		log.Error("keyframe request failed", zap.Error(err))

		job.MarkFailed(err.Error())
		_ = uc.repo.Update(ctx, job)
		uc.publishStatus(ctx, job, log)
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()

		if isPermanent(err) && msg.UserEmail != "" {
			_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, err.Error())
		}
		return job, err
	}

	return job, nil
}

func (uc *ProcessKeyframeUseCase) loadJob(ctx context.Context, msg entity.KeyframeRequestMessage) (*entity.Job, error) {
	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, port.ErrJobNotFound) {
		return nil, fmt.Errorf("find job: %w", err)
	}

	job = entity.NewJob(msg.UserID, msg.SourceBucket, msg.VideoKey, msg.DestBucket, uc.maxRetry)
	job.ID = msg.JobID
	if err := uc.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (uc *ProcessKeyframeUseCase) runPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.KeyframeRequestMessage,
	log *zap.Logger,
) error {
	if err := os.MkdirAll(uc.tempDir, 0755); err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	workDir, err := os.MkdirTemp(uc.tempDir, job.ID.String()+"-")
	if err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	videoPath := filepath.Join(workDir, "input"+path.Ext(msg.VideoKey))
	err = uc.stage(ctx, "download", func(ctx context.Context) error {
		if err := uc.storage.DownloadVideo(ctx, msg.SourceBucket, msg.VideoKey, videoPath); err != nil {
			return retryable("download_video", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	scanPath := videoPath
	if uc.transcoder != nil {
		mp4Path := filepath.Join(workDir, "converted.mp4")
		convertedKey := convertedVideoKey(msg.VideoKey)

		err = uc.stage(ctx, "transcode", func(ctx context.Context) error {
			if err := uc.transcoder.Transcode(ctx, videoPath, mp4Path); err != nil {
				return permanent("transcode_video", err)
			}
			if err := uc.storage.UploadVideo(ctx, msg.DestBucket, convertedKey, mp4Path); err != nil {
				return retryable("upload_video", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		job.ConvertedKey = convertedKey
		scanPath = mp4Path
	}

	var result *keyframe.Result
	err = uc.stage(ctx, "select", func(ctx context.Context) error {
		res, err := keyframe.SelectFromPath(ctx, uc.opener, scanPath, uc.thresholds)
		if err != nil {
			return permanent("select_keyframe", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return err
	}
	metrics.FramesEvaluatedTotal.Add(float64(result.Evaluated))

	if !result.Selected() {
		return uc.finishWithoutKeyframe(ctx, job, msg, result, log)
	}

	metrics.SelectedFrameIndex.Observe(float64(result.Index))
	log.Info("keyframe selected",
		zap.Int("frame_index", result.Index),
		zap.Float64("brightness", result.Score.Brightness),
		zap.Float64("sharpness", result.Score.Sharpness),
	)

	var stillKey string
	err = uc.stage(ctx, "upload", func(ctx context.Context) error {
		still, err := uc.encoder.Encode(result.Frame)
		if err != nil {
			return permanent("encode_still", err)
		}
		stillKey = StillKey(msg.UserID, msg.VideoKey, still.Extension)
		if err := uc.storage.UploadStill(ctx, msg.DestBucket, stillKey, bytes.NewReader(still.Data), int64(len(still.Data)), still.ContentType); err != nil {
			return retryable("upload_still", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	job.MarkCompleted(stillKey, result.Index, result.Evaluated, result.Score.Brightness, result.Score.Sharpness)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()

	log.Info("job completed successfully",
		zap.String("still_key", stillKey),
		zap.String("converted_key", job.ConvertedKey),
		zap.Int("frames_evaluated", result.Evaluated),
	)
	return nil
}

func (uc *ProcessKeyframeUseCase) finishWithoutKeyframe(
	ctx context.Context,
	job *entity.Job,
	msg entity.KeyframeRequestMessage,
	result *keyframe.Result,
	log *zap.Logger,
) error {
	job.MarkNoKeyframe(result.Evaluated)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to NO_KEYFRAME", zap.Error(err))
		return fmt.Errorf("update job no keyframe: %w", err)
	}

	uc.publishStatus(ctx, job, log)
	metrics.JobsProcessedTotal.WithLabelValues("no_keyframe").Inc()

	log.Warn("no frame met the thresholds",
		zap.Int("frames_evaluated", result.Evaluated),
		zap.Float64("min_brightness", uc.thresholds.Brightness),
		zap.Float64("min_sharpness", uc.thresholds.Sharpness),
	)

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyNoKeyframe(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, result.Evaluated)
	}
	return nil
}

// stage wraps one pipeline step in a span and records its duration.
func (uc *ProcessKeyframeUseCase) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, name)
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	metrics.JobProcessingDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return nil
}

func (uc *ProcessKeyframeUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.KeyframeRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessKeyframeUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.KeyframeRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ProcessKeyframeUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	data, _ := json.Marshal(entity.NewStatusMessage(job))
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func validateRequest(msg entity.KeyframeRequestMessage) error {
	if strings.TrimSpace(msg.VideoKey) == "" {
		return fmt.Errorf("%w: src_file_name is required", ErrInvalidRequest)
	}
	return nil
}

// StillKey names the uploaded still after the video it came from,
// e.g. "user-1/clips/cat.mov" -> "user-1/cat_keyframe.jpg".
func StillKey(userID, videoKey, ext string) string {
	base := path.Base(videoKey)
	name := strings.TrimSuffix(base, path.Ext(base)) + "_keyframe." + ext
	if userID == "" {
		return name
	}
	return userID + "/" + name
}

func convertedVideoKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, path.Ext(videoKey)) + ".mp4"
}
