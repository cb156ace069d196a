package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/entity"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/port"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]entity.Job
	findErr error
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[uuid.UUID]entity.Job{}}
}

func (r *memRepo) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) Update(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, port.ErrJobNotFound
	}
	return &job, nil
}

type upload struct {
	bucket      string
	key         string
	size        int64
	contentType string
}

type fakeStorage struct {
	downloadErr  error
	stillErr     error
	downloaded   []string
	videoUploads []upload
	stills       []upload
}

func (s *fakeStorage) DownloadVideo(_ context.Context, bucket, objectKey, destPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.downloaded = append(s.downloaded, bucket+"/"+objectKey)
	return os.WriteFile(destPath, []byte("video"), 0644)
}

func (s *fakeStorage) UploadVideo(_ context.Context, bucket, objectKey, srcPath string) error {
	if _, err := os.Stat(srcPath); err != nil {
		return err
	}
	s.videoUploads = append(s.videoUploads, upload{bucket: bucket, key: objectKey})
	return nil
}

func (s *fakeStorage) UploadStill(_ context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error {
	if s.stillErr != nil {
		return s.stillErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	s.stills = append(s.stills, upload{bucket: bucket, key: objectKey, size: size, contentType: contentType})
	return nil
}

type sliceSource struct {
	frames []image.Image
	failAt int
	pos    int
	closed *int
}

func (s *sliceSource) Next() (image.Image, error) {
	if s.pos == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error {
	*s.closed++
	return nil
}

type fakeOpener struct {
	frames  []image.Image
	failAt  int
	openErr error
	paths   []string
	closed  int
}

func (o *fakeOpener) Open(_ context.Context, p string) (keyframe.Source, error) {
	o.paths = append(o.paths, p)
	if o.openErr != nil {
		return nil, o.openErr
	}
	return &sliceSource{frames: o.frames, failAt: o.failAt, closed: &o.closed}, nil
}

type fakeTranscoder struct {
	err   error
	calls int
}

func (t *fakeTranscoder) Transcode(_ context.Context, srcPath, dstPath string) error {
	t.calls++
	if t.err != nil {
		return t.err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return os.WriteFile(dstPath, data, 0644)
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(img image.Image) (*port.EncodedStill, error) {
	return &port.EncodedStill{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg", Extension: "jpg"}, nil
}

type fakePublisher struct {
	statuses []entity.KeyframeStatusMessage
	dlq      []string
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	var status entity.KeyframeStatusMessage
	if err := json.Unmarshal(msg, &status); err != nil {
		return err
	}
	p.statuses = append(p.statuses, status)
	return nil
}

func (p *fakePublisher) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	p.dlq = append(p.dlq, reason)
	return nil
}

type fakeNotifier struct {
	failures    []string
	noKeyframes []int
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, _, _, _ string, errorMsg string) error {
	n.failures = append(n.failures, errorMsg)
	return nil
}

func (n *fakeNotifier) NotifyNoKeyframe(_ context.Context, _, _, _ string, framesEvaluated int) error {
	n.noKeyframes = append(n.noKeyframes, framesEvaluated)
	return nil
}

type harness struct {
	uc         *ProcessKeyframeUseCase
	repo       *memRepo
	storage    *fakeStorage
	opener     *fakeOpener
	transcoder *fakeTranscoder
	pub        *fakePublisher
	notifier   *fakeNotifier
	tempDir    string
}

func newHarness(t *testing.T, frames []image.Image, transcode bool) *harness {
	t.Helper()
	h := &harness{
		repo:       newMemRepo(),
		storage:    &fakeStorage{},
		opener:     &fakeOpener{frames: frames, failAt: -1},
		transcoder: &fakeTranscoder{},
		pub:        &fakePublisher{},
		notifier:   &fakeNotifier{},
		tempDir:    t.TempDir(),
	}
	h.uc = NewProcessKeyframeUseCase(
		h.repo, h.storage, h.opener, h.transcoder, fakeEncoder{},
		h.pub, h.pub, h.notifier,
		zap.NewNop(),
		ProcessKeyframeConfig{
			TempDir:    h.tempDir,
			MaxRetries: 2,
			Thresholds: keyframe.DefaultThresholds(),
			Transcode:  transcode,
		},
	)
	return h
}

func (h *harness) job(t *testing.T, id uuid.UUID) *entity.Job {
	t.Helper()
	job, err := h.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func solidFrame(v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func boardFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if (x/2+y/2)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}
	return img
}

func darkThenBoard() []image.Image {
	return []image.Image{solidFrame(0), solidFrame(0), solidFrame(0), boardFrame(), boardFrame()}
}

func requestBody(t *testing.T, msg entity.KeyframeRequestMessage) []byte {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func assertScratchRemoved(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteSelectsKeyframe(t *testing.T) {
	h := newHarness(t, darkThenBoard(), true)
	msg := entity.KeyframeRequestMessage{
		JobID:        uuid.New(),
		UserID:       "user-1",
		SourceBucket: "incoming",
		VideoKey:     "clips/cat.mov",
		DestBucket:   "outgoing",
		UserEmail:    "user@example.com",
	}

	err := h.uc.Execute(context.Background(), requestBody(t, msg))
	require.NoError(t, err)

	job := h.job(t, msg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.FrameIndex)
	assert.Equal(t, 4, job.FramesEvaluated)
	assert.Equal(t, "user-1/cat_keyframe.jpg", job.StillKey)
	assert.Equal(t, "clips/cat.mp4", job.ConvertedKey)
	assert.InDelta(t, 127.5, job.Brightness, 1)

	assert.Equal(t, []string{"incoming/clips/cat.mov"}, h.storage.downloaded)
	require.Len(t, h.storage.videoUploads, 1)
	assert.Equal(t, upload{bucket: "outgoing", key: "clips/cat.mp4"}, h.storage.videoUploads[0])
	require.Len(t, h.storage.stills, 1)
	assert.Equal(t, "outgoing", h.storage.stills[0].bucket)
	assert.Equal(t, "image/jpeg", h.storage.stills[0].contentType)

	require.Len(t, h.opener.paths, 1)
	assert.Contains(t, h.opener.paths[0], "converted.mp4")
	assert.Equal(t, 1, h.opener.closed)

	require.Len(t, h.pub.statuses, 1)
	assert.Equal(t, entity.JobStatusCompleted, h.pub.statuses[0].Status)
	assert.Empty(t, h.pub.dlq)
	assert.Empty(t, h.notifier.failures)
	assertScratchRemoved(t, h.tempDir)
}

func TestExecuteWithoutTranscodeScansDownload(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), UserID: "u", VideoKey: "v.webm"}

	require.NoError(t, h.uc.Execute(context.Background(), requestBody(t, msg)))

	assert.Zero(t, h.transcoder.calls)
	assert.Empty(t, h.storage.videoUploads)
	require.Len(t, h.opener.paths, 1)
	assert.Contains(t, h.opener.paths[0], "input.webm")
	assert.Empty(t, h.job(t, msg.JobID).ConvertedKey)
}

func TestExecuteNoKeyframe(t *testing.T) {
	h := newHarness(t, []image.Image{solidFrame(0), solidFrame(128), solidFrame(200)}, false)
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), UserID: "u", VideoKey: "dark.mp4", UserEmail: "u@example.com"}

	err := h.uc.Execute(context.Background(), requestBody(t, msg))
	require.NoError(t, err, "an exhausted scan is a normal outcome and must be acked")

	job := h.job(t, msg.JobID)
	assert.Equal(t, entity.JobStatusNoKeyframe, job.Status)
	assert.Equal(t, 3, job.FramesEvaluated)
	assert.Empty(t, h.storage.stills)
	assert.Empty(t, h.pub.dlq)
	assert.Equal(t, []int{3}, h.notifier.noKeyframes)
	require.Len(t, h.pub.statuses, 1)
	assert.Equal(t, entity.JobStatusNoKeyframe, h.pub.statuses[0].Status)
	assert.Equal(t, 1, h.opener.closed)
}

func TestExecuteDecodeErrorIsPermanent(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	h.opener.failAt = 1
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), UserID: "u", VideoKey: "broken.mp4", UserEmail: "u@example.com"}

	err := h.uc.Execute(context.Background(), requestBody(t, msg))
	require.NoError(t, err, "permanent failures are acked after going to the DLQ")

	job := h.job(t, msg.JobID)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "select_keyframe")
	assert.Contains(t, job.ErrorMessage, keyframe.ErrDecode.Error())
	require.Len(t, h.pub.dlq, 1)
	require.Len(t, h.notifier.failures, 1)
	assert.Equal(t, 1, h.opener.closed)
	assertScratchRemoved(t, h.tempDir)
}

func TestExecuteSourceUnavailableIsPermanent(t *testing.T) {
	h := newHarness(t, nil, false)
	h.opener.openErr = errors.New("moov atom not found")
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mp4"}

	require.NoError(t, h.uc.Execute(context.Background(), requestBody(t, msg)))

	job := h.job(t, msg.JobID)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, keyframe.ErrSourceUnavailable.Error())
	assert.Len(t, h.pub.dlq, 1)
}

func TestExecuteTranscodeFailureIsPermanent(t *testing.T) {
	h := newHarness(t, darkThenBoard(), true)
	h.transcoder.err = errors.New("invalid data found when processing input")
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mov"}

	require.NoError(t, h.uc.Execute(context.Background(), requestBody(t, msg)))

	assert.Equal(t, entity.JobStatusFailed, h.job(t, msg.JobID).Status)
	assert.Len(t, h.pub.dlq, 1)
	assert.Empty(t, h.opener.paths)
}

func TestExecuteDownloadFailureRetriesThenDLQ(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	h.storage.downloadErr = errors.New("connection reset")
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mp4", UserEmail: "u@example.com"}
	body := requestBody(t, msg)

	err := h.uc.Execute(context.Background(), body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 1/2")
	assert.Equal(t, entity.JobStatusFailed, h.job(t, msg.JobID).Status)
	assert.Empty(t, h.pub.dlq)

	err = h.uc.Execute(context.Background(), body)
	require.NoError(t, err)
	assert.Len(t, h.pub.dlq, 1)
	assert.Len(t, h.notifier.failures, 1)
	assert.Equal(t, 2, h.job(t, msg.JobID).Attempt)
}

func TestExecuteRepositoryLookupFailureRequeues(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	h.repo.findErr = errors.New("connection refused")
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mp4"}

	err := h.uc.Execute(context.Background(), requestBody(t, msg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	h.repo.findErr = nil
	_, err = h.repo.FindByID(context.Background(), msg.JobID)
	assert.ErrorIs(t, err, port.ErrJobNotFound, "no duplicate job is created when the lookup fails")
	assert.Empty(t, h.storage.downloaded)
	assert.Empty(t, h.pub.dlq)
}

func TestExecuteUploadFailureIsRetryable(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	h.storage.stillErr = errors.New("503 slow down")
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mp4"}

	err := h.uc.Execute(context.Background(), requestBody(t, msg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload_still")
	assert.Empty(t, h.pub.dlq)
}

func TestExecuteRedeliveryOfFinishedJobIsDropped(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	msg := entity.KeyframeRequestMessage{JobID: uuid.New(), VideoKey: "v.mp4"}
	body := requestBody(t, msg)

	require.NoError(t, h.uc.Execute(context.Background(), body))
	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Len(t, h.opener.paths, 1)
	assert.Len(t, h.storage.stills, 1)
}

func TestExecuteMalformedMessages(t *testing.T) {
	h := newHarness(t, nil, false)

	require.NoError(t, h.uc.Execute(context.Background(), []byte("{not json")))
	require.NoError(t, h.uc.Execute(context.Background(), []byte(`{"user_id":"u"}`)))

	require.Len(t, h.pub.dlq, 2)
	assert.Contains(t, h.pub.dlq[0], "unmarshal_error")
	assert.Contains(t, h.pub.dlq[1], "src_file_name")
	assert.Empty(t, h.repo.jobs)
}

func TestExecuteWithoutJobIDIsStable(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	body := []byte(`{"user_id":"u","src_file_name":"v.mp4"}`)

	require.NoError(t, h.uc.Execute(context.Background(), body))
	require.NoError(t, h.uc.Execute(context.Background(), body))

	assert.Len(t, h.repo.jobs, 1)
	assert.Len(t, h.opener.paths, 1)
}

func TestSubmit(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)

	job, err := h.uc.Submit(context.Background(), entity.KeyframeRequestMessage{UserID: "u", VideoKey: "clips/dog.mp4"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, "u/dog_keyframe.jpg", job.StillKey)
	assert.Equal(t, 3, job.FrameIndex)
}

func TestSubmitFailureIsNotQueued(t *testing.T) {
	h := newHarness(t, darkThenBoard(), false)
	h.opener.failAt = 0

	job, err := h.uc.Submit(context.Background(), entity.KeyframeRequestMessage{VideoKey: "v.mp4", UserEmail: "u@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, keyframe.ErrDecode)

	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Empty(t, h.pub.dlq)
	assert.Len(t, h.notifier.failures, 1)
}

func TestSubmitRejectsMissingVideo(t *testing.T) {
	h := newHarness(t, nil, false)

	_, err := h.uc.Submit(context.Background(), entity.KeyframeRequestMessage{UserID: "u"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStillKey(t *testing.T) {
	assert.Equal(t, "user-1/cat_keyframe.jpg", StillKey("user-1", "clips/cat.mov", "jpg"))
	assert.Equal(t, "cat_keyframe.png", StillKey("", "cat.mov", "png"))
	assert.Equal(t, "u/noext_keyframe.jpg", StillKey("u", "noext", "jpg"))
}

func TestConvertedVideoKey(t *testing.T) {
	assert.Equal(t, "clips/cat.mp4", convertedVideoKey("clips/cat.mov"))
	assert.Equal(t, "clip.mp4", convertedVideoKey("clip.mp4"))
	assert.Equal(t, "noext.mp4", convertedVideoKey("noext"))
}
