package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/entity"
	"github.com/fiapx/fiapx-keyframe-service/internal/domain/port"
	"github.com/fiapx/fiapx-keyframe-service/internal/usecase"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Submitter interface {
	Submit(ctx context.Context, msg entity.KeyframeRequestMessage) (*entity.Job, error)
}

// Result is one element of the JSON array every endpoint answers with.
type Result struct {
	Result          string    `json:"result"`
	JobID           uuid.UUID `json:"job_id"`
	Status          string    `json:"status,omitempty"`
	StillKey        string    `json:"still_key,omitempty"`
	ConvertedKey    string    `json:"converted_key,omitempty"`
	FrameIndex      *int      `json:"frame_index,omitempty"`
	FramesEvaluated int       `json:"frames_evaluated,omitempty"`
	Brightness      float64   `json:"brightness,omitempty"`
	Sharpness       float64   `json:"sharpness,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type Handler struct {
	submitter Submitter
	requests  port.RequestPublisher
	jobs      port.JobFinder
	logger    *zap.Logger
}

func NewHandler(submitter Submitter, requests port.RequestPublisher, jobs port.JobFinder, logger *zap.Logger) *Handler {
	return &Handler{submitter: submitter, requests: requests, jobs: jobs, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /keyframe", h.handleKeyframe)
	mux.HandleFunc("POST /keyframe", h.handleKeyframe)
	mux.HandleFunc("POST /keyframe/jobs", h.handleEnqueue)
	mux.HandleFunc("GET /keyframe/jobs/{id}", h.handleJob)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (h *Handler) handleKeyframe(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	job, err := h.submitter.Submit(r.Context(), msg)
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		writeResult(w, http.StatusBadRequest, Result{Result: err.Error()})
	case err != nil:
		h.logger.Error("keyframe request failed", zap.String("src_file_name", msg.VideoKey), zap.Error(err))
		res := Result{Result: err.Error()}
		if job != nil {
			res.JobID, res.Status = job.ID, string(job.Status)
		}
		writeResult(w, http.StatusInternalServerError, res)
	case job.Status == entity.JobStatusNoKeyframe:
		writeResult(w, http.StatusUnprocessableEntity, jobResult("no_keyframe", job))
	default:
		writeResult(w, http.StatusOK, jobResult("success", job))
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	if msg.JobID == uuid.Nil {
		msg.JobID = uuid.New()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		writeResult(w, http.StatusInternalServerError, Result{Result: err.Error()})
		return
	}
	if err := h.requests.PublishRequest(r.Context(), body); err != nil {
		h.logger.Error("failed to enqueue keyframe request", zap.Error(err))
		writeResult(w, http.StatusServiceUnavailable, Result{Result: err.Error()})
		return
	}

	writeResult(w, http.StatusAccepted, Result{Result: "queued", JobID: msg.JobID, Status: string(entity.JobStatusPending)})
}

// handleJob reports a queued job. The result field is the lower-cased status.
func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeResult(w, http.StatusBadRequest, Result{Result: fmt.Sprintf("invalid job_id: %v", err)})
		return
	}

	job, err := h.jobs.FindByID(r.Context(), id)
	switch {
	case errors.Is(err, port.ErrJobNotFound):
		writeResult(w, http.StatusNotFound, Result{Result: "job not found", JobID: id})
	case err != nil:
		h.logger.Error("job lookup failed", zap.String("job_id", id.String()), zap.Error(err))
		writeResult(w, http.StatusInternalServerError, Result{Result: err.Error(), JobID: id})
	default:
		res := jobResult(strings.ToLower(string(job.Status)), job)
		res.Error = job.ErrorMessage
		writeResult(w, http.StatusOK, res)
	}
}

// parseRequest reads the request arguments from the query string and, for
// form posts, the body.
func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (entity.KeyframeRequestMessage, bool) {
	if err := r.ParseForm(); err != nil {
		writeResult(w, http.StatusBadRequest, Result{Result: err.Error()})
		return entity.KeyframeRequestMessage{}, false
	}

	msg := entity.KeyframeRequestMessage{
		UserID:       r.Form.Get("user_id"),
		SourceBucket: r.Form.Get("src_bucket_name"),
		VideoKey:     r.Form.Get("src_file_name"),
		DestBucket:   r.Form.Get("dest_bucket_name"),
		UserEmail:    r.Form.Get("user_email"),
	}
	if id := r.Form.Get("job_id"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			writeResult(w, http.StatusBadRequest, Result{Result: fmt.Sprintf("invalid job_id: %v", err)})
			return msg, false
		}
		msg.JobID = parsed
	}

	if msg.VideoKey == "" {
		writeResult(w, http.StatusBadRequest, Result{Result: "Argument is required"})
		return msg, false
	}
	return msg, true
}

func jobResult(result string, job *entity.Job) Result {
	res := Result{
		Result:          result,
		JobID:           job.ID,
		Status:          string(job.Status),
		StillKey:        job.StillKey,
		ConvertedKey:    job.ConvertedKey,
		FramesEvaluated: job.FramesEvaluated,
		Brightness:      job.Brightness,
		Sharpness:       job.Sharpness,
	}
	if job.Status == entity.JobStatusCompleted {
		idx := job.FrameIndex
		res.FrameIndex = &idx
	}
	return res
}

func writeResult(w http.ResponseWriter, status int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode([]Result{res})
}

func StartServer(ctx context.Context, port int, handler http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("http api starting", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http api error", zap.Error(err))
		}
	}()

	return srv
}
