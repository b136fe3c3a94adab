package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/models"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/queue"
	"resume-pipeline/internal/ratelimit"
	"resume-pipeline/internal/reliability"
	"resume-pipeline/internal/store"
	"resume-pipeline/internal/telemetry"
)

// Store is the read/write surface the API needs beyond the pipeline.
type Store interface {
	GetCandidate(ctx context.Context, id string) (models.Candidate, error)
	GetAnalysis(ctx context.Context, candidateID string) (models.Analysis, error)
	CreateJobPosting(ctx context.Context, j models.JobPosting) error
	GetJobPosting(ctx context.Context, id string) (models.JobPosting, error)
	ListJobPostings(ctx context.Context, status string) ([]models.JobPosting, error)
}

// Uploader accepts documents and recomputes rankings.
type Uploader interface {
	Upload(ctx context.Context, params pipeline.UploadParams) (models.Candidate, error)
	RefreshMatches(ctx context.Context, candidateID string) ([]models.Match, error)
}

// Server wires HTTP handlers for the intake and read API.
type Server struct {
	cfg      config.Config
	store    Store
	pipeline Uploader
	queue    *queue.RedisQueue
	limiter  *ratelimit.TokenBucket
	breakers *reliability.Registry
	log      *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, st Store, p Uploader, q *queue.RedisQueue, limiter *ratelimit.TokenBucket, breakers *reliability.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		pipeline: p,
		queue:    q,
		limiter:  limiter,
		breakers: breakers,
		log:      log.Named("api"),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/upload", s.handleUpload)
	r.Post("/ocr/completions", s.handleOCRCompletion)
	r.Get("/candidates/{id}", s.handleGetCandidate)
	r.Get("/candidates/{id}/matches", s.handleMatches)
	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/dlq", s.handleDLQ)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.breakers != nil {
		snapshots := s.breakers.Snapshots()
		resp["circuitBreakers"] = snapshots
		for _, snap := range snapshots {
			if snap.State == reliability.StateOpen {
				resp["status"] = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type uploadRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileContent string `json:"fileContent"` // base64
}

type uploadResponse struct {
	CandidateID string `json:"candidateId"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+clientKey(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.FileName == "" || req.FileContent == "" {
		writeError(w, http.StatusBadRequest, "fileName and fileContent are required")
		return
	}

	fileType := strings.ToLower(req.FileType)
	if fileType == "" {
		fileType = strings.TrimPrefix(strings.ToLower(path.Ext(req.FileName)), ".")
	}
	if !s.typeAllowed(fileType) {
		telemetry.UploadRejects.Inc()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q; use one of %s", fileType, strings.Join(s.cfg.AllowedTypes, ", ")))
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.FileContent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "fileContent is not valid base64")
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		telemetry.UploadRejects.Inc()
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxUploadBytes))
		return
	}

	cand, err := s.pipeline.Upload(r.Context(), pipeline.UploadParams{
		Name:     req.Name,
		Email:    req.Email,
		FileName: req.FileName,
		FileType: fileType,
		Data:     data,
	})
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	telemetry.UploadsTotal.WithLabelValues(fileType).Inc()
	writeJSON(w, http.StatusAccepted, uploadResponse{
		CandidateID: cand.ID,
		Status:      cand.Status,
		Message:     "resume accepted for processing",
	})
}

type ocrCompletionRequest struct {
	JobRef string `json:"jobRef"`
	Status string `json:"status"`
}

// handleOCRCompletion ingests a text-detection completion notification and
// turns it into a stage task. Delivery is at-least-once; the pipeline
// deduplicates by job reference.
func (s *Server) handleOCRCompletion(w http.ResponseWriter, r *http.Request) {
	var req ocrCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.JobRef == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "jobRef and status are required")
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	task := models.StageTask{
		ID:         uuid.New().String(),
		Kind:       models.TaskOCRResult,
		JobRef:     req.JobRef,
		JobStatus:  strings.ToUpper(req.Status),
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(r.Context(), task, time.Time{}); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": task.ID})
}

func (s *Server) typeAllowed(fileType string) bool {
	for _, t := range s.cfg.AllowedTypes {
		if strings.EqualFold(t, fileType) {
			return true
		}
	}
	return false
}

type candidateResponse struct {
	Candidate models.Candidate `json:"candidate"`
	Analysis  *models.Analysis `json:"analysis,omitempty"`
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cand, err := s.store.GetCandidate(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "candidate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := candidateResponse{Candidate: cand}
	if analysis, err := s.store.GetAnalysis(r.Context(), id); err == nil {
		resp.Analysis = &analysis
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCandidate(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "candidate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	matches, err := s.pipeline.RefreshMatches(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "match computation failed")
		return
	}
	if matches == nil {
		matches = []models.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidateId": id, "matches": matches})
}

type createJobRequest struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Skills       []string `json:"skills"`
	Requirements string   `json:"requirements"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	job := models.JobPosting{
		ID:           uuid.New().String(),
		Title:        req.Title,
		Company:      req.Company,
		Location:     req.Location,
		Skills:       req.Skills,
		Requirements: req.Requirements,
		Status:       models.JobActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJobPosting(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobPostings(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []models.JobPosting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJobPosting(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDLQ returns the dead-letter queue contents.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []models.StageTask{}})
		return
	}
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dlq")
		return
	}
	if items == nil {
		items = []models.StageTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// writeUpstreamError maps reliability-layer failures onto 503 responses with
// a retry hint; everything else is a plain 500.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var unavailable *reliability.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		w.Header().Set("Retry-After", strconv.Itoa(int(unavailable.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable, please retry")
	case errors.Is(err, reliability.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable, please retry")
	default:
		s.log.Error("upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
	}
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return strings.Split(v, ",")[0]
	}
	return r.RemoteAddr
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
