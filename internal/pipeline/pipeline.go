// Package pipeline orchestrates the résumé processing stages: upload,
// extraction, structuring, and match refresh. State is persisted before any
// follow-on work is triggered, so a crash between the two leaves a resumable
// candidate, never a lost one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resume-pipeline/internal/analyze"
	"resume-pipeline/internal/extract"
	"resume-pipeline/internal/extracterr"
	"resume-pipeline/internal/match"
	"resume-pipeline/internal/models"
	"resume-pipeline/internal/ocr"
	"resume-pipeline/internal/reliability"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/store"
)

// Breaker names for the external dependencies the pipeline calls.
const (
	DepStorage = "object-storage"
	DepOCR     = "text-detection"
)

// Store is the persistence surface the pipeline needs. Lookup methods return
// an error matching store.ErrNotFound for missing rows.
type Store interface {
	CreateCandidate(ctx context.Context, c models.Candidate) error
	GetCandidate(ctx context.Context, id string) (models.Candidate, error)
	GetCandidateByOCRJob(ctx context.Context, jobRef string) (models.Candidate, error)
	TransitionCandidate(ctx context.Context, id, to string) (bool, error)
	SetCandidateOCRJob(ctx context.Context, id, jobRef string) error
	MarkCandidateFailed(ctx context.Context, id string, se models.StageError) error
	UpsertAnalysisText(ctx context.Context, candidateID, text, extractionStatus string) error
	UpdateAnalysisProfile(ctx context.Context, a models.Analysis) error
	GetAnalysis(ctx context.Context, candidateID string) (models.Analysis, error)
	ListJobPostings(ctx context.Context, status string) ([]models.JobPosting, error)
	ReplaceMatches(ctx context.Context, candidateID string, matches []models.Match) error
	ListMatches(ctx context.Context, candidateID string) ([]models.Match, error)
}

// Queue enqueues follow-on stage tasks.
type Queue interface {
	Enqueue(ctx context.Context, task models.StageTask, runAt time.Time) error
}

// Pipeline wires the stages onto their dependencies.
type Pipeline struct {
	store    Store
	queue    Queue
	objects  storage.ObjectStore
	ocr      ocr.Client
	bucket   string
	breakers *reliability.Registry
	retry    *reliability.Executor
	log      *zap.Logger
}

// New builds the pipeline. The OCR client may be nil when no asynchronous
// backend is configured; PDF uploads then fail with a classified error.
func New(store Store, queue Queue, objects storage.ObjectStore, ocrClient ocr.Client, bucket string, breakers *reliability.Registry, retry *reliability.Executor, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if breakers == nil {
		breakers = reliability.NewRegistry()
	}
	if retry == nil {
		retry = reliability.NewExecutor(reliability.DefaultRetryPolicy(), log)
	}
	return &Pipeline{
		store:    store,
		queue:    queue,
		objects:  objects,
		ocr:      ocrClient,
		bucket:   bucket,
		breakers: breakers,
		retry:    retry,
		log:      log.Named("pipeline"),
	}
}

// UploadParams collects inputs for accepting a new résumé.
type UploadParams struct {
	Name     string
	Email    string
	FileName string
	FileType string
	Data     []byte
}

// Upload stores the document, creates the candidate row, and enqueues the
// extraction stage. The candidate is durable before the task exists.
func (p *Pipeline) Upload(ctx context.Context, params UploadParams) (models.Candidate, error) {
	id := uuid.New().String()
	fileName := path.Base(params.FileName)
	key := storage.SanitizeKey(fmt.Sprintf("resumes/%s/%s", id, fileName))

	err := p.breakers.Do(DepStorage, func() error {
		return p.retry.Do(ctx, "store resume", func(ctx context.Context) error {
			_, err := p.objects.Put(ctx, key, params.Data, contentTypeFor(params.FileType))
			return err
		})
	})
	if err != nil {
		return models.Candidate{}, fmt.Errorf("store resume: %w", err)
	}

	now := time.Now().UTC()
	cand := models.Candidate{
		ID:         id,
		Name:       params.Name,
		Email:      params.Email,
		FileName:   fileName,
		FileType:   strings.ToLower(params.FileType),
		ByteSize:   int64(len(params.Data)),
		StorageKey: key,
		Status:     models.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.CreateCandidate(ctx, cand); err != nil {
		return models.Candidate{}, err
	}

	task := models.StageTask{
		ID:          uuid.New().String(),
		Kind:        models.TaskExtract,
		CandidateID: id,
		EnqueuedAt:  now,
	}
	if err := p.queue.Enqueue(ctx, task, time.Time{}); err != nil {
		return models.Candidate{}, fmt.Errorf("enqueue extract: %w", err)
	}

	p.log.Info("resume accepted",
		zap.String("candidate_id", id),
		zap.String("file_type", cand.FileType),
		zap.Int64("bytes", cand.ByteSize))
	return cand, nil
}

// HandleTask dispatches one leased stage task. A nil return means the task is
// finished (including permanent, recorded failures); an error return asks the
// worker to retry or dead-letter.
func (p *Pipeline) HandleTask(ctx context.Context, task models.StageTask) error {
	switch task.Kind {
	case models.TaskExtract:
		return p.handleExtract(ctx, task)
	case models.TaskStructure:
		return p.handleStructure(ctx, task)
	case models.TaskOCRResult:
		return p.handleOCRResult(ctx, task)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func (p *Pipeline) handleExtract(ctx context.Context, task models.StageTask) error {
	cand, err := p.store.GetCandidate(ctx, task.CandidateID)
	if err != nil {
		if isNotFound(err) {
			p.log.Warn("extract task for unknown candidate", zap.String("candidate_id", task.CandidateID))
			return nil
		}
		return err
	}

	ok, err := p.store.TransitionCandidate(ctx, cand.ID, models.StatusExtracting)
	if err != nil {
		return err
	}
	if !ok && cand.Status != models.StatusExtracting {
		// Already past extraction (or failed); duplicate delivery.
		return nil
	}
	if cand.OCRJobID != nil {
		// Redelivered after a successful submission; the completion message
		// will advance the candidate.
		return nil
	}

	if extract.NeedsOCR(cand.FileType) {
		// The OCR backend reads the document from storage itself.
		return p.submitOCR(ctx, cand)
	}

	var data []byte
	err = p.breakers.Do(DepStorage, func() error {
		return p.retry.Do(ctx, "fetch resume", func(ctx context.Context) error {
			var err error
			data, err = p.objects.Get(ctx, cand.StorageKey)
			return err
		})
	})
	if err != nil {
		return p.failOrRetry(ctx, cand.ID, err)
	}

	text, err := extract.Text(cand.FileType, data)
	if err != nil {
		return p.failOrRetry(ctx, cand.ID, err)
	}
	return p.completeExtraction(ctx, cand.ID, text)
}

func (p *Pipeline) submitOCR(ctx context.Context, cand models.Candidate) error {
	if p.ocr == nil {
		return p.fail(ctx, cand.ID, extracterr.WithKind(extracterr.ServiceError, "no text detection backend configured"))
	}
	var jobRef string
	err := p.breakers.Do(DepOCR, func() error {
		return p.retry.Do(ctx, "submit text detection", func(ctx context.Context) error {
			var err error
			jobRef, err = p.ocr.SubmitTextDetection(ctx, p.bucket, cand.StorageKey)
			return err
		})
	})
	if err != nil {
		return p.failOrRetry(ctx, cand.ID, err)
	}
	if err := p.store.SetCandidateOCRJob(ctx, cand.ID, jobRef); err != nil {
		return err
	}
	p.log.Info("text detection submitted",
		zap.String("candidate_id", cand.ID),
		zap.String("job_ref", jobRef))
	return nil
}

func (p *Pipeline) handleOCRResult(ctx context.Context, task models.StageTask) error {
	cand, err := p.store.GetCandidateByOCRJob(ctx, task.JobRef)
	if err != nil {
		if isNotFound(err) {
			p.log.Warn("completion for unknown text detection job", zap.String("job_ref", task.JobRef))
			return nil
		}
		return err
	}

	if cand.Status != models.StatusUploaded && cand.Status != models.StatusExtracting {
		// Duplicate completion; the first delivery already advanced the
		// candidate.
		p.log.Info("duplicate text detection completion ignored",
			zap.String("candidate_id", cand.ID),
			zap.String("job_ref", task.JobRef))
		return nil
	}

	if task.JobStatus != ocr.StatusSucceeded {
		return p.fail(ctx, cand.ID, extracterr.FromJobStatus(task.JobStatus, ""))
	}

	var res ocr.Result
	err = p.breakers.Do(DepOCR, func() error {
		return p.retry.Do(ctx, "fetch text detection result", func(ctx context.Context) error {
			var err error
			res, err = p.ocr.GetTextDetectionResult(ctx, task.JobRef)
			return err
		})
	})
	if err != nil {
		return p.failOrRetry(ctx, cand.ID, err)
	}
	if res.Status != ocr.StatusSucceeded {
		return p.fail(ctx, cand.ID, extracterr.FromJobStatus(res.Status, res.StatusMessage))
	}

	text := strings.TrimSpace(strings.Join(res.Lines, "\n"))
	if text == "" {
		return p.fail(ctx, cand.ID, extracterr.WithKind(extracterr.EmptyDocument, "text detection returned no lines"))
	}
	return p.completeExtraction(ctx, cand.ID, text)
}

// completeExtraction persists the text, advances the candidate, and enqueues
// structuring. Refused transitions mean a concurrent duplicate already won;
// the loser skips the enqueue so the structure stage runs once.
func (p *Pipeline) completeExtraction(ctx context.Context, candidateID, text string) error {
	if err := p.store.UpsertAnalysisText(ctx, candidateID, text, models.ExtractionCompleted); err != nil {
		return err
	}
	ok, err := p.store.TransitionCandidate(ctx, candidateID, models.StatusExtracted)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	task := models.StageTask{
		ID:          uuid.New().String(),
		Kind:        models.TaskStructure,
		CandidateID: candidateID,
		EnqueuedAt:  time.Now().UTC(),
	}
	return p.queue.Enqueue(ctx, task, time.Time{})
}

func (p *Pipeline) handleStructure(ctx context.Context, task models.StageTask) error {
	cand, err := p.store.GetCandidate(ctx, task.CandidateID)
	if err != nil {
		if isNotFound(err) {
			p.log.Warn("structure task for unknown candidate", zap.String("candidate_id", task.CandidateID))
			return nil
		}
		return err
	}
	if cand.Status == models.StatusAnalyzed || cand.Status == models.StatusFailed {
		return nil
	}

	analysis, err := p.store.GetAnalysis(ctx, cand.ID)
	if err != nil {
		return err
	}

	if _, err := p.store.TransitionCandidate(ctx, cand.ID, models.StatusStructuring); err != nil {
		return err
	}

	profile := analyze.Extract(analysis.ExtractedText)
	analysis.Skills = profile.Skills
	analysis.JobTitles = profile.JobTitles
	analysis.Organizations = profile.Organizations
	analysis.KeyPhrases = profile.KeyPhrases
	analysis.Experience = profile.Experience
	analysis.Education = profile.Education
	analysis.OverallScore = profile.OverallScore
	analysis.Sentiment = profile.Sentiment
	analysis.Profiled = true
	if err := p.store.UpdateAnalysisProfile(ctx, analysis); err != nil {
		return err
	}

	if _, err := p.RefreshMatches(ctx, cand.ID); err != nil {
		// Matching is derived data; a failed refresh must not fail the
		// candidate. The next read recomputes.
		p.log.Warn("match refresh failed", zap.String("candidate_id", cand.ID), zap.Error(err))
	}

	if _, err := p.store.TransitionCandidate(ctx, cand.ID, models.StatusAnalyzed); err != nil {
		return err
	}
	p.log.Info("candidate analyzed",
		zap.String("candidate_id", cand.ID),
		zap.Float64("overall_score", profile.OverallScore))
	return nil
}

// RefreshMatches recomputes the candidate's ranking against every active
// posting and replaces the cached rows.
func (p *Pipeline) RefreshMatches(ctx context.Context, candidateID string) ([]models.Match, error) {
	var analysisPtr *models.Analysis
	analysis, err := p.store.GetAnalysis(ctx, candidateID)
	if err == nil {
		analysisPtr = &analysis
	} else if !isNotFound(err) {
		return nil, err
	}

	jobs, err := p.store.ListJobPostings(ctx, models.JobActive)
	if err != nil {
		return nil, err
	}
	matches := match.AllJobs(analysisPtr, candidateID, jobs)
	if err := p.store.ReplaceMatches(ctx, candidateID, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// Abandon records a permanent failure for a task the worker has given up on,
// so the candidate surfaces a classified error instead of hanging mid-stage.
func (p *Pipeline) Abandon(ctx context.Context, task models.StageTask, err error) error {
	candidateID := task.CandidateID
	if candidateID == "" && task.JobRef != "" {
		cand, lookupErr := p.store.GetCandidateByOCRJob(ctx, task.JobRef)
		if lookupErr != nil {
			if isNotFound(lookupErr) {
				return nil
			}
			return lookupErr
		}
		candidateID = cand.ID
	}
	if candidateID == "" {
		return nil
	}
	return p.fail(ctx, candidateID, err)
}

// fail records a permanent classified failure and finishes the task.
func (p *Pipeline) fail(ctx context.Context, candidateID string, err error) error {
	se := stageError(err)
	if markErr := p.store.MarkCandidateFailed(ctx, candidateID, se); markErr != nil {
		return markErr
	}
	p.log.Warn("candidate failed",
		zap.String("candidate_id", candidateID),
		zap.String("kind", se.Kind),
		zap.Error(err))
	return nil
}

// failOrRetry records non-retryable failures permanently and surfaces
// retryable ones to the worker for backoff.
func (p *Pipeline) failOrRetry(ctx context.Context, candidateID string, err error) error {
	se := stageError(err)
	if se.RetryPossible && !isTerminal(err) {
		return err
	}
	return p.fail(ctx, candidateID, err)
}

// isTerminal reports whether the reliability layer already exhausted its
// retries, making the failure permanent regardless of kind.
func isTerminal(err error) bool {
	var unavailable *reliability.UnavailableError
	return errors.As(err, &unavailable) || errors.Is(err, reliability.ErrBudgetExceeded)
}

func stageError(err error) models.StageError {
	var ce *extracterr.Error
	if errors.As(err, &ce) {
		return models.StageError{
			Kind:            string(ce.Kind),
			Message:         ce.UserMessage(),
			RetryPossible:   ce.Retryable(),
			SuggestedAction: ce.SuggestedAction(),
		}
	}
	kind := extracterr.Classify(err.Error())
	policy := extracterr.PolicyFor(kind)
	return models.StageError{
		Kind:            string(kind),
		Message:         policy.UserMessage,
		RetryPossible:   policy.Retryable,
		SuggestedAction: policy.SuggestedAction,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func contentTypeFor(fileType string) string {
	switch strings.ToLower(fileType) {
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "doc":
		return "application/msword"
	case "txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
