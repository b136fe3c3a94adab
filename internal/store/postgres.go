package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"resume-pipeline/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// profileDoc is the JSONB shape of the structured profile on an analysis row.
type profileDoc struct {
	Skills        []string          `json:"skills"`
	JobTitles     []string          `json:"jobTitles"`
	Organizations []string          `json:"organizations"`
	KeyPhrases    []string          `json:"keyPhrases"`
	Experience    models.Experience `json:"experience"`
	Education     models.Education  `json:"education"`
	OverallScore  float64           `json:"overallScore"`
	Sentiment     string            `json:"sentiment"`
}

// CreateCandidate inserts a new candidate row in the uploaded state.
func (s *Store) CreateCandidate(ctx context.Context, c models.Candidate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO candidates (id, name, email, file_name, file_type, byte_size, storage_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, c.ID, c.Name, c.Email, c.FileName, c.FileType, c.ByteSize, c.StorageKey, c.Status, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// GetCandidate fetches a candidate by id.
func (s *Store) GetCandidate(ctx context.Context, id string) (models.Candidate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, file_name, file_type, byte_size, storage_key, status, ocr_job_id, error, created_at, updated_at
		FROM candidates WHERE id = $1
	`, id)
	return scanCandidate(row)
}

// GetCandidateByOCRJob resolves the candidate that owns an OCR job reference.
func (s *Store) GetCandidateByOCRJob(ctx context.Context, jobRef string) (models.Candidate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, file_name, file_type, byte_size, storage_key, status, ocr_job_id, error, created_at, updated_at
		FROM candidates WHERE ocr_job_id = $1
	`, jobRef)
	return scanCandidate(row)
}

func scanCandidate(row pgx.Row) (models.Candidate, error) {
	var c models.Candidate
	var ocrJob pgtype.Text
	var errJSON []byte
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.FileName, &c.FileType, &c.ByteSize, &c.StorageKey, &c.Status, &ocrJob, &errJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Candidate{}, ErrNotFound
	}
	if err != nil {
		return models.Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	if ocrJob.Valid {
		c.OCRJobID = &ocrJob.String
	}
	if len(errJSON) > 0 {
		var se models.StageError
		if err := json.Unmarshal(errJSON, &se); err != nil {
			return models.Candidate{}, fmt.Errorf("unmarshal candidate error: %w", err)
		}
		c.ProcessingError = &se
	}
	return c, nil
}

// TransitionCandidate moves a candidate to a new status, enforcing the
// forward-only state machine. It reports whether the transition applied; a
// refused transition is not an error so duplicate stage completions stay
// harmless.
func (s *Store) TransitionCandidate(ctx context.Context, id, to string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM candidates WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock candidate: %w", err)
	}

	if !models.CanTransition(current, to) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE candidates SET status = $2, updated_at = NOW() WHERE id = $1`, id, to); err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// SetCandidateOCRJob records the submitted OCR job reference.
func (s *Store) SetCandidateOCRJob(ctx context.Context, id, jobRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE candidates SET ocr_job_id = $2, updated_at = NOW() WHERE id = $1
	`, id, jobRef)
	if err != nil {
		return fmt.Errorf("set ocr job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCandidateFailed diverts a candidate to the failed state and records the
// classified error. Already-failed candidates keep their first error.
func (s *Store) MarkCandidateFailed(ctx context.Context, id string, se models.StageError) error {
	errJSON, err := json.Marshal(se)
	if err != nil {
		return fmt.Errorf("marshal stage error: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE candidates SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, models.StatusFailed, errJSON)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UpsertAnalysisText writes the extraction output, creating the analysis row
// on first write and updating it on repeats. One row per candidate.
func (s *Store) UpsertAnalysisText(ctx context.Context, candidateID, text, extractionStatus string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (id, candidate_id, extracted_text, extraction_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (candidate_id) DO UPDATE
		SET extracted_text = EXCLUDED.extracted_text,
		    extraction_status = EXCLUDED.extraction_status,
		    updated_at = EXCLUDED.updated_at
	`, uuid.New().String(), candidateID, text, extractionStatus, now)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

// UpdateAnalysisProfile attaches the structured profile onto the candidate's
// existing analysis row.
func (s *Store) UpdateAnalysisProfile(ctx context.Context, a models.Analysis) error {
	doc := profileDoc{
		Skills:        a.Skills,
		JobTitles:     a.JobTitles,
		Organizations: a.Organizations,
		KeyPhrases:    a.KeyPhrases,
		Experience:    a.Experience,
		Education:     a.Education,
		OverallScore:  a.OverallScore,
		Sentiment:     a.Sentiment,
	}
	profileJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE analyses SET profile = $2, updated_at = NOW() WHERE candidate_id = $1
	`, a.CandidateID, profileJSON)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAnalysis fetches the analysis row for a candidate.
func (s *Store) GetAnalysis(ctx context.Context, candidateID string) (models.Analysis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, candidate_id, extracted_text, extraction_status, profile, created_at, updated_at
		FROM analyses WHERE candidate_id = $1
	`, candidateID)

	var a models.Analysis
	var profileJSON []byte
	err := row.Scan(&a.ID, &a.CandidateID, &a.ExtractedText, &a.ExtractionStatus, &profileJSON, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Analysis{}, ErrNotFound
	}
	if err != nil {
		return models.Analysis{}, fmt.Errorf("scan analysis: %w", err)
	}
	if len(profileJSON) > 0 {
		var doc profileDoc
		if err := json.Unmarshal(profileJSON, &doc); err != nil {
			return models.Analysis{}, fmt.Errorf("unmarshal profile: %w", err)
		}
		a.Skills = doc.Skills
		a.JobTitles = doc.JobTitles
		a.Organizations = doc.Organizations
		a.KeyPhrases = doc.KeyPhrases
		a.Experience = doc.Experience
		a.Education = doc.Education
		a.OverallScore = doc.OverallScore
		a.Sentiment = doc.Sentiment
		a.Profiled = true
	}
	return a, nil
}

// CreateJobPosting inserts a posting.
func (s *Store) CreateJobPosting(ctx context.Context, j models.JobPosting) error {
	skillsJSON, err := json.Marshal(j.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_postings (id, title, company, location, skills, requirements, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, j.ID, j.Title, j.Company, j.Location, skillsJSON, j.Requirements, j.Status, j.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job posting: %w", err)
	}
	return nil
}

// GetJobPosting fetches a posting by id.
func (s *Store) GetJobPosting(ctx context.Context, id string) (models.JobPosting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, company, location, skills, requirements, status, created_at
		FROM job_postings WHERE id = $1
	`, id)
	return scanJobPosting(row)
}

// ListJobPostings returns postings, optionally filtered by status, newest
// first.
func (s *Store) ListJobPostings(ctx context.Context, status string) ([]models.JobPosting, error) {
	query := `
		SELECT id, title, company, location, skills, requirements, status, created_at
		FROM job_postings`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job postings: %w", err)
	}
	defer rows.Close()

	var jobs []models.JobPosting
	for rows.Next() {
		j, err := scanJobPosting(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJobPosting(row pgx.Row) (models.JobPosting, error) {
	var j models.JobPosting
	var skillsJSON []byte
	err := row.Scan(&j.ID, &j.Title, &j.Company, &j.Location, &skillsJSON, &j.Requirements, &j.Status, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobPosting{}, ErrNotFound
	}
	if err != nil {
		return models.JobPosting{}, fmt.Errorf("scan job posting: %w", err)
	}
	if err := json.Unmarshal(skillsJSON, &j.Skills); err != nil {
		return models.JobPosting{}, fmt.Errorf("unmarshal skills: %w", err)
	}
	return j, nil
}

// ReplaceMatches swaps out the cached match rows for a candidate. Stored
// matches are display cache only; ranking always recomputes from scratch.
func (s *Store) ReplaceMatches(ctx context.Context, candidateID string, matches []models.Match) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM matches WHERE candidate_id = $1`, candidateID); err != nil {
		return fmt.Errorf("clear matches: %w", err)
	}
	now := time.Now().UTC()
	for _, m := range matches {
		if _, err := tx.Exec(ctx, `
			INSERT INTO matches (candidate_id, job_id, score, created_at)
			VALUES ($1, $2, $3, $4)
		`, candidateID, m.JobID, m.Score, now); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// ListMatches returns the cached matches for a candidate, best first.
func (s *Store) ListMatches(ctx context.Context, candidateID string) ([]models.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT candidate_id, job_id, score, created_at
		FROM matches WHERE candidate_id = $1
		ORDER BY score DESC, job_id
	`, candidateID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.CandidateID, &m.JobID, &m.Score, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
