package models

import (
	"time"
)

// CandidateStatus values persisted in Postgres. Status only moves forward
// through the pipeline or diverts to failed; it never regresses.
const (
	StatusUploaded    = "uploaded"
	StatusExtracting  = "extracting"
	StatusExtracted   = "extracted"
	StatusStructuring = "structuring"
	StatusAnalyzed    = "analyzed"
	StatusFailed      = "failed"
)

// Extraction status values carried on the analysis record.
const (
	ExtractionPending   = "pending"
	ExtractionCompleted = "completed"
	ExtractionFailed    = "failed"
)

// Job posting lifecycle states.
const (
	JobActive = "active"
	JobClosed = "closed"
)

// statusRank orders pipeline states so the store can refuse backward moves.
var statusRank = map[string]int{
	StatusUploaded:    0,
	StatusExtracting:  1,
	StatusExtracted:   2,
	StatusStructuring: 3,
	StatusAnalyzed:    4,
}

// CanTransition reports whether a candidate may move from one status to
// another. failed is reachable from anywhere and terminal.
func CanTransition(from, to string) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Candidate tracks one uploaded résumé through the pipeline.
type Candidate struct {
	ID              string     `json:"candidateId"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	FileName        string     `json:"fileName"`
	FileType        string     `json:"fileType"`
	ByteSize        int64      `json:"byteSize"`
	StorageKey      string     `json:"storageKey"`
	Status          string     `json:"status"`
	OCRJobID        *string    `json:"ocrJobId,omitempty"`
	ProcessingError *StageError `json:"processingError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// StageError is the classified failure written onto a candidate when a
// pipeline stage gives up. Never a raw stack trace.
type StageError struct {
	Kind            string `json:"kind"`
	Message         string `json:"message"`
	RetryPossible   bool   `json:"retryPossible"`
	SuggestedAction string `json:"suggestedAction"`
}

// Experience summarizes the work history derived from résumé text.
type Experience struct {
	TotalYears    float64  `json:"totalYears"`
	CurrentRole   string   `json:"currentRole"`
	PreviousRoles []string `json:"previousRoles"`
	Summary       string   `json:"summary"`
}

// Education holds the best-effort degree information found in the text.
type Education struct {
	Degree         string `json:"degree"`
	University     string `json:"university"`
	GraduationYear int    `json:"graduationYear"`
}

// Analysis is the single evolving extraction record per candidate: the
// extraction phase writes the raw text, the structuring phase attaches the
// profile fields onto the same row.
type Analysis struct {
	ID               string     `json:"analysisId"`
	CandidateID      string     `json:"candidateId"`
	ExtractedText    string     `json:"extractedText"`
	ExtractionStatus string     `json:"extractionStatus"`
	Skills           []string   `json:"skills"`
	JobTitles        []string   `json:"jobTitles"`
	Organizations    []string   `json:"organizations"`
	KeyPhrases       []string   `json:"keyPhrases"`
	Experience       Experience `json:"experience"`
	Education        Education  `json:"education"`
	OverallScore     float64    `json:"overallScore"`
	Sentiment        string     `json:"sentiment"`
	// Profiled marks that the structuring phase has written the profile
	// fields, so a zero OverallScore means scored zero, not unscored.
	Profiled  bool      `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobPosting is managed by the jobs collaborator and consumed read-only by
// the matching stage.
type JobPosting struct {
	ID           string    `json:"jobId"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location"`
	Skills       []string  `json:"skills"`
	Requirements string    `json:"requirements"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Match is a scored (candidate, job) pair. Derived data: ranking always
// recomputes, stored rows are display cache only.
type Match struct {
	CandidateID string    `json:"candidateId"`
	JobID       string    `json:"jobId"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Stage task kinds carried on the queue.
const (
	TaskExtract   = "extract"
	TaskStructure = "structure"
	TaskOCRResult = "ocr_result"
)

// StageTask is the unit of work the worker leases from the queue. Exactly
// one of CandidateID or JobRef is meaningful depending on Kind; OCR
// completion tasks carry the job reference and terminal status reported by
// the text-detection service.
type StageTask struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	CandidateID string    `json:"candidateId,omitempty"`
	JobRef      string    `json:"jobRef,omitempty"`
	JobStatus   string    `json:"jobStatus,omitempty"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}
