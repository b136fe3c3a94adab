// Package extracterr classifies raw text-extraction failures into a closed
// taxonomy with user-facing remediation metadata. Classification is pure
// keyword matching; logging and persistence are layered on top by callers.
package extracterr

import (
	"fmt"
	"strings"
)

// Kind is one member of the closed error taxonomy.
type Kind string

const (
	JobFailed         Kind = "JOB_FAILED"
	JobTimeout        Kind = "JOB_TIMEOUT"
	JobInvalid        Kind = "JOB_INVALID"
	ServiceError      Kind = "SERVICE_ERROR"
	DocumentCorrupted Kind = "DOCUMENT_CORRUPTED"
	DocumentEncrypted Kind = "DOCUMENT_ENCRYPTED"
	DocumentTooLarge  Kind = "DOCUMENT_TOO_LARGE"
	UnsupportedFormat Kind = "UNSUPPORTED_FORMAT"
	NetworkError      Kind = "NETWORK_ERROR"
	PermissionDenied  Kind = "PERMISSION_DENIED"
	ProcessingTimeout Kind = "PROCESSING_TIMEOUT"
	EmptyDocument     Kind = "EMPTY_DOCUMENT"
	Unknown           Kind = "UNKNOWN"
)

// Kinds lists every member of the taxonomy.
var Kinds = []Kind{
	JobFailed, JobTimeout, JobInvalid, ServiceError,
	DocumentCorrupted, DocumentEncrypted, DocumentTooLarge,
	UnsupportedFormat, NetworkError, PermissionDenied,
	ProcessingTimeout, EmptyDocument, Unknown,
}

// Policy is the static remediation record attached to each kind.
type Policy struct {
	UserMessage     string
	SuggestedAction string
	Retryable       bool
}

// policies is total over Kinds; messages ported from the production error
// handler so the UI copy stays stable.
var policies = map[Kind]Policy{
	JobFailed: {
		UserMessage:     "Text extraction failed due to document processing issues.",
		SuggestedAction: "Try uploading a different version of the document or convert it to a different format.",
		Retryable:       true,
	},
	JobTimeout: {
		UserMessage:     "Text extraction timed out. The document may be too large or complex.",
		SuggestedAction: "Try uploading a smaller document or split large documents into smaller sections.",
		Retryable:       true,
	},
	JobInvalid: {
		UserMessage:     "Text extraction job expired or was invalid.",
		SuggestedAction: "Please upload the document again to restart the extraction process.",
		Retryable:       true,
	},
	ServiceError: {
		UserMessage:     "The text detection service is temporarily unavailable.",
		SuggestedAction: "This is usually temporary. Please try again in a few minutes.",
		Retryable:       true,
	},
	DocumentCorrupted: {
		UserMessage:     "The document appears to be corrupted or damaged.",
		SuggestedAction: "Try opening the document in its native application and re-saving it, then upload again.",
		Retryable:       false,
	},
	DocumentEncrypted: {
		UserMessage:     "The document is password-protected or encrypted.",
		SuggestedAction: "Remove password protection from the document and upload again.",
		Retryable:       false,
	},
	DocumentTooLarge: {
		UserMessage:     "The document is too large for processing.",
		SuggestedAction: "Please use a document smaller than 10MB or compress the file.",
		Retryable:       false,
	},
	UnsupportedFormat: {
		UserMessage:     "The document format is not supported.",
		SuggestedAction: "Please use PDF, DOCX, or TXT format.",
		Retryable:       false,
	},
	NetworkError: {
		UserMessage:     "Network connection error occurred during processing.",
		SuggestedAction: "Check your internet connection and try again.",
		Retryable:       true,
	},
	PermissionDenied: {
		UserMessage:     "Access denied while processing the document.",
		SuggestedAction: "Ensure the document is not restricted and try again.",
		Retryable:       true,
	},
	ProcessingTimeout: {
		UserMessage:     "Document processing timed out.",
		SuggestedAction: "Try uploading a smaller or simpler document.",
		Retryable:       true,
	},
	EmptyDocument: {
		UserMessage:     "No text content was found in the document.",
		SuggestedAction: "Ensure the document contains selectable text, not just images or scanned content.",
		Retryable:       false,
	},
	Unknown: {
		UserMessage:     "An unexpected error occurred during text extraction.",
		SuggestedAction: "Please try again or contact support if the problem persists.",
		Retryable:       true,
	},
}

// PolicyFor returns the remediation record for a kind. The mapping is total;
// an unrecognized kind falls back to the Unknown policy.
func PolicyFor(k Kind) Policy {
	if p, ok := policies[k]; ok {
		return p
	}
	return policies[Unknown]
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Classify maps a raw error message to a Kind. Keyword families are checked
// in fixed priority order: OCR-job words first, then document conditions,
// then network and permission words. First match wins.
func Classify(message string) Kind {
	if message == "" {
		return Unknown
	}
	lower := strings.ToLower(message)

	if containsAny(lower, "textract", "text detection", "ocr", "job") {
		switch {
		case containsAny(lower, "invalid", "expired"):
			return JobInvalid
		case containsAny(lower, "timeout", "timed out"):
			return JobTimeout
		case strings.Contains(lower, "failed"):
			return JobFailed
		default:
			return ServiceError
		}
	}

	if containsAny(lower, "corrupt", "damaged", "invalid format") {
		return DocumentCorrupted
	}
	if containsAny(lower, "password", "encrypted", "protected") {
		return DocumentEncrypted
	}
	if containsAny(lower, "too large", "size limit", "file size") {
		return DocumentTooLarge
	}
	if containsAny(lower, "unsupported", "format not supported") {
		return UnsupportedFormat
	}
	if containsAny(lower, "empty", "no text") {
		return EmptyDocument
	}

	if containsAny(lower, "network", "connection", "timeout") {
		if containsAny(lower, "timeout", "timed out") {
			return ProcessingTimeout
		}
		return NetworkError
	}
	if containsAny(lower, "permission", "access denied", "forbidden") {
		return PermissionDenied
	}

	return Unknown
}

// Error is a classified extraction failure. It satisfies the error interface
// so it can travel through retry and breaker layers unchanged.
type Error struct {
	Kind             Kind
	TechnicalDetails string
	policy           Policy
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.TechnicalDetails)
}

// UserMessage returns the user-facing description for this failure.
func (e *Error) UserMessage() string { return e.policy.UserMessage }

// SuggestedAction returns the remediation hint for this failure.
func (e *Error) SuggestedAction() string { return e.policy.SuggestedAction }

// Retryable reports whether re-running the operation could succeed.
func (e *Error) Retryable() bool { return e.policy.Retryable }

// New builds a classified Error from a raw message.
func New(message string) *Error {
	kind := Classify(message)
	return &Error{Kind: kind, TechnicalDetails: message, policy: PolicyFor(kind)}
}

// WithKind builds an Error for an already-known kind, keeping the raw
// message as technical detail.
func WithKind(kind Kind, message string) *Error {
	return &Error{Kind: kind, TechnicalDetails: message, policy: PolicyFor(kind)}
}

// FromJobStatus classifies a terminal text-detection job report. FAILED jobs
// classify through the status message; anything else unexpected is a service
// error.
func FromJobStatus(status, statusMessage string) *Error {
	if statusMessage == "" {
		statusMessage = "no details available"
	}
	if strings.EqualFold(status, "FAILED") {
		return New(fmt.Sprintf("text detection job failed: %s", statusMessage))
	}
	return New(fmt.Sprintf("unexpected text detection job status %s: %s", status, statusMessage))
}
