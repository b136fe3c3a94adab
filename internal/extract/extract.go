// Package extract turns uploaded résumé documents into raw text. Plain text
// and word-processor formats extract synchronously; PDFs go through the
// asynchronous OCR path and complete later via a queue message.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"resume-pipeline/internal/extracterr"
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
)

// NeedsOCR reports whether a file type requires the asynchronous OCR path.
func NeedsOCR(fileType string) bool {
	return strings.EqualFold(fileType, "pdf")
}

// Text synchronously extracts text from a txt, docx, or doc document. All
// failures come back as classified *extracterr.Error values.
func Text(fileType string, data []byte) (string, error) {
	switch strings.ToLower(fileType) {
	case "txt":
		if !utf8.Valid(data) {
			return "", extracterr.WithKind(extracterr.DocumentCorrupted, "text file is not valid utf-8")
		}
		return checkNonEmpty(string(data))
	case "docx":
		return convert(data, mimeDOCX, fileType)
	case "doc":
		return convert(data, mimeDOC, fileType)
	default:
		return "", extracterr.WithKind(extracterr.UnsupportedFormat, fmt.Sprintf("no synchronous extractor for file type %q", fileType))
	}
}

func convert(data []byte, mimeType, fileType string) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mimeType, true)
	if err != nil {
		return "", parseFailure(fileType, err)
	}
	return checkNonEmpty(res.Body)
}

// parseFailure classifies a parser error by its message, so a
// password-protected file reports as encrypted rather than corrupted. Parser
// errors never concern the OCR job family; anything the classifier does not
// recognize as a document condition is a damaged file.
func parseFailure(fileType string, err error) *extracterr.Error {
	msg := fmt.Sprintf("parse %s document: %v", fileType, err)
	switch kind := extracterr.Classify(msg); kind {
	case extracterr.DocumentEncrypted, extracterr.DocumentTooLarge, extracterr.UnsupportedFormat, extracterr.EmptyDocument:
		return extracterr.WithKind(kind, msg)
	default:
		return extracterr.WithKind(extracterr.DocumentCorrupted, msg)
	}
}

func checkNonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", extracterr.WithKind(extracterr.EmptyDocument, "document contains no text")
	}
	return text, nil
}
