package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/extracterr"
)

func kindOf(t *testing.T, err error) extracterr.Kind {
	t.Helper()
	var xerr *extracterr.Error
	require.ErrorAs(t, err, &xerr)
	return xerr.Kind
}

func TestTextPlainText(t *testing.T) {
	text, err := Text("txt", []byte("Senior Software Engineer with 5 years experience"))
	require.NoError(t, err)
	assert.Equal(t, "Senior Software Engineer with 5 years experience", text)
}

func TestTextInvalidUTF8IsCorrupted(t *testing.T) {
	_, err := Text("txt", []byte{0xff, 0xfe, 0xfd})
	assert.Equal(t, extracterr.DocumentCorrupted, kindOf(t, err))

	var xerr *extracterr.Error
	require.ErrorAs(t, err, &xerr)
	assert.False(t, xerr.Retryable())
}

func TestTextEmptyDocument(t *testing.T) {
	_, err := Text("txt", []byte("   \n\t "))
	assert.Equal(t, extracterr.EmptyDocument, kindOf(t, err))
}

func TestTextCorruptedDocx(t *testing.T) {
	_, err := Text("docx", []byte("this is not a zip archive"))
	assert.Equal(t, extracterr.DocumentCorrupted, kindOf(t, err))
}

func TestParseFailureClassification(t *testing.T) {
	cases := []struct {
		name   string
		parser string
		kind   extracterr.Kind
	}{
		{"encrypted docx", "file is password protected", extracterr.DocumentEncrypted},
		{"encrypted doc", "document is encrypted", extracterr.DocumentEncrypted},
		{"corrupt archive", "zip: not a valid zip file", extracterr.DocumentCorrupted},
		{"explicit corruption", "stream is corrupt", extracterr.DocumentCorrupted},
		{"unrecognized message", "unexpected EOF", extracterr.DocumentCorrupted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parseFailure("docx", errors.New(tc.parser))
			assert.Equal(t, tc.kind, err.Kind)
			assert.False(t, err.Retryable())
		})
	}
}

func TestTextUnsupportedType(t *testing.T) {
	_, err := Text("png", []byte("data"))
	assert.Equal(t, extracterr.UnsupportedFormat, kindOf(t, err))
}

func TestNeedsOCR(t *testing.T) {
	assert.True(t, NeedsOCR("pdf"))
	assert.True(t, NeedsOCR("PDF"))
	assert.False(t, NeedsOCR("docx"))
	assert.False(t, NeedsOCR("txt"))
}
