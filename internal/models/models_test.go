package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	assert.True(t, CanTransition(StatusUploaded, StatusExtracting))
	assert.True(t, CanTransition(StatusExtracting, StatusExtracted))
	assert.True(t, CanTransition(StatusExtracted, StatusStructuring))
	assert.True(t, CanTransition(StatusStructuring, StatusAnalyzed))

	// Skipping ahead is allowed; going back never is.
	assert.True(t, CanTransition(StatusUploaded, StatusAnalyzed))
	assert.False(t, CanTransition(StatusAnalyzed, StatusUploaded))
	assert.False(t, CanTransition(StatusExtracted, StatusExtracting))
	assert.False(t, CanTransition(StatusExtracting, StatusExtracting))
}

func TestFailedIsTerminalButReachable(t *testing.T) {
	for _, from := range []string{StatusUploaded, StatusExtracting, StatusExtracted, StatusStructuring, StatusAnalyzed} {
		assert.True(t, CanTransition(from, StatusFailed), "from=%s", from)
	}
	assert.False(t, CanTransition(StatusFailed, StatusExtracting))
	assert.False(t, CanTransition(StatusFailed, StatusFailed))
}

func TestCanTransitionUnknownStates(t *testing.T) {
	assert.False(t, CanTransition("bogus", StatusAnalyzed))
	assert.False(t, CanTransition(StatusUploaded, "bogus"))
}
