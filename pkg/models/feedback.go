package models

import (
	"fmt"
	"strings"
)

// FeedbackLabel is the explicit feedback a user gave a venue.
type FeedbackLabel string

const (
	// FeedbackUp represents a thumbs up.
	FeedbackUp FeedbackLabel = "up"
	// FeedbackDown represents a thumbs down.
	FeedbackDown FeedbackLabel = "down"
	// FeedbackNone represents no explicit feedback.
	FeedbackNone FeedbackLabel = "none"
)

// ParseFeedbackLabel validates a raw label. Surrounding whitespace and case are ignored.
func ParseFeedbackLabel(raw string) (FeedbackLabel, error) {
	switch label := FeedbackLabel(strings.ToLower(strings.TrimSpace(raw))); label {
	case FeedbackUp, FeedbackDown, FeedbackNone:
		return label, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFeedback, raw)
	}
}

// Valid reports whether the label is one of up, down or none.
func (l FeedbackLabel) Valid() bool {
	return l == FeedbackUp || l == FeedbackDown || l == FeedbackNone
}

// Explicit reports whether the label carries a user judgement.
// An empty label is treated as none.
func (l FeedbackLabel) Explicit() bool {
	return l == FeedbackUp || l == FeedbackDown
}

// Sign returns +1 for up, -1 for down and 0 otherwise.
func (l FeedbackLabel) Sign() float64 {
	switch l {
	case FeedbackUp:
		return 1
	case FeedbackDown:
		return -1
	default:
		return 0
	}
}
