package game

import (
	"errors"
	"strings"
)

var (
	// ErrNoPendingQuestion is returned by SubmitAnswer when no question is
	// outstanding.
	ErrNoPendingQuestion = errors.New("no pending question")

	// ErrInvalidDecision is returned by Advance when the DecideFunc produced
	// something other than a non-empty Question or Guess.
	ErrInvalidDecision = errors.New("invalid decision")
)

// FieldError describes one violated input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input fails shape validation. It lists
// every violated field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

// Add records a violation for field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Err returns e if any field was recorded, else nil.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}
