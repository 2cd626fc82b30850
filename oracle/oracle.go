// Package oracle defines the port through which a game obtains its next
// question or final guess, together with the concrete collaborators that
// implement it.
//
// Every implementation reports collaborator failures (timeouts, transport
// errors, malformed replies) as ErrUnavailable so callers can degrade with a
// single errors.Is check.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/twentyq/game"
)

// ErrUnavailable signals that the Oracle could not produce a decision.
var ErrUnavailable = errors.New("oracle unavailable")

// Request is everything an Oracle is told about a game.
type Request struct {
	// History is the ordered list of answered questions.
	History []game.Turn `json:"history"`

	// Remaining is how many more questions may be asked.
	Remaining int `json:"remaining"`

	// Missed lists concepts previous games failed to guess, most recent
	// first. It is advisory.
	Missed []string `json:"missed,omitempty"`
}

// Decision is the wire shape of an Oracle reply: exactly one of Question or
// Guess is set.
type Decision struct {
	Question string `json:"question,omitempty"`
	Guess    string `json:"guess,omitempty"`
}

// Step converts d into a game.Step, rejecting replies that set neither or
// both fields.
func (d Decision) Step() (game.Step, error) {
	q, g := strings.TrimSpace(d.Question), strings.TrimSpace(d.Guess)
	switch {
	case q != "" && g != "":
		return nil, fmt.Errorf("%w: decision carries both a question and a guess", ErrUnavailable)
	case q != "":
		return game.Question{Text: q}, nil
	case g != "":
		return game.Guess{Text: g}, nil
	default:
		return nil, fmt.Errorf("%w: empty decision", ErrUnavailable)
	}
}

// Port is the interface the gateway consumes.
type Port interface {
	NextStep(ctx context.Context, req Request) (game.Step, error)
}

// PortFunc adapts a function to Port.
type PortFunc func(ctx context.Context, req Request) (game.Step, error)

// NextStep implements Port.
func (f PortFunc) NextStep(ctx context.Context, req Request) (game.Step, error) {
	return f(ctx, req)
}

var fallbackQuestions = []string{
	"Is it a living thing?",
	"Is it bigger than a breadbox?",
	"Can you hold it in one hand?",
	"Is it found indoors?",
	"Is it made by people?",
	"Would most people have one at home?",
	"Is it used every day?",
	"Does it make a sound?",
}

// Fallback returns a generic question to ask when the Oracle is unavailable.
// The choice depends only on how many questions were already answered so a
// retry on the same turn asks the same thing.
func Fallback(answered int) game.Question {
	return game.Question{Text: fallbackQuestions[max(answered, 0)%len(fallbackQuestions)]}
}
