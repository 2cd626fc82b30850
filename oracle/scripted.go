package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/twentyq/game"
)

// Scripted replays a fixed list of decisions in order, one per call, and
// records every request it receives. Once the script is exhausted it reports
// ErrUnavailable.
type Scripted struct {
	mu    sync.Mutex
	steps []game.Step
	reqs  []Request
}

// NewScripted returns a port that replays steps.
func NewScripted(steps ...game.Step) *Scripted {
	return &Scripted{steps: steps}
}

// NextStep implements Port.
func (s *Scripted) NextStep(ctx context.Context, req Request) (game.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reqs = append(s.reqs, req)
	if len(s.reqs) > len(s.steps) {
		return nil, fmt.Errorf("%w: script exhausted after %d steps", ErrUnavailable, len(s.steps))
	}
	return s.steps[len(s.reqs)-1], nil
}

// Calls returns how many times NextStep was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

// Requests returns a copy of the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.reqs))
	copy(out, s.reqs)
	return out
}

// Demo returns a self-contained port that walks a small question bank and
// then guesses. It lets the server run without an external Oracle.
func Demo() Port {
	bank := []string{
		"Is it alive?",
		"Is it an animal?",
		"Does it live in water?",
		"Is it bigger than a person?",
		"Is it a common household object?",
	}
	return PortFunc(func(ctx context.Context, req Request) (game.Step, error) {
		n := len(req.History)
		if n >= len(bank) || req.Remaining <= 1 {
			return game.Guess{Text: demoGuess(req.History)}, nil
		}
		return game.Question{Text: bank[n]}, nil
	})
}

func demoGuess(history []game.Turn) string {
	yes := func(i int) bool { return i < len(history) && history[i].Answer == game.AnswerYes }
	switch {
	case yes(0) && yes(1) && yes(2):
		return "a dolphin"
	case yes(0) && yes(1):
		return "a dog"
	case yes(0):
		return "a tree"
	case yes(4):
		return "a teapot"
	default:
		return "a mountain"
	}
}
